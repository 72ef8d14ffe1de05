package scrape

import (
	"context"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
)

// Prober checks that the network is usable before a run starts.
type Prober interface {
	Probe(ctx context.Context) error
}

// HTTPProber issues a HEAD request to a well-known URL. Any response
// below 500 counts as connectivity.
type HTTPProber struct {
	URL    string
	Client *http.Client
}

// NewHTTPProber creates a prober with the given timeout.
func NewHTTPProber(url string, timeout time.Duration) *HTTPProber {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPProber{URL: url, Client: &http.Client{Timeout: timeout}}
}

// Probe implements Prober.
func (p *HTTPProber) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.URL, nil)
	if err != nil {
		return eris.Wrap(err, "scrape: create probe request")
	}
	resp, err := p.Client.Do(req)
	if err != nil {
		return eris.Wrap(err, "scrape: connectivity probe")
	}
	_ = resp.Body.Close()
	if resp.StatusCode >= 500 {
		return eris.Errorf("scrape: connectivity probe status %d", resp.StatusCode)
	}
	return nil
}
