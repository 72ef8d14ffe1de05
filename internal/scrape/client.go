// Package scrape fetches cinema listing pages over HTTP with per-source rate
// limiting and turns transport failures into typed resilience errors.
package scrape

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/vose-cli/internal/resilience"
)

const (
	defaultTimeout      = 15 * time.Second
	defaultMaxBodyBytes = 2 << 20
	defaultUserAgent    = "Mozilla/5.0 (compatible; vose-cli/1.0)"
)

// Page is a fetched listing page.
type Page struct {
	URL        string
	StatusCode int
	Body       []byte
	FetchedAt  time.Time
	Duration   time.Duration
}

// Fetcher retrieves one page.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*Page, error)
}

// Options configures a Client.
type Options struct {
	Timeout      time.Duration
	UserAgent    string
	MaxBodyBytes int64
	// MinDelay is the minimum gap between consecutive requests made by this
	// client. Zero disables rate limiting.
	MinDelay  time.Duration
	Transport http.RoundTripper
}

// Client fetches pages for a single source. Requests are spaced by
// MinDelay so each source sees at most one request per interval.
type Client struct {
	http    *http.Client
	opts    Options
	limiter *rate.Limiter
}

// NewClient creates a Client with sensible defaults.
func NewClient(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBodyBytes
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	transport := opts.Transport
	if transport == nil {
		transport = &http.Transport{
			DialContext: (&net.Dialer{
				Timeout: 10 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout: 10 * time.Second,
		}
	}

	c := &Client{
		http: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
		},
		opts: opts,
	}
	if opts.MinDelay > 0 {
		c.limiter = rate.NewLimiter(rate.Every(opts.MinDelay), 1)
	}
	return c
}

// Fetch GETs url. Failures are returned as *resilience.TransientError or
// *resilience.PermanentError so callers can decide whether to retry.
func (c *Client) Fetch(ctx context.Context, url string) (*Page, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "scrape: rate limit wait")
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, resilience.NewPermanentError(eris.Wrap(err, "scrape: create request"), 0, resilience.ReasonMalformed)
	}
	req.Header.Set("User-Agent", c.opts.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	req.Header.Set("Accept-Language", "es-ES,es;q=0.9,en;q=0.6")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classifyTransportError(ctx, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.opts.MaxBodyBytes))
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "scrape: read body"), resp.StatusCode)
	}
	elapsed := time.Since(start)

	if blocked, blockType := DetectBlock(resp, body); blocked {
		reason := resilience.ReasonBlocked
		if blockType == BlockRegion {
			reason = resilience.ReasonNotApplicable
		}
		zap.L().Warn("scrape: page blocked",
			zap.String("url", url),
			zap.String("block_type", string(blockType)),
			zap.Int("status", resp.StatusCode),
		)
		return nil, resilience.NewPermanentError(eris.Errorf("scrape: blocked (%s)", blockType), resp.StatusCode, reason)
	}

	if err := statusError(resp.StatusCode); err != nil {
		return nil, err
	}

	if len(body) == 0 {
		return nil, resilience.NewPermanentError(eris.New("scrape: malformed response: empty body"), resp.StatusCode, resilience.ReasonMalformed)
	}

	return &Page{
		URL:        url,
		StatusCode: resp.StatusCode,
		Body:       body,
		FetchedAt:  start.UTC(),
		Duration:   elapsed,
	}, nil
}

func statusError(code int) error {
	if code < 400 {
		return nil
	}
	if resilience.IsTransientHTTPStatus(code) {
		return resilience.NewTransientError(eris.Errorf("scrape: status %d", code), code)
	}
	reason := resilience.PermanentReasonForStatus(code)
	if reason == "" {
		reason = resilience.ReasonMalformed
	}
	return resilience.NewPermanentError(eris.Errorf("scrape: status %d", code), code, reason)
}

func classifyTransportError(ctx context.Context, err error) error {
	if ctx.Err() != nil && errors.Is(err, context.Canceled) {
		return eris.Wrap(ctx.Err(), "scrape: fetch cancelled")
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && !dnsErr.IsTimeout && !dnsErr.IsTemporary {
		return resilience.NewPermanentError(eris.Wrap(err, "scrape: dns lookup"), 0, resilience.ReasonDNS)
	}
	return resilience.NewTransientError(eris.Wrap(err, "scrape: fetch"), 0)
}
