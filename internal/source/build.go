package source

import (
	"time"

	"github.com/sells-group/vose-cli/internal/classify"
	"github.com/sells-group/vose-cli/internal/registry"
	"github.com/sells-group/vose-cli/internal/resilience"
	"github.com/sells-group/vose-cli/internal/scrape"
)

// ClientSettings are the HTTP settings shared by every source client.
type ClientSettings struct {
	Timeout      time.Duration
	UserAgent    string
	MaxBodyBytes int64
	// MinDelay overrides the profile delay when larger.
	MinDelay time.Duration
	Retry    resilience.RetryConfig
}

// FromRegistry builds one HTMLAdapter per enabled profile, each with its
// own rate-limited client.
func FromRegistry(reg *registry.Registry, det *classify.Detector, cs ClientSettings) []Adapter {
	var adapters []Adapter
	for _, id := range reg.IDs() {
		p, _ := reg.Get(id)
		delay := p.MinDelay()
		if cs.MinDelay > delay {
			delay = cs.MinDelay
		}
		client := scrape.NewClient(scrape.Options{
			Timeout:      cs.Timeout,
			UserAgent:    cs.UserAgent,
			MaxBodyBytes: cs.MaxBodyBytes,
			MinDelay:     delay,
		})

		var opts []Option
		if cs.Retry.MaxAttempts > 0 {
			retry := cs.Retry
			if retry.ShouldRetry == nil {
				retry.ShouldRetry = resilience.IsTransient
			}
			opts = append(opts, WithRetry(retry))
		}
		adapters = append(adapters, NewHTMLAdapter(p, client, det, opts...))
	}
	return adapters
}
