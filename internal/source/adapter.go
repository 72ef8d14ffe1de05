// Package source turns a cinema's listing page into classified showtime
// candidates. Adapters never return Go errors; failures are reported in
// FetchResult so the orchestrator can decide what to do with them.
package source

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/vose-cli/internal/classify"
	"github.com/sells-group/vose-cli/internal/model"
	"github.com/sells-group/vose-cli/internal/registry"
	"github.com/sells-group/vose-cli/internal/resilience"
	"github.com/sells-group/vose-cli/internal/scrape"
)

// FetchResult is the outcome of one adapter call. Success with zero
// showtimes means the page was read but listed nothing.
type FetchResult struct {
	Success   bool
	Showtimes []model.Showtime
	Errors    []string
	// Cause is the error behind a failure, kept for recoverability checks.
	Cause error
}

// Adapter fetches showtimes for one source.
type Adapter interface {
	ID() model.SourceID
	FetchShowtimes(ctx context.Context) *FetchResult
}

// HTMLAdapter scrapes a listing page described by a registry profile.
type HTMLAdapter struct {
	profile  *registry.Profile
	fetcher  scrape.Fetcher
	detector *classify.Detector
	retry    resilience.RetryConfig
	now      func() time.Time
}

// Option configures an HTMLAdapter.
type Option func(*HTMLAdapter)

// WithRetry sets the adapter's internal retry policy.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(a *HTMLAdapter) { a.retry = cfg }
}

// WithClock replaces time.Now, which anchors extracted times to a date.
func WithClock(now func() time.Time) Option {
	return func(a *HTMLAdapter) { a.now = now }
}

// NewHTMLAdapter creates an adapter for p.
func NewHTMLAdapter(p *registry.Profile, f scrape.Fetcher, d *classify.Detector, opts ...Option) *HTMLAdapter {
	a := &HTMLAdapter{
		profile:  p,
		fetcher:  f,
		detector: d,
		retry: resilience.RetryConfig{
			MaxAttempts:    2,
			InitialBackoff: 500 * time.Millisecond,
			MaxBackoff:     4 * time.Second,
			Multiplier:     2,
			ShouldRetry:    resilience.IsTransient,
		},
		now: time.Now,
	}
	for _, o := range opts {
		o(a)
	}
	if a.detector == nil {
		a.detector = classify.New(nil, nil)
	}
	if a.retry.OnRetry == nil {
		a.retry.OnRetry = resilience.RetryLogger(string(p.ID), "fetch")
	}
	return a
}

// ID implements Adapter.
func (a *HTMLAdapter) ID() model.SourceID { return a.profile.ID }

// FetchShowtimes implements Adapter.
func (a *HTMLAdapter) FetchShowtimes(ctx context.Context) (res *FetchResult) {
	defer func() {
		if r := recover(); r != nil {
			zap.L().Error("source: adapter panic",
				zap.String("source", string(a.profile.ID)),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
			err := eris.Errorf("source: adapter panic: %v", r)
			res = &FetchResult{Errors: []string{err.Error()}, Cause: err}
		}
	}()

	if a.profile.URL == "" {
		err := resilience.NewPermanentError(eris.Errorf("source: %s has no listing url", a.profile.ID), 0, resilience.ReasonNotApplicable)
		return failure(err)
	}

	page, err := resilience.DoVal(ctx, a.retry, func(ctx context.Context) (*scrape.Page, error) {
		return a.fetcher.Fetch(ctx, a.profile.URL)
	})
	if err != nil {
		return failure(err)
	}

	showtimes, err := a.Parse(page.Body)
	if err != nil {
		return failure(resilience.NewPermanentError(err, page.StatusCode, resilience.ReasonMalformed))
	}

	zap.L().Debug("source: fetched showtimes",
		zap.String("source", string(a.profile.ID)),
		zap.Int("count", len(showtimes)),
		zap.Duration("duration", page.Duration),
	)
	return &FetchResult{Success: true, Showtimes: showtimes}
}

// Parse extracts and classifies showtimes from a listing page body.
func (a *HTMLAdapter) Parse(body []byte) ([]model.Showtime, error) {
	ex, err := Extract(body, a.profile.Selectors, a.profile.TitleSelector)
	if err != nil {
		return nil, err
	}

	loc := a.profile.TimeLocation()
	now := a.now()
	day := now.In(loc)
	cinema := a.profile.CinemaName
	if cinema == "" {
		cinema = a.profile.Name
	}

	var out []model.Showtime
	for _, b := range ex.Blocks {
		for _, ct := range b.Times {
			st := model.Showtime{
				MovieTitle:         b.Title,
				CinemaName:         cinema,
				StartTime:          time.Date(day.Year(), day.Month(), day.Day(), ct.Hour, ct.Minute, 0, 0, loc),
				SourceID:           a.profile.ID,
				RawText:            b.Text,
				VerificationStatus: model.StatusPending,
				ScrapedAt:          now.UTC(),
			}
			a.detector.Apply(&st, a.profile.URL)
			out = append(out, st)
		}
	}
	if ex.Strategy != "" {
		zap.L().Debug("source: extraction strategy",
			zap.String("source", string(a.profile.ID)),
			zap.String("strategy", ex.Strategy),
			zap.String("selector", ex.Selector),
			zap.Int("blocks", len(ex.Blocks)),
		)
	}
	return out, nil
}

func failure(err error) *FetchResult {
	return &FetchResult{Errors: []string{err.Error()}, Cause: err}
}

// Func adapts a plain function to the Adapter interface.
type Func struct {
	Source model.SourceID
	Fn     func(ctx context.Context) *FetchResult
}

// ID implements Adapter.
func (f Func) ID() model.SourceID { return f.Source }

// FetchShowtimes implements Adapter.
func (f Func) FetchShowtimes(ctx context.Context) *FetchResult {
	if f.Fn == nil {
		return failure(eris.Errorf("source: %s has no fetch function", f.Source))
	}
	return f.Fn(ctx)
}
