package source

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/vose-cli/internal/classify"
	"github.com/sells-group/vose-cli/internal/model"
	"github.com/sells-group/vose-cli/internal/registry"
	"github.com/sells-group/vose-cli/internal/resilience"
	"github.com/sells-group/vose-cli/internal/scrape"
)

const listingHTML = `<html><head><title>Cartelera</title><script>var t = "12:00";</script></head>
<body>
<nav><a href="/">Inicio</a> 10:00</nav>
<div class="film-entry">
  <h3>Oppenheimer</h3>
  <span class="lang">VOSE</span>
  <span class="times">18:00 20:30 20:30</span>
</div>
<div class="film-entry">
  <h3>Perfect Days</h3>
  <span>V.O.S.E.</span> <span>22h15</span>
</div>
<div class="film-entry">
  <h3>Coming soon</h3>
  <span>Próximamente</span>
</div>
</body></html>`

type fakeFetcher struct {
	calls int
	fn    func(call int) (*scrape.Page, error)
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) (*scrape.Page, error) {
	f.calls++
	return f.fn(f.calls)
}

func page(body string) *scrape.Page {
	return &scrape.Page{URL: "https://cineciutat.org/es/cartelera", StatusCode: 200, Body: []byte(body)}
}

func fixedClock() time.Time {
	return time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
}

func noSleepRetry(attempts int) resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts:    attempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
		ShouldRetry:    resilience.IsTransient,
		Sleep:          func(context.Context, time.Duration) error { return nil },
	}
}

func cineCiutat(t *testing.T) *registry.Profile {
	t.Helper()
	p, ok := registry.Default().Get(model.SourceCineCiutat)
	require.True(t, ok)
	return p
}

func TestHTMLAdapter_ParsesProfileBlocks(t *testing.T) {
	f := &fakeFetcher{fn: func(int) (*scrape.Page, error) { return page(listingHTML), nil }}
	a := NewHTMLAdapter(cineCiutat(t), f, nil, WithClock(fixedClock), WithRetry(noSleepRetry(1)))

	res := a.FetchShowtimes(context.Background())
	require.True(t, res.Success, "errors: %v", res.Errors)
	require.Len(t, res.Showtimes, 3)

	madrid, err := time.LoadLocation("Europe/Madrid")
	require.NoError(t, err)

	first := res.Showtimes[0]
	assert.Equal(t, "Oppenheimer", first.MovieTitle)
	assert.Equal(t, "CineCiutat Palma", first.CinemaName)
	assert.Equal(t, model.SourceCineCiutat, first.SourceID)
	assert.True(t, first.StartTime.Equal(time.Date(2026, 5, 1, 18, 0, 0, 0, madrid)))
	assert.True(t, first.IsVOSE)
	assert.Equal(t, first.Confidence, first.ClassifierConfidence)
	assert.Equal(t, model.StatusPending, first.VerificationStatus)
	assert.Equal(t, fixedClock(), first.ScrapedAt)

	assert.Equal(t, "Perfect Days", res.Showtimes[2].MovieTitle)
	assert.Equal(t, 22, res.Showtimes[2].StartTime.In(madrid).Hour())
	assert.Equal(t, 15, res.Showtimes[2].StartTime.In(madrid).Minute())
}

func TestHTMLAdapter_EmptyListingIsSuccess(t *testing.T) {
	f := &fakeFetcher{fn: func(int) (*scrape.Page, error) {
		return page("<html><body><p>No hay sesiones hoy</p></body></html>"), nil
	}}
	a := NewHTMLAdapter(cineCiutat(t), f, nil, WithClock(fixedClock), WithRetry(noSleepRetry(1)))

	res := a.FetchShowtimes(context.Background())
	assert.True(t, res.Success)
	assert.Empty(t, res.Showtimes)
	assert.Empty(t, res.Errors)
}

func TestHTMLAdapter_RetriesTransient(t *testing.T) {
	f := &fakeFetcher{fn: func(call int) (*scrape.Page, error) {
		if call == 1 {
			return nil, resilience.NewTransientError(errors.New("status 503"), 503)
		}
		return page(listingHTML), nil
	}}
	a := NewHTMLAdapter(cineCiutat(t), f, nil, WithClock(fixedClock), WithRetry(noSleepRetry(3)))

	res := a.FetchShowtimes(context.Background())
	assert.True(t, res.Success)
	assert.Equal(t, 2, f.calls)
}

func TestHTMLAdapter_PermanentNotRetried(t *testing.T) {
	f := &fakeFetcher{fn: func(int) (*scrape.Page, error) {
		return nil, resilience.NewPermanentError(errors.New("status 404"), 404, resilience.ReasonNotFound)
	}}
	a := NewHTMLAdapter(cineCiutat(t), f, nil, WithRetry(noSleepRetry(3)))

	res := a.FetchShowtimes(context.Background())
	assert.False(t, res.Success)
	assert.Equal(t, 1, f.calls)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "404")
	assert.False(t, resilience.IsRecoverable(res.Cause))
}

func TestHTMLAdapter_RecoversPanic(t *testing.T) {
	f := &fakeFetcher{fn: func(int) (*scrape.Page, error) { panic("selector exploded") }}
	a := NewHTMLAdapter(cineCiutat(t), f, nil, WithRetry(noSleepRetry(1)))

	res := a.FetchShowtimes(context.Background())
	assert.False(t, res.Success)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "selector exploded")
}

func TestHTMLAdapter_NoURL(t *testing.T) {
	p := &registry.Profile{ID: "nowhere", Name: "Nowhere"}
	a := NewHTMLAdapter(p, &fakeFetcher{}, nil)

	res := a.FetchShowtimes(context.Background())
	assert.False(t, res.Success)
	assert.False(t, resilience.IsRecoverable(res.Cause))
}

func TestHTMLAdapter_AgainstHTTPServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<ul><li><a>Anora</a> subtitulada 19:45</li><li>Contacto</li></ul>`))
	}))
	defer srv.Close()

	reg, err := registry.New([]registry.Profile{{
		ID:         "test",
		Name:       "Test",
		CinemaName: "Test Cinema",
		URL:        srv.URL,
		Tier:       registry.TierFrequent,
	}})
	require.NoError(t, err)

	adapters := FromRegistry(reg, classify.New(nil, reg), ClientSettings{Timeout: time.Second})
	require.Len(t, adapters, 1)

	res := adapters[0].FetchShowtimes(context.Background())
	require.True(t, res.Success, "errors: %v", res.Errors)
	require.Len(t, res.Showtimes, 1)
	assert.Equal(t, "Anora", res.Showtimes[0].MovieTitle)
	assert.Equal(t, "Test Cinema", res.Showtimes[0].CinemaName)
}

func TestFunc(t *testing.T) {
	f := Func{Source: "x", Fn: func(context.Context) *FetchResult { return &FetchResult{Success: true} }}
	assert.Equal(t, model.SourceID("x"), f.ID())
	assert.True(t, f.FetchShowtimes(context.Background()).Success)

	empty := Func{Source: "y"}
	assert.False(t, empty.FetchShowtimes(context.Background()).Success)
}
