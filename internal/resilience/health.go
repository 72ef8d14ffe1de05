package resilience

import (
	"sync"
	"time"

	"github.com/sells-group/vose-cli/internal/model"
)

const (
	// healthRetain is the weight kept from the previous success rate.
	healthRetain = 0.8
	// healthHealthyFloor is the minimum success rate for a healthy source.
	healthHealthyFloor = 0.5
)

// Attempt is the outcome of one logical source attempt.
type Attempt struct {
	Success      bool
	ResponseTime time.Duration
	Issue        string
	At           time.Time
}

// HealthTracker keeps a rolling health view per source.
type HealthTracker struct {
	mu      sync.Mutex
	sources map[string]*model.SourceHealth
}

// NewHealthTracker creates an empty tracker. Unknown sources start healthy
// with a success rate of 1.0.
func NewHealthTracker() *HealthTracker {
	return &HealthTracker{sources: make(map[string]*model.SourceHealth)}
}

// Record folds an attempt into the source's moving average.
func (h *HealthTracker) Record(source string, a Attempt) model.SourceHealth {
	h.mu.Lock()
	defer h.mu.Unlock()

	st := h.getLocked(source)
	outcome := 0.0
	if a.Success {
		outcome = 1.0
	}
	st.SuccessRate = healthRetain*st.SuccessRate + (1-healthRetain)*outcome
	st.ResponseTimeMs = a.ResponseTime.Milliseconds()
	st.LastCheckedAt = a.At
	if a.At.IsZero() {
		st.LastCheckedAt = time.Now().UTC()
	}
	st.IsHealthy = a.Success && st.SuccessRate >= healthHealthyFloor
	if a.Issue != "" {
		st.AddIssue(a.Issue)
	}
	return cloneHealth(st)
}

// Get returns a copy of the health for source.
func (h *HealthTracker) Get(source string) (model.SourceHealth, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	st, ok := h.sources[source]
	if !ok {
		return model.SourceHealth{}, false
	}
	return cloneHealth(st), true
}

// Snapshot returns copies of all known health records.
func (h *HealthTracker) Snapshot() map[string]model.SourceHealth {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[string]model.SourceHealth, len(h.sources))
	for name, st := range h.sources {
		out[name] = cloneHealth(st)
	}
	return out
}

// Restore replaces tracked health with a persisted snapshot.
func (h *HealthTracker) Restore(states map[string]model.SourceHealth) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for name, st := range states {
		c := cloneHealth(&st)
		h.sources[name] = &c
	}
}

func (h *HealthTracker) getLocked(source string) *model.SourceHealth {
	st, ok := h.sources[source]
	if !ok {
		st = &model.SourceHealth{IsHealthy: true, SuccessRate: 1.0}
		h.sources[source] = st
	}
	return st
}

func cloneHealth(st *model.SourceHealth) model.SourceHealth {
	c := *st
	c.Issues = append([]string(nil), st.Issues...)
	return c
}
