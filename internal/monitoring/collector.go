package monitoring

import (
	"context"
	"slices"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/vose-cli/internal/model"
	"github.com/sells-group/vose-cli/internal/orchestrator"
	"github.com/sells-group/vose-cli/internal/store"
)

// recentErrorLimit bounds Snapshot.RecentErrors.
const recentErrorLimit = 10

// Snapshot holds a point-in-time view of scraper health, built from the
// state the orchestrator persists.
type Snapshot struct {
	Breakers map[string]model.BreakerState `json:"breakers"`
	Health   map[string]model.SourceHealth `json:"health"`

	// OpenBreakers lists sources whose breaker is not closed.
	OpenBreakers     []string `json:"open_breakers"`
	UnhealthySources []string `json:"unhealthy_sources"`

	RecentErrors []model.ScrapingError `json:"recent_errors"`

	// Run metrics over the last LookbackRuns runs.
	Runs              int                       `json:"runs"`
	FailedRuns        int                       `json:"failed_runs"`
	RunFailRate       float64                   `json:"run_fail_rate"`
	AverageConfidence float64                   `json:"average_confidence"`
	AverageDurationMs int64                     `json:"average_duration_ms"`
	TotalRecords      int                       `json:"total_records"`
	LastRun           *model.PerformanceMetrics `json:"last_run,omitempty"`

	LookbackRuns int       `json:"lookback_runs"`
	CollectedAt  time.Time `json:"collected_at"`
}

// Collector reads persisted orchestrator state.
type Collector struct {
	kv  store.KV
	now func() time.Time
}

// NewCollector creates a new metrics collector.
func NewCollector(kv store.KV) *Collector {
	return &Collector{kv: kv, now: time.Now}
}

// Collect gathers a snapshot over the most recent lookbackRuns runs. A
// non-positive lookback uses the whole history.
func (c *Collector) Collect(ctx context.Context, lookbackRuns int) (*Snapshot, error) {
	st, err := orchestrator.LoadState(ctx, c.kv)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: load state")
	}

	snap := &Snapshot{
		Breakers:     st.Breakers,
		Health:       st.Health,
		LookbackRuns: lookbackRuns,
		CollectedAt:  c.now().UTC(),
	}

	for name, b := range st.Breakers {
		if b.State != model.CircuitClosed {
			snap.OpenBreakers = append(snap.OpenBreakers, name)
		}
	}
	slices.Sort(snap.OpenBreakers)
	for name, h := range st.Health {
		if !h.IsHealthy {
			snap.UnhealthySources = append(snap.UnhealthySources, name)
		}
	}
	slices.Sort(snap.UnhealthySources)

	errs := st.Errors
	if len(errs) > recentErrorLimit {
		errs = errs[len(errs)-recentErrorLimit:]
	}
	snap.RecentErrors = errs

	history := st.History
	if lookbackRuns > 0 && len(history) > lookbackRuns {
		history = history[len(history)-lookbackRuns:]
	}
	snap.Runs = len(history)

	var confSum float64
	var scored int
	var durSum int64
	for _, run := range history {
		if run.SuccessfulSources == 0 || run.ValidRecords == 0 {
			snap.FailedRuns++
		}
		if run.TotalRecords > 0 {
			confSum += run.AverageConfidence
			scored++
		}
		durSum += run.TotalDurationMs
		snap.TotalRecords += run.TotalRecords
	}
	if snap.Runs > 0 {
		snap.RunFailRate = float64(snap.FailedRuns) / float64(snap.Runs)
		snap.AverageDurationMs = durSum / int64(snap.Runs)
		last := history[len(history)-1]
		snap.LastRun = &last
	}
	if scored > 0 {
		snap.AverageConfidence = confSum / float64(scored)
	}

	return snap, nil
}
