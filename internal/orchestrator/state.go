package orchestrator

import (
	"context"
	"slices"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/vose-cli/internal/model"
	"github.com/sells-group/vose-cli/internal/store"
)

// Store keys.
const (
	KeyCircuitBreakers    = "scraper:circuit_breakers"
	KeyHealth             = "scraper:health"
	KeyErrorLog           = "scraper:error_log"
	KeyPerformanceHistory = "scraper:performance_history"
)

// Default caps for the persisted logs.
const (
	DefaultErrorLogSize = 500
	DefaultHistorySize  = 100
)

// State is everything the orchestrator persists.
type State struct {
	Breakers map[string]model.BreakerState `json:"circuit_breakers"`
	Health   map[string]model.SourceHealth `json:"health"`
	Errors   []model.ScrapingError         `json:"error_log"`
	History  []model.PerformanceMetrics    `json:"performance_history"`
}

// LoadState reads persisted state. Missing keys yield empty values, so a
// cold start sees every breaker closed.
func LoadState(ctx context.Context, kv store.KV) (*State, error) {
	st := &State{
		Breakers: make(map[string]model.BreakerState),
		Health:   make(map[string]model.SourceHealth),
	}
	for _, item := range []struct {
		key string
		dst any
	}{
		{KeyCircuitBreakers, &st.Breakers},
		{KeyHealth, &st.Health},
		{KeyErrorLog, &st.Errors},
		{KeyPerformanceHistory, &st.History},
	} {
		if _, err := store.GetJSON(ctx, kv, item.key, item.dst); err != nil {
			return nil, eris.Wrap(err, "orchestrator: load state")
		}
	}
	if st.Breakers == nil {
		st.Breakers = make(map[string]model.BreakerState)
	}
	if st.Health == nil {
		st.Health = make(map[string]model.SourceHealth)
	}
	return st, nil
}

func saveState(ctx context.Context, kv store.KV, st *State) error {
	for _, item := range []struct {
		key string
		val any
	}{
		{KeyCircuitBreakers, st.Breakers},
		{KeyHealth, st.Health},
		{KeyErrorLog, st.Errors},
		{KeyPerformanceHistory, st.History},
	} {
		if err := store.SetJSON(ctx, kv, item.key, item.val); err != nil {
			return eris.Wrap(err, "orchestrator: save state")
		}
	}
	return nil
}

// ResetBreakers closes the persisted breakers of the named sources, or of
// every source when none are named. It returns the sources it reset.
func ResetBreakers(ctx context.Context, kv store.KV, sources []model.SourceID) ([]model.SourceID, error) {
	breakers := make(map[string]model.BreakerState)
	if _, err := store.GetJSON(ctx, kv, KeyCircuitBreakers, &breakers); err != nil {
		return nil, eris.Wrap(err, "orchestrator: load breakers")
	}
	if breakers == nil {
		breakers = make(map[string]model.BreakerState)
	}

	targets := sources
	if len(targets) == 0 {
		for name := range breakers {
			targets = append(targets, model.SourceID(name))
		}
		slices.Sort(targets)
	}
	for _, id := range targets {
		breakers[string(id)] = model.BreakerState{State: model.CircuitClosed}
	}
	if err := store.SetJSON(ctx, kv, KeyCircuitBreakers, breakers); err != nil {
		return nil, eris.Wrap(err, "orchestrator: save breakers")
	}
	zap.L().Info("orchestrator: breakers reset", zap.Int("count", len(targets)))
	return targets, nil
}

func capTail[T any](items []T, limit int) []T {
	if limit <= 0 || len(items) <= limit {
		return items
	}
	return append([]T(nil), items[len(items)-limit:]...)
}
