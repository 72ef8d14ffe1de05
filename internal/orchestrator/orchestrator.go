// Package orchestrator runs every source adapter under a per-source circuit
// breaker and retry budget, validates the combined batch once, and
// persists breaker, health and run history after each run.
package orchestrator

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/vose-cli/internal/config"
	"github.com/sells-group/vose-cli/internal/model"
	"github.com/sells-group/vose-cli/internal/resilience"
	"github.com/sells-group/vose-cli/internal/scrape"
	"github.com/sells-group/vose-cli/internal/source"
	"github.com/sells-group/vose-cli/internal/store"
	"github.com/sells-group/vose-cli/internal/validate"
)

// Messages used in ScrapingError records.
const (
	MsgCircuitOpen   = "circuit open"
	MsgRunCancelled  = "run cancelled"
	MsgUnknownSource = "unknown source"
	MsgConnectivity  = "connectivity"
)

// Options tunes an Orchestrator.
type Options struct {
	// MaxAttempts is the number of adapter calls per source per run.
	MaxAttempts int
	// Retry supplies the backoff between attempts; its MaxAttempts is ignored.
	Retry         resilience.RetryConfig
	Breaker       resilience.CircuitBreakerConfig
	MaxConcurrent int
	ErrorLogSize  int
	HistorySize   int

	Prober scrape.Prober
	Now    func() time.Time
	Sleep  func(ctx context.Context, d time.Duration) error
	NewID  func() string
}

// OptionsFromConfig converts the orchestrator config section.
func OptionsFromConfig(c config.OrchestratorConfig) Options {
	return Options{
		MaxAttempts:   c.MaxAttempts,
		Retry:         resilience.FromRetryConfig(c.MaxAttempts, c.BaseDelayMs, c.MaxDelayMs, c.Multiplier, 0),
		Breaker:       resilience.FromCircuitConfig(c.FailureThreshold, c.CooldownSecs),
		MaxConcurrent: c.MaxConcurrent,
		ErrorLogSize:  c.ErrorLogSize,
		HistorySize:   c.HistorySize,
	}
}

// Orchestrator owns breaker and health state for a set of adapters. Runs
// are serialized.
type Orchestrator struct {
	adapters map[model.SourceID]source.Adapter
	order    []model.SourceID
	engine   *validate.Engine
	kv       store.KV
	opts     Options

	breakers *resilience.ServiceBreakers
	health   *resilience.HealthTracker

	runMu sync.Mutex
}

// New creates an Orchestrator. Adapters run in the order given.
func New(adapters []source.Adapter, engine *validate.Engine, kv store.KV, opts Options) *Orchestrator {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 1
	}
	if opts.ErrorLogSize <= 0 {
		opts.ErrorLogSize = DefaultErrorLogSize
	}
	if opts.HistorySize <= 0 {
		opts.HistorySize = DefaultHistorySize
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Sleep == nil {
		opts.Sleep = resilience.SleepContext
	}
	if opts.NewID == nil {
		opts.NewID = func() string { return uuid.New().String() }
	}
	if engine == nil {
		engine = validate.New(validate.DefaultSettings())
	}
	if kv == nil {
		kv = store.NewMemory()
	}

	breakerCfg := opts.Breaker
	if breakerCfg.ShouldTrip == nil {
		breakerCfg.ShouldTrip = func(err error) bool { return !errors.Is(err, context.Canceled) }
	}
	breakers := resilience.NewServiceBreakers(breakerCfg)
	breakers.SetClock(opts.Now)
	breakers.OnStateChange(func(service string, from, to resilience.CircuitState) {
		zap.L().Warn("orchestrator: circuit state change",
			zap.String("source", service),
			zap.String("from", from.String()),
			zap.String("state", to.String()),
		)
	})

	o := &Orchestrator{
		adapters: make(map[model.SourceID]source.Adapter, len(adapters)),
		engine:   engine,
		kv:       kv,
		opts:     opts,
		breakers: breakers,
		health:   resilience.NewHealthTracker(),
	}
	for _, a := range adapters {
		if _, dup := o.adapters[a.ID()]; !dup {
			o.order = append(o.order, a.ID())
		}
		o.adapters[a.ID()] = a
	}
	return o
}

// Sources returns the registered source IDs in run order.
func (o *Orchestrator) Sources() []model.SourceID {
	return append([]model.SourceID(nil), o.order...)
}

// sourceRun is the per-source result collected during a run.
type sourceRun struct {
	outcome   model.SourceOutcome
	showtimes []model.Showtime
	errors    []model.ScrapingError
}

// Run fetches the named sources (all registered sources when empty),
// validates the combined batch and persists state. It always returns a
// result; failures are reported inside it.
func (o *Orchestrator) Run(ctx context.Context, sources []model.SourceID) *model.ScrapingResult {
	o.runMu.Lock()
	defer o.runMu.Unlock()

	start := o.opts.Now()
	runID := o.opts.NewID()
	log := zap.L().With(zap.String("run_id", runID))
	log.Info("orchestrator: run started", zap.Int("sources", len(sources)))

	persisted := o.restore(ctx)
	result := &model.ScrapingResult{RunID: runID, Showtimes: []model.Showtime{}}

	if o.opts.Prober != nil {
		if err := o.opts.Prober.Probe(ctx); err != nil {
			log.Error("orchestrator: connectivity probe failed", zap.Error(err))
			result.Errors = append(result.Errors, o.newError(runID, "", MsgConnectivity+": "+err.Error(), 0, true, nil))
			result.Report = emptyReport(start)
			result.Metrics = model.PerformanceMetrics{RunID: runID, StartedAt: start.UTC()}
			o.persist(ctx, persisted, result)
			return result
		}
	}

	targets := sources
	if len(targets) == 0 {
		targets = o.order
	}

	runs := make([]sourceRun, len(targets))
	g := new(errgroup.Group)
	g.SetLimit(o.opts.MaxConcurrent)
	for i, id := range targets {
		if ctx.Err() != nil {
			runs[i] = o.cancelled(runID, id)
			continue
		}
		g.Go(func() error {
			runs[i] = o.runSource(ctx, runID, id)
			return nil
		})
	}
	_ = g.Wait()

	var batch []model.Showtime
	var responseSum int64
	var responded int
	for _, r := range runs {
		result.Sources = append(result.Sources, r.outcome)
		result.Errors = append(result.Errors, r.errors...)
		batch = append(batch, r.showtimes...)
		if r.outcome.Success {
			result.Metrics.SuccessfulSources++
		} else if !r.outcome.Skipped {
			result.Metrics.FailedSources++
		}
		if r.outcome.Attempts > 0 {
			responseSum += r.outcome.ResponseTimeMs
			responded++
		}
	}

	validated, report := o.engine.Validate(batch)
	if validated == nil {
		validated = []model.Showtime{}
	}
	result.Showtimes = validated
	result.Report = report

	var confSum float64
	for _, st := range validated {
		confSum += st.Confidence
	}
	result.Metrics.RunID = runID
	result.Metrics.StartedAt = start.UTC()
	result.Metrics.TotalDurationMs = o.opts.Now().Sub(start).Milliseconds()
	if responded > 0 {
		result.Metrics.AverageResponseTimeMs = responseSum / int64(responded)
	}
	result.Metrics.TotalRecords = len(validated)
	result.Metrics.ValidRecords = report.Valid
	if len(validated) > 0 {
		result.Metrics.AverageConfidence = confSum / float64(len(validated))
	}
	result.Success = result.Metrics.SuccessfulSources > 0 && report.Valid > 0

	o.persist(ctx, persisted, result)

	log.Info("orchestrator: run finished",
		zap.Bool("success", result.Success),
		zap.Int("records", result.Metrics.TotalRecords),
		zap.Int("valid", result.Metrics.ValidRecords),
		zap.Int("succeeded", result.Metrics.SuccessfulSources),
		zap.Int("failed", result.Metrics.FailedSources),
		zap.Int64("duration_ms", result.Metrics.TotalDurationMs),
	)
	return result
}

// runSource drives one source through its breaker and retry budget.
func (o *Orchestrator) runSource(ctx context.Context, runID string, id model.SourceID) sourceRun {
	log := zap.L().With(zap.String("run_id", runID), zap.String("source", string(id)))
	out := sourceRun{outcome: model.SourceOutcome{Source: id}}

	adapter, ok := o.adapters[id]
	if !ok {
		out.outcome.Skipped = true
		out.outcome.Error = MsgUnknownSource
		out.errors = append(out.errors, o.newError(runID, id, MsgUnknownSource, 0, false, nil))
		return out
	}
	if ctx.Err() != nil {
		return o.cancelled(runID, id)
	}

	cb := o.breakers.Get(string(id))
	maxAttempts := o.opts.MaxAttempts
	if cb.State() == resilience.CircuitHalfOpen {
		maxAttempts = 1
	}
	if err := cb.Allow(); err != nil {
		log.Info("orchestrator: skipping source, circuit open")
		out.outcome.Skipped = true
		out.outcome.BreakerState = cb.State().Model()
		out.outcome.Error = MsgCircuitOpen
		out.errors = append(out.errors, o.newError(runID, id, MsgCircuitOpen, 0, false, map[string]string{
			"next_attempt_at": nextAttempt(cb),
		}))
		return out
	}

	started := o.opts.Now()
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		out.outcome.Attempts = attempt
		res := o.fetch(ctx, adapter)

		if res.Success {
			cb.RecordSuccess()
			elapsed := o.opts.Now().Sub(started)
			o.health.Record(string(id), resilience.Attempt{Success: true, ResponseTime: elapsed, At: o.opts.Now().UTC()})
			out.showtimes = res.Showtimes
			out.outcome.Success = true
			out.outcome.Records = len(res.Showtimes)
			out.outcome.ResponseTimeMs = elapsed.Milliseconds()
			out.outcome.BreakerState = cb.State().Model()
			log.Info("orchestrator: source succeeded", zap.Int("attempt", attempt), zap.Int("records", len(res.Showtimes)))
			return out
		}

		lastErr = resultError(res)
		if ctx.Err() != nil {
			cb.RecordFailure(context.Canceled)
			out.outcome.ResponseTimeMs = o.opts.Now().Sub(started).Milliseconds()
			c := o.cancelled(runID, id)
			out.outcome.Skipped, out.outcome.Error = true, MsgRunCancelled
			out.errors = append(out.errors, c.errors...)
			return out
		}

		recoverable := isRecoverable(res, lastErr)
		out.errors = append(out.errors, o.newError(runID, id, lastErr.Error(), attempt, recoverable, errorContext(lastErr)))
		log.Warn("orchestrator: source attempt failed",
			zap.Int("attempt", attempt),
			zap.Bool("recoverable", recoverable),
			zap.Error(lastErr),
		)
		if !recoverable || attempt == maxAttempts {
			break
		}
		if err := o.opts.Sleep(ctx, o.opts.Retry.Delay(attempt)); err != nil {
			cb.RecordFailure(context.Canceled)
			out.outcome.Skipped, out.outcome.Error = true, MsgRunCancelled
			out.errors = append(out.errors, o.cancelled(runID, id).errors...)
			return out
		}
	}

	cb.RecordFailure(lastErr)
	elapsed := o.opts.Now().Sub(started)
	o.health.Record(string(id), resilience.Attempt{
		ResponseTime: elapsed,
		Issue:        lastErr.Error(),
		At:           o.opts.Now().UTC(),
	})
	out.outcome.ResponseTimeMs = elapsed.Milliseconds()
	out.outcome.BreakerState = cb.State().Model()
	out.outcome.Error = lastErr.Error()
	return out
}

// fetch calls the adapter, turning a panic into a failed result.
func (o *Orchestrator) fetch(ctx context.Context, a source.Adapter) (res *source.FetchResult) {
	defer func() {
		if r := recover(); r != nil {
			err := eris.Errorf("orchestrator: adapter %s panicked: %v", a.ID(), r)
			res = &source.FetchResult{Errors: []string{err.Error()}, Cause: err}
		}
	}()
	res = a.FetchShowtimes(ctx)
	if res == nil {
		err := eris.Errorf("orchestrator: adapter %s returned no result", a.ID())
		res = &source.FetchResult{Errors: []string{err.Error()}, Cause: err}
	}
	return res
}

func (o *Orchestrator) cancelled(runID string, id model.SourceID) sourceRun {
	return sourceRun{
		outcome: model.SourceOutcome{Source: id, Skipped: true, Error: MsgRunCancelled},
		errors:  []model.ScrapingError{o.newError(runID, id, MsgRunCancelled, 0, false, nil)},
	}
}

func (o *Orchestrator) newError(runID string, id model.SourceID, msg string, attempt int, recoverable bool, fields map[string]string) model.ScrapingError {
	return model.ScrapingError{
		ID:          o.opts.NewID(),
		RunID:       runID,
		Source:      id,
		Message:     msg,
		Timestamp:   o.opts.Now().UTC(),
		Attempt:     attempt,
		Recoverable: recoverable,
		Context:     fields,
	}
}

func resultError(res *source.FetchResult) error {
	if res.Cause != nil {
		return res.Cause
	}
	if len(res.Errors) > 0 {
		return eris.New(strings.Join(res.Errors, "; "))
	}
	return eris.New("orchestrator: adapter reported failure without detail")
}

func isRecoverable(res *source.FetchResult, err error) bool {
	if res.Cause != nil {
		return resilience.IsRecoverable(res.Cause)
	}
	return resilience.IsRecoverableMessage(err.Error())
}

func errorContext(err error) map[string]string {
	fields := map[string]string{"class": resilience.ClassifyError(err)}
	var pe *resilience.PermanentError
	if errors.As(err, &pe) {
		fields["reason"] = pe.Reason
		if pe.StatusCode > 0 {
			fields["status"] = strconv.Itoa(pe.StatusCode)
		}
	}
	var te *resilience.TransientError
	if errors.As(err, &te) && te.StatusCode > 0 {
		fields["status"] = strconv.Itoa(te.StatusCode)
	}
	return fields
}

func nextAttempt(cb *resilience.CircuitBreaker) string {
	snap := cb.Snapshot()
	if snap.NextAttemptAt == nil {
		return ""
	}
	return snap.NextAttemptAt.UTC().Format(time.RFC3339)
}

func emptyReport(now time.Time) model.ValidationReport {
	return model.ValidationReport{IssueCounts: map[string]int{}, GeneratedAt: now.UTC()}
}

// restore loads persisted breaker and health state into memory. A store
// failure is logged and the run continues from in-memory state.
func (o *Orchestrator) restore(ctx context.Context) *State {
	st, err := LoadState(ctx, o.kv)
	if err != nil {
		zap.L().Warn("orchestrator: state unavailable, using in-memory state", zap.Error(err))
		return &State{Breakers: o.breakers.Snapshot(), Health: o.health.Snapshot()}
	}
	o.breakers.Restore(st.Breakers)
	o.health.Restore(st.Health)
	return st
}

// persist writes state once per run. It uses a detached context so a
// cancelled run still saves what it learned.
func (o *Orchestrator) persist(ctx context.Context, st *State, result *model.ScrapingResult) {
	st.Breakers = o.breakers.Snapshot()
	st.Health = o.health.Snapshot()
	st.Errors = capTail(append(st.Errors, result.Errors...), o.opts.ErrorLogSize)
	st.History = capTail(append(st.History, result.Metrics), o.opts.HistorySize)

	if err := saveState(context.WithoutCancel(ctx), o.kv, st); err != nil {
		zap.L().Error("orchestrator: persist state failed", zap.String("run_id", result.RunID), zap.Error(err))
	}
}

// Snapshot returns the in-memory breaker and health state.
func (o *Orchestrator) Snapshot() (map[string]model.BreakerState, map[string]model.SourceHealth) {
	return o.breakers.Snapshot(), o.health.Snapshot()
}
