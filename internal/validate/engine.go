package validate

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/vose-cli/internal/classify"
	"github.com/sells-group/vose-cli/internal/model"
	"github.com/sells-group/vose-cli/internal/registry"
)

// Engine runs an ordered rule list over a batch. It is safe for
// concurrent use; rules that need batch state are re-bound per call.
type Engine struct {
	rules    []Rule
	settings Settings
	now      func() time.Time
}

// Option configures an Engine.
type Option func(*engineOptions)

type engineOptions struct {
	now      func() time.Time
	detector *classify.Detector
	registry *registry.Registry
	rules    []Rule
}

// WithClock sets the clock used by time-based rules.
func WithClock(now func() time.Time) Option {
	return func(o *engineOptions) { o.now = now }
}

// WithDetector sets the detector used for reclassification.
func WithDetector(d *classify.Detector) Option {
	return func(o *engineOptions) { o.detector = d }
}

// WithRegistry sets the source table used for priors and time zones.
func WithRegistry(r *registry.Registry) Option {
	return func(o *engineOptions) { o.registry = r }
}

// WithRules replaces the built-in rule list.
func WithRules(rules ...Rule) Option {
	return func(o *engineOptions) { o.rules = rules }
}

// New creates an Engine with the built-in rules in their standard order.
func New(s Settings, opts ...Option) *Engine {
	o := engineOptions{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.registry == nil {
		o.registry = registry.Default()
	}
	if o.detector == nil {
		o.detector = classify.New(nil, o.registry)
	}

	rules := o.rules
	if rules == nil {
		rules = []Rule{
			RequiredFields{},
			TemporalRange{
				Now:          o.now,
				PastWindow:   s.PastWindow,
				FutureWindow: s.FutureWindow,
				HourStart:    s.UnusualHourStart,
				HourEnd:      s.UnusualHourEnd,
				Registry:     o.registry,
			},
			Reclassification{Detector: o.detector, Registry: o.registry, Tolerance: s.ReclassifyTolerance},
			Duplicates{Window: s.DuplicateWindow},
			TitleQuality{MaxLength: s.MaxTitleLength, MaxSymbolRatio: s.MaxTitleSymbolRatio},
			SourceReliability{Registry: o.registry, MinPrior: s.MinSourceReliability, MinRawText: s.MinRawTextLength},
		}
	}
	return &Engine{rules: rules, settings: s, now: o.now}
}

// Rules returns the rule names in evaluation order.
func (e *Engine) Rules() []string {
	names := make([]string, len(e.rules))
	for i, r := range e.rules {
		names[i] = r.Name()
	}
	return names
}

// Settings returns the thresholds the engine was built with.
func (e *Engine) Settings() Settings { return e.settings }

// Validate checks every record and returns an adjusted copy of the batch
// with the report. The input slice is not modified.
func (e *Engine) Validate(batch []model.Showtime) ([]model.Showtime, model.ValidationReport) {
	out := make([]model.Showtime, len(batch))
	copy(out, batch)

	rules := make([]Rule, len(e.rules))
	for i, r := range e.rules {
		if br, ok := r.(BatchRule); ok {
			rules[i] = prepare(br, out)
			continue
		}
		rules[i] = r
	}

	report := model.ValidationReport{
		Total:       len(out),
		IssueCounts: make(map[string]int),
		GeneratedAt: e.now().UTC(),
	}

	var confSum float64
	for i := range out {
		st := &out[i]
		var penalty float64
		var issues []model.Issue
		for _, r := range rules {
			res := e.check(r, st, i, out)
			penalty += res.Penalty
			issues = append(issues, res.Issues...)
		}

		e.apply(st, penalty, issues)
		confSum += st.Confidence

		if st.VerificationStatus == model.StatusRejected {
			report.Invalid++
		} else {
			report.Valid++
		}
		for _, is := range issues {
			report.IssueCounts[is.Code]++
			switch is.Severity {
			case model.SeverityError:
				report.Errors++
			case model.SeverityWarning:
				report.Warnings++
			default:
				report.Infos++
			}
		}
		report.Issues = append(report.Issues, issues...)
	}

	if len(out) > 0 {
		report.AverageConfidence = confSum / float64(len(out))
	}
	report.TopIssues = topIssues(report.IssueCounts, 3)
	report.Recommendations = e.recommend(report)

	zap.L().Debug("validate: batch checked",
		zap.Int("total", report.Total),
		zap.Int("valid", report.Valid),
		zap.Int("errors", report.Errors),
		zap.Int("warnings", report.Warnings),
		zap.Float64("avg_confidence", report.AverageConfidence),
	)
	return out, report
}

// apply folds rule results into the record. The penalty is applied to the
// classifier's own confidence, so validating twice gives the same result.
func (e *Engine) apply(st *model.Showtime, penalty float64, issues []model.Issue) {
	if penalty > e.settings.MaxPenalty {
		penalty = e.settings.MaxPenalty
	}
	base := st.BaseConfidence()
	if st.ClassifierConfidence == 0 {
		st.ClassifierConfidence = base
	}
	st.Confidence = math.Min(st.Confidence, base*(1-penalty))

	var hasError, hasWarning bool
	for _, is := range issues {
		switch is.Severity {
		case model.SeverityError:
			hasError = true
		case model.SeverityWarning:
			hasWarning = true
		}
	}

	switch {
	case hasError:
		st.VerificationStatus = model.StatusRejected
	case st.VerificationStatus == model.StatusExpired:
	case st.Confidence > e.settings.ConfirmThreshold && !hasWarning:
		st.VerificationStatus = model.StatusConfirmed
	default:
		st.VerificationStatus = model.StatusPending
	}
}

// check runs one rule, converting errors and panics into a warning.
func (e *Engine) check(r Rule, st *model.Showtime, idx int, batch []model.Showtime) (res Outcome) {
	defer func() {
		if p := recover(); p != nil {
			res = ruleFailure(r.Name(), idx, eris.Errorf("validate: rule panicked: %v", p))
		}
	}()
	res, err := r.Check(st, idx, batch)
	if err != nil {
		return ruleFailure(r.Name(), idx, err)
	}
	return res
}

func prepare(br BatchRule, batch []model.Showtime) (r Rule) {
	defer func() {
		if p := recover(); p != nil {
			r = failedRule{name: br.Name(), err: eris.Errorf("validate: prepare panicked: %v", p)}
		}
	}()
	return br.Prepare(batch)
}

// failedRule stands in for a batch rule whose Prepare panicked.
type failedRule struct {
	name string
	err  error
}

func (f failedRule) Name() string { return f.name }

func (f failedRule) Check(*model.Showtime, int, []model.Showtime) (Outcome, error) {
	return Outcome{}, f.err
}

func ruleFailure(rule string, idx int, err error) Outcome {
	zap.L().Warn("validate: rule failed",
		zap.String("rule", rule),
		zap.Int("index", idx),
		zap.Error(err),
	)
	return Outcome{
		Valid: true,
		Issues: []model.Issue{issue(rule, CodeRuleExecutionError, model.SeverityWarning, idx,
			fmt.Sprintf("rule %s failed: %v", rule, err))},
	}
}

func topIssues(counts map[string]int, n int) []string {
	codes := make([]string, 0, len(counts))
	for c := range counts {
		codes = append(codes, c)
	}
	sort.Slice(codes, func(i, j int) bool {
		if counts[codes[i]] != counts[codes[j]] {
			return counts[codes[i]] > counts[codes[j]]
		}
		return codes[i] < codes[j]
	})
	if len(codes) > n {
		codes = codes[:n]
	}
	return codes
}

func (e *Engine) recommend(r model.ValidationReport) []string {
	var recs []string
	if r.Total > 0 {
		if rate := float64(r.Invalid) / float64(r.Total); rate > e.settings.HighErrorRate {
			recs = append(recs, fmt.Sprintf("%.0f%% of records were rejected; check the source selectors and required fields", rate*100))
		}
		if r.AverageConfidence < e.settings.LowConfidenceAverage {
			recs = append(recs, fmt.Sprintf("average confidence %.2f is low; review the classifier weights and source markers", r.AverageConfidence))
		}
	}
	if n := r.IssueCounts[CodePotentialDuplicate]; n > 0 {
		recs = append(recs, fmt.Sprintf("%d records look duplicated; deduplicate before publishing", n))
	}
	if n := r.IssueCounts[CodePlaceholderTitle]; n > 0 {
		recs = append(recs, fmt.Sprintf("%d records have placeholder titles; improve title extraction for those sources", n))
	}
	return recs
}
