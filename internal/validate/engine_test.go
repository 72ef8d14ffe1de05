package validate

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/vose-cli/internal/classify"
	"github.com/sells-group/vose-cli/internal/config"
	"github.com/sells-group/vose-cli/internal/model"
	"github.com/sells-group/vose-cli/internal/registry"
)

var testNow = time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

func madrid(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Madrid")
	require.NoError(t, err)
	return loc
}

func evening(t *testing.T) time.Time {
	return time.Date(2026, 5, 1, 20, 30, 0, 0, madrid(t))
}

// classified builds a CineCiutat record the way the adapter would.
func classified(title string, start time.Time) model.Showtime {
	st := model.Showtime{
		MovieTitle:         title,
		CinemaName:         "CineCiutat Palma",
		StartTime:          start,
		SourceID:           model.SourceCineCiutat,
		RawText:            title + " VOSE versión original subtitulada 20:30",
		VerificationStatus: model.StatusPending,
	}
	p, _ := registry.Default().Get(model.SourceCineCiutat)
	classify.New(nil, nil).Apply(&st, p.URL)
	return st
}

func newEngine() *Engine {
	return New(DefaultSettings(), WithClock(func() time.Time { return testNow }))
}

func codes(issues []model.Issue, idx int) []string {
	var out []string
	for _, is := range issues {
		if is.Index == idx {
			out = append(out, is.Code)
		}
	}
	return out
}

func TestValidate_CleanRecordConfirmed(t *testing.T) {
	out, report := newEngine().Validate([]model.Showtime{classified("Oppenheimer", evening(t))})

	require.Len(t, out, 1)
	assert.Equal(t, model.StatusConfirmed, out[0].VerificationStatus)
	assert.Empty(t, report.Issues)
	assert.Equal(t, 1, report.Valid)
	assert.Equal(t, 0, report.Invalid)
	assert.InDelta(t, out[0].ClassifierConfidence, out[0].Confidence, 1e-9)
	assert.Empty(t, report.Recommendations)
}

func TestValidate_DuplicatesFlagBothRecords(t *testing.T) {
	a := classified("Oppenheimer", evening(t))
	b := classified("Oppenheimer", evening(t).Add(30*time.Second))
	out, report := newEngine().Validate([]model.Showtime{a, b})

	assert.Contains(t, codes(report.Issues, 0), CodePotentialDuplicate)
	assert.Contains(t, codes(report.Issues, 1), CodePotentialDuplicate)
	assert.Equal(t, 2, report.IssueCounts[CodePotentialDuplicate])
	for _, st := range out {
		assert.Equal(t, model.StatusPending, st.VerificationStatus)
		assert.Less(t, st.Confidence, st.ClassifierConfidence)
	}
	assert.Contains(t, strings.Join(report.Recommendations, "\n"), "duplicated")
}

func TestValidate_DuplicateOutsideWindow(t *testing.T) {
	a := classified("Oppenheimer", evening(t))
	b := classified("Oppenheimer", evening(t).Add(2*time.Hour))
	_, report := newEngine().Validate([]model.Showtime{a, b})
	assert.Zero(t, report.IssueCounts[CodePotentialDuplicate])
}

func TestValidate_DuplicateChain(t *testing.T) {
	start := evening(t)
	batch := []model.Showtime{
		classified("Anora", start),
		classified("Anora", start.Add(50*time.Second)),
		classified("Anora", start.Add(100*time.Second)),
	}
	out, report := newEngine().Validate(batch)

	for i := range batch {
		assert.Contains(t, codes(report.Issues, i), CodePotentialDuplicate, "record %d", i)
		assert.Equal(t, model.StatusPending, out[i].VerificationStatus)
	}
	assert.Equal(t, 3, report.IssueCounts[CodePotentialDuplicate])
}

func TestDuplicatePartners_Nearest(t *testing.T) {
	start := evening(t)
	batch := []model.Showtime{
		{MovieTitle: "Anora", CinemaName: "CineCiutat", StartTime: start.Add(100 * time.Second)},
		{MovieTitle: "Anora", CinemaName: "CineCiutat", StartTime: start},
		{MovieTitle: "Anora", CinemaName: "CineCiutat", StartTime: start.Add(40 * time.Second)},
		{MovieTitle: "Dune", CinemaName: "CineCiutat", StartTime: start.Add(10 * time.Second)},
	}
	partners := duplicatePartners(batch, time.Minute)

	assert.Equal(t, map[int]int{0: 2, 1: 2, 2: 1}, partners)
	assert.Equal(t, [][]int{{0, 1, 2}}, duplicateGroups(batch, time.Minute))
}

func TestValidate_ShortTitleRejected(t *testing.T) {
	out, report := newEngine().Validate([]model.Showtime{classified("A", evening(t))})

	assert.Equal(t, model.StatusRejected, out[0].VerificationStatus)
	assert.Contains(t, codes(report.Issues, 0), CodeInvalidTitle)
	assert.Equal(t, 1, report.Invalid)
	assert.Greater(t, out[0].Confidence, 0.0)
}

func TestValidate_MissingFields(t *testing.T) {
	st := model.Showtime{MovieTitle: "Dune", CinemaName: "X", Confidence: 0.9}
	out, report := newEngine().Validate([]model.Showtime{st})

	got := codes(report.Issues, 0)
	assert.Contains(t, got, CodeInvalidCinema)
	assert.Contains(t, got, CodeInvalidStartTime)
	assert.Equal(t, model.StatusRejected, out[0].VerificationStatus)
	// Penalty is capped, so some signal survives.
	assert.InDelta(t, 0.9*0.2, out[0].Confidence, 1e-9)
}

func TestValidate_Idempotent(t *testing.T) {
	batch := []model.Showtime{
		classified("Oppenheimer", evening(t)),
		classified("Oppenheimer", evening(t).Add(30*time.Second)),
		classified("Unknown Movie", evening(t).Add(-12*time.Hour)),
	}
	e := newEngine()
	first, _ := e.Validate(batch)
	second, _ := e.Validate(first)

	for i := range first {
		assert.InDelta(t, first[i].Confidence, second[i].Confidence, 1e-12, "record %d", i)
		assert.Equal(t, first[i].VerificationStatus, second[i].VerificationStatus)
	}
}

func TestValidate_InputNotModified(t *testing.T) {
	batch := []model.Showtime{classified("A", evening(t))}
	before := batch[0]
	newEngine().Validate(batch)
	assert.Equal(t, before, batch[0])
}

func TestValidate_TemporalRange(t *testing.T) {
	loc := madrid(t)
	batch := []model.Showtime{
		classified("Past Lives", testNow.Add(-7*time.Hour)),
		classified("Future Film", testNow.Add(30*24*time.Hour)),
		classified("Night Show", time.Date(2026, 5, 2, 3, 30, 0, 0, loc)),
	}
	_, report := newEngine().Validate(batch)

	assert.Contains(t, codes(report.Issues, 0), CodePastShowtime)
	assert.Contains(t, codes(report.Issues, 1), CodeFarFutureShowtime)
	assert.Contains(t, codes(report.Issues, 2), CodeUnusualHour)
}

func TestValidate_TitleQuality(t *testing.T) {
	batch := []model.Showtime{
		classified("Unknown Movie", evening(t)),
		classified(strings.Repeat("Long ", 30), evening(t)),
		classified("!!?? ##", evening(t)),
	}
	_, report := newEngine().Validate(batch)

	assert.Contains(t, codes(report.Issues, 0), CodePlaceholderTitle)
	assert.Contains(t, codes(report.Issues, 1), CodeTitleTooLong)
	assert.Contains(t, codes(report.Issues, 2), CodeTitleHighSymbolRatio)
	assert.Contains(t, strings.Join(report.Recommendations, "\n"), "placeholder")
}

func TestValidate_SourceReliability(t *testing.T) {
	st := model.Showtime{
		MovieTitle: "Barbie",
		CinemaName: "Yelmo Mallorca",
		StartTime:  evening(t),
		SourceID:   model.SourceYelmo,
		RawText:    "Barbie",
		Confidence: 0.3,
	}
	_, report := newEngine().Validate([]model.Showtime{st})

	got := codes(report.Issues, 0)
	assert.Contains(t, got, CodeLowSourceReliability)
	assert.Contains(t, got, CodeThinRawText)
}

func TestValidate_Reclassification(t *testing.T) {
	drift := classified("Oppenheimer", evening(t))
	drift.ClassifierConfidence = 0.1
	drift.Confidence = 0.1

	mixed := classified("Poor Things", evening(t))
	mixed.RawText = "Poor Things - VOSE 20:30, Doblada 18:00"

	_, report := newEngine().Validate([]model.Showtime{drift, mixed})
	assert.Contains(t, codes(report.Issues, 0), CodeClassificationDrift)
	assert.Contains(t, codes(report.Issues, 1), CodeMixedLanguageSignals)
}

type panicRule struct{}

func (panicRule) Name() string { return "exploding" }

func (panicRule) Check(*model.Showtime, int, []model.Showtime) (Outcome, error) {
	panic("boom")
}

type errRule struct{}

func (errRule) Name() string { return "failing" }

func (errRule) Check(*model.Showtime, int, []model.Showtime) (Outcome, error) {
	return Outcome{}, errors.New("lookup failed")
}

func TestValidate_RuleFailuresBecomeWarnings(t *testing.T) {
	e := New(DefaultSettings(), WithRules(panicRule{}, errRule{}, RequiredFields{}))
	assert.Equal(t, []string{"exploding", "failing", "required_fields"}, e.Rules())

	out, report := e.Validate([]model.Showtime{classified("Oppenheimer", evening(t))})
	assert.Equal(t, 2, report.IssueCounts[CodeRuleExecutionError])
	assert.Equal(t, 2, report.Warnings)
	assert.Equal(t, model.StatusPending, out[0].VerificationStatus)
}

func TestValidate_ReportAggregates(t *testing.T) {
	batch := []model.Showtime{
		classified("Oppenheimer", evening(t)),
		classified("Oppenheimer", evening(t).Add(10*time.Second)),
		classified("A", evening(t)),
	}
	_, report := newEngine().Validate(batch)

	assert.Equal(t, 3, report.Total)
	assert.Equal(t, 2, report.Valid)
	assert.Equal(t, 1, report.Invalid)
	assert.Equal(t, 1, report.Errors)
	assert.Equal(t, 2, report.Warnings)
	require.NotEmpty(t, report.TopIssues)
	assert.Equal(t, CodePotentialDuplicate, report.TopIssues[0])
	assert.LessOrEqual(t, len(report.TopIssues), 3)
	assert.Equal(t, testNow, report.GeneratedAt)
	assert.Contains(t, strings.Join(report.Recommendations, "\n"), "rejected")
}

func TestValidate_EmptyBatch(t *testing.T) {
	out, report := newEngine().Validate(nil)
	assert.Empty(t, out)
	assert.Equal(t, 0, report.Total)
	assert.Zero(t, report.AverageConfidence)
}

func TestValidate_ExpiredStatusKept(t *testing.T) {
	st := classified("Oppenheimer", evening(t))
	st.VerificationStatus = model.StatusExpired
	out, _ := newEngine().Validate([]model.Showtime{st})
	assert.Equal(t, model.StatusExpired, out[0].VerificationStatus)
}

func TestSettingsFromConfig(t *testing.T) {
	s := SettingsFromConfig(config.ValidationConfig{
		PastWindowHours:     3,
		DuplicateWindowSecs: 120,
		MaxPenalty:          0.5,
	})
	assert.Equal(t, 3*time.Hour, s.PastWindow)
	assert.Equal(t, 2*time.Minute, s.DuplicateWindow)
	assert.InDelta(t, 0.5, s.MaxPenalty, 1e-9)
	assert.Equal(t, DefaultSettings().FutureWindow, s.FutureWindow)
	assert.Equal(t, 2, s.UnusualHourStart)
}
