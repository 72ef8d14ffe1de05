package classify

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/vose-cli/internal/model"
	"github.com/sells-group/vose-cli/internal/registry"
)

func hasReason(res Result, substr string) bool {
	for _, r := range res.Evidence.Reasons {
		if strings.Contains(r, substr) {
			return true
		}
	}
	return false
}

func TestDetect_ExplicitVOSEAtSpecialist(t *testing.T) {
	d := New(nil, nil)
	res := d.Detect(Input{Text: "Oppenheimer - VOSE - 20:30 at CineCiutat"})

	assert.True(t, res.IsVOSE)
	assert.Greater(t, res.Confidence, 0.8)
	assert.Equal(t, model.LanguageVOSE, res.Language)
	assert.Equal(t, model.SourceCineCiutat, res.Source)
	assert.NotEmpty(t, res.Evidence.VOSEIndicators)
	assert.Empty(t, res.Evidence.DubbedIndicators)
	assert.Contains(t, res.Evidence.TimeIndicators, "20:30 evening")
}

func TestDetect_DubbedSpanish(t *testing.T) {
	d := New(nil, nil)
	res := d.Detect(Input{Text: "Oppenheimer - Doblada al Español - 18:00"})

	assert.False(t, res.IsVOSE)
	assert.Less(t, res.Confidence, 0.4)
	assert.Equal(t, model.LanguageSpanish, res.Language)
	// "doblada" and "espanol" overlap the explicit phrase and are not recounted.
	assert.Len(t, res.Evidence.DubbedIndicators, 1)
}

func TestDetect_ConflictingEvidence(t *testing.T) {
	d := New(nil, nil)
	res := d.Detect(Input{Text: "Poor Things - VOSE 20:30, Doblada 18:00 at Cinesa"})

	assert.NotEmpty(t, res.Evidence.VOSEIndicators)
	assert.NotEmpty(t, res.Evidence.DubbedIndicators)
	assert.True(t, res.HasConflict())
	assert.True(t, hasReason(res, "conflict"), "reasons: %v", res.Evidence.Reasons)
	assert.False(t, res.IsVOSE)
}

func TestDetect_ConflictResolvedForMajority(t *testing.T) {
	d := New(nil, nil)
	res := d.Detect(Input{Text: "Dune: versión original subtitulada, V.O.S.E. Doblada no disponible"})

	assert.True(t, hasReason(res, "conflict resolved for VOSE"), "reasons: %v", res.Evidence.Reasons)
	assert.True(t, res.IsVOSE)
}

func TestDetect_ConfidenceBounds(t *testing.T) {
	d := New(nil, nil)
	inputs := []Input{
		{},
		{Text: "   "},
		{Text: strings.Repeat("VOSE v.o.s.e. versión original subtitulada english ", 50), Source: model.SourceCineCiutat},
		{Text: strings.Repeat("doblada al castellano versión doblada dubbed into spanish ", 50), Source: model.SourceYelmo},
		{Text: "Película 16:00 17:30", Title: "El Niño"},
		{Text: "The Lord of the Rings 11:00 Palma", Title: "The Lord of the Rings"},
		{Text: "ñ ü ç 99:99 24:00 7.50€"},
	}
	for _, in := range inputs {
		res := d.Detect(in)
		assert.GreaterOrEqual(t, res.Confidence, 0.0, "input %q", in.Text)
		assert.LessOrEqual(t, res.Confidence, 1.0, "input %q", in.Text)
		assert.Equal(t, res.Confidence > 0.6, res.IsVOSE)
	}
}

func TestDetect_NoIndicatorsIsNeutral(t *testing.T) {
	d := New(nil, nil)

	res := d.Detect(Input{Text: "Barbie 16:00"})
	assert.GreaterOrEqual(t, res.Confidence, 0.2)
	assert.LessOrEqual(t, res.Confidence, 0.5)
	assert.Equal(t, model.LanguageUnknown, res.Language)
	assert.True(t, hasReason(res, "no language indicators"))

	res = d.Detect(Input{})
	assert.GreaterOrEqual(t, res.Confidence, 0.2)
	assert.LessOrEqual(t, res.Confidence, 0.5)
}

func TestDetect_Deterministic(t *testing.T) {
	d := New(nil, nil)
	in := Input{Text: "Anora VOSE 22:15 Aficine Rivoli", Title: "Anora"}
	first := d.Detect(in)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, d.Detect(in))
	}
}

func TestDetect_SubtitleContextSuppressesCastellano(t *testing.T) {
	d := New(nil, nil)
	res := d.Detect(Input{Text: "Civil War, en inglés con subtítulos en castellano 20:00"})

	assert.Empty(t, res.Evidence.DubbedIndicators)
	assert.NotEmpty(t, res.Evidence.LanguageContext)
	assert.True(t, res.IsVOSE)
}

func TestDetect_Catalan(t *testing.T) {
	d := New(nil, nil)
	res := d.Detect(Input{Text: "Wonka - versió catalana - 17:00"})

	assert.Equal(t, model.LanguageCatalan, res.Language)
	assert.False(t, res.IsVOSE)
}

func TestDetect_SourceBonusFromID(t *testing.T) {
	d := New(nil, nil)
	specialist := d.Detect(Input{Text: "Perfect Days 19:00", Source: model.SourceCineCiutat})
	rare := d.Detect(Input{Text: "Perfect Days 19:00", Source: model.SourceCinesa})

	assert.Greater(t, specialist.Confidence, rare.Confidence)
	assert.True(t, specialist.IsVOSE)
	assert.False(t, rare.IsVOSE)
}

func TestDetect_TimeOfDay(t *testing.T) {
	d := New(nil, nil)
	evening := d.Detect(Input{Text: "Subtitulada 21:00"})
	afternoon := d.Detect(Input{Text: "Subtitulada 16:30"})
	assert.Greater(t, evening.Raw, afternoon.Raw)
	assert.InDelta(t, 0.25, evening.Raw-afternoon.Raw, 1e-9)

	madridLoc, err := time.LoadLocation("Europe/Madrid")
	require.NoError(t, err)
	withStart := d.Detect(Input{Text: "Subtitulada", StartTime: time.Date(2026, 5, 1, 21, 0, 0, 0, madridLoc)})
	assert.InDelta(t, evening.Raw, withStart.Raw, 1e-9)
}

func TestDetect_EachEveningTimeCounts(t *testing.T) {
	d := New(nil, nil)
	one := d.Detect(Input{Text: "Subtitulada 21:00"})
	two := d.Detect(Input{Text: "Subtitulada 19:00 21:00"})
	many := d.Detect(Input{Text: "Subtitulada 18:00 19:00 20:00 21:00 22:00"})

	assert.InDelta(t, 0.15*0.25, two.Raw-one.Raw, 1e-9)
	// 0.15 base, capped at 1.5x.
	assert.InDelta(t, 0.6+0.225, many.Raw, 1e-9)
}

func TestDetect_StartTimeUsesProfileLocation(t *testing.T) {
	reg, err := registry.New([]registry.Profile{{
		ID: "canarias", Name: "Cines Canarias", Tier: registry.TierFrequent, Location: "Atlantic/Canary",
	}})
	require.NoError(t, err)
	d := New(nil, reg)

	canary, err := time.LoadLocation("Atlantic/Canary")
	require.NoError(t, err)
	start := time.Date(2026, 5, 1, 21, 0, 0, 0, canary)

	textOnly := d.Detect(Input{Text: "Subtitulada 21:00", Source: "canarias"})
	withStart := d.Detect(Input{Text: "Subtitulada 21:00", Source: "canarias", StartTime: start.UTC()})
	assert.Equal(t, []string{"21:00 evening"}, withStart.Evidence.TimeIndicators)
	assert.InDelta(t, textOnly.Raw, withStart.Raw, 1e-9)

	explicit := d.Detect(Input{Text: "Subtitulada", StartTime: start, Location: time.UTC})
	assert.Equal(t, []string{"20:00 evening"}, explicit.Evidence.TimeIndicators)
}

func TestDetect_MarkerDoesNotRescoreCategorySpan(t *testing.T) {
	reg, err := registry.New([]registry.Profile{{
		ID: "club", Name: "Cine Club", Tier: registry.TierFrequent,
		VOSEMarkers: []string{`\bvose\b`, `\bsesion club\b`},
	}})
	require.NoError(t, err)
	d := New(nil, reg)

	plain := d.Detect(Input{Text: "Anora VOSE", Source: "club"})
	assert.Contains(t, plain.Evidence.VOSEIndicators, "vose (vose_explicit)")
	assert.NotContains(t, plain.Evidence.VOSEIndicators, "vose (club marker)")

	club := d.Detect(Input{Text: "Anora VOSE sesion club sesion club", Source: "club"})
	assert.Contains(t, club.Evidence.VOSEIndicators, "sesion club (club marker)")
	assert.InDelta(t, d.Weights().MarkerBonus, club.Raw-plain.Raw, 1e-9)
}

func TestDetect_RegionAndTitle(t *testing.T) {
	d := New(nil, nil)
	base := d.Detect(Input{Text: "Subtitulada"})
	region := d.Detect(Input{Text: "Subtitulada", URL: "https://cines.example/palma"})
	assert.InDelta(t, 0.1, region.Raw-base.Raw, 1e-9)

	title := d.Detect(Input{Text: "Subtitulada", Title: "The Lord of the Rings"})
	assert.InDelta(t, 0.1, title.Raw-base.Raw, 1e-9)
	assert.Contains(t, title.Evidence.VOSEIndicators, "english title words")

	foreign := d.Detect(Input{Text: "Subtitulada", Title: "Kokuho"})
	assert.InDelta(t, 0.1, foreign.Raw-base.Raw, 1e-9)
}

func TestDetect_DiminishingReturns(t *testing.T) {
	d := New(nil, nil)
	once := d.Detect(Input{Text: "subtitulada"})
	many := d.Detect(Input{Text: strings.Repeat("subtitulada ", 20)})

	// 0.6 base, capped at 1.5x.
	assert.InDelta(t, 0.6, once.Raw, 1e-9)
	assert.InDelta(t, 0.9, many.Raw, 1e-9)
}

func TestApply(t *testing.T) {
	d := New(nil, nil)
	st := &model.Showtime{
		MovieTitle: "Oppenheimer",
		RawText:    "Oppenheimer VOSE 20:30",
		SourceID:   model.SourceCineCiutat,
	}
	res := d.Apply(st, "")

	assert.Equal(t, res.Confidence, st.Confidence)
	assert.Equal(t, res.Confidence, st.ClassifierConfidence)
	assert.True(t, st.IsVOSE)
	assert.Equal(t, model.LanguageVOSE, st.Language)
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "version original subtitulada", Normalize("  Versión   ORIGINAL\tSubtitulada "))
	assert.Equal(t, "doblada al espanol", Normalize("Doblada al Español"))
	assert.Equal(t, "", Normalize(""))
}

func TestFindTimes(t *testing.T) {
	got := FindTimes("Sesiones 18:00, 20.30 y 22h45; repetido 18:00. Precio 7.50 euros, 9:15")
	want := []ClockTime{{18, 0}, {20, 30}, {22, 45}, {9, 15}}
	assert.Equal(t, want, got)

	assert.Empty(t, FindTimes("sin horario"))
	assert.Empty(t, FindTimes("24:00 25.10"))
	assert.Equal(t, "09:05", ClockTime{9, 5}.String())
}

func TestLoadWeights(t *testing.T) {
	w, err := LoadWeights("")
	require.NoError(t, err)
	assert.InDelta(t, 3.0, w.Steepness, 1e-9)

	path := filepath.Join(t.TempDir(), "weights.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
categories:
  vose_explicit: 1.2
  castellano: -0.5
steepness: 4
threshold: 0.65
regions: [sitges]
`), 0644))

	w, err = LoadWeights(path)
	require.NoError(t, err)
	assert.InDelta(t, 4.0, w.Steepness, 1e-9)
	assert.InDelta(t, 0.65, w.Threshold, 1e-9)
	for _, c := range w.Categories {
		if c.Name == "vose_explicit" {
			assert.InDelta(t, 1.2, c.Weight, 1e-9)
		}
	}

	d := New(w, nil)
	res := d.Detect(Input{Text: "subtitulada sitges"})
	assert.True(t, hasReason(res, "regional context: sitges"))
}

func TestLoadWeights_Errors(t *testing.T) {
	_, err := LoadWeights(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("categories:\n  nonsense: 0.4\n"), 0644))
	_, err = LoadWeights(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown category "nonsense"`)

	require.NoError(t, os.WriteFile(path, []byte("categories:\n  dubbed: 0.4\n"), 0644))
	_, err = LoadWeights(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dubbed weight must be < 0")
}
