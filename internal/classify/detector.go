// Package classify decides whether a showing is VOSE (original version with
// subtitles) from its listing text, source and time of day.
package classify

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"go.uber.org/zap"

	"github.com/sells-group/vose-cli/internal/model"
	"github.com/sells-group/vose-cli/internal/registry"
)

// Input is what the detector looks at.
type Input struct {
	Text      string
	Title     string
	URL       string
	Source    model.SourceID
	StartTime time.Time

	// Location is the zone StartTime is read in. When nil the source
	// profile's location is used.
	Location *time.Location
}

// Evidence records every signal that moved the score.
type Evidence struct {
	VOSEIndicators   []string `json:"vose_indicators"`
	DubbedIndicators []string `json:"dubbed_indicators"`
	LanguageContext  []string `json:"language_context"`
	TimeIndicators   []string `json:"time_indicators"`
	Reasons          []string `json:"reasons"`
}

// Result is the detector's verdict.
type Result struct {
	IsVOSE     bool           `json:"is_vose"`
	Confidence float64        `json:"confidence"`
	Language   model.Language `json:"language"`
	Raw        float64        `json:"raw_score"`
	Source     model.SourceID `json:"source,omitempty"`
	Evidence   Evidence       `json:"evidence"`
}

// HasConflict reports whether both VOSE and dubbed evidence were found.
func (r Result) HasConflict() bool {
	return len(r.Evidence.VOSEIndicators) > 0 && len(r.Evidence.DubbedIndicators) > 0
}

// Detector scores listing text. It is safe for concurrent use.
type Detector struct {
	w   *Weights
	reg *registry.Registry
}

// New creates a detector. Nil arguments select the defaults.
func New(w *Weights, reg *registry.Registry) *Detector {
	if w == nil {
		w = DefaultWeights()
	}
	if reg == nil {
		reg = registry.Default()
	}
	return &Detector{w: w, reg: reg}
}

// Weights returns the detector's calibration.
func (d *Detector) Weights() *Weights { return d.w }

type span struct{ start, end int }

func overlaps(spans []span, s span) bool {
	for _, o := range spans {
		if s.start < o.end && o.start < s.end {
			return true
		}
	}
	return false
}

// score accumulates one Detect call.
type score struct {
	raw         float64
	ev          Evidence
	voseText    int
	dubbedText  int
	catalanText int
	independent int
}

// Detect classifies a single listing. It is deterministic and never fails;
// unusable input yields a neutral, low-confidence result.
func (d *Detector) Detect(in Input) Result {
	text := Normalize(in.Text)
	title := Normalize(in.Title)
	haystack := text
	if title != "" && !strings.Contains(text, title) {
		haystack = strings.TrimSpace(text + " " + title)
	}

	var s score
	used := d.scoreCategories(haystack, &s)
	profile := d.scoreSource(in, haystack, used, &s)
	d.scoreTimes(text, in.StartTime, timeLocation(in.Location, profile), &s)
	d.scoreRegion(haystack, Normalize(in.URL), &s)
	d.scoreTitle(in.Title, &s)
	d.resolveConflict(&s)

	conf := sigmoid(s.raw, d.w.Steepness, d.w.Midpoint)
	if s.voseText > 0 && s.dubbedText > 0 && !d.dominant(s) {
		conf *= d.w.AmbiguityFactor
	}
	if s.independent >= d.w.BoostIndicators {
		conf *= d.w.BoostFactor
		s.ev.Reasons = append(s.ev.Reasons, fmt.Sprintf("%d independent VOSE indicators", s.independent))
	}
	if len(s.ev.VOSEIndicators) == 0 && len(s.ev.DubbedIndicators) == 0 {
		conf = clamp(conf, d.w.NeutralMin, d.w.NeutralMax)
		s.ev.Reasons = append(s.ev.Reasons, "no language indicators")
	}
	conf = clamp(conf, 0, 1)

	res := Result{
		IsVOSE:     conf > d.w.Threshold,
		Confidence: conf,
		Raw:        s.raw,
		Evidence:   s.ev,
		Language:   d.language(conf, s),
	}
	if profile != nil {
		res.Source = profile.ID
	}

	zap.L().Debug("classify: detected",
		zap.String("source", string(res.Source)),
		zap.Float64("raw", res.Raw),
		zap.Float64("confidence", res.Confidence),
		zap.Strings("vose", s.ev.VOSEIndicators),
		zap.Strings("dubbed", s.ev.DubbedIndicators),
	)
	return res
}

// Apply classifies st from its own fields and stores the verdict on it.
func (d *Detector) Apply(st *model.Showtime, url string) Result {
	res := d.Detect(Input{
		Text:      st.RawText,
		Title:     st.MovieTitle,
		URL:       url,
		Source:    st.SourceID,
		StartTime: st.StartTime,
	})
	st.IsVOSE = res.IsVOSE
	st.Confidence = res.Confidence
	st.ClassifierConfidence = res.Confidence
	st.Language = res.Language
	return res
}

// scoreCategories scores the category table and returns the spans claimed
// by VOSE categories.
func (d *Detector) scoreCategories(text string, s *score) []span {
	used := map[bool][]span{}
	for i := range d.w.Categories {
		c := &d.w.Categories[i]
		positive := c.Kind == KindVOSE

		var contributions []float64
		var hit bool
		for _, re := range c.res {
			for _, loc := range re.FindAllStringIndex(text, -1) {
				sp := span{loc[0], loc[1]}
				if overlaps(used[positive], sp) {
					continue
				}
				used[positive] = append(used[positive], sp)
				match := text[sp.start:sp.end]
				label := fmt.Sprintf("%s (%s)", match, c.Name)

				if c.Suppressible && d.nearSubtitles(text, sp) {
					contributions = append(contributions, c.Weight*d.w.SuppressedFactor)
					s.ev.LanguageContext = append(s.ev.LanguageContext, label+" near subtitles")
					continue
				}
				contributions = append(contributions, c.Weight)
				hit = true
				switch c.Kind {
				case KindVOSE:
					s.ev.VOSEIndicators = append(s.ev.VOSEIndicators, label)
					s.voseText++
				case KindDubbed:
					s.ev.DubbedIndicators = append(s.ev.DubbedIndicators, label)
					s.dubbedText++
				case KindCatalan:
					s.ev.LanguageContext = append(s.ev.LanguageContext, label)
					s.catalanText++
				}
			}
		}
		if len(contributions) == 0 {
			continue
		}
		s.raw += d.diminish(c.Weight, contributions)
		if hit && positive {
			s.independent++
		}
	}
	return used[true]
}

// diminish sums one category's matches: the strongest counts fully, the
// rest at RepeatFactor, capped at CategoryCap times the base weight.
func (d *Detector) diminish(base float64, contributions []float64) float64 {
	sort.Slice(contributions, func(i, j int) bool {
		return math.Abs(contributions[i]) > math.Abs(contributions[j])
	})
	total := contributions[0]
	for _, c := range contributions[1:] {
		total += c * d.w.RepeatFactor
	}
	limit := math.Abs(base) * d.w.CategoryCap
	if math.Abs(total) > limit {
		total = math.Copysign(limit, total)
	}
	return total
}

func (d *Detector) nearSubtitles(text string, sp span) bool {
	lo := max(0, sp.start-d.w.SuppressWindow)
	hi := min(len(text), sp.end+d.w.SuppressWindow)
	window := text[lo:sp.start] + " " + text[sp.end:hi]
	return d.w.subtitleRe.MatchString(window)
}

func (d *Detector) scoreSource(in Input, text string, used []span, s *score) *registry.Profile {
	var profile *registry.Profile
	if in.Source != model.SourceUnknown {
		profile, _ = d.reg.Get(in.Source)
	}
	if profile == nil {
		profile, _ = d.reg.Identify(in.Text, in.URL)
	}
	if profile == nil {
		return nil
	}

	bonus := profile.VOSEBonus()
	if bonus != 0 {
		s.raw += bonus
		s.ev.Reasons = append(s.ev.Reasons, fmt.Sprintf("source %s (%s) %+.2f", profile.ID, profile.Tier, bonus))
	}
	if profile.Tier == registry.TierSpecialist {
		s.ev.VOSEIndicators = append(s.ev.VOSEIndicators, fmt.Sprintf("%s (vose specialist)", profile.ID))
		s.independent++
	}

	counted := make(map[int]bool)
	for _, h := range profile.MarkerHits(text) {
		sp := span{h.Start, h.End}
		if counted[h.Marker] || overlaps(used, sp) {
			continue
		}
		counted[h.Marker] = true
		used = append(used, sp)
		s.raw += d.w.MarkerBonus
		s.ev.VOSEIndicators = append(s.ev.VOSEIndicators, fmt.Sprintf("%s (%s marker)", h.Text, profile.ID))
	}
	if len(counted) > 0 {
		s.independent++
	}
	return profile
}

func timeLocation(loc *time.Location, profile *registry.Profile) *time.Location {
	switch {
	case loc != nil:
		return loc
	case profile != nil:
		return profile.TimeLocation()
	default:
		return madrid()
	}
}

func (d *Detector) scoreTimes(text string, start time.Time, loc *time.Location, s *score) {
	times := FindTimes(text)
	if !start.IsZero() {
		local := start.In(loc)
		ct := ClockTime{Hour: local.Hour(), Minute: local.Minute()}
		dup := false
		for _, t := range times {
			if t == ct {
				dup = true
			}
		}
		if !dup {
			times = append(times, ct)
		}
	}

	// Each distinct time counts in its window, with the same diminishing
	// returns and cap as a text category.
	var evening, matinee, afternoon []float64
	for _, t := range times {
		m := t.Minutes()
		switch {
		case m >= 18*60 && m <= 23*60:
			evening = append(evening, d.w.EveningBonus)
			s.ev.TimeIndicators = append(s.ev.TimeIndicators, t.String()+" evening")
		case m >= 10*60 && m < 15*60:
			matinee = append(matinee, d.w.MatineeBonus)
			s.ev.TimeIndicators = append(s.ev.TimeIndicators, t.String()+" matinee")
		case m >= 15*60 && m < 18*60:
			afternoon = append(afternoon, d.w.AfternoonPenalty)
			s.ev.TimeIndicators = append(s.ev.TimeIndicators, t.String()+" afternoon")
		default:
			s.ev.TimeIndicators = append(s.ev.TimeIndicators, t.String())
		}
	}
	if len(evening) > 0 {
		s.raw += d.diminish(d.w.EveningBonus, evening)
	}
	if len(matinee) > 0 {
		s.raw += d.diminish(d.w.MatineeBonus, matinee)
	}
	if len(afternoon) > 0 {
		s.raw += d.diminish(d.w.AfternoonPenalty, afternoon)
	}
}

func (d *Detector) scoreRegion(text, url string, s *score) {
	if d.w.regionRe == nil {
		return
	}
	m := d.w.regionRe.FindString(text)
	if m == "" {
		m = d.w.regionRe.FindString(url)
	}
	if m == "" {
		return
	}
	s.raw += d.w.RegionBonus
	s.ev.Reasons = append(s.ev.Reasons, "regional context: "+m)
}

var englishFunctionWords = map[string]bool{
	"the": true, "of": true, "and": true, "a": true, "an": true, "in": true,
	"on": true, "with": true, "to": true, "for": true, "my": true, "your": true,
	"is": true, "at": true, "from": true, "me": true, "you": true, "it": true,
}

// spanishLetters are the letters of the Spanish alphabet plus Catalan
// accents, none of which hint at a foreign-language title.
const spanishLetters = "abcdefghijlmnopqrstuvxyzáéíóúüñàèòçï"

func (d *Detector) scoreTitle(title string, s *score) {
	if strings.TrimSpace(title) == "" {
		return
	}
	lower := strings.ToLower(title)

	count := 0
	for _, w := range strings.FieldsFunc(lower, func(r rune) bool { return !unicode.IsLetter(r) }) {
		if englishFunctionWords[w] {
			count++
		}
	}
	if count >= 2 {
		s.raw += d.w.TitleEnglishBonus
		s.ev.VOSEIndicators = append(s.ev.VOSEIndicators, "english title words")
		s.independent++
	}

	for _, r := range lower {
		if unicode.IsLetter(r) && !strings.ContainsRune(spanishLetters, r) {
			s.raw += d.w.TitleForeignBonus
			s.ev.Reasons = append(s.ev.Reasons, fmt.Sprintf("non-Spanish letter %q in title", r))
			break
		}
	}
}

func (d *Detector) dominant(s score) bool {
	v, b := float64(s.voseText), float64(s.dubbedText)
	return v/b > d.w.ConflictRatio || b/v > d.w.ConflictRatio
}

func (d *Detector) resolveConflict(s *score) {
	if s.voseText == 0 || s.dubbedText == 0 {
		return
	}
	v, b := float64(s.voseText), float64(s.dubbedText)
	switch {
	case v/b > d.w.ConflictRatio:
		s.raw += d.w.ConflictShift
		s.ev.Reasons = append(s.ev.Reasons, fmt.Sprintf("conflict resolved for VOSE (%d vs %d)", s.voseText, s.dubbedText))
	case b/v > d.w.ConflictRatio:
		s.raw -= d.w.ConflictShift
		s.ev.Reasons = append(s.ev.Reasons, fmt.Sprintf("conflict resolved for dubbed (%d vs %d)", s.dubbedText, s.voseText))
	default:
		s.ev.Reasons = append(s.ev.Reasons, fmt.Sprintf("conflicting VOSE and dubbed evidence (%d vs %d), ambiguity penalty", s.voseText, s.dubbedText))
	}
}

func (d *Detector) language(conf float64, s score) model.Language {
	switch {
	case conf > d.w.LanguageThreshold && s.voseText+s.independent > 0:
		return model.LanguageVOSE
	case s.dubbedText > 0 && s.dubbedText > s.voseText:
		return model.LanguageSpanish
	case s.catalanText > 0:
		return model.LanguageCatalan
	default:
		return model.LanguageUnknown
	}
}

func sigmoid(x, k, m float64) float64 {
	return 1 / (1 + math.Exp(-k*(x-m)))
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

var madrid = sync.OnceValue(func() *time.Location {
	if loc, err := time.LoadLocation(registry.DefaultLocation); err == nil {
		return loc
	}
	return time.UTC
})
