package validate

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/sells-group/vose-cli/internal/classify"
	"github.com/sells-group/vose-cli/internal/model"
	"github.com/sells-group/vose-cli/internal/registry"
)

// Per-issue penalties.
const (
	penaltyInvalidField     = 0.5
	penaltyPast             = 0.3
	penaltyFarFuture        = 0.1
	penaltyUnusualHour      = 0.05
	penaltyInconsistent     = 0.1
	penaltyMixedSignals     = 0.05
	penaltyDuplicate        = 0.1
	penaltyPlaceholderTitle = 0.2
	penaltyTitleTooLong     = 0.05
	penaltySymbolRatio      = 0.05
	penaltyLowReliability   = 0.05
	penaltyThinRawText      = 0.05
)

// RequiredFields rejects records missing a usable title, cinema or start time.
type RequiredFields struct{}

func (RequiredFields) Name() string { return "required_fields" }

func (r RequiredFields) Check(st *model.Showtime, idx int, _ []model.Showtime) (Outcome, error) {
	out := Outcome{Valid: true}
	fail := func(code, msg string) {
		out.Valid = false
		out.Penalty += penaltyInvalidField
		out.Issues = append(out.Issues, issue(r.Name(), code, model.SeverityError, idx, msg))
	}
	if utf8.RuneCountInString(strings.TrimSpace(st.MovieTitle)) < 2 {
		fail(CodeInvalidTitle, fmt.Sprintf("title %q is shorter than 2 characters", st.MovieTitle))
	}
	if utf8.RuneCountInString(strings.TrimSpace(st.CinemaName)) < 3 {
		fail(CodeInvalidCinema, fmt.Sprintf("cinema name %q is shorter than 3 characters", st.CinemaName))
	}
	if !validInstant(st.StartTime) {
		fail(CodeInvalidStartTime, "start time is missing or invalid")
	}
	return out, nil
}

func validInstant(t time.Time) bool {
	return !t.IsZero() && t.Year() >= 1970 && t.Year() < 3000
}

// TemporalRange flags showings that are in the past, too far ahead, or at
// hours when cinemas are closed.
type TemporalRange struct {
	Now          func() time.Time
	PastWindow   time.Duration
	FutureWindow time.Duration
	HourStart    int
	HourEnd      int
	Registry     *registry.Registry
}

func (TemporalRange) Name() string { return "temporal_range" }

func (r TemporalRange) Check(st *model.Showtime, idx int, _ []model.Showtime) (Outcome, error) {
	out := Outcome{Valid: true}
	if !validInstant(st.StartTime) {
		return out, nil
	}
	now := r.Now()
	switch {
	case st.StartTime.Before(now.Add(-r.PastWindow)):
		out.Penalty += penaltyPast
		out.Issues = append(out.Issues, issue(r.Name(), CodePastShowtime, model.SeverityWarning, idx,
			fmt.Sprintf("showtime started %s ago", now.Sub(st.StartTime).Round(time.Minute))))
	case st.StartTime.After(now.Add(r.FutureWindow)):
		out.Penalty += penaltyFarFuture
		out.Issues = append(out.Issues, issue(r.Name(), CodeFarFutureShowtime, model.SeverityWarning, idx,
			fmt.Sprintf("showtime is more than %d days ahead", int(r.FutureWindow.Hours()/24))))
	}

	local := st.StartTime.In(locationFor(r.Registry, st.SourceID))
	if h := local.Hour(); h >= r.HourStart && h < r.HourEnd {
		out.Penalty += penaltyUnusualHour
		out.Issues = append(out.Issues, issue(r.Name(), CodeUnusualHour, model.SeverityWarning, idx,
			fmt.Sprintf("showtime at %s is outside normal opening hours", local.Format("15:04"))))
	}
	return out, nil
}

func locationFor(reg *registry.Registry, id model.SourceID) *time.Location {
	if reg != nil {
		if p, ok := reg.Get(id); ok {
			return p.TimeLocation()
		}
	}
	return (&registry.Profile{}).TimeLocation()
}

// Reclassification re-runs the detector over the raw text and flags drift
// from the stored classifier confidence.
type Reclassification struct {
	Detector  *classify.Detector
	Registry  *registry.Registry
	Tolerance float64
}

func (Reclassification) Name() string { return "reclassification" }

func (r Reclassification) Check(st *model.Showtime, idx int, _ []model.Showtime) (Outcome, error) {
	out := Outcome{Valid: true}
	if strings.TrimSpace(st.RawText) == "" {
		return out, nil
	}
	var url string
	if p, ok := r.Registry.Get(st.SourceID); ok {
		url = p.URL
	}
	res := r.Detector.Detect(classify.Input{
		Text:      st.RawText,
		Title:     st.MovieTitle,
		URL:       url,
		Source:    st.SourceID,
		StartTime: st.StartTime,
	})
	if diff := math.Abs(res.Confidence - st.BaseConfidence()); diff > r.Tolerance {
		out.Penalty += penaltyInconsistent
		out.Issues = append(out.Issues, issue(r.Name(), CodeClassificationDrift, model.SeverityInfo, idx,
			fmt.Sprintf("recomputed confidence %.2f differs from stored %.2f", res.Confidence, st.BaseConfidence())))
	}
	if res.HasConflict() {
		out.Penalty += penaltyMixedSignals
		out.Issues = append(out.Issues, issue(r.Name(), CodeMixedLanguageSignals, model.SeverityInfo, idx,
			fmt.Sprintf("both VOSE %v and dubbed %v signals present", res.Evidence.VOSEIndicators, res.Evidence.DubbedIndicators)))
	}
	return out, nil
}

// Duplicates flags records with the same title and cinema starting within
// Window of each other. Every member of a pair is flagged.
type Duplicates struct {
	Window time.Duration

	partners map[int]int
}

func (Duplicates) Name() string { return "duplicates" }

// Prepare implements BatchRule.
func (r Duplicates) Prepare(batch []model.Showtime) Rule {
	return Duplicates{Window: r.Window, partners: duplicatePartners(batch, r.Window)}
}

func (r Duplicates) Check(st *model.Showtime, idx int, batch []model.Showtime) (Outcome, error) {
	if r.partners == nil {
		r = r.Prepare(batch).(Duplicates)
	}
	out := Outcome{Valid: true}
	if partner, ok := r.partners[idx]; ok {
		out.Penalty += penaltyDuplicate
		out.Issues = append(out.Issues, issue(r.Name(), CodePotentialDuplicate, model.SeverityWarning, idx,
			fmt.Sprintf("%q at %s looks like a duplicate of record %d", st.MovieTitle, st.CinemaName, partner)))
	}
	return out, nil
}

// duplicateKey is the normalized identity of a showing, without its time.
func duplicateKey(st *model.Showtime) string {
	return classify.Normalize(st.MovieTitle) + "|" + classify.Normalize(st.CinemaName)
}

// showingsByKey returns, per duplicate key, the indices of records with a
// valid start time ordered by start time. Keys keep first-seen batch order.
func showingsByKey(batch []model.Showtime) [][]int {
	byKey := make(map[string]int)
	var lists [][]int
	for i := range batch {
		if !validInstant(batch[i].StartTime) {
			continue
		}
		k := duplicateKey(&batch[i])
		pos, ok := byKey[k]
		if !ok {
			pos = len(lists)
			byKey[k] = pos
			lists = append(lists, nil)
		}
		lists[pos] = append(lists[pos], i)
	}
	for _, idxs := range lists {
		sort.SliceStable(idxs, func(a, b int) bool {
			return batch[idxs[a]].StartTime.Before(batch[idxs[b]].StartTime)
		})
	}
	return lists
}

// duplicatePartners maps every record that has a same-key neighbour within
// window to its nearest such neighbour.
func duplicatePartners(batch []model.Showtime, window time.Duration) map[int]int {
	partners := make(map[int]int)
	for _, idxs := range showingsByKey(batch) {
		for pos, i := range idxs {
			best, bestGap := -1, window+1
			for _, n := range []int{pos - 1, pos + 1} {
				if n < 0 || n >= len(idxs) {
					continue
				}
				gap := absDuration(batch[idxs[n]].StartTime.Sub(batch[i].StartTime))
				if gap <= window && gap < bestGap {
					best, bestGap = idxs[n], gap
				}
			}
			if best >= 0 {
				partners[i] = best
			}
		}
	}
	return partners
}

// duplicateGroups returns index groups (size ≥2, in batch order) of records
// sharing a key that are chained by start times at most window apart.
func duplicateGroups(batch []model.Showtime, window time.Duration) [][]int {
	var groups [][]int
	for _, idxs := range showingsByKey(batch) {
		group := []int{idxs[0]}
		for pos := 1; pos <= len(idxs); pos++ {
			if pos < len(idxs) && batch[idxs[pos]].StartTime.Sub(batch[idxs[pos-1]].StartTime) <= window {
				group = append(group, idxs[pos])
				continue
			}
			if len(group) > 1 {
				sort.Ints(group)
				groups = append(groups, group)
			}
			if pos < len(idxs) {
				group = []int{idxs[pos]}
			}
		}
	}
	return groups
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

var placeholderTitles = map[string]bool{
	"unknown movie":   true,
	"unknown":         true,
	"untitled":        true,
	"sin titulo":      true,
	"pelicula":        true,
	"movie":           true,
	"film":            true,
	"tba":             true,
	"tbc":             true,
	"por determinar":  true,
	"proximamente":    true,
	"pendiente":       true,
	"titulo":          true,
	"title":           true,
	"sesion especial": true,
}

// TitleQuality flags placeholder, overlong and symbol-heavy titles.
type TitleQuality struct {
	MaxLength      int
	MaxSymbolRatio float64
}

func (TitleQuality) Name() string { return "title_quality" }

func (r TitleQuality) Check(st *model.Showtime, idx int, _ []model.Showtime) (Outcome, error) {
	out := Outcome{Valid: true}
	title := strings.TrimSpace(st.MovieTitle)
	if title == "" {
		return out, nil
	}
	if placeholderTitles[classify.Normalize(title)] {
		out.Penalty += penaltyPlaceholderTitle
		out.Issues = append(out.Issues, issue(r.Name(), CodePlaceholderTitle, model.SeverityWarning, idx,
			fmt.Sprintf("title %q is a placeholder", title)))
	}
	if n := utf8.RuneCountInString(title); n > r.MaxLength {
		out.Penalty += penaltyTitleTooLong
		out.Issues = append(out.Issues, issue(r.Name(), CodeTitleTooLong, model.SeverityInfo, idx,
			fmt.Sprintf("title has %d characters (max %d)", n, r.MaxLength)))
	}
	if ratio := symbolRatio(title); ratio > r.MaxSymbolRatio {
		out.Penalty += penaltySymbolRatio
		out.Issues = append(out.Issues, issue(r.Name(), CodeTitleHighSymbolRatio, model.SeverityInfo, idx,
			fmt.Sprintf("%.0f%% of the title is symbols", ratio*100)))
	}
	return out, nil
}

// symbolRatio is the share of non-space runes that are not letters or digits.
func symbolRatio(s string) float64 {
	var total, symbols int
	for _, r := range s {
		if unicode.IsSpace(r) {
			continue
		}
		total++
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			symbols++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(symbols) / float64(total)
}

// SourceReliability flags records from sources with a weak track record
// and records whose raw text is too short to classify well.
type SourceReliability struct {
	Registry   *registry.Registry
	MinPrior   float64
	MinRawText int
}

func (SourceReliability) Name() string { return "source_reliability" }

func (r SourceReliability) Check(st *model.Showtime, idx int, _ []model.Showtime) (Outcome, error) {
	out := Outcome{Valid: true}
	if prior := r.Registry.Reliability(st.SourceID); prior < r.MinPrior {
		out.Penalty += penaltyLowReliability
		out.Issues = append(out.Issues, issue(r.Name(), CodeLowSourceReliability, model.SeverityInfo, idx,
			fmt.Sprintf("source %q has reliability %.2f", st.SourceID, prior)))
	}
	if n := utf8.RuneCountInString(strings.TrimSpace(st.RawText)); n < r.MinRawText {
		out.Penalty += penaltyThinRawText
		out.Issues = append(out.Issues, issue(r.Name(), CodeThinRawText, model.SeverityInfo, idx,
			fmt.Sprintf("raw text has only %d characters", n)))
	}
	return out, nil
}
