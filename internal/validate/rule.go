// Package validate scores a batch of showtime candidates against an
// ordered list of rules and assigns each a verification status.
package validate

import (
	"time"

	"github.com/sells-group/vose-cli/internal/config"
	"github.com/sells-group/vose-cli/internal/model"
)

// Issue codes.
const (
	CodeInvalidTitle         = "INVALID_TITLE"
	CodeInvalidCinema        = "INVALID_CINEMA"
	CodeInvalidStartTime     = "INVALID_START_TIME"
	CodePastShowtime         = "PAST_SHOWTIME"
	CodeFarFutureShowtime    = "FAR_FUTURE_SHOWTIME"
	CodeUnusualHour          = "UNUSUAL_HOUR"
	CodeClassificationDrift  = "CLASSIFICATION_INCONSISTENT"
	CodeMixedLanguageSignals = "MIXED_LANGUAGE_SIGNALS"
	CodePotentialDuplicate   = "POTENTIAL_DUPLICATE"
	CodePlaceholderTitle     = "PLACEHOLDER_TITLE"
	CodeTitleTooLong         = "TITLE_TOO_LONG"
	CodeTitleHighSymbolRatio = "TITLE_HIGH_SYMBOL_RATIO"
	CodeLowSourceReliability = "LOW_SOURCE_RELIABILITY"
	CodeThinRawText          = "THIN_RAW_TEXT"
	CodeRuleExecutionError   = "RULE_EXECUTION_ERROR"
)

// Outcome is what a rule says about one record.
type Outcome struct {
	Valid   bool
	Penalty float64
	Issues  []model.Issue
}

// Rule checks one record. idx is the record's position in batch.
type Rule interface {
	Name() string
	Check(st *model.Showtime, idx int, batch []model.Showtime) (Outcome, error)
}

// BatchRule is a Rule that needs to see the whole batch first. Prepare
// returns the rule bound to that batch.
type BatchRule interface {
	Rule
	Prepare(batch []model.Showtime) Rule
}

// Settings holds the thresholds used by the built-in rules.
type Settings struct {
	PastWindow           time.Duration
	FutureWindow         time.Duration
	DuplicateWindow      time.Duration
	MaxPenalty           float64
	ReclassifyTolerance  float64
	ConfirmThreshold     float64
	MinSourceReliability float64
	MaxTitleLength       int
	MinRawTextLength     int
	MaxTitleSymbolRatio  float64
	UnusualHourStart     int
	UnusualHourEnd       int
	LowConfidenceAverage float64
	HighErrorRate        float64
}

// DefaultSettings returns the built-in thresholds.
func DefaultSettings() Settings {
	return Settings{
		PastWindow:           6 * time.Hour,
		FutureWindow:         28 * 24 * time.Hour,
		DuplicateWindow:      60 * time.Second,
		MaxPenalty:           0.8,
		ReclassifyTolerance:  0.2,
		ConfirmThreshold:     0.8,
		MinSourceReliability: 0.75,
		MaxTitleLength:       100,
		MinRawTextLength:     20,
		MaxTitleSymbolRatio:  0.3,
		UnusualHourStart:     2,
		UnusualHourEnd:       6,
		LowConfidenceAverage: 0.7,
		HighErrorRate:        0.1,
	}
}

// SettingsFromConfig converts the validation config section.
func SettingsFromConfig(c config.ValidationConfig) Settings {
	s := Settings{
		PastWindow:           time.Duration(c.PastWindowHours) * time.Hour,
		FutureWindow:         time.Duration(c.FutureWindowDays) * 24 * time.Hour,
		DuplicateWindow:      time.Duration(c.DuplicateWindowSecs) * time.Second,
		MaxPenalty:           c.MaxPenalty,
		ReclassifyTolerance:  c.ReclassifyTolerance,
		ConfirmThreshold:     c.ConfirmThreshold,
		MinSourceReliability: c.MinSourceReliability,
		MaxTitleLength:       c.MaxTitleLength,
		MinRawTextLength:     c.MinRawTextLength,
		MaxTitleSymbolRatio:  c.MaxTitleSymbolRatio,
		UnusualHourStart:     c.UnusualHourStart,
		UnusualHourEnd:       c.UnusualHourEnd,
		LowConfidenceAverage: c.LowConfidenceAverage,
		HighErrorRate:        c.HighErrorRate,
	}
	d := DefaultSettings()
	if s.PastWindow <= 0 {
		s.PastWindow = d.PastWindow
	}
	if s.FutureWindow <= 0 {
		s.FutureWindow = d.FutureWindow
	}
	if s.DuplicateWindow <= 0 {
		s.DuplicateWindow = d.DuplicateWindow
	}
	if s.MaxPenalty <= 0 || s.MaxPenalty >= 1 {
		s.MaxPenalty = d.MaxPenalty
	}
	if s.ConfirmThreshold <= 0 {
		s.ConfirmThreshold = d.ConfirmThreshold
	}
	if s.MaxTitleLength <= 0 {
		s.MaxTitleLength = d.MaxTitleLength
	}
	if s.UnusualHourStart == 0 && s.UnusualHourEnd == 0 {
		s.UnusualHourStart, s.UnusualHourEnd = d.UnusualHourStart, d.UnusualHourEnd
	}
	return s
}

func issue(rule, code string, sev model.Severity, idx int, msg string) model.Issue {
	return model.Issue{Code: code, Severity: sev, Rule: rule, Message: msg, Index: idx}
}
