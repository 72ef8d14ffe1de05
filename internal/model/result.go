package model

import "time"

// Severity ranks validation issues.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Issue is a single finding raised by a validation rule.
type Issue struct {
	Code     string   `json:"code"`
	Severity Severity `json:"severity"`
	Rule     string   `json:"rule"`
	Message  string   `json:"message"`

	// Index is the position of the record in the validated batch.
	Index int `json:"index"`
}

// ValidationReport summarizes one validation pass over a batch.
type ValidationReport struct {
	Total             int            `json:"total"`
	Valid             int            `json:"valid"`
	Invalid           int            `json:"invalid"`
	Errors            int            `json:"errors"`
	Warnings          int            `json:"warnings"`
	Infos             int            `json:"infos"`
	AverageConfidence float64        `json:"average_confidence"`
	IssueCounts       map[string]int `json:"issue_counts"`
	TopIssues         []string       `json:"top_issues"`
	Recommendations   []string       `json:"recommendations"`
	Issues            []Issue        `json:"issues,omitempty"`
	GeneratedAt       time.Time      `json:"generated_at"`
}

// ScrapingError is a structured record of one failed source attempt.
type ScrapingError struct {
	ID          string            `json:"id"`
	RunID       string            `json:"run_id,omitempty"`
	Source      SourceID          `json:"source"`
	Message     string            `json:"message"`
	Timestamp   time.Time         `json:"timestamp"`
	Attempt     int               `json:"attempt"`
	Recoverable bool              `json:"recoverable"`
	Context     map[string]string `json:"context,omitempty"`
}

// SourceOutcome is the per-source detail of a run.
type SourceOutcome struct {
	Source         SourceID     `json:"source"`
	Success        bool         `json:"success"`
	Skipped        bool         `json:"skipped"`
	Attempts       int          `json:"attempts"`
	Records        int          `json:"records"`
	ResponseTimeMs int64        `json:"response_time_ms"`
	BreakerState   CircuitState `json:"breaker_state"`
	Error          string       `json:"error,omitempty"`
}

// PerformanceMetrics aggregates timings for a single run. The orchestrator
// keeps a capped history of these.
type PerformanceMetrics struct {
	RunID                 string    `json:"run_id"`
	StartedAt             time.Time `json:"started_at"`
	TotalDurationMs       int64     `json:"total_duration_ms"`
	AverageResponseTimeMs int64     `json:"average_response_time_ms"`
	SuccessfulSources     int       `json:"successful_sources"`
	FailedSources         int       `json:"failed_sources"`
	TotalRecords          int       `json:"total_records"`
	ValidRecords          int       `json:"valid_records"`
	AverageConfidence     float64   `json:"average_confidence"`
}

// ScrapingResult is the caller-facing outcome of Orchestrator.Run.
type ScrapingResult struct {
	Success   bool               `json:"success"`
	RunID     string             `json:"run_id"`
	Showtimes []Showtime         `json:"showtimes"`
	Sources   []SourceOutcome    `json:"sources"`
	Errors    []ScrapingError    `json:"errors"`
	Report    ValidationReport   `json:"report"`
	Metrics   PerformanceMetrics `json:"metrics"`
}
