package model

import "time"

// CircuitState is the persisted state name of a source circuit breaker.
type CircuitState string

const (
	CircuitClosed   CircuitState = "CLOSED"
	CircuitOpen     CircuitState = "OPEN"
	CircuitHalfOpen CircuitState = "HALF_OPEN"
)

// BreakerState is the durable snapshot of one source's circuit breaker.
type BreakerState struct {
	FailureCount  int          `json:"failure_count"`
	LastFailureAt *time.Time   `json:"last_failure_at"`
	State         CircuitState `json:"state"`
	NextAttemptAt *time.Time   `json:"next_attempt_at"`
}

// MaxHealthIssues bounds SourceHealth.Issues.
const MaxHealthIssues = 5

// SourceHealth is the rolling health view of one source.
type SourceHealth struct {
	IsHealthy      bool      `json:"is_healthy"`
	ResponseTimeMs int64     `json:"response_time_ms"`
	SuccessRate    float64   `json:"success_rate"`
	LastCheckedAt  time.Time `json:"last_checked_at"`
	Issues         []string  `json:"issues"`
}

// AddIssue appends an issue, keeping only the most recent MaxHealthIssues.
func (h *SourceHealth) AddIssue(issue string) {
	h.Issues = append(h.Issues, issue)
	if len(h.Issues) > MaxHealthIssues {
		h.Issues = append([]string(nil), h.Issues[len(h.Issues)-MaxHealthIssues:]...)
	}
}
