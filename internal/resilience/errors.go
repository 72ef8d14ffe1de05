package resilience

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"syscall"
)

// TransientError wraps an error that is safe to retry (e.g., 429, 5xx, network timeout).
type TransientError struct {
	Err        error
	StatusCode int
}

func (e *TransientError) Error() string {
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError wraps an error as transient with an optional HTTP status code.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

// PermanentError wraps an error that retrying cannot fix: missing pages,
// auth failures, anti-bot blocks, malformed payloads, DNS failures and
// sources that do not serve this region.
type PermanentError struct {
	Err        error
	StatusCode int
	Reason     string
}

func (e *PermanentError) Error() string {
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// NewPermanentError wraps an error as permanent with a short reason tag.
func NewPermanentError(err error, statusCode int, reason string) *PermanentError {
	return &PermanentError{Err: err, StatusCode: statusCode, Reason: reason}
}

// Permanent failure reasons.
const (
	ReasonNotFound      = "not_found"
	ReasonForbidden     = "forbidden"
	ReasonUnauthorized  = "unauthorized"
	ReasonBlocked       = "blocked"
	ReasonMalformed     = "malformed_response"
	ReasonDNS           = "dns_failure"
	ReasonNotApplicable = "region_not_applicable"
	ReasonCircuitOpen   = "circuit_open"
	ReasonCancelled     = "cancelled"
)

var permanentPatterns = []string{
	"404",
	"not found",
	"403",
	"forbidden",
	"401",
	"unauthorized",
	"cloudflare",
	"captcha",
	"blocked",
	"malformed",
	"no such host",
	"not applicable",
	"not available in your region",
	"circuit breaker is open",
}

var transientPatterns = []string{
	"connection reset by peer",
	"connection refused",
	"broken pipe",
	"timeout",
	"timed out",
	"deadline exceeded",
	"server closed idle connection",
	"transport connection broken",
	"eof",
	"429",
	"too many requests",
	"rate limit",
	"500",
	"502",
	"503",
	"504",
}

// IsTransient returns true if the error (or any error in its chain) is a
// TransientError, or if it matches common transient error patterns (network
// timeouts, connection resets).
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	return matchesAny(strings.ToLower(err.Error()), transientPatterns)
}

// IsRecoverable decides whether a failed source attempt is worth retrying.
// Permanent errors and caller cancellation are not; unknown errors are
// treated as recoverable.
func IsRecoverable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrCircuitOpen) {
		return false
	}

	var pe *PermanentError
	if errors.As(err, &pe) {
		return false
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && !dnsErr.IsTimeout && !dnsErr.IsTemporary {
		return false
	}

	if IsTransient(err) {
		return true
	}
	return IsRecoverableMessage(err.Error())
}

// IsRecoverableMessage classifies a bare error message, for adapters that
// report failures as strings.
func IsRecoverableMessage(msg string) bool {
	lower := strings.ToLower(msg)
	if matchesAny(lower, permanentPatterns) {
		return false
	}
	return true
}

// ClassifyError categorizes an error as "transient" or "permanent".
func ClassifyError(err error) string {
	if IsRecoverable(err) {
		return "transient"
	}
	return "permanent"
}

// IsTransientHTTPStatus returns true if the HTTP status code indicates a
// transient server-side issue that is safe to retry.
func IsTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests:
		return true
	default:
		return statusCode >= 500 && statusCode <= 599
	}
}

// PermanentReasonForStatus maps a non-retryable HTTP status to a reason tag.
// Returns "" for statuses that are not known to be permanent.
func PermanentReasonForStatus(statusCode int) string {
	switch statusCode {
	case http.StatusNotFound, http.StatusGone:
		return ReasonNotFound
	case http.StatusForbidden:
		return ReasonForbidden
	case http.StatusUnauthorized:
		return ReasonUnauthorized
	case http.StatusUnavailableForLegalReasons:
		return ReasonNotApplicable
	default:
		return ""
	}
}

func matchesAny(msg string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
