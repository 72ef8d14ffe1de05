package resilience

import "time"

// FromRetryConfig builds a RetryConfig from the millisecond values used in
// config files. Zero or negative values keep the default; a negative jitter
// keeps the default jitter of zero.
func FromRetryConfig(maxAttempts, initialBackoffMs, maxBackoffMs int, multiplier, jitterFraction float64) RetryConfig {
	cfg := DefaultRetryConfig()
	cfg.MaxAttempts = positiveOr(maxAttempts, cfg.MaxAttempts)
	cfg.InitialBackoff = durationOr(initialBackoffMs, time.Millisecond, cfg.InitialBackoff)
	cfg.MaxBackoff = durationOr(maxBackoffMs, time.Millisecond, cfg.MaxBackoff)
	if multiplier > 0 {
		cfg.Multiplier = multiplier
	}
	if jitterFraction >= 0 {
		cfg.JitterFraction = jitterFraction
	}
	return cfg
}

// FromCircuitConfig builds a per-source breaker config. The cooldown is in
// seconds.
func FromCircuitConfig(failureThreshold, cooldownSecs int) CircuitBreakerConfig {
	cfg := DefaultCircuitBreakerConfig()
	cfg.FailureThreshold = positiveOr(failureThreshold, cfg.FailureThreshold)
	cfg.Cooldown = durationOr(cooldownSecs, time.Second, cfg.Cooldown)
	return cfg
}

func positiveOr(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

func durationOr(v int, unit, def time.Duration) time.Duration {
	if v > 0 {
		return time.Duration(v) * unit
	}
	return def
}
