package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/vose-cli/internal/config"
	"github.com/sells-group/vose-cli/internal/resilience"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertCircuitOpen     AlertType = "circuit_open"
	AlertSourceUnhealthy AlertType = "source_unhealthy"
	AlertLowConfidence   AlertType = "low_confidence"
	AlertRunFailureRate  AlertType = "run_failure_rate"
)

// minRunsForRate is the history needed before rate alerts fire.
const minRunsForRate = 3

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a Snapshot against configured thresholds and sends
// alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
	retry  resilience.RetryConfig
	now    func() time.Time
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		retry: resilience.RetryConfig{
			MaxAttempts:    3,
			InitialBackoff: time.Second,
			MaxBackoff:     10 * time.Second,
			Multiplier:     2,
			ShouldRetry:    resilience.IsTransient,
			OnRetry:        resilience.RetryLogger("webhook", "send_alert"),
		},
		now: time.Now,
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *Snapshot) []Alert {
	var alerts []Alert
	now := a.now().UTC()

	if len(snap.OpenBreakers) > 0 {
		alerts = append(alerts, Alert{
			Type:     AlertCircuitOpen,
			Severity: "high",
			Message: fmt.Sprintf("%d source circuit(s) open: %s",
				len(snap.OpenBreakers), strings.Join(snap.OpenBreakers, ", ")),
			Details:   map[string]any{"sources": snap.OpenBreakers},
			Timestamp: now,
		})
	}

	if len(snap.UnhealthySources) > 0 {
		alerts = append(alerts, Alert{
			Type:     AlertSourceUnhealthy,
			Severity: "medium",
			Message: fmt.Sprintf("%d source(s) unhealthy: %s",
				len(snap.UnhealthySources), strings.Join(snap.UnhealthySources, ", ")),
			Details:   map[string]any{"sources": snap.UnhealthySources},
			Timestamp: now,
		})
	}

	if snap.Runs >= minRunsForRate && snap.RunFailRate > a.cfg.MaxFailureRate {
		alerts = append(alerts, Alert{
			Type:     AlertRunFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Run failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d runs)",
				snap.RunFailRate*100, a.cfg.MaxFailureRate*100, snap.FailedRuns, snap.Runs,
			),
			Details: map[string]any{
				"failure_rate": snap.RunFailRate,
				"threshold":    a.cfg.MaxFailureRate,
				"failed":       snap.FailedRuns,
				"runs":         snap.Runs,
			},
			Timestamp: now,
		})
	}

	if snap.TotalRecords > 0 && snap.AverageConfidence < a.cfg.MinAverageConfidence {
		alerts = append(alerts, Alert{
			Type:     AlertLowConfidence,
			Severity: "medium",
			Message: fmt.Sprintf("Average confidence %.2f is below %.2f over the last %d runs",
				snap.AverageConfidence, a.cfg.MinAverageConfidence, snap.Runs),
			Details: map[string]any{
				"average_confidence": snap.AverageConfidence,
				"threshold":          a.cfg.MinAverageConfidence,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		err := resilience.Do(ctx, a.retry, func(ctx context.Context) error {
			return a.sendWebhook(ctx, alert)
		})
		if err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

// sendWebhook posts a single alert to the webhook URL.
func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return resilience.NewTransientError(eris.Wrap(err, "monitoring: webhook request"), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resilience.IsTransientHTTPStatus(resp.StatusCode) {
		return resilience.NewTransientError(eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode), resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
