package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/prospect-cli/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertSearchFailureRate AlertType = "search_failure_rate"
	AlertBackupStale       AlertType = "backup_stale"
	AlertCircuitOpen       AlertType = "backup_circuit_open"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a MetricsSnapshot against configured thresholds
// and sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := snap.CollectedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}

	if snap.SearchTotal >= 5 && snap.SearchFailRate > a.cfg.FailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertSearchFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Search failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d in last %dh)",
				snap.SearchFailRate*100, a.cfg.FailureRateThreshold*100,
				snap.SearchFailed, snap.SearchTotal, snap.LookbackHours,
			),
			Details: map[string]any{
				"failure_rate": snap.SearchFailRate,
				"threshold":    a.cfg.FailureRateThreshold,
				"failed":       snap.SearchFailed,
				"total":        snap.SearchTotal,
			},
			Timestamp: now,
		})
	}

	if a.cfg.BackupStaleMins > 0 && snap.Backup.Pending {
		limit := time.Duration(a.cfg.BackupStaleMins) * time.Minute
		last := snap.Backup.LastBackupAt
		if !last.IsZero() && now.Sub(last) > limit {
			alerts = append(alerts, Alert{
				Type:     AlertBackupStale,
				Severity: "medium",
				Message: fmt.Sprintf(
					"Unsaved changes have not reached the remote backup for %s (limit %s)",
					now.Sub(last).Truncate(time.Minute), limit,
				),
				Details: map[string]any{
					"last_backup_at": last,
					"last_error":     snap.Backup.LastError,
				},
				Timestamp: now,
			})
		}
	}

	if snap.Backup.Circuit == "open" {
		alerts = append(alerts, Alert{
			Type:     AlertCircuitOpen,
			Severity: "high",
			Message:  "Remote backup circuit is open; backups are being skipped",
			Details: map[string]any{
				"last_error": snap.Backup.LastError,
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
		if err := a.sendWebhook(ctx, alert); err != nil {
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
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
