// Package notify turns accepted scan records into alert records and
// best-effort email deliveries.
package notify

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gitwizard/gitwizard/pkg/store"
)

// AlertStore is the slice of the persistence layer the dispatcher needs.
type AlertStore interface {
	AddAlert(userID, scanRecordID, channel string) (store.Alert, error)
	UpdateAlertStatus(id, status string, sentAt *time.Time) error
}

// Sender delivers one alert email.
type Sender interface {
	SendSecretAlert(ctx context.Context, user store.User, scan store.ScanRecord, repo store.Repository) error
}

// Dispatcher creates a pending alert for each accepted finding, attempts the
// email once, and records the terminal outcome. It never retries and never
// fails its caller: webhook processing must not be blocked by a mail outage.
type Dispatcher struct {
	alerts AlertStore
	sender Sender
}

func NewDispatcher(alerts AlertStore, sender Sender) *Dispatcher {
	return &Dispatcher{alerts: alerts, sender: sender}
}

// Dispatch runs the pending → sent|failed lifecycle for one scan record.
// It returns the terminal alert status for observability; all errors are
// absorbed and logged.
func (d *Dispatcher) Dispatch(ctx context.Context, user store.User, scan store.ScanRecord, repo store.Repository) string {
	alert, err := d.alerts.AddAlert(user.ID, scan.ID, store.AlertChannelEmail)
	if err != nil {
		log.Error().Err(err).Str("scanRecordId", scan.ID).Msg("Failed creating alert record")
		return ""
	}

	if err := d.sender.SendSecretAlert(ctx, user, scan, repo); err != nil {
		log.Warn().Err(err).Str("alertId", alert.ID).Str("user", user.Email).Msg("Failed sending secret alert email")
		d.updateStatus(alert.ID, store.AlertStatusFailed, nil)
		return store.AlertStatusFailed
	}

	now := time.Now().UTC()
	d.updateStatus(alert.ID, store.AlertStatusSent, &now)
	log.Info().Str("alertId", alert.ID).Str("user", user.Email).Str("kind", string(scan.Kind)).Msg("Secret alert sent")
	return store.AlertStatusSent
}

func (d *Dispatcher) updateStatus(alertID, status string, sentAt *time.Time) {
	if err := d.alerts.UpdateAlertStatus(alertID, status, sentAt); err != nil {
		log.Error().Err(err).Str("alertId", alertID).Str("status", status).Msg("Failed updating alert status")
	}
}
