package clickhouse

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"security-monitor/internal/client"
	"security-monitor/internal/model"
	"security-monitor/internal/util"
)

const insertAlertQuery = `INSERT INTO security_alerts (
	alert_id, alert_type, severity, description, details, recommendations,
	status, user_id, ip_address, created_at, updated_at, expires_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// AlertRepository persists generated alerts. History is append-only;
// expiry updates touch only the status column.
type AlertRepository struct {
	ch     *client.ClickHouseClient
	logger *zap.Logger
}

func NewAlertRepository(ch *client.ClickHouseClient, logger *zap.Logger) *AlertRepository {
	return &AlertRepository{ch: ch, logger: logger}
}

func (r *AlertRepository) Insert(ctx context.Context, alert *model.Alert) error {
	detailsJSON := "{}"
	if len(alert.Details) > 0 {
		raw, err := json.Marshal(alert.Details)
		if err != nil {
			util.Warn("failed to marshal alert details",
				zap.String("alert_id", alert.AlertID),
				zap.Error(err))
		} else {
			detailsJSON = string(raw)
		}
	}

	err := r.ch.Exec(ctx, insertAlertQuery,
		alert.AlertID,
		string(alert.Type),
		string(alert.Severity),
		alert.Description,
		detailsJSON,
		alert.Recommendations,
		string(alert.Status),
		alert.UserID,
		alert.IPAddress,
		alert.CreatedAt,
		alert.UpdatedAt,
		alert.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert alert: %w", err)
	}
	return nil
}

// MarkResolved records an alert leaving the active set.
func (r *AlertRepository) MarkResolved(ctx context.Context, alertID string) error {
	if err := r.ch.Exec(ctx,
		"ALTER TABLE security_alerts UPDATE status = 'resolved' WHERE alert_id = ?",
		alertID); err != nil {
		return fmt.Errorf("failed to mark alert resolved: %w", err)
	}
	return nil
}
