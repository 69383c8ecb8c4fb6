package detector

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"security-monitor/internal/model"
	"security-monitor/internal/profile"
)

func TestUserBehaviorDetectorUnusualHour(t *testing.T) {
	d := NewUserBehaviorDetector(profile.NewStore())
	base := time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 30; i++ {
		require.Empty(t, d.DetectAnomalies(context.Background(),
			newTestEvent(model.EventAPIAccess, "u1", "10.0.0.1", base.AddDate(0, 0, i))))
	}

	night := base.AddDate(0, 0, 30).Add(-7 * time.Hour)
	anomalies := d.DetectAnomalies(context.Background(), newTestEvent(model.EventAPIAccess, "u1", "10.0.0.1", night))
	require.Len(t, anomalies, 1)
	assert.Equal(t, "unusual_activity_hour", anomalies[0].Type)
	assert.Equal(t, model.SeverityMedium, anomalies[0].Severity)
}

func TestUserBehaviorDetectorUnusualEventType(t *testing.T) {
	d := NewUserBehaviorDetector(profile.NewStore())
	base := time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 30; i++ {
		d.DetectAnomalies(context.Background(), newTestEvent(model.EventAPIAccess, "u1", "10.0.0.1", base.AddDate(0, 0, i)))
	}

	// Same hour as the baseline, but a type this user never produces.
	anomalies := d.DetectAnomalies(context.Background(), newTestEvent(model.EventAdminAction, "u1", "10.0.0.1", base.AddDate(0, 0, 30)))
	require.Len(t, anomalies, 1)
	assert.Equal(t, "unusual_event_type", anomalies[0].Type)
	assert.Equal(t, model.SeverityLow, anomalies[0].Severity)
}

func TestUserBehaviorDetectorSmallHistoryIsQuiet(t *testing.T) {
	d := NewUserBehaviorDetector(profile.NewStore())
	base := time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)

	// Not enough history for any share to be meaningful.
	for i := 0; i < 5; i++ {
		assert.Empty(t, d.DetectAnomalies(context.Background(),
			newTestEvent(model.EventType([]string{"api_access", "data_access", "admin_action", "auth_success", "config_change"}[i]), "u1", "10.0.0.1", base.Add(time.Duration(i)*time.Hour))))
	}
}

func TestUserBehaviorDetectorRequiresUser(t *testing.T) {
	d := NewUserBehaviorDetector(profile.NewStore())
	assert.Nil(t, d.DetectAnomalies(context.Background(), newTestEvent(model.EventAPIAccess, "", "10.0.0.1", time.Now().UTC())))
}
