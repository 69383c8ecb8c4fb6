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

func TestTemporalDetectorLongInactivity(t *testing.T) {
	d := NewTemporalDetector(profile.NewStore())
	base := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	require.Empty(t, d.DetectAnomalies(context.Background(), newTestEvent(model.EventAPIAccess, "u1", "", base)))

	// 200 hours of silence crosses the one-week threshold.
	anomalies := d.DetectAnomalies(context.Background(), newTestEvent(model.EventAPIAccess, "u1", "", base.Add(200*time.Hour)))
	require.Len(t, anomalies, 1)
	assert.Equal(t, "long_inactivity_period", anomalies[0].Type)
	assert.Equal(t, model.SeverityMedium, anomalies[0].Severity)
	assert.InDelta(t, 200.0, anomalies[0].Details["inactive_hours"], 0.01)
}

func TestTemporalDetectorShortGapIsQuiet(t *testing.T) {
	d := NewTemporalDetector(profile.NewStore())
	base := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	d.DetectAnomalies(context.Background(), newTestEvent(model.EventAPIAccess, "u1", "", base))
	anomalies := d.DetectAnomalies(context.Background(), newTestEvent(model.EventAPIAccess, "u1", "", base.Add(24*time.Hour)))
	assert.Empty(t, anomalies)
}

func TestTemporalDetectorUnusualHour(t *testing.T) {
	d := NewTemporalDetector(profile.NewStore())
	base := time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)

	// A month of daily activity at 10:00.
	for i := 0; i < 30; i++ {
		d.DetectAnomalies(context.Background(), newTestEvent(model.EventAPIAccess, "u1", "", base.AddDate(0, 0, i)))
	}

	// Then one event at 03:00.
	night := base.AddDate(0, 0, 30).Add(-7 * time.Hour)
	anomalies := d.DetectAnomalies(context.Background(), newTestEvent(model.EventAPIAccess, "u1", "", night))
	types := anomalyTypes(anomalies)
	assert.Contains(t, types, "unusual_activity_hour")
	assert.NotContains(t, types, "long_inactivity_period")
}

func TestTemporalDetectorRequiresUser(t *testing.T) {
	d := NewTemporalDetector(profile.NewStore())
	assert.Nil(t, d.DetectAnomalies(context.Background(), newTestEvent(model.EventAPIAccess, "", "", time.Now().UTC())))
}
