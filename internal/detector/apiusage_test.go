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

func apiEvent(eventType model.EventType, userID, ip, endpoint string, ts time.Time) *model.SecurityEvent {
	e := newTestEvent(eventType, userID, ip, ts)
	e.RequestURL = endpoint
	return e
}

func TestAPIUsageDetectorRateLimitViolations(t *testing.T) {
	d := NewAPIUsageDetector(profile.NewStore())
	base := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 4; i++ {
		anomalies := d.DetectAnomalies(context.Background(),
			apiEvent(model.EventRateLimitTrigger, "u1", "10.0.0.1", "", base.Add(time.Duration(i)*time.Hour)))
		require.Empty(t, anomalies, "violation %d should stay under threshold", i+1)
	}

	anomalies := d.DetectAnomalies(context.Background(),
		apiEvent(model.EventRateLimitTrigger, "u1", "10.0.0.1", "", base.Add(5*time.Hour)))
	require.Len(t, anomalies, 1)
	assert.Equal(t, "excessive_rate_limit_violations", anomalies[0].Type)
	assert.Equal(t, model.SeverityHigh, anomalies[0].Severity)
	assert.Equal(t, 5, anomalies[0].Details["violations"])
}

func TestAPIUsageDetectorRapidRequests(t *testing.T) {
	d := NewAPIUsageDetector(profile.NewStore())
	base := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	var last []model.Anomaly
	for i := 0; i < 20; i++ {
		last = d.DetectAnomalies(context.Background(),
			apiEvent(model.EventAPIAccess, "u1", "10.0.0.1", "/api/v1/accounts", base.Add(time.Duration(i)*time.Second)))
	}
	require.Len(t, last, 1)
	assert.Equal(t, "rapid_api_requests", last[0].Type)
	assert.Equal(t, model.SeverityMedium, last[0].Severity)
}

func TestAPIUsageDetectorUnusualEndpoint(t *testing.T) {
	d := NewAPIUsageDetector(profile.NewStore())
	base := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 30; i++ {
		d.DetectAnomalies(context.Background(),
			apiEvent(model.EventAPIAccess, "u1", "10.0.0.1", "/api/v1/accounts", base.Add(time.Duration(i)*time.Hour)))
	}

	anomalies := d.DetectAnomalies(context.Background(),
		apiEvent(model.EventAPIAccess, "u1", "10.0.0.1", "/api/v1/exports", base.Add(31*time.Hour)))
	require.Len(t, anomalies, 1)
	assert.Equal(t, "unusual_endpoint_usage", anomalies[0].Type)
}

func TestAPIUsageDetectorSeparateStatePerIP(t *testing.T) {
	d := NewAPIUsageDetector(profile.NewStore())
	base := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 4; i++ {
		d.DetectAnomalies(context.Background(),
			apiEvent(model.EventRateLimitTrigger, "u1", "10.0.0.1", "", base.Add(time.Duration(i)*time.Hour)))
	}

	// Violations from a different source IP start from zero.
	anomalies := d.DetectAnomalies(context.Background(),
		apiEvent(model.EventRateLimitTrigger, "u1", "10.0.0.2", "", base.Add(5*time.Hour)))
	assert.Empty(t, anomalies)
}

func TestAPIUsageDetectorRequiresUserAndIP(t *testing.T) {
	d := NewAPIUsageDetector(profile.NewStore())
	now := time.Now().UTC()
	assert.Nil(t, d.DetectAnomalies(context.Background(), apiEvent(model.EventAPIAccess, "", "10.0.0.1", "/x", now)))
	assert.Nil(t, d.DetectAnomalies(context.Background(), apiEvent(model.EventAPIAccess, "u1", "", "/x", now)))
}
