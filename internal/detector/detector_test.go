package detector

import (
	"time"

	"security-monitor/internal/model"
)

// newTestEvent builds a minimal event for detector tests.
func newTestEvent(eventType model.EventType, userID, ip string, ts time.Time) *model.SecurityEvent {
	return &model.SecurityEvent{
		EventID:   "test-event",
		EventType: eventType,
		Severity:  model.SeverityInfo,
		Timestamp: ts,
		UserID:    userID,
		IPAddress: ip,
		Details:   make(map[string]interface{}),
	}
}

func anomalyTypes(anomalies []model.Anomaly) []string {
	types := make([]string, 0, len(anomalies))
	for _, a := range anomalies {
		types = append(types, a.Type)
	}
	return types
}
