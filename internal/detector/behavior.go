package detector

import (
	"context"
	"fmt"

	"security-monitor/internal/model"
	"security-monitor/internal/profile"
)

// UserBehaviorDetector compares each event against the user's own activity
// history: which hours they are normally active and which event types they
// normally produce.
type UserBehaviorDetector struct {
	store *profile.Store
}

func NewUserBehaviorDetector(store *profile.Store) *UserBehaviorDetector {
	return &UserBehaviorDetector{store: store}
}

func (d *UserBehaviorDetector) Name() string {
	return "user_behavior"
}

func (d *UserBehaviorDetector) DetectAnomalies(_ context.Context, event *model.SecurityEvent) []model.Anomaly {
	if event.UserID == "" {
		return nil
	}

	var anomalies []model.Anomaly

	d.store.Use(event.UserID, func(p *profile.Profile) {
		section := p.BehaviorOf()

		hour := event.Timestamp.UTC().Hour()
		section.TotalEvents++
		section.HourCounts[hour]++
		section.EventTypeCounts[event.EventType]++
		if event.IPAddress != "" {
			section.IPAddresses[event.IPAddress] = struct{}{}
		}
		if event.UserAgent != "" {
			section.UserAgents[event.UserAgent] = struct{}{}
		}

		if section.TotalEvents >= minEventsForHourBaseline {
			share := float64(section.HourCounts[hour]) / float64(section.TotalEvents)
			if share < rareHourShare {
				anomalies = append(anomalies, model.Anomaly{
					Type:        "unusual_activity_hour",
					Severity:    model.SeverityMedium,
					Description: fmt.Sprintf("user %s rarely active at hour %02d (%.1f%% of history)", event.UserID, hour, share*100),
					Details: map[string]interface{}{
						"hour":         hour,
						"hour_share":   share,
						"total_events": section.TotalEvents,
					},
				})
			}
		}

		if section.TotalEvents >= minEventsForTypeBaseline {
			share := float64(section.EventTypeCounts[event.EventType]) / float64(section.TotalEvents)
			if share < rareTypeShare {
				anomalies = append(anomalies, model.Anomaly{
					Type:        "unusual_event_type",
					Severity:    model.SeverityLow,
					Description: fmt.Sprintf("event type %s is rare for user %s (%.1f%% of history)", event.EventType, event.UserID, share*100),
					Details: map[string]interface{}{
						"event_type":   string(event.EventType),
						"type_share":   share,
						"total_events": section.TotalEvents,
					},
				})
			}
		}
	})

	return anomalies
}
