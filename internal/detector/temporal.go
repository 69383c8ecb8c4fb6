package detector

import (
	"context"
	"fmt"
	"time"

	"security-monitor/internal/model"
	"security-monitor/internal/profile"
)

const inactivityThreshold = 168 * time.Hour

// TemporalDetector keeps hour/day/month activity histograms per user and
// watches for activity at unusual times or after long dormancy. Dormant
// accounts that suddenly wake up are a common takeover signal.
type TemporalDetector struct {
	store *profile.Store
}

func NewTemporalDetector(store *profile.Store) *TemporalDetector {
	return &TemporalDetector{store: store}
}

func (d *TemporalDetector) Name() string {
	return "temporal"
}

func (d *TemporalDetector) DetectAnomalies(_ context.Context, event *model.SecurityEvent) []model.Anomaly {
	if event.UserID == "" {
		return nil
	}

	var anomalies []model.Anomaly

	d.store.Use(event.UserID, func(p *profile.Profile) {
		section := p.TemporalOf()
		ts := event.Timestamp.UTC()

		// Inactivity is judged against the previous activity record,
		// before this event is folded in.
		if !section.LastActivity.IsZero() {
			gap := ts.Sub(section.LastActivity)
			if gap > inactivityThreshold {
				anomalies = append(anomalies, model.Anomaly{
					Type:        "long_inactivity_period",
					Severity:    model.SeverityMedium,
					Description: fmt.Sprintf("activity after %.0f hours of silence", gap.Hours()),
					Details: map[string]interface{}{
						"inactive_hours": gap.Hours(),
						"last_activity":  section.LastActivity,
					},
				})
			}
		}

		hour := ts.Hour()
		day := int(ts.Weekday())
		section.TotalEvents++
		section.HourCounts[hour]++
		section.DayCounts[day]++
		section.MonthCounts[int(ts.Month())-1]++
		section.RecordActivity(ts)

		if section.TotalEvents >= minEventsForHourBaseline {
			share := float64(section.HourCounts[hour]) / float64(section.TotalEvents)
			if share < rareHourShare {
				anomalies = append(anomalies, model.Anomaly{
					Type:        "unusual_activity_hour",
					Severity:    model.SeverityMedium,
					Description: fmt.Sprintf("hour %02d accounts for %.1f%% of this user's activity", hour, share*100),
					Details: map[string]interface{}{
						"hour":         hour,
						"hour_share":   share,
						"total_events": section.TotalEvents,
					},
				})
			}
		}

		if section.TotalEvents >= minEventsForDayBaseline {
			share := float64(section.DayCounts[day]) / float64(section.TotalEvents)
			if share < rareDayShare {
				anomalies = append(anomalies, model.Anomaly{
					Type:        "unusual_activity_day",
					Severity:    model.SeverityLow,
					Description: fmt.Sprintf("%s accounts for %.1f%% of this user's activity", ts.Weekday(), share*100),
					Details: map[string]interface{}{
						"weekday":      ts.Weekday().String(),
						"day_share":    share,
						"total_events": section.TotalEvents,
					},
				})
			}
		}
	})

	return anomalies
}
