package detector

import (
	"context"
	"fmt"
	"time"

	"security-monitor/internal/model"
	"security-monitor/internal/profile"
)

const (
	rateLimitViolationThreshold = 5
	minRequestsForEndpointCheck = 10
	rapidAPIWindow              = 60 * time.Second
	rapidAPIThreshold           = 20
)

// APIUsageDetector keys its state by (user, source IP): request volume,
// endpoint distribution, and rate-limit violations.
type APIUsageDetector struct {
	store *profile.Store
}

func NewAPIUsageDetector(store *profile.Store) *APIUsageDetector {
	return &APIUsageDetector{store: store}
}

func (d *APIUsageDetector) Name() string {
	return "api_usage"
}

func (d *APIUsageDetector) DetectAnomalies(_ context.Context, event *model.SecurityEvent) []model.Anomaly {
	if event.UserID == "" || event.IPAddress == "" {
		return nil
	}

	endpoint := event.RequestURL
	var anomalies []model.Anomaly

	d.store.Use(event.UserID, func(p *profile.Profile) {
		section := p.APIUsageOf(event.IPAddress)

		section.RequestCount++
		if endpoint != "" {
			section.EndpointCounts[endpoint]++
		}
		if event.EventType == model.EventRateLimitTrigger {
			section.RateLimitViolations++
		}
		section.RecordTimestamp(event.Timestamp)

		if section.RateLimitViolations >= rateLimitViolationThreshold {
			anomalies = append(anomalies, model.Anomaly{
				Type:        "excessive_rate_limit_violations",
				Severity:    model.SeverityHigh,
				Description: fmt.Sprintf("%d rate limit violations from %s", section.RateLimitViolations, event.IPAddress),
				Details: map[string]interface{}{
					"violations": section.RateLimitViolations,
					"ip_address": event.IPAddress,
				},
			})
		}

		if endpoint != "" && section.RequestCount >= minRequestsForEndpointCheck {
			share := float64(section.EndpointCounts[endpoint]) / float64(section.RequestCount)
			if share < rareEndpointShare {
				anomalies = append(anomalies, model.Anomaly{
					Type:        "unusual_endpoint_usage",
					Severity:    model.SeverityLow,
					Description: fmt.Sprintf("endpoint %s is rare for this client (%.1f%% of requests)", endpoint, share*100),
					Details: map[string]interface{}{
						"endpoint":       endpoint,
						"endpoint_share": share,
						"request_count":  section.RequestCount,
					},
				})
			}
		}

		recent := 0
		for _, prev := range section.Timestamps {
			if event.Timestamp.Sub(prev) <= rapidAPIWindow {
				recent++
			}
		}
		if recent >= rapidAPIThreshold {
			anomalies = append(anomalies, model.Anomaly{
				Type:        "rapid_api_requests",
				Severity:    model.SeverityMedium,
				Description: fmt.Sprintf("%d API requests within %s", recent, rapidAPIWindow),
				Details: map[string]interface{}{
					"count":          recent,
					"window_seconds": int(rapidAPIWindow.Seconds()),
				},
			})
		}
	})

	return anomalies
}
