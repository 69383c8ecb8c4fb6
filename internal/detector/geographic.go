package detector

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"

	"security-monitor/internal/model"
	"security-monitor/internal/profile"
	"security-monitor/internal/util"
)

const earthRadiusKm = 6371.0

// GeographicDetector resolves the event's source IP and compares the
// location against the user's recent location history. Travel faster than
// any plausible flight, or a country change, raises an anomaly.
type GeographicDetector struct {
	store       *profile.Store
	resolver    GeoResolver
	maxSpeedKmH float64
}

func NewGeographicDetector(store *profile.Store, resolver GeoResolver, maxSpeedKmH float64) *GeographicDetector {
	if maxSpeedKmH <= 0 {
		maxSpeedKmH = 1000
	}
	return &GeographicDetector{
		store:       store,
		resolver:    resolver,
		maxSpeedKmH: maxSpeedKmH,
	}
}

func (d *GeographicDetector) Name() string {
	return "geographic"
}

func (d *GeographicDetector) DetectAnomalies(ctx context.Context, event *model.SecurityEvent) []model.Anomaly {
	if event.UserID == "" || event.IPAddress == "" || d.resolver == nil {
		return nil
	}

	// The lookup happens before the profile lock is taken so a slow
	// provider never serializes unrelated users.
	loc, err := d.resolver.Resolve(ctx, event.IPAddress)
	if err != nil {
		util.Debug("geoip lookup produced no signal",
			zap.String("ip", event.IPAddress),
			zap.Error(err))
		return nil
	}

	var anomalies []model.Anomaly

	d.store.Use(event.UserID, func(p *profile.Profile) {
		section := p.GeoOf()
		prev := section.Last()

		if prev != nil && !event.Timestamp.Before(prev.Timestamp) {
			distanceKm := haversineKm(
				prev.Location.Latitude, prev.Location.Longitude,
				loc.Latitude, loc.Longitude,
			)

			hours := event.Timestamp.Sub(prev.Timestamp).Hours()
			if hours < 1e-9 {
				hours = 0.001 // guard against zero elapsed time
			}
			speed := distanceKm / hours

			if speed > d.maxSpeedKmH {
				anomalies = append(anomalies, model.Anomaly{
					Type:     "unrealistic_travel",
					Severity: model.SeverityHigh,
					Description: fmt.Sprintf("user %s moved %.0f km in %.1f hours (%.0f km/h) between %s and %s",
						event.UserID, distanceKm, hours, speed, formatPlace(prev.Location), formatPlace(*loc)),
					Details: map[string]interface{}{
						"distance_km":    distanceKm,
						"elapsed_hours":  hours,
						"speed_kmh":      speed,
						"from_city":      prev.Location.City,
						"from_country":   prev.Location.Country,
						"to_city":        loc.City,
						"to_country":     loc.Country,
						"max_speed_kmh":  d.maxSpeedKmH,
					},
				})
			}

			if prev.Location.Country != "" && loc.Country != "" && prev.Location.Country != loc.Country {
				anomalies = append(anomalies, model.Anomaly{
					Type:        "country_change",
					Severity:    model.SeverityMedium,
					Description: fmt.Sprintf("user %s switched country from %s to %s", event.UserID, prev.Location.Country, loc.Country),
					Details: map[string]interface{}{
						"from_country": prev.Location.Country,
						"to_country":   loc.Country,
					},
				})
			}
		}

		section.RecordLocation(*loc, event.Timestamp)
	})

	return anomalies
}

// haversineKm computes the great-circle distance between two coordinates.
func haversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusKm * c
}

func formatPlace(loc model.Location) string {
	if loc.City != "" && loc.Country != "" {
		return loc.City + ", " + loc.Country
	}
	if loc.Country != "" {
		return loc.Country
	}
	return "unknown"
}
