package detector

import (
	"context"

	"security-monitor/internal/model"
)

// Detector finds deviations from an entity's own historical baseline.
// Implementations keep their state in a typed section of the shared profile
// store and must short-circuit to nil when the event lacks the fields they
// key on (no user_id, no ip_address).
type Detector interface {
	Name() string
	DetectAnomalies(ctx context.Context, event *model.SecurityEvent) []model.Anomaly
}

// GeoResolver is the external IP geolocation dependency of the geographic
// detector. Implementations must be timeout-bounded.
type GeoResolver interface {
	Resolve(ctx context.Context, ip string) (*model.Location, error)
}

// Histogram share thresholds shared by the baseline detectors. A slot is
// anomalous when its share of the observed history falls below the
// threshold, once enough history exists for the share to mean anything.
const (
	minEventsForHourBaseline = 20
	minEventsForTypeBaseline = 10
	minEventsForDayBaseline  = 20

	rareHourShare     = 0.05
	rareTypeShare     = 0.10
	rareDayShare      = 0.05
	rareEndpointShare = 0.05
)
