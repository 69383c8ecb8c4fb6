package model

import "time"

// AlertType identifies what kind of detection produced an alert.
type AlertType string

const (
	AlertFailedLoginCluster AlertType = "failed_login_cluster"
	AlertFinancialAnomaly   AlertType = "financial_anomaly"
	AlertAPIUsageAnomaly    AlertType = "api_usage_anomaly"
	AlertGeographicAnomaly  AlertType = "geographic_anomaly"
	AlertTemporalAnomaly    AlertType = "temporal_anomaly"
	AlertBehaviorAnomaly    AlertType = "behavior_anomaly"
)

// AlertStatus is the alert lifecycle state.
type AlertStatus string

const (
	AlertActive       AlertStatus = "active"
	AlertAcknowledged AlertStatus = "acknowledged"
	AlertResolved     AlertStatus = "resolved"
)

// Alert is a generated, trackable notification of a detected anomaly or
// pattern. Active alerts expire after a TTL but stay in history.
type Alert struct {
	AlertID         string                 `json:"alert_id" db:"alert_id"`
	Type            AlertType              `json:"type" db:"alert_type"`
	Severity        Severity               `json:"severity" db:"severity"`
	Description     string                 `json:"description" db:"description"`
	Details         map[string]interface{} `json:"details,omitempty" db:"details"`
	Recommendations []string               `json:"recommendations,omitempty" db:"recommendations"`
	Status          AlertStatus            `json:"status" db:"status"`
	UserID          string                 `json:"user_id,omitempty" db:"user_id"`
	IPAddress       string                 `json:"ip_address,omitempty" db:"ip_address"`
	CreatedAt       time.Time              `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time              `json:"updated_at" db:"updated_at"`
	ExpiresAt       time.Time              `json:"expires_at" db:"expires_at"`
}

// Anomaly is a deviation from an entity's own historical baseline, produced
// by one of the anomaly detectors.
type Anomaly struct {
	Type        string                 `json:"type"`
	Severity    Severity               `json:"severity"`
	Description string                 `json:"description"`
	Details     map[string]interface{} `json:"details,omitempty"`
}

// Pattern is a fixed threshold rule match from the behavior detector,
// independent of any historical baseline.
type Pattern struct {
	Type        string                 `json:"type"`
	Severity    Severity               `json:"severity"`
	Description string                 `json:"description"`
	Details     map[string]interface{} `json:"details,omitempty"`
}

// BehaviorResult is the outcome of one behavior analysis pass.
type BehaviorResult struct {
	Suspicious      bool      `json:"suspicious"`
	RiskScore       float64   `json:"risk_score"`
	Patterns        []Pattern `json:"patterns,omitempty"`
	Recommendations []string  `json:"recommendations,omitempty"`
}
