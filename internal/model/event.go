package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// EventType is the closed set of security-relevant event categories.
type EventType string

const (
	EventAuthSuccess        EventType = "auth_success"
	EventAuthFailure        EventType = "auth_failure"
	EventAuthzFailure       EventType = "authorization_failure"
	EventInputValidation    EventType = "input_validation_failure"
	EventRateLimitTrigger   EventType = "rate_limiting_trigger"
	EventSQLInjection       EventType = "sql_injection_attempt"
	EventXSSAttempt         EventType = "xss_attempt"
	EventCSRFAttempt        EventType = "csrf_attempt"
	EventCommandInjection   EventType = "command_injection_attempt"
	EventPathTraversal      EventType = "path_traversal_attempt"
	EventFileUpload         EventType = "file_upload_violation"
	EventAPIAccess          EventType = "api_access"
	EventPaymentProcessing  EventType = "payment_processing"
	EventDataAccess         EventType = "data_access"
	EventAdminAction        EventType = "admin_action"
	EventConfigChange       EventType = "config_change"
	EventPolicyViolation    EventType = "policy_violation"
	EventSuspiciousActivity EventType = "suspicious_activity"
	EventGeographicAnomaly  EventType = "geographic_anomaly"
	EventTemporalAnomaly    EventType = "temporal_anomaly"
)

var validEventTypes = map[EventType]struct{}{
	EventAuthSuccess: {}, EventAuthFailure: {}, EventAuthzFailure: {},
	EventInputValidation: {}, EventRateLimitTrigger: {}, EventSQLInjection: {},
	EventXSSAttempt: {}, EventCSRFAttempt: {}, EventCommandInjection: {},
	EventPathTraversal: {}, EventFileUpload: {}, EventAPIAccess: {},
	EventPaymentProcessing: {}, EventDataAccess: {}, EventAdminAction: {},
	EventConfigChange: {}, EventPolicyViolation: {}, EventSuspiciousActivity: {},
	EventGeographicAnomaly: {}, EventTemporalAnomaly: {},
}

// Valid reports whether t is a member of the closed enum.
func (t EventType) Valid() bool {
	_, ok := validEventTypes[t]
	return ok
}

// Severity is the triage severity of an event or alert.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

func (s Severity) Valid() bool {
	switch s {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityInfo:
		return true
	}
	return false
}

// Weight maps severity to the additive risk weight used by the behavior
// detector when combining matched patterns.
func (s Severity) Weight() float64 {
	switch s {
	case SeverityCritical:
		return 10
	case SeverityHigh:
		return 7
	case SeverityMedium:
		return 4
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// EventStatus is the investigation lifecycle state of an event.
type EventStatus string

const (
	StatusDetected      EventStatus = "detected"
	StatusInvestigating EventStatus = "investigating"
	StatusResolved      EventStatus = "resolved"
	StatusFalsePositive EventStatus = "false_positive"
	StatusEscalated     EventStatus = "escalated"
)

// SecurityEvent is the canonical record flowing through the pipeline.
// Events are created once; downstream analysis may append indicators and
// detail entries before the single persistence write, nothing mutates an
// event afterwards.
type SecurityEvent struct {
	EventID   string    `json:"event_id" db:"event_id"`
	EventType EventType `json:"event_type" db:"event_type"`
	Severity  Severity  `json:"severity" db:"severity"`
	Timestamp time.Time `json:"timestamp" db:"event_time"`

	UserID    string `json:"user_id,omitempty" db:"user_id"`
	SessionID string `json:"session_id,omitempty" db:"session_id"`
	IPAddress string `json:"ip_address,omitempty" db:"ip_address"`
	UserAgent string `json:"user_agent,omitempty" db:"user_agent"`

	RequestMethod  string            `json:"request_method,omitempty" db:"request_method"`
	RequestURL     string            `json:"request_url,omitempty" db:"request_url"`
	RequestHeaders map[string]string `json:"request_headers,omitempty" db:"request_headers"`
	RequestBody    string            `json:"request_body,omitempty" db:"request_body"`
	ResponseStatus int               `json:"response_status,omitempty" db:"response_status"`
	ResponseBody   string            `json:"response_body,omitempty" db:"response_body"`

	Details     map[string]interface{} `json:"details,omitempty" db:"details"`
	ThreatLevel string                 `json:"threat_level,omitempty" db:"threat_level"`
	RiskScore   float64                `json:"risk_score" db:"risk_score"`
	Indicators  []string               `json:"indicators,omitempty" db:"indicators"`
	Status      EventStatus            `json:"status" db:"status"`

	Source        string `json:"source,omitempty" db:"source"`
	CorrelationID string `json:"correlation_id,omitempty" db:"correlation_id"`
	ParentEventID string `json:"parent_event_id,omitempty" db:"parent_event_id"`

	// Checksum is a sha256 integrity stamp computed at persistence time.
	Checksum string `json:"checksum,omitempty" db:"checksum"`
}

// NewSecurityEvent builds an event with a validated type and severity.
// Invalid enum members are rejected, never coerced.
func NewSecurityEvent(eventType EventType, severity Severity) (*SecurityEvent, error) {
	if !eventType.Valid() {
		return nil, fmt.Errorf("invalid event type: %q", eventType)
	}
	if !severity.Valid() {
		return nil, fmt.Errorf("invalid severity: %q", severity)
	}
	return &SecurityEvent{
		EventType: eventType,
		Severity:  severity,
		Details:   make(map[string]interface{}),
		Status:    StatusDetected,
	}, nil
}

// AddIndicator appends a human-readable indicator, skipping duplicates.
func (e *SecurityEvent) AddIndicator(indicator string) {
	for _, existing := range e.Indicators {
		if existing == indicator {
			return
		}
	}
	e.Indicators = append(e.Indicators, indicator)
}

// DetailString returns a detail value as a string.
func (e *SecurityEvent) DetailString(key string) string {
	if e.Details == nil {
		return ""
	}
	switch v := e.Details[key].(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}

// DetailFloat returns a numeric detail value, accepting the types that JSON
// decoding and direct construction produce.
func (e *SecurityEvent) DetailFloat(key string) (float64, bool) {
	if e.Details == nil {
		return 0, false
	}
	switch v := e.Details[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

// DetailBool returns a boolean detail value.
func (e *SecurityEvent) DetailBool(key string) (bool, bool) {
	if e.Details == nil {
		return false, false
	}
	v, ok := e.Details[key].(bool)
	return v, ok
}

// ComputeChecksum derives the integrity stamp over the identity-bearing
// fields. Stable for a persisted event since events are never rewritten.
func (e *SecurityEvent) ComputeChecksum() string {
	payload := fmt.Sprintf("%s|%s|%s|%d|%s|%s|%.4f",
		e.EventID, e.EventType, e.Severity, e.Timestamp.UnixNano(),
		e.UserID, e.IPAddress, e.RiskScore)
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

// EventFilter narrows event queries. Zero values mean "no constraint".
type EventFilter struct {
	EventType EventType `json:"event_type,omitempty"`
	Severity  Severity  `json:"severity,omitempty"`
	UserID    string    `json:"user_id,omitempty"`
	IPAddress string    `json:"ip_address,omitempty"`
	Since     time.Time `json:"since,omitempty"`
	Until     time.Time `json:"until,omitempty"`
	Limit     int       `json:"limit,omitempty"`
}

// Statistics is the aggregate view returned by GetStatistics.
type Statistics struct {
	EventCounts    map[string]int64 `json:"event_counts"`
	SeverityCounts map[string]int64 `json:"severity_counts"`
	Recent24h      int64            `json:"recent_24h"`
	BlockedIPs     int              `json:"blocked_ips"`
}

// Location is a resolved IP geolocation.
type Location struct {
	City      string  `json:"city"`
	Country   string  `json:"country"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}
