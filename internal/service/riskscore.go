package service

import "security-monitor/internal/model"

// maxRiskScore caps every computed score. Downstream consumers treat the
// score as a 0-10 scale.
const maxRiskScore = 10.0

// severityBase anchors the score to triage severity before the event-type
// multiplier is applied.
var severityBase = map[model.Severity]float64{
	model.SeverityCritical: 9.0,
	model.SeverityHigh:     7.0,
	model.SeverityMedium:   5.0,
	model.SeverityLow:      3.0,
	model.SeverityInfo:     1.0,
}

// eventTypeMultiplier scales the severity base per event class. These
// values are initial estimates and have not been calibrated against
// production incident data yet; revisit once enough labeled events exist.
var eventTypeMultiplier = map[model.EventType]float64{
	model.EventSQLInjection:      1.5,
	model.EventCommandInjection:  1.5,
	model.EventXSSAttempt:        1.4,
	model.EventPathTraversal:     1.4,
	model.EventCSRFAttempt:       1.3,
	model.EventAuthFailure:       1.2,
	model.EventAuthzFailure:      1.2,
	model.EventPaymentProcessing: 1.3,
	model.EventAdminAction:       1.2,
	model.EventConfigChange:      1.2,
	model.EventPolicyViolation:   1.3,
	model.EventFileUpload:        1.1,
	model.EventDataAccess:        1.1,
	model.EventInputValidation:   1.0,
	model.EventRateLimitTrigger:  1.0,
	model.EventAPIAccess:         0.8,
	model.EventAuthSuccess:       0.5,
}

// baseRiskScore computes severity x event-type risk. An IP already in the
// suspicious set raises the score by the configured multiplier. The result
// is always within [0, maxRiskScore].
func baseRiskScore(event *model.SecurityEvent, suspiciousIP bool, suspiciousMultiplier float64) float64 {
	score := severityBase[event.Severity]

	if m, ok := eventTypeMultiplier[event.EventType]; ok {
		score *= m
	}
	if suspiciousIP && suspiciousMultiplier > 0 {
		score *= suspiciousMultiplier
	}

	if score > maxRiskScore {
		score = maxRiskScore
	}
	if score < 0 {
		score = 0
	}
	return score
}
