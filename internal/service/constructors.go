package service

import (
	"context"
	"fmt"

	"security-monitor/internal/model"
	"security-monitor/internal/util"
)

// Convenience constructors for the common event classes. Each builds a
// validated event, fills the standard fields, and runs the full LogEvent
// pipeline.

// LogAuthEvent records an authentication attempt. Failures carry the
// attempted username in details so failed-login clustering can key on it.
func (l *SecurityEventLogger) LogAuthEvent(ctx context.Context, success bool, userID, username, ip, userAgent string) (string, error) {
	eventType := model.EventAuthSuccess
	severity := model.SeverityInfo
	if !success {
		eventType = model.EventAuthFailure
		severity = model.SeverityMedium
	}

	event, err := model.NewSecurityEvent(eventType, severity)
	if err != nil {
		return "", err
	}
	event.UserID = userID
	event.IPAddress = ip
	event.UserAgent = util.SanitizeInput(userAgent)
	if username != "" {
		event.Details["username"] = util.SanitizeInput(username)
	}
	return l.LogEvent(ctx, event)
}

// LogAuthzFailure records a denied authorization check.
func (l *SecurityEventLogger) LogAuthzFailure(ctx context.Context, userID, ip, resource, action string) (string, error) {
	event, err := model.NewSecurityEvent(model.EventAuthzFailure, model.SeverityMedium)
	if err != nil {
		return "", err
	}
	event.UserID = userID
	event.IPAddress = ip
	event.Details["resource"] = resource
	event.Details["action"] = action
	return l.LogEvent(ctx, event)
}

// LogInjectionAttempt records a blocked injection payload. The event type
// must be one of the injection classes.
func (l *SecurityEventLogger) LogInjectionAttempt(ctx context.Context, eventType model.EventType, ip, requestURL, payload string) (string, error) {
	if _, ok := injectionEventTypes[eventType]; !ok {
		return "", fmt.Errorf("not an injection event type: %q", eventType)
	}

	event, err := model.NewSecurityEvent(eventType, model.SeverityHigh)
	if err != nil {
		return "", err
	}
	event.IPAddress = ip
	event.RequestURL = requestURL
	event.Details["payload"] = util.TruncateString(util.SanitizeInput(payload), 1024)
	event.AddIndicator("blocked injection payload")
	return l.LogEvent(ctx, event)
}

// LogInputValidationViolation records a rejected input value. Values
// carrying injection markers are escalated and flagged.
func (l *SecurityEventLogger) LogInputValidationViolation(ctx context.Context, userID, ip, field, value string) (string, error) {
	severity := model.SeverityLow
	flagged := util.ContainsSuspicious(value)
	if flagged {
		severity = model.SeverityMedium
	}

	event, err := model.NewSecurityEvent(model.EventInputValidation, severity)
	if err != nil {
		return "", err
	}
	event.UserID = userID
	event.IPAddress = ip
	event.Details["field"] = field
	event.Details["value"] = util.TruncateString(util.SanitizeInput(value), 512)
	if flagged {
		event.AddIndicator("rejected input carries injection markers")
	}
	return l.LogEvent(ctx, event)
}

// LogAPIAccess records one API request for usage profiling.
func (l *SecurityEventLogger) LogAPIAccess(ctx context.Context, userID, ip, method, requestURL string, status int) (string, error) {
	event, err := model.NewSecurityEvent(model.EventAPIAccess, model.SeverityInfo)
	if err != nil {
		return "", err
	}
	event.UserID = userID
	event.IPAddress = ip
	event.RequestMethod = method
	event.RequestURL = requestURL
	event.ResponseStatus = status
	return l.LogEvent(ctx, event)
}

// LogRateLimitTrigger records a rate limiter firing for a client.
func (l *SecurityEventLogger) LogRateLimitTrigger(ctx context.Context, userID, ip, requestURL string) (string, error) {
	event, err := model.NewSecurityEvent(model.EventRateLimitTrigger, model.SeverityLow)
	if err != nil {
		return "", err
	}
	event.UserID = userID
	event.IPAddress = ip
	event.RequestURL = requestURL
	return l.LogEvent(ctx, event)
}

// LogPaymentEvent records a payment transaction for financial profiling.
func (l *SecurityEventLogger) LogPaymentEvent(ctx context.Context, userID, ip string, amount float64, method, merchant string) (string, error) {
	event, err := model.NewSecurityEvent(model.EventPaymentProcessing, model.SeverityInfo)
	if err != nil {
		return "", err
	}
	event.UserID = userID
	event.IPAddress = ip
	event.Details["amount"] = amount
	event.Details["payment_method"] = method
	event.Details["merchant"] = merchant
	return l.LogEvent(ctx, event)
}

// LogDataAccess records access to sensitive financial data.
func (l *SecurityEventLogger) LogDataAccess(ctx context.Context, userID, sessionID, ip, resource string) (string, error) {
	event, err := model.NewSecurityEvent(model.EventDataAccess, model.SeverityInfo)
	if err != nil {
		return "", err
	}
	event.UserID = userID
	event.SessionID = sessionID
	event.IPAddress = ip
	event.Details["resource"] = resource
	return l.LogEvent(ctx, event)
}

// LogAdminAction records a privileged operation.
func (l *SecurityEventLogger) LogAdminAction(ctx context.Context, userID, ip, operation string, details map[string]interface{}) (string, error) {
	event, err := model.NewSecurityEvent(model.EventAdminAction, model.SeverityMedium)
	if err != nil {
		return "", err
	}
	event.UserID = userID
	event.IPAddress = ip
	event.Details["operation"] = operation
	for k, v := range details {
		event.Details[k] = v
	}
	return l.LogEvent(ctx, event)
}

// LogConfigChange records a configuration change, flagging unauthorized ones.
func (l *SecurityEventLogger) LogConfigChange(ctx context.Context, userID, ip, category string, authorized bool) (string, error) {
	severity := model.SeverityMedium
	if !authorized {
		severity = model.SeverityCritical
	}

	event, err := model.NewSecurityEvent(model.EventConfigChange, severity)
	if err != nil {
		return "", err
	}
	event.UserID = userID
	event.IPAddress = ip
	event.Details["category"] = category
	event.Details["authorized"] = authorized
	return l.LogEvent(ctx, event)
}

// LogGeographicAnomaly records an externally detected location anomaly,
// such as an edge system flagging a login from an unexpected region.
func (l *SecurityEventLogger) LogGeographicAnomaly(ctx context.Context, userID, ip string, location model.Location, description string) (string, error) {
	event, err := model.NewSecurityEvent(model.EventGeographicAnomaly, model.SeverityMedium)
	if err != nil {
		return "", err
	}
	event.UserID = userID
	event.IPAddress = ip
	event.Details["country"] = location.Country
	event.Details["city"] = location.City
	event.Details["latitude"] = location.Latitude
	event.Details["longitude"] = location.Longitude
	if description != "" {
		event.AddIndicator(util.SanitizeInput(description))
	}
	return l.LogEvent(ctx, event)
}

// LogTemporalAnomaly records an externally detected timing anomaly, such as
// activity on an account that has been dormant.
func (l *SecurityEventLogger) LogTemporalAnomaly(ctx context.Context, userID, ip, description string) (string, error) {
	event, err := model.NewSecurityEvent(model.EventTemporalAnomaly, model.SeverityMedium)
	if err != nil {
		return "", err
	}
	event.UserID = userID
	event.IPAddress = ip
	if description != "" {
		event.Details["description"] = util.SanitizeInput(description)
		event.AddIndicator(util.SanitizeInput(description))
	}
	return l.LogEvent(ctx, event)
}

// LogPolicyViolation records a policy breach.
func (l *SecurityEventLogger) LogPolicyViolation(ctx context.Context, userID, ip, violation string, bypassAttempt bool) (string, error) {
	severity := model.SeverityHigh
	if bypassAttempt {
		severity = model.SeverityCritical
	}

	event, err := model.NewSecurityEvent(model.EventPolicyViolation, severity)
	if err != nil {
		return "", err
	}
	event.UserID = userID
	event.IPAddress = ip
	event.Details["violation_type"] = violation
	event.Details["bypass_attempt"] = bypassAttempt
	return l.LogEvent(ctx, event)
}
