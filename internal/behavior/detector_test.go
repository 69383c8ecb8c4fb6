package behavior

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"security-monitor/internal/model"
)

func newEvent(eventType model.EventType, userID string, ts time.Time) *model.SecurityEvent {
	return &model.SecurityEvent{
		EventID:   "test-event",
		EventType: eventType,
		Severity:  model.SeverityInfo,
		Timestamp: ts,
		UserID:    userID,
		Details:   make(map[string]interface{}),
	}
}

func patternTypes(patterns []model.Pattern) []string {
	types := make([]string, 0, len(patterns))
	for _, p := range patterns {
		types = append(types, p.Type)
	}
	return types
}

func TestAnalyzeNilEvent(t *testing.T) {
	d := NewDetector(DefaultThresholds())
	_, err := d.Analyze(nil)
	assert.Error(t, err)
}

func TestAnalyzeAnonymousEventIsEmpty(t *testing.T) {
	d := NewDetector(DefaultThresholds())
	result, err := d.Analyze(newEvent(model.EventPaymentProcessing, "", time.Now().UTC()))
	require.NoError(t, err)
	assert.False(t, result.Suspicious)
	assert.Zero(t, result.RiskScore)
	assert.Empty(t, result.Patterns)
}

func TestAnalyzeNightFinancialAccess(t *testing.T) {
	d := NewDetector(DefaultThresholds())
	night := time.Date(2026, 3, 2, 23, 30, 0, 0, time.UTC)

	result, err := d.Analyze(newEvent(model.EventDataAccess, "u1", night))
	require.NoError(t, err)
	assert.True(t, result.Suspicious)
	assert.Contains(t, patternTypes(result.Patterns), "unusual_hour_financial_access")
	assert.Equal(t, model.SeverityMedium.Weight(), result.RiskScore)
	assert.Contains(t, result.Recommendations, "Review financial data access permissions for this account")
}

func TestAnalyzeDaytimeFinancialAccessIsClean(t *testing.T) {
	d := NewDetector(DefaultThresholds())
	noon := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	result, err := d.Analyze(newEvent(model.EventDataAccess, "u1", noon))
	require.NoError(t, err)
	assert.False(t, result.Suspicious)
}

func TestAnalyzeExcessiveTransactionAmount(t *testing.T) {
	d := NewDetector(DefaultThresholds())
	noon := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	e := newEvent(model.EventPaymentProcessing, "u1", noon)
	e.Details["amount"] = 25000.0

	result, err := d.Analyze(e)
	require.NoError(t, err)
	assert.True(t, result.Suspicious)
	assert.Contains(t, patternTypes(result.Patterns), "excessive_transaction_amount")
}

func TestAnalyzeFlaggedPaymentMethod(t *testing.T) {
	d := NewDetector(DefaultThresholds())
	noon := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	e := newEvent(model.EventPaymentProcessing, "u1", noon)
	e.Details["amount"] = 50.0
	e.Details["payment_method"] = "gift_card"

	result, err := d.Analyze(e)
	require.NoError(t, err)
	assert.Equal(t, []string{"unusual_payment_method"}, patternTypes(result.Patterns))
	assert.Equal(t, model.SeverityMedium.Weight(), result.RiskScore)
}

func TestAnalyzeRapidPayments(t *testing.T) {
	d := NewDetector(DefaultThresholds())
	base := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 4; i++ {
		e := newEvent(model.EventPaymentProcessing, "u1", base.Add(time.Duration(i)*30*time.Second))
		e.Details["amount"] = 10.0
		result, err := d.Analyze(e)
		require.NoError(t, err)
		require.False(t, result.Suspicious, "payment %d should be clean", i+1)
	}

	e := newEvent(model.EventPaymentProcessing, "u1", base.Add(2*time.Minute))
	e.Details["amount"] = 10.0
	result, err := d.Analyze(e)
	require.NoError(t, err)
	assert.Contains(t, patternTypes(result.Patterns), "rapid_payment_transactions")
}

func TestAnalyzeSensitiveAdminOperationAtNight(t *testing.T) {
	d := NewDetector(DefaultThresholds())
	night := time.Date(2026, 3, 2, 2, 0, 0, 0, time.UTC)

	e := newEvent(model.EventAdminAction, "admin-1", night)
	e.Details["operation"] = "delete_user"

	result, err := d.Analyze(e)
	require.NoError(t, err)
	types := patternTypes(result.Patterns)
	assert.Contains(t, types, "sensitive_admin_operation")
	assert.Contains(t, types, "unusual_hour_admin_activity")
	// high (7) + medium (4) caps at 10.
	assert.Equal(t, 10.0, result.RiskScore)
}

func TestAnalyzeUnauthorizedConfigChange(t *testing.T) {
	d := NewDetector(DefaultThresholds())
	noon := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	e := newEvent(model.EventConfigChange, "u1", noon)
	e.Details["category"] = "security"
	e.Details["authorized"] = false

	result, err := d.Analyze(e)
	require.NoError(t, err)
	types := patternTypes(result.Patterns)
	assert.Contains(t, types, "sensitive_config_change")
	assert.Contains(t, types, "unauthorized_config_change")
	assert.Equal(t, 10.0, result.RiskScore)
	assert.Contains(t, result.Recommendations, "Consider temporarily suspending the account pending review")
}

func TestAnalyzePolicyBypassAttempt(t *testing.T) {
	d := NewDetector(DefaultThresholds())
	noon := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	e := newEvent(model.EventPolicyViolation, "u1", noon)
	e.Details["violation_type"] = "privilege_escalation"
	e.Details["bypass_attempt"] = true

	result, err := d.Analyze(e)
	require.NoError(t, err)
	types := patternTypes(result.Patterns)
	assert.Contains(t, types, "critical_policy_violation")
	assert.Contains(t, types, "policy_bypass_attempt")
	assert.Equal(t, 10.0, result.RiskScore)
}

func TestAnalyzeExcessiveDailyPolicyViolations(t *testing.T) {
	d := NewDetector(DefaultThresholds())
	base := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		e := newEvent(model.EventPolicyViolation, "u1", base.Add(time.Duration(i)*time.Hour))
		e.Details["violation_type"] = "late_report"
		result, err := d.Analyze(e)
		require.NoError(t, err)
		require.False(t, result.Suspicious, "violation %d is under the daily limit", i+1)
	}

	e := newEvent(model.EventPolicyViolation, "u1", base.Add(6*time.Hour))
	e.Details["violation_type"] = "late_report"
	result, err := d.Analyze(e)
	require.NoError(t, err)
	assert.Equal(t, []string{"excessive_policy_violations"}, patternTypes(result.Patterns))
}

func TestAnalyzeDailyCountersResetAcrossDays(t *testing.T) {
	d := NewDetector(DefaultThresholds())
	day1 := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		e := newEvent(model.EventPolicyViolation, "u1", day1.Add(time.Duration(i)*time.Hour))
		_, err := d.Analyze(e)
		require.NoError(t, err)
	}

	// Next day starts a fresh counter.
	e := newEvent(model.EventPolicyViolation, "u1", day1.AddDate(0, 0, 1))
	result, err := d.Analyze(e)
	require.NoError(t, err)
	assert.False(t, result.Suspicious)
}

func TestProfileSummary(t *testing.T) {
	d := NewDetector(DefaultThresholds())
	noon := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	e := newEvent(model.EventDataAccess, "u1", noon)
	e.IPAddress = "10.0.0.1"
	e.SessionID = "s1"
	_, err := d.Analyze(e)
	require.NoError(t, err)

	summary := d.ProfileSummary("u1")
	require.NotNil(t, summary)
	assert.Equal(t, 1, summary["event_count"])
	assert.Equal(t, 1, summary["distinct_ips"])
	assert.Equal(t, 1, summary["financial_access"])

	assert.Nil(t, d.ProfileSummary("never-seen"))
}

func TestIsNightHourWraparound(t *testing.T) {
	d := NewDetector(DefaultThresholds())

	assert.True(t, d.isNightHour(23))
	assert.True(t, d.isNightHour(0))
	assert.True(t, d.isNightHour(5))
	assert.False(t, d.isNightHour(6))
	assert.False(t, d.isNightHour(12))
	assert.False(t, d.isNightHour(21))
}
