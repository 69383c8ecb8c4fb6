package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"security-monitor/internal/behavior"
	"security-monitor/internal/config"
	"security-monitor/internal/model"
	"security-monitor/internal/monitor"
	"security-monitor/internal/profile"
)

type fakeEventStore struct {
	mu       sync.Mutex
	events   []*model.SecurityEvent
	failing  bool
	attempts int
}

func (f *fakeEventStore) Insert(_ context.Context, event *model.SecurityEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if f.failing {
		return errors.New("clickhouse unavailable")
	}
	cp := *event
	f.events = append(f.events, &cp)
	return nil
}

func (f *fakeEventStore) Query(_ context.Context, filter model.EventFilter) ([]*model.SecurityEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return nil, errors.New("clickhouse unavailable")
	}
	var out []*model.SecurityEvent
	for _, e := range f.events {
		if filter.EventType != "" && e.EventType != filter.EventType {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (f *fakeEventStore) Statistics(_ context.Context) (*model.Statistics, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return nil, errors.New("clickhouse unavailable")
	}
	stats := &model.Statistics{
		EventCounts:    make(map[string]int64),
		SeverityCounts: make(map[string]int64),
	}
	for _, e := range f.events {
		stats.EventCounts[string(e.EventType)]++
		stats.SeverityCounts[string(e.Severity)]++
	}
	return stats, nil
}

func (f *fakeEventStore) byType(eventType model.EventType) []*model.SecurityEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.SecurityEvent
	for _, e := range f.events {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

func testConfig() config.DetectionConfig {
	return config.DetectionConfig{
		BehaviorAnalysisEnabled:   true,
		RealTimeMonitoringEnabled: true,
		FailedLoginWindow:         300 * time.Second,
		FailedLoginThreshold:      5,
		AlertTTL:                  time.Hour,
		SweepInterval:             5 * time.Minute,
		ClusterRetention:          time.Hour,
		SuspiciousIPMultiplier:    1.5,
		AuthFailureIPThreshold:    5,
		AuthFailureIPWindow:       5 * time.Minute,
		MaxTravelSpeedKmH:         1000,
		PersistRetries:            1,
		NightStartHour:            22,
		NightEndHour:              6,
		MaxDailyFinancialAccess:   50,
		MaxFinancialAccessIPs:     3,
		MaxConcurrentSessions:     3,
		MaxDailyTransactions:      20,
		MaxTransactionAmount:      10000,
		RapidPaymentCount:         5,
		RapidPaymentWindow:        300 * time.Second,
		MaxDailyAdminActions:      30,
		MaxDailyConfigChanges:     10,
		MaxDailyPolicyViolations:  5,
	}
}

func newTestLogger(store EventStore) *SecurityEventLogger {
	cfg := testConfig()
	mon := monitor.NewMonitor(cfg, monitor.Detectors{}, nil, nil)
	return NewSecurityEventLogger(cfg, behavior.NewDetector(behavior.DefaultThresholds()), mon, store, nil, profile.NewStore())
}

func TestLogEventAssignsIdentity(t *testing.T) {
	store := &fakeEventStore{}
	l := newTestLogger(store)

	event, err := model.NewSecurityEvent(model.EventAPIAccess, model.SeverityInfo)
	require.NoError(t, err)
	event.UserID = "u1"

	id, err := l.LogEvent(context.Background(), event)
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, id, event.EventID)
	assert.False(t, event.Timestamp.IsZero())
	assert.Equal(t, model.StatusDetected, event.Status)
	assert.GreaterOrEqual(t, event.RiskScore, 0.0)
	assert.LessOrEqual(t, event.RiskScore, 10.0)
	assert.Len(t, store.events, 1)
}

func TestLogEventRejectsInvalidEnums(t *testing.T) {
	l := newTestLogger(&fakeEventStore{})

	_, err := l.LogEvent(context.Background(), &model.SecurityEvent{
		EventType: "not_a_type", Severity: model.SeverityLow,
	})
	assert.Error(t, err)

	_, err = l.LogEvent(context.Background(), &model.SecurityEvent{
		EventType: model.EventAPIAccess, Severity: "urgent",
	})
	assert.Error(t, err)

	_, err = l.LogEvent(context.Background(), nil)
	assert.Error(t, err)
}

func TestInjectionEventMarksIPSuspicious(t *testing.T) {
	store := &fakeEventStore{}
	l := newTestLogger(store)

	_, err := l.LogInjectionAttempt(context.Background(), model.EventSQLInjection, "10.0.0.9", "/api/v1/users?id=1' OR '1'='1", "1' OR '1'='1")
	require.NoError(t, err)
	assert.Contains(t, l.SuspiciousIPs(), "10.0.0.9")

	// The next event from that IP scores higher than from a clean one.
	flagged, err := model.NewSecurityEvent(model.EventAPIAccess, model.SeverityInfo)
	require.NoError(t, err)
	flagged.IPAddress = "10.0.0.9"
	_, err = l.LogEvent(context.Background(), flagged)
	require.NoError(t, err)

	clean, err := model.NewSecurityEvent(model.EventAPIAccess, model.SeverityInfo)
	require.NoError(t, err)
	clean.IPAddress = "10.0.0.10"
	_, err = l.LogEvent(context.Background(), clean)
	require.NoError(t, err)

	assert.Greater(t, flagged.RiskScore, clean.RiskScore)
}

func TestRepeatedAuthFailuresMarkIPSuspicious(t *testing.T) {
	store := &fakeEventStore{}
	l := newTestLogger(store)

	for i := 0; i < 4; i++ {
		_, err := l.LogAuthEvent(context.Background(), false, "", "alice", "10.0.0.5", "curl/8.0")
		require.NoError(t, err)
		require.NotContains(t, l.SuspiciousIPs(), "10.0.0.5", "failure %d is under the threshold", i+1)
	}

	_, err := l.LogAuthEvent(context.Background(), false, "", "alice", "10.0.0.5", "curl/8.0")
	require.NoError(t, err)
	assert.Contains(t, l.SuspiciousIPs(), "10.0.0.5")

	// The fifth failure also produced a failed-login cluster alert, and its
	// description was merged into the event's indicators.
	alerts := l.GetRealTimeAlerts(true)
	require.Len(t, alerts, 1)
	assert.Equal(t, model.AlertFailedLoginCluster, alerts[0].Type)

	failures := store.byType(model.EventAuthFailure)
	require.Len(t, failures, 5)
	assert.Contains(t, failures[4].Indicators, alerts[0].Description)
}

func TestSuspiciousBehaviorEmitsDerivedEvent(t *testing.T) {
	store := &fakeEventStore{}
	l := newTestLogger(store)

	// A flagged payment method trips the behavior rules.
	id, err := l.LogPaymentEvent(context.Background(), "u1", "10.0.0.1", 50, "gift_card", "acme")
	require.NoError(t, err)

	derived := store.byType(model.EventSuspiciousActivity)
	require.Len(t, derived, 1)
	assert.Equal(t, id, derived[0].CorrelationID)
	assert.Equal(t, "u1", derived[0].UserID)
	assert.Equal(t, "behavior_detector", derived[0].Source)
	assert.NotEqual(t, id, derived[0].EventID)

	// The original event carries the merged risk and indicators.
	originals := store.byType(model.EventPaymentProcessing)
	require.Len(t, originals, 1)
	assert.GreaterOrEqual(t, originals[0].RiskScore, model.SeverityMedium.Weight())
	assert.NotEmpty(t, originals[0].Indicators)

	users := l.GetSuspiciousUsers()
	require.Len(t, users, 1)
	assert.Equal(t, "u1", users[0].UserID)
	assert.Contains(t, users[0].Patterns, "unusual_payment_method")
}

type fakeBatchStore struct {
	fakeEventStore
	batches [][]*model.SecurityEvent
}

func (f *fakeBatchStore) InsertBatch(_ context.Context, events []*model.SecurityEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return errors.New("clickhouse unavailable")
	}
	batch := make([]*model.SecurityEvent, 0, len(events))
	for _, e := range events {
		cp := *e
		batch = append(batch, &cp)
		f.events = append(f.events, &cp)
	}
	f.batches = append(f.batches, batch)
	return nil
}

func TestDerivedEventLandsInSameBatchAsParent(t *testing.T) {
	store := &fakeBatchStore{}
	l := newTestLogger(store)

	id, err := l.LogPaymentEvent(context.Background(), "u1", "10.0.0.1", 50, "gift_card", "acme")
	require.NoError(t, err)

	require.Len(t, store.batches, 1)
	batch := store.batches[0]
	require.Len(t, batch, 2)
	assert.Equal(t, id, batch[0].EventID)
	assert.Equal(t, model.EventPaymentProcessing, batch[0].EventType)
	assert.Equal(t, model.EventSuspiciousActivity, batch[1].EventType)
	assert.Equal(t, id, batch[1].CorrelationID)
}

func TestCleanEventSkipsBatchPath(t *testing.T) {
	store := &fakeBatchStore{}
	l := newTestLogger(store)

	_, err := l.LogAPIAccess(context.Background(), "u1", "10.0.0.1", "GET", "/api/v1/accounts", 200)
	require.NoError(t, err)

	assert.Empty(t, store.batches)
	assert.Len(t, store.events, 1)
}

func TestLogInputValidationViolation(t *testing.T) {
	store := &fakeEventStore{}
	l := newTestLogger(store)

	_, err := l.LogInputValidationViolation(context.Background(), "u1", "10.0.0.1", "account_id", "abc")
	require.NoError(t, err)
	_, err = l.LogInputValidationViolation(context.Background(), "u1", "10.0.0.1", "search", "x' union select password")
	require.NoError(t, err)

	events := store.byType(model.EventInputValidation)
	require.Len(t, events, 2)
	assert.Equal(t, model.SeverityLow, events[0].Severity)

	// Injection markers escalate the severity and flag the event.
	assert.Equal(t, model.SeverityMedium, events[1].Severity)
	assert.Contains(t, events[1].Indicators, "rejected input carries injection markers")
	assert.Equal(t, "search", events[1].DetailString("field"))
}

func TestLogGeographicAnomaly(t *testing.T) {
	store := &fakeEventStore{}
	l := newTestLogger(store)

	_, err := l.LogGeographicAnomaly(context.Background(), "u1", "10.0.0.1",
		model.Location{Country: "BR", City: "Recife", Latitude: -8.05, Longitude: -34.9},
		"login far from usual region")
	require.NoError(t, err)

	events := store.byType(model.EventGeographicAnomaly)
	require.Len(t, events, 1)
	assert.Equal(t, model.SeverityMedium, events[0].Severity)
	assert.Equal(t, "BR", events[0].DetailString("country"))
	assert.Contains(t, events[0].Indicators, "login far from usual region")
}

func TestLogTemporalAnomaly(t *testing.T) {
	store := &fakeEventStore{}
	l := newTestLogger(store)

	_, err := l.LogTemporalAnomaly(context.Background(), "u1", "10.0.0.1", "activity on dormant account")
	require.NoError(t, err)

	events := store.byType(model.EventTemporalAnomaly)
	require.Len(t, events, 1)
	assert.Equal(t, model.SeverityMedium, events[0].Severity)
	assert.Equal(t, "activity on dormant account", events[0].DetailString("description"))
}

func TestLogEventReturnsErrorOnlyForPersistenceFailure(t *testing.T) {
	store := &fakeEventStore{failing: true}
	l := newTestLogger(store)

	event, err := model.NewSecurityEvent(model.EventAPIAccess, model.SeverityInfo)
	require.NoError(t, err)
	event.UserID = "u1"

	id, err := l.LogEvent(context.Background(), event)
	assert.Error(t, err)
	assert.NotEmpty(t, id, "the event still has an identity for the caller to reference")

	// One retry is configured, so the store saw two attempts.
	assert.Equal(t, 2, store.attempts)
}

func TestGetStatisticsFallsBackToCounters(t *testing.T) {
	store := &fakeEventStore{failing: true}
	l := newTestLogger(store)

	event, _ := model.NewSecurityEvent(model.EventAPIAccess, model.SeverityInfo)
	_, _ = l.LogEvent(context.Background(), event)

	stats, err := l.GetStatistics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.EventCounts[string(model.EventAPIAccess)])
}

func TestGetStatisticsIsIdempotent(t *testing.T) {
	store := &fakeEventStore{}
	l := newTestLogger(store)

	_, err := l.LogInjectionAttempt(context.Background(), model.EventXSSAttempt, "10.0.0.9", "/search", "<script>")
	require.NoError(t, err)

	first, err := l.GetStatistics(context.Background())
	require.NoError(t, err)
	second, err := l.GetStatistics(context.Background())
	require.NoError(t, err)

	assert.Equal(t, first.EventCounts, second.EventCounts)
	assert.Equal(t, first.BlockedIPs, second.BlockedIPs)
	assert.Equal(t, 1, first.BlockedIPs)
}

func TestGetEventsFilters(t *testing.T) {
	store := &fakeEventStore{}
	l := newTestLogger(store)

	_, err := l.LogAPIAccess(context.Background(), "u1", "10.0.0.1", "GET", "/api/v1/accounts", 200)
	require.NoError(t, err)
	_, err = l.LogAuthEvent(context.Background(), true, "u1", "alice", "10.0.0.1", "curl/8.0")
	require.NoError(t, err)

	events, err := l.GetEvents(context.Background(), model.EventFilter{EventType: model.EventAPIAccess})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, model.EventAPIAccess, events[0].EventType)
}

func TestGetUserProfiles(t *testing.T) {
	l := newTestLogger(&fakeEventStore{})

	_, err := l.LogDataAccess(context.Background(), "u1", "s1", "10.0.0.1", "accounts")
	require.NoError(t, err)

	summary := l.GetUserBehaviorProfile("u1")
	require.NotNil(t, summary)
	assert.Equal(t, 1, summary["financial_access"])

	assert.Nil(t, l.GetUserBehaviorProfile("never-seen"))
	assert.Nil(t, l.GetUserAnomalyProfile("never-seen"))
}
