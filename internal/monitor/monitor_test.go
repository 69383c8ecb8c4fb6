package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"security-monitor/internal/config"
	"security-monitor/internal/model"
)

func testDetectionConfig() config.DetectionConfig {
	return config.DetectionConfig{
		FailedLoginWindow:    300 * time.Second,
		FailedLoginThreshold: 5,
		AlertTTL:             time.Hour,
		SweepInterval:        5 * time.Minute,
		ClusterRetention:     time.Hour,
	}
}

type stubDetector struct {
	name      string
	anomalies []model.Anomaly
	panics    bool
	calls     int
}

func (s *stubDetector) Name() string { return s.name }

func (s *stubDetector) DetectAnomalies(_ context.Context, _ *model.SecurityEvent) []model.Anomaly {
	s.calls++
	if s.panics {
		panic("detector blew up")
	}
	return s.anomalies
}

type memoryAlertStore struct {
	mu       sync.Mutex
	inserted []*model.Alert
	resolved []string
	fail     bool
}

func (m *memoryAlertStore) Insert(_ context.Context, alert *model.Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("store down")
	}
	m.inserted = append(m.inserted, alert)
	return nil
}

func (m *memoryAlertStore) MarkResolved(_ context.Context, alertID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resolved = append(m.resolved, alertID)
	return nil
}

func authFailure(ip, username string, ts time.Time) *model.SecurityEvent {
	return &model.SecurityEvent{
		EventID:   "evt",
		EventType: model.EventAuthFailure,
		Severity:  model.SeverityMedium,
		Timestamp: ts,
		IPAddress: ip,
		Details:   map[string]interface{}{"username": username},
	}
}

func TestFailedLoginClusterAlertsOnceAtThreshold(t *testing.T) {
	store := &memoryAlertStore{}
	m := NewMonitor(testDetectionConfig(), Detectors{}, store, nil)
	base := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 4; i++ {
		alerts := m.Process(context.Background(), authFailure("10.0.0.1", "alice", base.Add(time.Duration(i)*time.Second)))
		require.Empty(t, alerts, "failure %d is under threshold", i+1)
	}

	// Fifth failure inside the window raises exactly one alert.
	alerts := m.Process(context.Background(), authFailure("10.0.0.1", "alice", base.Add(4*time.Second)))
	require.Len(t, alerts, 1)
	alert := alerts[0]
	assert.Equal(t, model.AlertFailedLoginCluster, alert.Type)
	assert.Equal(t, model.SeverityHigh, alert.Severity)
	assert.Equal(t, model.AlertActive, alert.Status)
	assert.NotEmpty(t, alert.AlertID)
	assert.Equal(t, 5, alert.Details["failure_count"])

	// A sixth failure in the same window does not duplicate the alert.
	alerts = m.Process(context.Background(), authFailure("10.0.0.1", "alice", base.Add(5*time.Second)))
	assert.Empty(t, alerts)

	assert.Equal(t, 1, m.ActiveCount())
	assert.Len(t, store.inserted, 1)
}

func TestFailedLoginClustersAreKeyedByIPAndUser(t *testing.T) {
	m := NewMonitor(testDetectionConfig(), Detectors{}, nil, nil)
	base := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 4; i++ {
		m.Process(context.Background(), authFailure("10.0.0.1", "alice", base.Add(time.Duration(i)*time.Second)))
	}

	// Same IP, different account: separate cluster, no alert.
	alerts := m.Process(context.Background(), authFailure("10.0.0.1", "bob", base.Add(4*time.Second)))
	assert.Empty(t, alerts)
}

func TestFailedLoginOutsideWindowDoesNotAlert(t *testing.T) {
	m := NewMonitor(testDetectionConfig(), Detectors{}, nil, nil)
	base := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	// Failures spread over 10 minutes never have 5 inside one window.
	for i := 0; i < 8; i++ {
		alerts := m.Process(context.Background(), authFailure("10.0.0.1", "alice", base.Add(time.Duration(i)*2*time.Minute)))
		assert.Empty(t, alerts)
	}
}

func TestDispatchRoutesByEventType(t *testing.T) {
	financial := &stubDetector{name: "financial"}
	apiUsage := &stubDetector{name: "api"}
	temporal := &stubDetector{name: "temporal"}
	m := NewMonitor(testDetectionConfig(), Detectors{
		Financial: financial,
		APIUsage:  apiUsage,
		Temporal:  temporal,
	}, nil, nil)

	m.Process(context.Background(), &model.SecurityEvent{
		EventType: model.EventPaymentProcessing,
		Timestamp: time.Now().UTC(),
		UserID:    "u1",
	})
	assert.Equal(t, 1, financial.calls)
	assert.Equal(t, 0, apiUsage.calls)
	assert.Equal(t, 1, temporal.calls, "temporal runs for every event with a user")

	m.Process(context.Background(), &model.SecurityEvent{
		EventType: model.EventRateLimitTrigger,
		Timestamp: time.Now().UTC(),
		UserID:    "u1",
	})
	assert.Equal(t, 1, financial.calls)
	assert.Equal(t, 1, apiUsage.calls)
}

func TestAnomaliesBecomeAlerts(t *testing.T) {
	store := &memoryAlertStore{}
	financial := &stubDetector{name: "financial", anomalies: []model.Anomaly{{
		Type:        "unusually_large_amount",
		Severity:    model.SeverityHigh,
		Description: "transaction of 600.00 is 6.0x the user's average of 100.00",
	}}}
	m := NewMonitor(testDetectionConfig(), Detectors{Financial: financial}, store, nil)

	alerts := m.Process(context.Background(), &model.SecurityEvent{
		EventType: model.EventPaymentProcessing,
		Timestamp: time.Now().UTC(),
		UserID:    "u1",
		IPAddress: "",
	})
	require.Len(t, alerts, 1)
	assert.Equal(t, model.AlertFinancialAnomaly, alerts[0].Type)
	assert.Equal(t, model.SeverityHigh, alerts[0].Severity)
	assert.Equal(t, "unusually_large_amount", alerts[0].Details["anomaly_type"])
	assert.NotEmpty(t, alerts[0].Recommendations)
	assert.Len(t, store.inserted, 1)
}

func TestPanickingDetectorIsIsolated(t *testing.T) {
	broken := &stubDetector{name: "financial", panics: true}
	temporal := &stubDetector{name: "temporal", anomalies: []model.Anomaly{{
		Type:     "long_inactivity_period",
		Severity: model.SeverityMedium,
	}}}
	m := NewMonitor(testDetectionConfig(), Detectors{Financial: broken, Temporal: temporal}, nil, nil)

	alerts := m.Process(context.Background(), &model.SecurityEvent{
		EventType: model.EventPaymentProcessing,
		Timestamp: time.Now().UTC(),
		UserID:    "u1",
	})
	require.Len(t, alerts, 1, "remaining detectors still run after a panic")
	assert.Equal(t, model.AlertTemporalAnomaly, alerts[0].Type)
}

func TestAlertStoreFailureDoesNotBlockProcessing(t *testing.T) {
	store := &memoryAlertStore{fail: true}
	financial := &stubDetector{name: "financial", anomalies: []model.Anomaly{{
		Type: "rapid_transactions", Severity: model.SeverityHigh,
	}}}
	m := NewMonitor(testDetectionConfig(), Detectors{Financial: financial}, store, nil)

	alerts := m.Process(context.Background(), &model.SecurityEvent{
		EventType: model.EventPaymentProcessing,
		Timestamp: time.Now().UTC(),
		UserID:    "u1",
	})
	require.Len(t, alerts, 1)
	assert.Equal(t, 1, m.ActiveCount())
}

func TestSweepExpiresAlertsButKeepsHistory(t *testing.T) {
	store := &memoryAlertStore{}
	financial := &stubDetector{name: "financial", anomalies: []model.Anomaly{{
		Type: "rapid_transactions", Severity: model.SeverityHigh,
	}}}
	m := NewMonitor(testDetectionConfig(), Detectors{Financial: financial}, store, nil)

	m.Process(context.Background(), &model.SecurityEvent{
		EventType: model.EventPaymentProcessing,
		Timestamp: time.Now().UTC(),
		UserID:    "u1",
	})
	require.Equal(t, 1, m.ActiveCount())

	m.sweep(time.Now().UTC().Add(2 * time.Hour))

	assert.Equal(t, 0, m.ActiveCount())
	assert.Empty(t, m.GetAlerts(true))
	history := m.GetAlerts(false)
	require.Len(t, history, 1, "history survives expiry")
	assert.Equal(t, model.AlertResolved, history[0].Status)
	assert.Len(t, store.resolved, 1)
}

func TestSweepPrunesStaleClusters(t *testing.T) {
	m := NewMonitor(testDetectionConfig(), Detectors{}, nil, nil)
	base := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	m.Process(context.Background(), authFailure("10.0.0.1", "alice", base))
	m.mu.Lock()
	require.Len(t, m.clusters, 1)
	m.mu.Unlock()

	m.sweep(base.Add(2 * time.Hour))

	m.mu.Lock()
	assert.Empty(t, m.clusters)
	m.mu.Unlock()
}

func TestAcknowledgeAndResolve(t *testing.T) {
	store := &memoryAlertStore{}
	financial := &stubDetector{name: "financial", anomalies: []model.Anomaly{{
		Type: "rapid_transactions", Severity: model.SeverityHigh,
	}}}
	m := NewMonitor(testDetectionConfig(), Detectors{Financial: financial}, store, nil)

	alerts := m.Process(context.Background(), &model.SecurityEvent{
		EventType: model.EventPaymentProcessing,
		Timestamp: time.Now().UTC(),
		UserID:    "u1",
	})
	require.Len(t, alerts, 1)
	id := alerts[0].AlertID

	assert.True(t, m.Acknowledge(id))
	active := m.GetAlerts(true)
	require.Len(t, active, 1)
	assert.Equal(t, model.AlertAcknowledged, active[0].Status)

	assert.True(t, m.Resolve(context.Background(), id))
	assert.Equal(t, 0, m.ActiveCount())
	assert.False(t, m.Resolve(context.Background(), id), "already resolved")
	assert.False(t, m.Acknowledge("no-such-alert"))
}

func TestGetAlertsReturnsCopies(t *testing.T) {
	financial := &stubDetector{name: "financial", anomalies: []model.Anomaly{{
		Type: "rapid_transactions", Severity: model.SeverityHigh,
	}}}
	m := NewMonitor(testDetectionConfig(), Detectors{Financial: financial}, nil, nil)

	m.Process(context.Background(), &model.SecurityEvent{
		EventType: model.EventPaymentProcessing,
		Timestamp: time.Now().UTC(),
		UserID:    "u1",
	})

	got := m.GetAlerts(true)
	require.Len(t, got, 1)
	got[0].Status = model.AlertResolved

	again := m.GetAlerts(true)
	require.Len(t, again, 1)
	assert.Equal(t, model.AlertActive, again[0].Status, "mutating a returned alert must not touch internal state")
}

func TestProcessNilEvent(t *testing.T) {
	m := NewMonitor(testDetectionConfig(), Detectors{}, nil, nil)
	assert.Nil(t, m.Process(context.Background(), nil))
}
