package monitor

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"security-monitor/internal/config"
	"security-monitor/internal/detector"
	"security-monitor/internal/model"
	"security-monitor/internal/notify"
	"security-monitor/internal/util"
)

// AlertStore persists alerts for the append-only history. The in-memory
// state is authoritative; persistence failures are logged and swallowed.
type AlertStore interface {
	Insert(ctx context.Context, alert *model.Alert) error
	MarkResolved(ctx context.Context, alertID string) error
}

// Detectors are the anomaly detectors the monitor dispatches to. Any of
// them may be nil, in which case its event classes are simply not checked.
type Detectors struct {
	UserBehavior detector.Detector
	Financial    detector.Detector
	APIUsage     detector.Detector
	Geographic   detector.Detector
	Temporal     detector.Detector
}

// Monitor is the real-time dispatch layer: it routes each event to the
// detectors that apply, clusters failed logins, and turns findings into
// tracked alerts. Active alerts expire after a TTL; history is append-only
// for the life of the process.
type Monitor struct {
	cfg       config.DetectionConfig
	detectors Detectors
	store     AlertStore
	notifier  notify.Notifier

	mu               sync.Mutex
	active           map[string]*model.Alert
	history          []*model.Alert
	clusters         map[clusterKey]*loginCluster
	lastClusterAlert map[clusterKey]time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

func NewMonitor(cfg config.DetectionConfig, detectors Detectors, store AlertStore, notifier notify.Notifier) *Monitor {
	if notifier == nil {
		notifier = notify.NopNotifier{}
	}
	return &Monitor{
		cfg:              cfg,
		detectors:        detectors,
		store:            store,
		notifier:         notifier,
		active:           make(map[string]*model.Alert),
		clusters:         make(map[clusterKey]*loginCluster),
		lastClusterAlert: make(map[clusterKey]time.Time),
		stopCh:           make(chan struct{}),
	}
}

// Start launches the background sweeper. Safe to skip in tests; Process
// works without it, the active set just never expires on its own.
func (m *Monitor) Start() {
	m.wg.Add(1)
	go m.sweepLoop()
}

// Stop terminates the sweeper and waits for it to exit.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()
}

// Process routes one event through failed-login clustering and the
// applicable detectors, and returns any alerts generated. It never
// returns an error: a broken detector is isolated and logged, and the
// remaining checks still run.
func (m *Monitor) Process(ctx context.Context, event *model.SecurityEvent) []*model.Alert {
	if event == nil {
		return nil
	}

	var alerts []*model.Alert

	if event.EventType == model.EventAuthFailure && event.IPAddress != "" {
		if alert := m.recordFailedLogin(event); alert != nil {
			alerts = append(alerts, alert)
		}
	}

	switch event.EventType {
	case model.EventPaymentProcessing, model.EventDataAccess:
		alerts = append(alerts, m.dispatch(ctx, m.detectors.Financial, model.AlertFinancialAnomaly, event)...)
	case model.EventAPIAccess, model.EventRateLimitTrigger:
		alerts = append(alerts, m.dispatch(ctx, m.detectors.APIUsage, model.AlertAPIUsageAnomaly, event)...)
	}

	if event.IPAddress != "" {
		alerts = append(alerts, m.dispatch(ctx, m.detectors.Geographic, model.AlertGeographicAnomaly, event)...)
	}
	if event.UserID != "" {
		alerts = append(alerts, m.dispatch(ctx, m.detectors.UserBehavior, model.AlertBehaviorAnomaly, event)...)
		alerts = append(alerts, m.dispatch(ctx, m.detectors.Temporal, model.AlertTemporalAnomaly, event)...)
	}

	for _, alert := range alerts {
		m.emit(ctx, alert)
	}
	return alerts
}

// dispatch runs one detector with panic isolation and converts its
// anomalies into alerts.
func (m *Monitor) dispatch(ctx context.Context, d detector.Detector, alertType model.AlertType, event *model.SecurityEvent) []*model.Alert {
	if d == nil {
		return nil
	}

	anomalies := m.runDetector(ctx, d, event)
	if len(anomalies) == 0 {
		return nil
	}

	alerts := make([]*model.Alert, 0, len(anomalies))
	for _, a := range anomalies {
		details := make(map[string]interface{}, len(a.Details)+1)
		for k, v := range a.Details {
			details[k] = v
		}
		details["anomaly_type"] = a.Type
		alerts = append(alerts, m.newAlert(alertType, a.Severity, a.Description, event, details))
	}
	return alerts
}

func (m *Monitor) runDetector(ctx context.Context, d detector.Detector, event *model.SecurityEvent) (anomalies []model.Anomaly) {
	defer func() {
		if r := recover(); r != nil {
			util.Error("detector panicked",
				zap.String("detector", d.Name()),
				zap.String("event_id", event.EventID),
				zap.Any("panic", r))
			anomalies = nil
		}
	}()
	return d.DetectAnomalies(ctx, event)
}

// recordFailedLogin adds a failure to its (ip, username) cluster and
// raises an alert when the count inside the window reaches the threshold.
// One alert per cluster per window: once raised, further failures in the
// same window are counted but do not re-alert.
func (m *Monitor) recordFailedLogin(event *model.SecurityEvent) *model.Alert {
	username := event.DetailString("username")
	if username == "" {
		username = event.UserID
	}
	key := clusterKey{ip: event.IPAddress, username: username}

	m.mu.Lock()
	c, ok := m.clusters[key]
	if !ok {
		c = &loginCluster{}
		m.clusters[key] = c
	}
	count := c.record(event.Timestamp, m.cfg.FailedLoginWindow)

	if count < m.cfg.FailedLoginThreshold {
		m.mu.Unlock()
		return nil
	}
	if last, ok := m.lastClusterAlert[key]; ok && event.Timestamp.Sub(last) < m.cfg.FailedLoginWindow {
		m.mu.Unlock()
		return nil
	}
	m.lastClusterAlert[key] = event.Timestamp
	m.mu.Unlock()

	return m.newAlert(model.AlertFailedLoginCluster, model.SeverityHigh,
		"Multiple failed login attempts detected",
		event,
		map[string]interface{}{
			"failure_count":  count,
			"window_seconds": int(m.cfg.FailedLoginWindow.Seconds()),
			"username":       username,
		})
}

func (m *Monitor) newAlert(alertType model.AlertType, severity model.Severity, description string, event *model.SecurityEvent, details map[string]interface{}) *model.Alert {
	now := time.Now().UTC()
	return &model.Alert{
		AlertID:         uuid.New().String(),
		Type:            alertType,
		Severity:        severity,
		Description:     description,
		Details:         details,
		Recommendations: recommendedActions(alertType),
		Status:          model.AlertActive,
		UserID:          event.UserID,
		IPAddress:       event.IPAddress,
		CreatedAt:       now,
		UpdatedAt:       now,
		ExpiresAt:       now.Add(m.cfg.AlertTTL),
	}
}

// emit registers the alert in the active set and history, persists it, and
// hands it to the notifier. Persistence and delivery are best effort.
func (m *Monitor) emit(ctx context.Context, alert *model.Alert) {
	m.mu.Lock()
	m.active[alert.AlertID] = alert
	m.history = append(m.history, alert)
	m.mu.Unlock()

	util.Warn("security alert generated",
		zap.String("alert_id", alert.AlertID),
		zap.String("type", string(alert.Type)),
		zap.String("severity", string(alert.Severity)),
		zap.String("user_id", alert.UserID),
		zap.String("ip", alert.IPAddress))

	if m.store != nil {
		if err := m.store.Insert(ctx, alert); err != nil {
			util.Error("failed to persist alert",
				zap.String("alert_id", alert.AlertID),
				zap.Error(err))
		}
	}

	go func() {
		nctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := m.notifier.Notify(nctx, alert); err != nil {
			util.Warn("failed to deliver alert notification",
				zap.String("alert_id", alert.AlertID),
				zap.Error(err))
		}
	}()
}

// GetAlerts returns copies, newest first. With activeOnly it returns only
// unexpired alerts; otherwise the full history.
func (m *Monitor) GetAlerts(activeOnly bool) []*model.Alert {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*model.Alert
	if activeOnly {
		out = make([]*model.Alert, 0, len(m.active))
		for _, a := range m.active {
			cp := *a
			out = append(out, &cp)
		}
	} else {
		out = make([]*model.Alert, 0, len(m.history))
		for _, a := range m.history {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// Acknowledge marks an active alert as seen. Returns false when the alert
// is not in the active set.
func (m *Monitor) Acknowledge(alertID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	alert, ok := m.active[alertID]
	if !ok {
		return false
	}
	alert.Status = model.AlertAcknowledged
	alert.UpdatedAt = time.Now().UTC()
	return true
}

// Resolve closes an active alert ahead of its TTL.
func (m *Monitor) Resolve(ctx context.Context, alertID string) bool {
	m.mu.Lock()
	alert, ok := m.active[alertID]
	if ok {
		alert.Status = model.AlertResolved
		alert.UpdatedAt = time.Now().UTC()
		delete(m.active, alertID)
	}
	m.mu.Unlock()

	if !ok {
		return false
	}
	if m.store != nil {
		if err := m.store.MarkResolved(ctx, alertID); err != nil {
			util.Error("failed to mark alert resolved",
				zap.String("alert_id", alertID),
				zap.Error(err))
		}
	}
	return true
}

// ActiveCount reports the size of the active set.
func (m *Monitor) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

func (m *Monitor) sweepLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case now := <-ticker.C:
			m.sweep(now.UTC())
		}
	}
}

// sweep expires active alerts past their TTL and prunes login clusters
// with no recent failures. Both expiries share one ticker.
func (m *Monitor) sweep(now time.Time) {
	var expired []string

	m.mu.Lock()
	for id, alert := range m.active {
		if now.After(alert.ExpiresAt) {
			alert.Status = model.AlertResolved
			alert.UpdatedAt = now
			delete(m.active, id)
			expired = append(expired, id)
		}
	}

	clusterCutoff := now.Add(-m.cfg.ClusterRetention)
	for key, c := range m.clusters {
		c.prune(clusterCutoff)
		if c.empty() {
			delete(m.clusters, key)
		}
	}
	for key, last := range m.lastClusterAlert {
		if last.Before(clusterCutoff) {
			delete(m.lastClusterAlert, key)
		}
	}
	m.mu.Unlock()

	if len(expired) == 0 {
		return
	}
	util.Info("expired alerts swept", zap.Int("count", len(expired)))

	if m.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, id := range expired {
		if err := m.store.MarkResolved(ctx, id); err != nil {
			util.Error("failed to mark expired alert resolved",
				zap.String("alert_id", id),
				zap.Error(err))
		}
	}
}

// recommendedActions maps each alert class to its response playbook.
func recommendedActions(alertType model.AlertType) []string {
	switch alertType {
	case model.AlertFailedLoginCluster:
		return []string{
			"Temporarily block the source IP address",
			"Notify the targeted account owner",
			"Review authentication logs for credential stuffing",
		}
	case model.AlertFinancialAnomaly:
		return []string{
			"Review recent transactions for this user",
			"Consider additional verification for large transfers",
		}
	case model.AlertAPIUsageAnomaly:
		return []string{
			"Review API access patterns for this client",
			"Consider tightening rate limits for the source IP",
		}
	case model.AlertGeographicAnomaly:
		return []string{
			"Verify the login location with the account owner",
			"Require step-up authentication for this session",
		}
	case model.AlertTemporalAnomaly:
		return []string{
			"Verify recent activity with the account owner",
			"Review sessions created outside usual hours",
		}
	case model.AlertBehaviorAnomaly:
		return []string{
			"Review the user's recent activity history",
			"Monitor the account for further deviations",
		}
	default:
		return []string{"Review the alert details and recent activity"}
	}
}
