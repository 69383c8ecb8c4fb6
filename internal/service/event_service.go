package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"security-monitor/internal/behavior"
	"security-monitor/internal/config"
	"security-monitor/internal/model"
	"security-monitor/internal/monitor"
	"security-monitor/internal/profile"
	"security-monitor/internal/util"
)

// EventStore is the persistence contract for events. Implemented by the
// ClickHouse repository; tests use fakes.
type EventStore interface {
	Insert(ctx context.Context, event *model.SecurityEvent) error
	Query(ctx context.Context, filter model.EventFilter) ([]*model.SecurityEvent, error)
	Statistics(ctx context.Context) (*model.Statistics, error)
}

// BatchEventStore is implemented by stores that can land correlated events
// in one round trip. When the configured store supports it, an event and
// its derived suspicious_activity record are written together.
type BatchEventStore interface {
	InsertBatch(ctx context.Context, events []*model.SecurityEvent) error
}

// SuspiciousIPMirror persists the suspicious-IP set and the rolling
// auth-failure counters. The in-process set is authoritative; the mirror
// only survives restarts and shares counters across replicas.
type SuspiciousIPMirror interface {
	MarkSuspicious(ctx context.Context, ip string) error
	LoadSuspicious(ctx context.Context) ([]string, error)
	IncrementAuthFailures(ctx context.Context, ip string, window time.Duration) (int64, error)
}

// injectionEventTypes mark the source IP suspicious on first sight.
var injectionEventTypes = map[model.EventType]struct{}{
	model.EventSQLInjection:     {},
	model.EventXSSAttempt:       {},
	model.EventCommandInjection: {},
	model.EventPathTraversal:    {},
}

// SuspiciousUser is a user the behavior detector has flagged at least once.
type SuspiciousUser struct {
	UserID      string    `json:"user_id"`
	RiskScore   float64   `json:"risk_score"`
	LastFlagged time.Time `json:"last_flagged"`
	Patterns    []string  `json:"patterns,omitempty"`
}

// SecurityEventLogger is the ingestion front door: it enriches, scores,
// analyzes, and persists every security event, and exposes the query API
// over the accumulated state.
type SecurityEventLogger struct {
	cfg      config.DetectionConfig
	behavior *behavior.Detector
	monitor  *monitor.Monitor
	store    EventStore
	mirror   SuspiciousIPMirror
	profiles *profile.Store

	mu              sync.Mutex
	counters        map[model.EventType]int64
	suspiciousIPs   map[string]struct{}
	suspiciousUsers map[string]*SuspiciousUser
	// authFailures is the fallback window counter used when no Redis
	// mirror is configured.
	authFailures map[string][]time.Time
}

func NewSecurityEventLogger(
	cfg config.DetectionConfig,
	behaviorDetector *behavior.Detector,
	mon *monitor.Monitor,
	store EventStore,
	mirror SuspiciousIPMirror,
	profiles *profile.Store,
) *SecurityEventLogger {
	l := &SecurityEventLogger{
		cfg:             cfg,
		behavior:        behaviorDetector,
		monitor:         mon,
		store:           store,
		mirror:          mirror,
		profiles:        profiles,
		counters:        make(map[model.EventType]int64),
		suspiciousIPs:   make(map[string]struct{}),
		suspiciousUsers: make(map[string]*SuspiciousUser),
		authFailures:    make(map[string][]time.Time),
	}
	l.warmSuspiciousIPs()
	return l
}

// warmSuspiciousIPs reloads the persisted set so a restart does not forget
// known-bad sources. Best effort.
func (l *SecurityEventLogger) warmSuspiciousIPs() {
	if l.mirror == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ips, err := l.mirror.LoadSuspicious(ctx)
	if err != nil {
		util.Warn("failed to reload suspicious IP set", zap.Error(err))
		return
	}
	l.mu.Lock()
	for _, ip := range ips {
		l.suspiciousIPs[ip] = struct{}{}
	}
	l.mu.Unlock()
	if len(ips) > 0 {
		util.Info("reloaded suspicious IP set", zap.Int("count", len(ips)))
	}
}

// LogEvent runs the full ingestion pipeline: identity assignment, risk
// scoring, behavior analysis, real-time monitoring, persistence, counters,
// and suspicious-IP tracking. Analysis failures degrade to partial results;
// the returned error is non-nil only when the persistence write ultimately
// fails after retries.
func (l *SecurityEventLogger) LogEvent(ctx context.Context, event *model.SecurityEvent) (string, error) {
	if event == nil {
		return "", fmt.Errorf("nil event")
	}
	if !event.EventType.Valid() {
		return "", fmt.Errorf("invalid event type: %q", event.EventType)
	}
	if !event.Severity.Valid() {
		return "", fmt.Errorf("invalid severity: %q", event.Severity)
	}

	if event.EventID == "" {
		event.EventID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.Status == "" {
		event.Status = model.StatusDetected
	}

	score := baseRiskScore(event, l.isSuspiciousIP(event.IPAddress), l.cfg.SuspiciousIPMultiplier)
	if score > event.RiskScore {
		event.RiskScore = score
	}

	var derived *model.SecurityEvent
	if l.cfg.BehaviorAnalysisEnabled && l.behavior != nil {
		derived = l.runBehaviorAnalysis(event)
	}

	if l.cfg.RealTimeMonitoringEnabled && l.monitor != nil {
		for _, alert := range l.monitor.Process(ctx, event) {
			event.AddIndicator(alert.Description)
		}
	}

	persistErr := l.persistEvents(ctx, event, derived)

	l.mu.Lock()
	l.counters[event.EventType]++
	if derived != nil {
		l.counters[derived.EventType]++
	}
	l.mu.Unlock()

	l.trackSuspiciousIP(ctx, event)

	util.Info("security event logged",
		zap.String("event_id", event.EventID),
		zap.String("type", string(event.EventType)),
		zap.String("severity", string(event.Severity)),
		zap.Float64("risk_score", event.RiskScore),
		zap.String("user_id", event.UserID),
		zap.String("ip", event.IPAddress))

	return event.EventID, persistErr
}

// runBehaviorAnalysis merges the rule-based verdict into the event and, on
// a suspicious result, returns a derived event correlated to the original
// for persistence alongside it.
func (l *SecurityEventLogger) runBehaviorAnalysis(event *model.SecurityEvent) *model.SecurityEvent {
	result, err := l.behavior.Analyze(event)
	if err != nil {
		util.Error("behavior analysis failed",
			zap.String("event_id", event.EventID),
			zap.Error(err))
		return nil
	}
	if !result.Suspicious {
		return nil
	}

	if result.RiskScore > event.RiskScore {
		event.RiskScore = result.RiskScore
	}
	patternTypes := make([]string, 0, len(result.Patterns))
	for _, p := range result.Patterns {
		event.AddIndicator(p.Description)
		patternTypes = append(patternTypes, p.Type)
	}

	l.recordSuspiciousUser(event.UserID, result.RiskScore, patternTypes)
	return l.buildDerivedEvent(event, result, patternTypes)
}

// buildDerivedEvent creates a suspicious_activity record pointing back at
// the triggering event. The derived event skips re-analysis; it exists for
// investigators querying by correlation_id.
func (l *SecurityEventLogger) buildDerivedEvent(parent *model.SecurityEvent, result *model.BehaviorResult, patternTypes []string) *model.SecurityEvent {
	severity := model.SeverityMedium
	if result.RiskScore >= model.SeverityHigh.Weight() {
		severity = model.SeverityHigh
	}

	derived, err := model.NewSecurityEvent(model.EventSuspiciousActivity, severity)
	if err != nil {
		util.Error("failed to build derived event", zap.Error(err))
		return nil
	}
	derived.EventID = uuid.New().String()
	derived.Timestamp = time.Now().UTC()
	derived.UserID = parent.UserID
	derived.IPAddress = parent.IPAddress
	derived.SessionID = parent.SessionID
	derived.RiskScore = result.RiskScore
	derived.CorrelationID = parent.EventID
	derived.ParentEventID = parent.EventID
	derived.Source = "behavior_detector"
	derived.Details["matched_patterns"] = patternTypes
	derived.Details["recommendations"] = result.Recommendations
	derived.Indicators = append(derived.Indicators, fmt.Sprintf("derived from %s event", parent.EventType))
	return derived
}

// persistEvents writes the event and, when present, its derived record.
// Stores that support batching land both in one write; otherwise the
// derived record is written first and its failure never masks the parent's
// outcome.
func (l *SecurityEventLogger) persistEvents(ctx context.Context, event, derived *model.SecurityEvent) error {
	if l.store == nil {
		return nil
	}
	if derived == nil {
		return l.persist(ctx, event)
	}

	if batch, ok := l.store.(BatchEventStore); ok {
		return l.retryWrite(ctx, event.EventID, func(writeCtx context.Context) error {
			return batch.InsertBatch(writeCtx, []*model.SecurityEvent{event, derived})
		})
	}

	if err := l.persist(ctx, derived); err != nil {
		util.Error("failed to persist derived event",
			zap.String("correlation_id", derived.CorrelationID),
			zap.Error(err))
	}
	return l.persist(ctx, event)
}

// persist writes one event, retrying per configuration.
func (l *SecurityEventLogger) persist(ctx context.Context, event *model.SecurityEvent) error {
	if l.store == nil {
		return nil
	}
	return l.retryWrite(ctx, event.EventID, func(writeCtx context.Context) error {
		return l.store.Insert(writeCtx, event)
	})
}

// retryWrite runs one persistence write with the configured retry budget.
// The write runs on a detached context so a caller deadline that expired
// during analysis cannot lose the event.
func (l *SecurityEventLogger) retryWrite(ctx context.Context, eventID string, write func(context.Context) error) error {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	var err error
	attempts := l.cfg.PersistRetries + 1
	if attempts < 1 {
		attempts = 1
	}
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = write(writeCtx); err == nil {
			return nil
		}
		util.Warn("event persistence attempt failed",
			zap.String("event_id", eventID),
			zap.Int("attempt", attempt),
			zap.Error(err))
	}
	util.Error("event persistence failed after retries",
		zap.String("event_id", eventID),
		zap.Error(err))
	return fmt.Errorf("failed to persist event %s: %w", eventID, err)
}

// trackSuspiciousIP updates the suspicious-IP set: injection-class events
// mark their source immediately; repeated auth failures mark it once the
// windowed count crosses the threshold.
func (l *SecurityEventLogger) trackSuspiciousIP(ctx context.Context, event *model.SecurityEvent) {
	ip := event.IPAddress
	if ip == "" {
		return
	}

	if _, ok := injectionEventTypes[event.EventType]; ok {
		l.markSuspicious(ctx, ip, string(event.EventType))
		return
	}

	if event.EventType != model.EventAuthFailure {
		return
	}
	count := l.countAuthFailure(ctx, ip, event.Timestamp)
	if count >= int64(l.cfg.AuthFailureIPThreshold) {
		l.markSuspicious(ctx, ip, "repeated_auth_failures")
	}
}

// countAuthFailure prefers the shared Redis counter and falls back to the
// in-process window when the mirror is absent or failing.
func (l *SecurityEventLogger) countAuthFailure(ctx context.Context, ip string, ts time.Time) int64 {
	if l.mirror != nil {
		count, err := l.mirror.IncrementAuthFailures(ctx, ip, l.cfg.AuthFailureIPWindow)
		if err == nil {
			return count
		}
		util.Warn("auth failure counter fell back to memory",
			zap.String("ip", ip),
			zap.Error(err))
	}

	cutoff := ts.Add(-l.cfg.AuthFailureIPWindow)
	l.mu.Lock()
	defer l.mu.Unlock()

	kept := l.authFailures[ip][:0]
	for _, t := range l.authFailures[ip] {
		if !t.Before(cutoff) {
			kept = append(kept, t)
		}
	}
	kept = append(kept, ts)
	l.authFailures[ip] = kept
	return int64(len(kept))
}

func (l *SecurityEventLogger) markSuspicious(ctx context.Context, ip, reason string) {
	l.mu.Lock()
	_, already := l.suspiciousIPs[ip]
	l.suspiciousIPs[ip] = struct{}{}
	l.mu.Unlock()

	if already {
		return
	}
	util.Warn("IP marked suspicious",
		zap.String("ip", ip),
		zap.String("reason", reason))

	if l.mirror != nil {
		if err := l.mirror.MarkSuspicious(ctx, ip); err != nil {
			util.Warn("failed to mirror suspicious IP", zap.String("ip", ip), zap.Error(err))
		}
	}
}

func (l *SecurityEventLogger) isSuspiciousIP(ip string) bool {
	if ip == "" {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.suspiciousIPs[ip]
	return ok
}

func (l *SecurityEventLogger) recordSuspiciousUser(userID string, riskScore float64, patterns []string) {
	if userID == "" {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	u, ok := l.suspiciousUsers[userID]
	if !ok {
		u = &SuspiciousUser{UserID: userID}
		l.suspiciousUsers[userID] = u
	}
	if riskScore > u.RiskScore {
		u.RiskScore = riskScore
	}
	u.LastFlagged = time.Now().UTC()
	u.Patterns = mergeStrings(u.Patterns, patterns)
}

// GetEvents returns stored events matching the filter, newest first.
func (l *SecurityEventLogger) GetEvents(ctx context.Context, filter model.EventFilter) ([]*model.SecurityEvent, error) {
	if l.store == nil {
		return nil, fmt.Errorf("event store not configured")
	}
	return l.store.Query(ctx, filter)
}

// GetStatistics aggregates stored counts plus the live blocked-IP count.
// Read-only and safe to call repeatedly. When the store is unreachable it
// degrades to the in-process counters accumulated since startup.
func (l *SecurityEventLogger) GetStatistics(ctx context.Context) (*model.Statistics, error) {
	var stats *model.Statistics
	if l.store != nil {
		var err error
		stats, err = l.store.Statistics(ctx)
		if err != nil {
			util.Warn("statistics query failed, using in-process counters", zap.Error(err))
			stats = nil
		}
	}
	if stats == nil {
		stats = &model.Statistics{
			EventCounts:    make(map[string]int64),
			SeverityCounts: make(map[string]int64),
		}
		l.mu.Lock()
		for t, n := range l.counters {
			stats.EventCounts[string(t)] = n
		}
		l.mu.Unlock()
	}

	l.mu.Lock()
	stats.BlockedIPs = len(l.suspiciousIPs)
	l.mu.Unlock()
	return stats, nil
}

// GetRealTimeAlerts returns generated alerts, optionally only the active set.
func (l *SecurityEventLogger) GetRealTimeAlerts(activeOnly bool) []*model.Alert {
	if l.monitor == nil {
		return nil
	}
	return l.monitor.GetAlerts(activeOnly)
}

// AcknowledgeAlert marks an active alert as seen by an operator.
func (l *SecurityEventLogger) AcknowledgeAlert(alertID string) bool {
	if l.monitor == nil {
		return false
	}
	return l.monitor.Acknowledge(alertID)
}

// ResolveAlert closes an active alert ahead of its TTL.
func (l *SecurityEventLogger) ResolveAlert(ctx context.Context, alertID string) bool {
	if l.monitor == nil {
		return false
	}
	return l.monitor.Resolve(ctx, alertID)
}

// GetUserBehaviorProfile returns the rule-based profile summary for a user.
func (l *SecurityEventLogger) GetUserBehaviorProfile(userID string) map[string]interface{} {
	if l.behavior == nil {
		return nil
	}
	return l.behavior.ProfileSummary(userID)
}

// GetUserAnomalyProfile returns the baseline profile the anomaly detectors
// have accumulated for a user, or nil when the user is unknown.
func (l *SecurityEventLogger) GetUserAnomalyProfile(userID string) *profile.Snapshot {
	if l.profiles == nil {
		return nil
	}
	return l.profiles.SnapshotOf(userID)
}

// GetSuspiciousUsers lists users the behavior detector has flagged, highest
// risk first.
func (l *SecurityEventLogger) GetSuspiciousUsers() []SuspiciousUser {
	l.mu.Lock()
	out := make([]SuspiciousUser, 0, len(l.suspiciousUsers))
	for _, u := range l.suspiciousUsers {
		cp := *u
		cp.Patterns = append([]string(nil), u.Patterns...)
		out = append(out, cp)
	}
	l.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].RiskScore != out[j].RiskScore {
			return out[i].RiskScore > out[j].RiskScore
		}
		return out[i].UserID < out[j].UserID
	})
	return out
}

// SuspiciousIPs returns a copy of the current suspicious-IP set.
func (l *SecurityEventLogger) SuspiciousIPs() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	ips := make([]string, 0, len(l.suspiciousIPs))
	for ip := range l.suspiciousIPs {
		ips = append(ips, ip)
	}
	sort.Strings(ips)
	return ips
}

func mergeStrings(existing, extra []string) []string {
	seen := make(map[string]struct{}, len(existing))
	for _, s := range existing {
		seen[s] = struct{}{}
	}
	for _, s := range extra {
		if _, ok := seen[s]; !ok {
			existing = append(existing, s)
			seen[s] = struct{}{}
		}
	}
	return existing
}
