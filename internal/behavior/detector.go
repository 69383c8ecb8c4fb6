package behavior

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"security-monitor/internal/model"
	"security-monitor/internal/util"
)

const maxRiskScore = 10.0

// Thresholds is the fixed rule table driving the behavior detector. The
// values are operating heuristics, not calibrated baselines.
type Thresholds struct {
	NightStartHour int // inclusive, 24h clock
	NightEndHour   int // exclusive

	MaxDailyFinancialAccess int
	MaxFinancialAccessIPs   int
	MaxConcurrentSessions   int

	MaxDailyTransactions int
	MaxTransactionAmount float64
	RapidPaymentCount    int
	RapidPaymentWindow   time.Duration

	MaxDailyAdminActions     int
	MaxDailyConfigChanges    int
	MaxDailyPolicyViolations int
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		NightStartHour:           22,
		NightEndHour:             6,
		MaxDailyFinancialAccess:  50,
		MaxFinancialAccessIPs:    3,
		MaxConcurrentSessions:    3,
		MaxDailyTransactions:     20,
		MaxTransactionAmount:     10000,
		RapidPaymentCount:        5,
		RapidPaymentWindow:       300 * time.Second,
		MaxDailyAdminActions:     30,
		MaxDailyConfigChanges:    10,
		MaxDailyPolicyViolations: 5,
	}
}

var sensitiveAdminOperations = map[string]struct{}{
	"delete_user":          {},
	"grant_permission":     {},
	"revoke_permission":    {},
	"modify_system_config": {},
	"export_user_data":     {},
}

var sensitiveConfigCategories = map[string]struct{}{
	"security":       {},
	"authentication": {},
	"payment":        {},
	"access_control": {},
}

var unusualPaymentMethods = map[string]struct{}{
	"cryptocurrency": {},
	"prepaid_card":   {},
	"gift_card":      {},
}

var criticalPolicyViolations = map[string]struct{}{
	"data_exfiltration":    {},
	"privilege_escalation": {},
	"unauthorized_access":  {},
	"audit_log_tampering":  {},
}

// userProfile is the behavior detector's own view of a user. It is kept
// separate from the anomaly detectors' profile store on purpose: these
// counters feed fixed rules, not baselines, and are reset only by external
// retention, never by this component.
type userProfile struct {
	eventCount int
	ips        map[string]struct{}
	sessions   map[string]struct{}

	financialAccessByDay  map[string]int
	paymentsByDay         map[string]int
	adminActionsByDay     map[string]int
	configChangesByDay    map[string]int
	policyViolationsByDay map[string]int

	paymentTimes []time.Time
}

// Detector runs threshold-driven pattern checks across the five business
// domains. It never errors on missing optional fields; Analyze reports a
// failure only when an internal invariant breaks.
type Detector struct {
	mu         sync.Mutex
	thresholds Thresholds
	profiles   map[string]*userProfile
}

func NewDetector(thresholds Thresholds) *Detector {
	return &Detector{
		thresholds: thresholds,
		profiles:   make(map[string]*userProfile),
	}
}

// Analyze evaluates the event against the rule domains matching its type
// and returns the matched patterns with an aggregate risk score.
func (d *Detector) Analyze(event *model.SecurityEvent) (*model.BehaviorResult, error) {
	if event == nil {
		return nil, fmt.Errorf("nil event")
	}
	if event.UserID == "" {
		return &model.BehaviorResult{}, nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	p := d.profileFor(event.UserID)
	p.eventCount++
	if event.IPAddress != "" {
		p.ips[event.IPAddress] = struct{}{}
	}
	if event.SessionID != "" {
		p.sessions[event.SessionID] = struct{}{}
	}

	day := event.Timestamp.UTC().Format("2006-01-02")

	var patterns []model.Pattern
	switch event.EventType {
	case model.EventDataAccess:
		patterns = d.checkFinancialAccess(event, p, day)
	case model.EventPaymentProcessing:
		patterns = d.checkPayments(event, p, day)
	case model.EventAdminAction:
		patterns = d.checkAdminActions(event, p, day)
	case model.EventConfigChange:
		patterns = d.checkConfigChanges(event, p, day)
	case model.EventPolicyViolation:
		patterns = d.checkPolicyViolations(event, p, day)
	}

	result := &model.BehaviorResult{
		Suspicious: len(patterns) > 0,
		Patterns:   patterns,
	}
	for _, pat := range patterns {
		result.RiskScore += pat.Severity.Weight()
	}
	if result.RiskScore > maxRiskScore {
		result.RiskScore = maxRiskScore
	}
	result.Recommendations = recommendationsFor(patterns)

	if result.Suspicious {
		util.Debug("behavior patterns matched",
			zap.String("user_id", event.UserID),
			zap.String("event_type", string(event.EventType)),
			zap.Int("patterns", len(patterns)),
			zap.Float64("risk_score", result.RiskScore))
	}

	return result, nil
}

// ProfileSummary exposes the counters for the query API.
func (d *Detector) ProfileSummary(userID string) map[string]interface{} {
	d.mu.Lock()
	defer d.mu.Unlock()

	p, ok := d.profiles[userID]
	if !ok {
		return nil
	}
	return map[string]interface{}{
		"user_id":            userID,
		"event_count":        p.eventCount,
		"distinct_ips":       len(p.ips),
		"distinct_sessions":  len(p.sessions),
		"financial_access":   sumByDay(p.financialAccessByDay),
		"payments":           sumByDay(p.paymentsByDay),
		"admin_actions":      sumByDay(p.adminActionsByDay),
		"config_changes":     sumByDay(p.configChangesByDay),
		"policy_violations":  sumByDay(p.policyViolationsByDay),
	}
}

func (d *Detector) profileFor(userID string) *userProfile {
	p, ok := d.profiles[userID]
	if !ok {
		p = &userProfile{
			ips:                   make(map[string]struct{}),
			sessions:              make(map[string]struct{}),
			financialAccessByDay:  make(map[string]int),
			paymentsByDay:         make(map[string]int),
			adminActionsByDay:     make(map[string]int),
			configChangesByDay:    make(map[string]int),
			policyViolationsByDay: make(map[string]int),
		}
		d.profiles[userID] = p
	}
	return p
}

func (d *Detector) isNightHour(hour int) bool {
	t := d.thresholds
	if t.NightStartHour > t.NightEndHour {
		return hour >= t.NightStartHour || hour < t.NightEndHour
	}
	return hour >= t.NightStartHour && hour < t.NightEndHour
}

func sumByDay(byDay map[string]int) int {
	total := 0
	for _, n := range byDay {
		total += n
	}
	return total
}
