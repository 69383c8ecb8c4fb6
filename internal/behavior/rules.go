package behavior

import (
	"fmt"
	"strings"
	"time"

	"security-monitor/internal/model"
)

func (d *Detector) checkFinancialAccess(event *model.SecurityEvent, p *userProfile, day string) []model.Pattern {
	p.financialAccessByDay[day]++

	var patterns []model.Pattern
	t := d.thresholds

	hour := event.Timestamp.UTC().Hour()
	if d.isNightHour(hour) {
		patterns = append(patterns, model.Pattern{
			Type:        "unusual_hour_financial_access",
			Severity:    model.SeverityMedium,
			Description: fmt.Sprintf("financial data accessed at %02d:00 UTC", hour),
			Details:     map[string]interface{}{"hour": hour},
		})
	}

	if p.financialAccessByDay[day] > t.MaxDailyFinancialAccess {
		patterns = append(patterns, model.Pattern{
			Type:        "excessive_financial_access",
			Severity:    model.SeverityHigh,
			Description: fmt.Sprintf("%d financial data accesses today (limit %d)", p.financialAccessByDay[day], t.MaxDailyFinancialAccess),
			Details:     map[string]interface{}{"count": p.financialAccessByDay[day], "limit": t.MaxDailyFinancialAccess},
		})
	}

	if len(p.ips) > t.MaxFinancialAccessIPs {
		patterns = append(patterns, model.Pattern{
			Type:        "multiple_ip_financial_access",
			Severity:    model.SeverityHigh,
			Description: fmt.Sprintf("financial data accessed from %d distinct IPs", len(p.ips)),
			Details:     map[string]interface{}{"ip_count": len(p.ips), "limit": t.MaxFinancialAccessIPs},
		})
	}

	if len(p.sessions) > t.MaxConcurrentSessions {
		patterns = append(patterns, model.Pattern{
			Type:        "excessive_concurrent_sessions",
			Severity:    model.SeverityMedium,
			Description: fmt.Sprintf("%d concurrent sessions during financial access", len(p.sessions)),
			Details:     map[string]interface{}{"session_count": len(p.sessions), "limit": t.MaxConcurrentSessions},
		})
	}

	return patterns
}

func (d *Detector) checkPayments(event *model.SecurityEvent, p *userProfile, day string) []model.Pattern {
	p.paymentsByDay[day]++
	p.paymentTimes = appendWindow(p.paymentTimes, event.Timestamp, d.thresholds.RapidPaymentWindow)

	var patterns []model.Pattern
	t := d.thresholds

	if p.paymentsByDay[day] > t.MaxDailyTransactions {
		patterns = append(patterns, model.Pattern{
			Type:        "excessive_payment_transactions",
			Severity:    model.SeverityHigh,
			Description: fmt.Sprintf("%d payment transactions today (limit %d)", p.paymentsByDay[day], t.MaxDailyTransactions),
			Details:     map[string]interface{}{"count": p.paymentsByDay[day], "limit": t.MaxDailyTransactions},
		})
	}

	if amount, ok := event.DetailFloat("amount"); ok && amount > t.MaxTransactionAmount {
		patterns = append(patterns, model.Pattern{
			Type:        "excessive_transaction_amount",
			Severity:    model.SeverityHigh,
			Description: fmt.Sprintf("transaction amount %.2f exceeds ceiling %.2f", amount, t.MaxTransactionAmount),
			Details:     map[string]interface{}{"amount": amount, "ceiling": t.MaxTransactionAmount},
		})
	}

	if len(p.paymentTimes) >= t.RapidPaymentCount {
		patterns = append(patterns, model.Pattern{
			Type:        "rapid_payment_transactions",
			Severity:    model.SeverityHigh,
			Description: fmt.Sprintf("%d payments within %s", len(p.paymentTimes), t.RapidPaymentWindow),
			Details:     map[string]interface{}{"count": len(p.paymentTimes), "window_seconds": int(t.RapidPaymentWindow.Seconds())},
		})
	}

	if method := event.DetailString("payment_method"); method != "" {
		if _, unusual := unusualPaymentMethods[method]; unusual {
			patterns = append(patterns, model.Pattern{
				Type:        "unusual_payment_method",
				Severity:    model.SeverityMedium,
				Description: fmt.Sprintf("payment via flagged method %q", method),
				Details:     map[string]interface{}{"payment_method": method},
			})
		}
	}

	return patterns
}

func (d *Detector) checkAdminActions(event *model.SecurityEvent, p *userProfile, day string) []model.Pattern {
	p.adminActionsByDay[day]++

	var patterns []model.Pattern
	t := d.thresholds

	if p.adminActionsByDay[day] > t.MaxDailyAdminActions {
		patterns = append(patterns, model.Pattern{
			Type:        "excessive_admin_actions",
			Severity:    model.SeverityHigh,
			Description: fmt.Sprintf("%d admin actions today (limit %d)", p.adminActionsByDay[day], t.MaxDailyAdminActions),
			Details:     map[string]interface{}{"count": p.adminActionsByDay[day], "limit": t.MaxDailyAdminActions},
		})
	}

	if op := event.DetailString("operation"); op != "" {
		if _, sensitive := sensitiveAdminOperations[op]; sensitive {
			patterns = append(patterns, model.Pattern{
				Type:        "sensitive_admin_operation",
				Severity:    model.SeverityHigh,
				Description: fmt.Sprintf("sensitive admin operation %q", op),
				Details:     map[string]interface{}{"operation": op},
			})
		}
	}

	hour := event.Timestamp.UTC().Hour()
	if d.isNightHour(hour) {
		patterns = append(patterns, model.Pattern{
			Type:        "unusual_hour_admin_activity",
			Severity:    model.SeverityMedium,
			Description: fmt.Sprintf("admin activity at %02d:00 UTC", hour),
			Details:     map[string]interface{}{"hour": hour},
		})
	}

	return patterns
}

func (d *Detector) checkConfigChanges(event *model.SecurityEvent, p *userProfile, day string) []model.Pattern {
	p.configChangesByDay[day]++

	var patterns []model.Pattern
	t := d.thresholds

	if p.configChangesByDay[day] > t.MaxDailyConfigChanges {
		patterns = append(patterns, model.Pattern{
			Type:        "excessive_config_changes",
			Severity:    model.SeverityHigh,
			Description: fmt.Sprintf("%d configuration changes today (limit %d)", p.configChangesByDay[day], t.MaxDailyConfigChanges),
			Details:     map[string]interface{}{"count": p.configChangesByDay[day], "limit": t.MaxDailyConfigChanges},
		})
	}

	if category := event.DetailString("category"); category != "" {
		if _, sensitive := sensitiveConfigCategories[category]; sensitive {
			patterns = append(patterns, model.Pattern{
				Type:        "sensitive_config_change",
				Severity:    model.SeverityHigh,
				Description: fmt.Sprintf("change to sensitive config category %q", category),
				Details:     map[string]interface{}{"category": category},
			})
		}
	}

	if authorized, ok := event.DetailBool("authorized"); ok && !authorized {
		patterns = append(patterns, model.Pattern{
			Type:        "unauthorized_config_change",
			Severity:    model.SeverityCritical,
			Description: "configuration changed without authorization",
			Details:     map[string]interface{}{"authorized": false},
		})
	}

	return patterns
}

func (d *Detector) checkPolicyViolations(event *model.SecurityEvent, p *userProfile, day string) []model.Pattern {
	p.policyViolationsByDay[day]++

	var patterns []model.Pattern
	t := d.thresholds

	if p.policyViolationsByDay[day] > t.MaxDailyPolicyViolations {
		patterns = append(patterns, model.Pattern{
			Type:        "excessive_policy_violations",
			Severity:    model.SeverityHigh,
			Description: fmt.Sprintf("%d policy violations today (limit %d)", p.policyViolationsByDay[day], t.MaxDailyPolicyViolations),
			Details:     map[string]interface{}{"count": p.policyViolationsByDay[day], "limit": t.MaxDailyPolicyViolations},
		})
	}

	if violation := event.DetailString("violation_type"); violation != "" {
		if _, critical := criticalPolicyViolations[violation]; critical {
			patterns = append(patterns, model.Pattern{
				Type:        "critical_policy_violation",
				Severity:    model.SeverityCritical,
				Description: fmt.Sprintf("critical policy violation %q", violation),
				Details:     map[string]interface{}{"violation_type": violation},
			})
		}
	}

	if bypass, ok := event.DetailBool("bypass_attempt"); ok && bypass {
		patterns = append(patterns, model.Pattern{
			Type:        "policy_bypass_attempt",
			Severity:    model.SeverityCritical,
			Description: "attempt to bypass a security policy",
			Details:     map[string]interface{}{"bypass_attempt": true},
		})
	}

	return patterns
}

// appendWindow appends ts and drops entries outside the sliding window.
func appendWindow(times []time.Time, ts time.Time, window time.Duration) []time.Time {
	times = append(times, ts)
	cutoff := ts.Add(-window)
	kept := times[:0]
	for _, t := range times {
		if !t.Before(cutoff) {
			kept = append(kept, t)
		}
	}
	return kept
}

// recommendationsFor maps matched pattern types to follow-up actions,
// deduplicated across patterns.
func recommendationsFor(patterns []model.Pattern) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(rec string) {
		if _, ok := seen[rec]; ok {
			return
		}
		seen[rec] = struct{}{}
		out = append(out, rec)
	}

	for _, p := range patterns {
		switch {
		case strings.Contains(p.Type, "financial"):
			add("Review financial data access permissions for this account")
		case strings.Contains(p.Type, "payment"):
			add("Verify recent payment transactions with the account holder")
		case strings.Contains(p.Type, "admin"):
			add("Audit recent administrative actions")
		case strings.Contains(p.Type, "config"):
			add("Review configuration change approvals")
		case strings.Contains(p.Type, "policy"):
			add("Escalate policy violations to the security team")
		case strings.Contains(p.Type, "session"):
			add("Invalidate concurrent sessions and force re-authentication")
		}
		if p.Severity == model.SeverityCritical {
			add("Consider temporarily suspending the account pending review")
		}
	}
	return out
}
