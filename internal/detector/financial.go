package detector

import (
	"context"
	"fmt"
	"time"

	"security-monitor/internal/model"
	"security-monitor/internal/profile"
)

const (
	largeAmountFactor     = 5.0
	minTransactionHistory = 3
	rapidTxWindow         = 300 * time.Second
	rapidTxThreshold      = 3
)

// FinancialPatternDetector tracks per-user transaction baselines: running
// average and maximum amounts, the payment methods and merchants seen, and
// a capped recent-transaction history for velocity checks.
type FinancialPatternDetector struct {
	store *profile.Store
}

func NewFinancialPatternDetector(store *profile.Store) *FinancialPatternDetector {
	return &FinancialPatternDetector{store: store}
}

func (d *FinancialPatternDetector) Name() string {
	return "financial_pattern"
}

func (d *FinancialPatternDetector) DetectAnomalies(_ context.Context, event *model.SecurityEvent) []model.Anomaly {
	if event.UserID == "" {
		return nil
	}

	amount, hasAmount := event.DetailFloat("amount")
	method := event.DetailString("payment_method")
	merchant := event.DetailString("merchant")

	var anomalies []model.Anomaly

	d.store.Use(event.UserID, func(p *profile.Profile) {
		section := p.FinancialOf()

		// Baseline comparisons run against history that excludes the
		// current transaction; the profile is updated afterwards.
		if hasAmount && section.TransactionCount >= minTransactionHistory {
			avg := section.AverageAmount()
			if avg > 0 && amount > avg*largeAmountFactor {
				anomalies = append(anomalies, model.Anomaly{
					Type:        "unusually_large_amount",
					Severity:    model.SeverityHigh,
					Description: fmt.Sprintf("transaction of %.2f is %.1fx the user's average of %.2f", amount, amount/avg, avg),
					Details: map[string]interface{}{
						"amount":         amount,
						"average_amount": avg,
						"max_amount":     section.MaxAmount,
					},
				})
			}
		}

		if method != "" && len(section.PaymentMethods) > 0 {
			if _, seen := section.PaymentMethods[method]; !seen {
				anomalies = append(anomalies, model.Anomaly{
					Type:        "unusual_payment_method",
					Severity:    model.SeverityMedium,
					Description: fmt.Sprintf("payment method %q never used by this account before", method),
					Details: map[string]interface{}{
						"payment_method": method,
						"known_methods":  len(section.PaymentMethods),
					},
				})
			}
		}

		ts := event.Timestamp
		recent := 1 // current transaction
		for _, prev := range section.Timestamps {
			if ts.Sub(prev) <= rapidTxWindow && !prev.After(ts) {
				recent++
			}
		}
		if hasAmount && recent >= rapidTxThreshold {
			anomalies = append(anomalies, model.Anomaly{
				Type:        "rapid_transactions",
				Severity:    model.SeverityHigh,
				Description: fmt.Sprintf("%d transactions within %s", recent, rapidTxWindow),
				Details: map[string]interface{}{
					"count":          recent,
					"window_seconds": int(rapidTxWindow.Seconds()),
				},
			})
		}

		if hasAmount {
			section.TransactionCount++
			section.TotalAmount += amount
			if amount > section.MaxAmount {
				section.MaxAmount = amount
			}
			section.RecordTimestamp(ts)
		}
		if method != "" {
			section.PaymentMethods[method] = struct{}{}
		}
		if merchant != "" {
			section.Merchants[merchant] = struct{}{}
		}
	})

	return anomalies
}
