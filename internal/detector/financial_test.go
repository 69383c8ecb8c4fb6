package detector

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"security-monitor/internal/model"
	"security-monitor/internal/profile"
)

func paymentEvent(userID string, ts time.Time, amount float64, method string) *model.SecurityEvent {
	e := newTestEvent(model.EventPaymentProcessing, userID, "10.0.0.1", ts)
	e.Details["amount"] = amount
	e.Details["payment_method"] = method
	return e
}

func TestFinancialDetectorLargeAmount(t *testing.T) {
	d := NewFinancialPatternDetector(profile.NewStore())
	base := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	// Establish a baseline of three 100.00 transactions, spaced out so the
	// velocity check stays quiet.
	for i := 0; i < 3; i++ {
		anomalies := d.DetectAnomalies(context.Background(), paymentEvent("u1", base.Add(time.Duration(i)*time.Hour), 100, "card"))
		require.Empty(t, anomalies)
	}

	anomalies := d.DetectAnomalies(context.Background(), paymentEvent("u1", base.Add(12*time.Hour), 600, "card"))
	require.Len(t, anomalies, 1)
	assert.Equal(t, "unusually_large_amount", anomalies[0].Type)
	assert.Equal(t, model.SeverityHigh, anomalies[0].Severity)
	assert.InDelta(t, 100.0, anomalies[0].Details["average_amount"], 0.01)
}

func TestFinancialDetectorAmountWithinRange(t *testing.T) {
	d := NewFinancialPatternDetector(profile.NewStore())
	base := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		d.DetectAnomalies(context.Background(), paymentEvent("u1", base.Add(time.Duration(i)*time.Hour), 100, "card"))
	}

	// 150 is only 1.5x the average, well under the 5x factor.
	anomalies := d.DetectAnomalies(context.Background(), paymentEvent("u1", base.Add(12*time.Hour), 150, "card"))
	assert.Empty(t, anomalies)
}

func TestFinancialDetectorNovelPaymentMethod(t *testing.T) {
	d := NewFinancialPatternDetector(profile.NewStore())
	base := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	d.DetectAnomalies(context.Background(), paymentEvent("u1", base, 100, "card"))

	anomalies := d.DetectAnomalies(context.Background(), paymentEvent("u1", base.Add(time.Hour), 100, "cryptocurrency"))
	require.Len(t, anomalies, 1)
	assert.Equal(t, "unusual_payment_method", anomalies[0].Type)
	assert.Equal(t, model.SeverityMedium, anomalies[0].Severity)

	// The method is known now; repeating it is not anomalous.
	anomalies = d.DetectAnomalies(context.Background(), paymentEvent("u1", base.Add(2*time.Hour), 100, "cryptocurrency"))
	assert.Empty(t, anomalies)
}

func TestFinancialDetectorRapidTransactions(t *testing.T) {
	d := NewFinancialPatternDetector(profile.NewStore())
	base := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	d.DetectAnomalies(context.Background(), paymentEvent("u1", base, 100, "card"))
	d.DetectAnomalies(context.Background(), paymentEvent("u1", base.Add(time.Minute), 100, "card"))

	anomalies := d.DetectAnomalies(context.Background(), paymentEvent("u1", base.Add(2*time.Minute), 100, "card"))
	require.Len(t, anomalies, 1)
	assert.Equal(t, "rapid_transactions", anomalies[0].Type)
	assert.Equal(t, 3, anomalies[0].Details["count"])
}

func TestFinancialDetectorRequiresUser(t *testing.T) {
	d := NewFinancialPatternDetector(profile.NewStore())
	e := paymentEvent("", time.Now().UTC(), 100, "card")
	assert.Nil(t, d.DetectAnomalies(context.Background(), e))
}
