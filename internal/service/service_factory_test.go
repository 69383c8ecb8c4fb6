package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"security-monitor/internal/behavior"
	"security-monitor/internal/notify"
)

func TestBehaviorThresholdsComeFromConfig(t *testing.T) {
	cfg := testConfig()
	cfg.MaxTransactionAmount = 100

	assert.Equal(t, 100.0, behaviorThresholds(cfg).MaxTransactionAmount)
	assert.Equal(t, behavior.DefaultThresholds().NightStartHour, behaviorThresholds(cfg).NightStartHour)

	// The lowered ceiling drives the wired detector, not the built-in default.
	store := &fakeEventStore{}
	f := NewServiceFactory(cfg, store, nil, nil, notify.NopNotifier{}, nil)
	l := f.EventLogger()

	_, err := l.LogPaymentEvent(context.Background(), "u1", "10.0.0.1", 250, "credit_card", "acme")
	require.NoError(t, err)

	users := l.GetSuspiciousUsers()
	require.Len(t, users, 1)
	assert.Contains(t, users[0].Patterns, "excessive_transaction_amount")
}
