package redis

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"security-monitor/internal/bucketing"
	"security-monitor/internal/client"
	"security-monitor/internal/util"
)

const (
	suspiciousIPSetKey = "suspicious_ips"
	authFailPrefix     = "auth_fail:"
)

// SuspiciousIPCache mirrors the suspicious-IP set in Redis so the set
// survives restarts, and tracks per-IP auth-failure counters in
// window-aligned keys. The in-process set stays authoritative; every call
// here is best effort.
type SuspiciousIPCache struct {
	client    *client.RedisClient
	bucketing *bucketing.Manager
}

func NewSuspiciousIPCache(client *client.RedisClient, bm *bucketing.Manager) *SuspiciousIPCache {
	return &SuspiciousIPCache{client: client, bucketing: bm}
}

// MarkSuspicious adds an IP to the persisted set.
func (c *SuspiciousIPCache) MarkSuspicious(ctx context.Context, ip string) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	if err := c.client.SAdd(ctx, suspiciousIPSetKey, ip); err != nil {
		util.Error("Failed to persist suspicious IP",
			zap.String("ip", ip),
			zap.Error(err))
		return fmt.Errorf("failed to persist suspicious ip: %w", err)
	}
	return nil
}

// LoadSuspicious returns the persisted set for warm start.
func (c *SuspiciousIPCache) LoadSuspicious(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	ips, err := c.client.SMembers(ctx, suspiciousIPSetKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load suspicious ips: %w", err)
	}
	return ips, nil
}

// IncrementAuthFailures bumps the auth-failure counter for an IP and
// returns the new count. Counter keys carry the window-aligned time bucket,
// so counts reset at window boundaries and stay consistent across replicas;
// the TTL cleans up exhausted buckets.
func (c *SuspiciousIPCache) IncrementAuthFailures(ctx context.Context, ip string, window time.Duration) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	windowSeconds := int(window.Seconds())
	if windowSeconds < 1 {
		windowSeconds = 1
	}
	key := fmt.Sprintf("%s%s:%d", authFailPrefix, ip, c.bucketing.TimeBucket(time.Now().UTC(), windowSeconds))
	count, err := c.client.IncrWithExpire(ctx, key, window)
	if err != nil {
		util.Error("Failed to increment auth failure counter",
			zap.String("ip", ip),
			zap.Error(err))
		return 0, fmt.Errorf("failed to increment auth failure counter: %w", err)
	}
	return count, nil
}

// ClearSuspicious removes an IP from the persisted set (ops tooling).
func (c *SuspiciousIPCache) ClearSuspicious(ctx context.Context, ip string) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	if err := c.client.SRem(ctx, suspiciousIPSetKey, ip); err != nil {
		return fmt.Errorf("failed to clear suspicious ip: %w", err)
	}
	return nil
}
