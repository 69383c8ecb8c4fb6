package client

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	ch "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"

	"security-monitor/internal/config"
	"security-monitor/internal/util"
)

// ClickHouseClient wraps the native ClickHouse connection used by the event
// and alert repositories.
type ClickHouseClient struct {
	conn   driver.Conn
	config *config.ClickhouseConfig
}

func NewClickHouseClient(cfg *config.Config, logger *zap.Logger) (*ClickHouseClient, error) {
	chConfig := cfg.Clickhouse

	opts := &ch.Options{
		Addr: []string{extractHostPort(chConfig.URL)},
		Auth: ch.Auth{
			Username: chConfig.Username,
			Password: chConfig.Password,
			Database: chConfig.Database,
		},
		DialTimeout:      10 * time.Second,
		MaxOpenConns:     50,
		MaxIdleConns:     25,
		ConnMaxLifetime:  time.Hour,
		ConnOpenStrategy: ch.ConnOpenInOrder,
	}

	if cfg.IsProduction() || strings.HasPrefix(chConfig.URL, "https://") {
		opts.TLS = &tls.Config{
			MinVersion: tls.VersionTLS12,
			ServerName: extractHostname(chConfig.URL),
		}
	}

	conn, err := ch.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open ClickHouse connection: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	util.Info("ClickHouse client initialized",
		zap.String("url", chConfig.URL),
		zap.String("database", chConfig.Database),
		zap.Bool("tls_enabled", opts.TLS != nil),
	)

	return &ClickHouseClient{
		conn:   conn,
		config: &chConfig,
	}, nil
}

const createEventsTableQuery = `CREATE TABLE IF NOT EXISTS security_events (
	event_bucket    Int32,
	event_date      Date,
	event_id        String,
	event_type      LowCardinality(String),
	severity        LowCardinality(String),
	event_time      DateTime64(3),
	user_id         String,
	session_id      String,
	ip_address      String,
	user_agent      String,
	request_method  LowCardinality(String),
	request_url     String,
	request_headers String,
	request_body    String,
	response_status Int32,
	response_body   String,
	details         String,
	threat_level    String,
	risk_score      Float64,
	indicators      Array(String),
	status          LowCardinality(String),
	source          String,
	correlation_id  String,
	parent_event_id String,
	checksum        String
) ENGINE = MergeTree()
PARTITION BY (event_bucket, toYYYYMM(event_date))
ORDER BY (event_date, event_type, event_time, event_id)`

const createAlertsTableQuery = `CREATE TABLE IF NOT EXISTS security_alerts (
	alert_id        String,
	alert_type      LowCardinality(String),
	severity        LowCardinality(String),
	description     String,
	details         String,
	recommendations Array(String),
	status          LowCardinality(String),
	user_id         String,
	ip_address      String,
	created_at      DateTime64(3),
	updated_at      DateTime64(3),
	expires_at      DateTime64(3)
) ENGINE = MergeTree()
ORDER BY (created_at, alert_id)`

// EnsureSchema creates the event and alert tables if they do not exist.
// Idempotent; run once at startup.
func (c *ClickHouseClient) EnsureSchema(ctx context.Context) error {
	if err := c.conn.Exec(ctx, createEventsTableQuery); err != nil {
		return fmt.Errorf("failed to create security_events table: %w", err)
	}
	if err := c.conn.Exec(ctx, createAlertsTableQuery); err != nil {
		return fmt.Errorf("failed to create security_alerts table: %w", err)
	}
	util.Info("ClickHouse schema verified")
	return nil
}

// Exec executes a write query.
func (c *ClickHouseClient) Exec(ctx context.Context, query string, args ...interface{}) error {
	return c.conn.Exec(ctx, query, args...)
}

// QueryRows executes a read query.
func (c *ClickHouseClient) QueryRows(ctx context.Context, query string, args ...interface{}) (driver.Rows, error) {
	return c.conn.Query(ctx, query, args...)
}

// QueryRow executes a read query expected to return a single row.
func (c *ClickHouseClient) QueryRow(ctx context.Context, query string, args ...interface{}) driver.Row {
	return c.conn.QueryRow(ctx, query, args...)
}

// BatchInsert performs a batched insert.
func (c *ClickHouseClient) BatchInsert(ctx context.Context, query string, data [][]interface{}) error {
	batch, err := c.conn.PrepareBatch(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}
	for _, row := range data {
		if err := batch.Append(row...); err != nil {
			return fmt.Errorf("failed to append row to batch: %w", err)
		}
	}
	return batch.Send()
}

// HealthCheck verifies ClickHouse connectivity.
func (c *ClickHouseClient) HealthCheck(ctx context.Context) error {
	return c.conn.Ping(ctx)
}

func (c *ClickHouseClient) Close() error {
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			util.Error("Failed to close ClickHouse connection", zap.Error(err))
			return err
		}
		util.Info("ClickHouse connection closed")
	}
	return nil
}

func extractHostPort(url string) string {
	cleanURL := strings.TrimPrefix(url, "http://")
	cleanURL = strings.TrimPrefix(cleanURL, "https://")
	if !strings.Contains(cleanURL, ":") {
		if strings.HasPrefix(url, "https://") {
			return cleanURL + ":9440"
		}
		return cleanURL + ":9000"
	}
	return cleanURL
}

func extractHostname(url string) string {
	return strings.Split(extractHostPort(url), ":")[0]
}
