package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the full service configuration, loaded once at startup.
type Config struct {
	Environment string

	Server     ServerConfig
	Logging    LoggingConfig
	Redis      RedisConfig
	Kafka      KafkaConfig
	Clickhouse ClickhouseConfig
	GeoIP      GeoIPConfig
	Bucketing  BucketingConfig
	Detection  DetectionConfig
	Retention  RetentionConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type LoggingConfig struct {
	Level  string
	Format string
}

type RedisConfig struct {
	URL      string
	Password string
	DB       int
	PoolSize int
	Enabled  bool
}

type KafkaConfig struct {
	Brokers    []string
	AlertTopic string
	Enabled    bool
}

type ClickhouseConfig struct {
	URL      string
	Database string
	Username string
	Password string
}

// GeoIPConfig controls the external IP geolocation lookup.
type GeoIPConfig struct {
	BaseURL   string
	Timeout   time.Duration
	CacheSize int
}

type BucketingConfig struct {
	EventBuckets int
}

// DetectionConfig carries the tunable thresholds of the detection pipeline.
// The defaults mirror the values the pipeline has been run with in
// production so far; none of them have been formally calibrated.
type DetectionConfig struct {
	BehaviorAnalysisEnabled   bool
	RealTimeMonitoringEnabled bool

	FailedLoginWindow    time.Duration
	FailedLoginThreshold int

	AlertTTL         time.Duration
	SweepInterval    time.Duration
	ClusterRetention time.Duration

	SuspiciousIPMultiplier float64
	AuthFailureIPThreshold int
	AuthFailureIPWindow    time.Duration

	MaxTravelSpeedKmH float64

	PersistRetries int

	// Behavior-rule thresholds.
	NightStartHour int
	NightEndHour   int

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

type RetentionConfig struct {
	EventRetentionDays int
}

var (
	instance *Config
	once     sync.Once
)

// LoadConfig reads configuration from the environment (and an optional .env
// file) exactly once and caches the result.
func LoadConfig() *Config {
	once.Do(func() {
		// Missing .env is fine in containers; real env vars win either way.
		_ = godotenv.Load()

		instance = &Config{
			Environment: getEnv("ENVIRONMENT", "development"),
			Server: ServerConfig{
				Host:         getEnv("SERVER_HOST", "0.0.0.0"),
				Port:         getEnvInt("SERVER_PORT", 8080),
				ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
				WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
				IdleTimeout:  getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			},
			Logging: LoggingConfig{
				Level:  getEnv("LOG_LEVEL", "info"),
				Format: getEnv("LOG_FORMAT", "json"),
			},
			Redis: RedisConfig{
				URL:      getEnv("REDIS_URL", "redis://localhost:6379"),
				Password: getEnv("REDIS_PASSWORD", ""),
				DB:       getEnvInt("REDIS_DB", 0),
				PoolSize: getEnvInt("REDIS_POOL_SIZE", 50),
				Enabled:  getEnvBool("REDIS_ENABLED", true),
			},
			Kafka: KafkaConfig{
				Brokers:    strings.Split(getEnv("KAFKA_BROKERS", "localhost:9092"), ","),
				AlertTopic: getEnv("KAFKA_ALERT_TOPIC", "security-alerts"),
				Enabled:    getEnvBool("KAFKA_ENABLED", true),
			},
			Clickhouse: ClickhouseConfig{
				URL:      getEnv("CLICKHOUSE_URL", "http://localhost:8123"),
				Database: getEnv("CLICKHOUSE_DATABASE", "security"),
				Username: getEnv("CLICKHOUSE_USERNAME", "default"),
				Password: getEnv("CLICKHOUSE_PASSWORD", ""),
			},
			GeoIP: GeoIPConfig{
				BaseURL:   getEnv("GEOIP_BASE_URL", "http://ip-api.com/json"),
				Timeout:   getEnvDuration("GEOIP_TIMEOUT", 500*time.Millisecond),
				CacheSize: getEnvInt("GEOIP_CACHE_SIZE", 10000),
			},
			Bucketing: BucketingConfig{
				EventBuckets: getEnvInt("EVENT_BUCKETS", 64),
			},
			Detection: DetectionConfig{
				BehaviorAnalysisEnabled:   getEnvBool("BEHAVIOR_ANALYSIS_ENABLED", true),
				RealTimeMonitoringEnabled: getEnvBool("REALTIME_MONITORING_ENABLED", true),
				FailedLoginWindow:         getEnvDuration("FAILED_LOGIN_WINDOW", 300*time.Second),
				FailedLoginThreshold:      getEnvInt("FAILED_LOGIN_THRESHOLD", 5),
				AlertTTL:                  getEnvDuration("ALERT_TTL", time.Hour),
				SweepInterval:             getEnvDuration("SWEEP_INTERVAL", 5*time.Minute),
				ClusterRetention:          getEnvDuration("CLUSTER_RETENTION", time.Hour),
				SuspiciousIPMultiplier:    getEnvFloat("SUSPICIOUS_IP_MULTIPLIER", 1.5),
				AuthFailureIPThreshold:    getEnvInt("AUTH_FAILURE_IP_THRESHOLD", 5),
				AuthFailureIPWindow:       getEnvDuration("AUTH_FAILURE_IP_WINDOW", 5*time.Minute),
				MaxTravelSpeedKmH:         getEnvFloat("MAX_TRAVEL_SPEED_KMH", 1000),
				PersistRetries:            getEnvInt("PERSIST_RETRIES", 1),
				NightStartHour:            getEnvInt("NIGHT_START_HOUR", 22),
				NightEndHour:              getEnvInt("NIGHT_END_HOUR", 6),
				MaxDailyFinancialAccess:   getEnvInt("MAX_DAILY_FINANCIAL_ACCESS", 50),
				MaxFinancialAccessIPs:     getEnvInt("MAX_FINANCIAL_ACCESS_IPS", 3),
				MaxConcurrentSessions:     getEnvInt("MAX_CONCURRENT_SESSIONS", 3),
				MaxDailyTransactions:      getEnvInt("MAX_DAILY_TRANSACTIONS", 20),
				MaxTransactionAmount:      getEnvFloat("MAX_TRANSACTION_AMOUNT", 10000),
				RapidPaymentCount:         getEnvInt("RAPID_PAYMENT_COUNT", 5),
				RapidPaymentWindow:        getEnvDuration("RAPID_PAYMENT_WINDOW", 300*time.Second),
				MaxDailyAdminActions:      getEnvInt("MAX_DAILY_ADMIN_ACTIONS", 30),
				MaxDailyConfigChanges:     getEnvInt("MAX_DAILY_CONFIG_CHANGES", 10),
				MaxDailyPolicyViolations:  getEnvInt("MAX_DAILY_POLICY_VIOLATIONS", 5),
			},
			Retention: RetentionConfig{
				EventRetentionDays: getEnvInt("EVENT_RETENTION_DAYS", 90),
			},
		}
	})
	return instance
}

// Get returns the cached configuration, loading it on first use.
func Get() *Config {
	return LoadConfig()
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return !c.IsProduction()
}

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
