package factory

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"security-monitor/internal/bucketing"
	"security-monitor/internal/client"
	"security-monitor/internal/config"
	"security-monitor/internal/detector"
	"security-monitor/internal/handler"
	"security-monitor/internal/monitor"
	"security-monitor/internal/notify"
	chrepo "security-monitor/internal/repository/clickhouse"
	redisrepo "security-monitor/internal/repository/redis"
	"security-monitor/internal/service"
	"security-monitor/internal/util"
)

// Factory manages the lifecycle of all application dependencies
type Factory struct {
	config *config.Config

	// Clients
	redisClient      *client.RedisClient
	kafkaProducer    *client.KafkaProducer
	clickhouseClient *client.ClickHouseClient
	geoipClient      *client.GeoIPClient

	bucketingManager *bucketing.Manager

	// Repositories
	eventRepository *chrepo.EventRepository
	alertRepository *chrepo.AlertRepository
	ipCache         *redisrepo.SuspiciousIPCache

	serviceFactory *service.ServiceFactory

	closeOnce sync.Once
	closed    chan struct{}
}

// NewFactory creates and initializes all application dependencies
func NewFactory() (*Factory, error) {
	cfg := config.LoadConfig()

	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)

	factory := &Factory{
		config: cfg,
		closed: make(chan struct{}),
	}

	if err := factory.initializeClients(); err != nil {
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}

	factory.bucketingManager = bucketing.NewManager(cfg.Bucketing.EventBuckets)

	util.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.Bool("redis_enabled", factory.redisClient != nil),
		util.Bool("kafka_enabled", factory.kafkaProducer != nil),
		util.Bool("clickhouse_enabled", factory.clickhouseClient != nil),
	)

	return factory, nil
}

// initializeClients initializes all external service clients with health
// checks. ClickHouse is the only hard dependency in production; Redis,
// Kafka, and the geolocation API all degrade gracefully.
func (f *Factory) initializeClients() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var initErrors []error

	// Redis
	if f.config.Redis.Enabled {
		if c, err := client.NewRedisClient(f.config, util.Get()); err != nil {
			initErrors = append(initErrors, fmt.Errorf("redis: %w", err))
		} else {
			f.redisClient = c
			if err := f.redisClient.HealthCheck(ctx); err != nil {
				initErrors = append(initErrors, fmt.Errorf("redis health check: %w", err))
			} else {
				util.Info("Redis client initialized and healthy")
			}
		}
	} else {
		util.Warn("Redis disabled - suspicious IP set will not survive restarts")
	}

	// Kafka
	if f.config.Kafka.Enabled {
		if producer, err := client.NewKafkaProducer(f.config, util.Get()); err != nil {
			util.Warn("Kafka producer initialization failed - proceeding without Kafka", util.ErrorField(err))
		} else {
			f.kafkaProducer = producer
			util.Info("Kafka producer initialized")
		}
	}

	// ClickHouse
	if c, err := client.NewClickHouseClient(f.config, util.Get()); err != nil {
		initErrors = append(initErrors, fmt.Errorf("clickhouse: %w", err))
	} else {
		f.clickhouseClient = c
		if err := f.clickhouseClient.HealthCheck(ctx); err != nil {
			initErrors = append(initErrors, fmt.Errorf("clickhouse health check: %w", err))
		} else if err := f.clickhouseClient.EnsureSchema(ctx); err != nil {
			initErrors = append(initErrors, fmt.Errorf("clickhouse schema: %w", err))
		} else {
			util.Info("ClickHouse client initialized and healthy")
		}
	}

	// Geolocation
	f.geoipClient = client.NewGeoIPClient(f.config, util.Get())

	if len(initErrors) > 0 {
		if f.config.IsProduction() {
			return fmt.Errorf("critical service initialization failed: %v", initErrors)
		}
		for _, err := range initErrors {
			util.Warn("Service initialization warning", util.ErrorField(err))
		}
	}

	return nil
}

func (f *Factory) Config() *config.Config {
	return f.config
}

func (f *Factory) BucketingManager() *bucketing.Manager {
	return f.bucketingManager
}

// EventRepository returns the ClickHouse event store, or nil when
// ClickHouse is unavailable (dev mode).
func (f *Factory) EventRepository() *chrepo.EventRepository {
	if f.eventRepository == nil && f.clickhouseClient != nil {
		f.eventRepository = chrepo.NewEventRepository(f.clickhouseClient, f.bucketingManager, util.Get())
	}
	return f.eventRepository
}

func (f *Factory) AlertRepository() *chrepo.AlertRepository {
	if f.alertRepository == nil && f.clickhouseClient != nil {
		f.alertRepository = chrepo.NewAlertRepository(f.clickhouseClient, util.Get())
	}
	return f.alertRepository
}

func (f *Factory) SuspiciousIPCache() *redisrepo.SuspiciousIPCache {
	if f.ipCache == nil && f.redisClient != nil {
		f.ipCache = redisrepo.NewSuspiciousIPCache(f.redisClient, f.bucketingManager)
	}
	return f.ipCache
}

// ServiceFactory wires the detection pipeline. Optional dependencies are
// passed as nil interfaces when their client is absent.
func (f *Factory) ServiceFactory() *service.ServiceFactory {
	if f.serviceFactory == nil {
		var store service.EventStore
		if repo := f.EventRepository(); repo != nil {
			store = repo
		}
		var alerts monitor.AlertStore
		if repo := f.AlertRepository(); repo != nil {
			alerts = repo
		}
		var mirror service.SuspiciousIPMirror
		if cache := f.SuspiciousIPCache(); cache != nil {
			mirror = cache
		}
		var notifier notify.Notifier = notify.NopNotifier{}
		if f.kafkaProducer != nil {
			notifier = notify.NewKafkaNotifier(f.kafkaProducer, f.config.Kafka.AlertTopic, util.Get())
		}
		var resolver detector.GeoResolver
		if f.geoipClient != nil {
			resolver = f.geoipClient
		}

		f.serviceFactory = service.NewServiceFactory(
			f.config.Detection,
			store,
			alerts,
			mirror,
			notifier,
			resolver,
		)
	}
	return f.serviceFactory
}

// HealthCheck reports the state of every external dependency.
func (f *Factory) HealthCheck(ctx context.Context) map[string]error {
	healthErrors := make(map[string]error)

	if f.redisClient != nil {
		if err := f.redisClient.HealthCheck(ctx); err != nil {
			healthErrors["redis"] = err
		}
	} else if f.config.Redis.Enabled {
		healthErrors["redis"] = fmt.Errorf("redis client not initialized")
	}

	if f.clickhouseClient != nil {
		if err := f.clickhouseClient.HealthCheck(ctx); err != nil {
			healthErrors["clickhouse"] = err
		}
	} else {
		healthErrors["clickhouse"] = fmt.Errorf("clickhouse client not initialized")
	}

	if f.kafkaProducer != nil {
		if err := f.kafkaProducer.HealthCheck(ctx); err != nil {
			healthErrors["kafka"] = err
		}
	}

	return healthErrors
}

// HealthStatus adapts HealthCheck to the HTTP health endpoint.
func (f *Factory) HealthStatus() handler.HealthChecker {
	return func(r *http.Request) map[string]string {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := make(map[string]string)
		for name, err := range f.HealthCheck(ctx) {
			status[name] = err.Error()
		}
		return status
	}
}

// Close shuts down all clients. Safe to call more than once.
func (f *Factory) Close() {
	f.closeOnce.Do(func() {
		if f.serviceFactory != nil {
			f.serviceFactory.Cleanup()
		}
		if f.kafkaProducer != nil {
			if err := f.kafkaProducer.Close(); err != nil {
				util.Error("Failed to close Kafka producer", util.ErrorField(err))
			}
		}
		if f.clickhouseClient != nil {
			if err := f.clickhouseClient.Close(); err != nil {
				util.Error("Failed to close ClickHouse client", util.ErrorField(err))
			}
		}
		if f.redisClient != nil {
			if err := f.redisClient.Close(); err != nil {
				util.Error("Failed to close Redis client", util.ErrorField(err))
			}
		}
		close(f.closed)
		util.Info("Factory closed")
		util.Sync()
	})
}
