package factory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cyclonite69/shadowcheck-sub006/internal/bucketing"
	"github.com/cyclonite69/shadowcheck-sub006/internal/client"
	"github.com/cyclonite69/shadowcheck-sub006/internal/config"
	redisrepo "github.com/cyclonite69/shadowcheck-sub006/internal/repository/redis"
	"github.com/cyclonite69/shadowcheck-sub006/internal/repository/scylla"
	"github.com/cyclonite69/shadowcheck-sub006/internal/service"
	"github.com/cyclonite69/shadowcheck-sub006/internal/util"
)

// Factory manages the lifecycle of all application dependencies
type Factory struct {
	config *config.Config

	// Clients
	redisClient      *client.RedisClient
	scyllaClient     *scylla.ScyllaClient
	kafkaProducer    *client.KafkaProducer
	kafkaConsumer    *client.KafkaConsumer
	esClient         *client.ESClient
	clickhouseClient *client.ClickHouseClient

	fingerprintManager *bucketing.FingerprintManager

	// Repositories
	identityRepository    scylla.IdentityRepository
	observationRepository scylla.ObservationRepository
	fingerprintRepository scylla.FingerprintRepository
	derivedRepository     scylla.DerivedRepository
	threatRepository      scylla.ThreatRepository

	settingsCache  *redisrepo.SettingsCache
	exclusionCache *redisrepo.ExclusionCache

	serviceFactory *service.ServiceFactory

	closeOnce sync.Once
}

// NewFactory creates and initializes all application dependencies
func NewFactory() (*Factory, error) {
	cfg := config.LoadConfig()

	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)

	factory := &Factory{
		config: cfg,
	}

	if err := factory.initializeClients(); err != nil {
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}

	factory.fingerprintManager = bucketing.NewFingerprintManager(cfg)

	util.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.Bool("kafka_enabled", factory.kafkaProducer != nil),
		util.Bool("clickhouse_enabled", factory.clickhouseClient != nil),
	)

	return factory, nil
}

// initializeClients initializes all external service clients with health checks
func (f *Factory) initializeClients() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var initErrors []error

	// ScyllaDB is the system of record; failing here is always fatal.
	scyllaClient, err := scylla.NewScyllaClient(f.config, util.Get())
	if err != nil {
		return fmt.Errorf("scylla: %w", err)
	}
	f.scyllaClient = scyllaClient
	if err := f.scyllaClient.HealthCheck(); err != nil {
		return fmt.Errorf("scylla health check: %w", err)
	}
	util.Info("ScyllaDB client initialized and healthy")

	// Redis
	if redisClient, err := client.NewRedisClient(f.config, util.Get()); err != nil {
		initErrors = append(initErrors, fmt.Errorf("redis: %w", err))
	} else {
		f.redisClient = redisClient
		if err := f.redisClient.HealthCheck(ctx); err != nil {
			initErrors = append(initErrors, fmt.Errorf("redis health check: %w", err))
		} else {
			util.Info("Redis client initialized and healthy")
		}
	}

	// Kafka
	if producer, err := client.NewKafkaProducer(f.config, util.Get()); err != nil {
		util.Warn("Kafka producer initialization failed - proceeding without event publishing", util.ErrorField(err))
	} else {
		f.kafkaProducer = producer
		util.Info("Kafka producer initialized")
	}

	// Observation-event consumer feeds the analysis worker. Only wired when
	// a consumer group is configured and the producer side came up.
	if f.kafkaProducer != nil && f.config.Kafka.ConsumerGroup != "" {
		consumer, err := client.NewKafkaConsumer(f.config, f.config.Kafka.ObservationTopic, f.config.Kafka.ConsumerGroup, util.Get())
		if err != nil {
			util.Warn("Kafka consumer initialization failed - proceeding without event-driven analysis", util.ErrorField(err))
		} else {
			f.kafkaConsumer = consumer
		}
	}

	// Elasticsearch
	if esClient, err := client.NewElasticsearchClient(f.config, util.Get()); err != nil {
		util.Warn("Elasticsearch initialization failed - proceeding without threat indexing", util.ErrorField(err))
	} else {
		f.esClient = esClient
		if err := f.esClient.HealthCheck(); err != nil {
			util.Warn("Elasticsearch unhealthy - proceeding without threat indexing", util.ErrorField(err))
			f.esClient = nil
		} else {
			util.Info("Elasticsearch client initialized and healthy")
		}
	}

	// ClickHouse
	if chClient, err := client.NewClickHouseClient(f.config, util.Get()); err != nil {
		util.Warn("ClickHouse initialization failed - feedback analytics fall back to primary store", util.ErrorField(err))
	} else {
		f.clickhouseClient = chClient
		if err := f.clickhouseClient.HealthCheck(ctx); err != nil {
			util.Warn("ClickHouse unhealthy - feedback analytics fall back to primary store", util.ErrorField(err))
			f.clickhouseClient = nil
		} else {
			util.Info("ClickHouse client initialized and healthy")
		}
	}

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

// ==============================
// Repository Initialization
// ==============================

func (f *Factory) IdentityRepository() scylla.IdentityRepository {
	if f.identityRepository == nil {
		f.identityRepository = scylla.NewIdentityRepository(f.ScyllaClient(), util.Get())
	}
	return f.identityRepository
}

func (f *Factory) ObservationRepository() scylla.ObservationRepository {
	if f.observationRepository == nil {
		f.observationRepository = scylla.NewObservationRepository(f.ScyllaClient(), util.Get())
	}
	return f.observationRepository
}

func (f *Factory) FingerprintRepository() scylla.FingerprintRepository {
	if f.fingerprintRepository == nil {
		f.fingerprintRepository = scylla.NewFingerprintRepository(f.ScyllaClient(), util.Get())
	}
	return f.fingerprintRepository
}

func (f *Factory) DerivedRepository() scylla.DerivedRepository {
	if f.derivedRepository == nil {
		f.derivedRepository = scylla.NewDerivedRepository(f.ScyllaClient(), util.Get())
	}
	return f.derivedRepository
}

func (f *Factory) ThreatRepository() scylla.ThreatRepository {
	if f.threatRepository == nil {
		f.threatRepository = scylla.NewThreatRepository(f.ScyllaClient(), util.Get())
	}
	return f.threatRepository
}

func (f *Factory) SettingsCache() *redisrepo.SettingsCache {
	if f.settingsCache == nil && f.redisClient != nil {
		f.settingsCache = redisrepo.NewSettingsCache(f.redisClient)
	}
	return f.settingsCache
}

func (f *Factory) ExclusionCache() *redisrepo.ExclusionCache {
	if f.exclusionCache == nil && f.redisClient != nil {
		f.exclusionCache = redisrepo.NewExclusionCache(f.redisClient)
	}
	return f.exclusionCache
}

// ==============================
// Service Factory
// ==============================

func (f *Factory) ServiceFactory() *service.ServiceFactory {
	if f.serviceFactory == nil {
		f.serviceFactory = service.NewServiceFactory(
			f.config,
			f.IdentityRepository(),
			f.ObservationRepository(),
			f.FingerprintRepository(),
			f.DerivedRepository(),
			f.ThreatRepository(),
			f.FingerprintManager(),
			f.SettingsCache(),
			f.ExclusionCache(),
			f.kafkaProducer,
			f.esClient,
			f.clickhouseClient,
			util.Get(),
		)
	}
	return f.serviceFactory
}

// ==============================
// Health Checks
// ==============================

func (f *Factory) HealthCheck(ctx context.Context) map[string]error {
	healthErrors := make(map[string]error)

	if f.scyllaClient != nil {
		if err := f.scyllaClient.HealthCheck(); err != nil {
			healthErrors["scylla"] = err
		}
	} else {
		healthErrors["scylla"] = fmt.Errorf("scylla client not initialized")
	}

	if f.redisClient != nil {
		if err := f.redisClient.HealthCheck(ctx); err != nil {
			healthErrors["redis"] = err
		}
	} else {
		healthErrors["redis"] = fmt.Errorf("redis client not initialized")
	}

	if f.kafkaProducer != nil {
		if err := f.kafkaProducer.HealthCheck(ctx); err != nil {
			healthErrors["kafka"] = err
		}
	}

	if f.esClient != nil {
		if err := f.esClient.HealthCheck(); err != nil {
			healthErrors["elasticsearch"] = err
		}
	}

	if f.clickhouseClient != nil {
		if err := f.clickhouseClient.HealthCheck(ctx); err != nil {
			healthErrors["clickhouse"] = err
		}
	}

	return healthErrors
}

func (f *Factory) IsHealthy(ctx context.Context) bool {
	healthErrors := f.HealthCheck(ctx)
	// Kafka, ES and ClickHouse are best-effort; only the primary stores gate health.
	delete(healthErrors, "kafka")
	delete(healthErrors, "elasticsearch")
	delete(healthErrors, "clickhouse")
	return len(healthErrors) == 0
}

func (f *Factory) Close() error {
	f.closeOnce.Do(func() {
		util.Info("Shutting down factory...")

		if f.clickhouseClient != nil {
			if err := f.clickhouseClient.Close(); err != nil {
				util.Error("Failed to close ClickHouse client", util.ErrorField(err))
			} else {
				util.Info("ClickHouse client closed")
			}
		}

		if f.esClient != nil {
			f.esClient.Close()
			util.Info("Elasticsearch client closed")
		}

		if f.kafkaConsumer != nil {
			if err := f.kafkaConsumer.Close(); err != nil {
				util.Error("Failed to close Kafka consumer", util.ErrorField(err))
			}
		}

		if f.kafkaProducer != nil {
			if err := f.kafkaProducer.Close(); err != nil {
				util.Error("Failed to close Kafka producer", util.ErrorField(err))
			} else {
				util.Info("Kafka producer closed")
			}
		}

		if f.scyllaClient != nil {
			f.scyllaClient.Close()
			util.Info("ScyllaDB client closed")
		}

		if f.redisClient != nil {
			if err := f.redisClient.Close(); err != nil {
				util.Error("Failed to close Redis client", util.ErrorField(err))
			} else {
				util.Info("Redis client closed")
			}
		}

		util.Sync()
		util.Info("Factory shutdown completed")
	})

	return nil
}

func (f *Factory) Config() *config.Config {
	return f.config
}

// KafkaConsumer returns the observation-event consumer, or nil when
// event-driven analysis is disabled.
func (f *Factory) KafkaConsumer() *client.KafkaConsumer {
	return f.kafkaConsumer
}

func (f *Factory) ScyllaClient() *scylla.ScyllaClient {
	return f.scyllaClient
}

func (f *Factory) FingerprintManager() *bucketing.FingerprintManager {
	return f.fingerprintManager
}
