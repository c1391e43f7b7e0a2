package service

import (
	"go.uber.org/zap"

	"github.com/cyclonite69/shadowcheck-sub006/internal/adaptive"
	"github.com/cyclonite69/shadowcheck-sub006/internal/bucketing"
	"github.com/cyclonite69/shadowcheck-sub006/internal/client"
	"github.com/cyclonite69/shadowcheck-sub006/internal/config"
	"github.com/cyclonite69/shadowcheck-sub006/internal/dedup"
	redisrepo "github.com/cyclonite69/shadowcheck-sub006/internal/repository/redis"
	"github.com/cyclonite69/shadowcheck-sub006/internal/repository/scylla"
	"github.com/cyclonite69/shadowcheck-sub006/internal/spatial"
	"github.com/cyclonite69/shadowcheck-sub006/internal/threat"
	"github.com/cyclonite69/shadowcheck-sub006/internal/triangulate"
)

// ServiceFactory wires the engine components to their repositories and keeps
// one instance of each service.
type ServiceFactory struct {
	cfg          *config.Config
	identities   scylla.IdentityRepository
	observations scylla.ObservationRepository
	fingerprints scylla.FingerprintRepository
	derived      scylla.DerivedRepository
	threats      scylla.ThreatRepository

	buckets       *bucketing.FingerprintManager
	settingsCache *redisrepo.SettingsCache
	exclusions    *redisrepo.ExclusionCache
	producer      *client.KafkaProducer
	es            *client.ESClient
	analytics     *FeedbackAnalytics
	logger        *zap.Logger

	ingestService   *IngestService
	analysisService *AnalysisService
	threatService   *ThreatService
	settingsService *SettingsService
	adaptiveService *AdaptiveService
}

func NewServiceFactory(
	cfg *config.Config,
	identities scylla.IdentityRepository,
	observations scylla.ObservationRepository,
	fingerprints scylla.FingerprintRepository,
	derived scylla.DerivedRepository,
	threats scylla.ThreatRepository,
	buckets *bucketing.FingerprintManager,
	settingsCache *redisrepo.SettingsCache,
	exclusions *redisrepo.ExclusionCache,
	producer *client.KafkaProducer,
	es *client.ESClient,
	clickhouse *client.ClickHouseClient,
	logger *zap.Logger,
) *ServiceFactory {
	return &ServiceFactory{
		cfg:           cfg,
		identities:    identities,
		observations:  observations,
		fingerprints:  fingerprints,
		derived:       derived,
		threats:       threats,
		buckets:       buckets,
		settingsCache: settingsCache,
		exclusions:    exclusions,
		producer:      producer,
		es:            es,
		analytics:     NewFeedbackAnalytics(clickhouse),
		logger:        logger,
	}
}

// IngestService returns the ingest service instance (singleton).
func (f *ServiceFactory) IngestService() *IngestService {
	if f.ingestService == nil {
		deduplicator := dedup.NewDeduplicator(f.cfg, f.buckets, f.fingerprints, f.observations)
		f.ingestService = NewIngestService(f.identities, f.observations, deduplicator, f.buckets, f.producer, f.logger)
	}
	return f.ingestService
}

// AnalysisService returns the analysis service instance (singleton).
func (f *ServiceFactory) AnalysisService() *AnalysisService {
	if f.analysisService == nil {
		f.analysisService = NewAnalysisService(
			f.identities, f.observations, f.derived,
			spatial.NewAnalyzer(f.cfg), triangulate.NewEngine(f.cfg), f.logger)
	}
	return f.analysisService
}

// ThreatService returns the threat service instance (singleton).
func (f *ServiceFactory) ThreatService() *ThreatService {
	if f.threatService == nil {
		detector := threat.NewDetector(threat.ReferencePoint{
			Lat: f.cfg.Detection.ReferenceLat,
			Lon: f.cfg.Detection.ReferenceLon,
		})
		f.threatService = NewThreatService(f.cfg,
			f.identities, f.observations, f.threats,
			detector, f.SettingsService(), f.exclusions, f.analytics,
			f.producer, f.es, f.logger)
	}
	return f.threatService
}

// SettingsService returns the settings service instance (singleton).
func (f *ServiceFactory) SettingsService() *SettingsService {
	if f.settingsService == nil {
		f.settingsService = NewSettingsService(f.threats, f.settingsCache, f.logger)
	}
	return f.settingsService
}

// AdaptiveService returns the adaptive service instance (singleton).
func (f *ServiceFactory) AdaptiveService() *AdaptiveService {
	if f.adaptiveService == nil {
		f.adaptiveService = NewAdaptiveService(f.cfg,
			f.threats, f.SettingsService(), f.analytics,
			adaptive.NewController(f.cfg), f.logger)
	}
	return f.adaptiveService
}
