package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cyclonite69/shadowcheck-sub006/internal/bucketing"
	"github.com/cyclonite69/shadowcheck-sub006/internal/client"
	"github.com/cyclonite69/shadowcheck-sub006/internal/dedup"
	"github.com/cyclonite69/shadowcheck-sub006/internal/models"
	"github.com/cyclonite69/shadowcheck-sub006/internal/repository/scylla"
	"github.com/cyclonite69/shadowcheck-sub006/internal/spatial"
	"github.com/cyclonite69/shadowcheck-sub006/internal/util"
)

// ObservationRequest is one sighting submitted by an upstream parser.
type ObservationRequest struct {
	BSSID          string                `json:"bssid"`
	Name           string                `json:"name,omitempty"`
	Category       string                `json:"category"`
	SourceID       string                `json:"source_id"`
	SourcePriority int                   `json:"source_priority"`
	Timestamp      time.Time             `json:"timestamp"`
	TimePrecision  string                `json:"time_precision,omitempty"`
	SignalDBM      int                   `json:"signal_dbm"`
	Position       *models.Position      `json:"position,omitempty"`
	Metadata       models.SourceMetadata `json:"metadata,omitempty"`
}

// ObservationEvent is the Kafka payload emitted for canonical observations.
type ObservationEvent struct {
	ObservationID string    `json:"observation_id"`
	BSSID         string    `json:"bssid"`
	Category      string    `json:"category"`
	FingerprintID string    `json:"fingerprint_id"`
	SignalDBM     int       `json:"signal_dbm"`
	Timestamp     time.Time `json:"timestamp"`
}

// IngestService validates incoming observations, persists them, resolves
// their canonical status and maintains the identity registry.
type IngestService struct {
	identities   scylla.IdentityRepository
	observations scylla.ObservationRepository
	deduplicator *dedup.Deduplicator
	buckets      *bucketing.FingerprintManager
	producer     *client.KafkaProducer
	logger       *zap.Logger
}

func NewIngestService(
	identities scylla.IdentityRepository,
	observations scylla.ObservationRepository,
	deduplicator *dedup.Deduplicator,
	buckets *bucketing.FingerprintManager,
	producer *client.KafkaProducer,
	logger *zap.Logger,
) *IngestService {
	return &IngestService{
		identities:   identities,
		observations: observations,
		deduplicator: deduplicator,
		buckets:      buckets,
		producer:     producer,
		logger:       logger,
	}
}

// Ingest processes one observation end to end: validate, register the
// identity, persist, deduplicate, publish. Returns the observation's
// resulting canonical/duplicate status and owning fingerprint.
func (s *IngestService) Ingest(ctx context.Context, req *ObservationRequest) (*models.IngestResult, error) {
	obs, err := s.buildObservation(req)
	if err != nil {
		return nil, err
	}

	identity := &models.WirelessIdentity{
		BSSID:     obs.BSSID,
		Name:      req.Name,
		Category:  obs.Category,
		FirstSeen: obs.Timestamp,
		LastSeen:  obs.Timestamp,
	}
	if _, err := s.identities.EnsureIdentity(ctx, identity); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	var cell string
	if obs.Position != nil {
		cell = s.buckets.GeoCell(obs.Position.Lat, obs.Position.Lon)
	}
	if err := s.observations.InsertObservation(ctx, obs, cell); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if err := s.identities.RecordSighting(ctx, obs.BSSID, req.Name, obs.Timestamp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	result, err := s.deduplicator.Process(ctx, obs)
	if err != nil {
		if errors.Is(err, dedup.ErrConflict) {
			return nil, fmt.Errorf("%w: %v", ErrConflict, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if result.Status == models.StatusCanonical {
		s.publishCanonical(ctx, obs, result)
	}

	util.Debug("Observation ingested",
		zap.String("bssid", obs.BSSID),
		zap.String("status", string(result.Status)),
		zap.String("fingerprint_id", result.FingerprintID))
	return result, nil
}

// IngestBatch processes a batch sequentially, counting per-observation
// outcomes. Validation failures abort the batch; dedup conflicts are
// retried once before giving up on the whole batch.
func (s *IngestService) IngestBatch(ctx context.Context, reqs []*ObservationRequest) (*models.IngestStats, error) {
	stats := &models.IngestStats{Total: len(reqs)}
	for _, req := range reqs {
		result, err := s.Ingest(ctx, req)
		if errors.Is(err, ErrConflict) {
			result, err = s.Ingest(ctx, req)
		}
		if err != nil {
			return stats, err
		}
		switch result.Status {
		case models.StatusCanonical:
			stats.Inserted++
		case models.StatusDuplicate:
			stats.Duplicates++
		}
	}

	util.Info("Batch ingest complete",
		zap.Int("total", stats.Total),
		zap.Int("inserted", stats.Inserted),
		zap.Int("duplicates", stats.Duplicates),
		zap.Float64("duplicate_rate_pct", stats.DuplicateRate()))
	return stats, nil
}

// ObservationsNear serves spatial-range lookups over the cell index.
func (s *IngestService) ObservationsNear(ctx context.Context, lat, lon, radiusM float64, since time.Time, limit int) ([]*models.Observation, error) {
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return nil, fmt.Errorf("%w: coordinates out of range", ErrInvalidObservation)
	}
	if radiusM <= 0 {
		radiusM = 1000
	}

	cells := s.buckets.CoveringCells(lat, lon, radiusM)
	candidates, err := s.observations.ObservationsInCells(ctx, cells, since, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	// Cells are coarse; filter to the exact radius.
	out := candidates[:0]
	for _, obs := range candidates {
		if obs.Position == nil {
			continue
		}
		if spatial.DistanceM(lat, lon, obs.Position.Lat, obs.Position.Lon) <= radiusM {
			out = append(out, obs)
		}
	}
	return out, nil
}

func (s *IngestService) buildObservation(req *ObservationRequest) (*models.Observation, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: empty request", ErrInvalidObservation)
	}

	bssid := util.NormalizeBSSID(req.BSSID)
	if len(bssid) != 17 {
		return nil, fmt.Errorf("%w: malformed bssid %q", ErrInvalidObservation, req.BSSID)
	}

	category := models.RadioCategory(req.Category)
	if !category.Valid() {
		return nil, fmt.Errorf("%w: unknown radio category %q", ErrInvalidObservation, req.Category)
	}
	if req.SourceID == "" {
		return nil, fmt.Errorf("%w: missing source id", ErrInvalidObservation)
	}
	if req.SourcePriority < 0 {
		return nil, fmt.Errorf("%w: negative source priority", ErrInvalidObservation)
	}
	if req.Timestamp.IsZero() {
		return nil, fmt.Errorf("%w: missing timestamp", ErrInvalidObservation)
	}
	if req.SignalDBM < -120 || req.SignalDBM > 0 {
		return nil, fmt.Errorf("%w: signal %d dBm out of range", ErrInvalidObservation, req.SignalDBM)
	}
	if req.Position != nil {
		if req.Position.Lat < -90 || req.Position.Lat > 90 ||
			req.Position.Lon < -180 || req.Position.Lon > 180 {
			return nil, fmt.Errorf("%w: coordinates out of range", ErrInvalidObservation)
		}
	}

	precision := models.TimePrecision(req.TimePrecision)
	if req.TimePrecision == "" {
		precision = models.PrecisionSecond
	}

	return &models.Observation{
		ID:             uuid.New(),
		BSSID:          bssid,
		Category:       category,
		SourceID:       req.SourceID,
		SourcePriority: req.SourcePriority,
		Timestamp:      req.Timestamp.UTC(),
		TimePrecision:  precision,
		SignalDBM:      req.SignalDBM,
		Position:       req.Position,
		Metadata:       req.Metadata,
	}, nil
}

// publishCanonical emits the downstream event. Publish failures are logged,
// never propagated: the store write is the source of truth.
func (s *IngestService) publishCanonical(ctx context.Context, obs *models.Observation, result *models.IngestResult) {
	if s.producer == nil {
		return
	}
	event := ObservationEvent{
		ObservationID: result.CanonicalID.String(),
		BSSID:         obs.BSSID,
		Category:      string(obs.Category),
		FingerprintID: result.FingerprintID,
		SignalDBM:     obs.SignalDBM,
		Timestamp:     obs.Timestamp,
	}
	if err := s.producer.PublishObservationEvent(ctx, obs.BSSID, event); err != nil {
		util.Warn("Failed to publish observation event",
			zap.String("bssid", obs.BSSID),
			zap.Error(err))
	}
}
