package scylla

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cyclonite69/shadowcheck-sub006/internal/models"
	"github.com/cyclonite69/shadowcheck-sub006/internal/util"
)

type observationRepository struct {
	client *ScyllaClient
}

func NewObservationRepository(client *ScyllaClient, logger *zap.Logger) ObservationRepository {
	return &observationRepository{client: client}
}

func (r *observationRepository) InsertObservation(ctx context.Context, obs *models.Observation, cell string) error {
	if obs.ID == uuid.Nil {
		obs.ID = uuid.New()
	}
	if obs.IngestedAt.IsZero() {
		obs.IngestedAt = time.Now().UTC()
	}

	metadata, err := json.Marshal(obs.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode observation metadata: %w", err)
	}

	var lat, lon, altitude, accuracy *float64
	var fixTime *time.Time
	if obs.Position != nil {
		lat, lon = &obs.Position.Lat, &obs.Position.Lon
		altitude, accuracy = obs.Position.Altitude, obs.Position.Accuracy
		fixTime = obs.Position.FixTime
	}

	var duplicateOf string
	if obs.DuplicateOf != nil {
		duplicateOf = obs.DuplicateOf.String()
	}

	// Dual write: by-identity row for canonical scans, by-id row for
	// duplicate-flag updates.
	batch := r.client.Session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	batch.Query(r.client.Prepared.CreateObservation.Statement(),
		obs.BSSID, obs.Timestamp, obs.ID.String(), string(obs.Category),
		obs.SourceID, obs.SourcePriority, string(obs.TimePrecision), obs.SignalDBM,
		lat, lon, altitude, accuracy, fixTime,
		string(metadata), obs.FingerprintID, obs.IsCanonical, duplicateOf, obs.IngestedAt)
	batch.Query(r.client.Prepared.CreateObservationByID.Statement(),
		obs.ID.String(), obs.BSSID, obs.Timestamp, string(obs.Category),
		obs.SourceID, obs.SourcePriority, string(obs.TimePrecision), obs.SignalDBM,
		lat, lon, altitude, accuracy, fixTime,
		string(metadata), obs.FingerprintID, obs.IsCanonical, duplicateOf, obs.IngestedAt)

	if obs.Position != nil {
		batch.Query(r.client.Prepared.CreateObservationCell.Statement(),
			cell, obs.Timestamp, obs.ID.String(), obs.BSSID,
			obs.Position.Lat, obs.Position.Lon, obs.SignalDBM)
	}

	if err := r.client.Session.ExecuteBatch(batch); err != nil {
		util.Error("Failed to insert observation",
			zap.String("bssid", obs.BSSID),
			zap.String("observation_id", obs.ID.String()),
			zap.Error(err))
		return fmt.Errorf("failed to insert observation: %w", err)
	}
	return nil
}

func (r *observationRepository) GetObservation(ctx context.Context, id uuid.UUID) (*models.Observation, error) {
	query := r.client.Prepared.GetObservationByID.WithContext(ctx).Bind(id.String())
	obs, err := scanObservation(query)
	if err != nil {
		if err == gocql.ErrNotFound {
			return nil, fmt.Errorf("observation %s: %w", id, gocql.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get observation: %w", err)
	}
	return obs, nil
}

func (r *observationRepository) CanonicalObservations(ctx context.Context, bssid string, limit int) ([]*models.Observation, error) {
	if limit <= 0 {
		limit = 10000
	}
	iter := r.client.Prepared.CanonicalByIdentity.WithContext(ctx).Bind(bssid, limit).Iter()

	var out []*models.Observation
	for {
		obs, ok, err := scanObservationIter(iter)
		if err != nil {
			iter.Close()
			return nil, fmt.Errorf("failed to scan observation: %w", err)
		}
		if !ok {
			break
		}
		// Canonical filter stays in process; the partition holds both kinds.
		if obs.IsCanonical {
			out = append(out, obs)
		}
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to list canonical observations for %s: %w", bssid, err)
	}
	return out, nil
}

func (r *observationRepository) SetDuplicateFlags(ctx context.Context, id uuid.UUID, fingerprintID string, canonical bool, duplicateOf *uuid.UUID) error {
	// The by-identity row needs its full primary key; read it back first.
	obs, err := r.GetObservation(ctx, id)
	if err != nil {
		return err
	}

	var duplicateOfStr string
	if duplicateOf != nil {
		duplicateOfStr = duplicateOf.String()
	}

	batch := r.client.Session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	batch.Query(r.client.Prepared.UpdateObservationFlags.Statement(),
		fingerprintID, canonical, duplicateOfStr, obs.BSSID, obs.Timestamp, id.String())
	batch.Query(r.client.Prepared.UpdateObservationFlagsByID.Statement(),
		fingerprintID, canonical, duplicateOfStr, id.String())

	if err := r.client.Session.ExecuteBatch(batch); err != nil {
		util.Error("Failed to update duplicate flags",
			zap.String("observation_id", id.String()),
			zap.Bool("canonical", canonical),
			zap.Error(err))
		return fmt.Errorf("failed to update duplicate flags: %w", err)
	}
	return nil
}

func (r *observationRepository) ObservationsInCells(ctx context.Context, cells []string, since time.Time, limit int) ([]*models.Observation, error) {
	if limit <= 0 {
		limit = 1000
	}

	var out []*models.Observation
	for _, cell := range cells {
		iter := r.client.Prepared.ObservationsByCell.WithContext(ctx).
			Bind(cell, since, limit).Iter()

		var (
			idStr, bssid string
			observedAt   time.Time
			lat, lon     float64
			signal       int
		)
		for iter.Scan(&idStr, &bssid, &observedAt, &lat, &lon, &signal) {
			id, err := uuid.Parse(idStr)
			if err != nil {
				continue
			}
			out = append(out, &models.Observation{
				ID:        id,
				BSSID:     bssid,
				Timestamp: observedAt,
				SignalDBM: signal,
				Position:  &models.Position{Lat: lat, Lon: lon},
			})
		}
		if err := iter.Close(); err != nil {
			return nil, fmt.Errorf("failed to scan cell %s: %w", cell, err)
		}
		if len(out) >= limit {
			out = out[:limit]
			break
		}
	}
	return out, nil
}

// scanObservation reads one observation row from a single-row query.
func scanObservation(query *gocql.Query) (*models.Observation, error) {
	var (
		obs                          models.Observation
		idStr, category, precision   string
		lat, lon, altitude, accuracy *float64
		fixTime                      *time.Time
		metadata, duplicateOf        string
	)
	err := query.Scan(
		&idStr, &obs.BSSID, &obs.Timestamp, &category,
		&obs.SourceID, &obs.SourcePriority, &precision, &obs.SignalDBM,
		&lat, &lon, &altitude, &accuracy, &fixTime,
		&metadata, &obs.FingerprintID, &obs.IsCanonical, &duplicateOf, &obs.IngestedAt,
	)
	if err != nil {
		return nil, err
	}
	return buildObservation(&obs, idStr, category, precision, lat, lon, altitude, accuracy, fixTime, metadata, duplicateOf)
}

func scanObservationIter(iter *gocql.Iter) (*models.Observation, bool, error) {
	var (
		obs                          models.Observation
		idStr, category, precision   string
		lat, lon, altitude, accuracy *float64
		fixTime                      *time.Time
		metadata, duplicateOf        string
	)
	ok := iter.Scan(
		&idStr, &obs.BSSID, &obs.Timestamp, &category,
		&obs.SourceID, &obs.SourcePriority, &precision, &obs.SignalDBM,
		&lat, &lon, &altitude, &accuracy, &fixTime,
		&metadata, &obs.FingerprintID, &obs.IsCanonical, &duplicateOf, &obs.IngestedAt,
	)
	if !ok {
		return nil, false, nil
	}
	built, err := buildObservation(&obs, idStr, category, precision, lat, lon, altitude, accuracy, fixTime, metadata, duplicateOf)
	if err != nil {
		return nil, false, err
	}
	return built, true, nil
}

func buildObservation(obs *models.Observation, idStr, category, precision string,
	lat, lon, altitude, accuracy *float64, fixTime *time.Time,
	metadata, duplicateOf string) (*models.Observation, error) {

	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("bad observation id %q: %w", idStr, err)
	}
	obs.ID = id
	obs.Category = models.RadioCategory(category)
	obs.TimePrecision = models.TimePrecision(precision)

	if lat != nil && lon != nil {
		obs.Position = &models.Position{
			Lat: *lat, Lon: *lon,
			Altitude: altitude, Accuracy: accuracy, FixTime: fixTime,
		}
	}
	if metadata != "" {
		if err := json.Unmarshal([]byte(metadata), &obs.Metadata); err != nil {
			return nil, fmt.Errorf("bad observation metadata: %w", err)
		}
	}
	if duplicateOf != "" {
		dup, err := uuid.Parse(duplicateOf)
		if err != nil {
			return nil, fmt.Errorf("bad duplicate_of %q: %w", duplicateOf, err)
		}
		obs.DuplicateOf = &dup
	}
	return obs, nil
}
