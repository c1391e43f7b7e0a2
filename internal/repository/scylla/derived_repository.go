package scylla

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gocql/gocql"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cyclonite69/shadowcheck-sub006/internal/models"
	"github.com/cyclonite69/shadowcheck-sub006/internal/util"
)

type derivedRepository struct {
	client *ScyllaClient
}

func NewDerivedRepository(client *ScyllaClient, logger *zap.Logger) DerivedRepository {
	return &derivedRepository{client: client}
}

func (r *derivedRepository) ReplaceCollisionRecord(ctx context.Context, rec *models.SpatialCollisionRecord) error {
	clusters, err := json.Marshal(rec.Clusters)
	if err != nil {
		return fmt.Errorf("failed to encode cluster evidence: %w", err)
	}

	query := r.client.Prepared.ReplaceCollision.WithContext(ctx).Bind(
		rec.BSSID, rec.ClusterCount, rec.MaxClusterDistanceM, string(rec.Classification),
		string(clusters), rec.ObservationCount, rec.ComputedAt)
	if err := r.client.ExecuteWithRetry(query); err != nil {
		util.Error("Failed to replace collision record",
			zap.String("bssid", rec.BSSID),
			zap.Error(err))
		return fmt.Errorf("failed to replace collision record: %w", err)
	}
	return nil
}

func (r *derivedRepository) GetCollisionRecord(ctx context.Context, bssid string) (*models.SpatialCollisionRecord, error) {
	var (
		rec                      models.SpatialCollisionRecord
		classification, clusters string
	)
	query := r.client.Prepared.GetCollision.WithContext(ctx).Bind(bssid)
	err := r.client.ScanWithRetry(query,
		&rec.BSSID, &rec.ClusterCount, &rec.MaxClusterDistanceM, &classification,
		&clusters, &rec.ObservationCount, &rec.ComputedAt)
	if err != nil {
		if err == gocql.ErrNotFound {
			return nil, fmt.Errorf("collision record %s: %w", bssid, gocql.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get collision record: %w", err)
	}

	rec.Classification = models.CollisionClass(classification)
	if clusters != "" {
		if err := json.Unmarshal([]byte(clusters), &rec.Clusters); err != nil {
			return nil, fmt.Errorf("bad cluster evidence for %s: %w", bssid, err)
		}
	}
	return &rec, nil
}

func (r *derivedRepository) ReplaceTriangulatedPosition(ctx context.Context, pos *models.TriangulatedPosition) error {
	contributing := uuidStrings(pos.ContributingIDs)
	excluded := uuidStrings(pos.ExcludedIDs)

	query := r.client.Prepared.ReplaceTriangulated.WithContext(ctx).Bind(
		pos.BSSID, pos.Lat, pos.Lon, pos.ObservationCount, pos.SignalStdDevDB,
		pos.Confidence, contributing, excluded, pos.Derived, pos.ComputedAt)
	if err := r.client.ExecuteWithRetry(query); err != nil {
		util.Error("Failed to replace triangulated position",
			zap.String("bssid", pos.BSSID),
			zap.Error(err))
		return fmt.Errorf("failed to replace triangulated position: %w", err)
	}
	return nil
}

func (r *derivedRepository) GetTriangulatedPosition(ctx context.Context, bssid string) (*models.TriangulatedPosition, error) {
	var (
		pos                    models.TriangulatedPosition
		contributing, excluded []string
	)
	query := r.client.Prepared.GetTriangulated.WithContext(ctx).Bind(bssid)
	err := r.client.ScanWithRetry(query,
		&pos.BSSID, &pos.Lat, &pos.Lon, &pos.ObservationCount, &pos.SignalStdDevDB,
		&pos.Confidence, &contributing, &excluded, &pos.Derived, &pos.ComputedAt)
	if err != nil {
		if err == gocql.ErrNotFound {
			return nil, fmt.Errorf("triangulated position %s: %w", bssid, gocql.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get triangulated position: %w", err)
	}

	if pos.ContributingIDs, err = parseUUIDs(contributing); err != nil {
		return nil, fmt.Errorf("bad contributing ids for %s: %w", bssid, err)
	}
	if pos.ExcludedIDs, err = parseUUIDs(excluded); err != nil {
		return nil, fmt.Errorf("bad excluded ids for %s: %w", bssid, err)
	}
	return &pos, nil
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.String())
	}
	return out
}

func parseUUIDs(raw []string) ([]uuid.UUID, error) {
	out := make([]uuid.UUID, 0, len(raw))
	for _, s := range raw {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}
