package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"github.com/cyclonite69/shadowcheck-sub006/internal/models"
	"github.com/cyclonite69/shadowcheck-sub006/internal/util"
)

type identityRepository struct {
	client *ScyllaClient
}

func NewIdentityRepository(client *ScyllaClient, logger *zap.Logger) IdentityRepository {
	// Using global util logger instead of individual logger
	return &identityRepository{client: client}
}

func (r *identityRepository) EnsureIdentity(ctx context.Context, identity *models.WirelessIdentity) (bool, error) {
	now := time.Now().UTC()
	if identity.CreatedAt.IsZero() {
		identity.CreatedAt = now
	}
	identity.UpdatedAt = now

	query := r.client.Prepared.CreateIdentity.WithContext(ctx).Bind(
		identity.BSSID, identity.Name, string(identity.Category),
		identity.IsMobile, identity.MobileConfidence,
		identity.FirstSeen, identity.LastSeen,
		identity.PrimaryLat, identity.PrimaryLon,
		identity.CreatedAt, identity.UpdatedAt,
	)

	applied, err := query.MapScanCAS(map[string]interface{}{})
	if err != nil {
		util.Error("Failed to ensure identity",
			zap.String("bssid", identity.BSSID),
			zap.Error(err))
		return false, fmt.Errorf("failed to ensure identity: %w", err)
	}

	if applied {
		lookup := r.client.Prepared.CreateIdentityCategory.WithContext(ctx).Bind(
			string(identity.Category), identity.BSSID,
		)
		if err := r.client.ExecuteWithRetry(lookup); err != nil {
			return true, fmt.Errorf("failed to index identity by category: %w", err)
		}
		util.Info("Identity registered",
			zap.String("bssid", identity.BSSID),
			zap.String("category", string(identity.Category)))
	}
	return applied, nil
}

func (r *identityRepository) GetIdentity(ctx context.Context, bssid string) (*models.WirelessIdentity, error) {
	identity := &models.WirelessIdentity{}
	var category string

	query := r.client.Prepared.GetIdentity.WithContext(ctx).Bind(bssid)
	err := r.client.ScanWithRetry(query,
		&identity.BSSID, &identity.Name, &category,
		&identity.IsMobile, &identity.MobileConfidence,
		&identity.FirstSeen, &identity.LastSeen,
		&identity.PrimaryLat, &identity.PrimaryLon,
		&identity.CreatedAt, &identity.UpdatedAt,
	)
	if err != nil {
		if err == gocql.ErrNotFound {
			return nil, fmt.Errorf("identity %s: %w", bssid, gocql.ErrNotFound)
		}
		util.Error("Failed to get identity", zap.String("bssid", bssid), zap.Error(err))
		return nil, fmt.Errorf("failed to get identity: %w", err)
	}
	identity.Category = models.RadioCategory(category)

	// observation_count lives in a counter table
	var count int64
	countQuery := r.client.Query(
		`SELECT observation_count FROM identity_stats WHERE bssid = ?`, bssid,
	).WithContext(ctx)
	if err := countQuery.Scan(&count); err == nil {
		identity.ObservationCount = count
	}

	return identity, nil
}

func (r *identityRepository) IdentitiesByCategory(ctx context.Context, category models.RadioCategory, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 10000
	}
	iter := r.client.Prepared.IdentitiesByCategory.WithContext(ctx).
		Bind(string(category), limit).Iter()

	var bssids []string
	var bssid string
	for iter.Scan(&bssid) {
		bssids = append(bssids, bssid)
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to list identities for category %s: %w", category, err)
	}
	return bssids, nil
}

func (r *identityRepository) RecordSighting(ctx context.Context, bssid, name string, seen time.Time) error {
	query := r.client.Prepared.UpdateIdentitySighting.WithContext(ctx).Bind(
		seen, name, time.Now().UTC(), bssid,
	)
	if err := r.client.ExecuteWithRetry(query); err != nil {
		return fmt.Errorf("failed to record sighting: %w", err)
	}

	bump := r.client.Prepared.BumpObservationCount.WithContext(ctx).Bind(bssid)
	if err := r.client.ExecuteWithRetry(bump); err != nil {
		return fmt.Errorf("failed to bump observation count: %w", err)
	}
	return nil
}

func (r *identityRepository) SetMobility(ctx context.Context, bssid string, mobile bool, confidence float64) error {
	query := r.client.Prepared.UpdateIdentityMobility.WithContext(ctx).Bind(
		mobile, confidence, time.Now().UTC(), bssid,
	)
	if err := r.client.ExecuteWithRetry(query); err != nil {
		util.Error("Failed to set identity mobility",
			zap.String("bssid", bssid), zap.Bool("mobile", mobile), zap.Error(err))
		return fmt.Errorf("failed to set mobility: %w", err)
	}
	return nil
}

func (r *identityRepository) SetPrimaryPosition(ctx context.Context, bssid string, lat, lon float64) error {
	query := r.client.Prepared.UpdateIdentityPosition.WithContext(ctx).Bind(
		lat, lon, time.Now().UTC(), bssid,
	)
	if err := r.client.ExecuteWithRetry(query); err != nil {
		return fmt.Errorf("failed to set primary position: %w", err)
	}
	return nil
}
