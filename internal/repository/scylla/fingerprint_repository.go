package scylla

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cyclonite69/shadowcheck-sub006/internal/models"
	"github.com/cyclonite69/shadowcheck-sub006/internal/util"
)

type fingerprintRepository struct {
	client *ScyllaClient
}

func NewFingerprintRepository(client *ScyllaClient, logger *zap.Logger) FingerprintRepository {
	return &fingerprintRepository{client: client}
}

func (r *fingerprintRepository) GetFingerprint(ctx context.Context, id string) (*models.Fingerprint, error) {
	var (
		fp           models.Fingerprint
		canonicalID  string
		duplicateIDs []string
	)
	query := r.client.Prepared.GetFingerprint.WithContext(ctx).Bind(id)
	err := r.client.ScanWithRetry(query,
		&fp.ID, &fp.BSSID, &fp.TimeBucket, &fp.SignalBucket,
		&canonicalID, &fp.CanonicalPriority, &duplicateIDs, &fp.CreatedAt, &fp.UpdatedAt)
	if err != nil {
		if err == gocql.ErrNotFound {
			return nil, fmt.Errorf("fingerprint %s: %w", id, gocql.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get fingerprint: %w", err)
	}
	if err := fillFingerprintIDs(&fp, canonicalID, duplicateIDs); err != nil {
		return nil, err
	}
	return &fp, nil
}

func (r *fingerprintRepository) FingerprintsByIdentity(ctx context.Context, bssid string, fromBucket, toBucket int64) ([]*models.Fingerprint, error) {
	iter := r.client.Prepared.FingerprintsByIdentity.WithContext(ctx).
		Bind(bssid, fromBucket, toBucket).Iter()

	var ids []string
	var (
		scannedBSSID  string
		timeBucket    int64
		signalBucket  int
		fingerprintID string
	)
	for iter.Scan(&scannedBSSID, &timeBucket, &signalBucket, &fingerprintID) {
		ids = append(ids, fingerprintID)
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to list fingerprints for %s: %w", bssid, err)
	}

	fps := make([]*models.Fingerprint, 0, len(ids))
	for _, id := range ids {
		fp, err := r.GetFingerprint(ctx, id)
		if err != nil {
			// Lookup rows land before the main row; skip the gap.
			if gocqlIsNotFound(err) {
				continue
			}
			return nil, err
		}
		fps = append(fps, fp)
	}
	return fps, nil
}

func (r *fingerprintRepository) CreateFingerprint(ctx context.Context, fp *models.Fingerprint) (bool, *models.Fingerprint, error) {
	now := time.Now().UTC()
	if fp.CreatedAt.IsZero() {
		fp.CreatedAt = now
	}
	fp.UpdatedAt = now

	duplicateIDs := make([]string, 0, len(fp.DuplicateIDs))
	for _, d := range fp.DuplicateIDs {
		duplicateIDs = append(duplicateIDs, d.String())
	}

	applied, err := r.client.Prepared.CreateFingerprint.WithContext(ctx).Bind(
		fp.ID, fp.BSSID, fp.TimeBucket, fp.SignalBucket,
		fp.CanonicalID.String(), fp.CanonicalPriority, duplicateIDs,
		fp.CreatedAt, fp.UpdatedAt,
	).MapScanCAS(map[string]interface{}{})
	if err != nil {
		util.Error("Failed to create fingerprint",
			zap.String("fingerprint_id", fp.ID),
			zap.String("bssid", fp.BSSID),
			zap.Error(err))
		return false, nil, fmt.Errorf("failed to create fingerprint: %w", err)
	}

	if !applied {
		// Lost the race; the winner's row is authoritative.
		existing, err := r.GetFingerprint(ctx, fp.ID)
		if err != nil {
			return false, nil, err
		}
		return false, existing, nil
	}

	lookup := r.client.Prepared.CreateFingerprintLookup.WithContext(ctx).
		Bind(fp.BSSID, fp.TimeBucket, fp.SignalBucket, fp.ID)
	if err := r.client.ExecuteWithRetry(lookup); err != nil {
		return true, nil, fmt.Errorf("failed to index fingerprint: %w", err)
	}
	return true, nil, nil
}

func (r *fingerprintRepository) SwapCanonical(ctx context.Context, id string, newID uuid.UUID, newPriority int, expectedID uuid.UUID) (bool, *models.Fingerprint, error) {
	applied, err := r.client.Prepared.SwapCanonical.WithContext(ctx).Bind(
		newID.String(), newPriority, time.Now().UTC(), id, expectedID.String(),
	).MapScanCAS(map[string]interface{}{})
	if err != nil {
		util.Error("Failed to swap canonical",
			zap.String("fingerprint_id", id),
			zap.String("new_canonical", newID.String()),
			zap.Error(err))
		return false, nil, fmt.Errorf("failed to swap canonical: %w", err)
	}
	if applied {
		return true, nil, nil
	}

	current, err := r.GetFingerprint(ctx, id)
	if err != nil {
		return false, nil, err
	}
	util.Debug("Canonical swap lost CAS race",
		zap.String("fingerprint_id", id),
		zap.String("current_canonical", current.CanonicalID.String()))
	return false, current, nil
}

func (r *fingerprintRepository) AddDuplicate(ctx context.Context, id string, dup uuid.UUID) error {
	query := r.client.Prepared.AddDuplicate.WithContext(ctx).
		Bind([]string{dup.String()}, time.Now().UTC(), id)
	if err := r.client.ExecuteWithRetry(query); err != nil {
		return fmt.Errorf("failed to append duplicate: %w", err)
	}
	return nil
}

func fillFingerprintIDs(fp *models.Fingerprint, canonicalID string, duplicateIDs []string) error {
	cid, err := uuid.Parse(canonicalID)
	if err != nil {
		return fmt.Errorf("bad canonical id %q: %w", canonicalID, err)
	}
	fp.CanonicalID = cid

	fp.DuplicateIDs = make([]uuid.UUID, 0, len(duplicateIDs))
	for _, d := range duplicateIDs {
		did, err := uuid.Parse(d)
		if err != nil {
			return fmt.Errorf("bad duplicate id %q: %w", d, err)
		}
		fp.DuplicateIDs = append(fp.DuplicateIDs, did)
	}
	return nil
}

func gocqlIsNotFound(err error) bool {
	return errors.Is(err, gocql.ErrNotFound)
}
