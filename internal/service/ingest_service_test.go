package service

import (
	"context"
	"testing"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cyclonite69/shadowcheck-sub006/internal/bucketing"
	"github.com/cyclonite69/shadowcheck-sub006/internal/config"
	"github.com/cyclonite69/shadowcheck-sub006/internal/dedup"
	"github.com/cyclonite69/shadowcheck-sub006/internal/models"
)

// fakeFingerprintStore mirrors the store's IF NOT EXISTS and CAS semantics in
// memory for end-to-end ingest tests.
type fakeFingerprintStore struct {
	rows map[string]*models.Fingerprint
}

func newFakeFingerprintStore() *fakeFingerprintStore {
	return &fakeFingerprintStore{rows: make(map[string]*models.Fingerprint)}
}

func (r *fakeFingerprintStore) clone(fp *models.Fingerprint) *models.Fingerprint {
	cp := *fp
	cp.DuplicateIDs = append([]uuid.UUID(nil), fp.DuplicateIDs...)
	return &cp
}

func (r *fakeFingerprintStore) GetFingerprint(ctx context.Context, id string) (*models.Fingerprint, error) {
	fp, ok := r.rows[id]
	if !ok {
		return nil, gocql.ErrNotFound
	}
	return r.clone(fp), nil
}

func (r *fakeFingerprintStore) FingerprintsByIdentity(ctx context.Context, bssid string, fromBucket, toBucket int64) ([]*models.Fingerprint, error) {
	var out []*models.Fingerprint
	for _, fp := range r.rows {
		if fp.BSSID == bssid && fp.TimeBucket >= fromBucket && fp.TimeBucket <= toBucket {
			out = append(out, r.clone(fp))
		}
	}
	return out, nil
}

func (r *fakeFingerprintStore) CreateFingerprint(ctx context.Context, fp *models.Fingerprint) (bool, *models.Fingerprint, error) {
	if existing, ok := r.rows[fp.ID]; ok {
		return false, r.clone(existing), nil
	}
	r.rows[fp.ID] = r.clone(fp)
	return true, nil, nil
}

func (r *fakeFingerprintStore) SwapCanonical(ctx context.Context, id string, newID uuid.UUID, newPriority int, expectedID uuid.UUID) (bool, *models.Fingerprint, error) {
	fp, ok := r.rows[id]
	if !ok {
		return false, nil, gocql.ErrNotFound
	}
	if fp.CanonicalID != expectedID {
		return false, r.clone(fp), nil
	}
	fp.CanonicalID = newID
	fp.CanonicalPriority = newPriority
	return true, nil, nil
}

func (r *fakeFingerprintStore) AddDuplicate(ctx context.Context, id string, dup uuid.UUID) error {
	fp, ok := r.rows[id]
	if !ok {
		return gocql.ErrNotFound
	}
	fp.DuplicateIDs = append(fp.DuplicateIDs, dup)
	return nil
}

func newTestIngestService(identities *fakeIdentityRepo, observations *fakeCanonicalObservationRepo) *IngestService {
	cfg := &config.Config{}
	buckets := bucketing.NewFingerprintManager(cfg)
	deduplicator := dedup.NewDeduplicator(cfg, buckets, newFakeFingerprintStore(), observations)
	return NewIngestService(identities, observations, deduplicator, buckets, nil, zap.NewNop())
}

func validRequest() *ObservationRequest {
	return &ObservationRequest{
		BSSID:          "a0:bb:cc:dd:ee:ff",
		Name:           "CoffeeShopGuest",
		Category:       "W",
		SourceID:       "kismet",
		SourcePriority: 1,
		Timestamp:      time.Now().UTC(),
		SignalDBM:      -63,
		Position:       &models.Position{Lat: 40.7128, Lon: -74.0060},
	}
}

func TestIngestValidation(t *testing.T) {
	svc := newTestIngestService(newFakeIdentityRepo(), newFakeCanonicalObservationRepo())
	ctx := context.Background()

	cases := []struct {
		name   string
		mutate func(*ObservationRequest)
	}{
		{"malformed bssid", func(r *ObservationRequest) { r.BSSID = "zz:zz" }},
		{"unknown category", func(r *ObservationRequest) { r.Category = "Q" }},
		{"missing source", func(r *ObservationRequest) { r.SourceID = "" }},
		{"negative priority", func(r *ObservationRequest) { r.SourcePriority = -1 }},
		{"zero timestamp", func(r *ObservationRequest) { r.Timestamp = time.Time{} }},
		{"signal out of range", func(r *ObservationRequest) { r.SignalDBM = 30 }},
		{"latitude out of range", func(r *ObservationRequest) { r.Position.Lat = 95 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := validRequest()
			tc.mutate(req)
			_, err := svc.Ingest(ctx, req)
			assert.ErrorIs(t, err, ErrInvalidObservation)
		})
	}
}

func TestIngestCanonicalThenDuplicate(t *testing.T) {
	identities := newFakeIdentityRepo()
	observations := newFakeCanonicalObservationRepo()
	svc := newTestIngestService(identities, observations)
	ctx := context.Background()

	first, err := svc.Ingest(ctx, validRequest())
	require.NoError(t, err)
	assert.Equal(t, models.StatusCanonical, first.Status)

	// Identity registered with a normalized address
	identity, err := identities.GetIdentity(ctx, "A0:BB:CC:DD:EE:FF")
	require.NoError(t, err)
	assert.Equal(t, models.CategoryWiFi, identity.Category)

	// Same reading from a less trusted pipeline collapses onto the first
	dup := validRequest()
	dup.SourceID = "wigle_api"
	dup.SourcePriority = 5
	second, err := svc.Ingest(ctx, dup)
	require.NoError(t, err)

	assert.Equal(t, models.StatusDuplicate, second.Status)
	assert.Equal(t, first.ObservationID, second.CanonicalID)
	assert.Equal(t, first.FingerprintID, second.FingerprintID)
}

func TestIngestBatchCountsOutcomes(t *testing.T) {
	svc := newTestIngestService(newFakeIdentityRepo(), newFakeCanonicalObservationRepo())
	ctx := context.Background()

	other := validRequest()
	other.BSSID = "11:22:33:44:55:66"

	dup := validRequest()
	dup.SourcePriority = 5

	stats, err := svc.IngestBatch(ctx, []*ObservationRequest{validRequest(), other, dup})
	require.NoError(t, err)

	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 2, stats.Inserted)
	assert.Equal(t, 1, stats.Duplicates)
	assert.InDelta(t, 33.3, stats.DuplicateRate(), 0.1)
}

func TestObservationsNearFiltersExactRadius(t *testing.T) {
	observations := newFakeCanonicalObservationRepo()
	svc := newTestIngestService(newFakeIdentityRepo(), observations)
	ctx := context.Background()

	near := validRequest()
	far := validRequest()
	far.BSSID = "11:22:33:44:55:66"
	far.Position = &models.Position{Lat: 40.9, Lon: -74.0060} // ~20km north

	_, err := svc.Ingest(ctx, near)
	require.NoError(t, err)
	_, err = svc.Ingest(ctx, far)
	require.NoError(t, err)

	found, err := svc.ObservationsNear(ctx, 40.7128, -74.0060, 1000, time.Now().Add(-time.Hour), 0)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "A0:BB:CC:DD:EE:FF", found[0].BSSID)

	_, err = svc.ObservationsNear(ctx, 120, 0, 1000, time.Now().Add(-time.Hour), 0)
	assert.ErrorIs(t, err, ErrInvalidObservation)
}
