package dedup

import (
	"context"
	"testing"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyclonite69/shadowcheck-sub006/internal/bucketing"
	"github.com/cyclonite69/shadowcheck-sub006/internal/config"
	"github.com/cyclonite69/shadowcheck-sub006/internal/models"
)

// fakeFingerprintRepo is an in-memory FingerprintRepository with the same
// compare-and-swap semantics as the Scylla implementation.
type fakeFingerprintRepo struct {
	rows map[string]*models.Fingerprint
}

func newFakeFingerprintRepo() *fakeFingerprintRepo {
	return &fakeFingerprintRepo{rows: make(map[string]*models.Fingerprint)}
}

func (r *fakeFingerprintRepo) clone(fp *models.Fingerprint) *models.Fingerprint {
	cp := *fp
	cp.DuplicateIDs = append([]uuid.UUID(nil), fp.DuplicateIDs...)
	return &cp
}

func (r *fakeFingerprintRepo) GetFingerprint(ctx context.Context, id string) (*models.Fingerprint, error) {
	fp, ok := r.rows[id]
	if !ok {
		return nil, gocql.ErrNotFound
	}
	return r.clone(fp), nil
}

func (r *fakeFingerprintRepo) FingerprintsByIdentity(ctx context.Context, bssid string, fromBucket, toBucket int64) ([]*models.Fingerprint, error) {
	var out []*models.Fingerprint
	for _, fp := range r.rows {
		if fp.BSSID == bssid && fp.TimeBucket >= fromBucket && fp.TimeBucket <= toBucket {
			out = append(out, r.clone(fp))
		}
	}
	return out, nil
}

func (r *fakeFingerprintRepo) CreateFingerprint(ctx context.Context, fp *models.Fingerprint) (bool, *models.Fingerprint, error) {
	if existing, ok := r.rows[fp.ID]; ok {
		return false, r.clone(existing), nil
	}
	r.rows[fp.ID] = r.clone(fp)
	return true, nil, nil
}

func (r *fakeFingerprintRepo) SwapCanonical(ctx context.Context, id string, newID uuid.UUID, newPriority int, expectedID uuid.UUID) (bool, *models.Fingerprint, error) {
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

func (r *fakeFingerprintRepo) AddDuplicate(ctx context.Context, id string, dup uuid.UUID) error {
	fp, ok := r.rows[id]
	if !ok {
		return gocql.ErrNotFound
	}
	fp.DuplicateIDs = append(fp.DuplicateIDs, dup)
	return nil
}

// fakeObservationRepo records the duplicate-resolution flags the deduplicator
// sets; the rest of the interface is unused here.
type fakeObservationRepo struct {
	flags map[uuid.UUID]obsFlags
}

type obsFlags struct {
	fingerprintID string
	canonical     bool
	duplicateOf   *uuid.UUID
}

func newFakeObservationRepo() *fakeObservationRepo {
	return &fakeObservationRepo{flags: make(map[uuid.UUID]obsFlags)}
}

func (r *fakeObservationRepo) InsertObservation(ctx context.Context, obs *models.Observation, cell string) error {
	return nil
}

func (r *fakeObservationRepo) GetObservation(ctx context.Context, id uuid.UUID) (*models.Observation, error) {
	return nil, gocql.ErrNotFound
}

func (r *fakeObservationRepo) CanonicalObservations(ctx context.Context, bssid string, limit int) ([]*models.Observation, error) {
	return nil, nil
}

func (r *fakeObservationRepo) SetDuplicateFlags(ctx context.Context, id uuid.UUID, fingerprintID string, canonical bool, duplicateOf *uuid.UUID) error {
	r.flags[id] = obsFlags{fingerprintID: fingerprintID, canonical: canonical, duplicateOf: duplicateOf}
	return nil
}

func (r *fakeObservationRepo) ObservationsInCells(ctx context.Context, cells []string, since time.Time, limit int) ([]*models.Observation, error) {
	return nil, nil
}

func testObservation(bssid string, ts time.Time, dbm, priority int) *models.Observation {
	return &models.Observation{
		ID:             uuid.New(),
		BSSID:          bssid,
		Timestamp:      ts,
		SignalDBM:      dbm,
		SourcePriority: priority,
	}
}

func newTestDeduplicator(fps *fakeFingerprintRepo, obs *fakeObservationRepo) *Deduplicator {
	cfg := &config.Config{}
	return NewDeduplicator(cfg, bucketing.NewFingerprintManager(cfg), fps, obs)
}

func TestProcessFirstObservationBecomesCanonical(t *testing.T) {
	fps := newFakeFingerprintRepo()
	obsRepo := newFakeObservationRepo()
	d := newTestDeduplicator(fps, obsRepo)

	o := testObservation("AA:BB:CC:DD:EE:FF", time.Now(), -63, 1)
	result, err := d.Process(context.Background(), o)
	require.NoError(t, err)

	assert.Equal(t, models.StatusCanonical, result.Status)
	assert.Equal(t, o.ID, result.CanonicalID)
	assert.Equal(t, 1.0, result.MatchConfidence)

	flags := obsRepo.flags[o.ID]
	assert.True(t, flags.canonical)
	assert.Nil(t, flags.duplicateOf)

	fp := fps.rows[result.FingerprintID]
	require.NotNil(t, fp)
	assert.Equal(t, o.ID, fp.CanonicalID)
	assert.Equal(t, 1, fp.CanonicalPriority)
}

func TestProcessExactMatchLowerTrustIsDuplicate(t *testing.T) {
	fps := newFakeFingerprintRepo()
	obsRepo := newFakeObservationRepo()
	d := newTestDeduplicator(fps, obsRepo)
	ts := time.Now()

	first := testObservation("AA:BB:CC:DD:EE:FF", ts, -63, 1)
	firstResult, err := d.Process(context.Background(), first)
	require.NoError(t, err)

	// Same bucket, less trusted source
	second := testObservation("AA:BB:CC:DD:EE:FF", ts, -63, 5)
	result, err := d.Process(context.Background(), second)
	require.NoError(t, err)

	assert.Equal(t, models.StatusDuplicate, result.Status)
	assert.Equal(t, first.ID, result.CanonicalID)
	assert.Equal(t, firstResult.FingerprintID, result.FingerprintID)

	flags := obsRepo.flags[second.ID]
	assert.False(t, flags.canonical)
	require.NotNil(t, flags.duplicateOf)
	assert.Equal(t, first.ID, *flags.duplicateOf)

	fp := fps.rows[result.FingerprintID]
	assert.Equal(t, first.ID, fp.CanonicalID)
	assert.Contains(t, fp.DuplicateIDs, second.ID)
}

func TestProcessHigherTrustPromotes(t *testing.T) {
	fps := newFakeFingerprintRepo()
	obsRepo := newFakeObservationRepo()
	d := newTestDeduplicator(fps, obsRepo)
	ts := time.Now()

	first := testObservation("AA:BB:CC:DD:EE:FF", ts, -63, 5)
	_, err := d.Process(context.Background(), first)
	require.NoError(t, err)

	third := testObservation("AA:BB:CC:DD:EE:FF", ts, -63, 5)
	_, err = d.Process(context.Background(), third)
	require.NoError(t, err)

	// More trusted source arrives late and takes over
	promoted := testObservation("AA:BB:CC:DD:EE:FF", ts, -63, 1)
	result, err := d.Process(context.Background(), promoted)
	require.NoError(t, err)

	assert.Equal(t, models.StatusCanonical, result.Status)
	assert.Equal(t, promoted.ID, result.CanonicalID)

	fp := fps.rows[result.FingerprintID]
	assert.Equal(t, promoted.ID, fp.CanonicalID)
	assert.Equal(t, 1, fp.CanonicalPriority)
	assert.Contains(t, fp.DuplicateIDs, first.ID)

	// Every demoted observation points at the new canonical, one level deep
	demotedFlags := obsRepo.flags[first.ID]
	assert.False(t, demotedFlags.canonical)
	require.NotNil(t, demotedFlags.duplicateOf)
	assert.Equal(t, promoted.ID, *demotedFlags.duplicateOf)

	thirdFlags := obsRepo.flags[third.ID]
	assert.False(t, thirdFlags.canonical)
	require.NotNil(t, thirdFlags.duplicateOf)
	assert.Equal(t, promoted.ID, *thirdFlags.duplicateOf)

	promotedFlags := obsRepo.flags[promoted.ID]
	assert.True(t, promotedFlags.canonical)
}

func TestProcessFuzzyMatchAdjacentTimeBucket(t *testing.T) {
	fps := newFakeFingerprintRepo()
	obsRepo := newFakeObservationRepo()
	d := newTestDeduplicator(fps, obsRepo)

	base := time.Date(2025, 6, 1, 12, 0, 5, 0, time.UTC)
	first := testObservation("AA:BB:CC:DD:EE:FF", base, -63, 1)
	firstResult, err := d.Process(context.Background(), first)
	require.NoError(t, err)

	// One time bucket later, same signal bucket: scores exactly the 0.7 floor
	second := testObservation("AA:BB:CC:DD:EE:FF", base.Add(10*time.Second), -63, 5)
	result, err := d.Process(context.Background(), second)
	require.NoError(t, err)

	assert.Equal(t, models.StatusDuplicate, result.Status)
	assert.Equal(t, firstResult.FingerprintID, result.FingerprintID)
	assert.InDelta(t, 0.7, result.MatchConfidence, 1e-9)
}

func TestProcessFuzzyMatchRejectsDistantBucket(t *testing.T) {
	fps := newFakeFingerprintRepo()
	obsRepo := newFakeObservationRepo()
	d := newTestDeduplicator(fps, obsRepo)

	base := time.Date(2025, 6, 1, 12, 0, 5, 0, time.UTC)
	first := testObservation("AA:BB:CC:DD:EE:FF", base, -63, 1)
	firstResult, err := d.Process(context.Background(), first)
	require.NoError(t, err)

	// Two buckets away decays the temporal term to zero: 0.4 total, rejected
	second := testObservation("AA:BB:CC:DD:EE:FF", base.Add(20*time.Second), -63, 1)
	result, err := d.Process(context.Background(), second)
	require.NoError(t, err)

	assert.Equal(t, models.StatusCanonical, result.Status)
	assert.NotEqual(t, firstResult.FingerprintID, result.FingerprintID)
}

func TestProcessDifferentIdentitiesNeverMatch(t *testing.T) {
	fps := newFakeFingerprintRepo()
	obsRepo := newFakeObservationRepo()
	d := newTestDeduplicator(fps, obsRepo)
	ts := time.Now()

	first := testObservation("AA:BB:CC:DD:EE:FF", ts, -63, 1)
	firstResult, err := d.Process(context.Background(), first)
	require.NoError(t, err)

	second := testObservation("11:22:33:44:55:66", ts, -63, 1)
	result, err := d.Process(context.Background(), second)
	require.NoError(t, err)

	assert.Equal(t, models.StatusCanonical, result.Status)
	assert.NotEqual(t, firstResult.FingerprintID, result.FingerprintID)
}
