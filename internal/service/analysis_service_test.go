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

	"github.com/cyclonite69/shadowcheck-sub006/internal/config"
	"github.com/cyclonite69/shadowcheck-sub006/internal/models"
	"github.com/cyclonite69/shadowcheck-sub006/internal/spatial"
	"github.com/cyclonite69/shadowcheck-sub006/internal/triangulate"
)

type fakeDerivedRepo struct {
	collisions map[string]*models.SpatialCollisionRecord
	positions  map[string]*models.TriangulatedPosition
}

func newFakeDerivedRepo() *fakeDerivedRepo {
	return &fakeDerivedRepo{
		collisions: make(map[string]*models.SpatialCollisionRecord),
		positions:  make(map[string]*models.TriangulatedPosition),
	}
}

func (r *fakeDerivedRepo) ReplaceCollisionRecord(ctx context.Context, rec *models.SpatialCollisionRecord) error {
	cp := *rec
	r.collisions[rec.BSSID] = &cp
	return nil
}

func (r *fakeDerivedRepo) GetCollisionRecord(ctx context.Context, bssid string) (*models.SpatialCollisionRecord, error) {
	rec, ok := r.collisions[bssid]
	if !ok {
		return nil, gocql.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (r *fakeDerivedRepo) ReplaceTriangulatedPosition(ctx context.Context, pos *models.TriangulatedPosition) error {
	cp := *pos
	r.positions[pos.BSSID] = &cp
	return nil
}

func (r *fakeDerivedRepo) GetTriangulatedPosition(ctx context.Context, bssid string) (*models.TriangulatedPosition, error) {
	pos, ok := r.positions[bssid]
	if !ok {
		return nil, gocql.ErrNotFound
	}
	cp := *pos
	return &cp, nil
}

func newTestAnalysisService(identities *fakeIdentityRepo, observations *fakeCanonicalObservationRepo, derived *fakeDerivedRepo) *AnalysisService {
	cfg := &config.Config{}
	return NewAnalysisService(identities, observations, derived,
		spatial.NewAnalyzer(cfg), triangulate.NewEngine(cfg), zap.NewNop())
}

func addPositionedObservation(observations *fakeCanonicalObservationRepo, bssid string, lat, lon float64, dbm int) {
	now := time.Now().UTC()
	observations.fakeObservationStore[bssid] = append(observations.fakeObservationStore[bssid], &models.Observation{
		ID:          uuid.New(),
		BSSID:       bssid,
		IsCanonical: true,
		Timestamp:   now,
		SignalDBM:   dbm,
		Position:    &models.Position{Lat: lat, Lon: lon, FixTime: &now},
	})
}

func TestAnalyzeIdentityStoresBothDerivedRecords(t *testing.T) {
	identities := newFakeIdentityRepo()
	observations := newFakeCanonicalObservationRepo()
	derived := newFakeDerivedRepo()
	svc := newTestAnalysisService(identities, observations, derived)
	ctx := context.Background()

	bssid := "A0:BB:CC:DD:EE:01"
	addWiFiIdentity(identities, bssid)
	addPositionedObservation(observations, bssid, 0, 0, -50)
	addPositionedObservation(observations, bssid, 0, 0.0005, -60)
	addPositionedObservation(observations, bssid, 0.0005, 0, -70)

	require.NoError(t, svc.AnalyzeIdentity(ctx, bssid))

	collision, err := svc.GetCollisionRecord(ctx, bssid)
	require.NoError(t, err)
	assert.Equal(t, models.CollisionMobileDevice, collision.Classification)
	assert.Equal(t, 1, collision.ClusterCount)

	pos, err := svc.GetTriangulatedPosition(ctx, bssid)
	require.NoError(t, err)
	assert.Equal(t, 3, pos.ObservationCount)
	assert.True(t, pos.Derived)

	// A stationary single-cluster AP is not marked mobile
	identity, err := identities.GetIdentity(ctx, bssid)
	require.NoError(t, err)
	assert.False(t, identity.IsMobile)
	require.NotNil(t, identity.PrimaryLat)
	require.NotNil(t, identity.PrimaryLon)
}

func TestAnalyzeIdentityMovingDeviceSkipsTriangulation(t *testing.T) {
	identities := newFakeIdentityRepo()
	observations := newFakeCanonicalObservationRepo()
	derived := newFakeDerivedRepo()
	svc := newTestAnalysisService(identities, observations, derived)
	ctx := context.Background()

	// Two tight clusters a few hundred meters apart: one device moving
	bssid := "A0:BB:CC:DD:EE:02"
	addWiFiIdentity(identities, bssid)
	addPositionedObservation(observations, bssid, 0, 0, -50)
	addPositionedObservation(observations, bssid, 0.0001, 0, -55)
	addPositionedObservation(observations, bssid, 0, 0.0001, -60)
	addPositionedObservation(observations, bssid, 0.005, 0, -50)
	addPositionedObservation(observations, bssid, 0.0051, 0, -55)
	addPositionedObservation(observations, bssid, 0.005, 0.0001, -60)

	require.NoError(t, svc.AnalyzeIdentity(ctx, bssid))

	collision, err := svc.GetCollisionRecord(ctx, bssid)
	require.NoError(t, err)
	assert.Equal(t, models.CollisionMobileDevice, collision.Classification)
	assert.Equal(t, 2, collision.ClusterCount)
	assert.Greater(t, collision.MaxClusterDistanceM, 0.0)

	identity, err := identities.GetIdentity(ctx, bssid)
	require.NoError(t, err)
	assert.True(t, identity.IsMobile)

	// The mobility verdict suppresses the position estimate
	_, err = svc.GetTriangulatedPosition(ctx, bssid)
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestAnalyzeIdentityVendorReuse(t *testing.T) {
	identities := newFakeIdentityRepo()
	observations := newFakeCanonicalObservationRepo()
	derived := newFakeDerivedRepo()
	svc := newTestAnalysisService(identities, observations, derived)
	ctx := context.Background()

	bssid := "A0:BB:CC:DD:EE:03"
	addWiFiIdentity(identities, bssid)
	for i := 0; i < 3; i++ {
		addPositionedObservation(observations, bssid, float64(i)*0.0001, 0, -60)
		addPositionedObservation(observations, bssid, 5+float64(i)*0.0001, 5, -60)
	}

	require.NoError(t, svc.AnalyzeIdentity(ctx, bssid))

	collision, err := svc.GetCollisionRecord(ctx, bssid)
	require.NoError(t, err)
	assert.Equal(t, models.CollisionVendorReuse, collision.Classification)

	// Vendor reuse never flags the identity as mobile
	identity, err := identities.GetIdentity(ctx, bssid)
	require.NoError(t, err)
	assert.False(t, identity.IsMobile)
}

func TestAnalyzeIdentityInsufficientData(t *testing.T) {
	identities := newFakeIdentityRepo()
	svc := newTestAnalysisService(identities, newFakeCanonicalObservationRepo(), newFakeDerivedRepo())
	ctx := context.Background()

	bssid := "A0:BB:CC:DD:EE:04"
	addWiFiIdentity(identities, bssid)

	err := svc.AnalyzeIdentity(ctx, bssid)
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestAnalyzeIdentityUnknownIdentity(t *testing.T) {
	svc := newTestAnalysisService(newFakeIdentityRepo(), newFakeCanonicalObservationRepo(), newFakeDerivedRepo())

	err := svc.AnalyzeIdentity(context.Background(), "A0:BB:CC:DD:EE:FF")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAnalyzeCategorySkipsInsufficientIdentities(t *testing.T) {
	identities := newFakeIdentityRepo()
	observations := newFakeCanonicalObservationRepo()
	svc := newTestAnalysisService(identities, observations, newFakeDerivedRepo())
	ctx := context.Background()

	rich := "A0:BB:CC:DD:EE:01"
	addWiFiIdentity(identities, rich)
	addPositionedObservation(observations, rich, 0, 0, -50)
	addPositionedObservation(observations, rich, 0, 0.0005, -60)
	addPositionedObservation(observations, rich, 0.0005, 0, -70)

	addWiFiIdentity(identities, "A0:BB:CC:DD:EE:02") // no observations

	analyzed, err := svc.AnalyzeCategory(ctx, models.CategoryWiFi)
	require.NoError(t, err)
	assert.Equal(t, 1, analyzed)
}

func TestGetCollisionRecordNotAnalyzed(t *testing.T) {
	svc := newTestAnalysisService(newFakeIdentityRepo(), newFakeCanonicalObservationRepo(), newFakeDerivedRepo())

	_, err := svc.GetCollisionRecord(context.Background(), "A0:BB:CC:DD:EE:FF")
	assert.ErrorIs(t, err, ErrNotAnalyzed)
}
