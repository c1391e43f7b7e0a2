package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/gocql/gocql"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cyclonite69/shadowcheck-sub006/internal/models"
	"github.com/cyclonite69/shadowcheck-sub006/internal/repository/scylla"
	"github.com/cyclonite69/shadowcheck-sub006/internal/spatial"
	"github.com/cyclonite69/shadowcheck-sub006/internal/triangulate"
	"github.com/cyclonite69/shadowcheck-sub006/internal/util"
)

// analysisParallelism bounds the per-identity fan-out so a category sweep
// cannot saturate the store.
const analysisParallelism = 8

// mobileConfidence is assigned when the collision analyzer concludes the
// sightings fit one moving device.
const mobileConfidence = 0.8

// AnalysisService runs the spatial collision analyzer and the triangulation
// engine over identities. Both derived tables are idempotent full
// replacements, so concurrent runs for the same identity are safe.
type AnalysisService struct {
	identities   scylla.IdentityRepository
	observations scylla.ObservationRepository
	derived      scylla.DerivedRepository
	analyzer     *spatial.Analyzer
	engine       *triangulate.Engine
	logger       *zap.Logger
}

func NewAnalysisService(
	identities scylla.IdentityRepository,
	observations scylla.ObservationRepository,
	derived scylla.DerivedRepository,
	analyzer *spatial.Analyzer,
	engine *triangulate.Engine,
	logger *zap.Logger,
) *AnalysisService {
	return &AnalysisService{
		identities:   identities,
		observations: observations,
		derived:      derived,
		analyzer:     analyzer,
		engine:       engine,
		logger:       logger,
	}
}

// AnalyzeIdentity recomputes both derived records for one identity. Returns
// ErrInsufficientData when neither analysis had enough positioned
// observations to say anything.
func (s *AnalysisService) AnalyzeIdentity(ctx context.Context, bssid string) error {
	identity, err := s.identities.GetIdentity(ctx, bssid)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return fmt.Errorf("identity %s: %w", bssid, ErrNotFound)
		}
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	observations, err := s.observations.CanonicalObservations(ctx, bssid, 0)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	points, sightings := splitPositioned(observations)

	collided, err := s.analyzeCollision(ctx, identity, points)
	if err != nil {
		return err
	}

	triangulated, err := s.triangulatePosition(ctx, identity, sightings)
	if err != nil {
		return err
	}

	if !collided && !triangulated {
		return fmt.Errorf("identity %s: %w", bssid, ErrInsufficientData)
	}
	return nil
}

// AnalyzeCategory fans AnalyzeIdentity out across every identity in a
// category. Identities lacking data are skipped, not failed.
func (s *AnalysisService) AnalyzeCategory(ctx context.Context, category models.RadioCategory) (int, error) {
	bssids, err := s.identities.IdentitiesByCategory(ctx, category, 0)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(analysisParallelism)

	var analyzed atomic.Int64
	for _, bssid := range bssids {
		bssid := bssid
		g.Go(func() error {
			err := s.AnalyzeIdentity(ctx, bssid)
			if err != nil {
				if errors.Is(err, ErrInsufficientData) {
					return nil
				}
				return err
			}
			analyzed.Add(1)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return int(analyzed.Load()), err
	}

	util.Info("Category analysis complete",
		zap.String("category", string(category)),
		zap.Int("identities", len(bssids)),
		zap.Int64("analyzed", analyzed.Load()))
	return int(analyzed.Load()), nil
}

// GetCollisionRecord returns the identity's collision verdict or
// ErrNotAnalyzed when no run has produced one yet.
func (s *AnalysisService) GetCollisionRecord(ctx context.Context, bssid string) (*models.SpatialCollisionRecord, error) {
	rec, err := s.derived.GetCollisionRecord(ctx, util.NormalizeBSSID(bssid))
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return nil, fmt.Errorf("collision record %s: %w", bssid, ErrNotAnalyzed)
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return rec, nil
}

// GetTriangulatedPosition returns the identity's derived position or
// ErrInsufficientData when none exists.
func (s *AnalysisService) GetTriangulatedPosition(ctx context.Context, bssid string) (*models.TriangulatedPosition, error) {
	pos, err := s.derived.GetTriangulatedPosition(ctx, util.NormalizeBSSID(bssid))
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return nil, fmt.Errorf("triangulated position %s: %w", bssid, ErrInsufficientData)
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return pos, nil
}

func (s *AnalysisService) analyzeCollision(ctx context.Context, identity *models.WirelessIdentity, points []spatial.Point) (bool, error) {
	rec := s.analyzer.Analyze(identity.BSSID, points)
	if rec == nil {
		return false, nil
	}

	if err := s.derived.ReplaceCollisionRecord(ctx, rec); err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if rec.Classification == models.CollisionMobileDevice && rec.MaxClusterDistanceM > 0 {
		if err := s.identities.SetMobility(ctx, identity.BSSID, true, mobileConfidence); err != nil {
			return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		identity.IsMobile = true
	}

	util.Debug("Collision analysis stored",
		zap.String("bssid", identity.BSSID),
		zap.String("classification", string(rec.Classification)),
		zap.Int("clusters", rec.ClusterCount))
	return true, nil
}

func (s *AnalysisService) triangulatePosition(ctx context.Context, identity *models.WirelessIdentity, sightings []triangulate.Sighting) (bool, error) {
	// A moving transmitter has no single position worth estimating.
	if identity.IsMobile {
		return false, nil
	}

	pos := s.engine.Triangulate(identity.BSSID, sightings)
	if pos == nil {
		return false, nil
	}

	if err := s.derived.ReplaceTriangulatedPosition(ctx, pos); err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if err := s.identities.SetPrimaryPosition(ctx, identity.BSSID, pos.Lat, pos.Lon); err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	util.Debug("Triangulated position stored",
		zap.String("bssid", identity.BSSID),
		zap.Float64("lat", pos.Lat),
		zap.Float64("lon", pos.Lon),
		zap.Float64("confidence", pos.Confidence))
	return true, nil
}

// splitPositioned projects canonical observations into the two engines'
// input shapes, keeping only those with a GPS fix.
func splitPositioned(observations []*models.Observation) ([]spatial.Point, []triangulate.Sighting) {
	points := make([]spatial.Point, 0, len(observations))
	sightings := make([]triangulate.Sighting, 0, len(observations))
	for _, obs := range observations {
		if !obs.HasPosition() {
			continue
		}
		points = append(points, spatial.Point{
			ObservationID: obs.ID,
			Lat:           obs.Position.Lat,
			Lon:           obs.Position.Lon,
		})
		sightings = append(sightings, triangulate.Sighting{
			ObservationID: obs.ID,
			Lat:           obs.Position.Lat,
			Lon:           obs.Position.Lon,
			SignalDBM:     obs.SignalDBM,
			ObservedAt:    obs.Timestamp,
			FixTime:       obs.PositionFixTime(),
		})
	}
	return points, sightings
}
