package spatial

import (
	"time"

	"github.com/cyclonite69/shadowcheck-sub006/internal/config"
	"github.com/cyclonite69/shadowcheck-sub006/internal/models"
)

// Analyzer classifies an identity's sighting geography: one mobile device
// legitimately moving around, or one address appearing in physically
// incompatible places. Stateless; safe to run per identity in parallel.
type Analyzer struct {
	epsM         float64
	minPts       int
	vendorReuseM float64
	mobileSpanM  float64
}

func NewAnalyzer(cfg *config.Config) *Analyzer {
	a := &Analyzer{
		epsM:         cfg.Cluster.EpsilonMeters,
		minPts:       cfg.Cluster.MinPoints,
		vendorReuseM: cfg.Cluster.VendorReuseMeters,
		mobileSpanM:  cfg.Cluster.MobileSpanMeters,
	}
	if a.epsM <= 0 {
		a.epsM = 100
	}
	if a.minPts <= 0 {
		a.minPts = 3
	}
	if a.vendorReuseM <= 0 {
		a.vendorReuseM = 10_000
	}
	if a.mobileSpanM <= 0 {
		a.mobileSpanM = 1_000
	}
	return a
}

// Analyze clusters the identity's historical positions and classifies the
// result. Returns nil when fewer than two positions exist: not analyzable
// yet, not an error. Output is deterministic for a given input, so a rerun
// on unchanged data produces an identical record.
func (a *Analyzer) Analyze(bssid string, points []Point) *models.SpatialCollisionRecord {
	if len(points) < 2 {
		return nil
	}

	clusters := DBSCAN(points, a.epsM, a.minPts)
	maxDist := MaxCentroidDistanceM(clusters)

	evidence := make([]models.ClusterEvidence, 0, len(clusters))
	for _, c := range clusters {
		evidence = append(evidence, models.ClusterEvidence{
			CentroidLat: c.CentroidLat,
			CentroidLon: c.CentroidLon,
			PointCount:  len(c.Points),
			RadiusM:     c.RadiusM,
		})
	}

	return &models.SpatialCollisionRecord{
		BSSID:               bssid,
		ClusterCount:        len(clusters),
		MaxClusterDistanceM: maxDist,
		Classification:      a.classify(clusters, maxDist),
		Clusters:            evidence,
		ObservationCount:    len(points),
		ComputedAt:          time.Now().UTC(),
	}
}

func (a *Analyzer) classify(clusters []Cluster, maxDistM float64) models.CollisionClass {
	switch {
	case maxDistM > a.vendorReuseM:
		return models.CollisionVendorReuse
	case maxDistM > a.mobileSpanM:
		return models.CollisionPossible
	}

	// A single cluster whose internal span exceeds the mobile band is
	// conflicting evidence: dense enough to cluster, too spread to be one
	// casually mobile device.
	if len(clusters) == 1 && clusters[0].RadiusM > a.mobileSpanM {
		return models.CollisionAmbiguous
	}
	return models.CollisionMobileDevice
}
