package triangulate

import (
	"math"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/stat"

	"github.com/cyclonite69/shadowcheck-sub006/internal/config"
	"github.com/cyclonite69/shadowcheck-sub006/internal/models"
)

// Sighting is one canonical observation considered for triangulation.
type Sighting struct {
	ObservationID uuid.UUID
	Lat           float64
	Lon           float64
	SignalDBM     int
	ObservedAt    time.Time
	FixTime       time.Time
}

// Engine estimates a stationary transmitter's position from signal-weighted
// sighting positions. Stateless.
type Engine struct {
	maxPositionAge time.Duration
}

func NewEngine(cfg *config.Config) *Engine {
	e := &Engine{maxPositionAge: cfg.Triangulation.MaxPositionAge}
	if e.maxPositionAge <= 0 {
		e.maxPositionAge = 5 * time.Minute
	}
	return e
}

// Triangulate computes the weighted centroid for an identity. A stronger
// signal means the receiver was closer, so each sighting is weighted by
// 1/dBm^2 (inverse square of signal magnitude). Returns nil when fewer than
// three usable sightings remain: insufficient data, not an error.
func (e *Engine) Triangulate(bssid string, sightings []Sighting) *models.TriangulatedPosition {
	var (
		contributing []uuid.UUID
		excluded     []uuid.UUID
		sumW         float64
		sumLat       float64
		sumLon       float64
		signals      []float64
	)

	for _, s := range sightings {
		// A stale fix says where the collector was minutes ago, not where
		// the signal was heard.
		age := s.ObservedAt.Sub(s.FixTime)
		if age < 0 {
			age = -age
		}
		if age > e.maxPositionAge || s.SignalDBM == 0 {
			excluded = append(excluded, s.ObservationID)
			continue
		}

		w := 1.0 / float64(s.SignalDBM*s.SignalDBM)
		sumW += w
		sumLat += s.Lat * w
		sumLon += s.Lon * w
		signals = append(signals, float64(s.SignalDBM))
		contributing = append(contributing, s.ObservationID)
	}

	n := len(contributing)
	if n < 3 || sumW == 0 {
		return nil
	}

	stddev := stat.StdDev(signals, nil)
	if math.IsNaN(stddev) {
		stddev = 0
	}

	return &models.TriangulatedPosition{
		BSSID:            bssid,
		Lat:              sumLat / sumW,
		Lon:              sumLon / sumW,
		ObservationCount: n,
		SignalStdDevDB:   stddev,
		Confidence:       confidence(n, stddev),
		ContributingIDs:  contributing,
		ExcludedIDs:      excluded,
		Derived:          true,
		ComputedAt:       time.Now().UTC(),
	}
}

// confidence grades the estimate by sample size and signal spread. A tight
// spread over many sightings means the transmitter was stationary and well
// sampled.
func confidence(n int, stddevDB float64) float64 {
	switch {
	case n >= 10 && stddevDB < 10:
		return 0.9
	case n >= 5 && stddevDB < 15:
		return 0.7
	default:
		return 0.5
	}
}
