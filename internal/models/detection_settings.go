package models

import (
	"sort"
	"time"
)

// ThreatBand maps a tier to the minimum away-distance that triggers it.
type ThreatBand struct {
	Tier         ThreatTier `json:"tier"`
	MinDistanceM float64    `json:"min_distance_m"`
}

// DetectionSettings is the per-category detection policy. Rows are versioned:
// every update inserts a new (category, version) row and the highest committed
// version is the active one. History is retained for audit.
type DetectionSettings struct {
	Category RadioCategory `db:"category"`
	Version  int           `db:"version"`
	Enabled  bool          `db:"enabled"`

	ReferenceRadiusM    float64 `db:"reference_radius_m"`
	MinAwayDistanceM    float64 `db:"min_away_distance_m"`
	MinDistanceFloorM   float64 `db:"min_distance_floor_m"` // adaptive clamp range
	MinDistanceCeilM    float64 `db:"min_distance_ceil_m"`
	ConfidenceThreshold float64 `db:"confidence_threshold"`

	Bands []ThreatBand `db:"bands"`

	Reason    string    `db:"reason"` // audit trail for the version bump
	UpdatedAt time.Time `db:"updated_at"`
}

// SortedBands returns the bands ordered by descending trigger distance, the
// order the detector evaluates them in.
func (s DetectionSettings) SortedBands() []ThreatBand {
	bands := make([]ThreatBand, len(s.Bands))
	copy(bands, s.Bands)
	sort.Slice(bands, func(i, j int) bool {
		return bands[i].MinDistanceM > bands[j].MinDistanceM
	})
	return bands
}

// MaxBandDistanceM returns the largest band trigger distance, used to
// normalize the detector's distance factor.
func (s DetectionSettings) MaxBandDistanceM() float64 {
	var max float64
	for _, b := range s.Bands {
		if b.MinDistanceM > max {
			max = b.MinDistanceM
		}
	}
	return max
}

// DefaultSettings seeds a category's first settings row. All distances are
// deliberately configuration; these are only starting points.
func DefaultSettings(category RadioCategory) DetectionSettings {
	return DetectionSettings{
		Category:            category,
		Version:             1,
		Enabled:             true,
		ReferenceRadiusM:    500,
		MinAwayDistanceM:    1000,
		MinDistanceFloorM:   250,
		MinDistanceCeilM:    50000,
		ConfidenceThreshold: 0.5,
		Bands: []ThreatBand{
			{Tier: TierExtreme, MinDistanceM: 50000},
			{Tier: TierCritical, MinDistanceM: 10000},
			{Tier: TierHigh, MinDistanceM: 5000},
			{Tier: TierMedium, MinDistanceM: 2000},
			{Tier: TierLow, MinDistanceM: 1000},
		},
		Reason:    "initial defaults",
		UpdatedAt: time.Now().UTC(),
	}
}
