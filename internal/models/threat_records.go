package models

import "time"

// ThreatTier orders surveillance suspicion by how far from the reference
// location the identity has followed the operator. Band distances are
// configuration, not constants; only the ordering is fixed.
type ThreatTier string

const (
	TierExtreme  ThreatTier = "extreme"
	TierCritical ThreatTier = "critical"
	TierHigh     ThreatTier = "high"
	TierMedium   ThreatTier = "medium"
	TierLow      ThreatTier = "low"
	TierNone     ThreatTier = "none"
)

// tierRank orders tiers for sorting; higher is more severe.
var tierRank = map[ThreatTier]int{
	TierNone:     0,
	TierLow:      1,
	TierMedium:   2,
	TierHigh:     3,
	TierCritical: 4,
	TierExtreme:  5,
}

// Rank returns the tier's position in the severity ordering.
func (t ThreatTier) Rank() int {
	return tierRank[t]
}

// ThreatRecord is the detector's verdict for one identity against the
// reference location. Fully replaced on every detection run.
type ThreatRecord struct {
	BSSID            string        `db:"bssid"`
	Category         RadioCategory `db:"category"`
	NearCount        int           `db:"near_count"`
	AwayCount        int           `db:"away_count"`
	TotalSightings   int           `db:"total_sightings"`
	MaxAwayDistanceM float64       `db:"max_away_distance_m"`
	Tier             ThreatTier    `db:"tier"`
	Confidence       float64       `db:"confidence"`
	MobileHotspot    bool          `db:"mobile_hotspot"`
	Excluded         bool          `db:"excluded"`
	ExclusionReason  string        `db:"exclusion_reason"`
	SettingsVersion  int           `db:"settings_version"`
	ComputedAt       time.Time     `db:"computed_at"`
}
