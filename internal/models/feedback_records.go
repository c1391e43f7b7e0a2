package models

import (
	"time"

	"github.com/google/uuid"
)

// FeedbackRating is the operator's judgment of a reported threat.
type FeedbackRating string

const (
	RatingFalsePositive FeedbackRating = "false_positive"
	RatingRealThreat    FeedbackRating = "real_threat"
	RatingUncertain     FeedbackRating = "uncertain"
)

func (r FeedbackRating) Valid() bool {
	switch r {
	case RatingFalsePositive, RatingRealThreat, RatingUncertain:
		return true
	}
	return false
}

// FeedbackRecord is an append-only operator judgment on a threat record. The
// adaptive controller aggregates these over a rolling window; rows are never
// updated or deleted.
type FeedbackRecord struct {
	ID        uuid.UUID      `db:"id"`
	BSSID     string         `db:"bssid"`
	Category  RadioCategory  `db:"category"`
	Tier      ThreatTier     `db:"tier"`
	DistanceM float64        `db:"distance_m"`
	Rating    FeedbackRating `db:"rating"`
	Notes     string         `db:"notes"`
	Whitelist bool           `db:"whitelist"`
	CreatedAt time.Time      `db:"created_at"`
}
