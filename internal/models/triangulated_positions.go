package models

import (
	"time"

	"github.com/google/uuid"
)

// TriangulatedPosition is the signal-weighted centroid estimate for one
// identity. Derived is always true; a triangulated point must never be
// mistaken for a directly observed coordinate.
type TriangulatedPosition struct {
	BSSID            string      `db:"bssid"`
	Lat              float64     `db:"lat"`
	Lon              float64     `db:"lon"`
	ObservationCount int         `db:"observation_count"`
	SignalStdDevDB   float64     `db:"signal_stddev_db"`
	Confidence       float64     `db:"confidence"`
	ContributingIDs  []uuid.UUID `db:"contributing_ids"`
	ExcludedIDs      []uuid.UUID `db:"excluded_ids"`
	Derived          bool        `db:"derived"`
	ComputedAt       time.Time   `db:"computed_at"`
}
