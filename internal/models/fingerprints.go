package models

import (
	"time"

	"github.com/google/uuid"
)

// Fingerprint groups observations judged to be the same physical sighting
// reported by different pipelines. Exactly one member is canonical at any
// time, and it always carries the most-trusted source priority in the group.
type Fingerprint struct {
	ID           string `db:"id"` // murmur3 of (bssid, time bucket, signal bucket)
	BSSID        string `db:"bssid"`
	TimeBucket   int64  `db:"time_bucket"`
	SignalBucket int    `db:"signal_bucket"`

	CanonicalID       uuid.UUID   `db:"canonical_id"`
	CanonicalPriority int         `db:"canonical_priority"`
	DuplicateIDs      []uuid.UUID `db:"duplicate_ids"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}
