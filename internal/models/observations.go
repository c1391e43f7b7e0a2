package models

import (
	"time"

	"github.com/google/uuid"
)

// TimePrecision tags how precise the source pipeline's timestamp was before
// normalization to epoch time. WiGLE API rounds to whole days; Kismet reports
// milliseconds.
type TimePrecision string

const (
	PrecisionMillisecond TimePrecision = "ms"
	PrecisionSecond      TimePrecision = "s"
	PrecisionDay         TimePrecision = "day"
)

// Position is a GPS fix attached to an observation. FixTime is the moment the
// fix was taken when the pipeline reports it separately from the signal
// reading; nil means the fix is contemporaneous with the observation.
type Position struct {
	Lat      float64    `db:"lat" json:"lat"`
	Lon      float64    `db:"lon" json:"lon"`
	Altitude *float64   `db:"altitude" json:"altitude,omitempty"`
	Accuracy *float64   `db:"accuracy" json:"accuracy,omitempty"`
	FixTime  *time.Time `db:"fix_time" json:"fix_time,omitempty"`
}

// SourceMetadata carries the pipeline-specific fields we model, plus an opaque
// escape hatch for anything we do not.
type SourceMetadata struct {
	SSID       string            `json:"ssid,omitempty"`
	Encryption string            `json:"encryption,omitempty"`
	Channel    int               `json:"channel,omitempty"`
	Frequency  int               `json:"frequency,omitempty"`
	Extra      map[string]string `json:"extra,omitempty"`
}

// Observation is one raw sighting from a collection pipeline. Immutable after
// ingest except for the duplicate-resolution fields, which only the
// deduplicator touches.
type Observation struct {
	ID             uuid.UUID      `db:"id"`
	BSSID          string         `db:"bssid"`
	Category       RadioCategory  `db:"category"`
	SourceID       string         `db:"source_id"`       // pipeline: kismet, wigle_sqlite, wigle_api, kml
	SourcePriority int            `db:"source_priority"` // lower = more trusted
	Timestamp      time.Time      `db:"observed_at"`
	TimePrecision  TimePrecision  `db:"time_precision"`
	SignalDBM      int            `db:"signal_dbm"`
	Position       *Position      `db:"-"`
	Metadata       SourceMetadata `db:"-"`

	// Duplicate resolution, owned by the deduplicator.
	FingerprintID string     `db:"fingerprint_id"`
	IsCanonical   bool       `db:"is_canonical"`
	DuplicateOf   *uuid.UUID `db:"duplicate_of"` // always the current canonical, never chained

	IngestedAt time.Time `db:"ingested_at"`
}

// HasPosition reports whether the observation carries a usable GPS fix.
func (o *Observation) HasPosition() bool {
	return o.Position != nil
}

// PositionFixTime returns when the position fix was taken, defaulting to the
// signal reading's own timestamp.
func (o *Observation) PositionFixTime() time.Time {
	if o.Position != nil && o.Position.FixTime != nil {
		return *o.Position.FixTime
	}
	return o.Timestamp
}

// IngestStatus is the deduplicator's verdict for one observation.
type IngestStatus string

const (
	StatusCanonical IngestStatus = "canonical"
	StatusDuplicate IngestStatus = "duplicate"
)

// IngestResult reports where an observation ended up.
type IngestResult struct {
	ObservationID   uuid.UUID    `json:"observation_id"`
	Status          IngestStatus `json:"status"`
	FingerprintID   string       `json:"fingerprint_id"`
	CanonicalID     uuid.UUID    `json:"canonical_id"`
	MatchConfidence float64      `json:"match_confidence,omitempty"` // fuzzy matches only
}

// IngestStats summarizes a batch ingest.
type IngestStats struct {
	Total      int `json:"total"`
	Inserted   int `json:"inserted"`
	Duplicates int `json:"duplicates"`
}

// DuplicateRate is the percentage of the batch judged duplicate.
func (s IngestStats) DuplicateRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Duplicates) / float64(s.Total) * 100
}
