package scylla

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/cyclonite69/shadowcheck-sub006/internal/models"
)

// Exclusion list names. Whitelisted identities come from operator feedback;
// owned devices are the operator's own hardware seeded from configuration.
const (
	ListWhitelist = "whitelist"
	ListOwned     = "owned"
)

// IdentityRepository manages the wireless identity registry.
type IdentityRepository interface {
	// EnsureIdentity creates the identity on first sighting; subsequent calls
	// are no-ops. Returns true when the row was created.
	EnsureIdentity(ctx context.Context, identity *models.WirelessIdentity) (bool, error)
	GetIdentity(ctx context.Context, bssid string) (*models.WirelessIdentity, error)
	IdentitiesByCategory(ctx context.Context, category models.RadioCategory, limit int) ([]string, error)
	RecordSighting(ctx context.Context, bssid, name string, seen time.Time) error
	SetMobility(ctx context.Context, bssid string, mobile bool, confidence float64) error
	SetPrimaryPosition(ctx context.Context, bssid string, lat, lon float64) error
}

// ObservationRepository manages raw observations and their spatial index.
type ObservationRepository interface {
	InsertObservation(ctx context.Context, obs *models.Observation, cell string) error
	GetObservation(ctx context.Context, id uuid.UUID) (*models.Observation, error)
	// CanonicalObservations returns the identity's canonical observations,
	// newest first.
	CanonicalObservations(ctx context.Context, bssid string, limit int) ([]*models.Observation, error)
	// SetDuplicateFlags updates the duplicate-resolution fields on both
	// observation tables.
	SetDuplicateFlags(ctx context.Context, id uuid.UUID, fingerprintID string, canonical bool, duplicateOf *uuid.UUID) error
	// ObservationsInCells serves spatial-range queries over the cell index.
	ObservationsInCells(ctx context.Context, cells []string, since time.Time, limit int) ([]*models.Observation, error)
}

// FingerprintRepository manages dedup fingerprints. Canonical mutations use
// lightweight transactions so two concurrent writers cannot both win.
type FingerprintRepository interface {
	GetFingerprint(ctx context.Context, id string) (*models.Fingerprint, error)
	// FingerprintsByIdentity returns fingerprints whose time bucket falls in
	// [fromBucket, toBucket], for fuzzy overlap search.
	FingerprintsByIdentity(ctx context.Context, bssid string, fromBucket, toBucket int64) ([]*models.Fingerprint, error)
	// CreateFingerprint inserts IF NOT EXISTS. When the insert loses a race,
	// applied is false and existing holds the winning row.
	CreateFingerprint(ctx context.Context, fp *models.Fingerprint) (applied bool, existing *models.Fingerprint, err error)
	// SwapCanonical promotes newID iff the row's canonical is still
	// expectedID. When the CAS fails, current holds the row as re-read.
	SwapCanonical(ctx context.Context, id string, newID uuid.UUID, newPriority int, expectedID uuid.UUID) (applied bool, current *models.Fingerprint, err error)
	AddDuplicate(ctx context.Context, id string, dup uuid.UUID) error
}

// DerivedRepository manages the derived per-identity tables. All writes are
// idempotent full replacements: a lost race wastes work, never corrupts.
type DerivedRepository interface {
	ReplaceCollisionRecord(ctx context.Context, rec *models.SpatialCollisionRecord) error
	GetCollisionRecord(ctx context.Context, bssid string) (*models.SpatialCollisionRecord, error)
	ReplaceTriangulatedPosition(ctx context.Context, pos *models.TriangulatedPosition) error
	GetTriangulatedPosition(ctx context.Context, bssid string) (*models.TriangulatedPosition, error)
}

// ThreatRepository manages threat records, operator feedback, versioned
// detection settings, and exclusion lists.
type ThreatRepository interface {
	ReplaceThreatRecord(ctx context.Context, rec *models.ThreatRecord) error
	ThreatsByCategory(ctx context.Context, category models.RadioCategory) ([]*models.ThreatRecord, error)

	AppendFeedback(ctx context.Context, fb *models.FeedbackRecord) error
	FeedbackSince(ctx context.Context, category models.RadioCategory, since time.Time) ([]*models.FeedbackRecord, error)

	// ActiveSettings returns the highest committed settings version.
	ActiveSettings(ctx context.Context, category models.RadioCategory) (*models.DetectionSettings, error)
	SettingsHistory(ctx context.Context, category models.RadioCategory, limit int) ([]*models.DetectionSettings, error)
	// InsertSettingsVersion commits a new version IF NOT EXISTS; applied is
	// false when that version was already written by a concurrent run.
	InsertSettingsVersion(ctx context.Context, s models.DetectionSettings) (applied bool, err error)

	AddExclusion(ctx context.Context, list, bssid, reason string) error
	RemoveExclusion(ctx context.Context, list, bssid string) error
	ListExclusions(ctx context.Context, list string) ([]string, error)
}
