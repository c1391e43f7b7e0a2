package dedup

import (
	"context"
	"errors"
	"fmt"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"github.com/cyclonite69/shadowcheck-sub006/internal/bucketing"
	"github.com/cyclonite69/shadowcheck-sub006/internal/config"
	"github.com/cyclonite69/shadowcheck-sub006/internal/models"
	"github.com/cyclonite69/shadowcheck-sub006/internal/repository/scylla"
	"github.com/cyclonite69/shadowcheck-sub006/internal/util"
)

// ErrConflict is returned when canonical resolution loses the compare-and-swap
// race repeatedly. Transient; the caller may retry the whole observation.
var ErrConflict = errors.New("canonical resolution conflict")

// swapAttempts bounds the CAS retry loop. Each retry re-reads the row and
// re-checks trust priority, so losing repeatedly means a livelier writer is
// making progress.
const swapAttempts = 3

// Deduplicator assigns canonical-vs-duplicate status to observations.
// Exactly one observation per fingerprint is canonical at any time, and it
// always carries the most-trusted source priority in the group.
type Deduplicator struct {
	buckets      *bucketing.FingerprintManager
	fingerprints scylla.FingerprintRepository
	observations scylla.ObservationRepository

	minConfidence  float64
	bucketSearch   int64
	temporalWeight float64
	signalWeight   float64
}

func NewDeduplicator(cfg *config.Config, buckets *bucketing.FingerprintManager,
	fingerprints scylla.FingerprintRepository, observations scylla.ObservationRepository) *Deduplicator {

	d := &Deduplicator{
		buckets:        buckets,
		fingerprints:   fingerprints,
		observations:   observations,
		minConfidence:  cfg.Dedup.MinConfidence,
		bucketSearch:   int64(cfg.Dedup.BucketSearch),
		temporalWeight: cfg.Dedup.TemporalWeight,
		signalWeight:   cfg.Dedup.SignalWeight,
	}
	if d.minConfidence <= 0 {
		d.minConfidence = 0.7
	}
	if d.bucketSearch <= 0 {
		d.bucketSearch = 2
	}
	if d.temporalWeight <= 0 {
		d.temporalWeight = 0.6
	}
	if d.signalWeight <= 0 {
		d.signalWeight = 0.4
	}
	return d
}

// Process resolves one observation against the fingerprint store. The
// observation must already be persisted; Process only sets its
// duplicate-resolution flags.
func (d *Deduplicator) Process(ctx context.Context, obs *models.Observation) (*models.IngestResult, error) {
	id, timeBucket, signalBucket := d.buckets.Fingerprint(obs.BSSID, obs.Timestamp, obs.SignalDBM)

	fp, err := d.fingerprints.GetFingerprint(ctx, id)
	switch {
	case err == nil:
		// Exact hash match
		return d.attach(ctx, obs, fp, 1.0)

	case isNotFound(err):
		match, confidence, err := d.fuzzyMatch(ctx, obs, id, timeBucket, signalBucket)
		if err != nil {
			return nil, err
		}
		if match != nil {
			return d.attach(ctx, obs, match, confidence)
		}
		return d.createFingerprint(ctx, obs, id, timeBucket, signalBucket)

	default:
		return nil, err
	}
}

// fuzzyMatch scans fingerprints for the same identity whose buckets fall
// within the search tolerance and scores them by linear decay on temporal and
// signal distance. A candidate one time bucket away with an identical signal
// bucket scores exactly the default acceptance floor.
func (d *Deduplicator) fuzzyMatch(ctx context.Context, obs *models.Observation, exactID string,
	timeBucket int64, signalBucket int) (*models.Fingerprint, float64, error) {

	candidates, err := d.fingerprints.FingerprintsByIdentity(ctx, obs.BSSID,
		timeBucket-d.bucketSearch, timeBucket+d.bucketSearch)
	if err != nil {
		return nil, 0, err
	}

	var (
		best      *models.Fingerprint
		bestScore float64
	)
	for _, c := range candidates {
		if c.ID == exactID {
			continue
		}
		score := d.score(timeBucket, signalBucket, c)
		if score > bestScore {
			best, bestScore = c, score
		}
	}

	if best == nil || bestScore < d.minConfidence {
		return nil, 0, nil
	}
	util.Debug("Fuzzy fingerprint match accepted",
		zap.String("bssid", obs.BSSID),
		zap.String("fingerprint_id", best.ID),
		zap.Float64("confidence", bestScore))
	return best, bestScore, nil
}

// score computes the weighted linear-decay similarity between the
// observation's buckets and a candidate fingerprint's buckets. Distances are
// measured in bucket units and decay to zero at twice the search span.
func (d *Deduplicator) score(timeBucket int64, signalBucket int, c *models.Fingerprint) float64 {
	dt := float64(absInt64(timeBucket - c.TimeBucket))
	temporal := 1.0 - dt/2.0
	if temporal < 0 {
		temporal = 0
	}

	ds := float64(absInt(signalBucket-c.SignalBucket)) / float64(d.buckets.SignalBucketDBM())
	signal := 1.0 - ds/2.0
	if signal < 0 {
		signal = 0
	}

	return d.temporalWeight*temporal + d.signalWeight*signal
}

func (d *Deduplicator) createFingerprint(ctx context.Context, obs *models.Observation,
	id string, timeBucket int64, signalBucket int) (*models.IngestResult, error) {

	fp := &models.Fingerprint{
		ID:                id,
		BSSID:             obs.BSSID,
		TimeBucket:        timeBucket,
		SignalBucket:      signalBucket,
		CanonicalID:       obs.ID,
		CanonicalPriority: obs.SourcePriority,
	}

	applied, existing, err := d.fingerprints.CreateFingerprint(ctx, fp)
	if err != nil {
		return nil, err
	}
	if !applied {
		// Concurrent observation created the fingerprint first; join it.
		return d.attach(ctx, obs, existing, 1.0)
	}

	if err := d.observations.SetDuplicateFlags(ctx, obs.ID, id, true, nil); err != nil {
		return nil, err
	}
	return &models.IngestResult{
		ObservationID:   obs.ID,
		FingerprintID:   id,
		Status:          models.StatusCanonical,
		CanonicalID:     obs.ID,
		MatchConfidence: 1.0,
	}, nil
}

// attach joins an observation to an existing fingerprint, promoting it to
// canonical when its source outranks the current one.
func (d *Deduplicator) attach(ctx context.Context, obs *models.Observation,
	fp *models.Fingerprint, confidence float64) (*models.IngestResult, error) {

	for attempt := 0; attempt < swapAttempts; attempt++ {
		if obs.SourcePriority >= fp.CanonicalPriority {
			// Equal or less trusted: the existing canonical stands.
			return d.recordDuplicate(ctx, obs, fp, confidence)
		}

		applied, current, err := d.fingerprints.SwapCanonical(ctx, fp.ID, obs.ID, obs.SourcePriority, fp.CanonicalID)
		if err != nil {
			return nil, err
		}
		if applied {
			return d.promote(ctx, obs, fp, confidence)
		}

		// Lost the race; re-check trust against the winner.
		fp = current
	}

	util.Warn("Canonical swap retries exhausted",
		zap.String("fingerprint_id", fp.ID),
		zap.String("observation_id", obs.ID.String()))
	return nil, fmt.Errorf("fingerprint %s: %w", fp.ID, ErrConflict)
}

// promote finishes a successful canonical swap: the demoted observation and
// every recorded duplicate are re-pointed at the new canonical, keeping
// duplicate pointers one level deep.
func (d *Deduplicator) promote(ctx context.Context, obs *models.Observation,
	fp *models.Fingerprint, confidence float64) (*models.IngestResult, error) {

	demoted := fp.CanonicalID
	if err := d.fingerprints.AddDuplicate(ctx, fp.ID, demoted); err != nil {
		return nil, err
	}
	if err := d.observations.SetDuplicateFlags(ctx, demoted, fp.ID, false, &obs.ID); err != nil {
		return nil, err
	}
	for _, dup := range fp.DuplicateIDs {
		if err := d.observations.SetDuplicateFlags(ctx, dup, fp.ID, false, &obs.ID); err != nil {
			return nil, err
		}
	}
	if err := d.observations.SetDuplicateFlags(ctx, obs.ID, fp.ID, true, nil); err != nil {
		return nil, err
	}

	util.Info("Canonical observation promoted",
		zap.String("fingerprint_id", fp.ID),
		zap.String("promoted", obs.ID.String()),
		zap.String("demoted", demoted.String()),
		zap.Int("priority", obs.SourcePriority))

	return &models.IngestResult{
		ObservationID:   obs.ID,
		FingerprintID:   fp.ID,
		Status:          models.StatusCanonical,
		CanonicalID:     obs.ID,
		MatchConfidence: confidence,
	}, nil
}

func (d *Deduplicator) recordDuplicate(ctx context.Context, obs *models.Observation,
	fp *models.Fingerprint, confidence float64) (*models.IngestResult, error) {

	if err := d.fingerprints.AddDuplicate(ctx, fp.ID, obs.ID); err != nil {
		return nil, err
	}
	if err := d.observations.SetDuplicateFlags(ctx, obs.ID, fp.ID, false, &fp.CanonicalID); err != nil {
		return nil, err
	}

	return &models.IngestResult{
		ObservationID:   obs.ID,
		FingerprintID:   fp.ID,
		Status:          models.StatusDuplicate,
		CanonicalID:     fp.CanonicalID,
		MatchConfidence: confidence,
	}, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, gocql.ErrNotFound)
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
