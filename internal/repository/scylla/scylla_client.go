package scylla

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"github.com/cyclonite69/shadowcheck-sub006/internal/config"
	"github.com/cyclonite69/shadowcheck-sub006/internal/util"
)

// PreparedStatements holds the statements the repositories actually use.
type PreparedStatements struct {
	// identities
	CreateIdentity         *gocql.Query
	CreateIdentityCategory *gocql.Query
	GetIdentity            *gocql.Query
	IdentitiesByCategory   *gocql.Query
	UpdateIdentitySighting *gocql.Query
	UpdateIdentityMobility *gocql.Query
	UpdateIdentityPosition *gocql.Query
	BumpObservationCount   *gocql.Query

	// observations
	CreateObservation          *gocql.Query
	CreateObservationByID      *gocql.Query
	CreateObservationCell      *gocql.Query
	GetObservationByID         *gocql.Query
	CanonicalByIdentity        *gocql.Query
	UpdateObservationFlags     *gocql.Query
	UpdateObservationFlagsByID *gocql.Query
	ObservationsByCell         *gocql.Query

	// fingerprints
	CreateFingerprint       *gocql.Query
	CreateFingerprintLookup *gocql.Query
	GetFingerprint          *gocql.Query
	FingerprintsByIdentity  *gocql.Query
	SwapCanonical           *gocql.Query
	AddDuplicate            *gocql.Query

	// derived tables
	ReplaceCollision    *gocql.Query
	GetCollision        *gocql.Query
	ReplaceTriangulated *gocql.Query
	GetTriangulated     *gocql.Query

	// threats, feedback, settings, exclusions
	ReplaceThreat     *gocql.Query
	ThreatsByCategory *gocql.Query
	AppendFeedback    *gocql.Query
	FeedbackSince     *gocql.Query
	InsertSettings    *gocql.Query
	SettingsHistory   *gocql.Query
	AddExclusion      *gocql.Query
	RemoveExclusion   *gocql.Query
	ListExclusions    *gocql.Query
}

type ScyllaClient struct {
	Session      *gocql.Session
	config       *config.ScyllaConfig
	Prepared     *PreparedStatements
	prepareMutex sync.RWMutex
	isPrepared   bool
}

func NewScyllaClient(cfg *config.Config, logger *zap.Logger) (*ScyllaClient, error) {
	scyllaConfig := cfg.Scylla

	cluster := gocql.NewCluster(scyllaConfig.Nodes...)
	cluster.Keyspace = scyllaConfig.Keyspace
	cluster.Consistency = gocql.LocalQuorum
	cluster.Timeout = scyllaConfig.RequestTimeout
	cluster.ConnectTimeout = 10 * time.Second
	cluster.NumConns = 4
	cluster.SocketKeepalive = 30 * time.Second
	cluster.MaxPreparedStmts = 1000
	cluster.PageSize = 1000
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		Min:        100 * time.Millisecond,
		Max:        2 * time.Second,
		NumRetries: scyllaConfig.MaxRetries,
	}

	if scyllaConfig.Username != "" && scyllaConfig.Password != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: scyllaConfig.Username,
			Password: scyllaConfig.Password,
		}
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create scylla session: %w", err)
	}

	client := &ScyllaClient{
		Session: session,
		config:  &scyllaConfig,
	}

	if err := client.prepareStatements(); err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	util.Info("ScyllaDB client initialized with prepared statements",
		zap.Strings("nodes", scyllaConfig.Nodes),
		zap.String("keyspace", scyllaConfig.Keyspace))

	return client, nil
}

func (s *ScyllaClient) prepareStatements() error {
	s.prepareMutex.Lock()
	defer s.prepareMutex.Unlock()

	if s.isPrepared {
		return nil
	}

	prepared := &PreparedStatements{}

	prepared.CreateIdentity = s.Session.Query(`
        INSERT INTO identities (
            bssid, name, category, is_mobile, mobile_confidence,
            first_seen, last_seen, primary_lat, primary_lon, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) IF NOT EXISTS`)

	prepared.CreateIdentityCategory = s.Session.Query(`
        INSERT INTO identities_by_category (category, bssid) VALUES (?, ?)`)

	prepared.GetIdentity = s.Session.Query(`
        SELECT bssid, name, category, is_mobile, mobile_confidence,
            first_seen, last_seen, primary_lat, primary_lon, created_at, updated_at
        FROM identities WHERE bssid = ?`)

	prepared.IdentitiesByCategory = s.Session.Query(`
        SELECT bssid FROM identities_by_category WHERE category = ? LIMIT ?`)

	prepared.UpdateIdentitySighting = s.Session.Query(`
        UPDATE identities SET last_seen = ?, name = ?, updated_at = ?
        WHERE bssid = ?`)

	prepared.UpdateIdentityMobility = s.Session.Query(`
        UPDATE identities SET is_mobile = ?, mobile_confidence = ?, updated_at = ?
        WHERE bssid = ?`)

	prepared.UpdateIdentityPosition = s.Session.Query(`
        UPDATE identities SET primary_lat = ?, primary_lon = ?, updated_at = ?
        WHERE bssid = ?`)

	prepared.BumpObservationCount = s.Session.Query(`
        UPDATE identity_stats SET observation_count = observation_count + 1
        WHERE bssid = ?`)

	prepared.CreateObservation = s.Session.Query(`
        INSERT INTO observations_by_identity (
            bssid, observed_at, id, category, source_id, source_priority,
            time_precision, signal_dbm, lat, lon, altitude, accuracy, fix_time,
            metadata, fingerprint_id, is_canonical, duplicate_of, ingested_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	prepared.CreateObservationByID = s.Session.Query(`
        INSERT INTO observations (
            id, bssid, observed_at, category, source_id, source_priority,
            time_precision, signal_dbm, lat, lon, altitude, accuracy, fix_time,
            metadata, fingerprint_id, is_canonical, duplicate_of, ingested_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	prepared.CreateObservationCell = s.Session.Query(`
        INSERT INTO observations_by_cell (cell, observed_at, id, bssid, lat, lon, signal_dbm)
        VALUES (?, ?, ?, ?, ?, ?, ?)`)

	prepared.GetObservationByID = s.Session.Query(`
        SELECT id, bssid, observed_at, category, source_id, source_priority,
            time_precision, signal_dbm, lat, lon, altitude, accuracy, fix_time,
            metadata, fingerprint_id, is_canonical, duplicate_of, ingested_at
        FROM observations WHERE id = ?`)

	prepared.CanonicalByIdentity = s.Session.Query(`
        SELECT id, bssid, observed_at, category, source_id, source_priority,
            time_precision, signal_dbm, lat, lon, altitude, accuracy, fix_time,
            metadata, fingerprint_id, is_canonical, duplicate_of, ingested_at
        FROM observations_by_identity WHERE bssid = ? LIMIT ?`)

	prepared.UpdateObservationFlags = s.Session.Query(`
        UPDATE observations_by_identity
        SET fingerprint_id = ?, is_canonical = ?, duplicate_of = ?
        WHERE bssid = ? AND observed_at = ? AND id = ?`)

	prepared.UpdateObservationFlagsByID = s.Session.Query(`
        UPDATE observations
        SET fingerprint_id = ?, is_canonical = ?, duplicate_of = ?
        WHERE id = ?`)

	prepared.ObservationsByCell = s.Session.Query(`
        SELECT id, bssid, observed_at, lat, lon, signal_dbm
        FROM observations_by_cell WHERE cell = ? AND observed_at > ? LIMIT ?`)

	prepared.CreateFingerprint = s.Session.Query(`
        INSERT INTO fingerprints (
            id, bssid, time_bucket, signal_bucket,
            canonical_id, canonical_priority, duplicate_ids, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?) IF NOT EXISTS`)

	prepared.CreateFingerprintLookup = s.Session.Query(`
        INSERT INTO fingerprints_by_identity (bssid, time_bucket, signal_bucket, fingerprint_id)
        VALUES (?, ?, ?, ?)`)

	prepared.GetFingerprint = s.Session.Query(`
        SELECT id, bssid, time_bucket, signal_bucket,
            canonical_id, canonical_priority, duplicate_ids, created_at, updated_at
        FROM fingerprints WHERE id = ?`)

	prepared.FingerprintsByIdentity = s.Session.Query(`
        SELECT bssid, time_bucket, signal_bucket, fingerprint_id
        FROM fingerprints_by_identity
        WHERE bssid = ? AND time_bucket >= ? AND time_bucket <= ?`)

	prepared.SwapCanonical = s.Session.Query(`
        UPDATE fingerprints
        SET canonical_id = ?, canonical_priority = ?, updated_at = ?
        WHERE id = ? IF canonical_id = ?`)

	prepared.AddDuplicate = s.Session.Query(`
        UPDATE fingerprints SET duplicate_ids = duplicate_ids + ?, updated_at = ?
        WHERE id = ?`)

	prepared.ReplaceCollision = s.Session.Query(`
        INSERT INTO collision_records (
            bssid, cluster_count, max_cluster_distance_m, classification,
            clusters, observation_count, computed_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?)`)

	prepared.GetCollision = s.Session.Query(`
        SELECT bssid, cluster_count, max_cluster_distance_m, classification,
            clusters, observation_count, computed_at
        FROM collision_records WHERE bssid = ?`)

	prepared.ReplaceTriangulated = s.Session.Query(`
        INSERT INTO triangulated_positions (
            bssid, lat, lon, observation_count, signal_stddev_db, confidence,
            contributing_ids, excluded_ids, derived, computed_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	prepared.GetTriangulated = s.Session.Query(`
        SELECT bssid, lat, lon, observation_count, signal_stddev_db, confidence,
            contributing_ids, excluded_ids, derived, computed_at
        FROM triangulated_positions WHERE bssid = ?`)

	prepared.ReplaceThreat = s.Session.Query(`
        INSERT INTO threat_records (
            category, bssid, near_count, away_count, total_sightings,
            max_away_distance_m, tier, confidence, mobile_hotspot,
            excluded, exclusion_reason, settings_version, computed_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	prepared.ThreatsByCategory = s.Session.Query(`
        SELECT category, bssid, near_count, away_count, total_sightings,
            max_away_distance_m, tier, confidence, mobile_hotspot,
            excluded, exclusion_reason, settings_version, computed_at
        FROM threat_records WHERE category = ?`)

	prepared.AppendFeedback = s.Session.Query(`
        INSERT INTO feedback_records (
            category, created_at, id, bssid, tier, distance_m, rating, notes, whitelist
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	prepared.FeedbackSince = s.Session.Query(`
        SELECT category, created_at, id, bssid, tier, distance_m, rating, notes, whitelist
        FROM feedback_records WHERE category = ? AND created_at > ?`)

	prepared.InsertSettings = s.Session.Query(`
        INSERT INTO detection_settings (
            category, version, enabled, reference_radius_m, min_away_distance_m,
            min_distance_floor_m, min_distance_ceil_m, confidence_threshold,
            bands, reason, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) IF NOT EXISTS`)

	prepared.SettingsHistory = s.Session.Query(`
        SELECT category, version, enabled, reference_radius_m, min_away_distance_m,
            min_distance_floor_m, min_distance_ceil_m, confidence_threshold,
            bands, reason, updated_at
        FROM detection_settings WHERE category = ? LIMIT ?`)

	prepared.AddExclusion = s.Session.Query(`
        INSERT INTO exclusions (list_name, bssid, reason, added_at) VALUES (?, ?, ?, ?)`)

	prepared.RemoveExclusion = s.Session.Query(`
        DELETE FROM exclusions WHERE list_name = ? AND bssid = ?`)

	prepared.ListExclusions = s.Session.Query(`
        SELECT bssid FROM exclusions WHERE list_name = ?`)

	s.Prepared = prepared
	s.isPrepared = true

	util.Info("ScyllaDB prepared statements created successfully")
	return nil
}

func (s *ScyllaClient) Close() {
	if s.Session != nil {
		s.Session.Close()
		util.Info("ScyllaDB client closed")
	}
}

func (s *ScyllaClient) Query(stmt string, values ...interface{}) *gocql.Query {
	return s.Session.Query(stmt, values...)
}

func (s *ScyllaClient) HealthCheck() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.RequestTimeout)
	defer cancel()

	var clusterName string
	err := s.Session.Query(`SELECT cluster_name FROM system.local`).WithContext(ctx).Scan(&clusterName)
	if err != nil {
		return fmt.Errorf("scylla health check failed: %w", err)
	}

	util.Debug("ScyllaDB health check passed", zap.String("cluster_name", clusterName))
	return nil
}

// ExecuteWithRetry retries transient failures with linear backoff. Permanent
// failures are returned to the caller, never swallowed.
func (s *ScyllaClient) ExecuteWithRetry(query *gocql.Query) error {
	var lastErr error
	retries := s.config.MaxRetries
	for i := 0; i <= retries; i++ {
		if err := query.Exec(); err != nil {
			lastErr = err
			if i < retries {
				time.Sleep(time.Duration(i+1) * 100 * time.Millisecond)
				continue
			}
		} else {
			return nil
		}
	}
	return lastErr
}

func (s *ScyllaClient) ScanWithRetry(query *gocql.Query, dest ...interface{}) error {
	var lastErr error
	retries := s.config.MaxRetries
	for i := 0; i <= retries; i++ {
		err := query.Scan(dest...)
		if err == nil {
			return nil
		}
		if err == gocql.ErrNotFound {
			return err
		}
		lastErr = err
		if i < retries {
			time.Sleep(time.Duration(i+1) * 100 * time.Millisecond)
		}
	}
	return lastErr
}
