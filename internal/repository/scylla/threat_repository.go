package scylla

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cyclonite69/shadowcheck-sub006/internal/models"
	"github.com/cyclonite69/shadowcheck-sub006/internal/util"
)

type threatRepository struct {
	client *ScyllaClient
}

func NewThreatRepository(client *ScyllaClient, logger *zap.Logger) ThreatRepository {
	return &threatRepository{client: client}
}

func (r *threatRepository) ReplaceThreatRecord(ctx context.Context, rec *models.ThreatRecord) error {
	query := r.client.Prepared.ReplaceThreat.WithContext(ctx).Bind(
		string(rec.Category), rec.BSSID, rec.NearCount, rec.AwayCount, rec.TotalSightings,
		rec.MaxAwayDistanceM, string(rec.Tier), rec.Confidence, rec.MobileHotspot,
		rec.Excluded, rec.ExclusionReason, rec.SettingsVersion, rec.ComputedAt)
	if err := r.client.ExecuteWithRetry(query); err != nil {
		util.Error("Failed to replace threat record",
			zap.String("bssid", rec.BSSID),
			zap.String("category", string(rec.Category)),
			zap.Error(err))
		return fmt.Errorf("failed to replace threat record: %w", err)
	}
	return nil
}

func (r *threatRepository) ThreatsByCategory(ctx context.Context, category models.RadioCategory) ([]*models.ThreatRecord, error) {
	iter := r.client.Prepared.ThreatsByCategory.WithContext(ctx).Bind(string(category)).Iter()

	var out []*models.ThreatRecord
	for {
		var (
			rec          models.ThreatRecord
			catStr, tier string
		)
		ok := iter.Scan(
			&catStr, &rec.BSSID, &rec.NearCount, &rec.AwayCount, &rec.TotalSightings,
			&rec.MaxAwayDistanceM, &tier, &rec.Confidence, &rec.MobileHotspot,
			&rec.Excluded, &rec.ExclusionReason, &rec.SettingsVersion, &rec.ComputedAt)
		if !ok {
			break
		}
		rec.Category = models.RadioCategory(catStr)
		rec.Tier = models.ThreatTier(tier)
		out = append(out, &rec)
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to list threats for %s: %w", category, err)
	}
	return out, nil
}

func (r *threatRepository) AppendFeedback(ctx context.Context, fb *models.FeedbackRecord) error {
	if fb.ID == uuid.Nil {
		fb.ID = uuid.New()
	}
	if fb.CreatedAt.IsZero() {
		fb.CreatedAt = time.Now().UTC()
	}

	query := r.client.Prepared.AppendFeedback.WithContext(ctx).Bind(
		string(fb.Category), fb.CreatedAt, fb.ID.String(), fb.BSSID,
		string(fb.Tier), fb.DistanceM, string(fb.Rating), fb.Notes, fb.Whitelist)
	if err := r.client.ExecuteWithRetry(query); err != nil {
		util.Error("Failed to append feedback",
			zap.String("bssid", fb.BSSID),
			zap.String("rating", string(fb.Rating)),
			zap.Error(err))
		return fmt.Errorf("failed to append feedback: %w", err)
	}
	return nil
}

func (r *threatRepository) FeedbackSince(ctx context.Context, category models.RadioCategory, since time.Time) ([]*models.FeedbackRecord, error) {
	iter := r.client.Prepared.FeedbackSince.WithContext(ctx).Bind(string(category), since).Iter()

	var out []*models.FeedbackRecord
	for {
		var (
			fb                 models.FeedbackRecord
			catStr, idStr      string
			tierStr, ratingStr string
		)
		ok := iter.Scan(
			&catStr, &fb.CreatedAt, &idStr, &fb.BSSID,
			&tierStr, &fb.DistanceM, &ratingStr, &fb.Notes, &fb.Whitelist)
		if !ok {
			break
		}
		id, err := uuid.Parse(idStr)
		if err != nil {
			iter.Close()
			return nil, fmt.Errorf("bad feedback id %q: %w", idStr, err)
		}
		fb.ID = id
		fb.Category = models.RadioCategory(catStr)
		fb.Tier = models.ThreatTier(tierStr)
		fb.Rating = models.FeedbackRating(ratingStr)
		out = append(out, &fb)
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to list feedback for %s: %w", category, err)
	}
	return out, nil
}

func (r *threatRepository) ActiveSettings(ctx context.Context, category models.RadioCategory) (*models.DetectionSettings, error) {
	// Versions cluster descending; the first row is the active one.
	history, err := r.SettingsHistory(ctx, category, 1)
	if err != nil {
		return nil, err
	}
	if len(history) == 0 {
		return nil, fmt.Errorf("settings for %s: %w", category, gocql.ErrNotFound)
	}
	return history[0], nil
}

func (r *threatRepository) SettingsHistory(ctx context.Context, category models.RadioCategory, limit int) ([]*models.DetectionSettings, error) {
	if limit <= 0 {
		limit = 20
	}
	iter := r.client.Prepared.SettingsHistory.WithContext(ctx).Bind(string(category), limit).Iter()

	var out []*models.DetectionSettings
	for {
		var (
			s             models.DetectionSettings
			catStr, bands string
		)
		ok := iter.Scan(
			&catStr, &s.Version, &s.Enabled, &s.ReferenceRadiusM, &s.MinAwayDistanceM,
			&s.MinDistanceFloorM, &s.MinDistanceCeilM, &s.ConfidenceThreshold,
			&bands, &s.Reason, &s.UpdatedAt)
		if !ok {
			break
		}
		s.Category = models.RadioCategory(catStr)
		if bands != "" {
			if err := json.Unmarshal([]byte(bands), &s.Bands); err != nil {
				iter.Close()
				return nil, fmt.Errorf("bad threat bands for %s v%d: %w", category, s.Version, err)
			}
		}
		out = append(out, &s)
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to list settings history for %s: %w", category, err)
	}
	return out, nil
}

func (r *threatRepository) InsertSettingsVersion(ctx context.Context, s models.DetectionSettings) (bool, error) {
	bands, err := json.Marshal(s.Bands)
	if err != nil {
		return false, fmt.Errorf("failed to encode threat bands: %w", err)
	}

	applied, err := r.client.Prepared.InsertSettings.WithContext(ctx).Bind(
		string(s.Category), s.Version, s.Enabled, s.ReferenceRadiusM, s.MinAwayDistanceM,
		s.MinDistanceFloorM, s.MinDistanceCeilM, s.ConfidenceThreshold,
		string(bands), s.Reason, s.UpdatedAt,
	).MapScanCAS(map[string]interface{}{})
	if err != nil {
		util.Error("Failed to insert settings version",
			zap.String("category", string(s.Category)),
			zap.Int("version", s.Version),
			zap.Error(err))
		return false, fmt.Errorf("failed to insert settings version: %w", err)
	}
	if !applied {
		util.Warn("Settings version already committed by concurrent writer",
			zap.String("category", string(s.Category)),
			zap.Int("version", s.Version))
	}
	return applied, nil
}

func (r *threatRepository) AddExclusion(ctx context.Context, list, bssid, reason string) error {
	query := r.client.Prepared.AddExclusion.WithContext(ctx).
		Bind(list, bssid, reason, time.Now().UTC())
	if err := r.client.ExecuteWithRetry(query); err != nil {
		return fmt.Errorf("failed to add %s exclusion: %w", list, err)
	}
	return nil
}

func (r *threatRepository) RemoveExclusion(ctx context.Context, list, bssid string) error {
	query := r.client.Prepared.RemoveExclusion.WithContext(ctx).Bind(list, bssid)
	if err := r.client.ExecuteWithRetry(query); err != nil {
		return fmt.Errorf("failed to remove %s exclusion: %w", list, err)
	}
	return nil
}

func (r *threatRepository) ListExclusions(ctx context.Context, list string) ([]string, error) {
	iter := r.client.Prepared.ListExclusions.WithContext(ctx).Bind(list).Iter()

	var out []string
	var bssid string
	for iter.Scan(&bssid) {
		out = append(out, bssid)
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to list %s exclusions: %w", list, err)
	}
	return out, nil
}
