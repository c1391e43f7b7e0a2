package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"github.com/cyclonite69/shadowcheck-sub006/internal/models"
	redisrepo "github.com/cyclonite69/shadowcheck-sub006/internal/repository/redis"
	"github.com/cyclonite69/shadowcheck-sub006/internal/repository/scylla"
	"github.com/cyclonite69/shadowcheck-sub006/internal/util"
)

// SettingsUpdateRequest carries a partial threshold update. Nil fields keep
// their current value.
type SettingsUpdateRequest struct {
	Enabled             *bool               `json:"enabled,omitempty"`
	ReferenceRadiusM    *float64            `json:"reference_radius_m,omitempty"`
	MinAwayDistanceM    *float64            `json:"min_away_distance_m,omitempty"`
	MinDistanceFloorM   *float64            `json:"min_distance_floor_m,omitempty"`
	MinDistanceCeilM    *float64            `json:"min_distance_ceil_m,omitempty"`
	ConfidenceThreshold *float64            `json:"confidence_threshold,omitempty"`
	Bands               []models.ThreatBand `json:"bands,omitempty"`
	Reason              string              `json:"reason,omitempty"`
}

// SettingsService serves the versioned per-category detection policy. Writes
// append a new version; readers always see the last fully-committed row.
type SettingsService struct {
	threats scylla.ThreatRepository
	cache   *redisrepo.SettingsCache
	logger  *zap.Logger
}

func NewSettingsService(threats scylla.ThreatRepository, cache *redisrepo.SettingsCache, logger *zap.Logger) *SettingsService {
	return &SettingsService{threats: threats, cache: cache, logger: logger}
}

// GetSettings returns the active settings for a category, seeding defaults on
// first access so every valid category always has a policy.
func (s *SettingsService) GetSettings(ctx context.Context, category models.RadioCategory) (*models.DetectionSettings, error) {
	if !category.Valid() {
		return nil, fmt.Errorf("%w: unknown category %q", ErrInvalidSettings, category)
	}

	if s.cache != nil {
		if cached, err := s.cache.GetSettings(category); err == nil {
			return cached, nil
		}
	}

	active, err := s.threats.ActiveSettings(ctx, category)
	if errors.Is(err, gocql.ErrNotFound) {
		seeded := models.DefaultSettings(category)
		if _, err := s.threats.InsertSettingsVersion(ctx, seeded); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		// A lost seeding race means another node committed version 1;
		// re-read either way.
		active, err = s.threats.ActiveSettings(ctx, category)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if s.cache != nil {
		if err := s.cache.SetSettings(active); err != nil {
			util.Warn("Failed to cache settings", zap.Error(err))
		}
	}
	return active, nil
}

// UpdateSettings validates and commits a new settings version. The stored
// settings are left untouched when validation fails.
func (s *SettingsService) UpdateSettings(ctx context.Context, category models.RadioCategory, req *SettingsUpdateRequest) (*models.DetectionSettings, error) {
	active, err := s.GetSettings(ctx, category)
	if err != nil {
		return nil, err
	}

	next := *active
	next.Bands = append([]models.ThreatBand(nil), active.Bands...)
	if req.Enabled != nil {
		next.Enabled = *req.Enabled
	}
	if req.ReferenceRadiusM != nil {
		next.ReferenceRadiusM = *req.ReferenceRadiusM
	}
	if req.MinAwayDistanceM != nil {
		next.MinAwayDistanceM = *req.MinAwayDistanceM
	}
	if req.MinDistanceFloorM != nil {
		next.MinDistanceFloorM = *req.MinDistanceFloorM
	}
	if req.MinDistanceCeilM != nil {
		next.MinDistanceCeilM = *req.MinDistanceCeilM
	}
	if req.ConfidenceThreshold != nil {
		next.ConfidenceThreshold = *req.ConfidenceThreshold
	}
	if len(req.Bands) > 0 {
		next.Bands = req.Bands
	}

	if err := validateSettings(&next); err != nil {
		return nil, err
	}

	next.Version = active.Version + 1
	next.Reason = util.SanitizeNote(req.Reason)
	if next.Reason == "" {
		next.Reason = "operator update"
	}
	next.UpdatedAt = time.Now().UTC()

	return s.Commit(ctx, next)
}

// Commit writes a settings version and invalidates the cache. Shared by
// operator updates and the adaptive controller.
func (s *SettingsService) Commit(ctx context.Context, next models.DetectionSettings) (*models.DetectionSettings, error) {
	applied, err := s.threats.InsertSettingsVersion(ctx, next)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !applied {
		return nil, fmt.Errorf("settings %s v%d already committed: %w", next.Category, next.Version, ErrConflict)
	}

	if s.cache != nil {
		if err := s.cache.InvalidateSettings(next.Category); err != nil {
			util.Warn("Failed to invalidate settings cache",
				zap.String("category", string(next.Category)),
				zap.Error(err))
		}
	}

	util.Info("Detection settings committed",
		zap.String("category", string(next.Category)),
		zap.Int("version", next.Version),
		zap.String("reason", next.Reason))
	return &next, nil
}

// SettingsHistory returns committed versions, newest first.
func (s *SettingsService) SettingsHistory(ctx context.Context, category models.RadioCategory, limit int) ([]*models.DetectionSettings, error) {
	if !category.Valid() {
		return nil, fmt.Errorf("%w: unknown category %q", ErrInvalidSettings, category)
	}
	history, err := s.threats.SettingsHistory(ctx, category, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return history, nil
}

func validateSettings(s *models.DetectionSettings) error {
	if s.ReferenceRadiusM <= 0 {
		return fmt.Errorf("%w: reference radius must be positive", ErrInvalidSettings)
	}
	if s.MinAwayDistanceM <= 0 {
		return fmt.Errorf("%w: min away distance must be positive", ErrInvalidSettings)
	}
	if s.MinDistanceFloorM < 0 || s.MinDistanceCeilM < 0 {
		return fmt.Errorf("%w: clamp range must be non-negative", ErrInvalidSettings)
	}
	if s.MinDistanceCeilM > 0 && s.MinDistanceFloorM > s.MinDistanceCeilM {
		return fmt.Errorf("%w: clamp floor exceeds ceiling", ErrInvalidSettings)
	}
	if s.ConfidenceThreshold < 0 || s.ConfidenceThreshold > 1 {
		return fmt.Errorf("%w: confidence threshold outside [0,1]", ErrInvalidSettings)
	}
	if len(s.Bands) == 0 {
		return fmt.Errorf("%w: at least one threat band required", ErrInvalidSettings)
	}
	for _, b := range s.Bands {
		if b.MinDistanceM <= 0 {
			return fmt.Errorf("%w: band %s distance must be positive", ErrInvalidSettings, b.Tier)
		}
		if b.Tier.Rank() == 0 {
			return fmt.Errorf("%w: band tier %q not recognized", ErrInvalidSettings, b.Tier)
		}
	}
	return nil
}
