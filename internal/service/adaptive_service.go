package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cyclonite69/shadowcheck-sub006/internal/adaptive"
	"github.com/cyclonite69/shadowcheck-sub006/internal/config"
	"github.com/cyclonite69/shadowcheck-sub006/internal/models"
	"github.com/cyclonite69/shadowcheck-sub006/internal/repository/scylla"
	"github.com/cyclonite69/shadowcheck-sub006/internal/util"
)

// AdjustmentResult reports one category's controller outcome.
type AdjustmentResult struct {
	Category          models.RadioCategory `json:"category"`
	FalsePositiveRate float64              `json:"false_positive_rate"`
	SampleSize        int                  `json:"sample_size"`
	Adjusted          bool                 `json:"adjusted"`
	NewVersion        int                  `json:"new_version,omitempty"`
	Reason            string               `json:"reason,omitempty"`
}

// AdaptiveService drives the threshold controller from operator feedback.
// Scheduled, never request-driven; detection reads whatever version is
// committed when its run starts.
type AdaptiveService struct {
	threats    scylla.ThreatRepository
	settings   *SettingsService
	analytics  *FeedbackAnalytics
	controller *adaptive.Controller
	window     time.Duration
	logger     *zap.Logger
}

func NewAdaptiveService(cfg *config.Config,
	threats scylla.ThreatRepository,
	settings *SettingsService,
	analytics *FeedbackAnalytics,
	controller *adaptive.Controller,
	logger *zap.Logger,
) *AdaptiveService {
	window := cfg.Adaptive.FeedbackWindow
	if window <= 0 {
		window = 30 * 24 * time.Hour
	}
	return &AdaptiveService{
		threats:    threats,
		settings:   settings,
		analytics:  analytics,
		controller: controller,
		window:     window,
		logger:     logger,
	}
}

// RunAdaptiveAdjustment applies the feedback policy to one category, or to
// every category when none is given.
func (s *AdaptiveService) RunAdaptiveAdjustment(ctx context.Context, category models.RadioCategory) ([]*AdjustmentResult, error) {
	categories := []models.RadioCategory{category}
	if category == "" {
		categories = models.AllCategories
	} else if !category.Valid() {
		return nil, fmt.Errorf("%w: unknown category %q", ErrInvalidSettings, category)
	}

	results := make([]*AdjustmentResult, 0, len(categories))
	for _, cat := range categories {
		result, err := s.adjustCategory(ctx, cat)
		if err != nil {
			return results, err
		}
		results = append(results, result)
	}
	return results, nil
}

func (s *AdaptiveService) adjustCategory(ctx context.Context, category models.RadioCategory) (*AdjustmentResult, error) {
	active, err := s.settings.GetSettings(ctx, category)
	if err != nil {
		return nil, err
	}

	since := time.Now().UTC().Add(-s.window)
	fpRate, sample, err := s.falsePositiveRate(ctx, category, since)
	if err != nil {
		return nil, err
	}

	result := &AdjustmentResult{
		Category:          category,
		FalsePositiveRate: fpRate,
		SampleSize:        sample,
	}

	next, changed := s.controller.Adjust(*active, fpRate, sample)
	if !changed {
		util.Debug("Adaptive controller left settings unchanged",
			zap.String("category", string(category)),
			zap.Float64("fp_rate", fpRate),
			zap.Int("sample", sample))
		return result, nil
	}

	committed, err := s.settings.Commit(ctx, next)
	if err != nil {
		if errors.Is(err, ErrConflict) {
			// A concurrent controller run committed this version first;
			// its adjustment stands.
			util.Warn("Adaptive adjustment lost version race",
				zap.String("category", string(category)),
				zap.Int("version", next.Version))
			return result, nil
		}
		return nil, err
	}

	result.Adjusted = true
	result.NewVersion = committed.Version
	result.Reason = committed.Reason
	return result, nil
}

// falsePositiveRate prefers the ClickHouse aggregate and falls back to
// counting the authoritative feedback table when analytics is not wired.
func (s *AdaptiveService) falsePositiveRate(ctx context.Context, category models.RadioCategory, since time.Time) (float64, int, error) {
	if s.analytics.Available() {
		rate, sample, err := s.analytics.FalsePositiveRate(ctx, category, since)
		if err == nil {
			return rate, sample, nil
		}
		util.Warn("Analytics aggregate failed, falling back to feedback table",
			zap.String("category", string(category)),
			zap.Error(err))
	}

	feedback, err := s.threats.FeedbackSince(ctx, category, since)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if len(feedback) == 0 {
		return 0, 0, nil
	}

	falsePositives := 0
	for _, fb := range feedback {
		if fb.Rating == models.RatingFalsePositive {
			falsePositives++
		}
	}
	return float64(falsePositives) / float64(len(feedback)), len(feedback), nil
}
