package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cyclonite69/shadowcheck-sub006/internal/adaptive"
	"github.com/cyclonite69/shadowcheck-sub006/internal/config"
	"github.com/cyclonite69/shadowcheck-sub006/internal/models"
)

func newTestAdaptiveService(repo *fakeThreatRepo) (*AdaptiveService, *SettingsService) {
	cfg := &config.Config{}
	settings := newTestSettingsService(repo)
	svc := NewAdaptiveService(cfg, repo, settings, NewFeedbackAnalytics(nil),
		adaptive.NewController(cfg), zap.NewNop())
	return svc, settings
}

func appendFeedback(t *testing.T, repo *fakeThreatRepo, category models.RadioCategory, rating models.FeedbackRating, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		err := repo.AppendFeedback(context.Background(), &models.FeedbackRecord{
			ID:        uuid.New(),
			BSSID:     "A0:BB:CC:DD:EE:FF",
			Category:  category,
			Tier:      models.TierHigh,
			DistanceM: 6000,
			Rating:    rating,
			CreatedAt: time.Now().UTC().Add(-time.Hour),
		})
		require.NoError(t, err)
	}
}

func TestAdaptiveRaisesThresholdOnFalsePositives(t *testing.T) {
	repo := newFakeThreatRepo()
	svc, settings := newTestAdaptiveService(repo)
	ctx := context.Background()

	// 3 of 5 recent judgments are false positives: rate 0.6 > 0.5
	appendFeedback(t, repo, models.CategoryWiFi, models.RatingFalsePositive, 3)
	appendFeedback(t, repo, models.CategoryWiFi, models.RatingRealThreat, 2)

	results, err := svc.RunAdaptiveAdjustment(ctx, models.CategoryWiFi)
	require.NoError(t, err)
	require.Len(t, results, 1)

	result := results[0]
	assert.True(t, result.Adjusted)
	assert.InDelta(t, 0.6, result.FalsePositiveRate, 1e-9)
	assert.Equal(t, 5, result.SampleSize)
	assert.Equal(t, 2, result.NewVersion)
	assert.Contains(t, result.Reason, "adaptive adjustment")

	// The committed version is what detection reads next
	active, err := settings.GetSettings(ctx, models.CategoryWiFi)
	require.NoError(t, err)
	assert.Equal(t, 2, active.Version)
	assert.Equal(t, 1500.0, active.MinAwayDistanceM)
}

func TestAdaptiveLowersThresholdOnCleanFeedback(t *testing.T) {
	repo := newFakeThreatRepo()
	svc, settings := newTestAdaptiveService(repo)
	ctx := context.Background()

	appendFeedback(t, repo, models.CategoryWiFi, models.RatingRealThreat, 9)
	appendFeedback(t, repo, models.CategoryWiFi, models.RatingFalsePositive, 1)

	results, err := svc.RunAdaptiveAdjustment(ctx, models.CategoryWiFi)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Adjusted)

	active, err := settings.GetSettings(ctx, models.CategoryWiFi)
	require.NoError(t, err)
	assert.Equal(t, 800.0, active.MinAwayDistanceM)
}

func TestAdaptiveNoFeedbackNoChange(t *testing.T) {
	repo := newFakeThreatRepo()
	svc, settings := newTestAdaptiveService(repo)
	ctx := context.Background()

	results, err := svc.RunAdaptiveAdjustment(ctx, models.CategoryWiFi)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.False(t, results[0].Adjusted)
	assert.Zero(t, results[0].SampleSize)

	active, err := settings.GetSettings(ctx, models.CategoryWiFi)
	require.NoError(t, err)
	assert.Equal(t, 1, active.Version)
}

func TestAdaptiveIgnoresFeedbackOutsideWindow(t *testing.T) {
	repo := newFakeThreatRepo()
	svc, _ := newTestAdaptiveService(repo)
	ctx := context.Background()

	err := repo.AppendFeedback(ctx, &models.FeedbackRecord{
		ID:        uuid.New(),
		BSSID:     "A0:BB:CC:DD:EE:FF",
		Category:  models.CategoryWiFi,
		Rating:    models.RatingFalsePositive,
		CreatedAt: time.Now().UTC().Add(-90 * 24 * time.Hour),
	})
	require.NoError(t, err)

	results, err := svc.RunAdaptiveAdjustment(ctx, models.CategoryWiFi)
	require.NoError(t, err)
	assert.False(t, results[0].Adjusted)
	assert.Zero(t, results[0].SampleSize)
}

func TestAdaptiveLostVersionRaceIsNotAnError(t *testing.T) {
	repo := newFakeThreatRepo()
	svc, settings := newTestAdaptiveService(repo)
	ctx := context.Background()

	seeded, err := settings.GetSettings(ctx, models.CategoryWiFi)
	require.NoError(t, err)

	// A concurrent run already committed version 2, but this run still
	// reads version 1 as active
	conflicting := *seeded
	conflicting.Version = 2
	applied, err := repo.InsertSettingsVersion(ctx, conflicting)
	require.NoError(t, err)
	require.True(t, applied)
	repo.pinnedActiveVersion = 1

	appendFeedback(t, repo, models.CategoryWiFi, models.RatingFalsePositive, 5)

	results, err := svc.RunAdaptiveAdjustment(ctx, models.CategoryWiFi)
	require.NoError(t, err)
	require.Len(t, results, 1)
	// This run's write lost; the earlier commit stands
	assert.False(t, results[0].Adjusted)
}

func TestAdaptiveAllCategoriesWhenUnspecified(t *testing.T) {
	repo := newFakeThreatRepo()
	svc, _ := newTestAdaptiveService(repo)

	results, err := svc.RunAdaptiveAdjustment(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, results, len(models.AllCategories))
}

func TestAdaptiveRejectsUnknownCategory(t *testing.T) {
	repo := newFakeThreatRepo()
	svc, _ := newTestAdaptiveService(repo)

	_, err := svc.RunAdaptiveAdjustment(context.Background(), "X")
	assert.ErrorIs(t, err, ErrInvalidSettings)
}
