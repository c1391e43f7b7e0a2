package service

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/gocql/gocql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cyclonite69/shadowcheck-sub006/internal/models"
)

// fakeThreatRepo is an in-memory ThreatRepository for service tests. Settings
// versioning follows the store's IF NOT EXISTS semantics.
type fakeThreatRepo struct {
	settings   map[models.RadioCategory]map[int]models.DetectionSettings
	feedback   []*models.FeedbackRecord
	threats    map[string]*models.ThreatRecord
	exclusions map[string]map[string]string

	// pinnedActiveVersion simulates a reader that has not yet observed a
	// concurrent commit. Zero means serve the highest committed version.
	pinnedActiveVersion int
}

func newFakeThreatRepo() *fakeThreatRepo {
	return &fakeThreatRepo{
		settings:   make(map[models.RadioCategory]map[int]models.DetectionSettings),
		threats:    make(map[string]*models.ThreatRecord),
		exclusions: make(map[string]map[string]string),
	}
}

func (r *fakeThreatRepo) ReplaceThreatRecord(ctx context.Context, rec *models.ThreatRecord) error {
	cp := *rec
	r.threats[rec.BSSID] = &cp
	return nil
}

func (r *fakeThreatRepo) ThreatsByCategory(ctx context.Context, category models.RadioCategory) ([]*models.ThreatRecord, error) {
	var out []*models.ThreatRecord
	for _, rec := range r.threats {
		if rec.Category == category {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeThreatRepo) AppendFeedback(ctx context.Context, fb *models.FeedbackRecord) error {
	cp := *fb
	r.feedback = append(r.feedback, &cp)
	return nil
}

func (r *fakeThreatRepo) FeedbackSince(ctx context.Context, category models.RadioCategory, since time.Time) ([]*models.FeedbackRecord, error) {
	var out []*models.FeedbackRecord
	for _, fb := range r.feedback {
		if fb.Category == category && fb.CreatedAt.After(since) {
			cp := *fb
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeThreatRepo) ActiveSettings(ctx context.Context, category models.RadioCategory) (*models.DetectionSettings, error) {
	versions, ok := r.settings[category]
	if !ok || len(versions) == 0 {
		return nil, gocql.ErrNotFound
	}
	if r.pinnedActiveVersion > 0 {
		if s, ok := versions[r.pinnedActiveVersion]; ok {
			return &s, nil
		}
	}
	best := -1
	for v := range versions {
		if v > best {
			best = v
		}
	}
	s := versions[best]
	return &s, nil
}

func (r *fakeThreatRepo) SettingsHistory(ctx context.Context, category models.RadioCategory, limit int) ([]*models.DetectionSettings, error) {
	versions := r.settings[category]
	keys := make([]int, 0, len(versions))
	for v := range versions {
		keys = append(keys, v)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(keys)))

	var out []*models.DetectionSettings
	for _, v := range keys {
		if limit > 0 && len(out) >= limit {
			break
		}
		s := versions[v]
		out = append(out, &s)
	}
	return out, nil
}

func (r *fakeThreatRepo) InsertSettingsVersion(ctx context.Context, s models.DetectionSettings) (bool, error) {
	versions, ok := r.settings[s.Category]
	if !ok {
		versions = make(map[int]models.DetectionSettings)
		r.settings[s.Category] = versions
	}
	if _, exists := versions[s.Version]; exists {
		return false, nil
	}
	versions[s.Version] = s
	return true, nil
}

func (r *fakeThreatRepo) AddExclusion(ctx context.Context, list, bssid, reason string) error {
	m, ok := r.exclusions[list]
	if !ok {
		m = make(map[string]string)
		r.exclusions[list] = m
	}
	m[bssid] = reason
	return nil
}

func (r *fakeThreatRepo) RemoveExclusion(ctx context.Context, list, bssid string) error {
	delete(r.exclusions[list], bssid)
	return nil
}

func (r *fakeThreatRepo) ListExclusions(ctx context.Context, list string) ([]string, error) {
	var out []string
	for b := range r.exclusions[list] {
		out = append(out, b)
	}
	return out, nil
}

func newTestSettingsService(repo *fakeThreatRepo) *SettingsService {
	return NewSettingsService(repo, nil, zap.NewNop())
}

func TestGetSettingsSeedsDefaults(t *testing.T) {
	repo := newFakeThreatRepo()
	s := newTestSettingsService(repo)

	settings, err := s.GetSettings(context.Background(), models.CategoryWiFi)
	require.NoError(t, err)

	assert.Equal(t, models.CategoryWiFi, settings.Category)
	assert.Equal(t, 1, settings.Version)
	assert.True(t, settings.Enabled)
	assert.Equal(t, 1000.0, settings.MinAwayDistanceM)
	assert.Len(t, settings.Bands, 5)

	// The seed is committed, not just returned
	stored, err := repo.ActiveSettings(context.Background(), models.CategoryWiFi)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.Version)
}

func TestGetSettingsRejectsUnknownCategory(t *testing.T) {
	s := newTestSettingsService(newFakeThreatRepo())

	_, err := s.GetSettings(context.Background(), "X")
	assert.ErrorIs(t, err, ErrInvalidSettings)
}

func TestUpdateSettingsPartialUpdate(t *testing.T) {
	repo := newFakeThreatRepo()
	s := newTestSettingsService(repo)

	minAway := 2000.0
	updated, err := s.UpdateSettings(context.Background(), models.CategoryWiFi, &SettingsUpdateRequest{
		MinAwayDistanceM: &minAway,
		Reason:           "tuning after site survey",
	})
	require.NoError(t, err)

	assert.Equal(t, 2, updated.Version)
	assert.Equal(t, 2000.0, updated.MinAwayDistanceM)
	assert.Equal(t, "tuning after site survey", updated.Reason)
	// Untouched fields carry over
	assert.Equal(t, 500.0, updated.ReferenceRadiusM)
	assert.Len(t, updated.Bands, 5)

	active, err := repo.ActiveSettings(context.Background(), models.CategoryWiFi)
	require.NoError(t, err)
	assert.Equal(t, 2, active.Version)
	assert.Equal(t, 2000.0, active.MinAwayDistanceM)
}

func TestUpdateSettingsValidation(t *testing.T) {
	repo := newFakeThreatRepo()
	s := newTestSettingsService(repo)

	bad := 1.5
	_, err := s.UpdateSettings(context.Background(), models.CategoryWiFi, &SettingsUpdateRequest{
		ConfidenceThreshold: &bad,
	})
	assert.ErrorIs(t, err, ErrInvalidSettings)

	negative := -10.0
	_, err = s.UpdateSettings(context.Background(), models.CategoryWiFi, &SettingsUpdateRequest{
		MinAwayDistanceM: &negative,
	})
	assert.ErrorIs(t, err, ErrInvalidSettings)

	_, err = s.UpdateSettings(context.Background(), models.CategoryWiFi, &SettingsUpdateRequest{
		Bands: []models.ThreatBand{{Tier: "mystery", MinDistanceM: 100}},
	})
	assert.ErrorIs(t, err, ErrInvalidSettings)

	// Failed updates never commit a version
	active, err := repo.ActiveSettings(context.Background(), models.CategoryWiFi)
	require.NoError(t, err)
	assert.Equal(t, 1, active.Version)
}

func TestSettingsHistoryNewestFirst(t *testing.T) {
	repo := newFakeThreatRepo()
	s := newTestSettingsService(repo)

	minAway := 2000.0
	_, err := s.UpdateSettings(context.Background(), models.CategoryWiFi, &SettingsUpdateRequest{MinAwayDistanceM: &minAway})
	require.NoError(t, err)

	history, err := s.SettingsHistory(context.Background(), models.CategoryWiFi, 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, 2, history[0].Version)
	assert.Equal(t, 1, history[1].Version)
}

func TestCommitConflictOnDuplicateVersion(t *testing.T) {
	repo := newFakeThreatRepo()
	s := newTestSettingsService(repo)

	seeded, err := s.GetSettings(context.Background(), models.CategoryWiFi)
	require.NoError(t, err)

	_, err = s.Commit(context.Background(), *seeded)
	assert.ErrorIs(t, err, ErrConflict)
}
