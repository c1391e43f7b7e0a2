package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cyclonite69/shadowcheck-sub006/internal/client"
	"github.com/cyclonite69/shadowcheck-sub006/internal/config"
	"github.com/cyclonite69/shadowcheck-sub006/internal/models"
	redisrepo "github.com/cyclonite69/shadowcheck-sub006/internal/repository/redis"
	"github.com/cyclonite69/shadowcheck-sub006/internal/repository/scylla"
	"github.com/cyclonite69/shadowcheck-sub006/internal/threat"
	"github.com/cyclonite69/shadowcheck-sub006/internal/util"
)

// detectionParallelism bounds the per-identity detection fan-out.
const detectionParallelism = 8

// FeedbackRequest is an operator's judgment on a reported threat.
type FeedbackRequest struct {
	BSSID     string  `json:"bssid"`
	Category  string  `json:"category"`
	Tier      string  `json:"tier"`
	DistanceM float64 `json:"distance_m"`
	Rating    string  `json:"rating"`
	Notes     string  `json:"notes,omitempty"`
	Whitelist bool    `json:"whitelist,omitempty"`
}

// ThreatAlert is the Kafka payload emitted for qualifying threat verdicts.
type ThreatAlert struct {
	BSSID            string    `json:"bssid"`
	Category         string    `json:"category"`
	Tier             string    `json:"tier"`
	Confidence       float64   `json:"confidence"`
	MaxAwayDistanceM float64   `json:"max_away_distance_m"`
	MobileHotspot    bool      `json:"mobile_hotspot"`
	ComputedAt       time.Time `json:"computed_at"`
}

// DetectionRunSummary reports one detection sweep.
type DetectionRunSummary struct {
	Category        models.RadioCategory `json:"category"`
	SettingsVersion int                  `json:"settings_version"`
	Evaluated       int                  `json:"evaluated"`
	Flagged         int                  `json:"flagged"`
	Skipped         int                  `json:"skipped"` // excluded lists + no usable sightings
}

// ThreatService runs surveillance detection sweeps and serves their results.
type ThreatService struct {
	identities   scylla.IdentityRepository
	observations scylla.ObservationRepository
	threats      scylla.ThreatRepository
	detector     *threat.Detector
	settings     *SettingsService
	exclusions   *redisrepo.ExclusionCache
	analytics    *FeedbackAnalytics
	producer     *client.KafkaProducer
	es           *client.ESClient
	threatIndex  string
	ownedDevices []string
	logger       *zap.Logger
}

func NewThreatService(cfg *config.Config,
	identities scylla.IdentityRepository,
	observations scylla.ObservationRepository,
	threats scylla.ThreatRepository,
	detector *threat.Detector,
	settings *SettingsService,
	exclusions *redisrepo.ExclusionCache,
	analytics *FeedbackAnalytics,
	producer *client.KafkaProducer,
	es *client.ESClient,
	logger *zap.Logger,
) *ThreatService {
	owned := make([]string, 0, len(cfg.Detection.OwnedDevices))
	for _, b := range cfg.Detection.OwnedDevices {
		owned = append(owned, util.NormalizeBSSID(b))
	}
	return &ThreatService{
		identities:   identities,
		observations: observations,
		threats:      threats,
		detector:     detector,
		settings:     settings,
		exclusions:   exclusions,
		analytics:    analytics,
		producer:     producer,
		es:           es,
		threatIndex:  cfg.Elasticsearch.ThreatIndex,
		ownedDevices: owned,
		logger:       logger,
	}
}

// RunDetection sweeps every identity in a category against the category's
// active settings. Settings are loaded once and passed by value; a settings
// update mid-sweep affects only the next run.
func (s *ThreatService) RunDetection(ctx context.Context, category models.RadioCategory) (*DetectionRunSummary, error) {
	settings, err := s.settings.GetSettings(ctx, category)
	if err != nil {
		return nil, err
	}

	excluded, err := s.loadExclusions(ctx)
	if err != nil {
		return nil, err
	}

	bssids, err := s.identities.IdentitiesByCategory(ctx, category, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	summary := &DetectionRunSummary{Category: category, SettingsVersion: settings.Version}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(detectionParallelism)
	for _, bssid := range bssids {
		bssid := bssid
		g.Go(func() error {
			if _, skip := excluded[bssid]; skip {
				mu.Lock()
				summary.Skipped++
				mu.Unlock()
				return nil
			}

			rec, err := s.evaluateIdentity(gctx, bssid, *settings)
			if err != nil {
				return err
			}

			mu.Lock()
			defer mu.Unlock()
			if rec == nil {
				summary.Skipped++
				return nil
			}
			summary.Evaluated++
			if !rec.Excluded {
				summary.Flagged++
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return summary, err
	}

	util.Info("Detection sweep complete",
		zap.String("category", string(category)),
		zap.Int("settings_version", settings.Version),
		zap.Int("evaluated", summary.Evaluated),
		zap.Int("flagged", summary.Flagged),
		zap.Int("skipped", summary.Skipped))
	return summary, nil
}

// evaluateIdentity scores one identity and persists the verdict. Returns nil
// when the identity has no geolocated canonical sightings to judge.
func (s *ThreatService) evaluateIdentity(ctx context.Context, bssid string, settings models.DetectionSettings) (*models.ThreatRecord, error) {
	identity, err := s.identities.GetIdentity(ctx, bssid)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	observations, err := s.observations.CanonicalObservations(ctx, bssid, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	sightings := make([]threat.Sighting, 0, len(observations))
	for _, obs := range observations {
		if obs.HasPosition() {
			sightings = append(sightings, threat.Sighting{
				Lat: obs.Position.Lat,
				Lon: obs.Position.Lon,
			})
		}
	}
	if len(sightings) == 0 {
		return nil, nil
	}

	rec := s.detector.Evaluate(identity, sightings, settings)
	if err := s.threats.ReplaceThreatRecord(ctx, rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if !rec.Excluded {
		s.publishAlert(ctx, rec)
		s.indexThreat(rec)
	}
	return rec, nil
}

// GetThreats returns the category's non-excluded threat records ordered by
// severity, confidence, then distance.
func (s *ThreatService) GetThreats(ctx context.Context, category models.RadioCategory, limit int) ([]*models.ThreatRecord, error) {
	if !category.Valid() {
		return nil, fmt.Errorf("%w: unknown category %q", ErrInvalidObservation, category)
	}

	records, err := s.threats.ThreatsByCategory(ctx, category)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	visible := records[:0]
	for _, rec := range records {
		if !rec.Excluded {
			visible = append(visible, rec)
		}
	}

	sort.Slice(visible, func(i, j int) bool {
		if visible[i].Tier.Rank() != visible[j].Tier.Rank() {
			return visible[i].Tier.Rank() > visible[j].Tier.Rank()
		}
		if visible[i].Confidence != visible[j].Confidence {
			return visible[i].Confidence > visible[j].Confidence
		}
		return visible[i].MaxAwayDistanceM > visible[j].MaxAwayDistanceM
	})

	if limit > 0 && len(visible) > limit {
		visible = visible[:limit]
	}
	return visible, nil
}

// SubmitFeedback appends an operator judgment and optionally whitelists the
// identity. Feedback is authoritative in the primary store; the analytics
// copy is best-effort.
func (s *ThreatService) SubmitFeedback(ctx context.Context, req *FeedbackRequest) (*models.FeedbackRecord, error) {
	bssid := util.NormalizeBSSID(req.BSSID)
	if len(bssid) != 17 {
		return nil, fmt.Errorf("%w: malformed bssid %q", ErrInvalidObservation, req.BSSID)
	}
	category := models.RadioCategory(req.Category)
	if !category.Valid() {
		return nil, fmt.Errorf("%w: unknown category %q", ErrInvalidObservation, req.Category)
	}
	rating := models.FeedbackRating(req.Rating)
	if !rating.Valid() {
		return nil, fmt.Errorf("%w: unknown rating %q", ErrInvalidObservation, req.Rating)
	}

	fb := &models.FeedbackRecord{
		BSSID:     bssid,
		Category:  category,
		Tier:      models.ThreatTier(req.Tier),
		DistanceM: req.DistanceM,
		Rating:    rating,
		Notes:     util.SanitizeNote(req.Notes),
		Whitelist: req.Whitelist,
	}
	if err := s.threats.AppendFeedback(ctx, fb); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if err := s.analytics.RecordFeedback(ctx, fb); err != nil {
		util.Warn("Failed to mirror feedback to analytics store",
			zap.String("bssid", bssid),
			zap.Error(err))
	}

	if req.Whitelist {
		reason := fmt.Sprintf("operator feedback: %s", rating)
		if err := s.threats.AddExclusion(ctx, scylla.ListWhitelist, bssid, reason); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		if s.exclusions != nil {
			if err := s.exclusions.AddMember(scylla.ListWhitelist, bssid); err != nil {
				util.Warn("Failed to update exclusion cache", zap.Error(err))
			}
		}
	}

	util.Info("Feedback recorded",
		zap.String("bssid", bssid),
		zap.String("rating", string(rating)),
		zap.Bool("whitelist", req.Whitelist))
	return fb, nil
}

// RemoveExclusion drops an identity from an exclusion list so the next
// detection sweep judges it again. Removal is idempotent.
func (s *ThreatService) RemoveExclusion(ctx context.Context, list, bssid string) error {
	if list != scylla.ListWhitelist && list != scylla.ListOwned {
		return fmt.Errorf("%w: unknown exclusion list %q", ErrInvalidObservation, list)
	}
	normalized := util.NormalizeBSSID(bssid)
	if len(normalized) != 17 {
		return fmt.Errorf("%w: malformed bssid %q", ErrInvalidObservation, bssid)
	}

	if err := s.threats.RemoveExclusion(ctx, list, normalized); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if s.exclusions != nil {
		if err := s.exclusions.RemoveMember(list, normalized); err != nil {
			util.Warn("Failed to update exclusion cache", zap.Error(err))
		}
	}

	util.Info("Exclusion removed",
		zap.String("list", list),
		zap.String("bssid", normalized))
	return nil
}

// loadExclusions merges the store-backed whitelist, the store-backed owned
// list and the configured owned devices, warming the Redis mirror as a side
// effect.
func (s *ThreatService) loadExclusions(ctx context.Context) (map[string]struct{}, error) {
	excluded := make(map[string]struct{})

	whitelist, err := s.threats.ListExclusions(ctx, scylla.ListWhitelist)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	owned, err := s.threats.ListExclusions(ctx, scylla.ListOwned)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	for _, b := range whitelist {
		excluded[b] = struct{}{}
	}
	for _, b := range owned {
		excluded[b] = struct{}{}
	}
	for _, b := range s.ownedDevices {
		excluded[b] = struct{}{}
	}

	if s.exclusions != nil {
		if err := s.exclusions.WarmList(scylla.ListWhitelist, whitelist); err != nil {
			util.Warn("Failed to warm whitelist cache", zap.Error(err))
		}
		allOwned := append(append([]string(nil), owned...), s.ownedDevices...)
		if err := s.exclusions.WarmList(scylla.ListOwned, allOwned); err != nil {
			util.Warn("Failed to warm owned-device cache", zap.Error(err))
		}
	}
	return excluded, nil
}

func (s *ThreatService) publishAlert(ctx context.Context, rec *models.ThreatRecord) {
	if s.producer == nil {
		return
	}
	alert := ThreatAlert{
		BSSID:            rec.BSSID,
		Category:         string(rec.Category),
		Tier:             string(rec.Tier),
		Confidence:       rec.Confidence,
		MaxAwayDistanceM: rec.MaxAwayDistanceM,
		MobileHotspot:    rec.MobileHotspot,
		ComputedAt:       rec.ComputedAt,
	}
	if err := s.producer.PublishThreatAlert(ctx, rec.BSSID, alert); err != nil {
		util.Warn("Failed to publish threat alert",
			zap.String("bssid", rec.BSSID),
			zap.Error(err))
	}
}

func (s *ThreatService) indexThreat(rec *models.ThreatRecord) {
	if s.es == nil || s.threatIndex == "" {
		return
	}
	docID := fmt.Sprintf("%s:%s", rec.Category, rec.BSSID)
	res, err := s.es.IndexDocument(s.threatIndex, docID, rec)
	if err != nil {
		util.Warn("Failed to index threat record",
			zap.String("bssid", rec.BSSID),
			zap.Error(err))
		return
	}
	defer res.Body.Close()
	if res.IsError() {
		util.Warn("Threat index rejected document",
			zap.String("bssid", rec.BSSID),
			zap.String("status", res.Status()))
	}
}
