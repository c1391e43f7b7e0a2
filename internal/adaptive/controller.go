package adaptive

import (
	"fmt"
	"time"

	"github.com/cyclonite69/shadowcheck-sub006/internal/config"
	"github.com/cyclonite69/shadowcheck-sub006/internal/models"
)

// Controller tunes per-category detection thresholds from operator feedback.
// Pure policy: aggregation and persistence live in the service layer so the
// policy converges the same way no matter which store feeds it.
type Controller struct {
	raiseRate   float64
	lowerRate   float64
	raiseFactor float64
	lowerFactor float64
}

func NewController(cfg *config.Config) *Controller {
	c := &Controller{
		raiseRate:   cfg.Adaptive.RaiseRate,
		lowerRate:   cfg.Adaptive.LowerRate,
		raiseFactor: cfg.Adaptive.RaiseFactor,
		lowerFactor: cfg.Adaptive.LowerFactor,
	}
	if c.raiseRate <= 0 {
		c.raiseRate = 0.5
	}
	if c.lowerRate <= 0 {
		c.lowerRate = 0.2
	}
	if c.raiseFactor <= 1 {
		c.raiseFactor = 1.5
	}
	if c.lowerFactor <= 0 || c.lowerFactor >= 1 {
		c.lowerFactor = 0.8
	}
	return c
}

// Adjust applies the feedback policy to a category's active settings.
// fpRate is count(false_positive)/count(all feedback) over the rolling
// window; sample is the feedback count behind it. Returns the next settings
// row (version bumped, audit reason set) and whether anything changed.
// The input is taken by value and never mutated.
func (c *Controller) Adjust(s models.DetectionSettings, fpRate float64, sample int) (models.DetectionSettings, bool) {
	if sample == 0 {
		return s, false
	}

	var factor float64
	switch {
	case fpRate > c.raiseRate:
		factor = c.raiseFactor // too many false alarms, back off
	case fpRate < c.lowerRate:
		factor = c.lowerFactor // feedback is clean, lean in
	default:
		return s, false
	}

	next := s
	next.MinAwayDistanceM = clamp(s.MinAwayDistanceM*factor, s.MinDistanceFloorM, s.MinDistanceCeilM)
	if next.MinAwayDistanceM == s.MinAwayDistanceM {
		// Clamped back to where it was; don't write a no-op version.
		return s, false
	}

	next.Version = s.Version + 1
	next.Reason = fmt.Sprintf(
		"adaptive adjustment: fp_rate=%.2f over %d feedback records, min_away %.0fm -> %.0fm (x%.2f)",
		fpRate, sample, s.MinAwayDistanceM, next.MinAwayDistanceM, factor,
	)
	next.UpdatedAt = time.Now().UTC()
	return next, true
}

func clamp(v, lo, hi float64) float64 {
	if lo > 0 && v < lo {
		return lo
	}
	if hi > 0 && v > hi {
		return hi
	}
	return v
}
