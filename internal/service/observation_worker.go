package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/cyclonite69/shadowcheck-sub006/internal/util"
)

// consumeBackoff paces retries after a read failure so a broker outage does
// not flood the log.
const consumeBackoff = time.Second

// ObservationEventSource yields canonical-observation messages.
type ObservationEventSource interface {
	ConsumeMessage(ctx context.Context) (*kafka.Message, error)
}

// ObservationWorker consumes canonical-observation events and re-runs the
// collision and triangulation analyses for the identity behind each one, so
// derived records track ingest without waiting for the next scheduled sweep.
type ObservationWorker struct {
	source   ObservationEventSource
	analysis *AnalysisService
	logger   *zap.Logger
}

func NewObservationWorker(source ObservationEventSource, analysis *AnalysisService, logger *zap.Logger) *ObservationWorker {
	return &ObservationWorker{
		source:   source,
		analysis: analysis,
		logger:   logger,
	}
}

// Run blocks consuming events until ctx is cancelled. Malformed payloads and
// per-identity analysis failures are logged and skipped; the worker only
// stops on context cancellation.
func (w *ObservationWorker) Run(ctx context.Context) error {
	for {
		msg, err := w.source.ConsumeMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			util.Warn("Failed to read observation event", zap.Error(err))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(consumeBackoff):
			}
			continue
		}

		var event ObservationEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			util.Warn("Malformed observation event",
				zap.ByteString("key", msg.Key),
				zap.Error(err))
			continue
		}
		if event.BSSID == "" {
			continue
		}

		if err := w.analysis.AnalyzeIdentity(ctx, event.BSSID); err != nil {
			// Too few positioned sightings is the common case for a fresh
			// identity; only genuine failures are worth a log line.
			if errors.Is(err, ErrInsufficientData) || errors.Is(err, ErrNotFound) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			util.Warn("Event-driven analysis failed",
				zap.String("bssid", event.BSSID),
				zap.Error(err))
			continue
		}

		w.logger.Debug("Identity re-analyzed from observation event",
			zap.String("bssid", event.BSSID))
	}
}
