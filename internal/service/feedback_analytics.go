package service

import (
	"context"
	"fmt"
	"time"

	"github.com/cyclonite69/shadowcheck-sub006/internal/client"
	"github.com/cyclonite69/shadowcheck-sub006/internal/models"
)

const feedbackEventsTable = "feedback_events"

// FeedbackAnalytics mirrors operator feedback into ClickHouse for windowed
// aggregation. The Scylla feedback table stays authoritative; this copy only
// feeds reporting and the adaptive controller's rate query.
type FeedbackAnalytics struct {
	ch *client.ClickHouseClient
}

func NewFeedbackAnalytics(ch *client.ClickHouseClient) *FeedbackAnalytics {
	return &FeedbackAnalytics{ch: ch}
}

// Available reports whether the analytics store is wired in.
func (a *FeedbackAnalytics) Available() bool {
	return a != nil && a.ch != nil
}

// RecordFeedback appends one feedback event.
func (a *FeedbackAnalytics) RecordFeedback(ctx context.Context, fb *models.FeedbackRecord) error {
	if !a.Available() {
		return nil
	}
	query := fmt.Sprintf(`INSERT INTO %s
        (id, bssid, category, tier, distance_m, rating, whitelist, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, feedbackEventsTable)
	return a.ch.Exec(ctx, query,
		fb.ID.String(), fb.BSSID, string(fb.Category), string(fb.Tier),
		fb.DistanceM, string(fb.Rating), fb.Whitelist, fb.CreatedAt)
}

// FalsePositiveRate aggregates the rolling-window rate for one category.
// Returns the rate and the number of feedback records behind it.
func (a *FeedbackAnalytics) FalsePositiveRate(ctx context.Context, category models.RadioCategory, since time.Time) (float64, int, error) {
	if !a.Available() {
		return 0, 0, fmt.Errorf("feedback analytics not configured")
	}

	query := fmt.Sprintf(`SELECT
        countIf(rating = 'false_positive') AS false_positives,
        count() AS total
        FROM %s WHERE category = ? AND created_at > ?`, feedbackEventsTable)

	rows, err := a.ch.QueryRows(ctx, query, string(category), since)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to aggregate feedback: %w", err)
	}
	defer rows.Close()

	var falsePositives, total uint64
	if rows.Next() {
		if err := rows.Scan(&falsePositives, &total); err != nil {
			return 0, 0, fmt.Errorf("failed to scan feedback aggregate: %w", err)
		}
	}
	if err := rows.Err(); err != nil {
		return 0, 0, fmt.Errorf("failed to read feedback aggregate: %w", err)
	}

	if total == 0 {
		return 0, 0, nil
	}
	return float64(falsePositives) / float64(total), int(total), nil
}
