// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository helpers for the per-day
// generation counters behind the daily rate limit.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/storypath/go-story-backend/internal/domain"
)

// IncrementDailyCount atomically bumps the (identity, day) counter and
// returns the post-increment value. A missing row is created with a count
// of one. The increment runs as a single upsert with RETURNING, so two
// concurrent requests always observe distinct counts.
func IncrementDailyCount(ctx context.Context, db *gorm.DB, identity, day string, isGuest bool) (int, error) {
	now := time.Now().UTC()
	rec := &domain.RateLimitRecord{
		ID:           uuid.NewString(),
		Identity:     identity,
		Day:          day,
		RequestCount: 1,
		IsGuest:      isGuest,
		CreatedAt:    now,
	}
	err := db.WithContext(ctx).
		Clauses(
			clause.OnConflict{
				Columns: []clause.Column{{Name: "identity"}, {Name: "day"}},
				DoUpdates: clause.Assignments(map[string]any{
					"request_count": gorm.Expr("request_count + 1"),
					"updated_at":    now,
				}),
			},
			clause.Returning{Columns: []clause.Column{{Name: "request_count"}}},
		).
		Create(rec).Error
	if err != nil {
		return 0, err
	}
	return rec.RequestCount, nil
}

// GetDailyCount returns the counter for (identity, day) without touching
// it. A missing row reads as zero.
func GetDailyCount(ctx context.Context, db *gorm.DB, identity, day string) (int, error) {
	var rec domain.RateLimitRecord
	err := db.WithContext(ctx).
		Where("identity = ? AND day = ?", identity, day).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return rec.RequestCount, nil
}
