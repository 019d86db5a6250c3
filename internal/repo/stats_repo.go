// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository helpers for aggregated
// choice statistics and coarse corpus counts.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/storypath/go-story-backend/internal/domain"
)

// BumpOffered increments the offered counter for every slug surfaced to a
// player in the given genre, creating rows as needed. Each slug is its own
// upsert; a partial failure aborts the remainder.
func BumpOffered(ctx context.Context, db *gorm.DB, genre string, slugs []string) error {
	now := time.Now().UTC()
	for _, slug := range slugs {
		if slug == "" {
			continue
		}
		rec := &domain.ChoiceStat{
			ID:           uuid.NewString(),
			Genre:        genre,
			Slug:         slug,
			TimesOffered: 1,
			CreatedAt:    now,
		}
		err := db.WithContext(ctx).
			Clauses(clause.OnConflict{
				Columns: []clause.Column{{Name: "genre"}, {Name: "slug"}},
				DoUpdates: clause.Assignments(map[string]any{
					"times_offered": gorm.Expr("times_offered + 1"),
					"updated_at":    now,
				}),
			}).
			Create(rec).Error
		if err != nil {
			return err
		}
	}
	return nil
}

// BumpChosen increments the chosen counter for the slug a player picked.
func BumpChosen(ctx context.Context, db *gorm.DB, genre, slug string) error {
	now := time.Now().UTC()
	rec := &domain.ChoiceStat{
		ID:          uuid.NewString(),
		Genre:       genre,
		Slug:        slug,
		TimesChosen: 1,
		CreatedAt:   now,
	}
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "genre"}, {Name: "slug"}},
			DoUpdates: clause.Assignments(map[string]any{
				"times_chosen": gorm.Expr("times_chosen + 1"),
				"updated_at":   now,
			}),
		}).
		Create(rec).Error
}

// CountChoiceStats returns the number of stat rows, optionally filtered
// by genre.
func CountChoiceStats(ctx context.Context, db *gorm.DB, genre string) (int64, error) {
	q := db.WithContext(ctx).Model(&domain.ChoiceStat{})
	if genre != "" {
		q = q.Where("genre = ?", genre)
	}
	var total int64
	err := q.Count(&total).Error
	return total, err
}

// ListChoiceStatsPage returns a paginated slice of stat rows ordered by
// offered count descending, optionally filtered by genre.
func ListChoiceStatsPage(ctx context.Context, db *gorm.DB, genre string, offset, limit int) ([]domain.ChoiceStat, error) {
	q := db.WithContext(ctx).Model(&domain.ChoiceStat{})
	if genre != "" {
		q = q.Where("genre = ?", genre)
	}
	var out []domain.ChoiceStat
	err := q.Order("times_offered desc, slug asc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// OverviewCounts carries coarse corpus totals for the stats overview.
type OverviewCounts struct {
	TotalRuns  int64
	ActiveRuns int64
	EndedRuns  int64
	TotalSteps int64
}

// Overview computes corpus-wide totals across all users.
func Overview(ctx context.Context, db *gorm.DB) (OverviewCounts, error) {
	var out OverviewCounts
	if err := db.WithContext(ctx).Model(&domain.StoryRun{}).Count(&out.TotalRuns).Error; err != nil {
		return out, err
	}
	if err := db.WithContext(ctx).Model(&domain.StoryRun{}).
		Where("status = ?", domain.RunStatusEnded).
		Count(&out.EndedRuns).Error; err != nil {
		return out, err
	}
	out.ActiveRuns = out.TotalRuns - out.EndedRuns
	if err := db.WithContext(ctx).Model(&domain.StoryStep{}).Count(&out.TotalSteps).Error; err != nil {
		return out, err
	}
	return out, nil
}
