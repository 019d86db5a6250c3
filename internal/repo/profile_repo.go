// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// UserProfile model.
package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/storypath/go-story-backend/internal/domain"
)

// GetProfile fetches the profile for userID, or ErrNotFound if none exists.
func GetProfile(ctx context.Context, db *gorm.DB, userID string) (*domain.UserProfile, error) {
	var p domain.UserProfile
	err := db.WithContext(ctx).
		Where("id = ?", userID).
		First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// EnsureProfile returns the profile for userID, creating a free-tier row
// on first access. Creation races resolve to the existing row.
func EnsureProfile(ctx context.Context, db *gorm.DB, userID string) (*domain.UserProfile, error) {
	p, err := GetProfile(ctx, db, userID)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	fresh := &domain.UserProfile{
		ID:               userID,
		SubscriptionTier: domain.TierFree,
		CreatedAt:        time.Now().UTC(),
	}
	err = db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
		Create(fresh).Error
	if err != nil {
		return nil, err
	}
	// Re-read so a concurrent winner's row is returned, not our zero value.
	return GetProfile(ctx, db, userID)
}

// SetSubscription updates the tier (and optional premium expiry) for
// userID, creating the profile if it does not exist yet.
func SetSubscription(ctx context.Context, db *gorm.DB, userID string, tier domain.Tier, expiresAt *time.Time) (*domain.UserProfile, error) {
	now := time.Now().UTC()
	p := &domain.UserProfile{
		ID:               userID,
		SubscriptionTier: tier,
		PremiumExpiresAt: expiresAt,
		CreatedAt:        now,
	}
	err := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "id"}},
			DoUpdates: clause.Assignments(map[string]any{
				"subscription_tier":  string(tier),
				"premium_expires_at": expiresAt,
				"updated_at":         now,
			}),
		}).
		Create(p).Error
	if err != nil {
		return nil, err
	}
	return GetProfile(ctx, db, userID)
}
