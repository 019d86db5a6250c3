// Package services – ProfileService
//
// This file implements ProfileService, which owns user subscription
// profiles. Profiles are provisioned lazily on first read with the free
// tier; guests never reach this service.
package services

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/storypath/go-story-backend/internal/domain"
	"github.com/storypath/go-story-backend/internal/repo"
)

// ProfileService manages user subscription profiles.
type ProfileService struct {
	DB *gorm.DB
}

// Get returns the caller's profile, creating a free-tier one on first
// access.
func (s *ProfileService) Get(ctx context.Context, userID string) (*domain.UserProfile, error) {
	tr := otel.Tracer("services/ProfileService")
	ctx, span := tr.Start(ctx, "Get",
		trace.WithAttributes(attribute.String("user.id", userID)),
	)
	defer span.End()

	return repo.EnsureProfile(ctx, s.DB, userID)
}

// SetSubscription updates the caller's tier. Premium may carry an expiry;
// free always clears it.
func (s *ProfileService) SetSubscription(ctx context.Context, userID string, tier domain.Tier, expiresAt *time.Time) (*domain.UserProfile, error) {
	tr := otel.Tracer("services/ProfileService")
	ctx, span := tr.Start(ctx, "SetSubscription",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.String("subscription.tier", string(tier)),
		),
	)
	defer span.End()

	if !tier.Valid() {
		return nil, ErrInvalidTier
	}
	if tier == domain.TierFree {
		expiresAt = nil
	}
	return repo.SetSubscription(ctx, s.DB, userID, tier, expiresAt)
}
