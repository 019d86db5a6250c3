// Package services – LimitService
//
// This file implements LimitService, the component that decides whether a
// generation request may proceed: the daily quota check backed by the
// per-day counter table, and the premium feature gate for genres and
// lengths reserved for subscribers.
//
// Failure policy: quota enforcement FAILS OPEN. If the counter storage is
// unreachable the request is allowed and the incident is logged; players
// are never locked out of the product by a database hiccup. The premium
// gate takes the opposite stance: when the subscription tier cannot be
// established, premium features stay locked.
package services

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/storypath/go-story-backend/internal/domain"
	"github.com/storypath/go-story-backend/internal/repo"
	"github.com/storypath/go-story-backend/internal/story"
)

// Default daily generation allowances per tier.
const (
	DefaultGuestDaily   = 3
	DefaultFreeDaily    = 10
	DefaultPremiumDaily = 100
)

// LimitConfig holds the per-tier daily allowances.
type LimitConfig struct {
	GuestDaily   int
	FreeDaily    int
	PremiumDaily int
}

// Decision is the outcome of a quota check. ResetTime is the next UTC
// midnight, when the day bucket rolls over.
type Decision struct {
	Allowed   bool        `json:"allowed"`
	Tier      domain.Tier `json:"tier"`
	Limit     int         `json:"limit"`
	Used      int         `json:"used"`
	Remaining int         `json:"remaining"`
	ResetTime time.Time   `json:"reset_time"`
}

// LimitService enforces daily quotas and premium feature gates.
type LimitService struct {
	DB     *gorm.DB
	Limits LimitConfig

	// Now overrides the clock in tests; nil means time.Now.
	Now func() time.Time
}

func (s *LimitService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *LimitService) limitFor(tier domain.Tier) int {
	switch tier {
	case domain.TierPremium:
		return orDefault(s.Limits.PremiumDaily, DefaultPremiumDaily)
	case domain.TierGuest:
		return orDefault(s.Limits.GuestDaily, DefaultGuestDaily)
	default:
		return orDefault(s.Limits.FreeDaily, DefaultFreeDaily)
	}
}

func orDefault(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

// nextUTCMidnight returns the instant the current UTC day bucket expires.
func nextUTCMidnight(now time.Time) time.Time {
	now = now.UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).Add(24 * time.Hour)
}

// dayBucket formats the UTC calendar day used as the counter key.
func dayBucket(now time.Time) string {
	return now.UTC().Format("2006-01-02")
}

// ResolveTier classifies the caller. Guests never have a profile; for
// registered users the stored subscription applies, with expired premium
// collapsing to free. Lookup failures also resolve to free so premium
// features are never granted on a read error.
func (s *LimitService) ResolveTier(ctx context.Context, identity string, isGuest bool) domain.Tier {
	if isGuest {
		return domain.TierGuest
	}
	p, err := repo.GetProfile(ctx, s.DB, identity)
	if err != nil {
		return domain.TierFree
	}
	return p.EffectiveTier(s.now())
}

// EnforceRateLimit consumes one unit of the caller's daily allowance and
// reports whether the request may proceed. The counter is bumped with an
// atomic upsert, so concurrent requests near the limit cannot both sneak
// under it. Storage errors fail open.
func (s *LimitService) EnforceRateLimit(ctx context.Context, identity string, isGuest bool) Decision {
	tr := otel.Tracer("services/LimitService")
	ctx, span := tr.Start(ctx, "EnforceRateLimit",
		trace.WithAttributes(
			attribute.String("limit.identity", identity),
			attribute.Bool("limit.guest", isGuest),
		),
	)
	defer span.End()

	now := s.now()
	tier := s.ResolveTier(ctx, identity, isGuest)
	limit := s.limitFor(tier)
	reset := nextUTCMidnight(now)

	count, err := repo.IncrementDailyCount(ctx, s.DB, identity, dayBucket(now), isGuest)
	if err != nil {
		log.Warn().Err(err).
			Str("identity", identity).
			Str("tier", string(tier)).
			Msg("rate limit storage unavailable; allowing request")
		return Decision{Allowed: true, Tier: tier, Limit: limit, Used: 0, Remaining: limit, ResetTime: reset}
	}

	d := Decision{
		Tier:      tier,
		Limit:     limit,
		Used:      count,
		ResetTime: reset,
	}
	if count > limit {
		d.Allowed = false
		d.Remaining = 0
		return d
	}
	d.Allowed = true
	d.Remaining = limit - count
	return d
}

// Snapshot reports the caller's current quota standing without consuming
// any of it.
func (s *LimitService) Snapshot(ctx context.Context, identity string, isGuest bool) (Decision, error) {
	now := s.now()
	tier := s.ResolveTier(ctx, identity, isGuest)
	limit := s.limitFor(tier)

	count, err := repo.GetDailyCount(ctx, s.DB, identity, dayBucket(now))
	if err != nil {
		return Decision{}, err
	}
	used := count
	remaining := limit - used
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   used < limit,
		Tier:      tier,
		Limit:     limit,
		Used:      used,
		Remaining: remaining,
		ResetTime: nextUTCMidnight(now),
	}, nil
}

// ValidateStoryRequest checks that the requested setup is well-formed and
// permitted for the caller's tier. Premium-only genres and the extended
// length require an active premium subscription.
func (s *LimitService) ValidateStoryRequest(ctx context.Context, identity string, isGuest bool, genre story.Genre, length story.Length) error {
	if !genre.Valid() {
		return ErrInvalidGenre
	}
	if !length.Valid() {
		return ErrInvalidLength
	}

	needsPremium := genre.PremiumOnly() || length.PremiumOnly()
	if !needsPremium {
		return nil
	}
	if s.ResolveTier(ctx, identity, isGuest) == domain.TierPremium {
		return nil
	}
	if genre.PremiumOnly() {
		return &PremiumRequiredError{Feature: "genre", Value: string(genre)}
	}
	return &PremiumRequiredError{Feature: "length", Value: string(length)}
}
