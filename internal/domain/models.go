// Package domain defines the persistence models for story runs, steps,
// rate-limit counters, user profiles, and choice statistics. These types
// are mapped with GORM and form the core data layer of the story backend.
package domain

import (
	"time"

	"gorm.io/gorm"

	"github.com/storypath/go-story-backend/internal/story"
)

// Run status values persisted on StoryRun.Status.
const (
	RunStatusActive = "active"
	RunStatusEnded  = "ended"
)

// StoryRun represents one interactive story owned by a user (or a guest
// session). It carries the immutable setup chosen at creation time plus
// the evolving game state snapshot updated after every accepted step.
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - UserID: identifier of the owner; indexed for efficient retrieval.
//   - IsGuest: whether the owner is an anonymous session.
//   - Title: human-readable title (auto-generated from the opening scene).
//   - Genre / Length / Challenge: setup selected when the run was started.
//   - Status: "active" or "ended" (enforced by DB constraint).
//   - GameState: latest accepted game state, serialized as JSON.
//   - StepCount: number of accepted steps; doubles as the next step index.
//   - EndingType: classification of the ending, present once the run ends.
//   - CreatedAt / UpdatedAt: timestamps managed by GORM.
//   - DeletedAt: soft deletion marker (retains row for audit/history).
type StoryRun struct {
	ID         string          `json:"id"         gorm:"type:char(36);primaryKey"`
	UserID     string          `json:"user_id"    gorm:"type:varchar(64);not null;index:idx_user_runs"`
	IsGuest    bool            `json:"is_guest"   gorm:"not null;default:false"`
	Title      string          `json:"title"      gorm:"type:varchar(255);not null;default:'Untitled story'"`
	Genre      string          `json:"genre"      gorm:"type:varchar(16);not null"`
	Length     string          `json:"length"     gorm:"type:varchar(16);not null"`
	Challenge  string          `json:"challenge"  gorm:"type:varchar(16);not null"`
	Status     string          `json:"status"     gorm:"type:varchar(16);not null;default:'active';check:status IN ('active','ended')"`
	GameState  story.GameState `json:"game_state" gorm:"serializer:json;type:text;not null"`
	StepCount  int             `json:"step_count" gorm:"not null;default:0"`
	EndingType *string         `json:"ending_type,omitempty" gorm:"type:varchar(32)"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
	DeletedAt  gorm.DeletedAt  `json:"-"          gorm:"index"`
}

// TableName returns the database table name for StoryRun.
func (StoryRun) TableName() string { return "story_runs" }

// Ended reports whether the run has reached a terminal state.
func (r *StoryRun) Ended() bool { return r.Status == RunStatusEnded }

// StoryStep represents a single accepted generation inside a run: the
// narrative text shown to the player, the choices offered afterwards, and
// the game state snapshot the step produced. Steps are immutable once
// written.
//
// Fields:
//   - ID: UUID primary key (char(36)).
//   - RunID: foreign key to the owning run (indexed with Index).
//   - Index: zero-based position of the step within the run.
//   - StoryText: narrative text of the scene.
//   - Choices: choices offered to the player, serialized as JSON. Empty
//     on ending steps.
//   - GameState: game state snapshot after this step, serialized as JSON.
//   - IsEnding / EndingType: terminal-step markers.
//   - ChosenSlug: slug of the choice that led to this step (nil for the
//     opening step).
//   - Repaired: whether any part of the payload was rebuilt by the
//     validator before acceptance.
//   - CreatedAt / UpdatedAt: timestamps managed by GORM.
//   - DeletedAt: soft deletion marker.
//   - Run: FK association, ensures cascade delete/update.
type StoryStep struct {
	ID         string          `json:"id"         gorm:"type:char(36);primaryKey"`
	RunID      string          `json:"run_id"     gorm:"type:char(36);not null;index:idx_run_steps,priority:1"`
	Index      int             `json:"index"      gorm:"column:step_index;not null;index:idx_run_steps,priority:2"`
	StoryText  string          `json:"story_text" gorm:"type:text;not null"`
	Choices    []story.Choice  `json:"choices"    gorm:"serializer:json;type:text"`
	GameState  story.GameState `json:"game_state" gorm:"serializer:json;type:text;not null"`
	IsEnding   bool            `json:"is_ending"  gorm:"not null;default:false"`
	EndingType *string         `json:"ending_type,omitempty" gorm:"type:varchar(32)"`
	ChosenSlug *string         `json:"chosen_slug,omitempty" gorm:"type:varchar(100)"`
	Repaired   bool            `json:"repaired"   gorm:"not null;default:false"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
	DeletedAt  gorm.DeletedAt  `json:"-"          gorm:"index"`

	// Run is the parent story. Steps are cascade-deleted if their run
	// is removed.
	Run StoryRun `json:"-" gorm:"foreignKey:RunID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for StoryStep.
func (StoryStep) TableName() string { return "story_steps" }

// RateLimitRecord is a per-identity, per-UTC-day generation counter. One
// row exists per (identity, day) pair; the counter is incremented with an
// atomic upsert so concurrent requests cannot lose updates.
//
// Fields:
//   - ID: UUID primary key (char(36)).
//   - Identity: user ID or guest session token (unique per day).
//   - Day: UTC calendar day in "YYYY-MM-DD" form (unique per identity).
//   - RequestCount: number of generations performed on that day.
//   - IsGuest: whether the identity is an anonymous session.
//   - CreatedAt / UpdatedAt: timestamps managed by GORM.
type RateLimitRecord struct {
	ID           string    `json:"id"            gorm:"type:char(36);primaryKey"`
	Identity     string    `json:"identity"      gorm:"type:varchar(128);not null;uniqueIndex:ux_identity_day,priority:1"`
	Day          string    `json:"day"           gorm:"type:char(10);not null;uniqueIndex:ux_identity_day,priority:2"`
	RequestCount int       `json:"request_count" gorm:"not null;default:0"`
	IsGuest      bool      `json:"is_guest"      gorm:"not null;default:false"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TableName returns the database table name for RateLimitRecord.
func (RateLimitRecord) TableName() string { return "rate_limit_records" }

// UserProfile stores the subscription standing of a registered user.
// Profiles are provisioned lazily with the free tier on first access;
// guests never have one.
//
// Fields:
//   - ID: the user identifier itself (no surrogate key).
//   - SubscriptionTier: "free" or "premium".
//   - PremiumExpiresAt: optional expiry; a past value downgrades the user
//     to free without rewriting the row.
//   - CreatedAt / UpdatedAt: timestamps managed by GORM.
type UserProfile struct {
	ID               string     `json:"id"                gorm:"type:varchar(64);primaryKey"`
	SubscriptionTier Tier       `json:"subscription_tier" gorm:"type:varchar(16);not null;default:'free';check:subscription_tier IN ('free','premium')"`
	PremiumExpiresAt *time.Time `json:"premium_expires_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// TableName returns the database table name for UserProfile.
func (UserProfile) TableName() string { return "user_profiles" }

// EffectiveTier resolves the tier the profile grants at the given instant,
// collapsing expired premium subscriptions to free.
func (p *UserProfile) EffectiveTier(now time.Time) Tier {
	if p.SubscriptionTier == TierPremium {
		if p.PremiumExpiresAt == nil || p.PremiumExpiresAt.After(now) {
			return TierPremium
		}
		return TierFree
	}
	return TierFree
}

// ChoiceStat aggregates how often a choice slug was offered to players and
// how often it was actually picked, per genre. Counters only grow.
//
// Fields:
//   - ID: UUID primary key (char(36)).
//   - Genre: genre the slug was observed in (unique with Slug).
//   - Slug: stable machine identifier of the choice.
//   - TimesOffered / TimesChosen: monotonic counters.
//   - CreatedAt / UpdatedAt: timestamps managed by GORM.
type ChoiceStat struct {
	ID           string    `json:"id"            gorm:"type:char(36);primaryKey"`
	Genre        string    `json:"genre"         gorm:"type:varchar(16);not null;uniqueIndex:ux_genre_slug,priority:1"`
	Slug         string    `json:"slug"          gorm:"type:varchar(100);not null;uniqueIndex:ux_genre_slug,priority:2"`
	TimesOffered int64     `json:"times_offered" gorm:"not null;default:0"`
	TimesChosen  int64     `json:"times_chosen"  gorm:"not null;default:0"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TableName returns the database table name for ChoiceStat.
func (ChoiceStat) TableName() string { return "choice_stats" }
