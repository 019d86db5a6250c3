// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the StoryRun
// and StoryStep models.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
// They follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition.
//
// Error semantics:
//   - When a record is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - On DB errors (constraint violations, connectivity issues, etc.),
//     the raw gorm error is propagated.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/storypath/go-story-backend/internal/domain"
	"github.com/storypath/go-story-backend/internal/story"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// CreateRun inserts a new StoryRun owned by userID with the given setup.
// The run ID is a randomly generated UUID (string), and CreatedAt is set
// to UTC. The run starts active with a zero step count.
func CreateRun(ctx context.Context, db *gorm.DB, userID string, isGuest bool, title, genre, length, challenge string, state story.GameState) (*domain.StoryRun, error) {
	r := &domain.StoryRun{
		ID:        uuid.NewString(),
		UserID:    userID,
		IsGuest:   isGuest,
		Title:     title,
		Genre:     genre,
		Length:    length,
		Challenge: challenge,
		Status:    domain.RunStatusActive,
		GameState: state,
		CreatedAt: time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(r).Error; err != nil {
		return nil, err
	}
	return r, nil
}

// GetRun fetches a single run by its ID and owner (userID). If the record
// does not exist, it returns ErrNotFound.
func GetRun(ctx context.Context, db *gorm.DB, id, userID string) (*domain.StoryRun, error) {
	var r domain.StoryRun
	err := db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		First(&r).Error
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// CountRuns returns the total number of runs owned by userID.
func CountRuns(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.StoryRun{}).
		Where("user_id = ?", userID).
		Count(&total).Error
	return total, err
}

// ListRunsPage returns a paginated slice of runs for userID, ordered by
// creation time descending. Use CountRuns to obtain the total for pagination
// metadata.
//
// The caller is responsible for computing offset and limit (e.g., (page-1)*pageSize).
func ListRunsPage(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.StoryRun, error) {
	var out []domain.StoryRun
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at desc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// RunsStats returns the run count and the update time of the most recently
// touched run for userID. Handlers use the pair to derive weak ETags for
// list responses.
func RunsStats(ctx context.Context, db *gorm.DB, userID string) (int64, time.Time, error) {
	var total int64
	if err := db.WithContext(ctx).
		Model(&domain.StoryRun{}).
		Where("user_id = ?", userID).
		Count(&total).Error; err != nil {
		return 0, time.Time{}, err
	}
	if total == 0 {
		return 0, time.Time{}, nil
	}
	// The pure-Go sqlite driver returns aggregates like MAX(updated_at) as
	// strings, so pick the newest row instead of scanning an aggregate.
	var newest domain.StoryRun
	if err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("updated_at DESC").
		Select("updated_at").
		Take(&newest).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return total, time.Time{}, nil
		}
		return 0, time.Time{}, err
	}
	return total, newest.UpdatedAt.UTC(), nil
}

// UpdateRunTitle sets the title of a run, enforcing user ownership.
// Returns ErrNotFound if no row is affected.
func UpdateRunTitle(ctx context.Context, db *gorm.DB, id, userID, title string) error {
	res := db.WithContext(ctx).
		Model(&domain.StoryRun{}).
		Where("id = ? AND user_id = ?", id, userID).
		Update("title", title)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ApplyStepResult advances the run snapshot after an accepted step: new
// game state, incremented step count, and terminal status when the step
// ended the story. Returns ErrNotFound if the run is missing.
func ApplyStepResult(ctx context.Context, db *gorm.DB, id string, state story.GameState, ended bool, endingType *string) error {
	// Struct update so the JSON serializer runs for game_state; the
	// counter bump is a separate expression on the same row.
	run := domain.StoryRun{GameState: state}
	cols := []string{"game_state", "updated_at"}
	if ended {
		run.Status = domain.RunStatusEnded
		run.EndingType = endingType
		cols = append(cols, "status", "ending_type")
	}
	res := db.WithContext(ctx).
		Model(&domain.StoryRun{}).
		Where("id = ?", id).
		Select(cols).
		Updates(&run)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return db.WithContext(ctx).
		Model(&domain.StoryRun{}).
		Where("id = ?", id).
		Update("step_count", gorm.Expr("step_count + 1")).Error
}

// CreateStep inserts an accepted step. The caller supplies the zero-based
// index; IDs and timestamps are generated here.
func CreateStep(ctx context.Context, db *gorm.DB, runID string, index int, resp story.StoryResponse, chosenSlug *string, repaired bool) (*domain.StoryStep, error) {
	s := &domain.StoryStep{
		ID:         uuid.NewString(),
		RunID:      runID,
		Index:      index,
		StoryText:  resp.StoryText,
		Choices:    resp.Choices,
		GameState:  resp.GameState,
		IsEnding:   resp.IsEnding,
		EndingType: resp.EndingType,
		ChosenSlug: chosenSlug,
		Repaired:   repaired,
		CreatedAt:  time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(s).Error; err != nil {
		return nil, err
	}
	return s, nil
}

// GetStep fetches a single step by ID.
func GetStep(ctx context.Context, db *gorm.DB, id string) (*domain.StoryStep, error) {
	var s domain.StoryStep
	if err := db.WithContext(ctx).Where("id = ?", id).First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

// GetLastStep returns the step with the highest index in a run, or
// ErrNotFound for a run without steps.
func GetLastStep(ctx context.Context, db *gorm.DB, runID string) (*domain.StoryStep, error) {
	var s domain.StoryStep
	err := db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("step_index desc").
		First(&s).Error
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// CountSteps returns the number of steps recorded for a run.
func CountSteps(ctx context.Context, db *gorm.DB, runID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.StoryStep{}).
		Where("run_id = ?", runID).
		Count(&total).Error
	return total, err
}

// ListStepsPage returns a paginated slice of steps for a run in play order.
func ListStepsPage(ctx context.Context, db *gorm.DB, runID string, offset, limit int) ([]domain.StoryStep, error) {
	var out []domain.StoryStep
	err := db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("step_index asc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}
