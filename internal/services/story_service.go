// Package services – StoryService
//
// This file implements StoryService, the application-level component that
// owns story runs and their steps. It validates inputs, consults the
// LimitService gates, drives content generation through the retry
// orchestrator, and persists the accepted step atomically together with
// the run snapshot and choice statistics.
//
// Optional enhancement: it also auto-generates a run title from the first
// accepted scene when the run still has a default/empty title.
//
// Observability: public methods are OpenTelemetry-instrumented; spans
// include run/user identifiers and pagination parameters where applicable.

package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gorm.io/gorm"

	"github.com/storypath/go-story-backend/internal/ai"
	"github.com/storypath/go-story-backend/internal/domain"
	"github.com/storypath/go-story-backend/internal/repo"
	"github.com/storypath/go-story-backend/internal/story"
)

const (
	// default titles we consider “placeholder” and eligible for auto-generation
	defaultTitleUntitled = "Untitled story"
	defaultTitleNew      = "New story"
)

// StartRequest is the setup for a new run.
type StartRequest struct {
	Genre     story.Genre
	Length    story.Length
	Challenge story.Challenge
}

// StoryService coordinates run lifecycle and step generation.
type StoryService struct {
	DB       *gorm.DB
	Producer ai.Producer
	Limits   *LimitService

	// Retry budget for generation; zero values fall back to the story
	// package defaults.
	MaxRetries int
	RetryDelay time.Duration

	// Title generation config
	TitleLocale language.Tag
	TitleMaxLen int
}

// Start opens a new run for the caller: gates first, then one generated
// opening step, then run + step persisted in a single transaction.
func (s *StoryService) Start(ctx context.Context, identity string, isGuest bool, req StartRequest) (*domain.StoryRun, *domain.StoryStep, error) {
	tr := otel.Tracer("services/StoryService")
	ctx, span := tr.Start(ctx, "Start",
		trace.WithAttributes(
			attribute.String("user.id", identity),
			attribute.String("story.genre", string(req.Genre)),
			attribute.String("story.length", string(req.Length)),
		),
	)
	defer span.End()

	if !req.Challenge.Valid() {
		return nil, nil, ErrInvalidChallenge
	}
	if err := s.Limits.ValidateStoryRequest(ctx, identity, isGuest, req.Genre, req.Length); err != nil {
		return nil, nil, err
	}
	if d := s.Limits.EnforceRateLimit(ctx, identity, isGuest); !d.Allowed {
		return nil, nil, &QuotaExceededError{Limit: d.Limit, ResetTime: d.ResetTime}
	}

	state := story.DefaultGameState()
	resp, repaired, err := s.generate(ctx, ai.StepPrompt{
		Genre:     string(req.Genre),
		Length:    string(req.Length),
		Challenge: string(req.Challenge),
		StepIndex: 0,
		State:     state,
	})
	if err != nil {
		return nil, nil, err
	}

	var (
		run  *domain.StoryRun
		step *domain.StoryStep
	)
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var terr error
		title := s.clipTitle(s.generateTitleFromScene(resp.StoryText))
		if title == "" {
			title = defaultTitleUntitled
		}
		run, terr = repo.CreateRun(ctx, tx, identity, isGuest, title, string(req.Genre), string(req.Length), string(req.Challenge), state)
		if terr != nil {
			return terr
		}
		step, terr = repo.CreateStep(ctx, tx, run.ID, 0, resp, nil, repaired)
		if terr != nil {
			return terr
		}
		if terr = repo.ApplyStepResult(ctx, tx, run.ID, resp.GameState, resp.IsEnding, resp.EndingType); terr != nil {
			return terr
		}
		return repo.BumpOffered(ctx, tx, string(req.Genre), choiceSlugs(resp.Choices))
	})
	if err != nil {
		return nil, nil, err
	}

	run.GameState = resp.GameState
	run.StepCount = 1
	if resp.IsEnding {
		run.Status = domain.RunStatusEnded
		run.EndingType = resp.EndingType
	}
	return run, step, nil
}

// Advance submits a choice against the run's latest step and generates
// the next one. The chosen slug must be among the options that step
// actually offered.
func (s *StoryService) Advance(ctx context.Context, identity string, isGuest bool, runID, slug string) (*domain.StoryStep, error) {
	tr := otel.Tracer("services/StoryService")
	ctx, span := tr.Start(ctx, "Advance",
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.String("user.id", identity),
			attribute.String("choice.slug", slug),
		),
	)
	defer span.End()

	run, err := repo.GetRun(ctx, s.DB, runID, identity)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrRunNotFound
		}
		return nil, err
	}
	if run.Ended() {
		return nil, ErrRunEnded
	}

	last, err := repo.GetLastStep(ctx, s.DB, run.ID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrStepNotFound
		}
		return nil, err
	}
	chosen := findChoice(last.Choices, slug)
	if chosen == nil {
		return nil, ErrInvalidChoice
	}

	// Setup gates are re-checked on every generation: a lapsed premium
	// subscription stops an extended horror run mid-flight.
	if err := s.Limits.ValidateStoryRequest(ctx, identity, isGuest, story.Genre(run.Genre), story.Length(run.Length)); err != nil {
		return nil, err
	}
	if d := s.Limits.EnforceRateLimit(ctx, identity, isGuest); !d.Allowed {
		return nil, &QuotaExceededError{Limit: d.Limit, ResetTime: d.ResetTime}
	}

	resp, repaired, err := s.generate(ctx, ai.StepPrompt{
		Genre:      run.Genre,
		Length:     run.Length,
		Challenge:  run.Challenge,
		StepIndex:  run.StepCount,
		PrevText:   last.StoryText,
		ChosenText: chosen.Text,
		ChosenSlug: chosen.Slug,
		State:      run.GameState,
	})
	if err != nil {
		return nil, err
	}
	resp.GameState = mergeState(run.GameState, resp.GameState)

	var step *domain.StoryStep
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var terr error
		step, terr = repo.CreateStep(ctx, tx, run.ID, run.StepCount, resp, &chosen.Slug, repaired)
		if terr != nil {
			return terr
		}
		if terr = repo.ApplyStepResult(ctx, tx, run.ID, resp.GameState, resp.IsEnding, resp.EndingType); terr != nil {
			return terr
		}
		if terr = repo.BumpChosen(ctx, tx, run.Genre, chosen.Slug); terr != nil {
			return terr
		}
		return repo.BumpOffered(ctx, tx, run.Genre, choiceSlugs(resp.Choices))
	})
	if err != nil {
		return nil, err
	}
	return step, nil
}

// Get returns a run owned by the caller.
func (s *StoryService) Get(ctx context.Context, identity, runID string) (*domain.StoryRun, error) {
	run, err := repo.GetRun(ctx, s.DB, runID, identity)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrRunNotFound
		}
		return nil, err
	}
	return run, nil
}

// ListPage returns paginated runs for the caller.
func (s *StoryService) ListPage(ctx context.Context, identity string, page, pageSize int) ([]domain.StoryRun, int64, error) {
	tr := otel.Tracer("services/StoryService")
	ctx, span := tr.Start(ctx, "ListPage",
		trace.WithAttributes(
			attribute.String("user.id", identity),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	_, pageSize, offset := normalizePage(page, pageSize)

	total, err := repo.CountRuns(ctx, s.DB, identity)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.StoryRun{}, 0, nil
	}
	items, err := repo.ListRunsPage(ctx, s.DB, identity, offset, pageSize)
	return items, total, err
}

// StepsPage returns paginated steps of a run in play order.
func (s *StoryService) StepsPage(ctx context.Context, identity, runID string, page, pageSize int) ([]domain.StoryStep, int64, error) {
	tr := otel.Tracer("services/StoryService")
	ctx, span := tr.Start(ctx, "StepsPage",
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	if _, err := repo.GetRun(ctx, s.DB, runID, identity); err != nil {
		return nil, 0, ErrRunNotFound
	}

	_, pageSize, offset := normalizePage(page, pageSize)
	total, err := repo.CountSteps(ctx, s.DB, runID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.StoryStep{}, 0, nil
	}
	items, err := repo.ListStepsPage(ctx, s.DB, runID, offset, pageSize)
	return items, total, err
}

// generate runs the producer through the validation/retry loop and
// reports whether the accepted payload needed repair.
func (s *StoryService) generate(ctx context.Context, p ai.StepPrompt) (story.StoryResponse, bool, error) {
	res, attempts := story.ValidateWithRetry(ctx,
		func(ctx context.Context) (any, error) { return s.Producer.GenerateStep(ctx, p) },
		story.ValidateStoryResponse,
		story.RetryOptions{
			MaxRetries: s.MaxRetries,
			RetryDelay: s.RetryDelay,
			OnRetry: func(attempt int, errs []string) {
				log.Warn().
					Int("attempt", attempt).
					Strs("errors", errs).
					Str("genre", p.Genre).
					Msg("story generation attempt rejected; retrying")
			},
			OnFinalFailure: func(errs []string) {
				log.Error().
					Strs("errors", errs).
					Str("genre", p.Genre).
					Msg("story generation failed permanently")
			},
		},
	)
	if !res.Success || res.Data == nil {
		return story.StoryResponse{}, false, fmt.Errorf("%w after %d attempts: %s",
			ErrGenerationFailed, len(attempts), strings.Join(res.Errors, "; "))
	}
	// A successful result that still carries entries was repaired.
	return *res.Data, len(res.Errors) > 0, nil
}

// mergeState folds a freshly generated state onto the run's previous one.
// Flags are append-only for the life of a run and the act never moves
// backwards; everything else the validated payload says, goes.
func mergeState(prev, next story.GameState) story.GameState {
	merged := next
	merged.Flags = unionFlags(prev.Flags, next.Flags)
	if next.Act < prev.Act {
		merged.Act = prev.Act
	}
	return merged
}

func unionFlags(prev, next []string) []string {
	out := make([]string, 0, len(prev)+len(next))
	seen := make(map[string]struct{}, len(prev)+len(next))
	for _, f := range prev {
		if _, ok := seen[f]; !ok {
			seen[f] = struct{}{}
			out = append(out, f)
		}
	}
	for _, f := range next {
		if _, ok := seen[f]; !ok {
			seen[f] = struct{}{}
			out = append(out, f)
		}
	}
	return out
}

func findChoice(choices []story.Choice, slug string) *story.Choice {
	for i := range choices {
		if choices[i].Slug == slug {
			return &choices[i]
		}
	}
	return nil
}

func choiceSlugs(choices []story.Choice) []string {
	out := make([]string, 0, len(choices))
	for _, c := range choices {
		out = append(out, c.Slug)
	}
	return out
}

func normalizePage(page, pageSize int) (int, int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	return page, pageSize, (page - 1) * pageSize
}

// --- Title generation ---

// titleWordRE: words (letters/digits) pulled from the opening scene.
var titleWordRE = regexp.MustCompile(`[\p{L}\p{N}]+`)

var titleStopWords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "and": {}, "or": {}, "of": {}, "to": {}, "in": {},
	"is": {}, "are": {}, "for": {}, "on": {}, "with": {}, "by": {}, "from": {},
	"at": {}, "as": {}, "that": {}, "this": {}, "it": {}, "be": {}, "was": {}, "were": {},
}

// generateTitleFromScene derives a concise title from the opening scene.
func (s *StoryService) generateTitleFromScene(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	// Title from the first sentence only; openings often run long.
	if i := strings.IndexAny(text, ".!?\n"); i > 0 {
		text = text[:i]
	}
	toks := titleWordRE.FindAllString(strings.ToLower(text), -1)
	if len(toks) == 0 {
		return ""
	}

	titleCaser := cases.Title(s.TitleLocaleOrDefault())
	out := make([]string, 0, 8)
	for _, w := range toks {
		if _, skip := titleStopWords[w]; skip {
			continue
		}
		out = append(out, titleCaser.String(w))
		if len(out) >= 8 {
			break
		}
	}
	if len(out) == 0 {
		return ""
	}
	return strings.Join(out, " ")
}

// clipTitle truncates a generated title to the configured maximum rune length.
func (s *StoryService) clipTitle(title string) string {
	max := s.TitleMaxLen
	if max <= 0 {
		max = 60
	}
	if utf8.RuneCountInString(title) > max {
		return string([]rune(title)[:max])
	}
	return title
}

// TitleLocaleOrDefault returns the configured locale for casing or English if unset.
func (s *StoryService) TitleLocaleOrDefault() language.Tag {
	if s.TitleLocale == language.Und {
		return language.English
	}
	return s.TitleLocale
}
