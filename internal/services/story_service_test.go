package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/storypath/go-story-backend/internal/ai"
	"github.com/storypath/go-story-backend/internal/domain"
	"github.com/storypath/go-story-backend/internal/story"
)

// scriptedProducer returns queued payloads (or errors) in order, recording
// every prompt it was asked for.
type scriptedProducer struct {
	payloads []any
	errs     []error
	calls    int
	prompts  []ai.StepPrompt
}

func (p *scriptedProducer) GenerateStep(_ context.Context, prompt ai.StepPrompt) (any, error) {
	i := p.calls
	p.calls++
	p.prompts = append(p.prompts, prompt)
	if i < len(p.errs) && p.errs[i] != nil {
		return nil, p.errs[i]
	}
	if i < len(p.payloads) {
		return p.payloads[i], nil
	}
	return nil, errors.New("producer script exhausted")
}

func validPayload(slugs ...string) map[string]any {
	if len(slugs) == 0 {
		slugs = []string{"go_left", "go_right"}
	}
	choices := make([]any, 0, len(slugs))
	for i, s := range slugs {
		choices = append(choices, map[string]any{
			"id":   string(rune('A' + i)),
			"text": "Option " + s,
			"slug": s,
		})
	}
	return map[string]any{
		"story_text": "Rain hammers the tin roof of the old observatory.",
		"choices":    choices,
		"game_state": map[string]any{
			"act":           1,
			"flags":         []any{"arrived"},
			"relationships": map[string]any{},
			"inventory":     []any{},
			"personality_traits": map[string]any{
				"risk_taking": 50, "empathy": 50, "pragmatism": 50, "creativity": 50, "leadership": 50,
			},
		},
		"is_ending": false,
	}
}

func newStoryEnv(t *testing.T, producer ai.Producer) (*StoryService, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := db.AutoMigrate(&domain.StoryRun{}, &domain.StoryStep{}, &domain.RateLimitRecord{}, &domain.UserProfile{}, &domain.ChoiceStat{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	limits := &LimitService{DB: db}
	return &StoryService{
		DB:         db,
		Producer:   producer,
		Limits:     limits,
		MaxRetries: 2,
		RetryDelay: time.Millisecond,
	}, db
}

func startReq() StartRequest {
	return StartRequest{Genre: story.GenreFantasy, Length: story.LengthStandard, Challenge: story.ChallengeCasual}
}

func TestStart_PersistsRunAndOpeningStep(t *testing.T) {
	prod := &scriptedProducer{payloads: []any{validPayload()}}
	svc, db := newStoryEnv(t, prod)
	ctx := context.Background()

	run, step, err := svc.Start(ctx, "u1", false, startReq())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if run.StepCount != 1 || run.Status != domain.RunStatusActive {
		t.Fatalf("run = %+v", run)
	}
	if step.Index != 0 || step.ChosenSlug != nil || step.Repaired {
		t.Fatalf("step = %+v", step)
	}
	if run.Title == "" || run.Title == "Untitled story" {
		t.Fatalf("expected auto-generated title, got %q", run.Title)
	}

	// Offered slugs were counted.
	var stats []domain.ChoiceStat
	if err := db.Find(&stats).Error; err != nil {
		t.Fatalf("load stats: %v", err)
	}
	if len(stats) != 2 {
		t.Fatalf("stat rows = %d; want 2", len(stats))
	}
	for _, s := range stats {
		if s.TimesOffered != 1 || s.TimesChosen != 0 {
			t.Fatalf("stat = %+v", s)
		}
	}

	if prod.prompts[0].StepIndex != 0 || prod.prompts[0].Genre != "fantasy" {
		t.Fatalf("prompt = %+v", prod.prompts[0])
	}
}

func TestStart_RetriesThenSucceeds(t *testing.T) {
	prod := &scriptedProducer{payloads: []any{"not json at all", validPayload()}}
	svc, _ := newStoryEnv(t, prod)

	_, step, err := svc.Start(context.Background(), "u1", false, startReq())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if prod.calls != 2 {
		t.Fatalf("producer calls = %d; want 2", prod.calls)
	}
	if step.Repaired {
		t.Fatal("clean second attempt should not be marked repaired")
	}
}

func TestStart_RepairedPayloadMarksStep(t *testing.T) {
	payload := validPayload()
	// Strip the id from one choice; the validator rebuilds it.
	payload["choices"].([]any)[1].(map[string]any)["id"] = nil
	prod := &scriptedProducer{payloads: []any{payload}}
	svc, _ := newStoryEnv(t, prod)

	_, step, err := svc.Start(context.Background(), "u1", false, startReq())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if !step.Repaired {
		t.Fatal("expected repaired step")
	}
}

func TestStart_GenerationFailureAfterBudget(t *testing.T) {
	prod := &scriptedProducer{payloads: []any{"garbage", "more garbage"}}
	svc, db := newStoryEnv(t, prod)

	_, _, err := svc.Start(context.Background(), "u1", false, startReq())
	if !errors.Is(err, ErrGenerationFailed) {
		t.Fatalf("err = %v; want ErrGenerationFailed", err)
	}
	if prod.calls != 2 {
		t.Fatalf("producer calls = %d; want full budget", prod.calls)
	}

	// Nothing persisted.
	var n int64
	db.Model(&domain.StoryRun{}).Count(&n)
	if n != 0 {
		t.Fatalf("runs persisted on failure: %d", n)
	}
}

func TestStart_InvalidSetup(t *testing.T) {
	svc, _ := newStoryEnv(t, &scriptedProducer{})

	_, _, err := svc.Start(context.Background(), "u1", false, StartRequest{Genre: "western", Length: story.LengthQuick, Challenge: story.ChallengeCasual})
	if !errors.Is(err, ErrInvalidGenre) {
		t.Fatalf("err = %v; want ErrInvalidGenre", err)
	}

	_, _, err = svc.Start(context.Background(), "u1", false, StartRequest{Genre: story.GenreFantasy, Length: story.LengthQuick, Challenge: "brutal"})
	if !errors.Is(err, ErrInvalidChallenge) {
		t.Fatalf("err = %v; want ErrInvalidChallenge", err)
	}

	var pre *PremiumRequiredError
	_, _, err = svc.Start(context.Background(), "guest:a", true, StartRequest{Genre: story.GenreHorror, Length: story.LengthQuick, Challenge: story.ChallengeCasual})
	if !errors.As(err, &pre) {
		t.Fatalf("err = %v; want PremiumRequiredError", err)
	}
}

func TestStart_QuotaDenied(t *testing.T) {
	payloads := make([]any, 0, DefaultGuestDaily)
	for i := 0; i < DefaultGuestDaily; i++ {
		payloads = append(payloads, validPayload())
	}
	prod := &scriptedProducer{payloads: payloads}
	svc, _ := newStoryEnv(t, prod)
	ctx := context.Background()

	for i := 0; i < DefaultGuestDaily; i++ {
		if _, _, err := svc.Start(ctx, "guest:q", true, startReq()); err != nil {
			t.Fatalf("start %d: %v", i+1, err)
		}
	}

	var quota *QuotaExceededError
	_, _, err := svc.Start(ctx, "guest:q", true, startReq())
	if !errors.As(err, &quota) {
		t.Fatalf("err = %v; want QuotaExceededError", err)
	}
	if quota.Limit != DefaultGuestDaily || quota.ResetTime.IsZero() {
		t.Fatalf("quota error = %+v", quota)
	}
	if prod.calls != DefaultGuestDaily {
		t.Fatalf("producer called %d times; the denied request must not generate", prod.calls)
	}
}

func TestAdvance_HappyPath_MergesState(t *testing.T) {
	next := validPayload("press_on", "turn_back")
	ns := next["game_state"].(map[string]any)
	ns["act"] = 2
	ns["flags"] = []any{"arrived", "met_keeper"}
	prod := &scriptedProducer{payloads: []any{validPayload(), next}}
	svc, db := newStoryEnv(t, prod)
	ctx := context.Background()

	run, _, err := svc.Start(ctx, "u1", false, startReq())
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	step, err := svc.Advance(ctx, "u1", false, run.ID, "go_left")
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if step.Index != 1 || step.ChosenSlug == nil || *step.ChosenSlug != "go_left" {
		t.Fatalf("step = %+v", step)
	}

	got, err := svc.Get(ctx, "u1", run.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.StepCount != 2 || got.GameState.Act != 2 {
		t.Fatalf("run after advance = %+v", got)
	}
	if len(got.GameState.Flags) != 2 {
		t.Fatalf("flags = %v; want append-only union", got.GameState.Flags)
	}

	// Prompt carried the previous scene and the chosen option.
	p := prod.prompts[1]
	if p.ChosenSlug != "go_left" || p.StepIndex != 1 || p.PrevText == "" {
		t.Fatalf("advance prompt = %+v", p)
	}

	// Chosen counter bumped exactly once.
	var stat domain.ChoiceStat
	if err := db.Where("slug = ?", "go_left").First(&stat).Error; err != nil {
		t.Fatalf("load stat: %v", err)
	}
	if stat.TimesChosen != 1 {
		t.Fatalf("times_chosen = %d; want 1", stat.TimesChosen)
	}
}

func TestAdvance_InvalidChoiceAndOwnership(t *testing.T) {
	prod := &scriptedProducer{payloads: []any{validPayload()}}
	svc, _ := newStoryEnv(t, prod)
	ctx := context.Background()

	run, _, err := svc.Start(ctx, "u1", false, startReq())
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	if _, err := svc.Advance(ctx, "u1", false, run.ID, "не_вариант"); !errors.Is(err, ErrInvalidChoice) {
		t.Fatalf("err = %v; want ErrInvalidChoice", err)
	}
	if _, err := svc.Advance(ctx, "someone-else", false, run.ID, "go_left"); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("err = %v; want ErrRunNotFound", err)
	}
	if _, err := svc.Advance(ctx, "u1", false, "missing-run", "go_left"); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("err = %v; want ErrRunNotFound", err)
	}
}

func TestAdvance_DBErrorIsNotMaskedAsNotFound(t *testing.T) {
	prod := &scriptedProducer{payloads: []any{validPayload()}}
	svc, db := newStoryEnv(t, prod)
	ctx := context.Background()

	run, _, err := svc.Start(ctx, "u1", false, startReq())
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	// Break the connection: lookups now fail with an infrastructure error,
	// which must surface instead of reading as a missing run.
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db.DB(): %v", err)
	}
	_ = sqlDB.Close()

	_, err = svc.Advance(ctx, "u1", false, run.ID, "go_left")
	if err == nil {
		t.Fatalf("expected error from closed database")
	}
	if errors.Is(err, ErrRunNotFound) || errors.Is(err, ErrStepNotFound) {
		t.Fatalf("err = %v; infrastructure failure must not map to not-found", err)
	}
}

func TestAdvance_EndedRunRefusesChoices(t *testing.T) {
	ending := validPayload()
	ending["choices"] = []any{
		map[string]any{"id": "A", "text": "x", "slug": "x"},
		map[string]any{"id": "B", "text": "y", "slug": "y"},
	}
	ending["is_ending"] = true
	ending["ending_type"] = "tragedy"
	prod := &scriptedProducer{payloads: []any{ending}}
	svc, _ := newStoryEnv(t, prod)
	ctx := context.Background()

	run, _, err := svc.Start(ctx, "u1", false, startReq())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if run.Status != domain.RunStatusEnded {
		t.Fatalf("run status = %q; want ended", run.Status)
	}
	if _, err := svc.Advance(ctx, "u1", false, run.ID, "x"); !errors.Is(err, ErrRunEnded) {
		t.Fatalf("err = %v; want ErrRunEnded", err)
	}
}

func TestListPage_And_StepsPage(t *testing.T) {
	payloads := []any{validPayload(), validPayload(), validPayload("a_slug", "b_slug")}
	prod := &scriptedProducer{payloads: payloads}
	svc, _ := newStoryEnv(t, prod)
	ctx := context.Background()

	run1, _, err := svc.Start(ctx, "u1", false, startReq())
	if err != nil {
		t.Fatalf("start 1: %v", err)
	}
	if _, _, err := svc.Start(ctx, "u1", false, startReq()); err != nil {
		t.Fatalf("start 2: %v", err)
	}
	if _, err := svc.Advance(ctx, "u1", false, run1.ID, "go_left"); err != nil {
		t.Fatalf("advance: %v", err)
	}

	runs, total, err := svc.ListPage(ctx, "u1", 1, 10)
	if err != nil || total != 2 || len(runs) != 2 {
		t.Fatalf("list = (%d items, total %d, %v)", len(runs), total, err)
	}

	steps, total, err := svc.StepsPage(ctx, "u1", run1.ID, 1, 10)
	if err != nil || total != 2 || len(steps) != 2 {
		t.Fatalf("steps = (%d items, total %d, %v)", len(steps), total, err)
	}
	if steps[0].Index != 0 || steps[1].Index != 1 {
		t.Fatalf("steps out of order: %d, %d", steps[0].Index, steps[1].Index)
	}

	if _, _, err := svc.StepsPage(ctx, "intruder", run1.ID, 1, 10); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("steps for wrong owner err = %v", err)
	}
}

func TestMergeState(t *testing.T) {
	prev := story.DefaultGameState()
	prev.Act = 2
	prev.Flags = []string{"a", "b"}

	next := story.DefaultGameState()
	next.Act = 1
	next.Flags = []string{"b", "c"}
	next.Inventory = []string{"rope"}

	merged := mergeState(prev, next)
	if merged.Act != 2 {
		t.Fatalf("act = %d; must not move backwards", merged.Act)
	}
	if fmt.Sprint(merged.Flags) != "[a b c]" {
		t.Fatalf("flags = %v; want ordered union", merged.Flags)
	}
	if len(merged.Inventory) != 1 || merged.Inventory[0] != "rope" {
		t.Fatalf("inventory = %v; payload should win", merged.Inventory)
	}
}

func TestGenerateTitleFromScene(t *testing.T) {
	svc := &StoryService{}
	got := svc.generateTitleFromScene("the rain hammers on a tin roof. Nobody moves.")
	if got != "Rain Hammers Tin Roof" {
		t.Fatalf("title = %q", got)
	}
	if svc.generateTitleFromScene("   ") != "" {
		t.Fatal("blank scene should produce no title")
	}

	long := &StoryService{TitleMaxLen: 5}
	if title := long.clipTitle("abcdefgh"); title != "abcde" {
		t.Fatalf("clip = %q", title)
	}
}
