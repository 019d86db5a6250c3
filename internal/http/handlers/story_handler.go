// Story HTTP handlers.
//
// This file exposes REST endpoints for story resources:
//   - POST   /stories                (start a new run)
//   - GET    /stories                (list, paginated, ETag support)
//   - GET    /stories/{id}           (fetch one run)
//   - GET    /stories/{id}/steps     (list steps, paginated)
//   - POST   /stories/{id}/choices   (submit a choice, idempotent)
//   - GET    /limits                 (quota snapshot)
//
// Handlers are transport-thin: they validate input, call application services,
// and translate results into HTTP responses (including conditional responses).
//
// Idempotency:
// If the client supplies an Idempotency-Key header and a previous successful
// choice submission used the same key on the same run, the handler replays the
// recorded step and sets `Idempotency-Replayed: true`.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/storypath/go-story-backend/internal/domain"
	"github.com/storypath/go-story-backend/internal/repo"
	"github.com/storypath/go-story-backend/internal/services"
	"github.com/storypath/go-story-backend/internal/story"
	"github.com/storypath/go-story-backend/internal/utils"
)

//
// Service contracts (context-aware)
//

// StoryService defines run lifecycle operations consumed by HTTP handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type StoryService interface {
	// Start opens a new run and generates its opening step.
	Start(ctx context.Context, identity string, isGuest bool, req services.StartRequest) (*domain.StoryRun, *domain.StoryStep, error)
	// Advance submits a choice against the run's latest step.
	Advance(ctx context.Context, identity string, isGuest bool, runID, slug string) (*domain.StoryStep, error)
	// Get returns a run owned by the caller.
	Get(ctx context.Context, identity, runID string) (*domain.StoryRun, error)
	// ListPage returns a page of the caller's runs and the total count.
	ListPage(ctx context.Context, identity string, page, pageSize int) ([]domain.StoryRun, int64, error)
	// StepsPage returns a page of a run's steps and the total count.
	StepsPage(ctx context.Context, identity, runID string, page, pageSize int) ([]domain.StoryStep, int64, error)
}

// LimitService exposes the quota snapshot consumed by GET /limits.
type LimitService interface {
	Snapshot(ctx context.Context, identity string, isGuest bool) (services.Decision, error)
}

// StatsService serves aggregated choice statistics.
type StatsService interface {
	ChoiceStats(ctx context.Context, genre string, page, pageSize int) ([]services.ChoiceStatView, int64, error)
	Overview(ctx context.Context) (services.OverviewView, error)
}

// ProfileService manages subscription profiles for registered users.
type ProfileService interface {
	Get(ctx context.Context, userID string) (*domain.UserProfile, error)
	SetSubscription(ctx context.Context, userID string, tier domain.Tier, expiresAt *time.Time) (*domain.UserProfile, error)
}

//
// Handler wiring
//

// Handlers groups HTTP endpoints for stories, limits, stats, and profiles.
// It depends on abstract service interfaces to keep transport concerns
// separate from business logic.
type Handlers struct {
	storySvc   StoryService
	limitSvc   LimitService
	statsSvc   StatsService
	profileSvc ProfileService
}

// New constructs and returns a Handlers instance bound to the given services.
func New(storySvc StoryService, limitSvc LimitService, statsSvc StatsService, profileSvc ProfileService) *Handlers {
	return &Handlers{storySvc: storySvc, limitSvc: limitSvc, statsSvc: statsSvc, profileSvc: profileSvc}
}

// identity extracts the caller from Gin context (set by upstream middleware).
// Registered users arrive via "userID" / the X-User-ID header; anonymous
// sessions via the X-Guest-Token header. Without either, the client IP keys
// a guest session so quotas still apply. It never touches c.Request if nil.
func identity(c *gin.Context) (string, bool) {
	if v, ok := c.Get("userID"); ok {
		if s, ok := v.(string); ok && s != "" {
			return s, false
		}
	}
	if c != nil && c.Request != nil {
		if h := strings.TrimSpace(c.GetHeader("X-User-ID")); h != "" {
			return h, false
		}
		if g := strings.TrimSpace(c.GetHeader("X-Guest-Token")); g != "" {
			return "guest:" + g, true
		}
	}
	return "guest:" + c.ClientIP(), true
}

//
// DTOs
//

// StartStoryRequest is the JSON payload for starting a run.
type StartStoryRequest struct {
	// Genre of the run (fantasy, mystery, sci-fi; horror, romance and
	// thriller need premium).
	Genre string `json:"genre" binding:"required" example:"fantasy"`
	// Length of the run (quick, standard; extended needs premium).
	Length string `json:"length" binding:"required" example:"standard"`
	// Challenge posture (casual or challenging).
	Challenge string `json:"challenge" binding:"required" example:"casual"`
}

// PostChoiceRequest is the JSON payload for submitting a choice.
type PostChoiceRequest struct {
	// Slug of the chosen option, as offered by the latest step.
	Slug string `json:"slug" binding:"required" example:"slip_through"`
}

// StartStoryResponse wraps the new run with its opening step.
type StartStoryResponse struct {
	Story *domain.StoryRun  `json:"story"`
	Step  *domain.StoryStep `json:"step"`
}

// PostChoiceResponse wraps the generated step.
type PostChoiceResponse struct {
	Step *domain.StoryStep `json:"step"`
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// ListStoriesResponse wraps a page of runs and pagination information.
type ListStoriesResponse struct {
	Stories    []domain.StoryRun `json:"stories"`
	Pagination Pagination        `json:"pagination"`
}

// ListStepsResponse wraps a page of steps and pagination information.
type ListStepsResponse struct {
	Steps      []domain.StoryStep `json:"steps"`
	Pagination Pagination         `json:"pagination"`
}

//
// Helpers
//

// clampPagination parses and bounds page and page_size query params to sane
// defaults and limits, returning (page, pageSize).
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = utils.AtoiDefault(c.Query("page_size"), defaultPageSize)
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return
}

func paginationMeta(page, pageSize int, total int64) Pagination {
	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	return Pagination{
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
	}
}

// failStoryError maps service-layer errors onto the HTTP taxonomy. Quota
// denials carry rate-limit headers so clients know when to come back.
func failStoryError(c *gin.Context, err error) {
	var quota *services.QuotaExceededError
	var premium *services.PremiumRequiredError
	switch {
	case errors.As(err, &quota):
		c.Header("X-RateLimit-Limit", strconv.Itoa(quota.Limit))
		c.Header("X-RateLimit-Remaining", "0")
		c.Header("X-RateLimit-Reset", strconv.FormatInt(quota.ResetTime.Unix(), 10))
		if secs := int(time.Until(quota.ResetTime).Seconds()); secs > 0 {
			c.Header("Retry-After", strconv.Itoa(secs))
		}
		fail(c, http.StatusTooManyRequests, ErrCodeDailyLimit, err.Error())
	case errors.As(err, &premium):
		fail(c, http.StatusForbidden, ErrCodePremiumRequired, err.Error())
	case errors.Is(err, services.ErrRunNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "story not found")
	case errors.Is(err, services.ErrStepNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "step not found")
	case errors.Is(err, services.ErrRunEnded):
		fail(c, http.StatusConflict, ErrCodeStoryEnded, "story has ended")
	case errors.Is(err, services.ErrInvalidChoice):
		fail(c, http.StatusUnprocessableEntity, ErrCodeInvalidChoice, "choice not offered by the current step")
	case errors.Is(err, services.ErrInvalidGenre),
		errors.Is(err, services.ErrInvalidLength),
		errors.Is(err, services.ErrInvalidChallenge):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
	case errors.Is(err, services.ErrGenerationFailed):
		fail(c, http.StatusBadGateway, ErrCodeGenerationFailed, "could not generate a valid story step")
	default:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
	}
}

func middlewareGetIdempotencyKey(c *gin.Context) (string, bool) {
	if v := strings.TrimSpace(c.GetHeader("Idempotency-Key")); v != "" {
		return v, true
	}
	return "", false
}

//
// Handlers
//

// StartStory godoc
// @ID          startStory
// @Summary     Start a new story
// @Description Opens a run with the chosen setup and generates its opening scene. Counts against the caller's daily allowance.
// @Tags        Stories
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID      header  string  false "User ID (demo header)"    example(user123)
// @Param       X-Guest-Token  header  string  false "Guest session token"      example(g-4f2a)
// @Param       body           body    handlers.StartStoryRequest  true  "Story setup"
//
// @Success     201  {object}  handlers.StartStoryResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     403  {object}  handlers.ErrorResponse  "Premium required"
// @Failure     429  {object}  handlers.ErrorResponse  "Daily limit reached"
// @Failure     502  {object}  handlers.ErrorResponse  "Generation failed"
// @Router      /stories [post]
func (h *Handlers) StartStory(c *gin.Context) {
	var req StartStoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "genre, length and challenge required")
		return
	}

	id, guest := identity(c)
	run, step, err := h.storySvc.Start(c.Request.Context(), id, guest, services.StartRequest{
		Genre:     story.Genre(strings.ToLower(strings.TrimSpace(req.Genre))),
		Length:    story.Length(strings.ToLower(strings.TrimSpace(req.Length))),
		Challenge: story.Challenge(strings.ToLower(strings.TrimSpace(req.Challenge))),
	})
	if err != nil {
		failStoryError(c, err)
		return
	}
	ok(c, http.StatusCreated, StartStoryResponse{Story: run, Step: step})
}

// ListStories godoc
// @ID          listStories
// @Summary     List stories (paginated)
// @Description Returns a page of the caller's runs. Supports weak ETag via If-None-Match and may return 304.
// @Tags        Stories
// @Produce     json
//
// @Param       X-User-ID      header  string  false "User ID (demo header)"       example(user123)
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"  example(W/\"abc123\")
// @Param       page           query   int     false "Page number"                  minimum(1) default(1)
// @Param       page_size      query   int     false "Items per page"               minimum(1) maximum(100) default(20)
//
// @Success     200  {object} handlers.ListStoriesResponse
// @Header      200  {string} ETag           "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /stories [get]
func (h *Handlers) ListStories(c *gin.Context) {
	ctx := c.Request.Context()
	id, _ := identity(c)
	page, pageSize := clampPagination(c)

	// ETag pre-check (best effort).
	var db *gorm.DB
	if svc, ok := h.storySvc.(*services.StoryService); ok {
		db = svc.DB
	}
	if db != nil {
		count, maxTS, err := repo.RunsStats(ctx, db, id)
		if err == nil {
			etag := fmt.Sprintf(`W/"stories:%s:%d:%d"`, id, count, maxTS.Unix())
			c.Header("ETag", etag)
			if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
				c.Status(http.StatusNotModified)
				return
			}
		}
	}

	items, total, err := h.storySvc.ListPage(ctx, id, page, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, ListStoriesResponse{Stories: items, Pagination: paginationMeta(page, pageSize, total)})
}

// GetStory godoc
// @ID          getStory
// @Summary     Fetch one story
// @Description Returns a single run owned by the caller, including its latest game state.
// @Tags        Stories
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       id         path    string  true  "Story ID (UUID)"        format(uuid)
//
// @Success     200  {object} domain.StoryRun
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Story not found"
// @Router      /stories/{id} [get]
func (h *Handlers) GetStory(c *gin.Context) {
	runID := c.Param("id")
	if _, err := uuid.Parse(runID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "story id must be a UUID")
		return
	}

	id, _ := identity(c)
	run, err := h.storySvc.Get(c.Request.Context(), id, runID)
	if err != nil {
		failStoryError(c, err)
		return
	}
	ok(c, http.StatusOK, run)
}

// ListSteps godoc
// @ID          listSteps
// @Summary     List steps of a story
// @Description Returns a paginated list of the run's steps in play order. Supports weak ETag.
// @Tags        Stories
// @Produce     json
//
// @Param       X-User-ID  header string  false "User ID (demo header)"  example(user123)
// @Param       id         path   string  true  "Story ID (UUID)"        format(uuid)
// @Param       page       query  int     false "Page number"            minimum(1) default(1)
// @Param       page_size  query  int     false "Items per page"         minimum(1) maximum(100) default(20)
//
// @Success     200  {object} handlers.ListStepsResponse
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Story not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /stories/{id}/steps [get]
func (h *Handlers) ListSteps(c *gin.Context) {
	ctx := c.Request.Context()
	runID := c.Param("id")
	if _, err := uuid.Parse(runID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "story id must be a UUID")
		return
	}
	id, _ := identity(c)

	// ETag pre-check (best effort): step count only grows, the run row is
	// touched on every accepted step.
	if svc, okSvc := h.storySvc.(*services.StoryService); okSvc && svc.DB != nil {
		if run, err := repo.GetRun(ctx, svc.DB, runID, id); err == nil {
			etag := fmt.Sprintf(`W/"steps:%s:%d:%d"`, runID, run.StepCount, run.UpdatedAt.Unix())
			c.Header("ETag", etag)
			if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
				c.Status(http.StatusNotModified)
				return
			}
		}
	}

	page, pageSize := clampPagination(c)
	items, total, err := h.storySvc.StepsPage(ctx, id, runID, page, pageSize)
	if err != nil {
		failStoryError(c, err)
		return
	}
	ok(c, http.StatusOK, ListStepsResponse{Steps: items, Pagination: paginationMeta(page, pageSize, total)})
}

// PostChoice godoc
// @ID          postChoice
// @Summary     Submit a choice
// @Description Submits a choice against the run's latest step and generates the next scene. Supports idempotency via the Idempotency-Key header (same key → same result). Counts against the caller's daily allowance.
// @Tags        Stories
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID        header  string  false "User ID (demo header)"  example(user123)
// @Param       Idempotency-Key  header  string  false "Idempotency key for safe retries (UUID recommended)"  example(7a8d9f4c-1b2a-4c3d-8e9f-0123456789ab)
// @Param       id               path    string  true  "Story ID (UUID)"  format(uuid)
// @Param       body             body    handlers.PostChoiceRequest  true  "Chosen slug"
//
// @Success     201  {object} handlers.PostChoiceResponse
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Story not found"
// @Failure     409  {object} handlers.ErrorResponse "Story has ended"
// @Failure     422  {object} handlers.ErrorResponse "Choice not offered"
// @Failure     429  {object} handlers.ErrorResponse "Daily limit reached"
// @Failure     502  {object} handlers.ErrorResponse "Generation failed"
// @Router      /stories/{id}/choices [post]
func (h *Handlers) PostChoice(c *gin.Context) {
	ctx := c.Request.Context()
	runID := c.Param("id")
	if _, err := uuid.Parse(runID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "story id must be a UUID")
		return
	}

	var req PostChoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Slug) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "slug required")
		return
	}
	slug := strings.TrimSpace(req.Slug)

	id, guest := identity(c)

	// Idempotency (replay path) – read validated key if present.
	idemKey, _ := middlewareGetIdempotencyKey(c)
	if idemKey != "" {
		if svc, okSvc := h.storySvc.(*services.StoryService); okSvc && svc.DB != nil {
			if rec, err := repo.GetIdempotency(ctx, svc.DB, id, runID, idemKey, time.Now().UTC()); err == nil && rec != nil {
				if prev, err2 := repo.GetStep(ctx, svc.DB, rec.StepID); err2 == nil {
					c.Header("Idempotency-Replayed", "true")
					ok(c, http.StatusCreated, PostChoiceResponse{Step: prev})
					return
				}
			}
		}
	}

	step, err := h.storySvc.Advance(ctx, id, guest, runID, slug)
	if err != nil {
		failStoryError(c, err)
		return
	}

	// Idempotency (store path) – best effort.
	if idemKey != "" {
		if svc, okSvc := h.storySvc.(*services.StoryService); okSvc && svc.DB != nil {
			ttl := 24 * time.Hour
			_, _ = repo.CreateIdempotency(ctx, svc.DB, id, runID, idemKey, step.ID, http.StatusCreated, ttl)
		}
	}

	ok(c, http.StatusCreated, PostChoiceResponse{Step: step})
}

// GetLimits godoc
// @ID          getLimits
// @Summary     Quota snapshot
// @Description Returns the caller's daily generation allowance, usage, and the UTC reset instant. Does not consume quota.
// @Tags        Limits
// @Produce     json
//
// @Param       X-User-ID      header  string  false "User ID (demo header)"  example(user123)
// @Param       X-Guest-Token  header  string  false "Guest session token"    example(g-4f2a)
//
// @Success     200  {object} services.Decision
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /limits [get]
func (h *Handlers) GetLimits(c *gin.Context) {
	id, guest := identity(c)
	d, err := h.limitSvc.Snapshot(c.Request.Context(), id, guest)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	c.Header("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	c.Header("X-RateLimit-Reset", strconv.FormatInt(d.ResetTime.Unix(), 10))
	ok(c, http.StatusOK, d)
}
