package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/storypath/go-story-backend/internal/services"
	"github.com/storypath/go-story-backend/internal/story"
)

// ChoiceStatsResponse wraps a page of choice statistics.
type ChoiceStatsResponse struct {
	Stats      []services.ChoiceStatView `json:"stats"`
	Pagination Pagination                `json:"pagination"`
}

// ChoiceStats godoc
// @ID          choiceStats
// @Summary     Choice statistics
// @Description Returns per-choice selection rates and rarity labels, most offered first. Optionally filtered by genre.
// @Tags        Stats
// @Produce     json
//
// @Param       genre      query  string  false "Filter by genre"  Enums(fantasy, mystery, sci-fi, horror, romance, thriller)
// @Param       page       query  int     false "Page number"      minimum(1) default(1)
// @Param       page_size  query  int     false "Items per page"   minimum(1) maximum(100) default(20)
//
// @Success     200  {object} handlers.ChoiceStatsResponse
// @Failure     400  {object} handlers.ErrorResponse "Unknown genre"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /stats/choices [get]
func (h *Handlers) ChoiceStats(c *gin.Context) {
	genre := strings.ToLower(strings.TrimSpace(c.Query("genre")))
	if genre != "" && !story.Genre(genre).Valid() {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unknown genre")
		return
	}

	page, pageSize := clampPagination(c)
	items, total, err := h.statsSvc.ChoiceStats(c.Request.Context(), genre, page, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}

	ok(c, http.StatusOK, ChoiceStatsResponse{Stats: items, Pagination: paginationMeta(page, pageSize, total)})
}

// Overview godoc
// @ID          statsOverview
// @Summary     Aggregate overview
// @Description Returns run and step totals across all users.
// @Tags        Stats
// @Produce     json
//
// @Success     200  {object} services.OverviewView
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /stats/overview [get]
func (h *Handlers) Overview(c *gin.Context) {
	view, err := h.statsSvc.Overview(c.Request.Context())
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, view)
}
