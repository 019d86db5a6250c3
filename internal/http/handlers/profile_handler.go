package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/storypath/go-story-backend/internal/domain"
	"github.com/storypath/go-story-backend/internal/services"
)

// UpdateSubscriptionRequest is the JSON payload for changing a subscription.
type UpdateSubscriptionRequest struct {
	// Tier to set (free or premium).
	Tier string `json:"tier" binding:"required" example:"premium"`
	// ExpiresAt bounds a premium subscription (RFC 3339). Omit for open-ended.
	ExpiresAt *time.Time `json:"expires_at,omitempty" example:"2026-12-31T00:00:00Z"`
}

// GetProfile godoc
// @ID          getProfile
// @Summary     Fetch the caller's profile
// @Description Returns the subscription profile for the signed-in user. A profile is created on demand with the free tier.
// @Tags        Profile
// @Produce     json
//
// @Param       X-User-ID  header  string  true  "User ID (demo header)"  example(user123)
//
// @Success     200  {object} domain.UserProfile
// @Failure     401  {object} handlers.ErrorResponse "Guests have no profile"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /profile [get]
func (h *Handlers) GetProfile(c *gin.Context) {
	id, guest := identity(c)
	if guest {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "sign in to manage a profile")
		return
	}

	prof, err := h.profileSvc.Get(c.Request.Context(), id)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, prof)
}

// UpdateSubscription godoc
// @ID          updateSubscription
// @Summary     Change the caller's subscription
// @Description Sets the user's subscription tier. Setting free clears any premium expiry.
// @Tags        Profile
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  true  "User ID (demo header)"  example(user123)
// @Param       body       body    handlers.UpdateSubscriptionRequest  true  "New tier"
//
// @Success     200  {object} domain.UserProfile
// @Failure     400  {object} handlers.ErrorResponse "Unknown tier"
// @Failure     401  {object} handlers.ErrorResponse "Guests have no profile"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /profile/subscription [put]
func (h *Handlers) UpdateSubscription(c *gin.Context) {
	id, guest := identity(c)
	if guest {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "sign in to manage a profile")
		return
	}

	var req UpdateSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "tier required")
		return
	}

	tier := domain.Tier(strings.ToLower(strings.TrimSpace(req.Tier)))
	prof, err := h.profileSvc.SetSubscription(c.Request.Context(), id, tier, req.ExpiresAt)
	if err != nil {
		if errors.Is(err, services.ErrInvalidTier) {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "tier must be free or premium")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, prof)
}
