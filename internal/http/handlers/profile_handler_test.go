package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/storypath/go-story-backend/internal/domain"
	"github.com/storypath/go-story-backend/internal/services"
)

func TestGetProfile_GuestRejected_UserServed(t *testing.T) {
	gin.SetMode(gin.TestMode)

	h := New(stubStorySvc{}, stubLimitSvc{}, stubStatsSvc{}, stubProfileSvc{
		get: func(_ context.Context, id string) (*domain.UserProfile, error) {
			return &domain.UserProfile{ID: id, SubscriptionTier: domain.TierFree}, nil
		},
	})
	r := gin.New()
	r.GET("/profile", h.GetProfile)

	// Guest -> 401
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/profile", nil)
	req.Header.Set("X-Guest-Token", "tok")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("guest -> %d", w.Code)
	}

	// Registered user -> 200
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/profile", nil)
	req.Header.Set("X-User-ID", "u1")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("user -> %d", w.Code)
	}
	var prof domain.UserProfile
	if err := json.Unmarshal(w.Body.Bytes(), &prof); err != nil || prof.ID != "u1" {
		t.Fatalf("bad body: %v %s", err, w.Body.String())
	}
}

func TestUpdateSubscription(t *testing.T) {
	gin.SetMode(gin.TestMode)

	put := func(h *Handlers, hdr map[string]string, body string) *httptest.ResponseRecorder {
		r := gin.New()
		r.PUT("/profile/subscription", h.UpdateSubscription)
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPut, "/profile/subscription", bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
		for k, v := range hdr {
			req.Header.Set(k, v)
		}
		r.ServeHTTP(w, req)
		return w
	}

	// Guest -> 401
	if w := put(newStubbed(stubStorySvc{}), map[string]string{"X-Guest-Token": "tok"}, `{"tier":"premium"}`); w.Code != http.StatusUnauthorized {
		t.Fatalf("guest -> %d", w.Code)
	}

	// Missing tier -> 400
	if w := put(newStubbed(stubStorySvc{}), map[string]string{"X-User-ID": "u1"}, `{}`); w.Code != http.StatusBadRequest {
		t.Fatalf("missing tier -> %d", w.Code)
	}

	// Unknown tier -> 400 with a helpful message
	{
		h := New(stubStorySvc{}, stubLimitSvc{}, stubStatsSvc{}, stubProfileSvc{
			setSub: func(context.Context, string, domain.Tier, *time.Time) (*domain.UserProfile, error) {
				return nil, services.ErrInvalidTier
			},
		})
		w := put(h, map[string]string{"X-User-ID": "u1"}, `{"tier":"gold"}`)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("unknown tier -> %d", w.Code)
		}
	}

	// Premium with expiry -> 200, tier normalized to lowercase
	{
		var gotTier domain.Tier
		var gotExp *time.Time
		h := New(stubStorySvc{}, stubLimitSvc{}, stubStatsSvc{}, stubProfileSvc{
			setSub: func(_ context.Context, id string, tier domain.Tier, exp *time.Time) (*domain.UserProfile, error) {
				gotTier, gotExp = tier, exp
				return &domain.UserProfile{ID: id, SubscriptionTier: tier, PremiumExpiresAt: exp}, nil
			},
		})
		w := put(h, map[string]string{"X-User-ID": "u1"}, `{"tier":"Premium","expires_at":"2026-12-31T00:00:00Z"}`)
		if w.Code != http.StatusOK {
			t.Fatalf("premium -> %d body=%s", w.Code, w.Body.String())
		}
		if gotTier != domain.TierPremium {
			t.Fatalf("tier = %q", gotTier)
		}
		if gotExp == nil || !gotExp.Equal(time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC)) {
			t.Fatalf("expiry = %v", gotExp)
		}
	}
}
