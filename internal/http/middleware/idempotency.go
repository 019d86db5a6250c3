// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file provides idempotency support for choice submissions (POST
// /stories/:id/choices). It checks the Idempotency-Key request header,
// optionally consults a caller-supplied lookup to spot already-completed
// submissions, and annotates the request context so downstream code can:
//   - read the validated key (GetIdempotencyKey)
//   - detect replayed requests (IsReplay)
//   - skip quota accounting when a replay is served (internal flag)
//
// Persistence stays out of this file; the lookup is a narrow function type so
// the middleware never imports the repo layer.
package middleware

import (
	"context"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// HeaderIdempotencyKey is the request header clients send to make a choice
// submission safely retryable. The value must be stable per semantic
// operation so retried requests dedupe to the same stored step.
const HeaderIdempotencyKey = "Idempotency-Key"

// Context keys used internally to stash idempotency state. Unexported on
// purpose; use the accessor helpers.
const (
	ctxKeyIdemKey    = "idem.key"
	ctxKeyIdemReplay = "idem.replay" // bool: true when a stored replay exists
	ctxKeyRateBypass = "rate.bypass" // bool: true to skip quota accounting
)

// GetIdempotencyKey returns the validated idempotency key stored in the Gin
// context by IdempotencyValidator. The second return value indicates presence.
func GetIdempotencyKey(c *gin.Context) (string, bool) {
	v, ok := c.Get(ctxKeyIdemKey)
	if !ok {
		return "", false
	}
	s, _ := v.(string)
	return s, s != ""
}

// IsReplay reports whether this request would replay a previously completed
// choice submission for the same (caller, run, key) triple. Handlers may then
// serve the persisted step instead of generating a new one.
func IsReplay(c *gin.Context) bool {
	v, ok := c.Get(ctxKeyIdemReplay)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// IdempotencyOptions configures header validation for IdempotencyValidator.
// TTL enforcement belongs in the lookup, not here.
type IdempotencyOptions struct {
	// MaxLen caps the accepted key length. Values <= 0 default to 200.
	MaxLen int
	// Pattern restricts allowed characters. If nil, a conservative
	// RFC7230-like token pattern is used: ^[A-Za-z0-9._~\-:]+$
	Pattern *regexp.Regexp
}

// IdempotencyLookup answers whether a successful, still-valid result exists
// for (identity, runID, key) at the given time. Implementations typically
// consult the idempotency table, honoring its expiry window.
//
// Return exists=true when the prior step can be replayed; return an error
// only for lookup failures (which must not block normal processing).
type IdempotencyLookup func(ctx context.Context, identity, runID, key string, now time.Time) (exists bool, err error)

// IdempotencyValidator validates the Idempotency-Key header when present,
// stashes it in the request context, and optionally flags the request as a
// replay via the supplied lookup.
//
// Behavior:
//   - Header absent: no-op.
//   - Header fails validation: 400 with a compact error body.
//   - Lookup reports a replay: replay + rate-bypass flags are set.
//   - Otherwise the chain continues normally.
//
// The middleware never serves a cached payload itself; handlers decide how a
// replay is answered.
func IdempotencyValidator(opts IdempotencyOptions, lookup IdempotencyLookup) gin.HandlerFunc {
	maxLen := opts.MaxLen
	if maxLen <= 0 {
		maxLen = 200
	}
	pat := opts.Pattern
	if pat == nil {
		pat = regexp.MustCompile(`^[A-Za-z0-9._~\-:]+$`)
	}

	return func(c *gin.Context) {
		key := c.GetHeader(HeaderIdempotencyKey)
		if key == "" {
			c.Next()
			return
		}
		if len(key) > maxLen || !pat.MatchString(key) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"code":    "bad_idempotency_key",
				"message": "invalid Idempotency-Key",
			})
			return
		}

		c.Set(ctxKeyIdemKey, key)

		if lookup != nil {
			caller := identityFromCtx(c)
			runID := c.Param("id") // POST /stories/:id/choices
			now := time.Now().UTC()

			if exists, _ := lookup(c.Request.Context(), caller, runID, key, now); exists {
				c.Set(ctxKeyIdemReplay, true)
				c.Set(ctxKeyRateBypass, true)
			}
		}

		c.Next()
	}
}

// identityFromCtx resolves the caller the same way handlers do: signed-in
// user from context or the X-User-ID header, guest token otherwise, client
// IP as a last resort so anonymous traffic still dedupes per host.
func identityFromCtx(c *gin.Context) string {
	if v, ok := c.Get("userID"); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	if h := strings.TrimSpace(c.GetHeader("X-User-ID")); h != "" {
		return h
	}
	if g := strings.TrimSpace(c.GetHeader("X-Guest-Token")); g != "" {
		return "guest:" + g
	}
	return "guest:" + c.ClientIP()
}
