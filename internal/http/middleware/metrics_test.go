package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_Counters_Inflight_PathFallback(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(Metrics())

	// Body-writing route → positive size, observed in the size histogram
	r.GET("/stories", func(c *gin.Context) {
		c.String(http.StatusOK, `{"stories":[]}`)
	})

	// Status-only route → size stays -1 and is skipped
	r.DELETE("/stories/:id", func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	// Baselines first so parallel suites cannot interfere
	baseOK := testutil.ToFloat64(httpReqs.WithLabelValues("GET", "/stories", "200"))
	base404 := testutil.ToFloat64(httpReqs.WithLabelValues("GET", "/nope", "404"))
	base204 := testutil.ToFloat64(httpReqs.WithLabelValues("DELETE", "/stories/:id", "204"))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/stories", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("GET /stories -> %d", w.Code)
	}

	// Unmatched route: the path label falls back to the raw URL
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("GET /nope -> %d", w.Code)
	}

	// Matched parameterized route: the label is the registered pattern
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/stories/abc", nil))
	if w.Code != http.StatusNoContent {
		t.Fatalf("DELETE /stories/abc -> %d", w.Code)
	}

	if got := testutil.ToFloat64(httpReqs.WithLabelValues("GET", "/stories", "200")); got != baseOK+1 {
		t.Fatalf("counter /stories 200 = %v; want %v", got, baseOK+1)
	}
	if got := testutil.ToFloat64(httpReqs.WithLabelValues("GET", "/nope", "404")); got != base404+1 {
		t.Fatalf("counter 404 fallback = %v; want %v", got, base404+1)
	}
	if got := testutil.ToFloat64(httpReqs.WithLabelValues("DELETE", "/stories/:id", "204")); got != base204+1 {
		t.Fatalf("counter route pattern = %v; want %v", got, base204+1)
	}

	// Gauge drains back to zero once handlers return
	if inFlight := testutil.ToFloat64(httpInflight); inFlight != 0 {
		t.Fatalf("httpInflight = %v; want 0", inFlight)
	}
}
