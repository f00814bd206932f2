package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_Counters_InflightAndPathFallback(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(Metrics())

	r.GET("/sessions/:id/messages", func(c *gin.Context) {
		c.String(http.StatusOK, "hello")
	})

	// Baselines first; collectors are package globals shared across tests.
	baseOK := testutil.ToFloat64(httpReqs.WithLabelValues("GET", "/sessions/:id/messages", "200"))
	base404 := testutil.ToFloat64(httpReqs.WithLabelValues("GET", "/does-not-exist", "404"))

	// Matched route: path label is the route pattern.
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/sessions/s1/messages", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /sessions/s1/messages -> %d", w.Code)
	}

	// Unmatched route: label falls back to the raw URL path.
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/does-not-exist", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("GET /does-not-exist -> %d", w.Code)
	}

	gotOK := testutil.ToFloat64(httpReqs.WithLabelValues("GET", "/sessions/:id/messages", "200"))
	if gotOK != baseOK+1 {
		t.Fatalf("counter matched route = %v; want %v", gotOK, baseOK+1)
	}
	got404 := testutil.ToFloat64(httpReqs.WithLabelValues("GET", "/does-not-exist", "404"))
	if got404 != base404+1 {
		t.Fatalf("counter 404 fallback = %v; want %v", got404, base404+1)
	}

	// In-flight gauge settles back to zero once requests complete.
	if inFlight := testutil.ToFloat64(httpInflight); inFlight != 0 {
		t.Fatalf("httpInflight = %v; want 0", inFlight)
	}
}
