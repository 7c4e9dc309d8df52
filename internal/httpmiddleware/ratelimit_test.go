package httpmiddleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"liveattend/internal/testfixtures"
)

func TestTokenBucketRefills(t *testing.T) {
	clock := testfixtures.NewClock(time.Time{})
	l := NewSimpleTokenBucket(2, 60).WithClock(clock.NowFunc())

	if !l.Allow("a") || !l.Allow("a") {
		t.Fatal("Expected the first two requests to pass")
	}
	if l.Allow("a") {
		t.Error("Expected the third request to be limited")
	}
	if !l.Allow("b") {
		t.Error("Expected a separate bucket per key")
	}
	clock.Advance(time.Second)
	if !l.Allow("a") {
		t.Error("Expected a token after refill")
	}
}

func TestGinMiddlewareLimitsByKey(t *testing.T) {
	gin.SetMode(gin.TestMode)
	l := NewSimpleTokenBucket(1, 1)
	r := gin.New()
	r.Use(l.GinMiddleware(func(c *gin.Context) string { return c.GetHeader("X-Caller") }))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	do := func(caller string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Caller", caller)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}
	if got := do("x"); got != http.StatusNoContent {
		t.Fatalf("Expected 204, got %d", got)
	}
	if got := do("x"); got != http.StatusTooManyRequests {
		t.Errorf("Expected 429, got %d", got)
	}
	if got := do("y"); got != http.StatusNoContent {
		t.Errorf("Expected 204 for another caller, got %d", got)
	}
}
