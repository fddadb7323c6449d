package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/use-agent/crawlkit/config"
)

func TestRateLimit_AllowsRequestsWithinBurst(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/x", RateLimit(config.RateLimitConfig{RequestsPerSecond: 1, Burst: 2}), func(c *gin.Context) { c.Status(http.StatusOK) })

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code, "request %d should be within burst", i+1)
	}
}

func TestRateLimit_RejectsOnceBurstExhausted(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/x", RateLimit(config.RateLimitConfig{RequestsPerSecond: 0.001, Burst: 1}), func(c *gin.Context) { c.Status(http.StatusOK) })

	req1 := httptest.NewRequest(http.MethodGet, "/x", nil)
	w1 := httptest.NewRecorder()
	r.ServeHTTP(w1, req1)
	assert.Equal(t, http.StatusOK, w1.Code)

	req2 := httptest.NewRequest(http.MethodGet, "/x", nil)
	w2 := httptest.NewRecorder()
	r.ServeHTTP(w2, req2)
	assert.Equal(t, http.StatusTooManyRequests, w2.Code)
	assert.NotEmpty(t, w2.Header().Get("Retry-After"), "a 429 must tell the caller how long to back off")
}

func TestRetryAfterFor_FallsBackToOneSecondWhenRateIsNonPositive(t *testing.T) {
	assert.Equal(t, time.Second, retryAfterFor(0))
	assert.Equal(t, time.Second, retryAfterFor(-1))
}

func TestRetryAfterFor_IsInverseOfTheConfiguredRate(t *testing.T) {
	assert.Equal(t, 500*time.Millisecond, retryAfterFor(2))
}

func TestRateLimit_TracksDistinctIdentitiesIndependently(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/x", func(c *gin.Context) {
		c.Set("api_key", c.GetHeader("X-Key"))
		c.Next()
	}, RateLimit(config.RateLimitConfig{RequestsPerSecond: 0.001, Burst: 1}), func(c *gin.Context) { c.Status(http.StatusOK) })

	reqA := httptest.NewRequest(http.MethodGet, "/x", nil)
	reqA.Header.Set("X-Key", "key-a")
	wA := httptest.NewRecorder()
	r.ServeHTTP(wA, reqA)
	assert.Equal(t, http.StatusOK, wA.Code)

	reqB := httptest.NewRequest(http.MethodGet, "/x", nil)
	reqB.Header.Set("X-Key", "key-b")
	wB := httptest.NewRecorder()
	r.ServeHTTP(wB, reqB)
	assert.Equal(t, http.StatusOK, wB.Code, "a distinct identity must have its own, unexhausted bucket")
}
