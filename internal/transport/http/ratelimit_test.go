package http

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientRateLimiter_PerClientBudget(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	limiter := NewClientRateLimiter(1, 2)
	limiter.now = func() time.Time { return now }

	require.True(t, limiter.Allow("10.0.0.1"))
	require.True(t, limiter.Allow("10.0.0.1"), "burst of 2 should be allowed")
	assert.False(t, limiter.Allow("10.0.0.1"), "third request should be limited")
	assert.True(t, limiter.Allow("10.0.0.2"), "other clients have their own budget")

	now = now.Add(time.Second)
	assert.True(t, limiter.Allow("10.0.0.1"), "a token refills after one second")
}

func TestClientRateLimiter_Middleware(t *testing.T) {
	t.Parallel()

	limiter := NewClientRateLimiter(0.001, 1)
	handler := limiter.Middleware(teapot())

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/checkout", nil)
		req.RemoteAddr = "192.0.2.1:5555"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusTeapot, send().Code)
	rec := send()
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}
