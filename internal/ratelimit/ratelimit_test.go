package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestRedisLimiterFixedWindow(t *testing.T) {
	mr, client := newRedis(t)
	l := NewRedisLimiter(client, 3, time.Minute, "test")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := l.Allow(ctx, "ip:1.2.3.4")
		require.NoError(t, err)
		assert.True(t, ok, "request %d", i+1)
	}
	ok, err := l.Allow(ctx, "ip:1.2.3.4")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = l.Allow(ctx, "ip:5.6.7.8")
	require.NoError(t, err)
	assert.True(t, ok)

	ttl := mr.TTL("test:ip:1.2.3.4")
	assert.Greater(t, ttl, time.Duration(0))
	assert.LessOrEqual(t, ttl, time.Minute)

	mr.FastForward(time.Minute + time.Second)
	ok, err = l.Allow(ctx, "ip:1.2.3.4")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLimiterFailsOpen(t *testing.T) {
	mr, client := newRedis(t)
	l := NewRedisLimiter(client, 1, time.Minute, "")
	mr.Close()

	ok, err := l.Allow(context.Background(), "ip:1.2.3.4")
	assert.Error(t, err)
	assert.True(t, ok)
}

func TestLocalLimiter(t *testing.T) {
	l := NewLocalLimiter(2, time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, _ := l.Allow(ctx, "a")
		assert.True(t, ok)
	}
	ok, _ := l.Allow(ctx, "a")
	assert.False(t, ok)
	ok, _ = l.Allow(ctx, "b")
	assert.True(t, ok)

	now = now.Add(30 * time.Second)
	ok, _ = l.Allow(ctx, "a")
	assert.True(t, ok)

	now = now.Add(time.Hour)
	_, _ = l.Allow(ctx, "c")
	l.mu.Lock()
	_, kept := l.buckets["b"]
	l.mu.Unlock()
	assert.False(t, kept)
}

type brokenLimiter struct{}

func (brokenLimiter) Allow(context.Context, string) (bool, error) {
	return false, assert.AnError
}

func TestMiddleware(t *testing.T) {
	_, client := newRedis(t)
	lg := zap.NewNop().Sugar()
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	h := Middleware(NewRedisLimiter(client, 1, time.Minute, "mw"), "login", time.Minute, lg)(next)

	do := func(h http.Handler, addr string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/v1/auth/login", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, do(h, "10.0.0.1:5000").Code)
	rec := do(h, "10.0.0.1:5001")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"message":"too many requests"}`, rec.Body.String())
	assert.Equal(t, http.StatusOK, do(h, "10.0.0.2:5000").Code)

	open := Middleware(brokenLimiter{}, "login", time.Minute, lg)(next)
	assert.Equal(t, http.StatusOK, do(open, "10.0.0.1:5000").Code)
}
