package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Unix(1_700_000_010, 0)

func newTestLimiter(t *testing.T, limit int) (*Limiter, redismock.ClientMock, string) {
	db, mock := redismock.NewClientMock()
	l := NewLimiter(db, limit, time.Minute, nil)
	l.now = func() time.Time { return fixedNow }
	key, _ := l.key("10.0.0.7", fixedNow)
	return l, mock, key
}

func TestAllow(t *testing.T) {
	t.Run("first request sets expiry", func(t *testing.T) {
		l, mock, key := newTestLimiter(t, 2)
		mock.ExpectIncr(key).SetVal(1)
		mock.ExpectExpire(key, time.Minute).SetVal(true)

		ok, _, err := l.Allow(context.Background(), "10.0.0.7")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("over limit", func(t *testing.T) {
		l, mock, key := newTestLimiter(t, 2)
		mock.ExpectIncr(key).SetVal(3)

		ok, retry, err := l.Allow(context.Background(), "10.0.0.7")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Equal(t, 30*time.Second, retry)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("redis error", func(t *testing.T) {
		l, mock, key := newTestLimiter(t, 2)
		mock.ExpectIncr(key).SetErr(errors.New("connection refused"))

		_, _, err := l.Allow(context.Background(), "10.0.0.7")
		assert.Error(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestMiddleware(t *testing.T) {
	handler := func(l *Limiter) http.Handler {
		return l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		}))
	}
	request := func() *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/finances", nil)
		r.RemoteAddr = "10.0.0.7:51234"
		return r
	}

	t.Run("allowed", func(t *testing.T) {
		l, mock, key := newTestLimiter(t, 5)
		mock.ExpectIncr(key).SetVal(2)
		rr := httptest.NewRecorder()
		handler(l).ServeHTTP(rr, request())
		assert.Equal(t, http.StatusNoContent, rr.Code)
	})

	t.Run("limited", func(t *testing.T) {
		l, mock, key := newTestLimiter(t, 5)
		mock.ExpectIncr(key).SetVal(6)
		rr := httptest.NewRecorder()
		handler(l).ServeHTTP(rr, request())
		assert.Equal(t, http.StatusTooManyRequests, rr.Code)
		assert.Equal(t, "30", rr.Header().Get("Retry-After"))
		assert.Contains(t, rr.Body.String(), `"errorKind":"RateLimited"`)
	})

	t.Run("fails open", func(t *testing.T) {
		l, mock, key := newTestLimiter(t, 5)
		mock.ExpectIncr(key).SetErr(errors.New("timeout"))
		rr := httptest.NewRecorder()
		handler(l).ServeHTTP(rr, request())
		assert.Equal(t, http.StatusNoContent, rr.Code)
	})
}
