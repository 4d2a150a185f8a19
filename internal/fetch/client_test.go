package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, cfg Config) (*Client, *[]time.Duration) {
	t.Helper()
	if cfg.Name == "" {
		cfg.Name = "test"
	}
	client := NewClient(cfg, testLogger())

	var delays []time.Duration
	client.sleepFn = func(_ context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}
	return client, &delays
}

func getRequest(url string) RequestFunc {
	return func(_ string) (*http.Request, error) {
		return http.NewRequest(http.MethodGet, url, nil)
	}
}

func TestDoSuccessFirstAttempt(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.Write([]byte(`ok`))
	}))
	defer srv.Close()

	client, delays := newTestClient(t, Config{})
	var body string
	err := client.Do(context.Background(), getRequest(srv.URL), func(b []byte) error {
		body = string(b)
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", body)
	assert.Equal(t, 1, calls)
	assert.Empty(t, *delays)
}

func TestDoRetriesServerErrorThenSucceeds(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`ok`))
	}))
	defer srv.Close()

	client, delays := newTestClient(t, Config{BaseDelay: time.Second})
	err := client.Do(context.Background(), getRequest(srv.URL), nil)

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	// Base delay before each of the two retries.
	assert.Equal(t, []time.Duration{time.Second, time.Second}, *delays)
}

func TestDoRetryBudgetExhausted(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client, _ := newTestClient(t, Config{MaxAttempts: 3, BaseDelay: time.Millisecond})
	err := client.Do(context.Background(), getRequest(srv.URL), nil)

	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.True(t, IsKind(err, KindServerError))

	var classified *Error
	require.ErrorAs(t, err, &classified)
	assert.Equal(t, 3, classified.Attempts)
}

func TestDoRateLimitUsesExtendedDelay(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client, delays := newTestClient(t, Config{
		MaxAttempts:         3,
		BaseDelay:           time.Second,
		RateLimitMultiplier: 3,
	})
	err := client.Do(context.Background(), getRequest(srv.URL), nil)

	require.Error(t, err)
	assert.True(t, IsKind(err, KindRateLimited))
	assert.Equal(t, []time.Duration{3 * time.Second, 3 * time.Second}, *delays)
}

func TestDoNotFoundIsTerminal(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client, delays := newTestClient(t, Config{})
	err := client.Do(context.Background(), getRequest(srv.URL), nil)

	require.Error(t, err)
	assert.True(t, IsKind(err, KindNotFound))
	assert.Equal(t, 1, calls)
	assert.Empty(t, *delays)
}

func TestDoKeyRotationTransparentSuccess(t *testing.T) {
	// Key 1 is exhausted, key 2 works: one logical call must succeed after
	// exactly one rotation and leave the pool pointing at key 2.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("apikey") != "good" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`ok`))
	}))
	defer srv.Close()

	pool := NewKeyPool([]string{"bad", "good"})
	client, delays := newTestClient(t, Config{Keys: pool})

	build := func(key string) (*http.Request, error) {
		return http.NewRequest(http.MethodGet, srv.URL+"?apikey="+key, nil)
	}
	err := client.Do(context.Background(), build, nil)

	require.NoError(t, err)
	assert.Equal(t, 1, pool.Index())
	assert.Empty(t, *delays, "rotation must not consume the retry budget or sleep")
}

func TestDoAuthExhaustedAfterFullRotation(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	pool := NewKeyPool([]string{"k1", "k2"})
	client, _ := newTestClient(t, Config{Keys: pool})

	err := client.Do(context.Background(), getRequest(srv.URL), nil)

	require.Error(t, err)
	assert.True(t, IsKind(err, KindAuthExhausted))
	assert.Equal(t, 2, calls)

	// The pool stays exhausted: the next call fails fast without a request.
	err = client.Do(context.Background(), getRequest(srv.URL), nil)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindAuthExhausted))
	assert.Equal(t, 2, calls)
}

func TestDoDecodeClassifiedErrorRetries(t *testing.T) {
	// An API-level rate-limit notice delivered with HTTP 200 follows the same
	// retry policy as a 429.
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.Write([]byte(`{"status":"0"}`))
	}))
	defer srv.Close()

	client, delays := newTestClient(t, Config{MaxAttempts: 2, BaseDelay: time.Second, RateLimitMultiplier: 2})
	err := client.Do(context.Background(), getRequest(srv.URL), func([]byte) error {
		return RateLimited(assert.AnError)
	})

	require.Error(t, err)
	assert.True(t, IsKind(err, KindRateLimited))
	assert.Equal(t, 2, calls)
	assert.Equal(t, []time.Duration{2 * time.Second}, *delays)
}

func TestDoBreakerOpenRejects(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	breaker := NewBreaker(BreakerConfig{FailureThreshold: 2})
	client, _ := newTestClient(t, Config{MaxAttempts: 3, BaseDelay: time.Millisecond, Breaker: breaker})

	err := client.Do(context.Background(), getRequest(srv.URL), nil)
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, BreakerOpen, breaker.State())

	// Open breaker short-circuits before any request is made.
	err = client.Do(context.Background(), getRequest(srv.URL), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProviderTripped)
	assert.Equal(t, 3, calls)
}

func TestDoContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewClient(Config{Name: "test", MaxAttempts: 5, BaseDelay: time.Millisecond}, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	client.sleepFn = func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}

	err := client.Do(ctx, getRequest(srv.URL), nil)
	assert.ErrorIs(t, err, context.Canceled)
}
