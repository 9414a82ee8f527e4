package remote

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetries(t *testing.T) {
	t.Helper()
	prev := retryBackoff
	retryBackoff = time.Millisecond
	t.Cleanup(func() { retryBackoff = prev })
}

func TestRetryDoSucceedsFirstAttempt(t *testing.T) {
	calls := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		_, _ = w.Write([]byte("ok"))
	}))
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodGet, ts.URL, nil)
	resp, err := retryDo(ts.Client(), req, 3)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, 1, calls)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRetryDoRetriesRetryableStatus(t *testing.T) {
	fastRetries(t)
	for _, status := range []int{http.StatusInternalServerError, http.StatusTooManyRequests, http.StatusServiceUnavailable} {
		calls := 0
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls++
			if calls < 3 {
				w.WriteHeader(status)
				return
			}
			w.WriteHeader(http.StatusOK)
		}))

		req, _ := http.NewRequest(http.MethodGet, ts.URL, nil)
		resp, err := retryDo(ts.Client(), req, 3)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, 3, calls, "status %d", status)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		ts.Close()
	}
}

func TestRetryDoDoesNotRetry4xx(t *testing.T) {
	fastRetries(t)
	calls := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusConflict)
	}))
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodGet, ts.URL, nil)
	resp, err := retryDo(ts.Client(), req, 3)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, 1, calls)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestRetryDoReplaysPostBody(t *testing.T) {
	fastRetries(t)
	var bodies []string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		bodies = append(bodies, string(body))
		if len(bodies) < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodPost, ts.URL, strings.NewReader("payload"))
	resp, err := retryDo(ts.Client(), req, 3)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, []string{"payload", "payload"}, bodies)
}

func TestRetryDoReturnsLastResponseWhenExhausted(t *testing.T) {
	fastRetries(t)
	calls := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodGet, ts.URL, nil)
	resp, err := retryDo(ts.Client(), req, 3)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, 3, calls)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestRetryDoStopsWhenContextCanceled(t *testing.T) {
	prev := retryBackoff
	retryBackoff = time.Hour
	t.Cleanup(func() { retryBackoff = prev })

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		cancel()
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL, nil)
	_, err := retryDo(ts.Client(), req, 3)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestRetryDoNetworkErrorExhausts(t *testing.T) {
	fastRetries(t)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := ts.URL
	ts.Close()

	req, _ := http.NewRequest(http.MethodGet, url, nil)
	resp, err := retryDo(&http.Client{Timeout: time.Second}, req, 2)
	require.Error(t, err)
	assert.Nil(t, resp)
}
