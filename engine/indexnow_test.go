package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type indexNowCapture struct {
	mu       sync.Mutex
	payloads []indexNowPayload
}

func (c *indexNowCapture) add(p indexNowPayload) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.payloads = append(c.payloads, p)
}

func (c *indexNowCapture) all() []indexNowPayload {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.payloads
}

func newIndexNowServer(t *testing.T, capture *indexNowCapture, status func(call int) int) *httptest.Server {
	t.Helper()

	var calls int
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json; charset=utf-8", r.Header.Get("Content-Type"))

		var p indexNowPayload
		require.NoError(t, json.NewDecoder(r.Body).Decode(&p))
		capture.add(p)

		calls++
		w.WriteHeader(status(calls))
	}))
}

func testURLs(n int) []string {
	urls := make([]string, n)
	for i := range urls {
		urls[i] = fmt.Sprintf("https://ex.com/p/%d", i)
	}
	return urls
}

func TestIndexNow_SubmitChunks(t *testing.T) {
	capture := &indexNowCapture{}
	srv := newIndexNowServer(t, capture, func(int) int { return http.StatusOK })
	defer srv.Close()

	client, err := NewIndexNow("https://ex.com/", zap.NewNop(), WithIndexNowEndpoint(srv.URL))
	require.NoError(t, err)

	results := client.Submit(context.Background(), testURLs(250), "site-key", 100)

	// 250 URLs at batch size 100 is exactly three chunks of 100/100/50.
	require.Len(t, results, 3)
	assert.Len(t, results[0].URLs, 100)
	assert.Len(t, results[1].URLs, 100)
	assert.Len(t, results[2].URLs, 50)
	for _, res := range results {
		assert.True(t, res.Success)
		assert.Equal(t, http.StatusOK, res.HTTPCode)
	}

	payloads := capture.all()
	require.Len(t, payloads, 3)
	for _, p := range payloads {
		assert.Equal(t, "ex.com", p.Host)
		assert.Equal(t, "site-key", p.Key)
		assert.Equal(t, "https://ex.com/site-key.txt", p.KeyLocation)
	}
}

func TestIndexNow_BatchSizeClamped(t *testing.T) {
	capture := &indexNowCapture{}
	srv := newIndexNowServer(t, capture, func(int) int { return http.StatusOK })
	defer srv.Close()

	client, err := NewIndexNow("https://ex.com", zap.NewNop(), WithIndexNowEndpoint(srv.URL))
	require.NoError(t, err)

	// An out-of-range batch size falls back to the hard ceiling.
	results := client.Submit(context.Background(), testURLs(150), "site-key", 5000)

	require.Len(t, results, 2)
	assert.Len(t, results[0].URLs, 100)
	assert.Len(t, results[1].URLs, 50)
}

func TestIndexNow_RetriesOnceOn429(t *testing.T) {
	capture := &indexNowCapture{}
	srv := newIndexNowServer(t, capture, func(call int) int {
		if call == 1 {
			return http.StatusTooManyRequests
		}
		return http.StatusOK
	})
	defer srv.Close()

	var slept []time.Duration
	client, err := NewIndexNow("https://ex.com", zap.NewNop(),
		WithIndexNowEndpoint(srv.URL),
		WithIndexNowSleep(func(d time.Duration) { slept = append(slept, d) }),
	)
	require.NoError(t, err)

	results := client.Submit(context.Background(), []string{"https://ex.com/a"}, "site-key", 100)

	require.Len(t, results, 1)
	assert.True(t, results[0].Success)
	assert.Equal(t, http.StatusOK, results[0].HTTPCode)
	assert.Equal(t, []time.Duration{5 * time.Second}, slept)
	assert.Len(t, capture.all(), 2)
}

func TestIndexNow_SecondOutcomeIsFinal(t *testing.T) {
	capture := &indexNowCapture{}
	srv := newIndexNowServer(t, capture, func(int) int { return http.StatusTooManyRequests })
	defer srv.Close()

	client, err := NewIndexNow("https://ex.com", zap.NewNop(),
		WithIndexNowEndpoint(srv.URL),
		WithIndexNowSleep(func(time.Duration) {}),
	)
	require.NoError(t, err)

	results := client.Submit(context.Background(), []string{"https://ex.com/a"}, "site-key", 100)

	// Still rate limited after the single retry: the chunk fails, no third
	// attempt.
	require.Len(t, results, 1)
	assert.False(t, results[0].Success)
	assert.Equal(t, http.StatusTooManyRequests, results[0].HTTPCode)
	assert.Len(t, capture.all(), 2)
}

func TestIndexNow_NonSuccessStatus(t *testing.T) {
	capture := &indexNowCapture{}
	srv := newIndexNowServer(t, capture, func(int) int { return http.StatusUnprocessableEntity })
	defer srv.Close()

	client, err := NewIndexNow("https://ex.com", zap.NewNop(), WithIndexNowEndpoint(srv.URL))
	require.NoError(t, err)

	results := client.Submit(context.Background(), []string{"https://ex.com/a"}, "site-key", 100)

	require.Len(t, results, 1)
	assert.False(t, results[0].Success)
	assert.Equal(t, http.StatusUnprocessableEntity, results[0].HTTPCode)
}

func TestIndexNow_TransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	endpoint := srv.URL
	srv.Close()

	client, err := NewIndexNow("https://ex.com", zap.NewNop(), WithIndexNowEndpoint(endpoint))
	require.NoError(t, err)

	results := client.Submit(context.Background(), []string{"https://ex.com/a"}, "site-key", 100)

	require.Len(t, results, 1)
	assert.False(t, results[0].Success)
	assert.Equal(t, 0, results[0].HTTPCode)
	assert.NotEmpty(t, results[0].Response)
}

func TestNewIndexNow_RejectsHostlessSiteURL(t *testing.T) {
	_, err := NewIndexNow("not-a-url", zap.NewNop())
	assert.Error(t, err)
}
