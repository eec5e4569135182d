package provider

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/propops/internal/core/domain"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewClient(srv.URL+"/api", "key-1", NewRateLimiter(RateLimitConfig{RequestsPerSecond: 1000, Burst: 100}))
	require.NoError(t, err)
	return c
}

func TestNewClient_RejectsBadURL(t *testing.T) {
	_, err := NewClient("bookings", "", nil)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestClient_CountBookings(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/bookings/count", r.URL.Path)
		assert.Equal(t, "key-1", r.Header.Get("X-API-Key"))
		_, _ = io.WriteString(w, `{"count":250}`)
	})

	n, err := c.CountBookings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 250, n)
}

func TestClient_FetchBookings(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/bookings", r.URL.Path)
		assert.Equal(t, "c-2", r.URL.Query().Get("cursor"))
		assert.Equal(t, "50", r.URL.Query().Get("limit"))
		_, _ = io.WriteString(w, `{"bookings":[{"id":"b-1","data":{"nights":2}},{"id":"b-2"}],"next_cursor":"c-3"}`)
	})

	page, err := c.FetchBookings(context.Background(), "c-2", 50)
	require.NoError(t, err)
	require.Len(t, page.Bookings, 2)
	assert.Equal(t, "b-1", page.Bookings[0].ExternalID)
	assert.JSONEq(t, `{"nights":2}`, string(page.Bookings[0].Data))
	assert.Equal(t, "c-3", page.NextCursor)
}

func TestClient_FetchBookings_FirstPageHasNoCursor(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, present := r.URL.Query()["cursor"]
		assert.False(t, present)
		_, _ = io.WriteString(w, `{"bookings":[]}`)
	})

	page, err := c.FetchBookings(context.Background(), "", 10)
	require.NoError(t, err)
	assert.Empty(t, page.NextCursor)
}

func TestClient_RateLimitedOpensBackoff(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := c.CountBookings(context.Background())
	require.Error(t, err)
	assert.Equal(t, domain.KindRateLimited, domain.KindOf(err))

	retryAfter, ok := domain.RetryAfterOf(err)
	require.True(t, ok)
	assert.Equal(t, 30*time.Second, retryAfter)
	assert.WithinDuration(t, time.Now().Add(30*time.Second), c.limiter.RetryAt(), 2*time.Second)
	assert.False(t, c.limiter.Allow())
}

func TestClient_ServerErrorIsTransient(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := c.FetchBookings(context.Background(), "", 10)
	assert.Equal(t, domain.KindTransientNetwork, domain.KindOf(err))
}

func TestClient_MalformedBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"count":`)
	})

	_, err := c.CountBookings(context.Background())
	assert.Equal(t, domain.KindUnknown, domain.KindOf(err))
}
