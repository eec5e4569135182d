package remote

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/custodia-labs/propops/internal/core/domain"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewClient(srv.URL, time.Second, opts...)
	require.NoError(t, err)
	return c
}

func TestNewClient_RejectsBadURL(t *testing.T) {
	for _, raw := range []string{"", "not a url", "/relative"} {
		_, err := NewClient(raw, 0)
		assert.ErrorIs(t, err, domain.ErrInvalidInput, raw)
	}
}

func TestClient_Fetch(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v1/profiles/me", r.URL.Path)
		_, _ = io.WriteString(w, `{"id":"me","name":"Ada"}`)
	})

	raw, err := c.Fetch(context.Background(), "profiles/me")
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"me","name":"Ada"}`, string(raw))
}

func TestClient_Fetch_EmptyBodyIsNull(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	raw, err := c.Fetch(context.Background(), "profiles/me")
	require.NoError(t, err)
	assert.Equal(t, "null", string(raw))
}

func TestClient_Fetch_NonJSONBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "<html>")
	})

	_, err := c.Fetch(context.Background(), "profiles/me")
	assert.Equal(t, domain.KindUnknown, domain.KindOf(err))
}

func TestClient_Fetch_EmptyResource(t *testing.T) {
	c, err := NewClient("http://127.0.0.1:1", time.Second)
	require.NoError(t, err)

	_, err = c.Fetch(context.Background(), "/")
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
}

func TestClient_StatusMapping(t *testing.T) {
	tests := []struct {
		status int
		want   domain.ErrorKind
	}{
		{http.StatusUnauthorized, domain.KindAuthRequired},
		{http.StatusForbidden, domain.KindAuthRequired},
		{http.StatusTooManyRequests, domain.KindRateLimited},
		{http.StatusBadRequest, domain.KindValidation},
		{http.StatusConflict, domain.KindValidation},
		{http.StatusUnprocessableEntity, domain.KindValidation},
		{http.StatusInternalServerError, domain.KindTransientNetwork},
		{http.StatusServiceUnavailable, domain.KindTransientNetwork},
		{http.StatusNotFound, domain.KindUnknown},
		{http.StatusTeapot, domain.KindUnknown},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "nope", tt.status)
			})

			_, err := c.Fetch(context.Background(), "profiles/me")
			require.Error(t, err)
			assert.Equal(t, tt.want, domain.KindOf(err))

			var rerr *domain.RemoteError
			require.True(t, errors.As(err, &rerr))
			assert.Equal(t, tt.status, rerr.StatusCode)
			assert.Contains(t, rerr.Error(), "nope")
		})
	}
}

func TestClient_AuthErrorMatchesSentinel(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := c.Fetch(context.Background(), "profiles/me")
	assert.ErrorIs(t, err, domain.ErrAuthRequired)
}

func TestClient_RetryAfterSeconds(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := c.Fetch(context.Background(), "profiles/me")
	retryAfter, ok := domain.RetryAfterOf(err)
	require.True(t, ok)
	assert.Equal(t, 7*time.Second, retryAfter)
}

func TestClient_RetryAfterDate(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Retry-After", now.Add(90*time.Second).Format(http.TimeFormat))
		w.WriteHeader(http.StatusTooManyRequests)
	}, WithClock(func() time.Time { return now }))

	_, err := c.Fetch(context.Background(), "profiles/me")
	retryAfter, ok := domain.RetryAfterOf(err)
	require.True(t, ok)
	assert.Equal(t, 90*time.Second, retryAfter)
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, time.Duration(0), ParseRetryAfter("", now))
	assert.Equal(t, time.Duration(0), ParseRetryAfter("-3", now))
	assert.Equal(t, time.Duration(0), ParseRetryAfter("soon", now))
	assert.Equal(t, time.Duration(0), ParseRetryAfter(now.Add(-time.Minute).Format(http.TimeFormat), now))
	assert.Equal(t, 2*time.Second, ParseRetryAfter(" 2 ", now))
}

func TestClient_NetworkErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	c, err := NewClient(url, time.Second)
	require.NoError(t, err)

	_, err = c.Fetch(context.Background(), "profiles/me")
	assert.Equal(t, domain.KindTransientNetwork, domain.KindOf(err))
}

func TestClient_CancelledContext(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Fetch(ctx, "profiles/me")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, domain.KindTransientNetwork, domain.KindOf(err))
}

func TestClient_ApplyMethodsAndHeaders(t *testing.T) {
	tests := []struct {
		op         domain.Operation
		wantMethod string
		wantBody   string
	}{
		{domain.OpCreate, http.MethodPost, `{"title":"a"}`},
		{domain.OpUpdate, http.MethodPut, `{"title":"a"}`},
		{domain.OpDelete, http.MethodDelete, ""},
	}

	for _, tt := range tests {
		t.Run(string(tt.op), func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, tt.wantMethod, r.Method)
				assert.Equal(t, "/v1/task/t 1", r.URL.Path)
				assert.Equal(t, "m-1", r.Header.Get("Idempotency-Key"))
				body, _ := io.ReadAll(r.Body)
				assert.Equal(t, tt.wantBody, string(body))
				w.WriteHeader(http.StatusOK)
			})

			err := c.Apply(context.Background(), domain.QueuedMutation{
				ID:         "m-1",
				EntityType: "task",
				EntityID:   "t 1",
				Operation:  tt.op,
				Payload:    []byte(`{"title":"a"}`),
			})
			require.NoError(t, err)
		})
	}
}

func TestClient_ApplyUnknownOperation(t *testing.T) {
	c, err := NewClient("http://127.0.0.1:1", time.Second)
	require.NoError(t, err)

	err = c.Apply(context.Background(), domain.QueuedMutation{ID: "m", EntityType: "task", EntityID: "1", Operation: "merge"})
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
}

func TestClient_UpsertBookings(t *testing.T) {
	var got struct {
		Bookings []domain.Booking `json:"bookings"`
	}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/bookings/batch", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	})

	err := c.UpsertBookings(context.Background(), []domain.Booking{
		{ExternalID: "b-1", Data: json.RawMessage(`{"room":"12"}`)},
		{ExternalID: "b-2"},
	})
	require.NoError(t, err)
	require.Len(t, got.Bookings, 2)
	assert.Equal(t, "b-1", got.Bookings[0].ExternalID)

	// Empty batches never reach the server.
	require.NoError(t, c.UpsertBookings(context.Background(), nil))
}

func TestClient_BearerTokenFromTokenSource(t *testing.T) {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "tok-123"})
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok-123", r.Header.Get("Authorization"))
		_, _ = io.WriteString(w, `{}`)
	}, WithTokenSource(ts))

	_, err := c.Fetch(context.Background(), "profiles/me")
	require.NoError(t, err)
}

type failingTokenSource struct{ err error }

func (f failingTokenSource) Token() (*oauth2.Token, error) { return nil, f.err }

func TestClient_TokenSourceErrorKeepsKind(t *testing.T) {
	ts := failingTokenSource{err: domain.NewRemoteError(domain.KindAuthRequired, "refresh", errors.New("revoked"))}
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		t.Error("request should not reach the server")
	}, WithTokenSource(ts))

	_, err := c.Fetch(context.Background(), "profiles/me")
	assert.Equal(t, domain.KindAuthRequired, domain.KindOf(err))
}
