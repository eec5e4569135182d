package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/custodia-labs/propops/internal/core/domain"
	"github.com/custodia-labs/propops/internal/core/ports/driven"
)

// DefaultTimeout bounds a single request when no timeout is configured.
const DefaultTimeout = 30 * time.Second

// maxResponseBody bounds a successful response body.
const maxResponseBody = 16 << 20

// Ensure Client implements the interfaces.
var (
	_ driven.RemoteClient = (*Client)(nil)
	_ driven.BookingSink  = (*Client)(nil)
)

// Client is an HTTP client for the remote data service.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	now     func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithTokenSource authenticates every request with a bearer token from ts.
// The source is consulted per request so a renewed credential is picked up
// immediately.
func WithTokenSource(ts oauth2.TokenSource) Option {
	return func(c *Client) {
		c.http = &http.Client{
			Timeout:   c.http.Timeout,
			Transport: &oauth2.Transport{Source: ts, Base: c.http.Transport},
		}
	}
}

// WithClock overrides the time source used for Retry-After dates.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		c.now = now
	}
}

// NewClient creates a client for the service at baseURL.
func NewClient(baseURL string, timeout time.Duration, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: remote base url %q", domain.ErrInvalidInput, baseURL)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	c := &Client{
		baseURL: u,
		http:    &http.Client{Timeout: timeout},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Fetch reads /v1/<resource>. An empty body reads as JSON null.
func (c *Client) Fetch(ctx context.Context, resource string) (json.RawMessage, error) {
	op := "fetch " + resource
	resource = strings.Trim(resource, "/")
	if resource == "" {
		return nil, &domain.RemoteError{Kind: domain.KindValidation, Op: op, Err: domain.ErrInvalidInput}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(resource), nil)
	if err != nil {
		return nil, &domain.RemoteError{Kind: domain.KindValidation, Op: op, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	body, err := c.do(op, req)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return json.RawMessage("null"), nil
	}
	if !json.Valid(body) {
		return nil, decodeError(op, fmt.Errorf("response is not JSON"))
	}
	return json.RawMessage(body), nil
}

// Apply writes one mutation, keyed by its ID for idempotent replay.
func (c *Client) Apply(ctx context.Context, m domain.QueuedMutation) error {
	op := fmt.Sprintf("%s %s", m.Operation, m.EntityKey())

	var method string
	switch m.Operation {
	case domain.OpCreate:
		method = http.MethodPost
	case domain.OpUpdate:
		method = http.MethodPut
	case domain.OpDelete:
		method = http.MethodDelete
	default:
		return &domain.RemoteError{
			Kind: domain.KindValidation,
			Op:   op,
			Err:  fmt.Errorf("%w: operation %q", domain.ErrInvalidInput, m.Operation),
		}
	}

	var body io.Reader
	if m.Operation != domain.OpDelete && len(m.Payload) > 0 {
		body = bytes.NewReader(m.Payload)
	}

	target := c.endpoint(url.PathEscape(m.EntityType), url.PathEscape(m.EntityID))
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return &domain.RemoteError{Kind: domain.KindValidation, Op: op, Err: err}
	}
	req.Header.Set("Idempotency-Key", m.ID)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	_, err = c.do(op, req)
	return err
}

// UpsertBookings posts a batch to /v1/bookings/batch.
func (c *Client) UpsertBookings(ctx context.Context, bookings []domain.Booking) error {
	if len(bookings) == 0 {
		return nil
	}
	op := fmt.Sprintf("upsert %d bookings", len(bookings))

	payload, err := json.Marshal(struct {
		Bookings []domain.Booking `json:"bookings"`
	}{bookings})
	if err != nil {
		return &domain.RemoteError{Kind: domain.KindValidation, Op: op, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("bookings", "batch"), bytes.NewReader(payload))
	if err != nil {
		return &domain.RemoteError{Kind: domain.KindValidation, Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	_, err = c.do(op, req)
	return err
}

// endpoint joins already-escaped path segments under /v1.
func (c *Client) endpoint(segments ...string) string {
	return c.baseURL.JoinPath(append([]string{"v1"}, segments...)...).String()
}

// do sends req and returns the body of a 2xx response.
func (c *Client) do(op string, req *http.Request) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		err = unwrapURLError(err)
		// A token source failure keeps the kind it was classified with.
		var rerr *domain.RemoteError
		if errors.As(err, &rerr) {
			return nil, &domain.RemoteError{Kind: rerr.Kind, Op: op, RetryAfter: rerr.RetryAfter, Err: err}
		}
		return nil, TransportError(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, StatusError(op, resp, c.now())
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, TransportError(op, err)
	}
	return body, nil
}

// unwrapURLError drops the *url.Error envelope, which repeats the URL
// already named by the op.
func unwrapURLError(err error) error {
	var uerr *url.Error
	if errors.As(err, &uerr) && uerr.Err != nil {
		return uerr.Err
	}
	return err
}
