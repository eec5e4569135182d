package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/custodia-labs/propops/internal/adapters/driven/remote"
	"github.com/custodia-labs/propops/internal/core/domain"
	"github.com/custodia-labs/propops/internal/core/ports/driven"
)

// DefaultTimeout bounds a single provider request.
const DefaultTimeout = 30 * time.Second

// Ensure Client implements the interface.
var _ driven.BookingProvider = (*Client)(nil)

// Client reads bookings from the provider API:
//
//	GET <base>/bookings/count            -> {"count": N}
//	GET <base>/bookings?cursor=C&limit=L -> {"bookings": [...], "next_cursor": "..."}
type Client struct {
	baseURL *url.URL
	apiKey  string
	http    *http.Client
	limiter *RateLimiter
}

// NewClient creates a provider client. A nil limiter uses DefaultRateLimit.
func NewClient(baseURL, apiKey string, limiter *RateLimiter) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: provider url %q", domain.ErrInvalidInput, baseURL)
	}
	if limiter == nil {
		limiter = NewRateLimiter(DefaultRateLimit)
	}
	return &Client{
		baseURL: u,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: DefaultTimeout},
		limiter: limiter,
	}, nil
}

// CountBookings returns the total a full sync will copy.
func (c *Client) CountBookings(ctx context.Context) (int, error) {
	var out struct {
		Count int `json:"count"`
	}
	if err := c.get(ctx, "count bookings", c.baseURL.JoinPath("bookings", "count"), &out); err != nil {
		return 0, err
	}
	return out.Count, nil
}

// FetchBookings returns the page starting at cursor.
func (c *Client) FetchBookings(ctx context.Context, cursor string, limit int) (domain.BookingPage, error) {
	u := c.baseURL.JoinPath("bookings")
	q := u.Query()
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	u.RawQuery = q.Encode()

	var page domain.BookingPage
	if err := c.get(ctx, "fetch bookings", u, &page); err != nil {
		return domain.BookingPage{}, err
	}
	return page, nil
}

func (c *Client) get(ctx context.Context, op string, u *url.URL, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return remote.TransportError(op, fmt.Errorf("rate limit wait: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return &domain.RemoteError{Kind: domain.KindValidation, Op: op, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return remote.TransportError(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		rerr := remote.StatusError(op, resp, time.Now())
		if rerr.Kind == domain.KindRateLimited {
			c.limiter.RecordRateLimit(rerr.RetryAfter)
		}
		return rerr
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, 16<<20)).Decode(out); err != nil {
		return &domain.RemoteError{Kind: domain.KindUnknown, Op: op, Err: fmt.Errorf("decoding response: %w", err)}
	}
	return nil
}
