package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/custodia-labs/propops/internal/adapters/driven/remote"
	"github.com/custodia-labs/propops/internal/core/domain"
	"github.com/custodia-labs/propops/internal/core/ports/driven"
	"github.com/custodia-labs/propops/internal/logger"
)

// Ensure OAuthRefresher implements the interface.
var _ driven.CredentialRefresher = (*OAuthRefresher)(nil)

// OAuthRefresher renews the stored credential with the OAuth2
// refresh_token grant.
type OAuthRefresher struct {
	store  *CredentialStore
	config *oauth2.Config
	client *http.Client
	now    func() time.Time
}

// NewOAuthRefresher creates a refresher for the given client credentials.
func NewOAuthRefresher(store *CredentialStore, cfg domain.AuthConfig) (*OAuthRefresher, error) {
	if cfg.TokenURL == "" {
		return nil, fmt.Errorf("%w: auth token url is required", domain.ErrInvalidInput)
	}
	return &OAuthRefresher{
		store: store,
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint: oauth2.Endpoint{
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		client: &http.Client{Timeout: 30 * time.Second},
		now:    time.Now,
	}, nil
}

// Refresh exchanges the stored refresh token and persists the result.
func (r *OAuthRefresher) Refresh(ctx context.Context) (domain.Credential, error) {
	const op = "refresh credential"

	cred, err := r.store.loadForAuth(ctx, op)
	if err != nil {
		return domain.Credential{}, err
	}
	if cred.RefreshToken == "" {
		return domain.Credential{}, domain.NewRemoteError(domain.KindAuthRequired, op, errors.New("no refresh token"))
	}

	// An empty access token makes the source refresh unconditionally.
	ctx = context.WithValue(ctx, oauth2.HTTPClient, r.client)
	tok, err := r.config.TokenSource(ctx, &oauth2.Token{RefreshToken: cred.RefreshToken}).Token()
	if err != nil {
		return domain.Credential{}, r.classify(op, err)
	}

	next := domain.Credential{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		ExpiresAt:    tok.Expiry,
	}
	if next.RefreshToken == "" {
		next.RefreshToken = cred.RefreshToken
	}
	if err := r.store.Save(ctx, next); err != nil {
		return domain.Credential{}, fmt.Errorf("saving refreshed credential: %w", err)
	}

	logger.Debug("credential refreshed, expires %s", next.ExpiresAt.Format(time.RFC3339))
	return next, nil
}

// classify maps token endpoint failures to error kinds.
func (r *OAuthRefresher) classify(op string, err error) error {
	var rerr *oauth2.RetrieveError
	if !errors.As(err, &rerr) || rerr.Response == nil {
		return remote.TransportError(op, err)
	}

	status := rerr.Response.StatusCode
	out := &domain.RemoteError{Op: op, StatusCode: status, Err: err}
	switch {
	case status == http.StatusBadRequest, status == http.StatusUnauthorized:
		// invalid_grant and invalid_client: the user has to sign in again.
		out.Kind = domain.KindAuthRequired
	case status == http.StatusTooManyRequests:
		out.Kind = domain.KindRateLimited
		out.RetryAfter = remote.ParseRetryAfter(rerr.Response.Header.Get("Retry-After"), r.now())
	case status >= 500:
		out.Kind = domain.KindTransientNetwork
	default:
		out.Kind = remote.Classify(status)
	}
	return out
}
