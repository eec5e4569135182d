package auth

import (
	"context"

	"golang.org/x/oauth2"
)

// TokenSource serves the stored access token to oauth2 HTTP clients.
// It never refreshes: renewal is scheduled ahead of expiry elsewhere, and
// a stale token surfaces as an auth-required response.
type TokenSource struct {
	ctx   context.Context
	store *CredentialStore
}

// NewTokenSource creates a token source reading from store.
func NewTokenSource(ctx context.Context, store *CredentialStore) *TokenSource {
	return &TokenSource{ctx: ctx, store: store}
}

// Token implements oauth2.TokenSource.
func (t *TokenSource) Token() (*oauth2.Token, error) {
	cred, err := t.store.loadForAuth(t.ctx, "load credential")
	if err != nil {
		return nil, err
	}
	tokenType := cred.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}
	return &oauth2.Token{
		AccessToken: cred.AccessToken,
		TokenType:   tokenType,
		Expiry:      cred.ExpiresAt,
	}, nil
}
