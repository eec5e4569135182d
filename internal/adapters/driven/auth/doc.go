// Package auth renews and serves the session credential.
//
// The credential is persisted in the KV store under CredentialKey. The
// OAuthRefresher exchanges its refresh token through golang.org/x/oauth2;
// the TokenSource hands the stored access token to HTTP clients.
package auth
