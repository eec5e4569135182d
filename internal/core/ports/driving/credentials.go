package driving

import (
	"context"

	"github.com/custodia-labs/propops/internal/core/domain"
)

// CredentialService manages the stored session credential.
type CredentialService interface {
	// Load returns the stored credential, or domain.ErrNotFound.
	Load(ctx context.Context) (domain.Credential, error)

	// Save replaces the stored credential.
	Save(ctx context.Context, cred domain.Credential) error

	// Clear removes the stored credential.
	Clear(ctx context.Context) error
}

// TokenRefresher renews the session credential on demand.
type TokenRefresher interface {
	// Refresh renews the credential now, sharing any refresh in flight.
	Refresh(ctx context.Context) (domain.Credential, error)
}
