package driven

import (
	"context"

	"github.com/custodia-labs/propops/internal/core/domain"
)

// CredentialRefresher renews the session credential.
type CredentialRefresher interface {
	// Refresh exchanges the stored refresh token for a new credential and
	// persists it. Errors classify as domain.KindAuthRequired when the
	// refresh token itself was rejected.
	Refresh(ctx context.Context) (domain.Credential, error)
}
