package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/custodia-labs/propops/internal/core/domain"
	"github.com/custodia-labs/propops/internal/core/ports/driven"
	"github.com/custodia-labs/propops/internal/core/ports/driving"
)

// Ensure CredentialStore implements the interface.
var _ driving.CredentialService = (*CredentialStore)(nil)

// CredentialKey is where the credential lives in the KV store.
const CredentialKey = "auth/credential"

// CredentialStore persists the session credential as JSON.
type CredentialStore struct {
	kv driven.KVStore
}

// NewCredentialStore creates a credential store over kv.
func NewCredentialStore(kv driven.KVStore) *CredentialStore {
	return &CredentialStore{kv: kv}
}

// Load returns the stored credential, or domain.ErrNotFound.
func (s *CredentialStore) Load(ctx context.Context) (domain.Credential, error) {
	data, err := s.kv.Get(ctx, CredentialKey)
	if err != nil {
		return domain.Credential{}, err
	}
	var cred domain.Credential
	if err := json.Unmarshal(data, &cred); err != nil {
		return domain.Credential{}, fmt.Errorf("decoding credential: %w", err)
	}
	return cred, nil
}

// Save replaces the stored credential.
func (s *CredentialStore) Save(ctx context.Context, cred domain.Credential) error {
	if cred.AccessToken == "" && cred.RefreshToken == "" {
		return fmt.Errorf("%w: credential has no tokens", domain.ErrInvalidInput)
	}
	data, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("encoding credential: %w", err)
	}
	return s.kv.Set(ctx, CredentialKey, data)
}

// Clear removes the stored credential.
func (s *CredentialStore) Clear(ctx context.Context) error {
	return s.kv.Remove(ctx, CredentialKey)
}

// loadForAuth maps a missing credential to an auth-required error.
func (s *CredentialStore) loadForAuth(ctx context.Context, op string) (domain.Credential, error) {
	cred, err := s.Load(ctx)
	if errors.Is(err, domain.ErrNotFound) {
		return cred, domain.NewRemoteError(domain.KindAuthRequired, op, errors.New("no stored credential"))
	}
	if err != nil {
		return cred, err
	}
	return cred, nil
}
