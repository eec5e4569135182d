package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/propops/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/propops/internal/core/domain"
)

func TestTokenSource_ReadsLatestCredential(t *testing.T) {
	store := NewCredentialStore(memory.NewKVStore())
	ts := NewTokenSource(context.Background(), store)
	expiry := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	seed(t, store, domain.Credential{AccessToken: "a-1", ExpiresAt: expiry})
	tok, err := ts.Token()
	require.NoError(t, err)
	assert.Equal(t, "a-1", tok.AccessToken)
	assert.Equal(t, "Bearer", tok.TokenType)
	assert.True(t, expiry.Equal(tok.Expiry))

	seed(t, store, domain.Credential{AccessToken: "a-2", TokenType: "MAC"})
	tok, err = ts.Token()
	require.NoError(t, err)
	assert.Equal(t, "a-2", tok.AccessToken)
	assert.Equal(t, "MAC", tok.TokenType)
}

func TestTokenSource_Missing(t *testing.T) {
	ts := NewTokenSource(context.Background(), NewCredentialStore(memory.NewKVStore()))

	_, err := ts.Token()
	assert.ErrorIs(t, err, domain.ErrAuthRequired)
}

func TestCredentialStore_SaveRejectsEmpty(t *testing.T) {
	store := NewCredentialStore(memory.NewKVStore())

	err := store.Save(context.Background(), domain.Credential{})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestCredentialStore_Clear(t *testing.T) {
	store := NewCredentialStore(memory.NewKVStore())
	seed(t, store, domain.Credential{AccessToken: "a"})

	require.NoError(t, store.Clear(context.Background()))
	_, err := store.Load(context.Background())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
