package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestErrors_Existence tests that all error variables exist and are not nil
func TestErrors_Existence(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"ErrNotFound", ErrNotFound},
		{"ErrInvalidInput", ErrInvalidInput},
		{"ErrSyncInProgress", ErrSyncInProgress},
		{"ErrSyncCoolingDown", ErrSyncCoolingDown},
		{"ErrAuthRequired", ErrAuthRequired},
		{"ErrDisposed", ErrDisposed},
		{"ErrQueueClosed", ErrQueueClosed},
		{"ErrNoCredential", ErrNoCredential},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotNil(t, tt.err)
			assert.NotEmpty(t, tt.err.Error())
		})
	}
}

func TestErrNotFound(t *testing.T) {
	assert.Equal(t, "not found", ErrNotFound.Error())
	assert.True(t, errors.Is(ErrNotFound, ErrNotFound))
	assert.False(t, errors.Is(ErrNotFound, ErrInvalidInput))
}

func TestErrSyncInProgress_Distinct(t *testing.T) {
	assert.False(t, errors.Is(ErrSyncInProgress, ErrSyncCoolingDown))
	assert.False(t, errors.Is(ErrSyncCoolingDown, ErrSyncInProgress))
}
