// Package clock provides driven.Clock implementations: Real for production
// and Fake for deterministic tests.
package clock

import (
	"time"

	"github.com/custodia-labs/propops/internal/core/ports/driven"
)

// Verify interface compliance.
var _ driven.Clock = Real{}

// Real is the wall clock backed by the time package.
type Real struct{}

// New returns the wall clock.
func New() Real {
	return Real{}
}

// Now returns time.Now().
func (Real) Now() time.Time {
	return time.Now()
}

// AfterFunc wraps time.AfterFunc.
func (Real) AfterFunc(d time.Duration, fn func()) driven.Timer {
	return time.AfterFunc(d, fn)
}
