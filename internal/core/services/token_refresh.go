package services

import (
	"context"
	"sync"
	"time"

	"github.com/custodia-labs/propops/internal/core/domain"
	"github.com/custodia-labs/propops/internal/core/ports/driven"
	"github.com/custodia-labs/propops/internal/core/ports/driving"
	"github.com/custodia-labs/propops/internal/logger"
)

// Ensure TokenRefreshScheduler implements the interface.
var _ driving.TokenRefresher = (*TokenRefreshScheduler)(nil)

const tokenRefreshKey = "token-refresh"

// TokenRefreshScheduler renews the session credential ahead of expiry.
// One instance is owned by each Session; at most one timer is outstanding,
// and real refresh attempts are spaced at least MinInterval apart.
type TokenRefreshScheduler struct {
	refresher   driven.CredentialRefresher
	clock       driven.Clock
	coalescer   *Coalescer
	leadTime    time.Duration
	minInterval time.Duration

	// OnRefreshed runs after every successful refresh.
	OnRefreshed func(domain.Credential)

	life   context.Context
	cancel context.CancelFunc

	mu            sync.Mutex
	timer         driven.Timer
	gen           uint64
	targetAt      time.Time
	lastRefreshAt time.Time
	disposed      bool
}

// NewTokenRefreshScheduler creates a scheduler with the auth section of the config.
func NewTokenRefreshScheduler(
	refresher driven.CredentialRefresher,
	clock driven.Clock,
	coalescer *Coalescer,
	cfg domain.AuthConfig,
) *TokenRefreshScheduler {
	life, cancel := context.WithCancel(context.Background())
	return &TokenRefreshScheduler{
		refresher:   refresher,
		clock:       clock,
		coalescer:   coalescer,
		leadTime:    cfg.LeadTime.Std(),
		minInterval: cfg.MinInterval.Std(),
		life:        life,
		cancel:      cancel,
	}
}

// ScheduleRefresh arms the single refresh timer for expiresAt - leadTime,
// replacing any earlier one. When the last real refresh happened less than
// minInterval ago the target is pushed back to honour the interval.
func (s *TokenRefreshScheduler) ScheduleRefresh(expiresAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return
	}

	refreshAt := expiresAt.Add(-s.leadTime)
	if !s.lastRefreshAt.IsZero() {
		if earliest := s.lastRefreshAt.Add(s.minInterval); refreshAt.Before(earliest) {
			refreshAt = earliest
		}
	}

	s.stopLocked()
	s.targetAt = refreshAt

	delay := refreshAt.Sub(s.clock.Now())
	if delay < 0 {
		delay = 0
	}
	gen := s.gen
	s.timer = s.clock.AfterFunc(delay, func() { s.fire(gen) })
	logger.Debug("token refresh scheduled for %s (in %s)", refreshAt.Format(time.RFC3339), delay)
}

// Refresh performs a refresh now. Concurrent triggers share one call.
// Unlike the timer path, the error is returned to the caller.
func (s *TokenRefreshScheduler) Refresh(ctx context.Context) (domain.Credential, error) {
	return Coalesce(ctx, s.coalescer, tokenRefreshKey, func(ctx context.Context) (domain.Credential, error) {
		s.mu.Lock()
		if s.disposed {
			s.mu.Unlock()
			return domain.Credential{}, domain.ErrDisposed
		}
		s.lastRefreshAt = s.clock.Now()
		s.mu.Unlock()

		ctx, cancel := ownedBy(ctx, s.life)
		defer cancel()
		cred, err := s.refresher.Refresh(ctx)
		if err != nil {
			return domain.Credential{}, err
		}

		s.mu.Lock()
		disposed := s.disposed
		s.mu.Unlock()
		if disposed {
			return domain.Credential{}, domain.ErrDisposed
		}

		if !cred.ExpiresAt.IsZero() {
			s.ScheduleRefresh(cred.ExpiresAt)
		}
		if s.OnRefreshed != nil {
			s.OnRefreshed(cred)
		}
		return cred, nil
	})
}

// TargetAt returns the time the outstanding timer is aimed at, or zero.
func (s *TokenRefreshScheduler) TargetAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer == nil {
		return time.Time{}
	}
	return s.targetAt
}

// LastRefreshAt returns when the last real refresh attempt started.
func (s *TokenRefreshScheduler) LastRefreshAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRefreshAt
}

// Dispose cancels the outstanding timer and the context of an in-flight
// refresh; a refresh that still completes is not reported to OnRefreshed.
// Later ScheduleRefresh calls are ignored.
func (s *TokenRefreshScheduler) Dispose() {
	s.mu.Lock()
	s.disposed = true
	s.stopLocked()
	s.mu.Unlock()
	s.cancel()
}

func (s *TokenRefreshScheduler) fire(gen uint64) {
	s.mu.Lock()
	if s.disposed || gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	s.mu.Unlock()

	// Failures leave the stale credential in place; the next rejected call
	// sends the user through re-authentication.
	if _, err := s.Refresh(s.life); err != nil {
		logger.Warn("token refresh failed (%s): %v", domain.KindOf(err), err)
	}
}

func (s *TokenRefreshScheduler) stopLocked() {
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
