package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/custodia-labs/propops/internal/core/domain"
	"github.com/custodia-labs/propops/internal/core/ports/driven"
	"github.com/custodia-labs/propops/internal/core/ports/driving"
	"github.com/custodia-labs/propops/internal/logger"
)

// ProfileChannel is the change channel whose events invalidate cached profiles.
const ProfileChannel = "profiles"

// SessionDeps are the collaborators a Session is built from.
// Optional collaborators may be nil.
type SessionDeps struct {
	Config domain.Config
	Store  driven.KVStore
	Remote driven.RemoteClient
	Clock  driven.Clock

	Feed      driven.ChangeFeed
	Refresher driven.CredentialRefresher
	Provider  driven.BookingProvider
	Sink      driven.BookingSink
	Validator driven.PayloadValidator

	// Credential is the credential the session starts with. Its expiry
	// arms the first token refresh.
	Credential *domain.Credential

	// OnDeadLetter surfaces mutations that need manual attention.
	OnDeadLetter func(domain.DeadLetter)

	// OnAuthRequired is called when the remote side rejects the credential.
	OnAuthRequired func(error)
}

// Session owns every resilience component for one signed-in user. It is
// built at session start and torn down with Dispose at logout.
type Session struct {
	Coalescer *Coalescer
	Profiles  *ResourceCache
	Queue     *MutationQueue
	Changes   *ChangeService
	Tokens    *TokenRefreshScheduler
	Sync      *SyncOrchestrator

	remote         driven.RemoteClient
	clock          driven.Clock
	onAuthRequired func(error)

	life   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	online     bool
	disposed   bool
	profileSub *Subscription
}

// Ensure Session implements the interface.
var _ driving.Writer = (*Session)(nil)

// NewSession constructs and starts all components.
func NewSession(ctx context.Context, deps SessionDeps) (*Session, error) {
	if deps.Store == nil || deps.Remote == nil || deps.Clock == nil {
		return nil, fmt.Errorf("%w: session requires a store, a remote client and a clock", domain.ErrInvalidInput)
	}
	cfg := deps.Config

	life, cancel := context.WithCancel(context.WithoutCancel(ctx))
	coalescer := NewCoalescer()

	profileCache := NewTTLCache[json.RawMessage](CacheOptionsFromConfig("profiles", cfg.Cache), deps.Clock, deps.Store, coalescer)

	s := &Session{
		Coalescer:      coalescer,
		Profiles:       NewResourceCache(deps.Remote, profileCache),
		Queue:          NewMutationQueue(deps.Store, deps.Remote, deps.Validator, deps.Clock, coalescer, QueueOptionsFromConfig(cfg.Queue)),
		Changes:        NewChangeService(deps.Feed, deps.Clock, coalescer, cfg.Changes.MinInterval.Std()),
		remote:         deps.Remote,
		clock:          deps.Clock,
		onAuthRequired: deps.OnAuthRequired,
		life:           life,
		cancel:         cancel,
		online:         true,
	}
	s.Queue.OnDeadLetter = deps.OnDeadLetter

	if deps.Provider != nil && deps.Sink != nil {
		s.Sync = NewSyncOrchestrator(deps.Provider, deps.Sink, deps.Clock, SyncOptionsFromConfig(cfg.Sync))
	}

	if deps.Refresher != nil {
		s.Tokens = NewTokenRefreshScheduler(deps.Refresher, deps.Clock, coalescer, cfg.Auth)
		s.Tokens.OnRefreshed = func(domain.Credential) {
			s.Profiles.InvalidatePrefix(ProfileChannel + "/")
		}
		if deps.Credential != nil && !deps.Credential.ExpiresAt.IsZero() {
			s.Tokens.ScheduleRefresh(deps.Credential.ExpiresAt)
		}
	}

	if deps.Feed != nil {
		sub, err := s.Changes.Subscribe(ctx, ProfileChannel, func(context.Context) error {
			s.Profiles.InvalidatePrefix(ProfileChannel + "/")
			return nil
		})
		if err != nil {
			s.Dispose()
			return nil, fmt.Errorf("start session: %w", err)
		}
		s.profileSub = sub
	}

	logger.Debug("session started")
	return s, nil
}

// Mutate writes m. Online writes go straight to the remote service unless
// earlier mutations of the same entity are still queued. Offline writes and
// retryable failures are queued and reported as accepted.
func (s *Session) Mutate(ctx context.Context, m domain.QueuedMutation) (domain.MutationReceipt, error) {
	s.mu.Lock()
	disposed, online := s.disposed, s.online
	s.mu.Unlock()
	if disposed {
		return domain.MutationReceipt{}, domain.ErrDisposed
	}
	if err := m.Validate(); err != nil {
		return domain.MutationReceipt{}, err
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.clock.Now()
	}

	if online {
		blocked, err := s.Queue.HasPendingFor(ctx, m.EntityType, m.EntityID)
		if err != nil {
			return domain.MutationReceipt{}, err
		}
		if !blocked {
			err := s.remote.Apply(ctx, m)
			if err == nil {
				return domain.MutationReceipt{Mutation: m}, nil
			}
			switch kind := domain.KindOf(err); {
			case kind == domain.KindAuthRequired:
				s.authRequired(err)
				return domain.MutationReceipt{}, err
			case !kind.Retryable():
				return domain.MutationReceipt{}, err
			}
			logger.Debug("session: write %s failed, queueing: %v", m.EntityKey(), err)
		}
	}

	queued, err := s.Queue.Enqueue(ctx, m)
	if err != nil {
		return domain.MutationReceipt{}, err
	}
	return domain.MutationReceipt{Mutation: queued, Queued: true}, nil
}

// SetOnline records connectivity. A transition to online starts a flush in
// the background.
func (s *Session) SetOnline(online bool) {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	reconnected := online && !s.online
	s.online = online
	if reconnected {
		s.wg.Add(1)
	}
	s.mu.Unlock()

	if !reconnected {
		return
	}
	logger.Info("session: reconnected, flushing queue")
	go func() {
		defer s.wg.Done()
		if _, err := s.Flush(s.life); err != nil {
			logger.Warn("session: flush after reconnect: %v", err)
		}
	}()
}

// Online reports the last connectivity state.
func (s *Session) Online() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

// Flush delivers queued mutations and routes auth failures to the session
// handler.
func (s *Session) Flush(ctx context.Context) (domain.FlushResult, error) {
	res, err := s.Queue.Flush(ctx)
	if errors.Is(err, domain.ErrAuthRequired) {
		s.authRequired(err)
	}
	return res, err
}

// Wait blocks until background flushes started by SetOnline have finished.
func (s *Session) Wait() {
	s.wg.Wait()
}

// Dispose tears down every component in reverse construction order. Later
// calls fail with domain.ErrDisposed. Safe to call more than once.
func (s *Session) Dispose() {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	s.disposed = true
	s.mu.Unlock()

	s.Changes.Close()
	if s.Tokens != nil {
		s.Tokens.Dispose()
	}
	if s.Sync != nil {
		s.Sync.Close()
	}
	s.cancel()
	s.Coalescer.Close()
	s.wg.Wait()
	s.Queue.Close()
	s.Profiles.Close()
	logger.Debug("session disposed")
}

func (s *Session) authRequired(err error) {
	logger.Warn("session: re-authentication required: %v", err)
	if s.onAuthRequired != nil {
		s.onAuthRequired(err)
	}
}
