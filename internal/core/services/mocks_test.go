package services

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/custodia-labs/propops/internal/adapters/driven/clock"
	"github.com/custodia-labs/propops/internal/core/domain"
	"github.com/custodia-labs/propops/internal/core/ports/driven"
)

var testEpoch = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

func newTestClock() *clock.Fake {
	return clock.NewFake(testEpoch)
}

// --- KV store ---

// mockKVStore implements driven.KVStore for testing.
type mockKVStore struct {
	mu     sync.RWMutex
	data   map[string][]byte
	setErr error
	sets   int
}

func newMockKVStore() *mockKVStore {
	return &mockKVStore{data: make(map[string][]byte)}
}

func (m *mockKVStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (m *mockKVStore) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.setErr != nil {
		return m.setErr
	}
	m.sets++
	m.data[key] = append([]byte(nil), value...)
	return nil
}

func (m *mockKVStore) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *mockKVStore) Keys(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var keys []string
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *mockKVStore) has(key string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.data[key]
	return ok
}

// --- Remote client ---

// mockRemote implements driven.RemoteClient for testing. applyFn decides the
// outcome of each Apply; every attempt is recorded in order.
type mockRemote struct {
	mu       sync.Mutex
	fetchFn  func(ctx context.Context, resource string) (json.RawMessage, error)
	applyFn  func(ctx context.Context, m domain.QueuedMutation) error
	attempts []string
	applied  []string
	fetches  int
}

func (r *mockRemote) Fetch(ctx context.Context, resource string) (json.RawMessage, error) {
	r.mu.Lock()
	r.fetches++
	fn := r.fetchFn
	r.mu.Unlock()
	if fn == nil {
		return json.RawMessage(`{}`), nil
	}
	return fn(ctx, resource)
}

func (r *mockRemote) Apply(ctx context.Context, m domain.QueuedMutation) error {
	r.mu.Lock()
	r.attempts = append(r.attempts, string(m.Payload))
	fn := r.applyFn
	r.mu.Unlock()

	var err error
	if fn != nil {
		err = fn(ctx, m)
	}
	if err == nil {
		r.mu.Lock()
		r.applied = append(r.applied, string(m.Payload))
		r.mu.Unlock()
	}
	return err
}

func (r *mockRemote) appliedPayloads() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.applied...)
}

func (r *mockRemote) attemptedPayloads() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.attempts...)
}

func (r *mockRemote) fetchCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fetches
}

func transientErr() error {
	return domain.NewRemoteError(domain.KindTransientNetwork, "apply", nil)
}

// --- Change feed ---

// mockFeed implements driven.ChangeFeed with synchronous delivery.
type mockFeed struct {
	mu       sync.Mutex
	handlers map[string]map[int]func(domain.ChangeEvent)
	next     int
}

func newMockFeed() *mockFeed {
	return &mockFeed{handlers: make(map[string]map[int]func(domain.ChangeEvent))}
}

type mockFeedSub struct {
	feed    *mockFeed
	channel string
	id      int
}

func (f *mockFeed) Subscribe(_ context.Context, channel string, handler func(domain.ChangeEvent)) (driven.FeedSubscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.handlers[channel] == nil {
		f.handlers[channel] = make(map[int]func(domain.ChangeEvent))
	}
	f.next++
	f.handlers[channel][f.next] = handler
	return &mockFeedSub{feed: f, channel: channel, id: f.next}, nil
}

func (s *mockFeedSub) Unsubscribe() error {
	s.feed.mu.Lock()
	defer s.feed.mu.Unlock()
	delete(s.feed.handlers[s.channel], s.id)
	return nil
}

func (f *mockFeed) publish(channel string) {
	f.mu.Lock()
	var hs []func(domain.ChangeEvent)
	for _, h := range f.handlers[channel] {
		hs = append(hs, h)
	}
	f.mu.Unlock()
	for _, h := range hs {
		h(domain.ChangeEvent{Channel: channel})
	}
}

func (f *mockFeed) subscribers(channel string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.handlers[channel])
}
