package feed

import (
	"sort"
	"sync"

	"github.com/custodia-labs/propops/internal/core/domain"
)

// Handler receives change events.
type Handler func(domain.ChangeEvent)

// Registry tracks handlers per channel. Handlers are invoked outside the
// lock so they may subscribe or unsubscribe.
type Registry struct {
	mu       sync.Mutex
	handlers map[string]map[uint64]Handler
	nextID   uint64
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]map[uint64]Handler)}
}

// Add registers h on channel. first reports whether channel had no
// handlers before.
func (r *Registry) Add(channel string, h Handler) (id uint64, first bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	hs := r.handlers[channel]
	if hs == nil {
		hs = make(map[uint64]Handler)
		r.handlers[channel] = hs
	}
	r.nextID++
	hs[r.nextID] = h
	return r.nextID, len(hs) == 1
}

// Remove drops handler id. last reports whether channel is now empty;
// removing an unknown id reports false.
func (r *Registry) Remove(channel string, id uint64) (last bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	hs, ok := r.handlers[channel]
	if !ok {
		return false
	}
	if _, ok := hs[id]; !ok {
		return false
	}
	delete(hs, id)
	if len(hs) == 0 {
		delete(r.handlers, channel)
		return true
	}
	return false
}

// Dispatch delivers ev to every handler on ev.Channel and returns how many
// handlers ran.
func (r *Registry) Dispatch(ev domain.ChangeEvent) int {
	r.mu.Lock()
	hs := make([]Handler, 0, len(r.handlers[ev.Channel]))
	for _, h := range r.handlers[ev.Channel] {
		hs = append(hs, h)
	}
	r.mu.Unlock()

	for _, h := range hs {
		h(ev)
	}
	return len(hs)
}

// Channels lists channels with at least one handler, sorted.
func (r *Registry) Channels() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.handlers))
	for ch := range r.handlers {
		out = append(out, ch)
	}
	sort.Strings(out)
	return out
}

// Count returns the number of handlers on channel.
func (r *Registry) Count(channel string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handlers[channel])
}

// Subscription is a FeedSubscription whose Unsubscribe runs once.
type Subscription struct {
	once   sync.Once
	cancel func() error
}

// NewSubscription wraps cancel.
func NewSubscription(cancel func() error) *Subscription {
	return &Subscription{cancel: cancel}
}

// Unsubscribe runs the cancel function on the first call only.
func (s *Subscription) Unsubscribe() error {
	var err error
	s.once.Do(func() { err = s.cancel() })
	return err
}
