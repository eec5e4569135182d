package feed

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/custodia-labs/propops/internal/core/domain"
)

func TestRegistry_AddRemoveFirstLast(t *testing.T) {
	r := NewRegistry()

	id1, first := r.Add("profiles", func(domain.ChangeEvent) {})
	assert.True(t, first)
	id2, first := r.Add("profiles", func(domain.ChangeEvent) {})
	assert.False(t, first)
	assert.Equal(t, 2, r.Count("profiles"))

	assert.False(t, r.Remove("profiles", id1))
	assert.False(t, r.Remove("profiles", id1))
	assert.True(t, r.Remove("profiles", id2))
	assert.Empty(t, r.Channels())
}

func TestRegistry_DispatchByChannel(t *testing.T) {
	r := NewRegistry()
	var got []string
	r.Add("profiles", func(ev domain.ChangeEvent) { got = append(got, "p:"+ev.EntityID) })
	r.Add("bookings", func(ev domain.ChangeEvent) { got = append(got, "b:"+ev.EntityID) })

	assert.Equal(t, 1, r.Dispatch(domain.ChangeEvent{Channel: "profiles", EntityID: "1"}))
	assert.Equal(t, 0, r.Dispatch(domain.ChangeEvent{Channel: "tasks", EntityID: "2"}))
	assert.Equal(t, []string{"p:1"}, got)
	assert.Equal(t, []string{"bookings", "profiles"}, r.Channels())
}

func TestRegistry_HandlerMayUnsubscribeDuringDispatch(t *testing.T) {
	r := NewRegistry()
	var id uint64
	calls := 0
	id, _ = r.Add("profiles", func(domain.ChangeEvent) {
		calls++
		r.Remove("profiles", id)
	})

	r.Dispatch(domain.ChangeEvent{Channel: "profiles"})
	r.Dispatch(domain.ChangeEvent{Channel: "profiles"})
	assert.Equal(t, 1, calls)
}

func TestSubscription_UnsubscribeOnce(t *testing.T) {
	calls := 0
	sub := NewSubscription(func() error { calls++; return nil })

	assert.NoError(t, sub.Unsubscribe())
	assert.NoError(t, sub.Unsubscribe())
	assert.Equal(t, 1, calls)
}
