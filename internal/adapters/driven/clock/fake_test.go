package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var epoch = time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)

func TestFake_AdvanceFiresDueTimers(t *testing.T) {
	c := NewFake(epoch)
	var fired []string

	c.AfterFunc(2*time.Second, func() { fired = append(fired, "b") })
	c.AfterFunc(1*time.Second, func() { fired = append(fired, "a") })
	c.AfterFunc(5*time.Second, func() { fired = append(fired, "c") })

	c.Advance(3 * time.Second)

	assert.Equal(t, []string{"a", "b"}, fired)
	assert.Equal(t, epoch.Add(3*time.Second), c.Now())
	assert.Equal(t, 1, c.Pending())
}

func TestFake_CallbackSeesDeadlineTime(t *testing.T) {
	c := NewFake(epoch)
	var seen time.Time

	c.AfterFunc(time.Second, func() { seen = c.Now() })
	c.Advance(10 * time.Second)

	assert.Equal(t, epoch.Add(time.Second), seen)
}

func TestFake_ChainedTimersWithinWindow(t *testing.T) {
	c := NewFake(epoch)
	count := 0

	var tick func()
	tick = func() {
		count++
		if count < 3 {
			c.AfterFunc(time.Second, tick)
		}
	}
	c.AfterFunc(time.Second, tick)

	c.Advance(5 * time.Second)
	assert.Equal(t, 3, count)
	assert.Equal(t, []time.Duration{time.Second, time.Second, time.Second}, c.Delays())
}

func TestFake_Stop(t *testing.T) {
	c := NewFake(epoch)
	fired := false

	timer := c.AfterFunc(time.Second, func() { fired = true })
	assert.True(t, timer.Stop())
	assert.False(t, timer.Stop())

	c.Advance(time.Minute)
	assert.False(t, fired)
	assert.Equal(t, 0, c.Pending())
}

func TestFake_StopAfterFire(t *testing.T) {
	c := NewFake(epoch)
	timer := c.AfterFunc(time.Second, func() {})
	c.Advance(time.Second)
	assert.False(t, timer.Stop())
}

func TestReal_AfterFunc(t *testing.T) {
	done := make(chan struct{})
	New().AfterFunc(time.Millisecond, func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}
}
