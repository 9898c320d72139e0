package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFakeSleepAdvances(t *testing.T) {
	c := Fake(epoch)
	c.Sleep(3 * time.Second)
	c.Sleep(-time.Second)

	assert.Equal(t, epoch.Add(3*time.Second), c.Now())
	assert.Equal(t, 3*time.Second, c.Slept())
}

func TestFakeAfterFuncOrder(t *testing.T) {
	c := Fake(epoch)
	var order []int
	c.AfterFunc(2*time.Second, func() { order = append(order, 2) })
	c.AfterFunc(time.Second, func() { order = append(order, 1) })
	require.Equal(t, 2, c.Pending())

	c.Advance(500 * time.Millisecond)
	assert.Empty(t, order)

	c.Advance(2 * time.Second)
	assert.Equal(t, []int{1, 2}, order)
	assert.Zero(t, c.Pending())
}

func TestFakeTimerStop(t *testing.T) {
	c := Fake(epoch)
	ran := false
	timer := c.AfterFunc(time.Second, func() { ran = true })

	assert.True(t, timer.Stop())
	assert.False(t, timer.Stop())
	c.Advance(time.Minute)
	assert.False(t, ran)
}

func TestFakeStopAfterFire(t *testing.T) {
	c := Fake(epoch)
	timer := c.AfterFunc(time.Second, func() {})
	c.Sleep(time.Second)
	assert.False(t, timer.Stop())
}

func TestFakeImmediate(t *testing.T) {
	c := Fake(epoch)
	ran := false
	timer := c.AfterFunc(0, func() { ran = true })
	assert.True(t, ran)
	assert.False(t, timer.Stop())
}

func TestRealAfterFunc(t *testing.T) {
	done := make(chan struct{})
	Real().AfterFunc(time.Millisecond, func() { close(done) })
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("callback never ran")
	}
}
