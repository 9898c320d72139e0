package misc

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/sandbox-runtime/clock"
	"github.com/wippyai/sandbox-runtime/errors"
	"github.com/wippyai/sandbox-runtime/nanny"
)

func newNanny(t *testing.T, onAbort nanny.AbortFunc) (*nanny.Nanny, *clock.FakeClock) {
	t.Helper()
	fc := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	opts := []nanny.Option{nanny.WithClock(fc)}
	if onAbort != nil {
		opts = append(opts, nanny.WithAbort(onAbort))
	}
	n, err := nanny.New(nanny.Definitions{Limits: map[nanny.Name]float64{
		nanny.CPU:      1,
		nanny.Memory:   1 << 30,
		nanny.DiskUsed: 1 << 30,
		nanny.Random:   10,
		nanny.LogRate:  100,
	}}, opts...)
	require.NoError(t, err)
	return n, fc
}

func TestRandomFloat(t *testing.T) {
	n, _ := newNanny(t, nil)
	h := NewHost(n)

	for range 5 {
		v, err := h.RandomFloat()
		require.NoError(t, err)
		assert.GreaterOrEqual(t, v, 0.0)
		assert.Less(t, v, 1.0)
	}
	assert.Equal(t, 5.0, n.Usage(nanny.Random))
}

func TestRandomFloatBounds(t *testing.T) {
	n, _ := newNanny(t, nil)

	zero := NewHost(n, WithRandom(bytes.NewReader(make([]byte, 8))))
	v, err := zero.RandomFloat()
	require.NoError(t, err)
	assert.Equal(t, 0.0, v)

	ones := NewHost(n, WithRandom(bytes.NewReader(bytes.Repeat([]byte{0xff}, 8))))
	v, err = ones.RandomFloat()
	require.NoError(t, err)
	assert.Less(t, v, 1.0)

	empty := NewHost(n, WithRandom(bytes.NewReader(nil)))
	_, err = empty.RandomFloat()
	assert.True(t, errors.Is(err, errors.ErrInvalidData))
}

func TestRandomFloatThrottles(t *testing.T) {
	n, fc := newNanny(t, nil)
	h := NewHost(n)

	for range 20 {
		_, err := h.RandomFloat()
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, fc.Slept(), 900*time.Millisecond)
}

func TestLog(t *testing.T) {
	n, _ := newNanny(t, nil)
	var out bytes.Buffer
	h := NewHost(n, WithOutput(&out), WithTailSize(8))

	require.NoError(t, h.Log("hello "))
	require.NoError(t, h.Log("world\n"))
	assert.Equal(t, "hello world\n", out.String())
	assert.Equal(t, "o world\n", string(h.Tail()))
	assert.Equal(t, 12.0, n.Usage(nanny.LogRate))
}

func TestRing(t *testing.T) {
	r := newRing(4)
	r.Write([]byte("ab"))
	assert.Equal(t, "ab", string(r.Bytes()))
	r.Write([]byte("cde"))
	assert.Equal(t, "bcde", string(r.Bytes()))
	r.Write([]byte(strings.Repeat("x", 10)))
	assert.Equal(t, "xxxx", string(r.Bytes()))
}

func TestGetRuntime(t *testing.T) {
	n, fc := newNanny(t, nil)
	h := NewHost(n)

	fc.Advance(3 * time.Second)
	assert.Equal(t, 3*time.Second, h.GetRuntime())
}

func TestExitAll(t *testing.T) {
	var codes []int
	n, _ := newNanny(t, func(code int, _ error) { codes = append(codes, code) })
	h := NewHost(n)

	h.ExitAll()
	h.ExitAll()
	assert.Equal(t, []int{errors.ExitExitAll}, codes)
	assert.True(t, n.Aborted())
}

func TestGetResources(t *testing.T) {
	n, _ := newNanny(t, nil)
	h := NewHost(n)

	_, err := h.RandomFloat()
	require.NoError(t, err)

	r := h.GetResources()
	assert.Equal(t, 10.0, r.Limits[nanny.Random])
	assert.Equal(t, 1.0, r.Usage[nanny.Random])
}

func TestLock(t *testing.T) {
	n, _ := newNanny(t, nil)
	h := NewHost(n)
	l := h.GetLock()

	assert.True(t, l.Acquire(false))
	assert.False(t, l.Acquire(false))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, l.AcquireContext(ctx), context.DeadlineExceeded)

	acquired := make(chan struct{})
	go func() {
		l.Acquire(true)
		close(acquired)
	}()
	require.NoError(t, l.Release())
	select {
	case <-acquired:
	case <-time.After(5 * time.Second):
		t.Fatal("blocked acquire did not wake")
	}

	require.NoError(t, l.Release())
	err := l.Release()
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidArgument))

	assert.NotSame(t, l, h.GetLock())
}
