package nanny

import (
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/sandbox-runtime/clock"
	"github.com/wippyai/sandbox-runtime/errors"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

type aborts struct {
	mu    sync.Mutex
	codes []int
}

func (a *aborts) record(code int, _ error) {
	a.mu.Lock()
	a.codes = append(a.codes, code)
	a.mu.Unlock()
}

func (a *aborts) get() []int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]int(nil), a.codes...)
}

func baseDefinitions() Definitions {
	return Definitions{
		Limits: map[Name]float64{
			CPU:        0.5,
			Memory:     1 << 20,
			DiskUsed:   1 << 20,
			NetSend:    1000,
			FileRead:   4096,
			Events:     3,
			OutSockets: 1,
		},
		Allowed: map[Name][]int{
			ConnPort: {12345, 12346},
		},
	}
}

func newTestNanny(t *testing.T) (*Nanny, *clock.FakeClock, *aborts) {
	t.Helper()
	fc := clock.Fake(epoch)
	ab := &aborts{}
	n, err := New(baseDefinitions(), WithClock(fc), WithAbort(ab.record))
	require.NoError(t, err)
	return n, fc, ab
}

func TestDefinitionsValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Definitions)
	}{
		{"missing cpu", func(d *Definitions) { delete(d.Limits, CPU) }},
		{"missing diskused", func(d *Definitions) { delete(d.Limits, DiskUsed) }},
		{"unknown", func(d *Definitions) { d.Limits["bogus"] = 1 }},
		{"negative", func(d *Definitions) { d.Limits[NetRecv] = -1 }},
		{"fractional fungible", func(d *Definitions) { d.Limits[Events] = 1.5 }},
		{"port as limit", func(d *Definitions) { d.Limits[MessPort] = 80 }},
		{"list on renewable", func(d *Definitions) { d.Allowed[CPU] = []int{1} }},
		{"bad port", func(d *Definitions) { d.Allowed[MessPort] = []int{70000} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defs := baseDefinitions()
			tt.mutate(&defs)
			err := defs.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrInvalidData))

			_, err = New(defs)
			assert.Error(t, err)
		})
	}

	require.NoError(t, baseDefinitions().Validate())
}

func TestAdmitQuantityDecay(t *testing.T) {
	n, fc, _ := newTestNanny(t)

	require.NoError(t, n.AdmitQuantity(NetSend, 800))
	assert.InDelta(t, 800, n.Usage(NetSend), 1e-9)

	fc.Advance(500 * time.Millisecond)
	assert.InDelta(t, 300, n.Usage(NetSend), 1e-9)

	fc.Advance(time.Second)
	assert.Zero(t, n.Usage(NetSend))
	assert.Zero(t, fc.Slept())
}

func TestAdmitQuantityThrottle(t *testing.T) {
	n, fc, _ := newTestNanny(t)

	// Ten times the per-second rate in one burst.
	for i := 0; i < 10; i++ {
		require.NoError(t, n.AdmitQuantity(NetSend, 1000))
	}

	assert.InDelta(t, 9*time.Second, fc.Slept(), float64(10*time.Millisecond))
	assert.LessOrEqual(t, n.Usage(NetSend), 1000.0)

	report := n.Resources()
	require.NotEmpty(t, report.Stalls)
	assert.Equal(t, NetSend, report.Stalls[0].Resource)
}

func TestAdmitZeroWaitsForHeadroom(t *testing.T) {
	n, fc, _ := newTestNanny(t)

	require.NoError(t, n.AdmitQuantity(NetSend, 3000))
	slept := fc.Slept()
	assert.InDelta(t, 2*time.Second, slept, float64(time.Millisecond))
	assert.LessOrEqual(t, n.Usage(NetSend), 1000.0)

	// Already within the limit, so it returns without sleeping.
	require.NoError(t, n.AdmitQuantity(NetSend, 0))
	assert.Equal(t, slept, fc.Slept())
}

func TestAdmitQuantityFatal(t *testing.T) {
	tests := []struct {
		name     string
		resource Name
		amount   float64
		code     int
	}{
		{"negative", NetSend, -1, errors.ExitNegativeQuantity},
		{"not renewable", Events, 1, errors.ExitNotRenewable},
		{"unknown", "bogus", 1, errors.ExitUnknownResource},
		{"never drains", NetRecv, 1, errors.ExitLedgerCorrupt},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, _, ab := newTestNanny(t)
			err := n.AdmitQuantity(tt.resource, tt.amount)
			require.Error(t, err)
			code, ok := errors.FaultCode(err)
			require.True(t, ok)
			assert.Equal(t, tt.code, code)
			assert.Equal(t, []int{tt.code}, ab.get())
			assert.True(t, n.Aborted())
		})
	}
}

func TestAdmitZeroOnZeroLimit(t *testing.T) {
	n, _, ab := newTestNanny(t)
	require.NoError(t, n.AdmitQuantity(NetRecv, 0))
	assert.Empty(t, ab.get())
}

func TestAdmitItem(t *testing.T) {
	n, _, _ := newTestNanny(t)

	require.NoError(t, n.AdmitItem(OutSockets, 1))
	require.NoError(t, n.AdmitItem(OutSockets, 1), "re-adding a held token is allowed")

	err := n.AdmitItem(OutSockets, 2)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrResourceExhausted))
	assert.Equal(t, 1, n.Count(OutSockets))

	n.ReleaseItem(OutSockets, 1)
	n.ReleaseItem(OutSockets, 1)
	n.ReleaseItem(OutSockets, 99)
	assert.Zero(t, n.Count(OutSockets))

	require.NoError(t, n.AdmitItem(OutSockets, 2))
}

func TestItemConservation(t *testing.T) {
	n, _, ab := newTestNanny(t)
	rng := rand.New(rand.NewSource(1))

	live := make(map[int]bool)
	for i := 0; i < 2000; i++ {
		token := rng.Intn(8)
		if rng.Intn(2) == 0 {
			err := n.AdmitItem(Events, token)
			if err == nil {
				live[token] = true
			} else {
				require.True(t, errors.Is(err, errors.ErrResourceExhausted))
				require.Len(t, live, 3)
			}
		} else {
			n.ReleaseItem(Events, token)
			delete(live, token)
		}
		require.Equal(t, len(live), n.Count(Events))
	}
	assert.Empty(t, ab.get())
}

func TestConcurrentAdmitNeverExceeds(t *testing.T) {
	n, _, _ := newTestNanny(t)

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(token int) {
			defer wg.Done()
			if n.AdmitItem(Events, token) == nil {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 3, admitted)
	assert.Equal(t, 3, n.Count(Events))
}

func TestCheckItem(t *testing.T) {
	n, _, _ := newTestNanny(t)

	require.NoError(t, n.CheckItem(ConnPort, 12345))
	err := n.CheckItem(ConnPort, 80)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrResourceForbidden))

	err = n.CheckItem(MessPort, 12345)
	assert.True(t, errors.Is(err, errors.ErrResourceForbidden))

	report := n.Resources()
	assert.Equal(t, []int{12345}, report.Items[ConnPort])
	assert.Equal(t, []int{12345, 12346}, report.Allowed[ConnPort])
}

func TestReportLevel(t *testing.T) {
	n, _, ab := newTestNanny(t)

	require.NoError(t, n.ReportLevel(Memory, 1024))
	assert.Equal(t, 1024.0, n.Resources().Usage[Memory])
	assert.Empty(t, ab.get())

	err := n.ReportLevel(DiskUsed, 2<<20)
	require.Error(t, err)
	assert.Equal(t, []int{errors.ExitOverLimit}, ab.get())

	// Later aborts are ignored.
	n.Abort(errors.ExitExitAll, nil)
	assert.Equal(t, []int{errors.ExitOverLimit}, ab.get())
}

func TestResourcesReport(t *testing.T) {
	n, fc, _ := newTestNanny(t)

	require.NoError(t, n.AdmitItem(Events, "timer"))
	require.NoError(t, n.AdmitQuantity(FileRead, 4096))
	n.RecordStop(fc.Now(), 250*time.Millisecond)

	report := n.Resources()
	assert.Equal(t, 3.0, report.Limits[Events])
	assert.Equal(t, 1.0, report.Usage[Events])
	assert.Equal(t, 4096.0, report.Usage[FileRead])
	require.Len(t, report.Stalls, 1)
	assert.Equal(t, CPU, report.Stalls[0].Resource)
	assert.Equal(t, 250*time.Millisecond, report.Stalls[0].Duration)
}

func TestStallTimelineBounded(t *testing.T) {
	n, fc, _ := newTestNanny(t)
	for i := 0; i < maxStalls+20; i++ {
		n.RecordStop(fc.Now(), time.Duration(i))
	}
	stalls := n.Resources().Stalls
	require.Len(t, stalls, maxStalls)
	assert.Equal(t, time.Duration(20), stalls[0].Duration)
}

func TestCPUSleepInterval(t *testing.T) {
	tests := []struct {
		limit, percent float64
		elapsed        time.Duration
		want           time.Duration
	}{
		{0.5, 1.0, time.Second, time.Second},
		{0.5, 0.25, time.Second, 0},
		{0.1, 0.2, 100 * time.Millisecond, 100 * time.Millisecond},
		{0.5, 1.0, 0, 0},
		{0, 1.0, time.Second, 0},
	}
	for _, tt := range tests {
		got := CPUSleepInterval(tt.limit, tt.percent, tt.elapsed)
		assert.InDelta(t, tt.want, got, float64(time.Microsecond), "limit=%v percent=%v", tt.limit, tt.percent)
	}
}

func TestKnown(t *testing.T) {
	names := Known()
	assert.Len(t, names, 17)
	for _, n := range names {
		assert.NotEqual(t, CategoryUnknown, CategoryOf(n), n)
	}
	assert.Equal(t, "renewable", CategoryOf(LogRate).String())
}
