package nanny

import (
	"math"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/wippyai/sandbox-runtime/clock"
	"github.com/wippyai/sandbox-runtime/errors"
)

// maxStalls bounds the throttle timeline kept for Resources.
const maxStalls = 100

// AbortFunc terminates the sandbox with an exit code.
type AbortFunc func(code int, cause error)

// Option configures a Nanny.
type Option func(*Nanny)

// WithClock sets the time source. The default is the wall clock.
func WithClock(c clock.Clock) Option {
	return func(n *Nanny) { n.clock = c }
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(n *Nanny) { n.logger = l }
}

// WithAbort replaces the default abort, which exits the process.
func WithAbort(f AbortFunc) Option {
	return func(n *Nanny) { n.abort = f }
}

// Nanny is the admission controller of one sandbox.
type Nanny struct {
	ledger *ledger
	clock  clock.Clock
	logger *zap.Logger
	abort  AbortFunc
	start  time.Time

	stallMu  sync.Mutex
	stalls   []Stall
	stallLog rate.Sometimes

	abortOnce sync.Once
	done      chan struct{}
}

// New validates defs and builds a Nanny with a fresh ledger.
func New(defs Definitions, opts ...Option) (*Nanny, error) {
	if err := defs.Validate(); err != nil {
		return nil, err
	}
	n := &Nanny{
		clock:    clock.Real(),
		logger:   zap.NewNop(),
		stallLog: rate.Sometimes{First: 3, Interval: time.Second},
		done:     make(chan struct{}),
	}
	n.abort = n.exit
	for _, opt := range opts {
		opt(n)
	}
	n.start = n.clock.Now()
	n.ledger = newLedger(defs, n.start)
	return n, nil
}

// Clock returns the time source shared with the emulation layers.
func (n *Nanny) Clock() clock.Clock { return n.clock }

// Logger returns the Nanny's logger.
func (n *Nanny) Logger() *zap.Logger { return n.logger }

// AdmitQuantity charges amount to a renewable resource and blocks until
// its consumption is back within the limit. An amount of zero only
// waits for headroom.
func (n *Nanny) AdmitQuantity(name Name, amount float64) error {
	if amount < 0 || math.IsNaN(amount) {
		return n.fail(errors.NewFault(errors.ExitNegativeQuantity,
			"resource %q has a negative quantity %v", name, amount))
	}
	r, ok := n.ledger.renewable[name]
	if !ok {
		code := errors.ExitNotRenewable
		if CategoryOf(name) == CategoryUnknown {
			code = errors.ExitUnknownResource
		}
		return n.fail(errors.NewFault(code, "resource %q is not renewable", name))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.decay(n.clock.Now())
	r.used += amount
	if r.used <= r.rate {
		return nil
	}
	if r.rate == 0 {
		return n.fail(errors.NewFault(errors.ExitLedgerCorrupt,
			"resource %q limit set to 0, it will never drain", name))
	}

	began := n.clock.Now()
	for r.used > r.rate {
		wait := time.Duration(math.Ceil((r.used - r.rate) / r.rate * float64(time.Second)))
		n.clock.Sleep(max(wait, time.Nanosecond))
		r.decay(n.clock.Now())
	}
	n.recordStall(name, began, n.clock.Now().Sub(began))
	return nil
}

// AdmitItem adds token to a fungible resource set. Adding a token that
// is already present succeeds without using capacity.
func (n *Nanny) AdmitItem(name Name, token any) error {
	f, ok := n.ledger.fungible[name]
	if !ok {
		return n.fail(errors.NewFault(errors.ExitUnknownResource,
			"resource %q is not a fungible item resource", name))
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, held := f.set[token]; held {
		return nil
	}
	if len(f.set) > f.limit {
		return n.fail(errors.NewFault(errors.ExitLedgerCorrupt,
			"resource %q holds %d items over its limit %d", name, len(f.set), f.limit))
	}
	if len(f.set) == f.limit {
		return errors.Exhausted(string(name), f.limit)
	}
	f.set[token] = struct{}{}
	return nil
}

// ReleaseItem removes token from a fungible resource set. Releasing an
// absent token is a no-op.
func (n *Nanny) ReleaseItem(name Name, token any) {
	f, ok := n.ledger.fungible[name]
	if !ok {
		_ = n.fail(errors.NewFault(errors.ExitUnknownResource,
			"resource %q is not a fungible item resource", name))
		return
	}
	f.mu.Lock()
	delete(f.set, token)
	f.mu.Unlock()
}

// CheckItem fails with ResourceForbidden unless item is in the
// allow-set of an individual resource. Allowed items are recorded as in
// use.
func (n *Nanny) CheckItem(name Name, item int) error {
	ind, ok := n.ledger.individual[name]
	if !ok {
		return n.fail(errors.NewFault(errors.ExitUnknownResource,
			"resource %q is not an individual item resource", name))
	}
	if _, allowed := ind.allowed[item]; !allowed {
		return errors.Forbidden(string(name), item)
	}
	ind.mu.Lock()
	ind.used[item] = struct{}{}
	ind.mu.Unlock()
	return nil
}

// ReportLevel records a sampled memory or disk value. A value over the
// limit aborts the sandbox.
func (n *Nanny) ReportLevel(name Name, value float64) error {
	lv, ok := n.ledger.level[name]
	if !ok {
		return n.fail(errors.NewFault(errors.ExitUnknownResource,
			"resource %q is not a level resource", name))
	}
	if value < 0 || math.IsNaN(value) {
		return n.fail(errors.NewFault(errors.ExitNegativeQuantity,
			"resource %q has a negative level %v", name, value))
	}

	lv.mu.Lock()
	lv.value = value
	over := value > lv.limit
	lv.mu.Unlock()

	if over {
		return n.fail(errors.NewFault(errors.ExitOverLimit,
			"resource %q at %v exceeds its limit %v", name, value, lv.limit))
	}
	return nil
}

// Limit returns the configured limit of a non-individual resource.
func (n *Nanny) Limit(name Name) (float64, bool) {
	v, ok := n.ledger.limits[name]
	return v, ok
}

// Count returns the number of live tokens of a fungible resource.
func (n *Nanny) Count(name Name) int {
	f, ok := n.ledger.fungible[name]
	if !ok {
		return 0
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.set)
}

// Usage returns the current, decayed consumption of a renewable
// resource.
func (n *Nanny) Usage(name Name) float64 {
	r, ok := n.ledger.renewable[name]
	if !ok {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decay(n.clock.Now())
	return r.used
}

// Runtime returns the time elapsed since the Nanny started.
func (n *Nanny) Runtime() time.Duration {
	return n.clock.Now().Sub(n.start)
}

// Abort terminates the sandbox. Only the first call has any effect.
func (n *Nanny) Abort(code int, cause error) {
	n.abortOnce.Do(func() {
		n.logger.Error("sandbox aborted",
			zap.Int("exit_code", code),
			zap.Error(cause),
			zap.Duration("runtime", n.Runtime()),
			zap.Stack("stack"),
		)
		close(n.done)
		n.abort(code, cause)
	})
}

// Done is closed once the sandbox has been aborted.
func (n *Nanny) Done() <-chan struct{} { return n.done }

// Aborted reports whether Abort has been called.
func (n *Nanny) Aborted() bool {
	select {
	case <-n.done:
		return true
	default:
		return false
	}
}

func (n *Nanny) fail(f *errors.Fault) error {
	n.Abort(f.Code, f)
	return f
}

func (n *Nanny) exit(code int, _ error) {
	_ = n.logger.Sync()
	os.Exit(code)
}
