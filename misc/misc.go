// Package misc implements the sandbox calls that own no handles:
// randomness, locks, runtime, logging, exit and the resource report.
package misc

import (
	"crypto/rand"
	"encoding/binary"
	"io"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wippyai/sandbox-runtime/errors"
	"github.com/wippyai/sandbox-runtime/nanny"
)

// DefaultTailSize is how much recent guest output a Host keeps.
const DefaultTailSize = 16 * 1024

// Option configures a Host.
type Option func(*Host)

// WithOutput sets where guest log output is written. The default is
// standard output.
func WithOutput(w io.Writer) Option {
	return func(h *Host) { h.out = w }
}

// WithRandom replaces the entropy source.
func WithRandom(r io.Reader) Option {
	return func(h *Host) { h.random = r }
}

// WithTailSize sets how many bytes of recent output Tail returns.
func WithTailSize(n int) Option {
	return func(h *Host) { h.tail = newRing(n) }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(h *Host) { h.logger = l }
}

// Host implements the misc calls of one sandbox.
type Host struct {
	nanny  *nanny.Nanny
	random io.Reader
	logger *zap.Logger

	mu   sync.Mutex
	out  io.Writer
	tail *ring
}

// NewHost creates the misc host.
func NewHost(n *nanny.Nanny, opts ...Option) *Host {
	h := &Host{
		nanny:  n,
		random: rand.Reader,
		logger: zap.NewNop(),
		out:    os.Stdout,
		tail:   newRing(DefaultTailSize),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RandomFloat returns a uniformly distributed value in [0, 1) with 53
// bits of randomness.
func (h *Host) RandomFloat() (float64, error) {
	if err := h.nanny.AdmitQuantity(nanny.Random, 1); err != nil {
		return 0, err
	}
	var b [8]byte
	if _, err := io.ReadFull(h.random, b[:]); err != nil {
		return 0, errors.Wrap(errors.PhaseMisc, errors.KindInvalidData, err, "entropy source failed")
	}
	v := binary.BigEndian.Uint64(b[:]) >> 11
	return float64(v) / (1 << 53), nil
}

// GetRuntime returns the time since the sandbox started.
func (h *Host) GetRuntime() time.Duration {
	return h.nanny.Runtime()
}

// Log writes msg to the sandbox output, charged against "lograte".
func (h *Host) Log(msg string) error {
	if err := h.nanny.AdmitQuantity(nanny.LogRate, 0); err != nil {
		return err
	}

	h.mu.Lock()
	h.tail.Write([]byte(msg))
	n, err := io.WriteString(h.out, msg)
	h.mu.Unlock()

	if aerr := h.nanny.AdmitQuantity(nanny.LogRate, float64(n)); aerr != nil {
		return aerr
	}
	if err != nil {
		h.logger.Warn("guest output write failed", zap.Error(err))
	}
	return nil
}

// Tail returns the most recent guest output.
func (h *Host) Tail() []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.tail.Bytes()
}

// ExitAll terminates the sandbox with the exit-all code.
func (h *Host) ExitAll() {
	h.logger.Info("guest requested exit")
	h.nanny.Abort(errors.ExitExitAll, nil)
}

// GetResources returns limits, current usage and recent stalls.
func (h *Host) GetResources() nanny.Report {
	return h.nanny.Resources()
}
