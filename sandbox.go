package sandboxruntime

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wippyai/sandbox-runtime/clock"
	"github.com/wippyai/sandbox-runtime/comm"
	"github.com/wippyai/sandbox-runtime/file"
	"github.com/wippyai/sandbox-runtime/guest"
	"github.com/wippyai/sandbox-runtime/misc"
	"github.com/wippyai/sandbox-runtime/nanny"
	"github.com/wippyai/sandbox-runtime/resource"
	"github.com/wippyai/sandbox-runtime/timer"
	"github.com/wippyai/sandbox-runtime/worker"
)

// DefaultDrainTimeout bounds how long Close waits for running workers.
const DefaultDrainTimeout = 5 * time.Second

// Options configures a Sandbox. The zero value is usable.
type Options struct {
	// Dir is the guest file directory. Empty uses a fresh temporary
	// directory that Close removes.
	Dir string

	// Logger receives runtime logs. Nil discards them.
	Logger *zap.Logger

	// Clock replaces the real clock.
	Clock clock.Clock

	// Abort replaces process exit when the sandbox is aborted.
	Abort nanny.AbortFunc

	// Output receives guest log output. Nil uses standard output.
	Output io.Writer

	// LocalIPs restricts the local addresses the guest may bind.
	LocalIPs []string

	// UnbindTimeout bounds the wait for a closed listener's endpoint.
	UnbindTimeout time.Duration

	// DrainTimeout bounds the wait for running workers in Close.
	DrainTimeout time.Duration
}

// Sandbox owns every per-instance component: ledger, handle table,
// worker pool, emulation hosts and the guest engine.
type Sandbox struct {
	ID string

	Nanny     *nanny.Nanny
	Resources *resource.UnifiedTable
	Pool      *worker.Pool
	Comm      *comm.Host
	Files     *file.Host
	Timer     *timer.Host
	Misc      *misc.Host
	Guest     *guest.Engine

	logger  *zap.Logger
	tempDir string
	drain   time.Duration

	closeOnce sync.Once
	closeErr  error
}

// New validates defs and builds a sandbox.
func New(ctx context.Context, defs nanny.Definitions, opts Options) (*Sandbox, error) {
	id := uuid.NewString()
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("sandbox", id))

	nopts := []nanny.Option{nanny.WithLogger(logger.Named("nanny"))}
	if opts.Clock != nil {
		nopts = append(nopts, nanny.WithClock(opts.Clock))
	}
	if opts.Abort != nil {
		nopts = append(nopts, nanny.WithAbort(opts.Abort))
	}
	n, err := nanny.New(defs, nopts...)
	if err != nil {
		return nil, err
	}

	s := &Sandbox{
		ID:        id,
		Nanny:     n,
		Resources: resource.NewTable(),
		logger:    logger,
		drain:     opts.DrainTimeout,
	}
	if s.drain <= 0 {
		s.drain = DefaultDrainTimeout
	}
	s.Resources.Subscribe(tableLogger{logger: logger.Named("resource")})
	s.Pool = worker.New(n, logger.Named("worker"))

	copts := []comm.Option{comm.WithLogger(logger.Named("comm")), comm.WithLocalIPs(opts.LocalIPs...)}
	if opts.UnbindTimeout > 0 {
		copts = append(copts, comm.WithUnbindTimeout(opts.UnbindTimeout))
	}
	s.Comm = comm.NewHost(n, s.Resources, s.Pool, copts...)

	dir := opts.Dir
	if dir == "" {
		if dir, err = os.MkdirTemp("", "sandbox-"+id[:8]+"-"); err != nil {
			return nil, err
		}
		s.tempDir = dir
	}
	if s.Files, err = file.NewHost(n, s.Resources, filepath.Clean(dir), file.WithLogger(logger.Named("file"))); err != nil {
		s.removeTemp()
		return nil, err
	}
	s.Timer = timer.NewHost(n, s.Resources, s.Pool, timer.WithLogger(logger.Named("timer")))

	mopts := []misc.Option{misc.WithLogger(logger.Named("misc"))}
	if opts.Output != nil {
		mopts = append(mopts, misc.WithOutput(opts.Output))
	}
	s.Misc = misc.NewHost(n, mopts...)

	s.Guest, err = guest.NewEngine(ctx, guest.Bindings{
		Nanny: n,
		Comm:  s.Comm,
		Files: s.Files,
		Timer: s.Timer,
		Misc:  s.Misc,
	})
	if err != nil {
		s.removeTemp()
		return nil, err
	}

	logger.Info("sandbox created", zap.String("dir", s.Files.Dir()))
	return s, nil
}

// RunModule verifies a WebAssembly module and calls its entry export.
func (s *Sandbox) RunModule(ctx context.Context, src []byte, entry string) error {
	unit, err := s.Guest.Verify(ctx, src)
	if err != nil {
		return err
	}
	return s.Guest.Run(ctx, unit, entry)
}

// Close tears the sandbox down: comm handles, timers, files, workers,
// the handle table and finally the guest engine. It is safe to call
// more than once.
func (s *Sandbox) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		var err error
		err = multierr.Append(err, s.Comm.Close())
		s.Timer.Close()
		err = multierr.Append(err, s.Files.Close())

		dctx, cancel := context.WithTimeout(ctx, s.drain)
		err = multierr.Append(err, s.Pool.Close(dctx))
		cancel()

		err = multierr.Append(err, s.Resources.Close())
		err = multierr.Append(err, s.Guest.Close(ctx))
		s.removeTemp()

		if err != nil {
			s.logger.Warn("sandbox closed with errors", zap.Error(err))
		} else {
			s.logger.Info("sandbox closed", zap.Duration("runtime", s.Nanny.Runtime()))
		}
		s.closeErr = err
	})
	return s.closeErr
}

func (s *Sandbox) removeTemp() {
	if s.tempDir != "" {
		_ = os.RemoveAll(s.tempDir)
	}
}

// tableLogger logs handle lifecycle events.
type tableLogger struct {
	logger *zap.Logger
}

func (o tableLogger) OnResourceEvent(e resource.Event) {
	switch e.Type {
	case resource.EventCreated:
		o.logger.Debug("handle created", zap.Uint64("handle", uint64(e.Handle)), zap.Stringer("kind", e.Kind))
	case resource.EventDropped:
		o.logger.Debug("handle dropped", zap.Uint64("handle", uint64(e.Handle)), zap.Stringer("kind", e.Kind))
	}
}
