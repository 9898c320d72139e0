package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	sandboxruntime "github.com/wippyai/sandbox-runtime"
	"github.com/wippyai/sandbox-runtime/config"
	"github.com/wippyai/sandbox-runtime/errors"
	"github.com/wippyai/sandbox-runtime/nanny"
)

type runFlags struct {
	entry string
	dir   string
	watch bool
}

func newRunCmd(g *globalFlags) *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run <restrictions> <module.wasm>",
		Short: "Verify and run a guest module",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runModule(cmd.Context(), g, f, args[0], args[1])
		},
	}
	cmd.Flags().StringVarP(&f.entry, "entry", "e", "run", "exported function to call")
	cmd.Flags().StringVarP(&f.dir, "dir", "d", "", "guest file directory; overrides the config file")
	cmd.Flags().BoolVarP(&f.watch, "watch", "w", false, "show live resource usage while the guest runs")
	return cmd
}

func newCheckCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "check <module.wasm>",
		Short: "Verify a guest module without running it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return checkModule(cmd.Context(), g, cmd.OutOrStdout(), args[0])
		},
	}
}

func runModule(ctx context.Context, g *globalFlags, f *runFlags, cfgPath, wasmPath string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	for _, call := range cfg.Calls {
		fmt.Fprintf(os.Stderr, "warning: ignoring obsolete call rule %q\n", call)
	}
	src, err := os.ReadFile(wasmPath)
	if err != nil {
		return fmt.Errorf("read module: %w", err)
	}

	watch := f.watch && term.IsTerminal(int(os.Stdout.Fd()))

	level := cfg.Sandbox.LogLevel
	if g.logLevel != "" {
		level = g.logLevel
	}
	logFile := g.logFile
	if watch && level != "" && logFile == "" {
		// stderr would corrupt the watch view
		level = ""
	}
	logger, err := newLogger(level, logFile)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var aborted atomic.Int64
	aborted.Store(-1)
	opts := sandboxruntime.Options{
		Dir:           cfg.Sandbox.Dir,
		Logger:        logger,
		LocalIPs:      cfg.Sandbox.LocalIPs,
		UnbindTimeout: time.Duration(cfg.Sandbox.UnbindTimeout),
		Abort: func(code int, cause error) {
			if aborted.CompareAndSwap(-1, int64(code)) {
				logger.Warn("sandbox aborted", zap.Int("code", code), zap.Error(cause))
			}
			cancel()
		},
	}
	if f.dir != "" {
		opts.Dir = f.dir
	}
	if watch {
		opts.Output = io.Discard
	}

	sb, err := sandboxruntime.New(ctx, cfg.Definitions, opts)
	if err != nil {
		return err
	}

	if watch {
		err = watchRun(ctx, sb, src, f.entry)
	} else {
		err = sb.RunModule(ctx, src, f.entry)
	}
	if cerr := sb.Close(context.Background()); cerr != nil {
		logger.Warn("close failed", zap.Error(cerr))
	}

	if code := aborted.Load(); code >= 0 {
		return exitCode(code)
	}
	if code, ok := errors.FaultCode(err); ok {
		fmt.Fprintln(os.Stderr, err)
		return exitCode(code)
	}
	return err
}

func checkModule(ctx context.Context, g *globalFlags, out io.Writer, wasmPath string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	src, err := os.ReadFile(wasmPath)
	if err != nil {
		return fmt.Errorf("read module: %w", err)
	}
	logger, err := newLogger(g.logLevel, g.logFile)
	if err != nil {
		return err
	}

	sb, err := sandboxruntime.New(ctx, checkDefinitions(), sandboxruntime.Options{Logger: logger})
	if err != nil {
		return err
	}
	defer sb.Close(ctx)

	unit, err := sb.Guest.Verify(ctx, src)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s: ok\n", wasmPath)
	if exports := unit.Exports(); len(exports) > 0 {
		fmt.Fprintf(out, "exports: %s\n", strings.Join(exports, ", "))
	}
	return nil
}

// checkDefinitions are the smallest restrictions a sandbox accepts.
// Verification charges nothing against them.
func checkDefinitions() nanny.Definitions {
	defs := nanny.Definitions{Limits: make(map[nanny.Name]float64)}
	for _, name := range nanny.MustAssign {
		defs.Limits[name] = 1
	}
	defs.Limits[nanny.Memory] = 1 << 24
	return defs
}
