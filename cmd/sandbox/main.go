// Command sandbox runs WebAssembly guests under resource restrictions.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/wippyai/sandbox-runtime/errors"
)

type globalFlags struct {
	logLevel string
	logFile  string
}

func main() {
	os.Exit(execute(os.Args[1:]))
}

func execute(args []string) int {
	root := newRootCmd()
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		var ec exitCode
		if errors.As(err, &ec) {
			return int(ec)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "sandbox",
		Short:         "Run untrusted WebAssembly under resource restrictions",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	addGlobalFlags(root.PersistentFlags(), g)

	root.AddCommand(
		newRunCmd(g),
		newCheckCmd(g),
		newLimitsCmd(),
	)
	return root
}

func addGlobalFlags(fs *pflag.FlagSet, g *globalFlags) {
	fs.StringVar(&g.logLevel, "log-level", "", "runtime log level (debug, info, warn, error); overrides the config file")
	fs.StringVar(&g.logFile, "log-file", "", "write runtime logs to this file instead of stderr")
}

// newLogger builds the runtime logger. An empty level disables logging.
func newLogger(level, file string) (*zap.Logger, error) {
	if level == "" {
		return zap.NewNop(), nil
	}
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidArgument, err, "invalid log level")
	}

	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.DisableStacktrace = true
	cfg.OutputPaths = []string{"stderr"}
	if file != "" {
		cfg.OutputPaths = []string{file}
	}
	return cfg.Build()
}

// exitCode ends the process with a specific status and no message.
type exitCode int

func (c exitCode) Error() string { return fmt.Sprintf("exit status %d", int(c)) }
