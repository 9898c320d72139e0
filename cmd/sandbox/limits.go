package main

import (
	"io"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/wippyai/sandbox-runtime/config"
	"github.com/wippyai/sandbox-runtime/errors"
)

type limitsFlags struct {
	add      []string
	subtract []string
	format   string
}

func newLimitsCmd() *cobra.Command {
	f := &limitsFlags{}
	cmd := &cobra.Command{
		Use:   "limits <restrictions>",
		Short: "Print restrictions, optionally combined with others",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return printLimits(cmd.OutOrStdout(), f, args[0])
		},
	}
	cmd.Flags().StringSliceVar(&f.add, "add", nil, "restrictions to add")
	cmd.Flags().StringSliceVar(&f.subtract, "subtract", nil, "restrictions to subtract")
	cmd.Flags().StringVarP(&f.format, "format", "f", string(config.FormatText), "output format (text, yaml, toml)")
	return cmd
}

func printLimits(w io.Writer, f *limitsFlags, path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	for _, p := range f.add {
		other, err := config.Load(p)
		if err != nil {
			return err
		}
		if cfg.Definitions, err = config.Add(cfg.Definitions, other.Definitions); err != nil {
			return err
		}
	}
	for _, p := range f.subtract {
		other, err := config.Load(p)
		if err != nil {
			return err
		}
		if cfg.Definitions, err = config.Subtract(cfg.Definitions, other.Definitions); err != nil {
			return err
		}
	}

	switch config.Format(f.format) {
	case config.FormatText:
		return config.WriteText(w, cfg.Definitions)
	case config.FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(cfg.Document()); err != nil {
			return err
		}
		return enc.Close()
	case config.FormatTOML:
		return toml.NewEncoder(w).Encode(cfg.Document())
	default:
		return errors.InvalidArgument(errors.PhaseConfig, "unknown format %q", f.format)
	}
}
