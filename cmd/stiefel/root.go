package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/23skdu/longbow-stiefel/internal/config"
	"github.com/23skdu/longbow-stiefel/internal/linalg"
	"github.com/23skdu/longbow-stiefel/internal/manifold"
)

// globals carries the persistent flags and the loaded configuration to the
// subcommands.
type globals struct {
	configPath string
	logLevel   string
	otel       bool
	format     string
	output     string

	cfg      *config.Config
	shutdown func(context.Context) error
}

// Execute runs the stiefel command line.
func Execute(ctx context.Context) error {
	return newRootCmd().ExecuteContext(ctx)
}

func newRootCmd() *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:   "stiefel",
		Short: "Generalized Stiefel manifold toolkit",
		Long: `Validate, project and retract points and tangent vectors of the
generalized Stiefel manifold St(n, k, B) = { x : xᴴBx = I } over the real,
complex or quaternion numbers.

Examples:
  stiefel dim --n 5 --k 2 --field complex
  stiefel project --n 5 --k 2 --x point.cbor --output cbor > projected.cbor
  stiefel validate --n 8 --k 3 --field quaternion --samples 16
  stiefel serve --config stiefel.yaml`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return g.load(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if g.shutdown != nil {
				return g.shutdown(context.Background())
			}
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&g.configPath, "config", "", "Path to YAML config file")
	pf.StringVar(&g.logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides config")
	pf.BoolVar(&g.otel, "otel", false, "Enable OpenTelemetry tracing (stdout)")
	pf.StringVar(&g.format, "format", "cbor", "Input matrix file format (cbor|arrow)")
	pf.StringVar(&g.output, "output", "text", "Output format for matrices (text|cbor|arrow)")

	root.AddCommand(
		dimCmd(g),
		checkCmd(g),
		projectCmd(g),
		tangentCmd(g),
		retractCmd(g),
		innerCmd(g),
		validateCmd(g),
		serveCmd(g),
		remoteProjectCmd(g),
	)

	return root
}

// load reads the config file and applies flag overrides.
func (g *globals) load(cmd *cobra.Command) error {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return err
	}
	if g.logLevel != "" {
		cfg.Log.Level = g.logLevel
	}
	if cmd.Flags().Changed("otel") {
		cfg.Telemetry.OTel = g.otel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := checkFormat(g.format, "cbor", "arrow"); err != nil {
		return fmt.Errorf("--format: %w", err)
	}
	if err := checkFormat(g.output, "text", "cbor", "arrow"); err != nil {
		return fmt.Errorf("--output: %w", err)
	}
	g.cfg = cfg

	zerolog.SetGlobalLevel(cfg.LogLevel())
	log.Debug().Str("blas", linalg.BLASName()).Str("config", g.configPath).Msg("Configuration loaded")

	if cfg.Telemetry.OTel {
		shutdown, err := initTracer()
		if err != nil {
			return fmt.Errorf("failed to initialize tracer: %w", err)
		}
		g.shutdown = shutdown
	}
	return nil
}

func (g *globals) tolerance() manifold.Tolerance {
	if g.cfg == nil || g.cfg.Tolerance == nil {
		return manifold.DefaultTolerance
	}
	return *g.cfg.Tolerance
}

func checkFormat(got string, allowed ...string) error {
	for _, a := range allowed {
		if got == a {
			return nil
		}
	}
	return fmt.Errorf("unknown format %q, want one of %v", got, allowed)
}
