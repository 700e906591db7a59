package main

import (
	"context"
	"fmt"
	"math/rand/v2"
	"runtime"
	"sort"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/23skdu/longbow-stiefel/internal/cache"
	"github.com/23skdu/longbow-stiefel/internal/client"
	"github.com/23skdu/longbow-stiefel/internal/harness"
	"github.com/23skdu/longbow-stiefel/internal/linalg"
	"github.com/23skdu/longbow-stiefel/internal/manifold"
)

func dimCmd(g *globals) *cobra.Command {
	var mf manifoldFlags
	cmd := &cobra.Command{
		Use:   "dim",
		Short: "Print the representation size and manifold dimension",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := mf.build(g.format)
			if err != nil {
				return err
			}
			n, k := m.RepresentationSize()
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, m)
			fmt.Fprintf(out, "representation: %dx%d\n", n, k)
			fmt.Fprintf(out, "dimension: %d\n", m.ManifoldDimension())
			return nil
		},
	}
	mf.register(cmd)
	return cmd
}

func checkCmd(g *globals) *cobra.Command {
	var (
		mf           manifoldFlags
		tf           toleranceFlags
		xPath, vPath string
	)
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check that x is a point, or that v is a tangent vector at x",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := mf.build(g.format)
			if err != nil {
				return err
			}
			x, err := readMatrix(xPath, g.format)
			if err != nil {
				return err
			}
			tol := tf.resolve(cmd, g)
			if vPath == "" {
				err = m.CheckPoint(x, tol)
			} else {
				v, rerr := readMatrix(vPath, g.format)
				if rerr != nil {
					return rerr
				}
				err = m.CheckVector(x, v, tol)
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "valid")
			return nil
		},
	}
	mf.register(cmd)
	tf.register(cmd)
	cmd.Flags().StringVar(&xPath, "x", "", "Matrix file holding the point")
	cmd.Flags().StringVar(&vPath, "v", "", "Matrix file holding a tangent vector at x")
	_ = cmd.MarkFlagRequired("x")
	return cmd
}

func projectCmd(g *globals) *cobra.Command {
	var (
		mf    manifoldFlags
		xPath string
	)
	cmd := &cobra.Command{
		Use:   "project",
		Short: "Project ambient matrices onto the manifold",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := mf.build(g.format)
			if err != nil {
				return err
			}
			xs, err := readMatrices(xPath, g.format)
			if err != nil {
				return err
			}
			out := make([]*linalg.Matrix, len(xs))
			for i, x := range xs {
				if out[i], err = m.Project(x); err != nil {
					return fmt.Errorf("matrix %d: %w", i, err)
				}
			}
			return writeMatrices(cmd.OutOrStdout(), g.output, out)
		},
	}
	mf.register(cmd)
	cmd.Flags().StringVar(&xPath, "x", "", "Matrix file holding one or more ambient matrices")
	_ = cmd.MarkFlagRequired("x")
	return cmd
}

func tangentCmd(g *globals) *cobra.Command {
	var (
		mf           manifoldFlags
		xPath, vPath string
	)
	cmd := &cobra.Command{
		Use:   "tangent",
		Short: "Project an ambient matrix onto the tangent space at x",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := mf.build(g.format)
			if err != nil {
				return err
			}
			x, err := readMatrix(xPath, g.format)
			if err != nil {
				return err
			}
			v, err := readMatrix(vPath, g.format)
			if err != nil {
				return err
			}
			res, err := m.ProjectTangent(x, v)
			if err != nil {
				return err
			}
			return writeMatrices(cmd.OutOrStdout(), g.output, []*linalg.Matrix{res})
		},
	}
	mf.register(cmd)
	cmd.Flags().StringVar(&xPath, "x", "", "Matrix file holding the base point")
	cmd.Flags().StringVar(&vPath, "v", "", "Matrix file holding the ambient matrix")
	_ = cmd.MarkFlagRequired("x")
	_ = cmd.MarkFlagRequired("v")
	return cmd
}

func retractCmd(g *globals) *cobra.Command {
	var (
		mf                   manifoldFlags
		xPath, vPath, method string
	)
	cmd := &cobra.Command{
		Use:   "retract",
		Short: "Retract the tangent vector v at x onto the manifold",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rm, err := manifold.ParseRetraction(method)
			if err != nil {
				return err
			}
			m, err := mf.build(g.format)
			if err != nil {
				return err
			}
			x, err := readMatrix(xPath, g.format)
			if err != nil {
				return err
			}
			v, err := readMatrix(vPath, g.format)
			if err != nil {
				return err
			}
			res, err := m.Retract(x, v, rm)
			if err != nil {
				return err
			}
			return writeMatrices(cmd.OutOrStdout(), g.output, []*linalg.Matrix{res})
		},
	}
	mf.register(cmd)
	cmd.Flags().StringVar(&xPath, "x", "", "Matrix file holding the base point")
	cmd.Flags().StringVar(&vPath, "v", "", "Matrix file holding the tangent vector")
	cmd.Flags().StringVar(&method, "method", "polar", "Retraction (polar|qr)")
	_ = cmd.MarkFlagRequired("x")
	_ = cmd.MarkFlagRequired("v")
	return cmd
}

func innerCmd(g *globals) *cobra.Command {
	var (
		mf                  manifoldFlags
		xPath, vPath, wPath string
	)
	cmd := &cobra.Command{
		Use:   "inner",
		Short: "Evaluate the metric Re tr(vᴴBw) at x",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := mf.build(g.format)
			if err != nil {
				return err
			}
			var ms [3]*linalg.Matrix
			for i, p := range []string{xPath, vPath, wPath} {
				if ms[i], err = readMatrix(p, g.format); err != nil {
					return err
				}
				if err := m.CheckAmbient(ms[i]); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%g\n", m.Inner(ms[0], ms[1], ms[2]))
			return nil
		},
	}
	mf.register(cmd)
	cmd.Flags().StringVar(&xPath, "x", "", "Matrix file holding the base point")
	cmd.Flags().StringVar(&vPath, "v", "", "Matrix file holding the first tangent vector")
	cmd.Flags().StringVar(&wPath, "w", "", "Matrix file holding the second tangent vector")
	for _, f := range []string{"x", "v", "w"} {
		_ = cmd.MarkFlagRequired(f)
	}
	return cmd
}

func validateCmd(g *globals) *cobra.Command {
	var (
		mf      manifoldFlags
		tf      toleranceFlags
		samples int
		seed    uint64
		step    float64
	)
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Run the property harness on Gaussian samples",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if samples <= 0 {
				return fmt.Errorf("--samples must be positive")
			}
			m, err := mf.build(g.format)
			if err != nil {
				return err
			}
			n, k := m.RepresentationSize()
			rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
			s := harness.Samples{
				Points:     gaussian(rng, m, n, k, samples),
				Vectors:    gaussian(rng, m, n, k, samples),
				Directions: gaussian(rng, m, n, k, samples),
				Alpha:      rng.NormFloat64(),
				Beta:       rng.NormFloat64(),
				Step:       step,
			}

			report, err := harness.Run(cmd.Context(), m, s, tf.resolve(cmd, g), runtime.GOMAXPROCS(0))
			if err != nil {
				return err
			}
			printReport(cmd, report)
			if !report.OK() {
				return fmt.Errorf("%d of %d checks failed", len(report.Failures()), len(report.Results))
			}
			return nil
		},
	}
	mf.register(cmd)
	tf.register(cmd)
	cmd.Flags().IntVar(&samples, "samples", 8, "Number of sample points")
	cmd.Flags().Uint64Var(&seed, "seed", 1, "Random seed")
	cmd.Flags().Float64Var(&step, "step", 0.1, "Scale applied to tangent vectors before retraction")
	return cmd
}

func gaussian(rng *rand.Rand, m *manifold.GeneralizedStiefel, n, k, count int) []*linalg.Matrix {
	d := m.Field().RealDim()
	out := make([]*linalg.Matrix, count)
	for i := range out {
		data := make([]float64, n*k*d)
		for j := range data {
			data[j] = rng.NormFloat64()
		}
		out[i] = linalg.NewMatrix(m.Field(), n, k, data)
	}
	return out
}

func printReport(cmd *cobra.Command, report *harness.Report) {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, report.Manifold)
	summary := report.Summary()
	names := make([]string, 0, len(summary))
	for name := range summary {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		c := summary[name]
		fmt.Fprintf(out, "  %-20s %d/%d\n", name, c[0], c[1])
	}
	for _, f := range report.Failures() {
		fmt.Fprintf(out, "FAIL %s sample=%d residual=%g %s\n", f.Property, f.Sample, f.Residual, f.Detail)
	}
}

func serveCmd(g *globals) *cobra.Command {
	var listen, flightAddr string
	var maxConcurrent int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the manifold operations over HTTP and Arrow Flight",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := g.cfg
			if cmd.Flags().Changed("listen") {
				cfg.Server.Listen = listen
			}
			if cmd.Flags().Changed("flight") {
				cfg.Server.Flight = flightAddr
			}
			if cmd.Flags().Changed("max-concurrent") {
				cfg.Server.MaxConcurrent = maxConcurrent
			}

			manifolds := cache.NewMapCache(cfg.Cache.MaxManifolds)
			srv := NewServer(manifolds, g.tolerance(), cfg.Server.MaxConcurrent)

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			errc := make(chan error, 2)
			go func() { errc <- startServer(ctx, cfg.Server.Listen, srv) }()
			if cfg.Server.Flight != "" {
				go func() { errc <- StartFlightServer(ctx, cfg.Server.Flight, NewStiefelFlightServer(manifolds)) }()
			}

			select {
			case <-ctx.Done():
				log.Info().Msg("Shutting down")
				return nil
			case err := <-errc:
				return err
			}
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "HTTP listen address; overrides config")
	cmd.Flags().StringVar(&flightAddr, "flight", "", "Arrow Flight listen address; overrides config")
	cmd.Flags().IntVar(&maxConcurrent, "max-concurrent", 0, "Maximum number of requests processed at once")
	return cmd
}

func remoteProjectCmd(g *globals) *cobra.Command {
	var (
		mf          manifoldFlags
		addr, xPath string
	)
	cmd := &cobra.Command{
		Use:   "remote-project",
		Short: "Project ambient matrices on a remote stiefel Flight server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := g.cfg
			if addr == "" {
				addr = cfg.Remote.Addr
			}
			if addr == "" {
				return fmt.Errorf("no server address: set --addr or remote.addr")
			}
			w, err := mf.wire(g.format)
			if err != nil {
				return err
			}
			xs, err := readMatrices(xPath, g.format)
			if err != nil {
				return err
			}

			fc, err := client.NewFlightClient(addr, client.Config{
				MaxFailures: cfg.Remote.MaxFailures,
				Timeout:     cfg.Remote.BreakerTimeout,
			})
			if err != nil {
				return fmt.Errorf("failed to connect to %s: %w", addr, err)
			}
			defer func() {
				if err := fc.Close(); err != nil {
					log.Warn().Err(err).Msg("Failed to close flight client")
				}
			}()

			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Remote.Timeout)
			defer cancel()

			log.Info().Int("count", len(xs)).Str("server", addr).Msg("Sending points for projection")
			res, err := fc.Project(ctx, w, xs)
			if err != nil {
				return err
			}
			return writeMatrices(cmd.OutOrStdout(), g.output, res)
		},
	}
	mf.register(cmd)
	cmd.Flags().StringVar(&addr, "addr", "", "Flight server address; overrides remote.addr")
	cmd.Flags().StringVar(&xPath, "x", "", "Matrix file holding one or more ambient matrices")
	_ = cmd.MarkFlagRequired("x")
	return cmd
}
