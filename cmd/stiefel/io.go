package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/23skdu/longbow-stiefel/internal/codec"
	"github.com/23skdu/longbow-stiefel/internal/linalg"
	"github.com/23skdu/longbow-stiefel/internal/manifold"
)

// manifoldFlags describe St(n, k, B) on the command line.
type manifoldFlags struct {
	n, k  int
	field string
	bPath string
}

func (mf *manifoldFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVar(&mf.n, "n", 0, "Number of rows of points")
	cmd.Flags().IntVar(&mf.k, "k", 0, "Number of columns of points")
	cmd.Flags().StringVar(&mf.field, "field", "real", "Scalar field (real|complex|quaternion)")
	cmd.Flags().StringVar(&mf.bPath, "b", "", "Matrix file holding B (default identity)")
	_ = cmd.MarkFlagRequired("n")
	_ = cmd.MarkFlagRequired("k")
}

func (mf *manifoldFlags) wire(format string) (codec.ManifoldWire, error) {
	w := codec.ManifoldWire{N: mf.n, K: mf.k, Field: mf.field}
	if mf.bPath != "" {
		b, err := readMatrix(mf.bPath, format)
		if err != nil {
			return w, fmt.Errorf("b: %w", err)
		}
		bw := codec.FromMatrix(b)
		w.B = &bw
	}
	return w, nil
}

func (mf *manifoldFlags) build(format string) (*manifold.GeneralizedStiefel, error) {
	w, err := mf.wire(format)
	if err != nil {
		return nil, err
	}
	return w.Build()
}

// toleranceFlags override the configured tolerance when set.
type toleranceFlags struct {
	abs, rel float64
}

func (tf *toleranceFlags) register(cmd *cobra.Command) {
	cmd.Flags().Float64Var(&tf.abs, "abs", 0, "Absolute tolerance; overrides config")
	cmd.Flags().Float64Var(&tf.rel, "rel", 0, "Relative tolerance; overrides config")
}

func (tf *toleranceFlags) resolve(cmd *cobra.Command, g *globals) manifold.Tolerance {
	tol := g.tolerance()
	if cmd.Flags().Changed("abs") {
		tol.Abs = tf.abs
	}
	if cmd.Flags().Changed("rel") {
		tol.Rel = tf.rel
	}
	return tol
}

func openInput(path string) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	return os.Open(path)
}

// readMatrices decodes every matrix in the file. CBOR files hold a single
// MatrixWire or an array of them; Arrow files hold an IPC stream.
func readMatrices(path, format string) ([]*linalg.Matrix, error) {
	if path == "" {
		return nil, fmt.Errorf("missing matrix file")
	}
	f, err := openInput(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if format == "arrow" {
		return codec.NewRecordBatchBuilder(nil).ReadStream(f)
	}

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	var one codec.MatrixWire
	if err := codec.Unmarshal(data, &one); err == nil {
		m, err := one.Matrix()
		if err != nil {
			return nil, err
		}
		return []*linalg.Matrix{m}, nil
	}
	var many []codec.MatrixWire
	if err := codec.Unmarshal(data, &many); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	out := make([]*linalg.Matrix, len(many))
	for i, w := range many {
		if out[i], err = w.Matrix(); err != nil {
			return nil, fmt.Errorf("%s[%d]: %w", path, i, err)
		}
	}
	return out, nil
}

func readMatrix(path, format string) (*linalg.Matrix, error) {
	ms, err := readMatrices(path, format)
	if err != nil {
		return nil, err
	}
	if len(ms) != 1 {
		return nil, fmt.Errorf("%s: expected one matrix, found %d", path, len(ms))
	}
	return ms[0], nil
}

func writeMatrices(w io.Writer, output string, ms []*linalg.Matrix) error {
	switch output {
	case "arrow":
		return codec.NewRecordBatchBuilder(nil).WriteStream(w, ms)
	case "cbor":
		enc := codec.NewEncoder(w)
		if len(ms) == 1 {
			return enc.Encode(codec.FromMatrix(ms[0]))
		}
		wires := make([]codec.MatrixWire, len(ms))
		for i, m := range ms {
			wires[i] = codec.FromMatrix(m)
		}
		return enc.Encode(wires)
	default:
		for _, m := range ms {
			if _, err := fmt.Fprintln(w, m); err != nil {
				return err
			}
		}
		return nil
	}
}
