// Package codec converts matrices and manifold descriptions to and from the
// CBOR and Arrow wire formats used by the CLI and the service.
package codec

import (
	"errors"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"

	"github.com/23skdu/longbow-stiefel/internal/field"
	"github.com/23skdu/longbow-stiefel/internal/linalg"
	"github.com/23skdu/longbow-stiefel/internal/manifold"
)

var ErrMalformed = errors.New("codec: malformed matrix")

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	if encMode, err = cbor.CoreDetEncOptions().EncMode(); err != nil {
		panic(err)
	}
	if decMode, err = (cbor.DecOptions{MaxArrayElements: 1 << 24}).DecMode(); err != nil {
		panic(err)
	}
}

// Marshal encodes v as deterministic CBOR.
func Marshal(v any) ([]byte, error) { return encMode.Marshal(v) }

func Unmarshal(data []byte, v any) error { return decMode.Unmarshal(data, v) }

func NewEncoder(w io.Writer) *cbor.Encoder { return encMode.NewEncoder(w) }

func NewDecoder(r io.Reader) *cbor.Decoder { return decMode.NewDecoder(r) }

// MatrixWire is a matrix on the wire. Data holds rows*cols entries in
// row-major order, each entry as field.RealDim() consecutive components.
type MatrixWire struct {
	Field string    `cbor:"field"`
	Rows  int       `cbor:"rows"`
	Cols  int       `cbor:"cols"`
	Data  []float64 `cbor:"data"`
}

// FromMatrix copies m into its wire form.
func FromMatrix(m *linalg.Matrix) MatrixWire {
	r, c := m.Dims()
	return MatrixWire{
		Field: m.Field().String(),
		Rows:  r,
		Cols:  c,
		Data:  append([]float64(nil), m.Raw()...),
	}
}

// Matrix validates w and returns it as a *linalg.Matrix.
func (w MatrixWire) Matrix() (*linalg.Matrix, error) {
	f, err := field.Parse(w.Field)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if w.Rows <= 0 || w.Cols <= 0 {
		return nil, fmt.Errorf("%w: size %dx%d", ErrMalformed, w.Rows, w.Cols)
	}
	if !linalg.Fits(f, w.Rows, w.Cols) {
		return nil, fmt.Errorf("%w: size %dx%d exceeds %d components", ErrMalformed, w.Rows, w.Cols, linalg.MaxComponents)
	}
	if want := w.Rows * w.Cols * f.RealDim(); len(w.Data) != want {
		return nil, fmt.Errorf("%w: %d components, expected %d", ErrMalformed, len(w.Data), want)
	}
	return linalg.NewMatrix(f, w.Rows, w.Cols, w.Data), nil
}

// ManifoldWire describes St(N, K, B) over Field. A nil B means the identity.
type ManifoldWire struct {
	N     int         `cbor:"n"`
	K     int         `cbor:"k"`
	Field string      `cbor:"field"`
	B     *MatrixWire `cbor:"b,omitempty"`
}

// Options returns the constructor options encoded in w.
func (w ManifoldWire) Options() ([]manifold.Option, error) {
	if w.B == nil {
		return nil, nil
	}
	b, err := w.B.Matrix()
	if err != nil {
		return nil, fmt.Errorf("b: %w", err)
	}
	return []manifold.Option{manifold.WithB(b)}, nil
}

// Build constructs the manifold described by w.
func (w ManifoldWire) Build() (*manifold.GeneralizedStiefel, error) {
	f, err := field.Parse(w.Field)
	if err != nil {
		return nil, err
	}
	opts, err := w.Options()
	if err != nil {
		return nil, err
	}
	return manifold.New(w.N, w.K, f, opts...)
}

// Describe returns the wire description of m. B is included unless it is
// the identity.
func Describe(m *manifold.GeneralizedStiefel) ManifoldWire {
	n, k := m.RepresentationSize()
	w := ManifoldWire{N: n, K: k, Field: m.Field().String()}
	if !m.IdentityB() {
		bw := FromMatrix(m.B())
		w.B = &bw
	}
	return w
}

// Request and response envelopes for the service operations.
type (
	DimensionRequest struct {
		Manifold ManifoldWire `cbor:"manifold"`
	}

	DimensionResponse struct {
		Manifold  string `cbor:"manifold"`
		Rows      int    `cbor:"rows"`
		Cols      int    `cbor:"cols"`
		Dimension int    `cbor:"dimension"`
	}

	CheckPointRequest struct {
		Manifold  ManifoldWire        `cbor:"manifold"`
		X         MatrixWire          `cbor:"x"`
		Tolerance *manifold.Tolerance `cbor:"tolerance,omitempty"`
	}

	CheckVectorRequest struct {
		Manifold  ManifoldWire        `cbor:"manifold"`
		X         MatrixWire          `cbor:"x"`
		V         MatrixWire          `cbor:"v"`
		Tolerance *manifold.Tolerance `cbor:"tolerance,omitempty"`
	}

	// CheckResponse carries the outcome of a validation. Kind is one of the
	// manifold.ErrorKind labels.
	CheckResponse struct {
		Valid    bool    `cbor:"valid"`
		Kind     string  `cbor:"kind"`
		Distance float64 `cbor:"distance,omitempty"`
		Message  string  `cbor:"message,omitempty"`
	}

	ProjectRequest struct {
		Manifold ManifoldWire `cbor:"manifold"`
		X        MatrixWire   `cbor:"x"`
	}

	TangentRequest struct {
		Manifold ManifoldWire `cbor:"manifold"`
		X        MatrixWire   `cbor:"x"`
		V        MatrixWire   `cbor:"v"`
	}

	RetractRequest struct {
		Manifold ManifoldWire `cbor:"manifold"`
		X        MatrixWire   `cbor:"x"`
		V        MatrixWire   `cbor:"v"`
		Method   string       `cbor:"method,omitempty"`
	}

	InnerRequest struct {
		Manifold ManifoldWire `cbor:"manifold"`
		X        MatrixWire   `cbor:"x"`
		V        MatrixWire   `cbor:"v"`
		W        MatrixWire   `cbor:"w"`
	}

	InnerResponse struct {
		Inner float64 `cbor:"inner"`
	}

	MatrixResponse struct {
		Result MatrixWire `cbor:"result"`
	}

	ErrorResponse struct {
		Kind  string `cbor:"kind"`
		Error string `cbor:"error"`
	}
)

// CheckResult converts the error returned by CheckPoint or CheckVector.
func CheckResult(err error) CheckResponse {
	resp := CheckResponse{Valid: err == nil, Kind: manifold.ErrorKind(err)}
	if err == nil {
		return resp
	}
	resp.Message = err.Error()
	var ce *manifold.ConstraintError
	if errors.As(err, &ce) {
		resp.Distance = ce.Distance
	}
	return resp
}

// ErrorResult converts any operation error.
func ErrorResult(err error) ErrorResponse {
	return ErrorResponse{Kind: manifold.ErrorKind(err), Error: err.Error()}
}
