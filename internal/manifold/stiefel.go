// Package manifold implements the Generalized Stiefel manifold
//
//	St(n, k, B) = { x ∈ 𝔽^{n×k} : xᴴBx = I_k }
//
// for a Hermitian positive-definite n×n matrix B over 𝔽 ∈ {ℝ, ℂ, ℍ}.
// Points and tangent vectors are n×k *linalg.Matrix values owned by the
// caller. A GeneralizedStiefel never changes after New returns and is safe
// for concurrent use; the *To variants write only into caller buffers.
package manifold

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/mat"

	"github.com/23skdu/longbow-stiefel/internal/field"
	"github.com/23skdu/longbow-stiefel/internal/linalg"
)

// Manifold is the contract the validation harness drives.
type Manifold interface {
	RepresentationSize() (int, int)
	ManifoldDimension() int
	IdentityB() bool
	CheckPoint(x *linalg.Matrix, tol Tolerance) error
	CheckVector(x, v *linalg.Matrix, tol Tolerance) error
	Project(x *linalg.Matrix) (*linalg.Matrix, error)
	ProjectTo(dst, x *linalg.Matrix) error
	ProjectTangent(x, v *linalg.Matrix) (*linalg.Matrix, error)
	ProjectTangentTo(dst, x, v *linalg.Matrix) error
	Inner(x, v, w *linalg.Matrix) float64
	Retract(x, v *linalg.Matrix, method RetractionMethod) (*linalg.Matrix, error)
	RetractTo(dst, x, v *linalg.Matrix, method RetractionMethod) (*linalg.Matrix, error)
	RetractionMethods() []RetractionMethod
}

var _ Manifold = (*GeneralizedStiefel)(nil)

// GeneralizedStiefel holds the structural parameters of St(n, k, B).
type GeneralizedStiefel struct {
	n     int
	k     int
	field field.Field

	b         *linalg.Matrix
	identityB bool
	// Real embedding of b and the upper Cholesky factor of it. Read-only.
	bEmb  *mat.Dense
	bChol *mat.TriDense
}

type options struct {
	b      *linalg.Matrix
	symTol float64
}

// Option configures New.
type Option func(*options)

// WithB sets the scalar product matrix. It must be n×n, Hermitian and
// positive-definite over a subfield of the manifold's field. The matrix is
// copied.
func WithB(b *linalg.Matrix) Option {
	return func(o *options) { o.b = b }
}

// WithHermitianTolerance sets the relative tolerance used to accept B as
// Hermitian.
func WithHermitianTolerance(tol float64) Option {
	return func(o *options) { o.symTol = tol }
}

// New returns St(n, k, B) over f. B defaults to I_n.
func New(n, k int, f field.Field, opts ...Option) (*GeneralizedStiefel, error) {
	o := options{symTol: 1e-10}
	for _, opt := range opts {
		opt(&o)
	}
	if n <= 0 || k <= 0 || k > n {
		return nil, fmt.Errorf("n=%d k=%d: %w", n, k, ErrInvalidDimensions)
	}
	if !f.Valid() {
		return nil, fmt.Errorf("field %d: %w", int(f), ErrFieldMismatch)
	}
	// B is n×n, so n bounds every matrix the manifold allocates.
	if !linalg.Fits(f, n, n) {
		return nil, fmt.Errorf("n=%d exceeds %d components: %w", n, linalg.MaxComponents, ErrInvalidDimensions)
	}

	var b *linalg.Matrix
	if o.b == nil {
		b = linalg.Identity(f, n)
	} else {
		if !f.Contains(o.b.Field()) {
			return nil, &FieldError{Value: o.b, Want: f, Got: o.b.Field()}
		}
		if r, c := o.b.Dims(); r != n || c != n {
			return nil, &ShapeError{Value: o.b, WantRows: n, WantCols: n, GotRows: r, GotCols: c}
		}
		promoted, err := o.b.Promote(f)
		if err != nil {
			return nil, err
		}
		b = promoted.Clone()
	}

	bEmb := b.Embed()
	if !linalg.IsSymmetric(bEmb, o.symTol) {
		return nil, ErrNotHermitian
	}
	linalg.Symmetrize(bEmb, bEmb)

	var ch mat.Cholesky
	if ok := ch.Factorize(linalg.SymPart(bEmb)); !ok {
		return nil, ErrNotPositiveDefinite
	}
	var u mat.TriDense
	ch.UTo(&u)

	m := &GeneralizedStiefel{
		n:         n,
		k:         k,
		field:     f,
		b:         b,
		identityB: o.b == nil || linalg.EqualApprox(b, linalg.Identity(f, n), 0),
		bEmb:      bEmb,
		bChol:     &u,
	}
	log.Debug().
		Int("n", n).
		Int("k", k).
		Str("field", f.String()).
		Bool("identity_b", m.identityB).
		Msg("Constructed generalized Stiefel manifold")
	return m, nil
}

// RepresentationSize returns (n, k), the shape of points and vectors.
func (m *GeneralizedStiefel) RepresentationSize() (int, int) { return m.n, m.k }

// ManifoldDimension returns the real dimension of the manifold.
func (m *GeneralizedStiefel) ManifoldDimension() int {
	n, k := m.n, m.k
	switch m.field {
	case field.Complex:
		return 2*n*k - k*k
	case field.Quaternion:
		return 4*n*k - k*(2*k-1)
	default:
		return n*k - k*(k+1)/2
	}
}

func (m *GeneralizedStiefel) Field() field.Field { return m.field }

// IdentityB reports whether B is exactly I_n. ProjectTangent yields
// B-tangent vectors only in that case.
func (m *GeneralizedStiefel) IdentityB() bool { return m.identityB }

// B returns a copy of the scalar product matrix.
func (m *GeneralizedStiefel) B() *linalg.Matrix { return m.b.Clone() }

func (m *GeneralizedStiefel) String() string {
	return fmt.Sprintf("GeneralizedStiefel(%d, %d, %s)", m.n, m.k, m.field.Symbol())
}

// ZeroVector returns the zero tangent vector at x.
func (m *GeneralizedStiefel) ZeroVector(x *linalg.Matrix) *linalg.Matrix {
	return linalg.NewMatrix(m.field, m.n, m.k, nil)
}

// CheckAmbient runs the field and shape checks shared by every operation,
// without the constraint check. Callers use it before Inner, which panics on
// invalid arguments.
func (m *GeneralizedStiefel) CheckAmbient(a *linalg.Matrix) error {
	_, err := m.liftShaped(a)
	return err
}

// lift checks that a's scalars belong to the manifold field and returns a
// over that field. No copy is made when the fields already agree.
func (m *GeneralizedStiefel) lift(a *linalg.Matrix) (*linalg.Matrix, error) {
	if !m.field.Contains(a.Field()) {
		return nil, &FieldError{Value: a, Want: m.field, Got: a.Field()}
	}
	return a.Promote(m.field)
}

func (m *GeneralizedStiefel) checkShape(a *linalg.Matrix) error {
	if r, c := a.Dims(); r != m.n || c != m.k {
		return &ShapeError{Value: a, WantRows: m.n, WantCols: m.k, GotRows: r, GotCols: c}
	}
	return nil
}

// liftShaped runs the field check and then the shape check.
func (m *GeneralizedStiefel) liftShaped(a *linalg.Matrix) (*linalg.Matrix, error) {
	lifted, err := m.lift(a)
	if err != nil {
		return nil, err
	}
	if err := m.checkShape(a); err != nil {
		return nil, err
	}
	return lifted, nil
}

// checkBuffer validates a caller-supplied output buffer.
func (m *GeneralizedStiefel) checkBuffer(dst *linalg.Matrix) error {
	if dst.Field() != m.field {
		return &FieldError{Value: dst, Want: m.field, Got: dst.Field()}
	}
	return m.checkShape(dst)
}

func (m *GeneralizedStiefel) embedDim() (rows, cols int) {
	d := m.field.RealDim()
	return m.n * d, m.k * d
}
