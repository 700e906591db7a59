package manifold

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-stiefel/internal/field"
	"github.com/23skdu/longbow-stiefel/internal/linalg"
)

func TestManifoldDimension(t *testing.T) {
	tests := []struct {
		n, k int
		f    field.Field
		want int
	}{
		{5, 2, field.Real, 7},
		{5, 2, field.Complex, 16},
		{5, 2, field.Quaternion, 34},
		{3, 3, field.Real, 3},
		{4, 1, field.Real, 3},
		{4, 1, field.Complex, 7},
		{3, 1, field.Quaternion, 11},
	}
	for _, tt := range tests {
		m := newManifold(t, tt.n, tt.k, tt.f)
		assert.Equal(t, tt.want, m.ManifoldDimension(), m.String())
		n, k := m.RepresentationSize()
		assert.Equal(t, tt.n, n)
		assert.Equal(t, tt.k, k)
	}
}

func TestNewValidation(t *testing.T) {
	t.Run("dimensions", func(t *testing.T) {
		for _, nk := range [][2]int{{0, 1}, {3, 0}, {2, 3}, {-1, -1}} {
			_, err := New(nk[0], nk[1], field.Real)
			assert.ErrorIs(t, err, ErrInvalidDimensions)
		}
	})

	t.Run("too large to allocate", func(t *testing.T) {
		for _, tc := range []struct {
			n, k int
			f    field.Field
		}{
			{1 << 32, 1, field.Real},
			{100000, 1, field.Real},
			{5000, 2, field.Quaternion},
		} {
			assert.NotPanics(t, func() {
				_, err := New(tc.n, tc.k, tc.f)
				assert.ErrorIs(t, err, ErrInvalidDimensions)
			})
		}
	})

	t.Run("B shape", func(t *testing.T) {
		_, err := New(3, 2, field.Real, WithB(linalg.Identity(field.Real, 2)))
		var se *ShapeError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, 3, se.WantRows)
		assert.Equal(t, 2, se.GotRows)
	})

	t.Run("B field", func(t *testing.T) {
		_, err := New(2, 1, field.Real, WithB(linalg.Identity(field.Complex, 2)))
		assert.ErrorIs(t, err, ErrFieldMismatch)
	})

	t.Run("B not Hermitian", func(t *testing.T) {
		b := linalg.NewReal(2, 2, []float64{2, 1, 0, 2})
		_, err := New(2, 1, field.Real, WithB(b))
		assert.ErrorIs(t, err, ErrNotHermitian)

		// i on both sides of the diagonal is symmetric but not Hermitian.
		c := linalg.NewComplex(2, 2, []complex128{2, 1i, 1i, 2})
		_, err = New(2, 1, field.Complex, WithB(c))
		assert.ErrorIs(t, err, ErrNotHermitian)
	})

	t.Run("B not positive-definite", func(t *testing.T) {
		b := linalg.NewReal(2, 2, []float64{1, 2, 2, 1})
		_, err := New(2, 1, field.Real, WithB(b))
		assert.ErrorIs(t, err, ErrNotPositiveDefinite)
	})

	t.Run("real B promoted", func(t *testing.T) {
		b := linalg.NewReal(2, 2, []float64{2, 0, 0, 3})
		m := newManifold(t, 2, 1, field.Complex, WithB(b))
		got := m.B()
		assert.Equal(t, field.Complex, got.Field())
		assert.Equal(t, 3.0, got.RealAt(1, 1))

		// B() is a copy.
		got.Scale(10)
		assert.Equal(t, 3.0, m.B().RealAt(1, 1))
	})
}

func TestErrorTypes(t *testing.T) {
	assert.True(t, errors.Is(&FieldError{}, ErrFieldMismatch))
	assert.True(t, errors.Is(&ShapeError{}, ErrShapeMismatch))
	assert.True(t, errors.Is(&ConstraintError{}, ErrConstraintViolated))
	assert.True(t, errors.Is(&DomainError{Err: linalg.ErrFactorization}, ErrDomain))
	assert.True(t, errors.Is(&DomainError{Err: linalg.ErrFactorization}, linalg.ErrFactorization))
	assert.False(t, errors.Is(&ShapeError{}, ErrConstraintViolated))

	assert.Contains(t, (&ShapeError{WantRows: 3, WantCols: 2, GotRows: 2, GotCols: 2}).Error(), "2x2, expected 3x2")
	assert.Contains(t, (&ConstraintError{Kind: Tangency, Distance: 0.5}).Error(), "0.5")
	assert.Contains(t, (&DomainError{Op: "project", Eigenvalue: -1}).Error(), "-1")
	assert.Equal(t, "tangency", Tangency.String())
}

func TestString(t *testing.T) {
	assert.Equal(t, "GeneralizedStiefel(5, 2, ℂ)", newManifold(t, 5, 2, field.Complex).String())
}

func TestErrorKind(t *testing.T) {
	assert.Equal(t, "ok", ErrorKind(nil))
	assert.Equal(t, "field", ErrorKind(&FieldError{}))
	assert.Equal(t, "shape", ErrorKind(fmt.Errorf("wrapped: %w", &ShapeError{})))
	assert.Equal(t, "constraint", ErrorKind(&ConstraintError{}))
	assert.Equal(t, "domain", ErrorKind(&DomainError{Op: "project"}))
	assert.Equal(t, "error", ErrorKind(ErrNotHermitian))
}

func TestCheckAmbient(t *testing.T) {
	m := newManifold(t, 3, 2, field.Complex)
	assert.NoError(t, m.CheckAmbient(linalg.NewReal(3, 2, nil)))
	assert.ErrorIs(t, m.CheckAmbient(linalg.NewReal(2, 3, nil)), ErrShapeMismatch)
	assert.ErrorIs(t, m.CheckAmbient(linalg.NewQuaternion(2, 3, nil)), ErrFieldMismatch)
}

func TestIdentityB(t *testing.T) {
	m, err := New(3, 2, field.Complex)
	require.NoError(t, err)
	assert.True(t, m.IdentityB())

	m, err = New(3, 2, field.Complex, WithB(linalg.Identity(field.Real, 3)))
	require.NoError(t, err)
	assert.True(t, m.IdentityB(), "a real identity promoted to ℂ is still I")

	b := linalg.Identity(field.Real, 3)
	b.Scale(2)
	m, err = New(3, 2, field.Real, WithB(b))
	require.NoError(t, err)
	assert.False(t, m.IdentityB())
}
