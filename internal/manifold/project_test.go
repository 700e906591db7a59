package manifold

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-stiefel/internal/field"
	"github.com/23skdu/longbow-stiefel/internal/linalg"
)

func TestProject_MembershipClosure(t *testing.T) {
	rng := newRand(1)
	for _, f := range allFields {
		t.Run(f.String(), func(t *testing.T) {
			for _, withB := range []bool{false, true} {
				var opts []Option
				if withB {
					opts = append(opts, WithB(randomSPD(rng, f, 5)))
				}
				m := newManifold(t, 5, 3, f, opts...)
				for i := 0; i < 5; i++ {
					x := randomMatrix(rng, f, 5, 3)
					p, err := m.Project(x)
					require.NoError(t, err)
					assert.NoError(t, m.CheckPoint(p, testTol))
					assert.Equal(t, f, p.Field())
				}
			}
		})
	}
}

func TestProject_Idempotent(t *testing.T) {
	rng := newRand(2)
	for _, f := range allFields {
		t.Run(f.String(), func(t *testing.T) {
			m := newManifold(t, 4, 2, f, WithB(randomSPD(rng, f, 4)))
			x := randomPoint(t, rng, m)
			again, err := m.Project(x)
			require.NoError(t, err)
			assert.True(t, linalg.EqualApprox(x, again, 1e-10), "projection moved a point:\n%v\n%v", x, again)
		})
	}
}

func TestProject_KeepsScaledPoint(t *testing.T) {
	// Scaling a point by a positive factor only changes singular values.
	m := newManifold(t, 3, 2, field.Real)
	x := linalg.NewReal(3, 2, []float64{1, 0, 0, 1, 0, 0})
	y := x.Clone()
	y.Scale(3)

	p, err := m.Project(y)
	require.NoError(t, err)
	assert.True(t, linalg.EqualApprox(x, p, 1e-12))
}

func TestProjectTo(t *testing.T) {
	rng := newRand(3)
	m := newManifold(t, 4, 2, field.Complex)
	x := randomMatrix(rng, field.Complex, 4, 2)

	want, err := m.Project(x)
	require.NoError(t, err)

	t.Run("into buffer", func(t *testing.T) {
		dst := linalg.NewComplex(4, 2, nil)
		require.NoError(t, m.ProjectTo(dst, x))
		assert.True(t, linalg.EqualApprox(want, dst, 1e-14))
	})

	t.Run("in place", func(t *testing.T) {
		y := x.Clone()
		require.NoError(t, m.ProjectTo(y, y))
		assert.True(t, linalg.EqualApprox(want, y, 1e-14))
	})

	t.Run("bad buffer", func(t *testing.T) {
		assert.ErrorIs(t, m.ProjectTo(linalg.NewComplex(2, 4, nil), x), ErrShapeMismatch)
		assert.ErrorIs(t, m.ProjectTo(linalg.NewReal(4, 2, nil), x), ErrFieldMismatch)
	})

	t.Run("bad input", func(t *testing.T) {
		_, err := m.Project(linalg.NewComplex(3, 2, nil))
		assert.ErrorIs(t, err, ErrShapeMismatch)
	})
}

func TestProjectTangent_Closure(t *testing.T) {
	rng := newRand(4)
	for _, f := range allFields {
		t.Run(f.String(), func(t *testing.T) {
			m := newManifold(t, 5, 2, f)
			x := randomPoint(t, rng, m)
			for i := 0; i < 5; i++ {
				v, err := m.ProjectTangent(x, randomMatrix(rng, f, 5, 2))
				require.NoError(t, err)
				assert.NoError(t, m.CheckVector(x, v, testTol))
			}
		})
	}
}

func TestProjectTangent_Formula(t *testing.T) {
	// v − x·Sym(xᴴv) with the unweighted xᴴv, also for B ≠ I.
	b := linalg.NewReal(2, 2, []float64{4, 0, 0, 1})
	m := newManifold(t, 2, 1, field.Real, WithB(b))
	x := linalg.NewReal(2, 1, []float64{0.5, 0})
	require.NoError(t, m.CheckPoint(x, testTol))

	v := linalg.NewReal(2, 1, []float64{1, 1})
	got, err := m.ProjectTangent(x, v)
	require.NoError(t, err)
	// xᴴv = 0.5, Sym = 0.5, v − 0.5·x = (0.75, 1)
	assert.True(t, linalg.EqualApprox(linalg.NewReal(2, 1, []float64{0.75, 1}), got, 1e-15))
}

func TestProjectTangent_Linear(t *testing.T) {
	rng := newRand(5)
	for _, f := range allFields {
		t.Run(f.String(), func(t *testing.T) {
			m := newManifold(t, 4, 2, f, WithB(randomSPD(rng, f, 4)))
			x := randomPoint(t, rng, m)
			v := randomMatrix(rng, f, 4, 2)
			w := randomMatrix(rng, f, 4, 2)
			a, b := 1.5, -0.25

			comb := v.Clone()
			comb.Scale(a)
			comb.AddScaled(w, b)
			lhs, err := m.ProjectTangent(x, comb)
			require.NoError(t, err)

			pv, err := m.ProjectTangent(x, v)
			require.NoError(t, err)
			pw, err := m.ProjectTangent(x, w)
			require.NoError(t, err)
			rhs := pv.Clone()
			rhs.Scale(a)
			rhs.AddScaled(pw, b)

			assert.True(t, linalg.EqualApprox(lhs, rhs, 1e-12))
		})
	}
}

func TestProjectTangentTo(t *testing.T) {
	m := newManifold(t, 3, 2, field.Real)
	x := linalg.NewReal(3, 2, []float64{1, 0, 0, 1, 0, 0})
	v := linalg.NewReal(3, 2, []float64{1, 2, 3, 4, 5, 6})

	require.NoError(t, m.ProjectTangentTo(v, x, v))
	// xᴴv = [[1,2],[3,4]], Sym = [[1,2.5],[2.5,4]]
	want := linalg.NewReal(3, 2, []float64{0, -0.5, 0.5, 0, 5, 6})
	assert.True(t, linalg.EqualApprox(want, v, 1e-14))

	assert.ErrorIs(t, m.ProjectTangentTo(linalg.NewReal(2, 2, nil), x, v), ErrShapeMismatch)
	assert.ErrorIs(t, m.ProjectTangentTo(linalg.NewReal(3, 2, nil), x, linalg.NewComplex(3, 2, nil)), ErrFieldMismatch)
}
