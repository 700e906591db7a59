package manifold

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/23skdu/longbow-stiefel/internal/field"
	"github.com/23skdu/longbow-stiefel/internal/linalg"
)

var testTol = Tolerance{Abs: 1e-9, Rel: 1e-9}

var allFields = []field.Field{field.Real, field.Complex, field.Quaternion}

func newRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// randomMatrix fills every component with a standard normal sample.
func randomMatrix(rng *rand.Rand, f field.Field, rows, cols int) *linalg.Matrix {
	data := make([]float64, rows*cols*f.RealDim())
	for i := range data {
		data[i] = rng.NormFloat64()
	}
	return linalg.NewMatrix(f, rows, cols, data)
}

// randomSPD returns A·Aᴴ + n·I over f.
func randomSPD(rng *rand.Rand, f field.Field, n int) *linalg.Matrix {
	a := randomMatrix(rng, f, n, n).Embed()
	var b mat.Dense
	b.Mul(a, a.T())
	d := f.RealDim()
	for i := 0; i < n*d; i++ {
		b.Set(i, i, b.At(i, i)+float64(n))
	}
	return linalg.FromEmbedded(f, n, n, &b)
}

func newManifold(t *testing.T, n, k int, f field.Field, opts ...Option) *GeneralizedStiefel {
	t.Helper()
	m, err := New(n, k, f, opts...)
	require.NoError(t, err)
	return m
}

// randomPoint projects a random ambient matrix.
func randomPoint(t *testing.T, rng *rand.Rand, m *GeneralizedStiefel) *linalg.Matrix {
	t.Helper()
	n, k := m.RepresentationSize()
	x, err := m.Project(randomMatrix(rng, m.Field(), n, k))
	require.NoError(t, err)
	return x
}
