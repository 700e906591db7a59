package manifold

import (
	"math"

	"github.com/rs/zerolog/log"

	"github.com/23skdu/longbow-stiefel/internal/linalg"
	"github.com/23skdu/longbow-stiefel/internal/simd"
)

// Inner returns the Riemannian metric Re tr(vᴴBw). It does not depend on x.
// v and w must be n×k over a subfield of the manifold field; a mismatch is a
// programming error and panics.
func (m *GeneralizedStiefel) Inner(x, v, w *linalg.Matrix) float64 {
	vf := m.mustLiftShaped("Inner", v)
	wf := m.mustLiftShaped("Inner", w)

	rows, cols := m.embedDim()
	bw := linalg.Pool.Get(rows, cols)
	defer linalg.Pool.Put(bw)
	bw.Mul(m.bEmb, wf.Embed())

	ve := linalg.Pool.Get(rows, cols)
	defer linalg.Pool.Put(ve)
	vf.EmbedInto(ve)

	// tr(Embed(a)) = d·Re tr(a)
	dot := simd.DotProduct(ve.RawMatrix().Data, bw.RawMatrix().Data)
	return dot / float64(m.field.RealDim())
}

// Norm returns √Inner(x, v, v).
func (m *GeneralizedStiefel) Norm(x, v *linalg.Matrix) float64 {
	return math.Sqrt(math.Max(0, m.Inner(x, v, v)))
}

func (m *GeneralizedStiefel) mustLiftShaped(op string, a *linalg.Matrix) *linalg.Matrix {
	lifted, err := m.liftShaped(a)
	if err != nil {
		log.Panic().Err(err).Str("op", op).Msg("stiefel: invalid argument")
	}
	return lifted
}
