package manifold

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/23skdu/longbow-stiefel/internal/linalg"
)

// CheckPoint returns nil if x is a point of the manifold, otherwise a
// *FieldError, *ShapeError or *ConstraintError, checked in that order.
// The constraint product is never formed for a matrix of the wrong shape.
func (m *GeneralizedStiefel) CheckPoint(x *linalg.Matrix, tol Tolerance) error {
	_, err := m.checkPoint(x, tol)
	recordCheck("point", err)
	return err
}

// IsPoint reports whether CheckPoint succeeds.
func (m *GeneralizedStiefel) IsPoint(x *linalg.Matrix, tol Tolerance) bool {
	return m.CheckPoint(x, tol) == nil
}

// checkPoint returns x over the manifold field when it is a point.
func (m *GeneralizedStiefel) checkPoint(x *linalg.Matrix, tol Tolerance) (*linalg.Matrix, error) {
	xf, err := m.liftShaped(x)
	if err != nil {
		return nil, err
	}

	d := m.field.RealDim()
	rows, cols := m.embedDim()
	xe := xf.Embed()

	bx := linalg.Pool.Get(rows, cols)
	defer linalg.Pool.Put(bx)
	bx.Mul(m.bEmb, xe)

	gram := linalg.Pool.Get(cols, cols)
	defer linalg.Pool.Put(gram)
	linalg.AdjointMul(gram, xe, bx)

	// Norms of embeddings are √d times the field-native norms.
	scale := 1 / math.Sqrt(float64(d))
	gramNorm := mat.Norm(gram, 2) * scale
	for i := 0; i < cols; i++ {
		gram.Set(i, i, gram.At(i, i)-1)
	}
	dist := mat.Norm(gram, 2) * scale

	if !tol.approx(dist, gramNorm, math.Sqrt(float64(m.k))) {
		return nil, &ConstraintError{Value: x, Kind: Membership, Distance: dist}
	}
	return xf, nil
}

// CheckVector returns nil if v is a tangent vector at x. An invalid x is
// reported exactly as CheckPoint reports it; then v is checked for field,
// shape and the tangency constraint xᴴBv + vᴴBx = 0, in that order.
func (m *GeneralizedStiefel) CheckVector(x, v *linalg.Matrix, tol Tolerance) error {
	err := m.checkVector(x, v, tol)
	recordCheck("vector", err)
	return err
}

// IsVector reports whether CheckVector succeeds.
func (m *GeneralizedStiefel) IsVector(x, v *linalg.Matrix, tol Tolerance) bool {
	return m.CheckVector(x, v, tol) == nil
}

func (m *GeneralizedStiefel) checkVector(x, v *linalg.Matrix, tol Tolerance) error {
	xf, err := m.checkPoint(x, tol)
	if err != nil {
		return err
	}
	vf, err := m.liftShaped(v)
	if err != nil {
		return err
	}

	d := m.field.RealDim()
	rows, cols := m.embedDim()
	xe, ve := xf.Embed(), vf.Embed()

	bv := linalg.Pool.Get(rows, cols)
	defer linalg.Pool.Put(bv)
	bv.Mul(m.bEmb, ve)

	// xᴴBv + vᴴBx = G + Gᴴ with G = xᴴBv, since B is Hermitian.
	g := linalg.Pool.Get(cols, cols)
	defer linalg.Pool.Put(g)
	linalg.AdjointMul(g, xe, bv)

	sum := linalg.Pool.Get(cols, cols)
	defer linalg.Pool.Put(sum)
	sum.Add(g, g.T())

	dist := mat.Norm(sum, 2) / math.Sqrt(float64(d))
	if !tol.approx(dist, dist, 0) {
		return &ConstraintError{Value: v, Kind: Tangency, Distance: dist}
	}
	return nil
}
