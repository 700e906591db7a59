package manifold

import (
	"math"

	"github.com/23skdu/longbow-stiefel/internal/linalg"
)

// sqrtEps is √(machine epsilon) for float64.
var sqrtEps = math.Sqrt(0x1p-52)

// Tolerance configures approximate equality:
//
//	‖a − b‖ ≤ max(Abs, Rel·max(‖a‖, ‖b‖))
//
// When both fields are zero Rel defaults to √eps, so the zero value compares
// to a fixed point in relative terms and to the zero matrix exactly.
type Tolerance struct {
	Abs float64 `yaml:"abs" cbor:"abs"`
	Rel float64 `yaml:"rel" cbor:"rel"`
}

// DefaultTolerance is loose enough for tangency checks, which compare
// against the zero matrix where a relative bound is meaningless.
var DefaultTolerance = Tolerance{Abs: 1e-10, Rel: sqrtEps}

func (t Tolerance) rel() float64 {
	if t.Abs == 0 && t.Rel == 0 {
		return sqrtEps
	}
	return t.Rel
}

// bound returns the admissible distance for operands of norms na and nb.
func (t Tolerance) bound(na, nb float64) float64 {
	return math.Max(t.Abs, t.rel()*math.Max(na, nb))
}

// approx applies the rule to a distance already computed as ‖a − b‖.
func (t Tolerance) approx(dist, na, nb float64) bool {
	return dist <= t.bound(na, nb)
}

// Within reports whether dist is admissible for operands of norms na and nb.
func (t Tolerance) Within(dist, na, nb float64) bool {
	return t.approx(dist, na, nb)
}

// Equal compares two matrices of the same field and shape under the rule.
func (t Tolerance) Equal(a, b *linalg.Matrix) bool {
	if !linalg.SameShape(a, b) {
		return false
	}
	diff := a.Clone()
	diff.Sub(b)
	return t.approx(diff.FrobeniusNorm(), a.FrobeniusNorm(), b.FrobeniusNorm())
}
