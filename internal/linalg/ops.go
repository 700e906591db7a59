package linalg

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

var (
	// ErrFactorization is returned when a gonum decomposition reports failure.
	ErrFactorization = errors.New("linalg: factorization failed")

	// ErrNonPositiveEigenvalue is returned by InvSqrtSym when the input is not
	// positive-definite, so its inverse square root is undefined.
	ErrNonPositiveEigenvalue = errors.New("linalg: non-positive eigenvalue")
)

// AdjointMul sets dst = aᵀ·b. On embedded operands this is aᴴ·b.
func AdjointMul(dst *mat.Dense, a, b mat.Matrix) {
	dst.Mul(a.T(), b)
}

// SymPart returns (a + aᵀ)/2 as a SymDense.
func SymPart(a mat.Matrix) *mat.SymDense {
	n, c := a.Dims()
	if n != c {
		panic(fmt.Sprintf("linalg: SymPart of non-square %dx%d matrix", n, c))
	}
	s := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			s.SetSym(i, j, (a.At(i, j)+a.At(j, i))/2)
		}
	}
	return s
}

// Symmetrize sets dst = (a + aᵀ)/2. dst may alias a.
func Symmetrize(dst *mat.Dense, a mat.Matrix) {
	n, _ := a.Dims()
	if dst != a {
		dst.Copy(a)
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			v := (dst.At(i, j) + dst.At(j, i)) / 2
			dst.Set(i, j, v)
			dst.Set(j, i, v)
		}
	}
}

// IsSymmetric reports whether ‖a − aᵀ‖_F ≤ tol·max(1, ‖a‖_F).
func IsSymmetric(a mat.Matrix, tol float64) bool {
	r, c := a.Dims()
	if r != c {
		return false
	}
	var diff mat.Dense
	diff.Sub(a, a.T())
	return mat.Norm(&diff, 2) <= tol*math.Max(1, mat.Norm(a, 2))
}

// InvSqrtSym returns Q·diag(1/√λ)·Qᵀ for the eigendecomposition of the
// symmetric part of a, together with the eigenvalues λ in ascending order.
// If any λ ≤ 0 the eigenvalues are returned with ErrNonPositiveEigenvalue.
func InvSqrtSym(a mat.Matrix) (*mat.Dense, []float64, error) {
	sym := SymPart(a)

	var es mat.EigenSym
	if ok := es.Factorize(sym, true); !ok {
		return nil, nil, fmt.Errorf("eigen decomposition: %w", ErrFactorization)
	}
	vals := es.Values(nil)
	for _, v := range vals {
		if !(v > 0) {
			return nil, vals, fmt.Errorf("inverse square root with eigenvalue %g: %w", v, ErrNonPositiveEigenvalue)
		}
	}

	var q mat.Dense
	es.VectorsTo(&q)

	n := len(vals)
	scaled := mat.NewDense(n, n, nil)
	for j, v := range vals {
		s := 1 / math.Sqrt(v)
		for i := 0; i < n; i++ {
			scaled.Set(i, j, q.At(i, j)*s)
		}
	}
	out := mat.NewDense(n, n, nil)
	out.Mul(scaled, q.T())
	return out, vals, nil
}

// ThinSVD returns U (r×c) and V (c×c) of a = UΣVᵀ for r ≥ c. Σ is discarded.
func ThinSVD(a mat.Matrix) (u, v *mat.Dense, err error) {
	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDThin); !ok {
		return nil, nil, fmt.Errorf("svd: %w", ErrFactorization)
	}
	u, v = &mat.Dense{}, &mat.Dense{}
	svd.UTo(u)
	svd.VTo(v)
	return u, v, nil
}

// IsPositiveDefinite reports whether the symmetric part of a admits a
// Cholesky factorization.
func IsPositiveDefinite(a mat.Matrix) bool {
	var ch mat.Cholesky
	return ch.Factorize(SymPart(a))
}

// Sign is the signum with sign(0) = 0.
func Sign(x float64) float64 {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	default:
		return 0
	}
}
