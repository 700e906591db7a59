package manifold

import (
	"fmt"
	"strings"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/23skdu/longbow-stiefel/internal/field"
	"github.com/23skdu/longbow-stiefel/internal/linalg"
)

// RetractionMethod selects how x + v is mapped back onto the manifold.
type RetractionMethod int

const (
	// PolarRetraction projects x + v with Project.
	PolarRetraction RetractionMethod = iota
	// QRRetraction orthonormalises x + v in the B inner product by a QR
	// decomposition and fixes column signs from diag(R), sign(0) = 0.
	// Real field only.
	QRRetraction
)

func (r RetractionMethod) String() string {
	switch r {
	case PolarRetraction:
		return "polar"
	case QRRetraction:
		return "qr"
	default:
		return fmt.Sprintf("retraction(%d)", int(r))
	}
}

// ParseRetraction accepts "polar" and "qr".
func ParseRetraction(s string) (RetractionMethod, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "polar":
		return PolarRetraction, nil
	case "qr":
		return QRRetraction, nil
	}
	return PolarRetraction, fmt.Errorf("%q: %w", s, ErrUnknownRetraction)
}

// RetractionMethods lists the methods supported for the manifold's field.
func (m *GeneralizedStiefel) RetractionMethods() []RetractionMethod {
	if m.field == field.Real {
		return []RetractionMethod{PolarRetraction, QRRetraction}
	}
	return []RetractionMethod{PolarRetraction}
}

// Retract maps the tangent vector v at x to a point of the manifold.
func (m *GeneralizedStiefel) Retract(x, v *linalg.Matrix, method RetractionMethod) (*linalg.Matrix, error) {
	dst := linalg.NewMatrix(m.field, m.n, m.k, nil)
	return m.RetractTo(dst, x, v, method)
}

// RetractTo writes the retraction into dst and returns dst.
func (m *GeneralizedStiefel) RetractTo(dst, x, v *linalg.Matrix, method RetractionMethod) (*linalg.Matrix, error) {
	defer observe("retract_"+method.String(), time.Now())

	if err := m.checkBuffer(dst); err != nil {
		return nil, err
	}
	xf, err := m.liftShaped(x)
	if err != nil {
		return nil, err
	}
	vf, err := m.liftShaped(v)
	if err != nil {
		return nil, err
	}

	y := xf.Clone()
	y.Add(vf)

	switch method {
	case PolarRetraction:
		res, err := m.projectEmbedded(y.Embed())
		if err != nil {
			return nil, err
		}
		dst.SetFromEmbedded(res)
	case QRRetraction:
		if err := m.qrRetractTo(dst, y); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%s: %w", method, ErrUnknownRetraction)
	}
	return dst, nil
}

// qrRetractTo computes Rᵦ⁻¹·Q·diag(sign(diag R)) where B = RᵦᵀRᵦ and
// Rᵦ·y = QR. The result z satisfies zᴴBz = QᴴQ = I whenever diag R has no
// zeros.
func (m *GeneralizedStiefel) qrRetractTo(dst, y *linalg.Matrix) error {
	if m.field != field.Real {
		return fmt.Errorf("qr retraction over %s: %w", m.field, ErrUnsupportedField)
	}
	n, k := m.n, m.k

	var z mat.Dense
	z.Mul(m.bChol, y.Embed())

	var qr mat.QR
	qr.Factorize(&z)
	var q, r mat.Dense
	qr.QTo(&q)
	qr.RTo(&r)

	thin := mat.NewDense(n, k, nil)
	thin.Copy(q.Slice(0, n, 0, k))
	for j := 0; j < k; j++ {
		s := linalg.Sign(r.At(j, j))
		for i := 0; i < n; i++ {
			thin.Set(i, j, thin.At(i, j)*s)
		}
	}

	var res mat.Dense
	if err := res.Solve(m.bChol, thin); err != nil {
		domainErrors.WithLabelValues("retract_qr").Inc()
		return &DomainError{Op: "retract_qr", Err: err}
	}
	dst.SetFromEmbedded(&res)
	return nil
}
