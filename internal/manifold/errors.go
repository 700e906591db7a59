package manifold

import (
	"errors"
	"fmt"

	"github.com/23skdu/longbow-stiefel/internal/field"
	"github.com/23skdu/longbow-stiefel/internal/linalg"
)

// Validation reports errors in this order, first match wins:
// field -> shape -> constraint. Projection preconditions surface as
// DomainError.
var (
	ErrFieldMismatch      = errors.New("stiefel: field mismatch")
	ErrShapeMismatch      = errors.New("stiefel: shape mismatch")
	ErrConstraintViolated = errors.New("stiefel: constraint violated")
	ErrDomain             = errors.New("stiefel: domain error")

	ErrInvalidDimensions   = errors.New("stiefel: dimensions must satisfy 0 < k <= n")
	ErrNotHermitian        = errors.New("stiefel: B is not Hermitian")
	ErrNotPositiveDefinite = errors.New("stiefel: B is not positive-definite")
	ErrUnsupportedField    = errors.New("stiefel: operation not supported for field")
	ErrUnknownRetraction   = errors.New("stiefel: unknown retraction method")
)

// FieldError reports a point or vector whose scalars are not in the
// manifold's field.
type FieldError struct {
	Value *linalg.Matrix
	Want  field.Field
	Got   field.Field
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("stiefel: %s entries are not elements of %s", e.Got, e.Want)
}

func (e *FieldError) Is(target error) bool { return target == ErrFieldMismatch }

// ShapeError reports a matrix whose dimensions differ from the expected ones.
type ShapeError struct {
	Value              *linalg.Matrix
	WantRows, WantCols int
	GotRows, GotCols   int
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("stiefel: matrix has size %dx%d, expected %dx%d",
		e.GotRows, e.GotCols, e.WantRows, e.WantCols)
}

func (e *ShapeError) Is(target error) bool { return target == ErrShapeMismatch }

// ConstraintKind names the invariant a ConstraintError refers to.
type ConstraintKind int

const (
	// Membership is xᴴBx = I.
	Membership ConstraintKind = iota
	// Tangency is xᴴBv + vᴴBx = 0.
	Tangency
)

func (k ConstraintKind) String() string {
	if k == Tangency {
		return "tangency"
	}
	return "membership"
}

// ConstraintError reports a violated algebraic invariant. Distance is the
// Frobenius norm of the residual (xᴴBx − I or xᴴBv + vᴴBx).
type ConstraintError struct {
	Value    *linalg.Matrix
	Kind     ConstraintKind
	Distance float64
}

func (e *ConstraintError) Error() string {
	switch e.Kind {
	case Tangency:
		return fmt.Sprintf("stiefel: xᴴBv + vᴴBx is not the zero matrix (‖·‖ = %g)", e.Distance)
	default:
		return fmt.Sprintf("stiefel: xᴴBx is not the identity (‖xᴴBx − I‖ = %g)", e.Distance)
	}
}

func (e *ConstraintError) Is(target error) bool { return target == ErrConstraintViolated }

// DomainError reports that a projection could not be formed because an
// intermediate matrix was not positive-definite, typically because x is
// rank deficient.
type DomainError struct {
	Op         string
	Eigenvalue float64
	Err        error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("stiefel: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("stiefel: %s: inverse square root of eigenvalue %g", e.Op, e.Eigenvalue)
}

func (e *DomainError) Is(target error) bool { return target == ErrDomain }

func (e *DomainError) Unwrap() error { return e.Err }
