// Package field describes the scalar fields a manifold can be defined over.
package field

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Field is one of the real division algebras ℝ, ℂ, ℍ.
type Field int

const (
	Real Field = iota
	Complex
	Quaternion
)

// RealDim returns the number of real components of a scalar.
func (f Field) RealDim() int {
	switch f {
	case Complex:
		return 2
	case Quaternion:
		return 4
	default:
		return 1
	}
}

// Contains reports whether every scalar of g is also a scalar of f
// (ℝ ⊂ ℂ ⊂ ℍ).
func (f Field) Contains(g Field) bool {
	return g.Valid() && f.Valid() && g <= f
}

func (f Field) Valid() bool {
	return f >= Real && f <= Quaternion
}

func (f Field) String() string {
	switch f {
	case Real:
		return "real"
	case Complex:
		return "complex"
	case Quaternion:
		return "quaternion"
	default:
		return fmt.Sprintf("field(%d)", int(f))
	}
}

// Symbol returns the blackboard-bold letter for the field.
func (f Field) Symbol() string {
	switch f {
	case Real:
		return "ℝ"
	case Complex:
		return "ℂ"
	case Quaternion:
		return "ℍ"
	default:
		return "?"
	}
}

// Parse accepts "real", "complex", "quaternion", their first letters
// (with "h" for Hamilton) and the symbols ℝ, ℂ, ℍ.
func Parse(s string) (Field, error) {
	// NFKC maps ℝ/ℂ/ℍ onto R/C/H.
	key := cases.Fold().String(norm.NFKC.String(strings.TrimSpace(s)))
	switch key {
	case "", "r", "real", "float", "float64":
		return Real, nil
	case "c", "complex", "complex128":
		return Complex, nil
	case "h", "q", "quaternion", "quat":
		return Quaternion, nil
	}
	return Real, fmt.Errorf("field: unknown field %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (f Field) MarshalText() ([]byte, error) {
	if !f.Valid() {
		return nil, fmt.Errorf("field: invalid field %d", int(f))
	}
	return []byte(f.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (f *Field) UnmarshalText(b []byte) error {
	v, err := Parse(string(b))
	if err != nil {
		return err
	}
	*f = v
	return nil
}
