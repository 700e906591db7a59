// Package linalg provides the dense matrix type shared by the manifold code.
//
// A Matrix is tagged with the scalar field it lives over. Entries are stored
// row-major with field.RealDim() interleaved float64 components each:
// a real entry is one float, a complex entry is (re, im) and a quaternion
// entry is (real, i, j, k). Decompositions never run on this representation
// directly; Embed maps a Matrix onto an equivalent real *mat.Dense first.
package linalg

import (
	"fmt"
	"math"
	"strings"

	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/num/quat"

	"github.com/23skdu/longbow-stiefel/internal/field"
	"github.com/23skdu/longbow-stiefel/internal/simd"
)

// MaxComponents bounds the float64 components of a single Matrix (512 MiB).
const MaxComponents = 1 << 26

// Fits reports whether a rows×cols matrix over f stays within MaxComponents.
// It does not overflow for any int arguments.
func Fits(f field.Field, rows, cols int) bool {
	if rows <= 0 || cols <= 0 || !f.Valid() {
		return false
	}
	return rows <= MaxComponents/f.RealDim()/cols
}

// Matrix is a dense rows×cols matrix over a field.
type Matrix struct {
	field field.Field
	rows  int
	cols  int
	data  []float64
}

// NewMatrix creates a rows×cols matrix over f backed by a copy of data.
// data holds rows*cols*f.RealDim() components, or is nil for a zero matrix.
func NewMatrix(f field.Field, rows, cols int, data []float64) *Matrix {
	if rows <= 0 || cols <= 0 {
		log.Panic().Int("rows", rows).Int("cols", cols).Msg("linalg: NewMatrix invalid dimensions")
	}
	if !f.Valid() {
		log.Panic().Int("field", int(f)).Msg("linalg: NewMatrix invalid field")
	}
	if !Fits(f, rows, cols) {
		log.Panic().Int("rows", rows).Int("cols", cols).Msg("linalg: NewMatrix exceeds MaxComponents")
	}
	size := rows * cols * f.RealDim()
	m := &Matrix{field: f, rows: rows, cols: cols, data: make([]float64, size)}
	if data != nil {
		if len(data) != size {
			log.Panic().Int("want", size).Int("got", len(data)).Msg("linalg: NewMatrix data length does not match dimensions")
		}
		copy(m.data, data)
	}
	return m
}

// NewReal creates a real matrix from row-major data.
func NewReal(rows, cols int, data []float64) *Matrix {
	return NewMatrix(field.Real, rows, cols, data)
}

// NewComplex creates a complex matrix from row-major data.
func NewComplex(rows, cols int, data []complex128) *Matrix {
	m := NewMatrix(field.Complex, rows, cols, nil)
	if data == nil {
		return m
	}
	if len(data) != rows*cols {
		log.Panic().Int("want", rows*cols).Int("got", len(data)).Msg("linalg: NewComplex data length does not match dimensions")
	}
	for i, z := range data {
		m.data[2*i] = real(z)
		m.data[2*i+1] = imag(z)
	}
	return m
}

// NewQuaternion creates a quaternionic matrix from row-major data.
func NewQuaternion(rows, cols int, data []quat.Number) *Matrix {
	m := NewMatrix(field.Quaternion, rows, cols, nil)
	if data == nil {
		return m
	}
	if len(data) != rows*cols {
		log.Panic().Int("want", rows*cols).Int("got", len(data)).Msg("linalg: NewQuaternion data length does not match dimensions")
	}
	for i, q := range data {
		m.data[4*i] = q.Real
		m.data[4*i+1] = q.Imag
		m.data[4*i+2] = q.Jmag
		m.data[4*i+3] = q.Kmag
	}
	return m
}

// Identity returns the n×n identity over f.
func Identity(f field.Field, n int) *Matrix {
	m := NewMatrix(f, n, n, nil)
	d := f.RealDim()
	for i := 0; i < n; i++ {
		m.data[(i*n+i)*d] = 1
	}
	return m
}

func (m *Matrix) Field() field.Field { return m.field }

func (m *Matrix) Dims() (int, int) { return m.rows, m.cols }

// Raw returns the backing component slice. Writes are visible to m.
func (m *Matrix) Raw() []float64 { return m.data }

func (m *Matrix) offset(i, j int) int {
	if i < 0 || i >= m.rows || j < 0 || j >= m.cols {
		log.Panic().Int("i", i).Int("j", j).Int("rows", m.rows).Int("cols", m.cols).Msg("linalg: index out of range")
	}
	return (i*m.cols + j) * m.field.RealDim()
}

// At returns entry (i, j) as a quaternion; components the field lacks are 0.
func (m *Matrix) At(i, j int) quat.Number {
	o := m.offset(i, j)
	var q quat.Number
	switch m.field {
	case field.Quaternion:
		q.Kmag = m.data[o+3]
		q.Jmag = m.data[o+2]
		fallthrough
	case field.Complex:
		q.Imag = m.data[o+1]
		fallthrough
	default:
		q.Real = m.data[o]
	}
	return q
}

// Set writes entry (i, j). Components the field lacks must be zero.
func (m *Matrix) Set(i, j int, q quat.Number) {
	o := m.offset(i, j)
	switch m.field {
	case field.Real:
		if q.Imag != 0 || q.Jmag != 0 || q.Kmag != 0 {
			log.Panic().Msg("linalg: Set non-real value on real matrix")
		}
		m.data[o] = q.Real
	case field.Complex:
		if q.Jmag != 0 || q.Kmag != 0 {
			log.Panic().Msg("linalg: Set quaternion value on complex matrix")
		}
		m.data[o] = q.Real
		m.data[o+1] = q.Imag
	default:
		m.data[o] = q.Real
		m.data[o+1] = q.Imag
		m.data[o+2] = q.Jmag
		m.data[o+3] = q.Kmag
	}
}

// RealAt returns the real component of entry (i, j).
func (m *Matrix) RealAt(i, j int) float64 {
	return m.data[m.offset(i, j)]
}

// ComplexAt returns the ℂ part of entry (i, j).
func (m *Matrix) ComplexAt(i, j int) complex128 {
	q := m.At(i, j)
	return complex(q.Real, q.Imag)
}

func (m *Matrix) Clone() *Matrix {
	return NewMatrix(m.field, m.rows, m.cols, m.data)
}

// Promote returns m viewed over f. The result aliases m when the field
// already matches; otherwise the components are widened into a new matrix.
func (m *Matrix) Promote(f field.Field) (*Matrix, error) {
	if m.field == f {
		return m, nil
	}
	if !f.Contains(m.field) {
		return nil, fmt.Errorf("linalg: cannot promote %s matrix to %s", m.field, f)
	}
	out := NewMatrix(f, m.rows, m.cols, nil)
	src, dst := m.field.RealDim(), f.RealDim()
	for e := 0; e < m.rows*m.cols; e++ {
		copy(out.data[e*dst:e*dst+src], m.data[e*src:(e+1)*src])
	}
	return out, nil
}

// SameShape reports whether a and b agree in field and dimensions.
func SameShape(a, b *Matrix) bool {
	return a.field == b.field && a.rows == b.rows && a.cols == b.cols
}

func (m *Matrix) mustMatch(op string, other *Matrix) {
	if !SameShape(m, other) {
		log.Panic().
			Str("op", op).
			Str("target", m.shapeString()).
			Str("other", other.shapeString()).
			Msg("linalg: dimension mismatch")
	}
}

func (m *Matrix) shapeString() string {
	return fmt.Sprintf("%dx%d %s", m.rows, m.cols, m.field)
}

// CopyFrom overwrites m with src.
func (m *Matrix) CopyFrom(src *Matrix) {
	m.mustMatch("CopyFrom", src)
	copy(m.data, src.data)
}

// Add performs m += other.
func (m *Matrix) Add(other *Matrix) {
	m.mustMatch("Add", other)
	simd.VecAdd(m.data, other.data)
}

// Sub performs m -= other.
func (m *Matrix) Sub(other *Matrix) {
	m.mustMatch("Sub", other)
	simd.VecSub(m.data, other.data)
}

// AddScaled performs m += alpha * other.
func (m *Matrix) AddScaled(other *Matrix, alpha float64) {
	m.mustMatch("AddScaled", other)
	simd.VecAddScaled(m.data, other.data, alpha)
}

// Scale performs m *= alpha for a real alpha.
func (m *Matrix) Scale(alpha float64) {
	simd.VecScale(m.data, alpha)
}

// Dot returns Re tr(aᴴb), the real Frobenius inner product.
func Dot(a, b *Matrix) float64 {
	a.mustMatch("Dot", b)
	return simd.DotProduct(a.data, b.data)
}

// FrobeniusNorm returns √(Σ|m_ij|²).
func (m *Matrix) FrobeniusNorm() float64 {
	return math.Sqrt(simd.SumSquares(m.data))
}

// EqualApprox reports whether a and b have the same shape and every
// component differs by at most tol.
func EqualApprox(a, b *Matrix, tol float64) bool {
	if !SameShape(a, b) {
		return false
	}
	for i := range a.data {
		if math.Abs(a.data[i]-b.data[i]) > tol {
			return false
		}
	}
	return true
}

func (m *Matrix) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%dx%d %s matrix:\n", m.rows, m.cols, m.field.Symbol())
	for i := 0; i < m.rows; i++ {
		sb.WriteString("[")
		for j := 0; j < m.cols; j++ {
			if j > 0 {
				sb.WriteString(" ")
			}
			sb.WriteString(formatEntry(m.field, m.At(i, j)))
		}
		sb.WriteString("]\n")
	}
	return sb.String()
}

func formatEntry(f field.Field, q quat.Number) string {
	switch f {
	case field.Complex:
		return fmt.Sprintf("%g", complex(q.Real, q.Imag))
	case field.Quaternion:
		return fmt.Sprintf("%g", q)
	default:
		return fmt.Sprintf("%g", q.Real)
	}
}
