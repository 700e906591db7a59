package linalg

import (
	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/mat"

	"github.com/23skdu/longbow-stiefel/internal/field"
)

// block describes the d×d real matrix of left multiplication by a scalar:
// entry (r, c) is sign[r][c] * component[index[r][c]].
type block struct {
	index [][]int
	sign  [][]float64
}

var blocks = map[field.Field]block{
	field.Real: {
		index: [][]int{{0}},
		sign:  [][]float64{{1}},
	},
	// a+bi -> [[a, -b], [b, a]]
	field.Complex: {
		index: [][]int{{0, 1}, {1, 0}},
		sign:  [][]float64{{1, -1}, {1, 1}},
	},
	// a+bi+cj+dk -> left multiplication by the quaternion on (1, i, j, k)
	field.Quaternion: {
		index: [][]int{
			{0, 1, 2, 3},
			{1, 0, 3, 2},
			{2, 3, 0, 1},
			{3, 2, 1, 0},
		},
		sign: [][]float64{
			{1, -1, -1, -1},
			{1, 1, -1, 1},
			{1, 1, 1, -1},
			{1, -1, 1, 1},
		},
	},
}

// Embed returns the real (rows·d)×(cols·d) representation of m, d = RealDim.
//
// The map is a *-homomorphism: Embed(a·b) = Embed(a)·Embed(b) and
// Embed(aᴴ) = Embed(a)ᵀ, so SVD, eigen and polar factors of the embedding
// are embeddings of the field-native factors.
func (m *Matrix) Embed() *mat.Dense {
	d := m.field.RealDim()
	dst := mat.NewDense(m.rows*d, m.cols*d, nil)
	m.EmbedInto(dst)
	return dst
}

// EmbedInto writes the real representation of m into dst.
func (m *Matrix) EmbedInto(dst *mat.Dense) {
	d := m.field.RealDim()
	r, c := dst.Dims()
	if r != m.rows*d || c != m.cols*d {
		log.Panic().Int("rows", r).Int("cols", c).Msg("linalg: EmbedInto destination has wrong dimensions")
	}
	if d == 1 {
		// Real data is already the row-major layout of the embedding.
		for i := 0; i < m.rows; i++ {
			dst.SetRow(i, m.data[i*m.cols:(i+1)*m.cols])
		}
		return
	}
	blk := blocks[m.field]
	for i := 0; i < m.rows; i++ {
		for j := 0; j < m.cols; j++ {
			comp := m.data[(i*m.cols+j)*d : (i*m.cols+j+1)*d]
			for br := 0; br < d; br++ {
				for bc := 0; bc < d; bc++ {
					dst.Set(i*d+br, j*d+bc, blk.sign[br][bc]*comp[blk.index[br][bc]])
				}
			}
		}
	}
}

// FromEmbedded extracts a rows×cols matrix over f from its real
// representation e.
func FromEmbedded(f field.Field, rows, cols int, e mat.Matrix) *Matrix {
	m := NewMatrix(f, rows, cols, nil)
	m.SetFromEmbedded(e)
	return m
}

// SetFromEmbedded overwrites m with the field matrix represented by e.
// Each component is the average over the d entries of its block that carry
// it, which is the orthogonal projection onto the image of Embed and removes
// rounding noise that breaks the block structure.
func (m *Matrix) SetFromEmbedded(e mat.Matrix) {
	d := m.field.RealDim()
	r, c := e.Dims()
	if r != m.rows*d || c != m.cols*d {
		log.Panic().Int("rows", r).Int("cols", c).Msg("linalg: SetFromEmbedded source has wrong dimensions")
	}
	if d == 1 {
		for i := 0; i < m.rows; i++ {
			for j := 0; j < m.cols; j++ {
				m.data[i*m.cols+j] = e.At(i, j)
			}
		}
		return
	}
	blk := blocks[m.field]
	inv := 1 / float64(d)
	for i := 0; i < m.rows; i++ {
		for j := 0; j < m.cols; j++ {
			comp := m.data[(i*m.cols+j)*d : (i*m.cols+j+1)*d]
			for p := range comp {
				comp[p] = 0
			}
			for br := 0; br < d; br++ {
				for bc := 0; bc < d; bc++ {
					comp[blk.index[br][bc]] += blk.sign[br][bc] * e.At(i*d+br, j*d+bc) * inv
				}
			}
		}
	}
}
