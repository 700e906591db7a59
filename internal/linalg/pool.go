package linalg

import (
	"sync"

	"gonum.org/v1/gonum/mat"
)

// BufferPool provides pooled matrices for intermediate products such as
// xᴴBx, so validation in tight loops does not allocate per call.
type BufferPool struct {
	dense sync.Pool
}

// Pool is the shared scratch pool.
var Pool = &BufferPool{}

// Get returns a zeroed rows×cols matrix, reusing pooled storage when it is
// large enough.
func (p *BufferPool) Get(rows, cols int) *mat.Dense {
	if v := p.dense.Get(); v != nil {
		m := v.(*mat.Dense)
		raw := m.RawMatrix().Data
		if cap(raw) >= rows*cols {
			raw = raw[:rows*cols]
			for i := range raw {
				raw[i] = 0
			}
			return mat.NewDense(rows, cols, raw)
		}
	}
	return mat.NewDense(rows, cols, nil)
}

// Put returns a matrix to the pool. The caller must not use it afterwards.
func (p *BufferPool) Put(m *mat.Dense) {
	if m != nil && !m.IsEmpty() {
		p.dense.Put(m)
	}
}
