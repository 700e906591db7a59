package cache

import (
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-stiefel/internal/codec"
	"github.com/23skdu/longbow-stiefel/internal/field"
	"github.com/23skdu/longbow-stiefel/internal/linalg"
	"github.com/23skdu/longbow-stiefel/internal/manifold"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func mustNew(t *testing.T, n, k int) *manifold.GeneralizedStiefel {
	t.Helper()
	m, err := manifold.New(n, k, field.Real)
	require.NoError(t, err)
	return m
}

func TestMapCache(t *testing.T) {
	c := NewMapCache(2)
	a, b, d := mustNew(t, 2, 1), mustNew(t, 3, 1), mustNew(t, 4, 1)

	c.Put(1, a)
	c.Put(2, b)
	got, ok := c.Get(1)
	require.True(t, ok)
	assert.Same(t, a, got)

	c.Put(3, d)
	assert.Equal(t, 2, c.Size())
	_, ok = c.Get(1)
	assert.False(t, ok, "oldest entry should be evicted")

	// Replacing an existing key does not grow the cache.
	c.Put(3, a)
	assert.Equal(t, 2, c.Size())
}

func TestKey(t *testing.T) {
	k1, err := Key(codec.ManifoldWire{N: 4, K: 2, Field: "complex"})
	require.NoError(t, err)
	k2, err := Key(codec.ManifoldWire{N: 4, K: 2, Field: "ℂ"})
	require.NoError(t, err)
	assert.Equal(t, k1, k2)

	k3, err := Key(codec.ManifoldWire{N: 4, K: 1, Field: "complex"})
	require.NoError(t, err)
	assert.NotEqual(t, k1, k3)

	b := codec.FromMatrix(linalg.NewReal(4, 4, []float64{2, 0, 0, 0, 0, 2, 0, 0, 0, 0, 2, 0, 0, 0, 0, 2}))
	k4, err := Key(codec.ManifoldWire{N: 4, K: 2, Field: "complex", B: &b})
	require.NoError(t, err)
	assert.NotEqual(t, k1, k4)

	_, err = Key(codec.ManifoldWire{N: 4, K: 2, Field: "octonion"})
	assert.ErrorIs(t, err, codec.ErrMalformed)
}

func TestGetOrBuild(t *testing.T) {
	c := NewMapCache(0)
	hits, misses := counterValue(t, cacheHits), counterValue(t, cacheMisses)

	w := codec.ManifoldWire{N: 3, K: 2, Field: "real"}
	m1, err := GetOrBuild(c, w)
	require.NoError(t, err)
	m2, err := GetOrBuild(c, w)
	require.NoError(t, err)
	assert.Same(t, m1, m2)

	assert.Equal(t, 1.0, counterValue(t, cacheHits)-hits)
	assert.Equal(t, 1.0, counterValue(t, cacheMisses)-misses)

	_, err = GetOrBuild(c, codec.ManifoldWire{N: 1, K: 2, Field: "real"})
	assert.ErrorIs(t, err, manifold.ErrInvalidDimensions)
	assert.Equal(t, 1, c.Size())
}

func TestMapCache_Concurrent(t *testing.T) {
	c := NewMapCache(4)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := GetOrBuild(c, codec.ManifoldWire{N: n%3 + 2, K: 1, Field: "real"})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()
	assert.LessOrEqual(t, c.Size(), 4)
}
