package cache

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/23skdu/longbow-stiefel/internal/codec"
	"github.com/23skdu/longbow-stiefel/internal/field"
	"github.com/23skdu/longbow-stiefel/internal/manifold"
)

var (
	cacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stiefel_manifold_cache_hits_total",
		Help: "Manifold lookups served from the cache",
	})
	cacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stiefel_manifold_cache_misses_total",
		Help: "Manifold lookups that constructed a new manifold",
	})
)

// ManifoldCache defines a cache of constructed manifolds. Construction
// factors B, so requests naming the same manifold share one instance.
type ManifoldCache interface {
	// Get retrieves a manifold from the cache.
	Get(key uint64) (*manifold.GeneralizedStiefel, bool)
	// Put stores a manifold in the cache.
	Put(key uint64, m *manifold.GeneralizedStiefel)
	// Size returns the number of items in the cache.
	Size() int
}

// MapCache is a bounded in-memory ManifoldCache. When full, the oldest
// entry is evicted. Manifolds are immutable, so cached values are shared.
type MapCache struct {
	data  map[uint64]*manifold.GeneralizedStiefel
	order []uint64
	max   int
	mu    sync.RWMutex
}

// NewMapCache returns a cache holding at most max manifolds; max <= 0 means
// unbounded.
func NewMapCache(max int) *MapCache {
	return &MapCache{
		data: make(map[uint64]*manifold.GeneralizedStiefel),
		max:  max,
	}
}

func (c *MapCache) Get(key uint64) (*manifold.GeneralizedStiefel, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.data[key]
	return m, ok
}

func (c *MapCache) Put(key uint64, m *manifold.GeneralizedStiefel) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.data[key]; !ok {
		c.order = append(c.order, key)
	}
	c.data[key] = m
	for c.max > 0 && len(c.data) > c.max {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.data, oldest)
	}
}

func (c *MapCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}

// GetOrBuild returns the cached manifold described by w, building and
// storing it on a miss.
func GetOrBuild(c ManifoldCache, w codec.ManifoldWire) (*manifold.GeneralizedStiefel, error) {
	key, err := Key(w)
	if err != nil {
		return nil, err
	}
	if m, ok := c.Get(key); ok {
		cacheHits.Inc()
		return m, nil
	}
	cacheMisses.Inc()
	m, err := w.Build()
	if err != nil {
		return nil, err
	}
	c.Put(key, m)
	return m, nil
}

// Key hashes the canonical form of w: field aliases such as "ℂ" and
// "complex" produce the same key. Unknown field names are reported as
// codec.ErrMalformed.
func Key(w codec.ManifoldWire) (uint64, error) {
	f, err := field.Parse(w.Field)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", codec.ErrMalformed, err)
	}
	d := xxhash.New()
	var buf [8]byte
	put := func(v uint64) {
		binary.LittleEndian.PutUint64(buf[:], v)
		_, _ = d.Write(buf[:])
	}
	put(uint64(w.N))
	put(uint64(w.K))
	put(uint64(f))
	if w.B != nil {
		bf, err := field.Parse(w.B.Field)
		if err != nil {
			return 0, fmt.Errorf("%w: b: %v", codec.ErrMalformed, err)
		}
		put(uint64(bf))
		put(uint64(w.B.Rows))
		put(uint64(w.B.Cols))
		for _, v := range w.B.Data {
			put(math.Float64bits(v))
		}
	}
	return d.Sum64(), nil
}
