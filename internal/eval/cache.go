package eval

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/leapstack-labs/harmonize/pkg/core"
	"github.com/leapstack-labs/harmonize/pkg/value"
	"golang.org/x/sync/singleflight"
)

// VectorCache memoizes column reads of one batch. Each distinct
// VectorSource is computed at most once over the batch entities; concurrent
// first reads of the same source wait for a single computation. Failed
// computations are not stored and are retried by the next read.
//
// A cache belongs to one batch and is dropped with it.
type VectorCache struct {
	entities []core.VariableEntity

	flights singleflight.Group

	mu      sync.Mutex
	keys    map[vectorKey]string
	vectors map[vectorKey][]value.Value
}

type vectorKey struct {
	source     core.VectorSource
	entityType string
}

// NewVectorCache creates the cache of a batch over the given entities.
// Vectors returned by the cache are aligned with this order.
func NewVectorCache(entities []core.VariableEntity) *VectorCache {
	return &VectorCache{
		entities: entities,
		keys:     make(map[vectorKey]string),
		vectors:  make(map[vectorKey][]value.Value),
	}
}

// Entities returns the batch entities in order.
func (c *VectorCache) Entities() []core.VariableEntity {
	return c.entities
}

// Len returns the number of entities in the batch.
func (c *VectorCache) Len() int {
	return len(c.entities)
}

// Get returns the vector of src over the batch entities. Successive calls
// with the same source return the same slice, which callers must not modify.
func (c *VectorCache) Get(ctx context.Context, src core.VectorSource) ([]value.Value, error) {
	return c.GetAs(ctx, src, "")
}

// GetAs is like Get for a source of a table whose entity type differs from
// the batch's: entities are read under entityType with the same identifiers.
// An empty entityType means the batch entities as is.
func (c *VectorCache) GetAs(ctx context.Context, src core.VectorSource, entityType string) ([]value.Value, error) {
	key := vectorKey{source: src, entityType: entityType}
	if err := activeCycle(ctx, src); err != nil {
		return nil, err
	}

	c.mu.Lock()
	if vec, ok := c.vectors[key]; ok {
		c.mu.Unlock()
		return vec, nil
	}
	flight, ok := c.keys[key]
	if !ok {
		flight = strconv.Itoa(len(c.keys))
		c.keys[key] = flight
	}
	c.mu.Unlock()

	res, err, _ := c.flights.Do(flight, func() (any, error) {
		c.mu.Lock()
		vec, ok := c.vectors[key]
		c.mu.Unlock()
		if ok {
			return vec, nil
		}

		vec, err := src.Values(WithCache(ctx, c), c.entitiesAs(entityType))
		if err != nil {
			return nil, err
		}
		if len(vec) != len(c.entities) {
			return nil, fmt.Errorf("vector source returned %d values for %d entities", len(vec), len(c.entities))
		}

		c.mu.Lock()
		c.vectors[key] = vec
		c.mu.Unlock()
		return vec, nil
	})
	if err != nil {
		return nil, err
	}
	return res.([]value.Value), nil
}

// Has reports whether the vector of src over the batch entities is cached.
func (c *VectorCache) Has(src core.VectorSource) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.vectors[vectorKey{source: src}]
	return ok
}

func (c *VectorCache) entitiesAs(entityType string) []core.VariableEntity {
	if entityType == "" {
		return c.entities
	}
	out := make([]core.VariableEntity, len(c.entities))
	for i, e := range c.entities {
		out[i] = core.NewEntity(entityType, e.Identifier)
	}
	return out
}

// Covers reports whether the cache's batch is exactly entities.
func (c *VectorCache) Covers(entities []core.VariableEntity) bool {
	if len(entities) != len(c.entities) {
		return false
	}
	if len(entities) == 0 || &entities[0] == &c.entities[0] {
		return true
	}
	for i, e := range entities {
		if e != c.entities[i] {
			return false
		}
	}
	return true
}

type cacheKey struct{}

// WithCache returns a context carrying the batch cache, so that derived
// sources read during the batch share it.
func WithCache(ctx context.Context, cache *VectorCache) context.Context {
	return context.WithValue(ctx, cacheKey{}, cache)
}

// CacheFromContext returns the batch cache carried by ctx.
func CacheFromContext(ctx context.Context) (*VectorCache, bool) {
	cache, ok := ctx.Value(cacheKey{}).(*VectorCache)
	return cache, ok && cache != nil
}
