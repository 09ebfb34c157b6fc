// Package service implements the query, replace and delete operations on
// geo records on top of a store.Store.
package service

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/arkantrust/geocrud-api/models"
)

var (
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "geocrud_cache_hits_total",
		Help: "Number of record lookups served from the cache.",
	})
	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "geocrud_cache_misses_total",
		Help: "Number of record lookups that went to the store.",
	})
)

// RecordCache is a per-process LRU cache of records by id with a TTL.
//
// Every invalidation bumps a generation counter. A fill that read the store
// under an older generation is dropped, so a slow read can never put back a
// record that a concurrent write has already replaced or deleted.
type RecordCache struct {
	cache *expirable.LRU[int64, models.Record]

	mu         sync.Mutex
	generation uint64
}

// NewRecordCache creates a cache holding at most maxSize records for ttl each.
func NewRecordCache(maxSize int, ttl time.Duration) *RecordCache {
	return &RecordCache{cache: expirable.NewLRU[int64, models.Record](maxSize, nil, ttl)}
}

// Get returns a copy of the cached record.
func (c *RecordCache) Get(id int64) (*models.Record, bool) {
	r, ok := c.cache.Get(id)
	if !ok {
		cacheMissesTotal.Inc()
		return nil, false
	}
	cacheHitsTotal.Inc()
	return &r, true
}

// Generation returns the token to pass to Set for a store read that starts
// now.
func (c *RecordCache) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

// Set adds or refreshes a record read under generation gen. It reports false
// and stores nothing when an invalidation happened since gen was taken.
func (c *RecordCache) Set(r *models.Record, gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		return false
	}
	c.cache.Add(r.ID, *r)
	return true
}

// Delete drops a record and invalidates in-flight fills.
func (c *RecordCache) Delete(id int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	c.cache.Remove(id)
}
