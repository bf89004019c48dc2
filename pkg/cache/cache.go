// Package cache provides a namespaced, size-bounded lookup cache with
// least-recently-used eviction. Namespaces partition keys logically but
// share one size budget and one eviction policy.
package cache

import (
	"container/list"
	"sync"

	"go.uber.org/zap"

	"github.com/quotaflow/quotaflow/pkg/logger"
)

// Namespace identifies a logical partition of cached values
type Namespace string

const (
	// NamespaceEntity caches resolved entity records
	NamespaceEntity Namespace = "entity"
	// NamespaceAssignments caches assignment result lists
	NamespaceAssignments Namespace = "assignments"
	// NamespaceMetadata caches metadata records
	NamespaceMetadata Namespace = "metadata"
	// NamespaceNameLookup caches name-to-id lookups
	NamespaceNameLookup Namespace = "name_lookup"
)

// Config controls the cache size budget and eviction behavior
type Config struct {
	// MaxSize is the total entry budget shared by all namespaces
	MaxSize int `yaml:"max_size" json:"max_size"`
	// EvictionSlack is the fraction of MaxSize additionally removed during
	// an eviction pass, so back-to-back inserts do not each trigger one
	EvictionSlack float64 `yaml:"eviction_slack" json:"eviction_slack"`
}

// DefaultConfig returns the default cache budget
func DefaultConfig() Config {
	return Config{
		MaxSize:       10000,
		EvictionSlack: 0.1,
	}
}

// Stats provides a snapshot of cache occupancy and effectiveness
type Stats struct {
	TotalSize  int               `json:"total_size"`
	MaxSize    int               `json:"max_size"`
	Hits       int64             `json:"hits"`
	Misses     int64             `json:"misses"`
	Evictions  int64             `json:"evictions"`
	HitRate    float64           `json:"hit_rate"`
	Namespaces map[Namespace]int `json:"namespaces"`
}

type cacheKey struct {
	namespace Namespace
	key       string
}

type entry struct {
	key   cacheKey
	value interface{}
}

// BoundedCache is a size-bounded LRU cache shared by concurrent readers and
// writers. All access goes through its methods; a single mutex covers every
// namespace, which keeps eviction ordering global across partitions.
type BoundedCache struct {
	mu      sync.Mutex
	config  Config
	entries map[cacheKey]*list.Element
	order   *list.List // front = most recently accessed
	counts  map[Namespace]int

	hits      int64
	misses    int64
	evictions int64

	log *zap.Logger
}

// NewBoundedCache creates a cache with the given budget. A nil-safe default
// logger is used when log is nil.
func NewBoundedCache(config Config, log *zap.Logger) *BoundedCache {
	if config.MaxSize <= 0 {
		config.MaxSize = DefaultConfig().MaxSize
	}
	if config.EvictionSlack <= 0 || config.EvictionSlack >= 1 {
		config.EvictionSlack = DefaultConfig().EvictionSlack
	}
	if log == nil {
		log = logger.Get()
	}

	return &BoundedCache{
		config:  config,
		entries: make(map[cacheKey]*list.Element),
		order:   list.New(),
		counts:  make(map[Namespace]int),
		log:     log,
	}
}

// Get returns the cached value for (namespace, key). The second return is
// false when the key is absent; absence is not an error. A hit refreshes the
// entry's recency.
func (c *BoundedCache) Get(namespace Namespace, key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[cacheKey{namespace, key}]
	if !ok {
		c.misses++
		return nil, false
	}

	c.order.MoveToFront(elem)
	c.hits++
	return elem.Value.(*entry).value, true
}

// Put inserts or replaces a value. When the insert pushes the total entry
// count past the budget, an eviction pass removes least-recently-accessed
// entries until the cache is a little under budget again.
func (c *BoundedCache) Put(namespace Namespace, key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.put(namespace, key, value)
}

// Warm bulk-inserts known values into one namespace ahead of a bulk run so
// the run's lookups hit instead of calling the remote API.
func (c *BoundedCache) Warm(namespace Namespace, items map[string]interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, value := range items {
		c.put(namespace, key, value)
	}

	c.log.Debug("cache warmed",
		zap.String("namespace", string(namespace)),
		zap.Int("items", len(items)),
		zap.Int("total_size", c.order.Len()))
}

// put inserts one entry; the caller holds the mutex
func (c *BoundedCache) put(namespace Namespace, key string, value interface{}) {
	ck := cacheKey{namespace, key}

	if elem, ok := c.entries[ck]; ok {
		elem.Value.(*entry).value = value
		c.order.MoveToFront(elem)
		return
	}

	c.entries[ck] = c.order.PushFront(&entry{key: ck, value: value})
	c.counts[namespace]++

	if c.order.Len() > c.config.MaxSize {
		c.evict()
	}
}

// evict removes least-recently-used entries down to the budget minus the
// configured slack; the caller holds the mutex
func (c *BoundedCache) evict() {
	target := c.config.MaxSize - int(float64(c.config.MaxSize)*c.config.EvictionSlack)
	if target < 1 {
		target = 1
	}

	removed := 0
	for c.order.Len() > target {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		e := oldest.Value.(*entry)
		c.order.Remove(oldest)
		delete(c.entries, e.key)
		c.counts[e.key.namespace]--
		if c.counts[e.key.namespace] == 0 {
			delete(c.counts, e.key.namespace)
		}
		removed++
	}

	c.evictions += int64(removed)
	c.log.Debug("cache eviction pass",
		zap.Int("removed", removed),
		zap.Int("total_size", c.order.Len()))
}

// Stats returns a snapshot of the cache counters
func (c *BoundedCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	namespaces := make(map[Namespace]int, len(c.counts))
	for ns, n := range c.counts {
		namespaces[ns] = n
	}

	hitRate := 0.0
	if total := c.hits + c.misses; total > 0 {
		hitRate = float64(c.hits) / float64(total)
	}

	return Stats{
		TotalSize:  c.order.Len(),
		MaxSize:    c.config.MaxSize,
		Hits:       c.hits,
		Misses:     c.misses,
		Evictions:  c.evictions,
		HitRate:    hitRate,
		Namespaces: namespaces,
	}
}

// Clear drops every entry from every namespace; counters are preserved
func (c *BoundedCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[cacheKey]*list.Element)
	c.order.Init()
	c.counts = make(map[Namespace]int)
}
