// Package cache implements the four bounded, TTL'd LRU caches shared by
// the HTTP handlers, the mapping pipeline, and the FHIR façade.
package cache

import (
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/tm2bridge/tm2bridge/internal/metrics"
)

// Stats is the point-in-time snapshot contract: {hits, misses, sets,
// evictions, size, hit_rate}.
type Stats struct {
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	Sets      int64   `json:"sets"`
	Evictions int64   `json:"evictions"`
	Size      int     `json:"size"`
	HitRate   float64 `json:"hit_rate"`
}

// Named is one bounded LRU cache with TTL and counters. Values are
// stored as `any` so one implementation serves all four named caches;
// callers type-assert on Get.
type Named struct {
	name      string
	lru       *expirable.LRU[string, any]
	hits      atomic.Int64
	misses    atomic.Int64
	sets      atomic.Int64
	evictions atomic.Int64
}

// New creates a named cache bounded to size entries, each living ttl
// after being set.
func New(name string, size int, ttl time.Duration) *Named {
	c := &Named{name: name}
	c.lru = expirable.NewLRU[string, any](size, func(string, any) {
		c.evictions.Add(1)
	}, ttl)
	return c
}

func (c *Named) Get(key string) (any, bool) {
	v, ok := c.lru.Get(key)
	if ok {
		c.hits.Add(1)
		metrics.CacheHitsTotal.WithLabelValues(c.name).Inc()
	} else {
		c.misses.Add(1)
		metrics.CacheMissesTotal.WithLabelValues(c.name).Inc()
	}
	return v, ok
}

// Set stores v under key. Per the cache contract, callers must never
// pass a non-success HTTP outcome (status >= 400) as v; that check
// belongs to the caller, since Named has no notion of HTTP status.
func (c *Named) Set(key string, v any) {
	c.lru.Add(key, v)
	c.sets.Add(1)
}

func (c *Named) Invalidate(key string) {
	c.lru.Remove(key)
}

func (c *Named) Stats() Stats {
	hits, misses := c.hits.Load(), c.misses.Load()
	total := hits + misses
	rate := 0.0
	if total > 0 {
		rate = float64(hits) / float64(total)
	}
	return Stats{
		Hits:      hits,
		Misses:    misses,
		Sets:      c.sets.Load(),
		Evictions: c.evictions.Load(),
		Size:      c.lru.Len(),
		HitRate:   rate,
	}
}

func (c *Named) Clear() {
	c.lru.Purge()
}

// Caches bundles the four named caches the spec requires.
type Caches struct {
	Mappings   *Named
	Embeddings *Named
	Search     *Named
	FHIR       *Named
}

func NewCaches(mappingsSize int, mappingsTTL time.Duration, embeddingsSize int, embeddingsTTL time.Duration,
	searchSize int, searchTTL time.Duration, fhirSize int, fhirTTL time.Duration) *Caches {
	return &Caches{
		Mappings:   New("mappings", mappingsSize, mappingsTTL),
		Embeddings: New("embeddings", embeddingsSize, embeddingsTTL),
		Search:     New("search", searchSize, searchTTL),
		FHIR:       New("fhir", fhirSize, fhirTTL),
	}
}

// All returns every named cache keyed by name, for admin stats/clear endpoints.
func (c *Caches) All() map[string]*Named {
	return map[string]*Named{
		"mappings":   c.Mappings,
		"embeddings": c.Embeddings,
		"search":     c.Search,
		"fhir":       c.FHIR,
	}
}

// MappingKey builds the (system, source_code) cache key used by §4.4.
func MappingKey(system, code string) string {
	return system + "\x00" + code
}

// Key joins parts into a single cache key, used by the search and FHIR
// response caches whose keys are composed of several request fields.
func Key(parts ...string) string {
	out := parts[0]
	for _, p := range parts[1:] {
		out += "\x00" + p
	}
	return out
}

// EmbeddingKey truncates text to its first 100 characters, the
// documented deterministic-truncation key for the embeddings cache.
func EmbeddingKey(text string) string {
	r := []rune(text)
	if len(r) > 100 {
		r = r[:100]
	}
	return string(r)
}
