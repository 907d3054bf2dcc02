package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNamed_SetGetTracksHitsAndMisses(t *testing.T) {
	c := New("test", 10, time.Minute)

	_, ok := c.Get("missing")
	assert.False(t, ok)

	c.Set("k1", "v1")
	v, ok := c.Get("k1")
	require.True(t, ok)
	assert.Equal(t, "v1", v)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(1), stats.Sets)
	assert.Equal(t, 0.5, stats.HitRate)
}

func TestNamed_InvalidateRemovesEntry(t *testing.T) {
	c := New("test", 10, time.Minute)
	c.Set("k1", "v1")
	c.Invalidate("k1")

	_, ok := c.Get("k1")
	assert.False(t, ok)
}

func TestNamed_ClearEmptiesCacheAndTracksEvictions(t *testing.T) {
	c := New("test", 10, time.Minute)
	c.Set("k1", "v1")
	c.Set("k2", "v2")
	c.Clear()

	assert.Equal(t, 0, c.Stats().Size)
	assert.Equal(t, int64(2), c.Stats().Evictions)
}

func TestNamed_TTLExpiry(t *testing.T) {
	c := New("test", 10, 10*time.Millisecond)
	c.Set("k1", "v1")

	time.Sleep(30 * time.Millisecond)
	_, ok := c.Get("k1")
	assert.False(t, ok)
}

func TestCaches_AllReturnsFourNamedCaches(t *testing.T) {
	caches := NewCaches(10, time.Minute, 10, time.Minute, 10, time.Minute, 10, time.Minute)
	all := caches.All()
	assert.Len(t, all, 4)
	assert.Same(t, caches.Mappings, all["mappings"])
	assert.Same(t, caches.Embeddings, all["embeddings"])
	assert.Same(t, caches.Search, all["search"])
	assert.Same(t, caches.FHIR, all["fhir"])
}

func TestMappingKey_DistinguishesSystem(t *testing.T) {
	assert.NotEqual(t, MappingKey("ayurveda", "A1"), MappingKey("siddha", "A1"))
}

func TestKey_JoinsPartsDistinctly(t *testing.T) {
	assert.NotEqual(t, Key("source", "vat", "10"), Key("target", "vat", "10"))
	assert.Equal(t, Key("a", "b"), Key("a", "b"))
}

func TestEmbeddingKey_TruncatesTo100Runes(t *testing.T) {
	short := "a short phrase"
	assert.Equal(t, short, EmbeddingKey(short))

	long := make([]rune, 150)
	for i := range long {
		long[i] = 'x'
	}
	key := EmbeddingKey(string(long))
	assert.Len(t, []rune(key), 100)
}
