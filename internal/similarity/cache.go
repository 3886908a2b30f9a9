package similarity

import (
	"context"
	"fmt"
	"hash/fnv"

	"github.com/dgraph-io/ristretto"
)

// Cached wraps a Scorer with an in-process score cache. Consolidation and
// retrieval rescore the same pairs repeatedly; a pair's score never
// changes, so hits can be served without consulting the inner scorer.
type Cached struct {
	inner Scorer
	cache *ristretto.Cache
}

var _ Scorer = (*Cached)(nil)

// NewCached creates a caching scorer holding up to maxEntries scores.
func NewCached(inner Scorer, maxEntries int64) (*Cached, error) {
	if maxEntries <= 0 {
		maxEntries = 1 << 14
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create score cache: %w", err)
	}
	return &Cached{inner: inner, cache: cache}, nil
}

// Score implements Scorer.
func (c *Cached) Score(ctx context.Context, a, b string) (float64, error) {
	key := pairKey(a, b)
	if v, ok := c.cache.Get(key); ok {
		if score, ok := v.(float64); ok {
			return score, nil
		}
	}

	score, err := c.inner.Score(ctx, a, b)
	if err != nil {
		return 0, err
	}
	c.cache.Set(key, score, 1)
	return score, nil
}

// Close releases the cache.
func (c *Cached) Close() {
	c.cache.Close()
}

// pairKey builds an order-insensitive key; similarity is symmetric.
func pairKey(a, b string) string {
	ha := hash64(a)
	hb := hash64(b)
	if ha > hb {
		ha, hb = hb, ha
	}
	return fmt.Sprintf("%x:%x", ha, hb)
}

func hash64(s string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return h.Sum64()
}
