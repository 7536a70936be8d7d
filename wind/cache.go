package wind

import (
	"context"
	"math"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/a-bouts/nav-sim/latlon"
)

type cacheKey struct {
	lat, lon int64
}

// Cache memoizes samples of the wrapped source on a grid of step degrees for
// ttl.
type Cache struct {
	source Source
	step   float64
	lru    *expirable.LRU[cacheKey, Sample]
}

func NewCache(source Source, size int, ttl time.Duration, step float64) *Cache {
	if size <= 0 {
		size = 1024
	}
	if step <= 0 {
		step = 0.01
	}
	return &Cache{
		source: source,
		step:   step,
		lru:    expirable.NewLRU[cacheKey, Sample](size, nil, ttl),
	}
}

func (c *Cache) key(at latlon.LatLon) cacheKey {
	return cacheKey{lat: int64(math.Round(at.Lat / c.step)), lon: int64(math.Round(at.Lon / c.step))}
}

func (c *Cache) Fetch(ctx context.Context, at latlon.LatLon) (Sample, error) {
	k := c.key(at)
	if s, ok := c.lru.Get(k); ok {
		s.At = at
		return s, nil
	}

	s, err := c.source.Fetch(ctx, at)
	if err != nil {
		return Sample{}, err
	}
	c.lru.Add(k, s)
	return s, nil
}
