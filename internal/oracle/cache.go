package oracle

import (
	"container/list"
	"sync"
	"time"
)

// PricePoint is one cached observation.
type PricePoint struct {
	Mint       string
	PriceSOL   float64
	McapSol    float64
	LiqSol     float64
	ObservedAt time.Time
}

// priceCache is an LRU with per-entry TTL. Bounded so a long tail of dead
// mints cannot grow memory without limit.
type priceCache struct {
	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List // front = most recent
	max     int
	ttl     time.Duration
}

type cacheEntry struct {
	point PricePoint
}

func newPriceCache(max int, ttl time.Duration) *priceCache {
	if max <= 0 {
		max = 1000
	}
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &priceCache{
		entries: make(map[string]*list.Element),
		order:   list.New(),
		max:     max,
		ttl:     ttl,
	}
}

// get returns a fresh cached point, if any.
func (c *priceCache) get(mint string) (PricePoint, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[mint]
	if !ok {
		return PricePoint{}, false
	}
	entry := el.Value.(*cacheEntry)
	if time.Since(entry.point.ObservedAt) > c.ttl {
		c.order.Remove(el)
		delete(c.entries, mint)
		return PricePoint{}, false
	}
	c.order.MoveToFront(el)
	return entry.point, true
}

// put stores a point, evicting the least recently used entry when full.
func (c *priceCache) put(point PricePoint) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[point.Mint]; ok {
		el.Value.(*cacheEntry).point = point
		c.order.MoveToFront(el)
		return
	}

	for c.order.Len() >= c.max {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheEntry).point.Mint)
	}

	el := c.order.PushFront(&cacheEntry{point: point})
	c.entries[point.Mint] = el
}

// sweep drops expired entries. Called periodically from the client.
func (c *priceCache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for el := c.order.Back(); el != nil; {
		prev := el.Prev()
		entry := el.Value.(*cacheEntry)
		if time.Since(entry.point.ObservedAt) > c.ttl {
			c.order.Remove(el)
			delete(c.entries, entry.point.Mint)
		}
		el = prev
	}
}

// len reports the current entry count.
func (c *priceCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
