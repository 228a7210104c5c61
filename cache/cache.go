package cache

// Cache is a two-segment cache: the upper half holds the entries with
// the most hits ("winners"), the lower half is a FIFO of newcomers. A
// burst of one-off insertions can only ever displace newcomers, so
// frequently used entries survive scans. Not safe for concurrent use.
type Cache[K comparable, V any] struct {
	capacity int
	entries  map[K]*cacheEntry[K, V]
	order    []*cacheEntry[K, V] // insertion order of newcomers

	hits   uint64
	misses uint64
}

type cacheEntry[K comparable, V any] struct {
	key    K
	value  V
	hitCnt uint64
	winner bool
}

// New creates a two-segment cache with the given total capacity.
func New[K comparable, V any](capacity int) *Cache[K, V] {
	if capacity < 2 {
		capacity = 2
	}
	return &Cache[K, V]{
		capacity: capacity,
		entries:  make(map[K]*cacheEntry[K, V], capacity),
	}
}

// Len returns the number of cached entries.
func (c *Cache[K, V]) Len() int { return len(c.entries) }

// Cap returns the capacity.
func (c *Cache[K, V]) Cap() int { return c.capacity }

// Hits and Misses report Get statistics.
func (c *Cache[K, V]) Hits() uint64   { return c.hits }
func (c *Cache[K, V]) Misses() uint64 { return c.misses }

// winnersCap is the size of the protected segment.
func (c *Cache[K, V]) winnersCap() int { return c.capacity / 2 }

// Get returns the cached value and credits a hit. An entry whose hit
// count grows past the weakest winner is promoted into the winner
// segment.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	e, ok := c.entries[key]
	if !ok {
		c.misses++
		var zero V
		return zero, false
	}
	c.hits++
	e.hitCnt++
	if !e.winner {
		c.maybePromote(e)
	}
	return e.value, true
}

func (c *Cache[K, V]) maybePromote(e *cacheEntry[K, V]) {
	winners := 0
	var weakest *cacheEntry[K, V]
	for _, have := range c.entries {
		if !have.winner {
			continue
		}
		winners++
		if weakest == nil || have.hitCnt < weakest.hitCnt {
			weakest = have
		}
	}

	if winners < c.winnersCap() {
		e.winner = true
		c.dropFromOrder(e)
		return
	}
	if weakest != nil && e.hitCnt > weakest.hitCnt {
		weakest.winner = false
		c.order = append(c.order, weakest)
		e.winner = true
		c.dropFromOrder(e)
	}
}

func (c *Cache[K, V]) dropFromOrder(e *cacheEntry[K, V]) {
	for i, have := range c.order {
		if have == e {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}

// Put inserts or updates an entry. When full, the oldest newcomer is
// evicted; winners are never displaced by an insertion.
func (c *Cache[K, V]) Put(key K, value V) {
	if e, ok := c.entries[key]; ok {
		e.value = value
		return
	}

	if len(c.entries) >= c.capacity {
		if len(c.order) > 0 {
			evict := c.order[0]
			c.order = c.order[1:]
			delete(c.entries, evict.key)
		} else {
			// degenerate: everything is a winner; drop the weakest
			var weakest *cacheEntry[K, V]
			for _, have := range c.entries {
				if weakest == nil || have.hitCnt < weakest.hitCnt {
					weakest = have
				}
			}
			delete(c.entries, weakest.key)
		}
	}

	e := &cacheEntry[K, V]{key: key, value: value}
	c.entries[key] = e
	c.order = append(c.order, e)
}

// Remove drops an entry, reporting whether it was present.
func (c *Cache[K, V]) Remove(key K) bool {
	e, ok := c.entries[key]
	if !ok {
		return false
	}
	c.dropFromOrder(e)
	delete(c.entries, key)
	return true
}
