// Package cache provides a size-bounded LRU whose entries expire after a fixed
// TTL measured against an injected clock.
package cache

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Clock returns the current time.
type Clock func() time.Time

type entry[V any] struct {
	value   V
	expires time.Time
}

type TTL[K comparable, V any] struct {
	mutex sync.Mutex
	lru   *lru.Cache[K, entry[V]]
	ttl   time.Duration
	now   Clock
}

// New returns a cache holding at most size entries. A ttl of zero keeps
// entries until they are evicted by size. A nil clock uses time.Now.
func New[K comparable, V any](size int, ttl time.Duration, clock Clock) (*TTL[K, V], error) {
	l, err := lru.New[K, entry[V]](size)
	if err != nil {
		return nil, err
	}
	if clock == nil {
		clock = time.Now
	}
	return &TTL[K, V]{lru: l, ttl: ttl, now: clock}, nil
}

func (c *TTL[K, V]) Get(key K) (V, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	var zero V
	e, ok := c.lru.Get(key)
	if !ok {
		return zero, false
	}
	if c.ttl > 0 && !c.now().Before(e.expires) {
		c.lru.Remove(key)
		return zero, false
	}
	return e.value, true
}

func (c *TTL[K, V]) Add(key K, value V) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.lru.Add(key, entry[V]{value: value, expires: c.now().Add(c.ttl)})
}

func (c *TTL[K, V]) Remove(key K) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.lru.Remove(key)
}

// Len counts entries including expired ones not yet purged.
func (c *TTL[K, V]) Len() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.lru.Len()
}
