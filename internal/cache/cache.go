// Package cache holds loaded record values in an expiring LRU so repeated
// loads by identity skip the database.
package cache

import (
	"maps"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/alphadevx/alpha-sub000/pkg/record"
)

const (
	DefaultSize = 1024
	DefaultTTL  = 5 * time.Minute
)

var _ record.Cache = (*LRU)(nil)

// LRU is a size bounded record cache whose entries expire after a TTL.
type LRU struct {
	lru *expirable.LRU[string, map[string]string]
}

// New returns a cache of at most size entries living for ttl. Non-positive
// arguments fall back to the defaults.
func New(size int, ttl time.Duration) *LRU {
	if size <= 0 {
		size = DefaultSize
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &LRU{lru: expirable.NewLRU[string, map[string]string](size, nil, ttl)}
}

// Get returns a copy so callers cannot alter the cached entry.
func (c *LRU) Get(key string) (map[string]string, bool) {
	v, ok := c.lru.Get(key)
	if !ok {
		return nil, false
	}
	return maps.Clone(v), true
}

func (c *LRU) Set(key string, values map[string]string) {
	c.lru.Add(key, maps.Clone(values))
}

func (c *LRU) Delete(key string) {
	c.lru.Remove(key)
}

func (c *LRU) Len() int { return c.lru.Len() }

func (c *LRU) Purge() { c.lru.Purge() }
