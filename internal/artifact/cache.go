package artifact

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"sitebox/internal/storage"
)

const (
	// DefaultMaxEntries is the cache ceiling that triggers an eviction
	// sweep.
	DefaultMaxEntries = 50

	// DefaultRetainEntries is how many entries survive a sweep.
	DefaultRetainEntries = 30
)

type entry struct {
	index       Index
	lastUpdated time.Time
}

// Cache is the in-process cache of parsed deployment indexes, keyed
// by the artifact's blob reference.
//
// Eviction ranks entries by their content lastUpdated timestamp, not
// by access time. Under a read-heavy, rarely-updated workload this
// keeps the most recently *deployed* sites, which is the intended
// behavior; it is deliberately not an access-time LRU.
type Cache struct {
	blobs         storage.BlobStore
	maxEntries    int
	retainEntries int

	mu      sync.RWMutex
	entries map[string]*entry

	// loads dedups concurrent misses for the same blob ref so only
	// one goroutine fetches and parses the artifact.
	loads singleflight.Group
}

// NewCache creates a cache with the default ceiling and retention.
func NewCache(blobs storage.BlobStore) *Cache {
	return NewCacheWithLimits(blobs, DefaultMaxEntries, DefaultRetainEntries)
}

// NewCacheWithLimits creates a cache with explicit eviction parameters.
func NewCacheWithLimits(blobs storage.BlobStore, maxEntries, retainEntries int) *Cache {
	if maxEntries < 1 {
		maxEntries = DefaultMaxEntries
	}
	if retainEntries < 1 || retainEntries > maxEntries {
		retainEntries = maxEntries
	}
	return &Cache{
		blobs:         blobs,
		maxEntries:    maxEntries,
		retainEntries: retainEntries,
		entries:       make(map[string]*entry),
	}
}

// Get returns the parsed index for a blob reference. A cached entry is
// served only when its stored lastUpdated is at least as new as the
// caller's; otherwise the artifact is fetched and reparsed under the
// caller's timestamp.
func (c *Cache) Get(ctx context.Context, blobRef string, lastUpdated time.Time) (Index, error) {
	c.mu.RLock()
	e, ok := c.entries[blobRef]
	c.mu.RUnlock()
	if ok && !e.lastUpdated.Before(lastUpdated) {
		return e.index, nil
	}

	v, err, _ := c.loads.Do(blobRef, func() (interface{}, error) {
		// Another flight may have refreshed the entry while this
		// goroutine waited on the group.
		c.mu.RLock()
		e, ok := c.entries[blobRef]
		c.mu.RUnlock()
		if ok && !e.lastUpdated.Before(lastUpdated) {
			return e.index, nil
		}

		data, err := c.blobs.Get(ctx, blobRef)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch artifact %s: %w", blobRef, err)
		}
		idx, err := Parse(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse artifact %s: %w", blobRef, err)
		}

		c.mu.Lock()
		c.entries[blobRef] = &entry{index: idx, lastUpdated: lastUpdated}
		c.evictLocked()
		c.mu.Unlock()

		return idx, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Index), nil
}

// evictLocked drops all but the most recently updated entries once
// the ceiling is exceeded. Caller holds c.mu.
func (c *Cache) evictLocked() {
	if len(c.entries) <= c.maxEntries {
		return
	}

	type ranked struct {
		ref         string
		lastUpdated time.Time
	}
	all := make([]ranked, 0, len(c.entries))
	for ref, e := range c.entries {
		all = append(all, ranked{ref: ref, lastUpdated: e.lastUpdated})
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].lastUpdated.After(all[j].lastUpdated)
	})

	for _, r := range all[c.retainEntries:] {
		delete(c.entries, r.ref)
	}
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Contains reports whether a blob reference is currently cached.
func (c *Cache) Contains(blobRef string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.entries[blobRef]
	return ok
}
