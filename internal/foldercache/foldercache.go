// Package foldercache caches per-folder child listings so repeated
// navigation does not refetch from the backend.
package foldercache

import (
	"sync"
	"sync/atomic"

	"github.com/breezedrive/breezedrive/internal/metrics"
	"github.com/breezedrive/breezedrive/pkg/models"
)

// RootParent is the parent key used for a disk's root listing.
const RootParent = ""

// Cache stores the last-fetched direct children of (disk, folder) pairs.
// Every write path through the engine invalidates the owning disk's entries,
// so a hit is never stale relative to local mutations. The version counter
// increases on every invalidation; consumers relying on referential identity
// can compare versions instead of walking trees.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]map[string][]*models.FileItem
	version atomic.Uint64
}

// New creates an empty cache.
func New() *Cache {
	return &Cache{
		entries: make(map[string]map[string][]*models.FileItem),
	}
}

// Get returns the cached children for a folder, if present.
func (c *Cache) Get(diskID, parentID string) ([]*models.FileItem, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	disk, ok := c.entries[diskID]
	if !ok {
		metrics.RecordCacheLookup(false)
		return nil, false
	}
	items, ok := disk[parentID]
	metrics.RecordCacheLookup(ok)
	return items, ok
}

// Set stores the children for a folder.
func (c *Cache) Set(diskID, parentID string, items []*models.FileItem) {
	c.mu.Lock()
	defer c.mu.Unlock()
	disk, ok := c.entries[diskID]
	if !ok {
		disk = make(map[string][]*models.FileItem)
		c.entries[diskID] = disk
	}
	disk[parentID] = items
}

// Invalidate clears all entries for one disk and bumps the tree version.
func (c *Cache) Invalidate(diskID string) {
	c.mu.Lock()
	delete(c.entries, diskID)
	c.mu.Unlock()
	c.version.Add(1)
}

// InvalidateAll clears every entry and bumps the tree version.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	c.entries = make(map[string]map[string][]*models.FileItem)
	c.mu.Unlock()
	c.version.Add(1)
}

// Version returns the monotonically increasing tree version.
func (c *Cache) Version() uint64 {
	return c.version.Load()
}

// Each calls fn for every cached listing. Used by the cache-aware search
// phase; fn must not mutate the items.
func (c *Cache) Each(fn func(diskID, parentID string, items []*models.FileItem)) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for diskID, disk := range c.entries {
		for parentID, items := range disk {
			fn(diskID, parentID, items)
		}
	}
}
