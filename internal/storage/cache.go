package storage

import (
	"fmt"
	"io"
	"log/slog"
)

// DefaultCacheCapacity is the number of pages a PageCache holds by default.
const DefaultCacheCapacity = 10

// pageStore is where a PageCache loads pages from and writes dirty pages to.
type pageStore interface {
	ReadPage(pageID uint32) (*Page, error)
	WritePage(page *Page) error
}

type cacheEntry struct {
	page  *Page
	dirty bool
}

// PageCache keeps up to capacity pages in memory.
//
// Eviction is FIFO by insertion order: once full, the page that was loaded
// earliest is evicted, however recently it was used. A dirty page is written
// to the store before it is evicted; if that write fails the page stays
// cached and the error is returned to the caller that needed the room.
type PageCache struct {
	store    pageStore
	capacity int
	entries  map[uint32]*cacheEntry
	// order holds cached page ids, oldest first.
	order  []uint32
	logger *slog.Logger
}

// NewPageCache creates a cache over store. A capacity below 1 is treated as 1.
func NewPageCache(store pageStore, capacity int, logger *slog.Logger) *PageCache {
	if capacity < 1 {
		capacity = 1
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &PageCache{
		store:    store,
		capacity: capacity,
		entries:  make(map[uint32]*cacheEntry, capacity),
		order:    make([]uint32, 0, capacity),
		logger:   logger,
	}
}

// GetOrLoad returns the cached page, loading it from the store on a miss.
// A newly loaded page is clean.
func (c *PageCache) GetOrLoad(pageID uint32) (*Page, error) {
	if e, ok := c.entries[pageID]; ok {
		return e.page, nil
	}

	page, err := c.store.ReadPage(pageID)
	if err != nil {
		return nil, fmt.Errorf("load page %d: %w", pageID, err)
	}

	if len(c.entries) >= c.capacity {
		if err := c.evictOldest(); err != nil {
			return nil, err
		}
	}

	c.entries[pageID] = &cacheEntry{page: page}
	c.order = append(c.order, pageID)
	return page, nil
}

// evictOldest drops the first-inserted page, writing it first if dirty.
func (c *PageCache) evictOldest() error {
	victim := c.order[0]
	e := c.entries[victim]
	if e.dirty {
		if err := c.store.WritePage(e.page); err != nil {
			return fmt.Errorf("evict page %d: %w", victim, err)
		}
	}

	c.order = c.order[1:]
	delete(c.entries, victim)
	c.logger.Debug("evicted page", "page", victim, "dirty", e.dirty)
	return nil
}

// MarkDirty records that a cached page was modified.
func (c *PageCache) MarkDirty(pageID uint32) error {
	e, ok := c.entries[pageID]
	if !ok {
		return fmt.Errorf("%w: page %d not in cache", ErrNotFound, pageID)
	}
	e.dirty = true
	return nil
}

// IsDirty reports whether a page is cached and modified.
func (c *PageCache) IsDirty(pageID uint32) bool {
	e, ok := c.entries[pageID]
	return ok && e.dirty
}

// Contains reports whether a page is cached.
func (c *PageCache) Contains(pageID uint32) bool {
	_, ok := c.entries[pageID]
	return ok
}

// Flush writes one page back if it is cached and dirty. It stays cached.
func (c *PageCache) Flush(pageID uint32) error {
	e, ok := c.entries[pageID]
	if !ok || !e.dirty {
		return nil
	}
	if err := c.store.WritePage(e.page); err != nil {
		return fmt.Errorf("flush page %d: %w", pageID, err)
	}
	e.dirty = false
	return nil
}

// FlushAll writes back every dirty page, oldest first.
func (c *PageCache) FlushAll() error {
	for _, id := range c.order {
		if err := c.Flush(id); err != nil {
			return err
		}
	}
	return nil
}

// Len returns the number of cached pages.
func (c *PageCache) Len() int {
	return len(c.entries)
}

// Capacity returns the maximum number of cached pages.
func (c *PageCache) Capacity() int {
	return c.capacity
}

// PageIDs returns the cached page ids in eviction order.
func (c *PageCache) PageIDs() []uint32 {
	return append([]uint32(nil), c.order...)
}
