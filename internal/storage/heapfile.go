package storage

import (
	"errors"
	"fmt"
	"log/slog"
)

// MaxRecordSize is the largest record InsertRecord accepts.
const MaxRecordSize = MaxCellSize

// RecordID addresses a record: the page holding it and its slot in that page.
// Slot ids stay valid until the page is compacted.
type RecordID struct {
	PageID uint32 `json:"page_id"`
	Slot   uint16 `json:"slot_id"`
}

func (r RecordID) String() string {
	return fmt.Sprintf("(%d,%d)", r.PageID, r.Slot)
}

// HeapFile stores opaque records in a single file of slotted pages.
//
// A HeapFile has exactly one owner: it does no locking, and callers sharing
// one between goroutines must serialize every call themselves. Changes are
// visible to later calls immediately but only durable after Sync or Close.
type HeapFile struct {
	pager  *pager
	fsm    *FreeSpaceMap
	cache  *PageCache
	logger *slog.Logger
	closed bool
}

// Stats is a snapshot of a heap file's size and cache state.
type Stats struct {
	Path          string `json:"path"`
	PageCount     uint32 `json:"page_count"`
	CachedPages   int    `json:"cached_pages"`
	DirtyPages    int    `json:"dirty_pages"`
	CacheCapacity int    `json:"cache_capacity"`
}

// Open opens the heap file at path, creating it if needed. An existing file's
// free-space map is read from its footer.
func Open(path string, opts ...Option) (*HeapFile, error) {
	o := buildOptions(opts)

	p, fsm, err := openPager(path, o.logger)
	if err != nil {
		return nil, err
	}

	o.logger.Debug("opened heap file", "path", path, "pages", p.PageCount())
	return &HeapFile{
		pager:  p,
		fsm:    fsm,
		cache:  NewPageCache(p, o.cacheCapacity, o.logger),
		logger: o.logger,
	}, nil
}

// InsertRecord stores data in the first page with room for it, allocating a
// new page when none has room.
func (h *HeapFile) InsertRecord(data []byte) (RecordID, error) {
	if h.closed {
		return RecordID{}, ErrClosed
	}
	if len(data) > MaxRecordSize {
		return RecordID{}, fmt.Errorf("%w: record of %d bytes exceeds maximum %d", ErrCapacity, len(data), MaxRecordSize)
	}

	pageID, found, err := h.fsm.FindPage(len(data)+CellPointerSize, h.pageFree)
	if err != nil {
		return RecordID{}, fmt.Errorf("find page for %d-byte record: %w", len(data), err)
	}
	if !found {
		if pageID, err = h.allocatePage(); err != nil {
			return RecordID{}, err
		}
	}

	page, err := h.cache.GetOrLoad(pageID)
	if err != nil {
		return RecordID{}, err
	}
	slot, err := page.AddCell(data)
	if err != nil {
		return RecordID{}, err
	}
	if err := h.touch(page); err != nil {
		return RecordID{}, err
	}
	return RecordID{PageID: pageID, Slot: slot}, nil
}

// DeleteRecord tombstones a record. The space is reclaimed when its page is
// compacted.
func (h *HeapFile) DeleteRecord(id RecordID) error {
	page, err := h.existingPage(id.PageID)
	if err != nil {
		return err
	}
	if err := page.RemoveCell(id.Slot); err != nil {
		return err
	}
	return h.touch(page)
}

// GetRecord returns a copy of a record.
func (h *HeapFile) GetRecord(id RecordID) ([]byte, error) {
	page, err := h.existingPage(id.PageID)
	if err != nil {
		return nil, err
	}
	data, ok := page.Cell(id.Slot)
	if !ok {
		return nil, fmt.Errorf("%w: record %s", ErrNotFound, id)
	}
	return data, nil
}

// CompactPage reclaims the space of deleted records on one page. Records on
// the page are renumbered; the returned map translates old slot ids to new.
// It returns a nil map when the page had nothing to reclaim.
func (h *HeapFile) CompactPage(pageID uint32) (map[uint16]uint16, error) {
	page, err := h.existingPage(pageID)
	if err != nil {
		return nil, err
	}
	moved, err := page.Compact()
	if err != nil || moved == nil {
		return nil, err
	}
	if err := h.touch(page); err != nil {
		return nil, err
	}
	h.logger.Debug("compacted page", "page", pageID, "live", len(moved), "free", page.TotalFree())
	return moved, nil
}

// Scan calls fn for every live record in page and slot order. Scanning stops
// at the first error fn returns.
func (h *HeapFile) Scan(fn func(id RecordID, data []byte) error) error {
	if h.closed {
		return ErrClosed
	}
	for pageID := uint32(0); pageID < h.pager.PageCount(); pageID++ {
		page, err := h.cache.GetOrLoad(pageID)
		if err != nil {
			return err
		}
		for _, slot := range page.LiveCells() {
			data, ok := page.Cell(slot)
			if !ok {
				continue
			}
			if err := fn(RecordID{PageID: pageID, Slot: slot}, data); err != nil {
				return err
			}
		}
	}
	return nil
}

// PageInfo returns the header of a page.
func (h *HeapFile) PageInfo(pageID uint32) (PageHeader, error) {
	page, err := h.existingPage(pageID)
	if err != nil {
		return PageHeader{}, err
	}
	return page.Header(), nil
}

// Sync writes every dirty page and the free-space map, then fsyncs the file.
func (h *HeapFile) Sync() error {
	if h.closed {
		return ErrClosed
	}
	if err := h.cache.FlushAll(); err != nil {
		return err
	}
	if err := h.pager.writeFooter(h.fsm); err != nil {
		return err
	}
	return h.pager.sync()
}

// Close syncs and closes the file. The HeapFile cannot be used afterwards.
// The descriptor is released even when the sync fails.
func (h *HeapFile) Close() error {
	if h.closed {
		return ErrClosed
	}
	syncErr := h.Sync()
	closeErr := h.pager.close()
	h.closed = true
	return errors.Join(syncErr, closeErr)
}

// RecomputeFreeSpaceMap rebuilds the free-space map from every page header and
// syncs it to disk. It repairs a map that understates free space, which lazy
// correction during lookups cannot.
func (h *HeapFile) RecomputeFreeSpaceMap() error {
	if h.closed {
		return ErrClosed
	}
	for pageID := uint32(0); pageID < h.pager.PageCount(); pageID++ {
		free, err := h.pageFree(pageID)
		if err != nil {
			return err
		}
		if err := h.fsm.Update(pageID, free); err != nil {
			return err
		}
	}
	h.logger.Info("recomputed free-space map", "path", h.pager.filePath, "pages", h.pager.PageCount())
	return h.Sync()
}

// PageCount returns the number of pages in the file.
func (h *HeapFile) PageCount() uint32 {
	return h.pager.PageCount()
}

// FreeSpaceMap returns copies of the first- and second-level map entries.
func (h *HeapFile) FreeSpaceMap() (first, second []uint8) {
	return h.fsm.FirstLevel(), h.fsm.SecondLevel()
}

// Stats returns a snapshot of the file and cache state.
func (h *HeapFile) Stats() Stats {
	dirty := 0
	for _, id := range h.cache.PageIDs() {
		if h.cache.IsDirty(id) {
			dirty++
		}
	}
	return Stats{
		Path:          h.pager.filePath,
		PageCount:     h.pager.PageCount(),
		CachedPages:   h.cache.Len(),
		DirtyPages:    dirty,
		CacheCapacity: h.cache.Capacity(),
	}
}

// existingPage loads a page that must already be part of the file.
func (h *HeapFile) existingPage(pageID uint32) (*Page, error) {
	if h.closed {
		return nil, ErrClosed
	}
	if pageID >= h.pager.PageCount() {
		return nil, fmt.Errorf("%w: page %d does not exist (only %d pages)", ErrNotFound, pageID, h.pager.PageCount())
	}
	return h.cache.GetOrLoad(pageID)
}

// touch marks a modified page dirty and refreshes its free-space map entry.
func (h *HeapFile) touch(page *Page) error {
	if err := h.cache.MarkDirty(page.ID()); err != nil {
		return err
	}
	return h.fsm.Update(page.ID(), int(page.TotalFree()))
}

// pageFree reports a page's actual free bytes from its header.
func (h *HeapFile) pageFree(pageID uint32) (int, error) {
	page, err := h.cache.GetOrLoad(pageID)
	if err != nil {
		return 0, err
	}
	return int(page.TotalFree()), nil
}

func (h *HeapFile) allocatePage() (uint32, error) {
	id, err := h.pager.AllocatePage()
	if err != nil {
		return 0, err
	}
	h.fsm.Append()
	return id, nil
}
