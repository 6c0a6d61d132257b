package storage

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
)

// pager owns the heap file's descriptor and does all of its disk I/O: page
// reads and writes at page-aligned offsets, page allocation at the end of the
// page region, and the free-space map footer.
type pager struct {
	file     *os.File
	filePath string

	// pageCount is the number of pages in the page region. The footer
	// starts at pageCount * PageSize.
	pageCount uint32

	logger *slog.Logger
}

// openPager opens or creates the heap file at filePath and loads its
// free-space map. A file with no valid footer gets an all-free map sized
// from the file length.
func openPager(filePath string, logger *slog.Logger) (*pager, *FreeSpaceMap, error) {
	file, err := os.OpenFile(filePath, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: open heap file %s: %w", ErrIO, filePath, err)
	}

	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, nil, fmt.Errorf("%w: stat heap file %s: %w", ErrIO, filePath, err)
	}

	p := &pager{
		file:      file,
		filePath:  filePath,
		pageCount: uint32(stat.Size() / PageSize),
		logger:    logger,
	}

	fsm := NewFreeSpaceMap(p.pageCount)
	if stat.Size() == 0 {
		return p, fsm, nil
	}

	pageCount, first, second, err := p.readFooter(stat.Size())
	switch {
	case err == nil:
		p.pageCount = pageCount
		fsm = NewFreeSpaceMap(pageCount)
		fsm.load(first, second)
	case errors.Is(err, errNoFooter):
		logger.Warn("free-space map footer missing, assuming all pages free",
			"path", filePath, "pages", p.pageCount, "reason", err)
	default:
		file.Close()
		return nil, nil, err
	}

	return p, fsm, nil
}

// readFooter reads the trailer at the end of a file of the given size and the
// map region it describes.
func (p *pager) readFooter(size int64) (uint32, []uint8, []uint8, error) {
	if size < footerTrailerSize {
		return 0, nil, nil, errNoFooter
	}

	trailer := make([]byte, footerTrailerSize)
	if err := p.readFull(trailer, size-footerTrailerSize); err != nil {
		return 0, nil, nil, err
	}
	pageCount, sum, err := decodeTrailer(trailer)
	if err != nil {
		return 0, nil, nil, err
	}

	start := int64(pageCount) * PageSize
	if start+footerSize(pageCount) != size {
		return 0, nil, nil, fmt.Errorf("%w: trailer claims %d pages but file is %d bytes", errNoFooter, pageCount, size)
	}

	maps := make([]byte, footerSize(pageCount)-footerTrailerSize)
	if err := p.readFull(maps, start); err != nil {
		return 0, nil, nil, err
	}
	first, second, err := decodeFooterMaps(maps, pageCount, sum)
	if err != nil {
		return 0, nil, nil, err
	}
	return pageCount, first, second, nil
}

func (p *pager) readFull(buf []byte, offset int64) error {
	n, err := p.file.ReadAt(buf, offset)
	if n != len(buf) {
		return fmt.Errorf("%w: short read at offset %d: got %d bytes, expected %d: %w", ErrIO, offset, n, len(buf), err)
	}
	return nil
}

// ReadPage reads a page from disk. IDs at or past the page count have no disk
// image yet and come back as fresh leaf pages.
func (p *pager) ReadPage(pageID uint32) (*Page, error) {
	if pageID >= p.pageCount {
		return NewPage(PageKindLeaf, pageID), nil
	}
	page, err := ReadPageAt(p.file, pageID)
	if err != nil {
		return nil, err
	}
	// Writes go to ID() * PageSize, so a mismatched id would land elsewhere.
	if page.ID() != pageID {
		return nil, fmt.Errorf("%w: %w: page at offset of %d has id %d", ErrIO, ErrCorruptPage, pageID, page.ID())
	}
	return page, nil
}

// WritePage writes a page at its canonical offset.
func (p *pager) WritePage(page *Page) error {
	return WritePageAt(p.file, page)
}

// AllocatePage appends a fresh leaf page to the page region and writes it so
// its offset exists on disk. The file is cut at the end of the new page: the
// old footer is stale from here on, and a tail of it left past the page would
// be counted as pages if the file is reopened before the next sync.
func (p *pager) AllocatePage() (uint32, error) {
	id := p.pageCount
	if err := WritePageAt(p.file, NewPage(PageKindLeaf, id)); err != nil {
		return 0, fmt.Errorf("allocate page %d: %w", id, err)
	}
	if err := p.file.Truncate(int64(id+1) * PageSize); err != nil {
		return 0, fmt.Errorf("%w: allocate page %d: drop stale footer: %w", ErrIO, id, err)
	}
	p.pageCount++
	p.logger.Debug("allocated page", "path", p.filePath, "page", id)
	return id, nil
}

// PageCount returns the number of pages in the file.
func (p *pager) PageCount() uint32 {
	return p.pageCount
}

// writeFooter writes the free-space map after the last page and cuts off
// anything left beyond it by an older, longer footer.
func (p *pager) writeFooter(fsm *FreeSpaceMap) error {
	footer := encodeFooter(fsm)
	offset := int64(p.pageCount) * PageSize

	n, err := p.file.WriteAt(footer, offset)
	if err != nil {
		return fmt.Errorf("%w: write free-space map footer: %w", ErrIO, err)
	}
	if n != len(footer) {
		return fmt.Errorf("%w: short write for footer: wrote %d bytes, expected %d", ErrIO, n, len(footer))
	}
	if err := p.file.Truncate(offset + int64(len(footer))); err != nil {
		return fmt.Errorf("%w: truncate after footer: %w", ErrIO, err)
	}
	return nil
}

// sync forces the file to stable storage.
func (p *pager) sync() error {
	if err := p.file.Sync(); err != nil {
		return fmt.Errorf("%w: fsync %s: %w", ErrIO, p.filePath, err)
	}
	return nil
}

// close releases the file descriptor.
func (p *pager) close() error {
	if err := p.file.Close(); err != nil {
		return fmt.Errorf("%w: close %s: %w", ErrIO, p.filePath, err)
	}
	return nil
}
