// Package storage implements a single-file heap of slotted pages.
//
// A heap file is a sequence of fixed-size pages. Each page is a slotted page:
// a small header, an array of cell pointers growing up from the header, and
// cell payloads growing down from the end of the page. A two-level free-space
// map tracks roughly how full every page is, and a small FIFO cache keeps the
// most recently loaded pages in memory.

package storage

import (
	"encoding/binary"
	"fmt"
	"io"
)

const (
	// PageSize is the size of each page in bytes.
	PageSize = 4096

	// PageHeaderSize is the size of the page header in bytes.
	PageHeaderSize = 16

	// CellPointerSize is the size of one entry in the cell pointer array.
	CellPointerSize = 4

	// MaxCellSize is the largest cell an empty page can hold.
	MaxCellSize = PageSize - 1 - PageHeaderSize - CellPointerSize
)

// Header field offsets.
const (
	offID        = 0
	offKind      = 4
	offFreeStart = 6
	offFreeEnd   = 8
	offTotalFree = 10
	offFlags     = 12
)

// tombstone is the cell location of a removed cell. Offset 0 is always inside
// the header, so no live cell can start there.
const tombstone = 0

// FlagCanCompact is set on a page holding at least one tombstoned cell.
const FlagCanCompact uint8 = 0x1

// PageKind describes the role of a page. The heap file only creates leaf
// pages; the kind is carried for callers that build structures on top.
type PageKind uint8

const (
	PageKindRoot PageKind = iota
	PageKindInternal
	PageKindLeaf
)

func (k PageKind) String() string {
	switch k {
	case PageKindRoot:
		return "ROOT"
	case PageKindInternal:
		return "INTERNAL"
	case PageKindLeaf:
		return "LEAF"
	default:
		return "UNKNOWN"
	}
}

// PageHeader is a decoded copy of a page header.
type PageHeader struct {
	ID        uint32
	Kind      PageKind
	FreeStart uint16
	FreeEnd   uint16
	TotalFree uint16
	Flags     uint8
}

// Page is a slotted page.
//
// Page Layout (4096 bytes total):
// +-----------------------------+
// | Header (16 bytes)           |
// |   - ID (4)                  |
// |   - Kind (1) + reserved (1) |
// |   - FreeStart (2)           |
// |   - FreeEnd (2)             |
// |   - TotalFree (2)           |
// |   - Flags (1) + reserved (3)|
// +-----------------------------+
// | Cell pointers (4 each) ->   |
// |          free space         |
// |        <- cell payloads     |
// +-----------------------------+
//
// All header fields live in buf and are read and written through explicit
// little-endian accessors.
type Page struct {
	buf [PageSize]byte
}

// NewPage creates an empty page with the given kind and ID.
func NewPage(kind PageKind, id uint32) *Page {
	p := &Page{}
	p.putU32(offID, id)
	p.buf[offKind] = byte(kind)
	p.setFreeStart(PageHeaderSize)
	p.setFreeEnd(PageSize - 1)
	p.setTotalFree(PageSize - 1 - PageHeaderSize)
	return p
}

func (p *Page) u16(off int) uint16 { return binary.LittleEndian.Uint16(p.buf[off : off+2]) }

func (p *Page) putU16(off int, v uint16) { binary.LittleEndian.PutUint16(p.buf[off:off+2], v) }

func (p *Page) putU32(off int, v uint32) { binary.LittleEndian.PutUint32(p.buf[off:off+4], v) }

func (p *Page) setFreeStart(v uint16) { p.putU16(offFreeStart, v) }
func (p *Page) setFreeEnd(v uint16)   { p.putU16(offFreeEnd, v) }
func (p *Page) setTotalFree(v uint16) { p.putU16(offTotalFree, v) }

// ID returns the page's identifier, which is also its position in the file.
func (p *Page) ID() uint32 {
	return binary.LittleEndian.Uint32(p.buf[offID : offID+4])
}

// Kind returns the page kind.
func (p *Page) Kind() PageKind {
	return PageKind(p.buf[offKind])
}

func (p *Page) freeStart() uint16 { return p.u16(offFreeStart) }
func (p *Page) freeEnd() uint16   { return p.u16(offFreeEnd) }

// TotalFree returns the bytes between the pointer array and the lowest cell.
func (p *Page) TotalFree() uint16 {
	return p.u16(offTotalFree)
}

// Flags returns the flags byte.
func (p *Page) Flags() uint8 {
	return p.buf[offFlags]
}

// CanCompact reports whether the page holds tombstoned cells.
func (p *Page) CanCompact() bool {
	return p.Flags()&FlagCanCompact != 0
}

// Header returns a decoded copy of the page header.
func (p *Page) Header() PageHeader {
	return PageHeader{
		ID:        p.ID(),
		Kind:      p.Kind(),
		FreeStart: p.freeStart(),
		FreeEnd:   p.freeEnd(),
		TotalFree: p.TotalFree(),
		Flags:     p.Flags(),
	}
}

// NumSlots returns the length of the cell pointer array, tombstones included.
func (p *Page) NumSlots() uint16 {
	return (p.freeStart() - PageHeaderSize) / CellPointerSize
}

func slotOffset(slot uint16) int {
	return PageHeaderSize + int(slot)*CellPointerSize
}

// pointer returns the (location, size) pair stored in a slot.
func (p *Page) pointer(slot uint16) (uint16, uint16) {
	off := slotOffset(slot)
	return p.u16(off), p.u16(off + 2)
}

// AddCell appends data as a new cell and returns its slot id.
// It never compacts; a page without room returns ErrCapacity.
func (p *Page) AddCell(data []byte) (uint16, error) {
	need := len(data) + CellPointerSize
	if int(p.TotalFree()) < need {
		return 0, fmt.Errorf("%w: page %d has %d bytes free, cell needs %d",
			ErrCapacity, p.ID(), p.TotalFree(), need)
	}

	size := uint16(len(data))
	location := p.freeEnd() - size
	copy(p.buf[location:int(location)+len(data)], data)

	ptrOffset := p.freeStart()
	p.putU16(int(ptrOffset), location)
	p.putU16(int(ptrOffset)+2, size)

	p.setFreeEnd(location)
	p.setFreeStart(ptrOffset + CellPointerSize)
	p.setTotalFree(p.freeEnd() - p.freeStart())

	return (ptrOffset - PageHeaderSize) / CellPointerSize, nil
}

// RemoveCell tombstones a slot. The pointer slot and the cell bytes are only
// reclaimed by Compact, so TotalFree does not change here.
func (p *Page) RemoveCell(slot uint16) error {
	if slot >= p.NumSlots() {
		return fmt.Errorf("%w: page %d slot %d out of range (%d slots)",
			ErrNotFound, p.ID(), slot, p.NumSlots())
	}
	if loc, _ := p.pointer(slot); loc == tombstone {
		return fmt.Errorf("%w: page %d slot %d already removed", ErrNotFound, p.ID(), slot)
	}

	p.putU16(slotOffset(slot), tombstone)
	p.buf[offFlags] |= FlagCanCompact
	return nil
}

// Cell returns a copy of the cell stored in slot, or false when the slot is
// out of range, tombstoned, or points outside the page.
func (p *Page) Cell(slot uint16) ([]byte, bool) {
	if slot >= p.NumSlots() {
		return nil, false
	}
	loc, size := p.pointer(slot)
	if loc == tombstone {
		return nil, false
	}
	end := int(loc) + int(size)
	if int(loc) < PageHeaderSize || end > PageSize {
		return nil, false
	}
	out := make([]byte, size)
	copy(out, p.buf[loc:end])
	return out, true
}

// LiveCells returns the slot ids of all non-tombstoned cells in order.
func (p *Page) LiveCells() []uint16 {
	n := p.NumSlots()
	slots := make([]uint16, 0, n)
	for s := uint16(0); s < n; s++ {
		if loc, _ := p.pointer(s); loc != tombstone {
			slots = append(slots, s)
		}
	}
	return slots
}

// Compact rebuilds the page with only its live cells, in their original
// order, and clears FlagCanCompact. Live cells get new slot ids; the returned
// map translates old slot ids to new ones. It is a no-op returning a nil map
// when the page has nothing to reclaim.
func (p *Page) Compact() (map[uint16]uint16, error) {
	if !p.CanCompact() {
		return nil, nil
	}

	rebuilt := NewPage(p.Kind(), p.ID())
	moved := make(map[uint16]uint16)
	for _, old := range p.LiveCells() {
		loc, size := p.pointer(old)
		end := int(loc) + int(size)
		if int(loc) < PageHeaderSize || end > PageSize {
			return nil, fmt.Errorf("%w: page %d slot %d points outside the page", ErrCorruptPage, p.ID(), old)
		}
		slot, err := rebuilt.AddCell(p.buf[loc:end])
		if err != nil {
			return nil, fmt.Errorf("compact page %d: %w", p.ID(), err)
		}
		moved[old] = slot
	}

	flags := p.Flags() &^ FlagCanCompact
	copy(p.buf[offFreeStart:], rebuilt.buf[offFreeStart:])
	p.buf[offFlags] = flags
	return moved, nil
}

// Serialize returns a copy of the page bytes for disk storage.
func (p *Page) Serialize() []byte {
	out := make([]byte, PageSize)
	copy(out, p.buf[:])
	return out
}

// Deserialize reads a page from a byte slice, validating its header.
func Deserialize(buf []byte) (*Page, error) {
	if len(buf) != PageSize {
		return nil, fmt.Errorf("%w: page buffer is %d bytes, expected %d", ErrIO, len(buf), PageSize)
	}
	p := &Page{}
	copy(p.buf[:], buf)
	if err := p.validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Page) validate() error {
	start, end, free := p.freeStart(), p.freeEnd(), p.TotalFree()
	switch {
	case start < PageHeaderSize,
		(start-PageHeaderSize)%CellPointerSize != 0,
		end < start,
		end >= PageSize,
		free != end-start:
		return fmt.Errorf("%w: %w: page %d free_start=%d free_end=%d total_free=%d",
			ErrIO, ErrCorruptPage, p.ID(), start, end, free)
	}
	return nil
}

// WritePageAt writes the page at its canonical offset, ID * PageSize.
func WritePageAt(w io.WriterAt, p *Page) error {
	offset := int64(p.ID()) * PageSize
	n, err := w.WriteAt(p.buf[:], offset)
	if err != nil {
		return fmt.Errorf("%w: write page %d: %w", ErrIO, p.ID(), err)
	}
	if n != PageSize {
		return fmt.Errorf("%w: short write for page %d: wrote %d bytes, expected %d", ErrIO, p.ID(), n, PageSize)
	}
	return nil
}

// ReadPageAt reads the page stored at id * PageSize. The returned header is
// whatever is on disk.
func ReadPageAt(r io.ReaderAt, id uint32) (*Page, error) {
	buf := make([]byte, PageSize)
	n, err := r.ReadAt(buf, int64(id)*PageSize)
	if n != PageSize {
		if err == nil {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("%w: short read for page %d: got %d bytes, expected %d: %w", ErrIO, id, n, PageSize, err)
	}
	return Deserialize(buf)
}
