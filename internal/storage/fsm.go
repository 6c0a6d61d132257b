package storage

import "fmt"

const (
	// MaxFreeFraction is the number of quantization levels of a free-space
	// map entry. An entry of MaxFreeFraction means the page is entirely free.
	MaxFreeFraction uint8 = 8

	// EntriesPerSecondLevel is the number of pages summarized by one
	// second-level entry.
	EntriesPerSecondLevel = 4

	// bytesPerLevel is the number of free bytes one quantization step stands for.
	bytesPerLevel = PageSize / int(MaxFreeFraction)
)

// Quantize converts a page's free byte count into a map entry:
// floor(totalFree / PageSize * MaxFreeFraction), clamped to MaxFreeFraction.
func Quantize(totalFree int) uint8 {
	if totalFree <= 0 {
		return 0
	}
	q := totalFree * int(MaxFreeFraction) / PageSize
	if q > int(MaxFreeFraction) {
		return MaxFreeFraction
	}
	return uint8(q)
}

// FreeSpaceMap tracks how much room every page has, at 1/8th page resolution.
//
// The first level holds one entry per page. The second level holds one entry
// per group of EntriesPerSecondLevel pages, equal to the maximum of the
// group's first-level entries, so whole groups can be skipped during lookup.
//
// First-level entries may overstate a page's free space (new pages start
// all-free, and a footer may be missing); FindPage checks every candidate
// against the page itself and corrects stale entries as it goes.
type FreeSpaceMap struct {
	first  []uint8
	second []uint8
}

// NewFreeSpaceMap creates a map of pageCount all-free pages.
func NewFreeSpaceMap(pageCount uint32) *FreeSpaceMap {
	m := &FreeSpaceMap{
		first:  make([]uint8, pageCount),
		second: make([]uint8, groupCount(int(pageCount))),
	}
	for i := range m.first {
		m.first[i] = MaxFreeFraction
	}
	for i := range m.second {
		m.second[i] = MaxFreeFraction
	}
	return m
}

func groupCount(pages int) int {
	return (pages + EntriesPerSecondLevel - 1) / EntriesPerSecondLevel
}

// Len returns the number of pages in the map.
func (m *FreeSpaceMap) Len() int {
	return len(m.first)
}

// Append adds an all-free entry for a newly allocated page.
func (m *FreeSpaceMap) Append() {
	if len(m.first)%EntriesPerSecondLevel == 0 {
		m.second = append(m.second, MaxFreeFraction)
	}
	m.first = append(m.first, MaxFreeFraction)
	m.refreshGroup(len(m.first) - 1)
}

// Entry returns the first-level entry of a page.
func (m *FreeSpaceMap) Entry(pageID uint32) (uint8, error) {
	if int(pageID) >= len(m.first) {
		return 0, fmt.Errorf("%w: page %d not in free-space map (%d pages)", ErrNotFound, pageID, len(m.first))
	}
	return m.first[pageID], nil
}

// Update stores the quantized free space of a page and refreshes its group.
func (m *FreeSpaceMap) Update(pageID uint32, totalFree int) error {
	if int(pageID) >= len(m.first) {
		return fmt.Errorf("%w: page %d not in free-space map (%d pages)", ErrNotFound, pageID, len(m.first))
	}
	m.first[pageID] = Quantize(totalFree)
	m.refreshGroup(int(pageID))
	return nil
}

// refreshGroup recomputes the second-level entry covering page i.
func (m *FreeSpaceMap) refreshGroup(i int) {
	g := i / EntriesPerSecondLevel
	start := g * EntriesPerSecondLevel
	end := min(start+EntriesPerSecondLevel, len(m.first))

	var best uint8
	for _, v := range m.first[start:end] {
		best = max(best, v)
	}
	m.second[g] = best
}

// FindPage returns the first page, in ascending id order, with at least
// required free bytes. freeBytes reports a page's real free space; it is
// consulted for every candidate the map considers big enough. Candidates the
// map overstated are corrected and the scan continues. found is false when
// no page qualifies.
func (m *FreeSpaceMap) FindPage(required int, freeBytes func(pageID uint32) (int, error)) (pageID uint32, found bool, err error) {
	for g := range m.second {
		if !levelCovers(m.second[g], required) {
			continue
		}
		start := g * EntriesPerSecondLevel
		end := min(start+EntriesPerSecondLevel, len(m.first))
		for i := start; i < end; i++ {
			if !levelCovers(m.first[i], required) {
				continue
			}
			free, err := freeBytes(uint32(i))
			if err != nil {
				return 0, false, err
			}
			if free >= required {
				return uint32(i), true, nil
			}
			m.first[i] = Quantize(free)
			m.refreshGroup(i)
		}
	}
	return 0, false, nil
}

// levelCovers reports whether an entry's fraction of a page is at least
// required bytes' fraction of a page.
func levelCovers(level uint8, required int) bool {
	return int(level)*bytesPerLevel >= required
}

// FirstLevel returns a copy of the per-page entries.
func (m *FreeSpaceMap) FirstLevel() []uint8 {
	return append([]uint8(nil), m.first...)
}

// SecondLevel returns a copy of the per-group entries.
func (m *FreeSpaceMap) SecondLevel() []uint8 {
	return append([]uint8(nil), m.second...)
}

// load replaces both levels with persisted entries. The second level is
// rebuilt from the first when it does not dominate its groups.
func (m *FreeSpaceMap) load(first, second []uint8) {
	m.first = append(m.first[:0], first...)
	m.second = append(m.second[:0], second...)
	for g := range m.second {
		start := g * EntriesPerSecondLevel
		end := min(start+EntriesPerSecondLevel, len(m.first))
		for _, v := range m.first[start:end] {
			if v > m.second[g] {
				m.refreshGroup(start)
				break
			}
		}
	}
}
