package main

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/cabewaldrop/heapstore/internal/storage"
)

var (
	primaryColor = lipgloss.AdaptiveColor{Light: "#5A56E0", Dark: "#7D79F6"}
	mutedColor   = lipgloss.AdaptiveColor{Light: "#9B9B9B", Dark: "#5C5C5C"}
	errorColor   = lipgloss.AdaptiveColor{Light: "#D7263D", Dark: "#F25D94"}
	successColor = lipgloss.AdaptiveColor{Light: "#02BA84", Dark: "#02BF87"}
)

// styles renders REPL output. Styles come from a renderer bound to the
// output writer, so colors are dropped when it is not a terminal.
type styles struct {
	title   lipgloss.Style
	box     lipgloss.Style
	label   lipgloss.Style
	muted   lipgloss.Style
	err     lipgloss.Style
	success lipgloss.Style
}

func newStyles(w io.Writer) *styles {
	r := lipgloss.NewRenderer(w)
	return &styles{
		title: r.NewStyle().Foreground(primaryColor).Bold(true),
		box: r.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(primaryColor).
			Padding(0, 1),
		label:   r.NewStyle().Foreground(primaryColor).Bold(true).Width(12),
		muted:   r.NewStyle().Foreground(mutedColor),
		err:     r.NewStyle().Foreground(errorColor).Bold(true),
		success: r.NewStyle().Foreground(successColor),
	}
}

// fields renders label/value pairs inside a bordered box.
func (s *styles) fields(title string, pairs ...[2]string) string {
	lines := []string{s.title.Render(title)}
	for _, p := range pairs {
		lines = append(lines, s.label.Render(p[0])+p[1])
	}
	return s.box.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func (s *styles) renderPage(hdr storage.PageHeader) string {
	slots := (int(hdr.FreeStart) - storage.PageHeaderSize) / storage.CellPointerSize
	compact := "no"
	if hdr.Flags&storage.FlagCanCompact != 0 {
		compact = "yes"
	}
	return s.fields(fmt.Sprintf("Page %d", hdr.ID),
		[2]string{"kind", hdr.Kind.String()},
		[2]string{"slots", fmt.Sprint(slots)},
		[2]string{"free_start", fmt.Sprint(hdr.FreeStart)},
		[2]string{"free_end", fmt.Sprint(hdr.FreeEnd)},
		[2]string{"total_free", fmt.Sprintf("%d (%s)", hdr.TotalFree, humanize.IBytes(uint64(hdr.TotalFree)))},
		[2]string{"compact", compact},
	)
}

func (s *styles) renderStats(st storage.Stats) string {
	return s.fields("Heap file",
		[2]string{"path", st.Path},
		[2]string{"pages", humanize.Comma(int64(st.PageCount))},
		[2]string{"page data", humanize.IBytes(uint64(st.PageCount) * storage.PageSize)},
		[2]string{"cached", fmt.Sprintf("%d / %d", st.CachedPages, st.CacheCapacity)},
		[2]string{"dirty", fmt.Sprint(st.DirtyPages)},
	)
}

// renderFreeSpaceMap prints one row per second-level group: the group's
// entry followed by the first-level entries it covers.
func (s *styles) renderFreeSpaceMap(first, second []uint8) string {
	if len(first) == 0 {
		return s.muted.Render("free-space map is empty")
	}
	var b strings.Builder
	b.WriteString(s.title.Render(fmt.Sprintf("Free-space map (%d pages, eighths free)", len(first))))
	for g, best := range second {
		start := g * storage.EntriesPerSecondLevel
		end := min(start+storage.EntriesPerSecondLevel, len(first))
		entries := make([]string, 0, end-start)
		for _, v := range first[start:end] {
			entries = append(entries, fmt.Sprint(v))
		}
		fmt.Fprintf(&b, "\n%s [%d] %s",
			s.label.Render(fmt.Sprintf("pages %d-%d", start, end-1)), best, strings.Join(entries, " "))
	}
	return s.box.Render(b.String())
}

func (s *styles) renderMoved(pageID uint32, moved map[uint16]uint16) string {
	if moved == nil {
		return s.muted.Render(fmt.Sprintf("page %d has nothing to reclaim", pageID))
	}
	olds := make([]int, 0, len(moved))
	for old := range moved {
		olds = append(olds, int(old))
	}
	sort.Ints(olds)

	lines := []string{s.success.Render(fmt.Sprintf("compacted page %d", pageID))}
	for _, old := range olds {
		lines = append(lines, fmt.Sprintf("  slot %d -> %d", old, moved[uint16(old)]))
	}
	return strings.Join(lines, "\n")
}
