package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/cabewaldrop/heapstore/internal/movie"
	"github.com/cabewaldrop/heapstore/internal/storage"
)

// dotCommands are the REPL commands, in the order .help lists them.
var dotCommands = []struct{ name, args, desc string }{
	{".insert", "<text>", "Insert the text as a record"},
	{".get", "<page> <slot>", "Print a record"},
	{".delete", "<page> <slot>", "Delete a record"},
	{".scan", "", "List every live record"},
	{".page", "<page>", "Show a page header"},
	{".compact", "<page>", "Reclaim deleted records on a page"},
	{".fsm", "", "Show the free-space map"},
	{".stats", "", "Show file and cache statistics"},
	{".sync", "", "Write dirty pages and the free-space map to disk"},
	{".repair", "", "Rebuild the free-space map from page headers"},
	{".demo", "", "Insert and read back the sample movies"},
	{".help", "", "Show this help message"},
	{".quit", "", "Exit the program (also .exit)"},
}

var errUsage = errors.New("usage")

// repl implements the Read-Eval-Print Loop over a heap file.
type repl struct {
	heap *storage.HeapFile
	in   *bufio.Scanner
	out  io.Writer
	ui   *styles
}

func newREPL(heap *storage.HeapFile, in io.Reader, out io.Writer) *repl {
	return &repl{
		heap: heap,
		in:   bufio.NewScanner(in),
		out:  out,
		ui:   newStyles(out),
	}
}

// run reads commands until .quit or end of input.
func (r *repl) run() {
	for {
		fmt.Fprint(r.out, "heapstore> ")
		if !r.in.Scan() {
			fmt.Fprintln(r.out)
			return
		}
		if r.execute(r.in.Text()) {
			return
		}
	}
}

// execute runs one input line and reports whether the REPL should exit.
func (r *repl) execute(line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, ".") {
		fmt.Fprintln(r.out, r.ui.err.Render("Commands start with '.'. Type '.help' for available commands."))
		return false
	}

	name, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	args := strings.Fields(rest)

	var err error
	switch name {
	case ".quit", ".exit":
		return true
	case ".help":
		r.help()
	case ".insert":
		err = r.insert(rest)
	case ".get":
		err = r.get(args)
	case ".delete":
		err = r.delete(args)
	case ".scan":
		err = r.scan()
	case ".page":
		err = r.page(args)
	case ".compact":
		err = r.compact(args)
	case ".fsm":
		first, second := r.heap.FreeSpaceMap()
		fmt.Fprintln(r.out, r.ui.renderFreeSpaceMap(first, second))
	case ".stats":
		fmt.Fprintln(r.out, r.ui.renderStats(r.heap.Stats()))
	case ".sync":
		if err = r.heap.Sync(); err == nil {
			fmt.Fprintln(r.out, r.ui.success.Render("synced"))
		}
	case ".repair":
		if err = r.heap.RecomputeFreeSpaceMap(); err == nil {
			fmt.Fprintln(r.out, r.ui.success.Render("free-space map rebuilt"))
		}
	case ".demo":
		err = r.demo()
	default:
		fmt.Fprintf(r.out, "Unknown command: %s\n", name)
		fmt.Fprintln(r.out, "Type '.help' for available commands.")
	}

	if errors.Is(err, errUsage) {
		fmt.Fprintln(r.out, r.ui.err.Render(err.Error()))
	} else if err != nil {
		fmt.Fprintln(r.out, r.ui.err.Render("Error: "+err.Error()))
	}
	return false
}

func (r *repl) help() {
	fmt.Fprintln(r.out, r.ui.title.Render("Available commands:"))
	for _, c := range dotCommands {
		fmt.Fprintf(r.out, "  %-9s %-14s %s\n", c.name, c.args, c.desc)
	}
}

func usage(cmd string) error {
	for _, c := range dotCommands {
		if c.name == cmd {
			return fmt.Errorf("%w: %s %s", errUsage, c.name, c.args)
		}
	}
	return errUsage
}

func parsePage(s string) (uint32, error) {
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid page id %q", s)
	}
	return uint32(n), nil
}

func parseRecordID(cmd string, args []string) (storage.RecordID, error) {
	if len(args) != 2 {
		return storage.RecordID{}, usage(cmd)
	}
	pageID, err := parsePage(args[0])
	if err != nil {
		return storage.RecordID{}, err
	}
	slot, err := strconv.ParseUint(args[1], 10, 16)
	if err != nil {
		return storage.RecordID{}, fmt.Errorf("invalid slot id %q", args[1])
	}
	return storage.RecordID{PageID: pageID, Slot: uint16(slot)}, nil
}

// describe formats a record for display. Records of movie size are decoded.
func describe(data []byte) string {
	if len(data) == movie.Size {
		if m, err := movie.Decode(data); err == nil {
			return m.String()
		}
	}
	const preview = 60
	if len(data) > preview {
		return fmt.Sprintf("%q... (%d bytes)", data[:preview], len(data))
	}
	return fmt.Sprintf("%q", data)
}

func (r *repl) insert(text string) error {
	if text == "" {
		return usage(".insert")
	}
	id, err := r.heap.InsertRecord([]byte(text))
	if err != nil {
		return err
	}
	fmt.Fprintf(r.out, "inserted %s\n", id)
	return nil
}

func (r *repl) get(args []string) error {
	id, err := parseRecordID(".get", args)
	if err != nil {
		return err
	}
	data, err := r.heap.GetRecord(id)
	if err != nil {
		return err
	}
	fmt.Fprintf(r.out, "%s %s\n", id, describe(data))
	return nil
}

func (r *repl) delete(args []string) error {
	id, err := parseRecordID(".delete", args)
	if err != nil {
		return err
	}
	if err := r.heap.DeleteRecord(id); err != nil {
		return err
	}
	fmt.Fprintf(r.out, "deleted %s\n", id)
	return nil
}

func (r *repl) scan() error {
	count := 0
	err := r.heap.Scan(func(id storage.RecordID, data []byte) error {
		count++
		fmt.Fprintf(r.out, "%s %s\n", id, describe(data))
		return nil
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(r.out, r.ui.muted.Render(fmt.Sprintf("%d record(s)", count)))
	return nil
}

func (r *repl) page(args []string) error {
	if len(args) != 1 {
		return usage(".page")
	}
	pageID, err := parsePage(args[0])
	if err != nil {
		return err
	}
	hdr, err := r.heap.PageInfo(pageID)
	if err != nil {
		return err
	}
	fmt.Fprintln(r.out, r.ui.renderPage(hdr))
	return nil
}

func (r *repl) compact(args []string) error {
	if len(args) != 1 {
		return usage(".compact")
	}
	pageID, err := parsePage(args[0])
	if err != nil {
		return err
	}
	moved, err := r.heap.CompactPage(pageID)
	if err != nil {
		return err
	}
	fmt.Fprintln(r.out, r.ui.renderMoved(pageID, moved))
	return nil
}

// demo inserts the sample movies and reads each one back.
func (r *repl) demo() error {
	samples := movie.Samples()
	ids := make([]storage.RecordID, 0, len(samples))
	for _, m := range samples {
		buf, err := m.Encode()
		if err != nil {
			return err
		}
		id, err := r.heap.InsertRecord(buf)
		if err != nil {
			return err
		}
		ids = append(ids, id)
		fmt.Fprintf(r.out, "inserted %s at %s\n", m.Title, id)
	}

	for _, id := range ids {
		data, err := r.heap.GetRecord(id)
		if err != nil {
			return err
		}
		m, err := movie.Decode(data)
		if err != nil {
			return err
		}
		fmt.Fprintf(r.out, "%s %s\n", id, m)
	}
	return nil
}
