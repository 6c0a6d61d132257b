package storage

import "errors"

// Error kinds reported by the storage layer. Callers match them with errors.Is;
// the returned errors wrap one of these with page/slot context.
var (
	// ErrIO covers open, seek, read, write, truncate and fsync failures,
	// including short reads and writes.
	ErrIO = errors.New("storage: i/o error")

	// ErrCapacity means a page cannot hold the requested cell.
	ErrCapacity = errors.New("storage: not enough space in page")

	// ErrNotFound means a page id or slot id does not address a live record.
	ErrNotFound = errors.New("storage: record not found")

	// ErrClosed is returned by every HeapFile method after Close.
	ErrClosed = errors.New("storage: heap file is closed")

	// ErrCorruptPage means a page read from disk has an impossible header.
	// It is always reported together with ErrIO.
	ErrCorruptPage = errors.New("storage: corrupt page header")
)
