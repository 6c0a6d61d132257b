package web

import (
	"errors"
	"net/http"

	"github.com/cabewaldrop/heapstore/internal/storage"
)

// StatusFor maps a storage error onto an HTTP status code.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrCapacity):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, storage.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ErrorHint returns a helpful hint for common storage errors.
// Returns empty string if no hint is available.
func ErrorHint(err error) string {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return "Check the page and slot ids. Slot ids change when a page is compacted."
	case errors.Is(err, storage.ErrCapacity):
		return "Records must fit in one page."
	case errors.Is(err, storage.ErrClosed):
		return "The heap file has been closed. Restart the server."
	case errors.Is(err, storage.ErrCorruptPage):
		return "A page on disk is damaged. Restore the heap file from a backup."
	case errors.Is(err, storage.ErrIO):
		return "Check disk space and file permissions."
	default:
		return ""
	}
}
