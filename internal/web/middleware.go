package web

import (
	"context"
	"net/http"
	"sync"

	"github.com/cabewaldrop/heapstore/internal/storage"
)

// Store serializes access to a heap file. HeapFile does no locking of its
// own, and HTTP handlers run concurrently.
type Store struct {
	mu   sync.Mutex
	heap *storage.HeapFile
}

// NewStore wraps a heap file.
func NewStore(heap *storage.HeapFile) *Store {
	return &Store{heap: heap}
}

// Do runs fn while holding the store's lock.
func (s *Store) Do(fn func(h *storage.HeapFile) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.heap)
}

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

// storeKey is the context key for storing the heap file store.
const storeKey contextKey = "store"

// WithStore returns middleware that injects the store into the request
// context. Handlers retrieve it with GetStore.
func WithStore(store *Store) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := context.WithValue(r.Context(), storeKey, store)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetStore retrieves the store from the request context.
// Returns nil if the store was not set.
func GetStore(r *http.Request) *Store {
	store, ok := r.Context().Value(storeKey).(*Store)
	if !ok {
		return nil
	}
	return store
}

// RequireStore rejects requests with 503 when no store is in the context.
func RequireStore(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetStore(r) == nil {
			writeError(w, http.StatusServiceUnavailable, "heap file not available", "")
			return
		}
		next.ServeHTTP(w, r)
	})
}
