package web

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/cabewaldrop/heapstore/internal/storage"
)

// ============================================================================
// API Response Types
// ============================================================================

// APIResponse wraps all API responses with success/error info.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Hint    string      `json:"hint,omitempty"`
}

// FreeSpaceMapResponse holds both levels of the free-space map. Entries are
// ints so they encode as JSON numbers rather than base64.
type FreeSpaceMapResponse struct {
	FirstLevel  []int `json:"first_level"`
	SecondLevel []int `json:"second_level"`
}

// PageInfoResponse describes one page header.
type PageInfoResponse struct {
	ID         uint32 `json:"id"`
	Kind       string `json:"kind"`
	FreeStart  uint16 `json:"free_start"`
	FreeEnd    uint16 `json:"free_end"`
	TotalFree  uint16 `json:"total_free"`
	Slots      int    `json:"slots"`
	CanCompact bool   `json:"can_compact"`
}

// CompactResponse reports how a compaction renumbered slots.
type CompactResponse struct {
	Page      uint32            `json:"page"`
	Compacted bool              `json:"compacted"`
	Moved     map[string]uint16 `json:"moved,omitempty"`
}

// ============================================================================
// Helpers
// ============================================================================

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeSuccess writes a successful API response.
func writeSuccess(w http.ResponseWriter, status int, data interface{}) {
	writeJSON(w, status, APIResponse{
		Success: true,
		Data:    data,
	})
}

// writeError writes an error API response.
func writeError(w http.ResponseWriter, status int, message, hint string) {
	writeJSON(w, status, APIResponse{
		Success: false,
		Error:   message,
		Hint:    hint,
	})
}

// writeStorageError maps a storage error onto a status code and hint.
func writeStorageError(w http.ResponseWriter, err error) {
	writeError(w, StatusFor(err), err.Error(), ErrorHint(err))
}

// parsePageID reads the {page} URL parameter.
func parsePageID(r *http.Request) (uint32, error) {
	raw := chi.URLParam(r, "page")
	n, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid page id %q", raw)
	}
	return uint32(n), nil
}

// parseRecordID reads the {page} and {slot} URL parameters.
func parseRecordID(r *http.Request) (storage.RecordID, error) {
	pageID, err := parsePageID(r)
	if err != nil {
		return storage.RecordID{}, err
	}
	raw := chi.URLParam(r, "slot")
	slot, err := strconv.ParseUint(raw, 10, 16)
	if err != nil {
		return storage.RecordID{}, fmt.Errorf("invalid slot id %q", raw)
	}
	return storage.RecordID{PageID: pageID, Slot: uint16(slot)}, nil
}

// ============================================================================
// Handlers
// ============================================================================

// handleStats returns page count and cache state.
// GET /api/stats
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	var stats storage.Stats
	GetStore(r).Do(func(h *storage.HeapFile) error {
		stats = h.Stats()
		return nil
	})
	writeSuccess(w, http.StatusOK, stats)
}

// handleFreeSpaceMap returns both levels of the free-space map.
// GET /api/fsm
func (s *Server) handleFreeSpaceMap(w http.ResponseWriter, r *http.Request) {
	var first, second []uint8
	GetStore(r).Do(func(h *storage.HeapFile) error {
		first, second = h.FreeSpaceMap()
		return nil
	})
	writeSuccess(w, http.StatusOK, FreeSpaceMapResponse{
		FirstLevel:  widen(first),
		SecondLevel: widen(second),
	})
}

func widen(levels []uint8) []int {
	out := make([]int, len(levels))
	for i, v := range levels {
		out[i] = int(v)
	}
	return out
}

// handlePageInfo returns one page header.
// GET /api/pages/{page}
func (s *Server) handlePageInfo(w http.ResponseWriter, r *http.Request) {
	pageID, err := parsePageID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "")
		return
	}

	var hdr storage.PageHeader
	err = GetStore(r).Do(func(h *storage.HeapFile) error {
		var err error
		hdr, err = h.PageInfo(pageID)
		return err
	})
	if err != nil {
		writeStorageError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, PageInfoResponse{
		ID:         hdr.ID,
		Kind:       hdr.Kind.String(),
		FreeStart:  hdr.FreeStart,
		FreeEnd:    hdr.FreeEnd,
		TotalFree:  hdr.TotalFree,
		Slots:      (int(hdr.FreeStart) - storage.PageHeaderSize) / storage.CellPointerSize,
		CanCompact: hdr.Flags&storage.FlagCanCompact != 0,
	})
}

// handleCompactPage compacts one page.
// POST /api/pages/{page}/compact
func (s *Server) handleCompactPage(w http.ResponseWriter, r *http.Request) {
	pageID, err := parsePageID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "")
		return
	}

	var moved map[uint16]uint16
	err = GetStore(r).Do(func(h *storage.HeapFile) error {
		var err error
		moved, err = h.CompactPage(pageID)
		return err
	})
	if err != nil {
		writeStorageError(w, err)
		return
	}

	resp := CompactResponse{Page: pageID, Compacted: moved != nil}
	if moved != nil {
		resp.Moved = make(map[string]uint16, len(moved))
		for from, to := range moved {
			resp.Moved[strconv.Itoa(int(from))] = to
		}
	}
	writeSuccess(w, http.StatusOK, resp)
}

// handleInsertRecord stores the raw request body as a record.
// POST /api/records
func (s *Server) handleInsertRecord(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, storage.MaxRecordSize+1))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "record too large",
			fmt.Sprintf("Records are limited to %d bytes.", storage.MaxRecordSize))
		return
	}
	if len(body) == 0 {
		writeError(w, http.StatusBadRequest, "empty record", "Send the record bytes as the request body.")
		return
	}

	var id storage.RecordID
	err = GetStore(r).Do(func(h *storage.HeapFile) error {
		var err error
		id, err = h.InsertRecord(body)
		return err
	})
	if err != nil {
		writeStorageError(w, err)
		return
	}

	s.logger.Debug("inserted record", "record", id.String(), "bytes", len(body))
	writeSuccess(w, http.StatusCreated, id)
}

// handleGetRecord returns a record's bytes.
// GET /api/records/{page}/{slot}
func (s *Server) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	id, err := parseRecordID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "")
		return
	}

	var data []byte
	err = GetStore(r).Do(func(h *storage.HeapFile) error {
		var err error
		data, err = h.GetRecord(id)
		return err
	})
	if err != nil {
		writeStorageError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// handleDeleteRecord deletes a record.
// DELETE /api/records/{page}/{slot}
func (s *Server) handleDeleteRecord(w http.ResponseWriter, r *http.Request) {
	id, err := parseRecordID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "")
		return
	}

	err = GetStore(r).Do(func(h *storage.HeapFile) error {
		return h.DeleteRecord(id)
	})
	if err != nil {
		writeStorageError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, id)
}

// handleSync flushes dirty pages and the free-space map.
// POST /api/sync
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	var stats storage.Stats
	err := GetStore(r).Do(func(h *storage.HeapFile) error {
		if err := h.Sync(); err != nil {
			return err
		}
		stats = h.Stats()
		return nil
	})
	if err != nil {
		writeStorageError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, stats)
}

// handleRepair rebuilds the free-space map from the page headers.
// POST /api/repair
func (s *Server) handleRepair(w http.ResponseWriter, r *http.Request) {
	var stats storage.Stats
	err := GetStore(r).Do(func(h *storage.HeapFile) error {
		if err := h.RecomputeFreeSpaceMap(); err != nil {
			return err
		}
		stats = h.Stats()
		return nil
	})
	if err != nil {
		writeStorageError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, stats)
}
