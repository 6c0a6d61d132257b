package web

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cabewaldrop/heapstore/internal/storage"
)

// insertRecord stores data directly, bypassing HTTP.
func insertRecord(t *testing.T, store *Store, data []byte) storage.RecordID {
	t.Helper()
	var id storage.RecordID
	err := store.Do(func(h *storage.HeapFile) error {
		var err error
		id, err = h.InsertRecord(data)
		return err
	})
	require.NoError(t, err)
	return id
}

// doRequest sends a request and decodes the APIResponse envelope.
func doRequest(t *testing.T, ts *httptest.Server, method, path string, body []byte) (*http.Response, APIResponse) {
	t.Helper()
	req, err := http.NewRequest(method, ts.URL+path, bytes.NewReader(body))
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var apiResp APIResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&apiResp))
	return resp, apiResp
}

// decodeData re-decodes the Data field of an APIResponse into out.
func decodeData(t *testing.T, apiResp APIResponse, out interface{}) {
	t.Helper()
	raw, err := json.Marshal(apiResp.Data)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, out))
}

func newTestServer(t *testing.T) (*httptest.Server, *Store) {
	t.Helper()
	store := newTestStore(t)
	ts := httptest.NewServer(NewServer(0, store, nil).Router())
	t.Cleanup(ts.Close)
	return ts, store
}

func TestAPIWithoutStore(t *testing.T) {
	ts := httptest.NewServer(NewServer(0, nil, nil).Router())
	defer ts.Close()

	for _, path := range []string{"/api/stats", "/api/fsm", "/api/pages/0", "/api/records/0/0"} {
		resp, apiResp := doRequest(t, ts, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode, path)
		assert.False(t, apiResp.Success, path)
	}
}

func TestAPIInsertGetDelete(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, apiResp := doRequest(t, ts, http.MethodPost, "/api/records", []byte("Toy Story"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.True(t, apiResp.Success)

	var id storage.RecordID
	decodeData(t, apiResp, &id)
	assert.Equal(t, storage.RecordID{PageID: 0, Slot: 0}, id)

	path := fmt.Sprintf("/api/records/%d/%d", id.PageID, id.Slot)
	getResp, err := http.Get(ts.URL + path)
	require.NoError(t, err)
	body, err := io.ReadAll(getResp.Body)
	getResp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, getResp.StatusCode)
	assert.Equal(t, "application/octet-stream", getResp.Header.Get("Content-Type"))
	assert.Equal(t, "Toy Story", string(body))

	resp, apiResp = doRequest(t, ts, http.MethodDelete, path, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, apiResp.Success)

	resp, apiResp = doRequest(t, ts, http.MethodGet, path, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.False(t, apiResp.Success)
	assert.NotEmpty(t, apiResp.Hint)

	resp, _ = doRequest(t, ts, http.MethodDelete, path, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPIInsertRejectsBadBodies(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, apiResp := doRequest(t, ts, http.MethodPost, "/api/records", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "empty record", apiResp.Error)

	resp, apiResp = doRequest(t, ts, http.MethodPost, "/api/records", make([]byte, storage.MaxRecordSize+1))
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	assert.False(t, apiResp.Success)

	resp, _ = doRequest(t, ts, http.MethodPost, "/api/records", make([]byte, 2*storage.PageSize))
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)

	resp, apiResp = doRequest(t, ts, http.MethodPost, "/api/records", make([]byte, storage.MaxRecordSize))
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.True(t, apiResp.Success)
}

func TestAPIBadRecordIDs(t *testing.T) {
	ts, _ := newTestServer(t)

	for _, path := range []string{"/api/records/x/0", "/api/records/0/y", "/api/records/0/70000", "/api/pages/-1"} {
		resp, apiResp := doRequest(t, ts, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, path)
		assert.False(t, apiResp.Success, path)
	}
}

func TestAPIMissingPage(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, apiResp := doRequest(t, ts, http.MethodGet, "/api/pages/3", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, apiResp.Error, "page 3")
}

func TestAPIPageInfoAndCompact(t *testing.T) {
	ts, store := newTestServer(t)
	record := make([]byte, 116)
	for i := 0; i < 3; i++ {
		insertRecord(t, store, record)
	}

	resp, apiResp := doRequest(t, ts, http.MethodDelete, "/api/records/0/1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, apiResp = doRequest(t, ts, http.MethodGet, "/api/pages/0", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var info PageInfoResponse
	decodeData(t, apiResp, &info)
	assert.Equal(t, "LEAF", info.Kind)
	assert.Equal(t, 3, info.Slots)
	assert.True(t, info.CanCompact)
	assert.Equal(t, uint16(storage.PageSize-1-storage.PageHeaderSize-3*(116+storage.CellPointerSize)), info.TotalFree)

	resp, apiResp = doRequest(t, ts, http.MethodPost, "/api/pages/0/compact", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var compacted CompactResponse
	decodeData(t, apiResp, &compacted)
	assert.True(t, compacted.Compacted)
	assert.Equal(t, map[string]uint16{"0": 0, "2": 1}, compacted.Moved)

	resp, apiResp = doRequest(t, ts, http.MethodGet, "/api/pages/0", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeData(t, apiResp, &info)
	assert.Equal(t, 2, info.Slots)
	assert.False(t, info.CanCompact)
	assert.Equal(t, uint16(storage.PageSize-1-storage.PageHeaderSize-2*(116+storage.CellPointerSize)), info.TotalFree)

	// Nothing left to reclaim.
	resp, apiResp = doRequest(t, ts, http.MethodPost, "/api/pages/0/compact", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeData(t, apiResp, &compacted)
	assert.False(t, compacted.Compacted)
}

func TestAPIStatsAndFreeSpaceMap(t *testing.T) {
	ts, store := newTestServer(t)

	resp, apiResp := doRequest(t, ts, http.MethodGet, "/api/stats", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var stats storage.Stats
	decodeData(t, apiResp, &stats)
	assert.Equal(t, uint32(0), stats.PageCount)
	assert.Equal(t, storage.DefaultCacheCapacity, stats.CacheCapacity)

	insertRecord(t, store, make([]byte, 112))

	resp, apiResp = doRequest(t, ts, http.MethodGet, "/api/fsm", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var fsm FreeSpaceMapResponse
	decodeData(t, apiResp, &fsm)
	assert.Equal(t, []int{7}, fsm.FirstLevel)
	assert.Equal(t, []int{7}, fsm.SecondLevel)

	resp, apiResp = doRequest(t, ts, http.MethodGet, "/api/stats", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeData(t, apiResp, &stats)
	assert.Equal(t, uint32(1), stats.PageCount)
	assert.Equal(t, 1, stats.DirtyPages)
}

func TestAPISyncAndRepair(t *testing.T) {
	ts, store := newTestServer(t)
	insertRecord(t, store, []byte("Alien"))

	resp, apiResp := doRequest(t, ts, http.MethodPost, "/api/sync", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var stats storage.Stats
	decodeData(t, apiResp, &stats)
	assert.Equal(t, 0, stats.DirtyPages)

	resp, apiResp = doRequest(t, ts, http.MethodPost, "/api/repair", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, apiResp.Success)
}

func TestAPIClosedHeapFile(t *testing.T) {
	ts, store := newTestServer(t)
	require.NoError(t, store.Do(func(h *storage.HeapFile) error { return h.Close() }))

	resp, apiResp := doRequest(t, ts, http.MethodPost, "/api/records", []byte("late"))
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Contains(t, apiResp.Error, "closed")
}
