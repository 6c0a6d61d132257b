package web

import (
	"embed"
	"html/template"
	"net/http"

	"github.com/dustin/go-humanize"

	"github.com/cabewaldrop/heapstore/internal/storage"
)

//go:embed templates/*.html
var templatesFS embed.FS

var templateFuncs = template.FuncMap{
	"bytes": func(n int) string { return humanize.IBytes(uint64(n)) },
	"comma": func(n uint32) string { return humanize.Comma(int64(n)) },
}

var dashboardTemplate = template.Must(
	template.New("dashboard.html").Funcs(templateFuncs).ParseFS(templatesFS, "templates/dashboard.html"),
)

// dashboardData feeds templates/dashboard.html.
type dashboardData struct {
	Stats       storage.Stats
	FileSize    int
	FirstLevel  []uint8
	SecondLevel []uint8
	MaxLevel    uint8
}

// handleIndex renders the dashboard: file stats and both free-space map
// levels. Without a store it renders an empty page.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	data := dashboardData{MaxLevel: storage.MaxFreeFraction}
	if s.store != nil {
		s.store.Do(func(h *storage.HeapFile) error {
			data.Stats = h.Stats()
			data.FirstLevel, data.SecondLevel = h.FreeSpaceMap()
			return nil
		})
		data.FileSize = int(data.Stats.PageCount) * storage.PageSize
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := dashboardTemplate.Execute(w, data); err != nil {
		s.logger.Error("render dashboard", "error", err)
	}
}
