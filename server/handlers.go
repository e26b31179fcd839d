package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	tempdesk "github.com/wolfeidau/tempdesk"
	"github.com/wolfeidau/tempdesk/config"
	"github.com/wolfeidau/tempdesk/journal"
	"github.com/wolfeidau/tempdesk/store"
	"github.com/wolfeidau/tempdesk/telemetry"
	"github.com/wolfeidau/tempdesk/transfer"
)

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

type entriesResponse struct {
	Entries []tempdesk.Entry `json:"entries"`
}

func (s *Server) handleListEntries(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	tempdesk.SortEntries(entries)
	writeJSON(w, http.StatusOK, entriesResponse{Entries: entries})
}

func (s *Server) handleListArchive(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.ListArchive(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	tempdesk.SortEntries(entries)
	writeJSON(w, http.StatusOK, entriesResponse{Entries: entries})
}

type ingestRequest struct {
	Paths []string `json:"paths"`
	// Copy duplicates sources instead of moving them, matching the
	// modifier-key drop gesture.
	Copy bool `json:"copy"`
}

type ingestItemResult struct {
	Source string          `json:"source"`
	Entry  *tempdesk.Entry `json:"entry,omitempty"`
	Error  string          `json:"error,omitempty"`
}

type ingestResponse struct {
	Results []ingestItemResult `json:"results"`
	Failed  int                `json:"failed"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if len(req.Paths) == 0 {
		writeError(w, http.StatusBadRequest, errors.New("no paths given"))
		return
	}

	mode := store.ModeMove
	if req.Copy {
		mode = store.ModeCopy
	}

	results := s.resolver.Transfer(r.Context(), req.Paths, mode)
	writeJSON(w, http.StatusOK, toIngestResponse(results))
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	err := s.store.Remove(name)
	telemetry.RecordStoreOp(r.Context(), "remove", outcome(err))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type renameRequest struct {
	NewName string `json:"new_name"`
}

func (s *Server) handleRename(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	var req renameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.NewName == "" {
		writeError(w, http.StatusBadRequest, errors.New("new_name is required"))
		return
	}

	err := s.store.Rename(name, req.NewName)
	telemetry.RecordStoreOp(r.Context(), "rename", outcome(err))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	err := s.store.Clear(r.Context())
	telemetry.RecordStoreOp(r.Context(), "clear", outcome(err))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	err := s.store.Restore(name)
	telemetry.RecordStoreOp(r.Context(), "restore", outcome(err))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type selectionRequest struct {
	Paths []string `json:"paths"`
}

func (s *Server) handleClipboardCopy(w http.ResponseWriter, r *http.Request) {
	s.handleSelection(w, r, false)
}

func (s *Server) handleClipboardCut(w http.ResponseWriter, r *http.Request) {
	s.handleSelection(w, r, true)
}

func (s *Server) handleSelection(w http.ResponseWriter, r *http.Request, cut bool) {
	var req selectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if len(req.Paths) == 0 {
		writeError(w, http.StatusBadRequest, errors.New("no paths given"))
		return
	}

	if cut {
		s.bridge.CutSelection(req.Paths)
		telemetry.RecordClipboard(r.Context(), "cut")
	} else {
		s.bridge.CopySelection(req.Paths)
		telemetry.RecordClipboard(r.Context(), "copy")
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClipboardPaste(w http.ResponseWriter, r *http.Request) {
	results := s.bridge.Paste(r.Context())
	telemetry.RecordClipboard(r.Context(), "paste")
	writeJSON(w, http.StatusOK, toIngestResponse(results))
}

type pasteTextRequest struct {
	// Text to ingest. When empty the system clipboard is read instead.
	Text string `json:"text"`
}

func (s *Server) handleClipboardPasteText(w http.ResponseWriter, r *http.Request) {
	var req pasteTextRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}

	var (
		entry tempdesk.Entry
		err   error
	)
	if req.Text != "" {
		entry, err = s.bridge.IngestText(req.Text)
	} else {
		entry, err = s.bridge.PasteText()
	}
	telemetry.RecordClipboard(r.Context(), "paste_text")
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

type pendingResponse struct {
	Pending bool     `json:"pending"`
	Op      string   `json:"op,omitempty"`
	Paths   []string `json:"paths,omitempty"`
}

func (s *Server) handleClipboardPending(w http.ResponseWriter, r *http.Request) {
	sel := s.bridge.Pending()
	if sel == nil {
		writeJSON(w, http.StatusOK, pendingResponse{})
		return
	}
	writeJSON(w, http.StatusOK, pendingResponse{Pending: true, Op: string(sel.Op), Paths: sel.Paths})
}

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	result := s.sweeper.RunOnce(r.Context())
	writeJSON(w, http.StatusOK, result)
}

type settings struct {
	StorageFolder  string  `json:"temp_folder"`
	RetentionDays  float64 `json:"auto_delete_days"`
	DeleteOnExpire bool    `json:"auto_delete"`
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	cfg := s.appCfg
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, settings{
		StorageFolder:  cfg.StorageFolder,
		RetentionDays:  cfg.Retention.Hours() / 24,
		DeleteOnExpire: cfg.DeleteOnExpire,
	})
}

// handlePutSettings applies new settings live: the store is repointed, the
// sweeper picks up the new retention on its next pass, and the file is
// rewritten so the change survives a restart.
func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var req settings
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	s.mu.Lock()
	cfg := s.appCfg
	s.mu.Unlock()
	prevFolder := cfg.StorageFolder

	if req.StorageFolder != "" {
		cfg.StorageFolder = req.StorageFolder
	}
	if req.RetentionDays > 0 {
		cfg.Retention = time.Duration(req.RetentionDays * 24 * float64(time.Hour))
	}
	cfg.DeleteOnExpire = req.DeleteOnExpire

	if err := cfg.Validate(); err != nil {
		s.logger.Warn("settings out of range, clamped", "error", err)
	}

	if err := s.store.SetRoot(cfg.StorageFolder); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	if cfg.StorageFolder != prevFolder {
		// The journal lives inside the folder, so it follows the move.
		jnl, err := journal.Open(filepath.Join(s.store.Root(), journalFileName),
			journal.WithLogger(s.logger.With("component", "journal")))
		if err != nil {
			s.logger.Error("could not open ingest journal at new folder", "folder", s.store.Root(), "error", err)
		} else {
			s.swapJournal(jnl)
		}
	}
	s.sweeper.UpdateConfig(cfg.Retention, cfg.DeleteOnExpire)

	if err := config.Save(s.config.ConfigPath, cfg); err != nil {
		// The new settings are live; losing the file only costs them on
		// restart.
		s.logger.Error("could not persist settings", "path", s.config.ConfigPath, "error", err)
	}

	s.mu.Lock()
	s.appCfg = cfg
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, settings{
		StorageFolder:  cfg.StorageFolder,
		RetentionDays:  cfg.Retention.Hours() / 24,
		DeleteOnExpire: cfg.DeleteOnExpire,
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, errors.New("invalid limit"))
			return
		}
		limit = n
	}

	records, err := s.currentJournal().List(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": records})
}

type statsResponse struct {
	LiveEntries     int   `json:"live_entries"`
	LiveBytes       int64 `json:"live_bytes"`
	ArchivedEntries int   `json:"archived_entries"`
	ArchivedBytes   int64 `json:"archived_bytes"`
	IngestRecords   int   `json:"ingest_records"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	live, err := s.store.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	archived, err := s.store.ListArchive(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	records, err := s.currentJournal().Count(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	resp := statsResponse{
		LiveEntries:     len(live),
		ArchivedEntries: len(archived),
		IngestRecords:   records,
	}
	for _, e := range live {
		resp.LiveBytes += e.Size
	}
	for _, e := range archived {
		resp.ArchivedBytes += e.Size
	}
	writeJSON(w, http.StatusOK, resp)
}

func toIngestResponse(results []transfer.Result) ingestResponse {
	resp := ingestResponse{Results: make([]ingestItemResult, 0, len(results))}
	for _, res := range results {
		item := ingestItemResult{Source: res.Source}
		if res.Err != nil {
			item.Error = res.Err.Error()
			resp.Failed++
		} else {
			entry := res.Entry
			item.Entry = &entry
		}
		resp.Results = append(resp.Results, item)
	}
	return resp
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// writeStoreError maps store sentinels to HTTP statuses.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, store.ErrExists):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, store.ErrPermissionDenied):
		writeError(w, http.StatusForbidden, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}
