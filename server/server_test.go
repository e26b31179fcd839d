package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/wolfeidau/tempdesk/config"
	"github.com/wolfeidau/tempdesk/notify"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()

	appCfg := config.Default()
	appCfg.StorageFolder = filepath.Join(t.TempDir(), "TempDesk")
	appCfg.Retention = 24 * time.Hour

	s, err := New(Config{
		ConfigPath: filepath.Join(t.TempDir(), "config.json"),
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, appCfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.currentJournal().Close()
	})
	return s
}

func doJSON(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, req)
	return rec
}

func writeSource(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestIngestAndList(t *testing.T) {
	s := newTestServer(t)
	src := writeSource(t, "report.pdf", "content")

	rec := doJSON(t, s, http.MethodPost, "/ingest", ingestRequest{Paths: []string{src}, Copy: true})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ingestResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 0, resp.Failed)
	require.Len(t, resp.Results, 1)
	require.Equal(t, "report.pdf", resp.Results[0].Entry.Name)

	rec = doJSON(t, s, http.MethodGet, "/entries", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var list entriesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Entries, 1)
	require.Equal(t, "report.pdf", list.Entries[0].Name)
}

func TestIngestPartialFailure(t *testing.T) {
	s := newTestServer(t)
	src := writeSource(t, "good.txt", "x")
	missing := filepath.Join(t.TempDir(), "gone.txt")

	rec := doJSON(t, s, http.MethodPost, "/ingest", ingestRequest{Paths: []string{missing, src}})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ingestResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Failed)
	require.NotEmpty(t, resp.Results[0].Error)
	require.Empty(t, resp.Results[1].Error)
}

func TestIngestRejectsEmptyBatch(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/ingest", ingestRequest{})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRemoveEntry(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, os.WriteFile(filepath.Join(s.store.Root(), "a.txt"), []byte("x"), 0o644))

	rec := doJSON(t, s, http.MethodDelete, "/entries/a.txt", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	// Removing a missing entry still reports success.
	rec = doJSON(t, s, http.MethodDelete, "/entries/a.txt", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
}

func TestRenameConflict(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, os.WriteFile(filepath.Join(s.store.Root(), "a.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(s.store.Root(), "b.txt"), []byte("x"), 0o644))

	rec := doJSON(t, s, http.MethodPost, "/entries/a.txt/rename", renameRequest{NewName: "b.txt"})
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, s, http.MethodPost, "/entries/a.txt/rename", renameRequest{NewName: "c.txt"})
	require.Equal(t, http.StatusNoContent, rec.Code)
}

func TestClearEntries(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, os.WriteFile(filepath.Join(s.store.Root(), "a.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(s.store.Root(), "b.txt"), []byte("x"), 0o644))

	rec := doJSON(t, s, http.MethodDelete, "/entries", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	var list entriesResponse
	rec = doJSON(t, s, http.MethodGet, "/entries", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Empty(t, list.Entries)
}

func TestSweepEndpoint(t *testing.T) {
	s := newTestServer(t)

	stale := filepath.Join(s.store.Root(), "stale.txt")
	require.NoError(t, os.WriteFile(stale, []byte("x"), 0o644))
	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(stale, old, old))

	rec := doJSON(t, s, http.MethodPost, "/sweep", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var result map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.EqualValues(t, 1, result["archived"])

	rec = doJSON(t, s, http.MethodGet, "/archive", nil)
	var list entriesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Entries, 1)
	require.Equal(t, "stale.txt", list.Entries[0].Name)
}

func TestRestoreEndpoint(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, os.MkdirAll(s.store.ArchiveDir(), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(s.store.ArchiveDir(), "a.txt"), []byte("x"), 0o644))

	rec := doJSON(t, s, http.MethodPost, "/archive/a.txt/restore", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.FileExists(t, filepath.Join(s.store.Root(), "a.txt"))
}

func TestClipboardCutPasteFlow(t *testing.T) {
	s := newTestServer(t)
	src := writeSource(t, "doc.txt", "hello")

	rec := doJSON(t, s, http.MethodPost, "/clipboard/cut", selectionRequest{Paths: []string{src}})
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/clipboard", nil)
	var pending pendingResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pending))
	require.True(t, pending.Pending)
	require.Equal(t, "cut", pending.Op)

	rec = doJSON(t, s, http.MethodPost, "/clipboard/paste", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	require.NoFileExists(t, src)
	require.FileExists(t, filepath.Join(s.store.Root(), "doc.txt"))

	rec = doJSON(t, s, http.MethodGet, "/clipboard", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pending))
	require.False(t, pending.Pending)
}

func TestClipboardPasteTextURL(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/clipboard/paste-text", pasteTextRequest{Text: "https://example.com/page"})
	require.Equal(t, http.StatusCreated, rec.Code)

	body, err := os.ReadFile(filepath.Join(s.store.Root(), "example.com.url"))
	require.NoError(t, err)
	require.Contains(t, string(body), "URL=https://example.com/page")
}

func TestSettingsLiveReload(t *testing.T) {
	s := newTestServer(t)

	newFolder := filepath.Join(t.TempDir(), "Elsewhere")
	rec := doJSON(t, s, http.MethodPut, "/settings", settings{
		StorageFolder:  newFolder,
		RetentionDays:  2,
		DeleteOnExpire: true,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	require.Equal(t, newFolder, s.store.Root())
	require.DirExists(t, newFolder)

	// Persisted for the next start.
	saved := config.Load(s.config.ConfigPath, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.Equal(t, newFolder, saved.StorageFolder)
	require.Equal(t, 48*time.Hour, saved.Retention)
	require.True(t, saved.DeleteOnExpire)

	rec = doJSON(t, s, http.MethodGet, "/settings", nil)
	var got settings
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, newFolder, got.StorageFolder)
	require.InDelta(t, 2.0, got.RetentionDays, 0.001)
	require.True(t, got.DeleteOnExpire)
}

func TestNewCreatesMissingStorageFolder(t *testing.T) {
	appCfg := config.Default()
	appCfg.StorageFolder = filepath.Join(t.TempDir(), "fresh", "TempDesk")

	s, err := New(Config{
		ConfigPath: filepath.Join(t.TempDir(), "config.json"),
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, appCfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.currentJournal().Close() })

	require.DirExists(t, appCfg.StorageFolder)
	require.FileExists(t, filepath.Join(appCfg.StorageFolder, journalFileName))
}

func TestSettingsMoveRepointsJournal(t *testing.T) {
	s := newTestServer(t)

	newFolder := filepath.Join(t.TempDir(), "Elsewhere")
	rec := doJSON(t, s, http.MethodPut, "/settings", settings{StorageFolder: newFolder})
	require.Equal(t, http.StatusOK, rec.Code)
	require.FileExists(t, filepath.Join(newFolder, journalFileName))

	src := writeSource(t, "b.txt", "hi")
	rec = doJSON(t, s, http.MethodPost, "/ingest", ingestRequest{Paths: []string{src}, Copy: true})
	require.Equal(t, http.StatusOK, rec.Code)

	// History and stats read the journal beside the new folder.
	rec = doJSON(t, s, http.MethodGet, "/history?limit=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "b.txt")

	rec = doJSON(t, s, http.MethodGet, "/stats", nil)
	var stats statsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	require.Equal(t, 1, stats.IngestRecords)
}

func TestStatsAndHistory(t *testing.T) {
	s := newTestServer(t)
	src := writeSource(t, "a.txt", "hello")

	rec := doJSON(t, s, http.MethodPost, "/ingest", ingestRequest{Paths: []string{src}, Copy: true})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var stats statsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	require.Equal(t, 1, stats.LiveEntries)
	require.EqualValues(t, 5, stats.LiveBytes)
	require.Equal(t, 1, stats.IngestRecords)

	rec = doJSON(t, s, http.MethodGet, "/history?limit=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "a.txt")
}

func TestEventStream(t *testing.T) {
	s := newTestServer(t)
	s.hub.start()
	defer s.hub.stop()

	ts := httptest.NewServer(s.httpServer.Handler)
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// Give the hub a beat to register the client before publishing.
	time.Sleep(50 * time.Millisecond)

	_, err = s.store.WriteEntry("note.txt", []byte("hi"))
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, message, err := conn.ReadMessage()
	require.NoError(t, err)

	var ev notify.Event
	require.NoError(t, json.Unmarshal(message, &ev))
	require.Equal(t, notify.KindIngest, ev.Kind)
	require.Equal(t, "note.txt", ev.Name)
}

func TestHubStopWithoutStart(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := newHub(notify.NewBus(logger), logger)

	done := make(chan struct{})
	go func() {
		h.stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("stop blocked without a prior start")
	}
}

func TestShutdown(t *testing.T) {
	appCfg := config.Default()
	appCfg.StorageFolder = filepath.Join(t.TempDir(), "TempDesk")

	s, err := New(Config{
		ConfigPath: filepath.Join(t.TempDir(), "config.json"),
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, appCfg)
	require.NoError(t, err)

	s.hub.start()
	require.NoError(t, s.sweeper.Start(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))
}
