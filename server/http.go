// Package server exposes the file-store lifecycle over a local HTTP API:
// listings, ingestion, clipboard operations, retention control, settings
// and a WebSocket event stream for the UI layer.
package server

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wolfeidau/tempdesk/clipboard"
	"github.com/wolfeidau/tempdesk/config"
	"github.com/wolfeidau/tempdesk/journal"
	"github.com/wolfeidau/tempdesk/notify"
	"github.com/wolfeidau/tempdesk/store"
	"github.com/wolfeidau/tempdesk/sweeper"
	"github.com/wolfeidau/tempdesk/telemetry"
	"github.com/wolfeidau/tempdesk/transfer"
)

// journalFileName is the ingest history database kept inside the storage
// folder. The leading dot keeps it out of the live listing.
const journalFileName = ".tempdesk-journal.db"

// journalRetention is how long ingest history records are kept. Pruning
// piggybacks on the retention sweep.
const journalRetention = 90 * 24 * time.Hour

// Config holds server configuration.
type Config struct {
	// Address to listen on (e.g., "127.0.0.1:8321")
	Address string

	// ConfigPath is where settings changes are persisted.
	ConfigPath string

	// AuthToken enables Bearer token authentication when non-empty.
	AuthToken string

	// Logger for the server
	Logger *slog.Logger
}

// Server is the HTTP server for the lifecycle core.
type Server struct {
	config     Config
	httpServer *http.Server
	logger     *slog.Logger

	// Components
	store    *store.Store
	resolver *transfer.Resolver
	bridge   *clipboard.Bridge
	sweeper  *sweeper.Manager
	journal  *journal.Journal
	bus      *notify.Bus
	hub      *hub

	mu     sync.Mutex
	appCfg config.Config
}

// New creates a new server with the given configuration and wires up the
// store, sweeper, clipboard bridge and event stream.
func New(cfg Config, appCfg config.Config) (*Server, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Address == "" {
		cfg.Address = "127.0.0.1:8321"
	}
	if cfg.ConfigPath == "" {
		cfg.ConfigPath = config.DefaultPath()
	}
	if err := appCfg.Validate(); err != nil {
		cfg.Logger.Warn("settings out of range, clamped", "error", err)
	}

	bus := notify.NewBus(cfg.Logger.With("component", "notify"))

	// The store creates the folder, so it must come before the journal
	// that lives inside it.
	st, err := store.New(appCfg.StorageFolder,
		store.WithLogger(cfg.Logger.With("component", "store")),
		store.WithNotifier(bus),
	)
	if err != nil {
		return nil, err
	}

	jnl, err := journal.Open(filepath.Join(st.Root(), journalFileName),
		journal.WithLogger(cfg.Logger.With("component", "journal")))
	if err != nil {
		return nil, fmt.Errorf("opening ingest journal: %w", err)
	}
	st.SetJournal(jnl)

	resolver := transfer.NewResolver(st,
		transfer.WithLogger(cfg.Logger.With("component", "transfer")),
		transfer.WithOnIngest(func(mode store.Mode, size int64, ok bool) {
			outcome := "ok"
			if !ok {
				outcome = "error"
			}
			telemetry.RecordIngest(context.Background(), string(mode), outcome, size)
		}),
	)

	bridge := clipboard.NewBridge(resolver, st,
		clipboard.WithLogger(cfg.Logger.With("component", "clipboard")))

	s := &Server{
		config:   cfg,
		logger:   cfg.Logger,
		store:    st,
		resolver: resolver,
		bridge:   bridge,
		journal:  jnl,
		bus:      bus,
		hub:      newHub(bus, cfg.Logger.With("component", "events")),
		appCfg:   appCfg,
	}

	s.sweeper = sweeper.NewManager(st, sweeper.Config{
		Retention:      appCfg.Retention,
		DeleteOnExpire: appCfg.DeleteOnExpire,
		CheckInterval:  appCfg.SweepInterval,
		Logger:         cfg.Logger.With("component", "sweeper"),
	},
		sweeper.WithNotifier(bus),
		sweeper.WithOnSweep(func(r sweeper.Result) {
			telemetry.RecordSweep(context.Background(), r.Deleted, r.Archived, r.Restored, r.Errors, r.Duration)
			if pruned, perr := s.currentJournal().Prune(context.Background(), journalRetention); perr != nil {
				cfg.Logger.Warn("pruning ingest journal failed", "error", perr)
			} else if pruned > 0 {
				cfg.Logger.Debug("pruned ingest journal", "records", pruned)
			}
		}),
	)

	// Build HTTP server
	mux := http.NewServeMux()
	s.registerRoutes(mux)

	s.httpServer = &http.Server{
		Addr:         cfg.Address,
		Handler:      s.authMiddleware(s.loggingMiddleware(mux)),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute, // Long timeout for large file transfers
		IdleTimeout:  60 * time.Second,
	}

	return s, nil
}

// registerRoutes sets up the HTTP routes.
func (s *Server) registerRoutes(mux *http.ServeMux) {
	// Health check
	mux.HandleFunc("GET /health", s.handleHealth)

	// Store listings and mutations
	mux.HandleFunc("GET /entries", s.handleListEntries)
	mux.HandleFunc("DELETE /entries", s.handleClear)
	mux.HandleFunc("DELETE /entries/{name}", s.handleRemove)
	mux.HandleFunc("POST /entries/{name}/rename", s.handleRename)
	mux.HandleFunc("GET /archive", s.handleListArchive)
	mux.HandleFunc("POST /archive/{name}/restore", s.handleRestore)

	// Ingestion (drop, add-files)
	mux.HandleFunc("POST /ingest", s.handleIngest)

	// Clipboard bridge
	mux.HandleFunc("POST /clipboard/copy", s.handleClipboardCopy)
	mux.HandleFunc("POST /clipboard/cut", s.handleClipboardCut)
	mux.HandleFunc("POST /clipboard/paste", s.handleClipboardPaste)
	mux.HandleFunc("POST /clipboard/paste-text", s.handleClipboardPasteText)
	mux.HandleFunc("GET /clipboard", s.handleClipboardPending)

	// Retention
	mux.HandleFunc("POST /sweep", s.handleSweep)

	// Settings with live reload
	mux.HandleFunc("GET /settings", s.handleGetSettings)
	mux.HandleFunc("PUT /settings", s.handlePutSettings)

	// Ingest history
	mux.HandleFunc("GET /history", s.handleHistory)

	// Store stats
	mux.HandleFunc("GET /stats", s.handleStats)

	// Prometheus metrics endpoint (returns 404 if not enabled)
	mux.Handle("GET /metrics", telemetry.PrometheusHandler())

	// WebSocket event stream
	mux.HandleFunc("GET /events", s.hub.serveWS)
}

// loggingMiddleware logs HTTP requests with structured fields for analysis.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}

		// Wrap response writer to capture status and bytes
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)

		s.logger.Info("http request",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.status,
			"status_class", telemetry.StatusClass(wrapped.status),
			"bytes_sent", wrapped.bytesWritten,
			"duration_ms", duration.Milliseconds(),
			"remote_addr", r.RemoteAddr,
			"user_agent", r.UserAgent(),
		)

		// Record OTel metrics
		telemetry.RecordHTTP(r.Context(), r.Method, wrapped.status, wrapped.bytesWritten, duration)
	})
}

// Start starts the sweeper, the event stream and the HTTP listener.
func (s *Server) Start() error {
	s.hub.start()

	s.logger.Info("starting retention sweeper",
		"retention", s.appCfg.Retention,
		"delete_on_expire", s.appCfg.DeleteOnExpire,
		"check_interval", s.appCfg.SweepInterval,
	)
	if err := s.sweeper.Start(context.Background()); err != nil {
		return fmt.Errorf("starting sweeper: %w", err)
	}

	s.logger.Info("starting server", "address", s.config.Address, "folder", s.store.Root())
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")

	s.sweeper.Stop()
	s.hub.stop()

	err := s.httpServer.Shutdown(ctx)
	if cerr := s.currentJournal().Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// Address returns the server's listen address.
func (s *Server) Address() string {
	return s.config.Address
}

// currentJournal returns the journal for the active storage folder. The
// settings handler swaps it when the folder is repointed.
func (s *Server) currentJournal() *journal.Journal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.journal
}

// swapJournal installs the journal for a repointed storage folder and
// closes the previous one.
func (s *Server) swapJournal(jnl *journal.Journal) {
	s.mu.Lock()
	old := s.journal
	s.journal = jnl
	s.mu.Unlock()

	s.store.SetJournal(jnl)
	if err := old.Close(); err != nil {
		s.logger.Warn("closing previous ingest journal", "error", err)
	}
}

// responseWriter wraps http.ResponseWriter to capture the status code and bytes written.
// It preserves http.Flusher and http.Hijacker interfaces for streaming support.
type responseWriter struct {
	http.ResponseWriter
	status       int
	bytesWritten int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += int64(n)
	return n, err
}

// Flush implements http.Flusher for streaming responses.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack implements http.Hijacker for connection upgrades.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, fmt.Errorf("hijacking not supported")
}

// Unwrap returns the underlying ResponseWriter.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
