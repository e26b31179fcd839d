// Package sweeper runs the periodic retention pass over the storage
// folder, deleting or archiving entries whose age exceeds the retention
// window and bringing archived entries back when it no longer does.
package sweeper

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/wolfeidau/tempdesk/notify"
	"github.com/wolfeidau/tempdesk/store"
)

// Config holds retention settings for the sweeper.
type Config struct {
	// Retention is how long an entry may sit in the live folder before a
	// sweep acts on it.
	Retention time.Duration

	// DeleteOnExpire selects deletion over archival for expired entries.
	DeleteOnExpire bool

	// CheckInterval is how often to run retention passes.
	// Default is 1 hour.
	CheckInterval time.Duration

	// Logger for sweep events.
	Logger *slog.Logger
}

// Result contains the outcome of one retention pass.
type Result struct {
	Deleted  int           `json:"deleted"`
	Archived int           `json:"archived"`
	Restored int           `json:"restored"`
	Errors   int           `json:"errors"`
	Duration time.Duration `json:"duration"`
}

// Notifier publishes a store-changed event after a pass that acted.
type Notifier interface {
	Publish(event notify.Event)
}

// Manager drives retention passes against a store.
type Manager struct {
	store    *store.Store
	logger   *slog.Logger
	notifier Notifier
	now      func() time.Time
	onSweep  func(Result)

	mu             sync.Mutex
	retention      time.Duration
	deleteOnExpire bool
	checkInterval  time.Duration
	running        bool
	stopped        bool
	stopCh         chan struct{}
	doneCh         chan struct{}
}

// Option configures a Manager.
type Option func(*Manager)

// WithNotifier sets the event sink notified after each acting pass.
func WithNotifier(n Notifier) Option {
	return func(m *Manager) {
		m.notifier = n
	}
}

// WithOnSweep sets a callback invoked with each pass result, used for
// metrics.
func WithOnSweep(fn func(Result)) Option {
	return func(m *Manager) {
		m.onSweep = fn
	}
}

// WithClock overrides the clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager creates a sweeper over the given store.
func NewManager(s *store.Store, cfg Config, opts ...Option) *Manager {
	if cfg.CheckInterval == 0 {
		cfg.CheckInterval = 1 * time.Hour
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	m := &Manager{
		store:          s,
		logger:         cfg.Logger,
		now:            time.Now,
		retention:      cfg.Retention,
		deleteOnExpire: cfg.DeleteOnExpire,
		checkInterval:  cfg.CheckInterval,
		stopCh:         make(chan struct{}),
		doneCh:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start begins background retention passes. The first pass runs
// immediately.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.stopped || m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = true
	m.mu.Unlock()

	go m.run(ctx)
	return nil
}

// Stop stops background passes and waits for an in-flight one to finish.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running || m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	m.mu.Unlock()

	close(m.stopCh)
	<-m.doneCh
}

// UpdateConfig applies new retention settings. The next pass uses them;
// a shortened window expires more entries, a lengthened one restores
// archived entries that are young again.
func (m *Manager) UpdateConfig(retention time.Duration, deleteOnExpire bool) {
	m.mu.Lock()
	m.retention = retention
	m.deleteOnExpire = deleteOnExpire
	m.mu.Unlock()
}

func (m *Manager) run(ctx context.Context) {
	defer close(m.doneCh)

	ticker := time.NewTicker(m.checkInterval)
	defer ticker.Stop()

	// Run immediately on start
	m.runOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.runOnce(ctx)
		}
	}
}

// RunOnce performs a single retention pass.
func (m *Manager) RunOnce(ctx context.Context) *Result {
	return m.runOnce(ctx)
}

func (m *Manager) runOnce(ctx context.Context) *Result {
	start := m.now()
	result := &Result{}

	m.mu.Lock()
	retention := m.retention
	deleteOnExpire := m.deleteOnExpire
	m.mu.Unlock()

	m.logger.Debug("starting retention pass", "retention", retention, "delete_on_expire", deleteOnExpire)

	live, err := m.store.List(ctx)
	if err != nil {
		m.logger.Error("failed to list storage folder", "error", err)
		result.Errors++
		return result
	}
	archived, err := m.store.ListArchive(ctx)
	if err != nil {
		m.logger.Error("failed to list retention archive", "error", err)
		result.Errors++
		return result
	}

	for _, action := range Plan(live, archived, m.now(), retention, deleteOnExpire) {
		if ctx.Err() != nil {
			break
		}
		if err := m.apply(action, result); err != nil {
			m.logger.Warn("retention action failed",
				"op", action.Op,
				"name", action.Name,
				"error", err,
			)
			result.Errors++
		}
	}

	result.Duration = m.now().Sub(start)

	if result.Deleted > 0 || result.Archived > 0 || result.Restored > 0 {
		m.logger.Info("retention pass complete",
			"deleted", result.Deleted,
			"archived", result.Archived,
			"restored", result.Restored,
			"errors", result.Errors,
			"duration", result.Duration,
		)
		if m.notifier != nil {
			m.notifier.Publish(notify.Event{Kind: notify.KindSweep, At: m.now()})
		}
	} else {
		m.logger.Debug("retention pass complete, nothing to do")
	}

	if m.onSweep != nil {
		m.onSweep(*result)
	}

	return result
}

func (m *Manager) apply(action Action, result *Result) error {
	switch action.Op {
	case OpDelete:
		if err := m.store.Remove(action.Name); err != nil {
			return err
		}
		result.Deleted++
	case OpArchive:
		if err := m.store.Archive(action.Name); err != nil {
			return err
		}
		result.Archived++
	case OpRestore:
		if err := m.store.Restore(action.Name); err != nil {
			return err
		}
		result.Restored++
	case OpDeleteArchived:
		if err := m.store.RemoveArchived(action.Name); err != nil {
			return err
		}
		result.Deleted++
	}
	return nil
}
