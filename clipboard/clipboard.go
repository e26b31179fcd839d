// Package clipboard implements the deferred cut/copy/paste selection over
// store entries, plus the pasted-text path that turns a URL on the system
// clipboard into a link entry. The selection is single shot: paste clears
// it whatever the outcome, and a cut that is never pasted removes nothing.
package clipboard

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	atotto "github.com/atotto/clipboard"

	tempdesk "github.com/wolfeidau/tempdesk"
	"github.com/wolfeidau/tempdesk/store"
	"github.com/wolfeidau/tempdesk/transfer"
)

// Op tags a pending selection.
type Op string

const (
	OpCopy Op = "copy"
	OpCut  Op = "cut"
)

// Selection is the pending clipboard state: an ordered set of source paths
// and the operation deferred until paste. It never survives a process
// restart.
type Selection struct {
	Paths []string
	Op    Op
}

// System abstracts the OS text clipboard so tests can substitute one.
type System interface {
	ReadAll() (string, error)
	WriteAll(text string) error
}

type systemClipboard struct{}

func (systemClipboard) ReadAll() (string, error) { return atotto.ReadAll() }
func (systemClipboard) WriteAll(s string) error  { return atotto.WriteAll(s) }

// Bridge holds the pending selection and applies it on paste.
type Bridge struct {
	resolver *transfer.Resolver
	store    *store.Store
	system   System
	logger   *slog.Logger

	mu        sync.Mutex
	selection *Selection
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithLogger sets the logger for clipboard operations.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bridge) {
		b.logger = logger
	}
}

// WithSystem substitutes the OS clipboard, for tests.
func WithSystem(sys System) Option {
	return func(b *Bridge) {
		b.system = sys
	}
}

// NewBridge creates a clipboard bridge over the given resolver and store.
func NewBridge(r *transfer.Resolver, s *store.Store, opts ...Option) *Bridge {
	b := &Bridge{
		resolver: r,
		store:    s,
		system:   systemClipboard{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// CopySelection records paths for a deferred copy, superseding any pending
// selection. The paths are mirrored to the system clipboard as text so
// other applications can see them.
func (b *Bridge) CopySelection(paths []string) {
	b.setSelection(paths, OpCopy)
}

// CutSelection records paths for a deferred move. Sources are untouched
// until paste completes; abandoning the selection removes nothing.
func (b *Bridge) CutSelection(paths []string) {
	b.setSelection(paths, OpCut)
}

func (b *Bridge) setSelection(paths []string, op Op) {
	if len(paths) == 0 {
		return
	}
	copied := make([]string, len(paths))
	copy(copied, paths)

	b.mu.Lock()
	b.selection = &Selection{Paths: copied, Op: op}
	b.mu.Unlock()

	b.logger.Debug("selection recorded", "op", op, "count", len(copied))

	// Best effort mirror; a headless host without a clipboard is fine.
	if err := b.system.WriteAll(strings.Join(copied, "\n")); err != nil {
		b.logger.Debug("could not mirror selection to system clipboard", "error", err)
	}
}

// Pending returns a copy of the current selection, or nil when none is
// pending.
func (b *Bridge) Pending() *Selection {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.selection == nil {
		return nil
	}
	paths := make([]string, len(b.selection.Paths))
	copy(paths, b.selection.Paths)
	return &Selection{Paths: paths, Op: b.selection.Op}
}

// Paste applies the pending selection: copy ingests duplicates, cut moves
// the sources in. The selection is cleared before any filesystem work, so
// partial failure never leaves a half-consumed clipboard and a repeated
// paste after a cut cannot resurrect removed sources.
func (b *Bridge) Paste(ctx context.Context) []transfer.Result {
	b.mu.Lock()
	sel := b.selection
	b.selection = nil
	b.mu.Unlock()

	if sel == nil {
		return nil
	}

	mode := store.ModeCopy
	if sel.Op == OpCut {
		mode = store.ModeMove
	}

	return b.resolver.Transfer(ctx, sel.Paths, mode)
}

// PasteText ingests text from the system clipboard. A URL becomes a link
// entry opening in the browser; anything else is saved as a text snippet.
func (b *Bridge) PasteText() (tempdesk.Entry, error) {
	text, err := b.system.ReadAll()
	if err != nil {
		return tempdesk.Entry{}, err
	}
	return b.ingestText(text)
}

// IngestText stores the given text directly, bypassing the system
// clipboard. Used by the HTTP API where the caller supplies the text.
func (b *Bridge) IngestText(text string) (tempdesk.Entry, error) {
	return b.ingestText(text)
}

func (b *Bridge) ingestText(text string) (tempdesk.Entry, error) {
	if store.IsURL(text) {
		return b.store.WriteURLShortcut(text)
	}
	return b.store.WriteEntry("snippet.txt", []byte(text))
}
