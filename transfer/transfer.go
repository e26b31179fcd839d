// Package transfer turns a batch of dropped or pasted paths into
// individual store ingestions. Items fail independently: one unreadable
// source never aborts the rest of the batch.
package transfer

import (
	"context"
	"log/slog"

	tempdesk "github.com/wolfeidau/tempdesk"
	"github.com/wolfeidau/tempdesk/store"
)

// Result reports the outcome for one source path.
type Result struct {
	Source string
	Entry  tempdesk.Entry
	Err    error
}

// Resolver ingests batches of external paths into a store.
type Resolver struct {
	store    *store.Store
	logger   *slog.Logger
	onIngest func(mode store.Mode, size int64, ok bool)
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger sets the logger for transfer batches.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// WithOnIngest sets a callback invoked per item with the ingested size,
// used for metrics. Size is zero for failed items.
func WithOnIngest(fn func(mode store.Mode, size int64, ok bool)) Option {
	return func(r *Resolver) {
		r.onIngest = fn
	}
}

// NewResolver creates a resolver over the given store.
func NewResolver(s *store.Store, opts ...Option) *Resolver {
	r := &Resolver{
		store:  s,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ModeFor maps the drop gesture to an ingest mode. A plain drop moves the
// file; holding the copy modifier duplicates it instead.
func ModeFor(copyModifier bool) store.Mode {
	if copyModifier {
		return store.ModeCopy
	}
	return store.ModeMove
}

// Transfer ingests each path with the given mode and returns one result
// per input, in input order. Cancellation marks remaining items with the
// context error rather than dropping them from the report.
func (r *Resolver) Transfer(ctx context.Context, paths []string, mode store.Mode) []Result {
	results := make([]Result, 0, len(paths))
	failed := 0

	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			results = append(results, Result{Source: path, Err: err})
			failed++
			continue
		}

		entry, err := r.store.Ingest(ctx, path, mode)
		if err != nil {
			r.logger.Warn("transfer item failed", "source", path, "mode", mode, "error", err)
			failed++
		}
		if r.onIngest != nil {
			r.onIngest(mode, entry.Size, err == nil)
		}
		results = append(results, Result{Source: path, Entry: entry, Err: err})
	}

	r.logger.Debug("transfer batch complete", "total", len(paths), "failed", failed, "mode", mode)
	return results
}
