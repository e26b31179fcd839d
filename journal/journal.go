// Package journal keeps a local history of ingestions in a bbolt database
// beside the storage folder. The history is advisory: losing it never
// affects the files themselves, and recording failures never fail an
// ingest.
package journal

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	tempdesk "github.com/wolfeidau/tempdesk"
	"github.com/wolfeidau/tempdesk/store"
)

var bucketIngests = []byte("ingests")

// Record is one remembered ingestion.
type Record struct {
	ID     string    `json:"id"`
	Name   string    `json:"name"`
	Source string    `json:"source"`
	Mode   string    `json:"mode"`
	Size   int64     `json:"size_bytes"`
	Kind   string    `json:"kind"`
	At     time.Time `json:"at"`
}

// Journal stores ingest records ordered by time.
type Journal struct {
	db     *bbolt.DB
	codec  *codec
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Journal.
type Option func(*Journal)

// WithLogger sets the logger for journal operations.
func WithLogger(logger *slog.Logger) Option {
	return func(j *Journal) {
		j.logger = logger
	}
}

// WithNow sets the time function for testing.
func WithNow(now func() time.Time) Option {
	return func(j *Journal) {
		j.now = now
	}
}

// Open opens or creates the journal database at the given path.
func Open(path string, opts ...Option) (*Journal, error) {
	j := &Journal{
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(j)
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketIngests)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating journal bucket: %w", err)
	}

	c, err := newCodec()
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	j.db = db
	j.codec = c
	j.logger.Debug("opened journal", "path", path)
	return j, nil
}

// Close closes the database and releases codec resources.
func (j *Journal) Close() error {
	if j.codec != nil {
		j.codec.Close()
		j.codec = nil
	}
	if j.db == nil {
		return nil
	}
	return j.db.Close()
}

// RecordIngest appends a record for a completed ingestion.
func (j *Journal) RecordIngest(_ context.Context, entry tempdesk.Entry, source string, mode store.Mode) error {
	rec := Record{
		ID:     uuid.NewString(),
		Name:   entry.Name,
		Source: source,
		Mode:   string(mode),
		Size:   entry.Size,
		Kind:   string(entry.Kind),
		At:     j.now(),
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding journal record: %w", err)
	}
	stored := j.codec.encode(data)

	return j.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketIngests).Put(recordKey(rec.At, rec.ID), stored)
	})
}

// List returns the most recent records, newest first, up to limit. A zero
// or negative limit returns everything. Records that fail to decode are
// logged and skipped.
func (j *Journal) List(_ context.Context, limit int) ([]Record, error) {
	var records []Record

	err := j.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketIngests).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(records) >= limit {
				break
			}
			data, err := j.codec.decode(v)
			if err != nil {
				j.logger.Warn("skipping unreadable journal record", "error", err)
				continue
			}
			var rec Record
			if err := json.Unmarshal(data, &rec); err != nil {
				j.logger.Warn("skipping unreadable journal record", "error", err)
				continue
			}
			records = append(records, rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing journal: %w", err)
	}
	return records, nil
}

// Count returns the number of stored records.
func (j *Journal) Count(_ context.Context) (int, error) {
	var n int
	err := j.db.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket(bucketIngests).Stats().KeyN
		return nil
	})
	return n, err
}

// Prune removes records older than the given age and returns how many
// were deleted. Keys sort by timestamp, so the scan stops at the cutoff.
func (j *Journal) Prune(_ context.Context, olderThan time.Duration) (int, error) {
	cutoff := recordKey(j.now().Add(-olderThan), "")
	deleted := 0

	err := j.db.Update(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketIngests).Cursor()
		var stale [][]byte
		for k, _ := c.First(); k != nil && string(k) < string(cutoff); k, _ = c.Next() {
			stale = append(stale, append([]byte(nil), k...))
		}
		for _, k := range stale {
			if err := tx.Bucket(bucketIngests).Delete(k); err != nil {
				return err
			}
			deleted++
		}
		return nil
	})
	if err != nil {
		return deleted, fmt.Errorf("pruning journal: %w", err)
	}

	if deleted > 0 {
		j.logger.Debug("pruned journal", "deleted", deleted, "older_than", olderThan)
	}
	return deleted, nil
}

// recordKey builds a time-ordered key: big-endian nanoseconds plus the
// record ID as a tiebreaker.
func recordKey(at time.Time, id string) []byte {
	key := make([]byte, 8, 8+len(id))
	binary.BigEndian.PutUint64(key, uint64(at.UnixNano()))
	return append(key, id...)
}
