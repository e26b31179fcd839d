package transfer

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wolfeidau/tempdesk/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "TempDesk"))
	require.NoError(t, err)
	return s
}

func TestTransferBatchContinuesPastFailures(t *testing.T) {
	s := newTestStore(t)
	srcDir := t.TempDir()

	good1 := filepath.Join(srcDir, "one.txt")
	good2 := filepath.Join(srcDir, "two.txt")
	require.NoError(t, os.WriteFile(good1, []byte("1"), 0o644))
	require.NoError(t, os.WriteFile(good2, []byte("2"), 0o644))
	missing := filepath.Join(srcDir, "gone.txt")

	r := NewResolver(s)
	results := r.Transfer(context.Background(), []string{good1, missing, good2}, store.ModeCopy)

	require.Len(t, results, 3)
	require.NoError(t, results[0].Err)
	require.ErrorIs(t, results[1].Err, store.ErrNotFound)
	require.NoError(t, results[2].Err)

	entries, err := s.List(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 2)
}

func TestTransferMoveRemovesSources(t *testing.T) {
	s := newTestStore(t)
	src := filepath.Join(t.TempDir(), "one.txt")
	require.NoError(t, os.WriteFile(src, []byte("1"), 0o644))

	r := NewResolver(s)
	results := r.Transfer(context.Background(), []string{src}, store.ModeMove)

	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)
	require.NoFileExists(t, src)
}

func TestTransferCancelledReportsRemaining(t *testing.T) {
	s := newTestStore(t)
	src := filepath.Join(t.TempDir(), "one.txt")
	require.NoError(t, os.WriteFile(src, []byte("1"), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := NewResolver(s)
	results := r.Transfer(ctx, []string{src}, store.ModeCopy)

	require.Len(t, results, 1)
	require.ErrorIs(t, results[0].Err, context.Canceled)
	require.FileExists(t, src)
}

func TestTransferReportsPerItemMetrics(t *testing.T) {
	s := newTestStore(t)
	src := filepath.Join(t.TempDir(), "one.txt")
	require.NoError(t, os.WriteFile(src, []byte("1"), 0o644))
	missing := filepath.Join(t.TempDir(), "gone.txt")

	var ok, failed int
	var bytes int64
	r := NewResolver(s, WithOnIngest(func(_ store.Mode, size int64, success bool) {
		bytes += size
		if success {
			ok++
		} else {
			failed++
		}
	}))

	r.Transfer(context.Background(), []string{src, missing}, store.ModeCopy)
	require.Equal(t, 1, ok)
	require.Equal(t, 1, failed)
	require.Equal(t, int64(1), bytes)
}

func TestModeFor(t *testing.T) {
	require.Equal(t, store.ModeMove, ModeFor(false))
	require.Equal(t, store.ModeCopy, ModeFor(true))
}
