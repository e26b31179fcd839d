package journal

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	tempdesk "github.com/wolfeidau/tempdesk"
	"github.com/wolfeidau/tempdesk/store"
)

func openTestJournal(t *testing.T, opts ...Option) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestRecordAndList(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	for _, name := range []string{"first.txt", "second.txt", "third.txt"} {
		entry := tempdesk.Entry{Name: name, Size: 10, Kind: tempdesk.KindDocument}
		require.NoError(t, j.RecordIngest(ctx, entry, "/tmp/"+name, store.ModeMove))
	}

	records, err := j.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, records, 3)

	// Newest first.
	require.Equal(t, "third.txt", records[0].Name)
	require.Equal(t, "first.txt", records[2].Name)
	require.NotEmpty(t, records[0].ID)
	require.Equal(t, string(store.ModeMove), records[0].Mode)
}

func TestListLimit(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, j.RecordIngest(ctx, tempdesk.Entry{Name: "x.txt"}, "/tmp/x.txt", store.ModeCopy))
	}

	records, err := j.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, records, 2)
}

func TestPruneRemovesOldRecords(t *testing.T) {
	now := time.Now()
	clock := now.Add(-30 * 24 * time.Hour)
	j := openTestJournal(t, WithNow(func() time.Time { return clock }))
	ctx := context.Background()

	require.NoError(t, j.RecordIngest(ctx, tempdesk.Entry{Name: "ancient.txt"}, "/tmp/a", store.ModeCopy))

	clock = now
	require.NoError(t, j.RecordIngest(ctx, tempdesk.Entry{Name: "recent.txt"}, "/tmp/r", store.ModeCopy))

	deleted, err := j.Prune(ctx, 7*24*time.Hour)
	require.NoError(t, err)
	require.Equal(t, 1, deleted)

	records, err := j.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "recent.txt", records[0].Name)

	n, err := j.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestReopenKeepsRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	ctx := context.Background()

	j, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, j.RecordIngest(ctx, tempdesk.Entry{Name: "kept.txt"}, "/tmp/k", store.ModeMove))
	require.NoError(t, j.Close())

	j, err = Open(path)
	require.NoError(t, err)
	defer j.Close()

	records, err := j.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "kept.txt", records[0].Name)
}

func TestCodecRoundTrip(t *testing.T) {
	c, err := newCodec()
	require.NoError(t, err)
	defer c.Close()

	small := []byte(`{"name":"a.txt"}`)
	stored := c.encode(small)
	require.Equal(t, encodingIdentity, stored[0])

	decoded, err := c.decode(stored)
	require.NoError(t, err)
	require.Equal(t, small, decoded)

	big := bytes.Repeat([]byte("abcdefgh"), compressionThreshold)
	stored = c.encode(big)
	require.Equal(t, encodingZstd, stored[0])
	require.Less(t, len(stored), len(big))

	decoded, err = c.decode(stored)
	require.NoError(t, err)
	require.Equal(t, big, decoded)
}

func TestCodecRejectsGarbage(t *testing.T) {
	c, err := newCodec()
	require.NoError(t, err)
	defer c.Close()

	_, err = c.decode(nil)
	require.ErrorIs(t, err, ErrCorrupted)

	_, err = c.decode([]byte{99, 1, 2, 3})
	require.ErrorIs(t, err, ErrCorrupted)

	_, err = c.decode([]byte{encodingZstd, 1, 2, 3})
	require.ErrorIs(t, err, ErrCorrupted)
}
