package sweeper

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	tempdesk "github.com/wolfeidau/tempdesk"
	"github.com/wolfeidau/tempdesk/notify"
	"github.com/wolfeidau/tempdesk/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "TempDesk"))
	require.NoError(t, err)
	return s
}

func writeAged(t *testing.T, dir, name string, age time.Duration, now time.Time) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	mtime := now.Add(-age)
	require.NoError(t, os.Chtimes(path, mtime, mtime))
}

func TestSweepDeletesExpired(t *testing.T) {
	now := time.Now()
	s := newTestStore(t)
	writeAged(t, s.Root(), "stale.txt", 25*time.Hour, now)
	writeAged(t, s.Root(), "fresh.txt", 1*time.Hour, now)

	m := NewManager(s, Config{Retention: 24 * time.Hour, DeleteOnExpire: true},
		WithClock(func() time.Time { return now }))

	result := m.RunOnce(context.Background())
	require.Equal(t, 1, result.Deleted)
	require.Equal(t, 0, result.Errors)

	entries, err := s.List(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "fresh.txt", entries[0].Name)
}

func TestSweepKeepsEntryExactlyAtBoundary(t *testing.T) {
	now := time.Now()
	s := newTestStore(t)
	writeAged(t, s.Root(), "boundary.txt", 24*time.Hour, now)

	m := NewManager(s, Config{Retention: 24 * time.Hour, DeleteOnExpire: true},
		WithClock(func() time.Time { return now }))

	result := m.RunOnce(context.Background())
	require.Equal(t, 0, result.Deleted)

	entries, err := s.List(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestSweepArchivesWhenDeletionDisabled(t *testing.T) {
	now := time.Now()
	s := newTestStore(t)
	writeAged(t, s.Root(), "stale.txt", 48*time.Hour, now)

	m := NewManager(s, Config{Retention: 24 * time.Hour},
		WithClock(func() time.Time { return now }))

	result := m.RunOnce(context.Background())
	require.Equal(t, 1, result.Archived)
	require.Equal(t, 0, result.Deleted)

	archived, err := s.ListArchive(context.Background())
	require.NoError(t, err)
	require.Len(t, archived, 1)
	require.Equal(t, "stale.txt", archived[0].Name)
}

func TestSweepIsIdempotent(t *testing.T) {
	now := time.Now()
	s := newTestStore(t)
	writeAged(t, s.Root(), "stale.txt", 48*time.Hour, now)
	writeAged(t, s.Root(), "fresh.txt", 1*time.Hour, now)

	m := NewManager(s, Config{Retention: 24 * time.Hour},
		WithClock(func() time.Time { return now }))

	first := m.RunOnce(context.Background())
	require.Equal(t, 1, first.Archived)

	second := m.RunOnce(context.Background())
	require.Equal(t, 0, second.Archived)
	require.Equal(t, 0, second.Deleted)
	require.Equal(t, 0, second.Restored)
}

func TestSweepRestoresAfterRetentionLengthened(t *testing.T) {
	now := time.Now()
	s := newTestStore(t)
	writeAged(t, s.Root(), "stale.txt", 48*time.Hour, now)

	m := NewManager(s, Config{Retention: 24 * time.Hour},
		WithClock(func() time.Time { return now }))

	result := m.RunOnce(context.Background())
	require.Equal(t, 1, result.Archived)

	m.UpdateConfig(72*time.Hour, false)

	result = m.RunOnce(context.Background())
	require.Equal(t, 1, result.Restored)

	entries, err := s.List(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "stale.txt", entries[0].Name)
}

func TestSweepDeletesArchivedWhenDeletionEnabled(t *testing.T) {
	now := time.Now()
	s := newTestStore(t)
	require.NoError(t, os.MkdirAll(s.ArchiveDir(), 0o755))
	writeAged(t, s.ArchiveDir(), "stale.txt", 48*time.Hour, now)

	m := NewManager(s, Config{Retention: 24 * time.Hour, DeleteOnExpire: true},
		WithClock(func() time.Time { return now }))

	result := m.RunOnce(context.Background())
	require.Equal(t, 1, result.Deleted)

	archived, err := s.ListArchive(context.Background())
	require.NoError(t, err)
	require.Empty(t, archived)
}

func TestSweepPublishesEvent(t *testing.T) {
	now := time.Now()
	s := newTestStore(t)
	writeAged(t, s.Root(), "stale.txt", 48*time.Hour, now)

	bus := notify.NewBus(nil)
	ch, cancel := bus.Subscribe()
	defer cancel()

	m := NewManager(s, Config{Retention: 24 * time.Hour},
		WithClock(func() time.Time { return now }),
		WithNotifier(bus))

	m.RunOnce(context.Background())

	var sawSweep bool
	for len(ch) > 0 {
		if ev := <-ch; ev.Kind == notify.KindSweep {
			sawSweep = true
		}
	}
	require.True(t, sawSweep)
}

func TestSweepReportsResultCallback(t *testing.T) {
	now := time.Now()
	s := newTestStore(t)
	writeAged(t, s.Root(), "stale.txt", 48*time.Hour, now)

	var got Result
	m := NewManager(s, Config{Retention: 24 * time.Hour, DeleteOnExpire: true},
		WithClock(func() time.Time { return now }),
		WithOnSweep(func(r Result) { got = r }))

	m.RunOnce(context.Background())
	require.Equal(t, 1, got.Deleted)
}

func TestManagerStartStop(t *testing.T) {
	s := newTestStore(t)
	m := NewManager(s, Config{Retention: 24 * time.Hour, CheckInterval: time.Hour})

	require.NoError(t, m.Start(context.Background()))
	require.NoError(t, m.Start(context.Background()))
	m.Stop()
	m.Stop()
}

func TestPlanBoundaryAndModes(t *testing.T) {
	now := time.Now()
	retention := 24 * time.Hour

	live := []tempdesk.Entry{
		{Name: "expired.txt", ModTime: now.Add(-25 * time.Hour)},
		{Name: "boundary.txt", ModTime: now.Add(-retention)},
		{Name: "fresh.txt", ModTime: now.Add(-time.Hour)},
	}
	archived := []tempdesk.Entry{
		{Name: "old-stale.txt", ModTime: now.Add(-48 * time.Hour)},
		{Name: "old-young.txt", ModTime: now.Add(-time.Hour)},
	}

	actions := Plan(live, archived, now, retention, false)
	require.ElementsMatch(t, []Action{
		{Name: "expired.txt", Op: OpArchive},
		{Name: "old-young.txt", Op: OpRestore},
	}, actions)

	actions = Plan(live, archived, now, retention, true)
	require.ElementsMatch(t, []Action{
		{Name: "expired.txt", Op: OpDelete},
		{Name: "old-stale.txt", Op: OpDeleteArchived},
		{Name: "old-young.txt", Op: OpRestore},
	}, actions)
}
