package store

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/hazyhaar/taskwatch/internal/classify"
	"github.com/hazyhaar/taskwatch/internal/watch"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "state.db"), slog.Default())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestLoad_EmptyDatabaseGivesZeroRecord(t *testing.T) {
	s := openTest(t)
	rec := s.Load(context.Background())
	if rec != watch.ZeroRecord() {
		t.Errorf("Load on empty db: got %+v, want zero record", rec)
	}
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	want := watch.Record{
		LastHash:      watch.Fingerprint("some page text"),
		LastState:     classify.StateHasTasks,
		LastCheckedAt: time.Now().UnixMilli(),
		Streak:        3,
	}
	if err := s.Save(ctx, want); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if got := s.Load(ctx); got != want {
		t.Errorf("round trip: got %+v, want %+v", got, want)
	}

	// Second save overwrites, never duplicates.
	want.Streak = 0
	want.LastState = classify.StateNoTasks
	if err := s.Save(ctx, want); err != nil {
		t.Fatalf("Save again: %v", err)
	}
	if got := s.Load(ctx); got != want {
		t.Errorf("after overwrite: got %+v, want %+v", got, want)
	}
}

func TestLoad_InvalidStateFallsBackToZero(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	if err := s.Save(ctx, watch.Record{LastState: classify.StateHasTasks, LastCheckedAt: 1, Streak: 1}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	// Corrupt the row behind the store's back.
	if _, err := s.db.Exec(`UPDATE watch_state SET last_state = 'corrupted', streak = -4 WHERE id = 1`); err != nil {
		t.Fatalf("corrupt row: %v", err)
	}

	if got := s.Load(ctx); got != watch.ZeroRecord() {
		t.Errorf("Load of corrupt state: got %+v, want zero record", got)
	}
}

func TestReset(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	if err := s.Save(ctx, watch.Record{LastHash: "h", LastState: classify.StateHasTasks, LastCheckedAt: 5, Streak: 9}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	rec, err := s.Reset(ctx)
	if err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if rec != watch.ZeroRecord() {
		t.Errorf("Reset returned %+v, want zero record", rec)
	}
	if got := s.Load(ctx); got != watch.ZeroRecord() {
		t.Errorf("Load after reset: got %+v, want zero record", got)
	}
}

func TestCheckLog_AppendAndRecent(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	base := time.Now().UnixMilli()
	for i := 0; i < 3; i++ {
		s.AppendLog(ctx, LogEntry{
			Status:     classify.StateNoTasks,
			Hash:       "h",
			DurationMS: int64(100 + i),
			CheckedAt:  base + int64(i),
		})
	}
	s.AppendLog(ctx, LogEntry{
		Status:    classify.StateHasTasks,
		Changed:   true,
		Notified:  true,
		Excerpt:   "## Available tasks",
		CheckedAt: base + 10,
	})

	entries, err := s.RecentLog(ctx, 10)
	if err != nil {
		t.Fatalf("RecentLog: %v", err)
	}
	if len(entries) != 4 {
		t.Fatalf("RecentLog: got %d entries, want 4", len(entries))
	}
	// Newest first.
	if entries[0].Status != classify.StateHasTasks || !entries[0].Notified || !entries[0].Changed {
		t.Errorf("newest entry: got %+v, want the notified has_tasks row", entries[0])
	}
	if entries[0].Excerpt != "## Available tasks" {
		t.Errorf("excerpt: got %q", entries[0].Excerpt)
	}
}

func TestPruneLog(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	old := time.Now().Add(-48 * time.Hour).UnixMilli()
	s.AppendLog(ctx, LogEntry{Status: classify.StateNoTasks, CheckedAt: old})
	s.AppendLog(ctx, LogEntry{Status: classify.StateNoTasks, CheckedAt: time.Now().UnixMilli()})

	n, err := s.PruneLog(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("PruneLog: %v", err)
	}
	if n != 1 {
		t.Errorf("PruneLog: got %d removed, want 1", n)
	}
	entries, err := s.RecentLog(ctx, 10)
	if err != nil {
		t.Fatalf("RecentLog: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("after prune: got %d entries, want 1", len(entries))
	}
}
