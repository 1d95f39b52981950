package taskwatch

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hazyhaar/taskwatch/internal/classify"
	"github.com/hazyhaar/taskwatch/internal/render"
	"github.com/hazyhaar/taskwatch/internal/store"
	"github.com/hazyhaar/taskwatch/internal/watch"
)

// fakeRenderer serves queued snapshots (or an error) one per Fetch.
type fakeRenderer struct {
	mu       sync.Mutex
	snaps    []*render.Snapshot
	err      error
	inFlight atomic.Int32
	overlap  atomic.Bool
	delay    time.Duration
}

func (f *fakeRenderer) Fetch(ctx context.Context) (*render.Snapshot, error) {
	if f.inFlight.Add(1) > 1 {
		f.overlap.Store(true)
	}
	defer f.inFlight.Add(-1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.snaps) == 0 {
		return &render.Snapshot{Text: ""}, nil
	}
	s := f.snaps[0]
	if len(f.snaps) > 1 {
		f.snaps = f.snaps[1:]
	}
	return s, nil
}

// fakeNotifier records every message.
type fakeNotifier struct {
	mu   sync.Mutex
	msgs []string
}

func (f *fakeNotifier) Send(_ context.Context, text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, text)
}

func (f *fakeNotifier) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.msgs...)
}

// memStore keeps everything in memory.
type memStore struct {
	mu      sync.Mutex
	rec     watch.Record
	has     bool
	saveErr error
	saves   int
	logs    []store.LogEntry
}

func (m *memStore) Load(context.Context) watch.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.has {
		return watch.ZeroRecord()
	}
	return m.rec
}

func (m *memStore) Save(_ context.Context, rec watch.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	if m.saveErr != nil {
		return m.saveErr
	}
	m.rec, m.has = rec, true
	return nil
}

func (m *memStore) Reset(ctx context.Context) (watch.Record, error) {
	rec := watch.ZeroRecord()
	return rec, m.Save(ctx, rec)
}

func (m *memStore) AppendLog(_ context.Context, e store.LogEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, e)
}

func (m *memStore) RecentLog(_ context.Context, limit int) ([]store.LogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]store.LogEntry(nil), m.logs...)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func newTestWatcher(r Renderer, n *fakeNotifier, s Store) *Watcher {
	return New(r, n, s, Options{PageURL: "https://example.com/projects"})
}

func TestCheckNow_DebounceEndToEnd(t *testing.T) {
	r := &fakeRenderer{snaps: []*render.Snapshot{
		{Text: "Available tasks: batch A", ContainerFound: true},
		{Text: "Available tasks: batch A", ContainerFound: true},
		{Text: "Available tasks: batch B", ContainerFound: true},
	}}
	n := &fakeNotifier{}
	s := &memStore{}
	w := newTestWatcher(r, n, s)
	ctx := context.Background()

	res := w.CheckNow(ctx)
	if res.Notified || res.Streak != 1 || !res.FirstRun {
		t.Errorf("check 1: got %+v, want streak 1, no notify, first run", res)
	}

	res = w.CheckNow(ctx)
	if res.Notified || res.Changed {
		t.Errorf("check 2: got %+v, want unchanged and suppressed", res)
	}
	if res.Streak != 2 {
		t.Errorf("check 2: streak got %d, want 2", res.Streak)
	}

	res = w.CheckNow(ctx)
	if !res.Notified || !res.Changed || res.Streak != 3 {
		t.Errorf("check 3: got %+v, want changed, notified, streak 3", res)
	}

	msgs := n.sent()
	if len(msgs) != 1 {
		t.Fatalf("notifications: got %d, want exactly 1", len(msgs))
	}
	if !strings.Contains(msgs[0], "https://example.com/projects") {
		t.Errorf("notification should carry the page URL: %q", msgs[0])
	}
	if len(s.logs) != 3 {
		t.Errorf("check log: got %d entries, want 3", len(s.logs))
	}
}

func TestCheckNow_RenderFailureLeavesRecordUntouched(t *testing.T) {
	s := &memStore{rec: watch.Record{LastHash: "h", LastState: classify.StateNoTasks, LastCheckedAt: 42, Streak: 0}, has: true}
	n := &fakeNotifier{}
	w := newTestWatcher(&fakeRenderer{err: &render.Error{Op: "navigate", Err: context.DeadlineExceeded}}, n, s)

	res := w.CheckNow(context.Background())
	if res.OK {
		t.Error("render failure: got OK, want failure")
	}
	if res.Err == "" {
		t.Error("render failure: Err empty")
	}
	if s.saves != 0 {
		t.Errorf("record saved %d times on render failure, want 0", s.saves)
	}
	if got := s.Load(context.Background()); got.LastCheckedAt != 42 {
		t.Errorf("record mutated on render failure: %+v", got)
	}
	// Operator hears about it.
	if msgs := n.sent(); len(msgs) != 1 || !strings.Contains(msgs[0], "error") {
		t.Errorf("operator alert: got %v", n.sent())
	}
	// And the log records the failed iteration.
	if len(s.logs) != 1 || s.logs[0].Error == "" {
		t.Errorf("check log on failure: got %+v", s.logs)
	}
}

func TestCheckNow_LoginWallAlertsEvenOnFirstRun(t *testing.T) {
	r := &fakeRenderer{snaps: []*render.Snapshot{{Text: "Please sign in to continue"}}}
	n := &fakeNotifier{}
	s := &memStore{}
	w := newTestWatcher(r, n, s)

	res := w.CheckNow(context.Background())
	if res.OK {
		t.Error("login wall: got OK, want not-OK")
	}
	if res.Status != classify.StateLoginRequired {
		t.Errorf("status: got %s, want %s", res.Status, classify.StateLoginRequired)
	}
	msgs := n.sent()
	if len(msgs) != 1 || !strings.Contains(strings.ToLower(msgs[0]), "login") {
		t.Errorf("login alert: got %v", msgs)
	}
	// Record still updated and persisted.
	rec := s.Load(context.Background())
	if rec.LastState != classify.StateLoginRequired || rec.LastCheckedAt == 0 {
		t.Errorf("record after login wall: %+v", rec)
	}
}

func TestCheckNow_SaveFailureDoesNotCrashPipeline(t *testing.T) {
	r := &fakeRenderer{snaps: []*render.Snapshot{{Text: "no tasks available"}}}
	s := &memStore{saveErr: context.DeadlineExceeded}
	w := newTestWatcher(r, &fakeNotifier{}, s)

	res := w.CheckNow(context.Background())
	if !res.OK {
		t.Errorf("save failure should not fail the check: %+v", res)
	}
	if res.Status != classify.StateNoTasks {
		t.Errorf("status: got %s, want %s", res.Status, classify.StateNoTasks)
	}
}

func TestCheckNow_SerializesConcurrentCallers(t *testing.T) {
	r := &fakeRenderer{
		snaps: []*render.Snapshot{{Text: "no tasks available"}},
		delay: 20 * time.Millisecond,
	}
	w := newTestWatcher(r, &fakeNotifier{}, &memStore{})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.CheckNow(context.Background())
		}()
	}
	wg.Wait()

	if r.overlap.Load() {
		t.Error("two pipeline runs overlapped; the check lock is broken")
	}
}

func TestStatusAndReset(t *testing.T) {
	s := &memStore{rec: watch.Record{LastState: classify.StateHasTasks, LastCheckedAt: 99, Streak: 2}, has: true}
	w := newTestWatcher(&fakeRenderer{}, &fakeNotifier{}, s)
	ctx := context.Background()

	st := w.Status(ctx)
	if st.LastCheckedAt != 99 || st.LastState != classify.StateHasTasks || st.Streak != 2 {
		t.Errorf("Status: got %+v", st)
	}

	rec, err := w.Reset(ctx)
	if err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if rec != watch.ZeroRecord() {
		t.Errorf("Reset returned %+v, want zero record", rec)
	}
	if got := w.Status(ctx); got.LastCheckedAt != 0 || got.Streak != 0 {
		t.Errorf("Status after reset: got %+v", got)
	}
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	r := &fakeRenderer{snaps: []*render.Snapshot{{Text: "no tasks available"}}}
	w := New(r, &fakeNotifier{}, &memStore{}, Options{
		PageURL:      "https://example.com",
		Interval:     10 * time.Millisecond,
		StartupDelay: time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after context cancellation")
	}
}
