// Package taskwatch watches a single authenticated dashboard page for the
// appearance of new tasks. It renders the page in headless Chrome on a
// fixed interval, classifies the visible text, debounces the positive
// signal against noise (streak threshold, content-hash change, first-run
// suppression), and alerts through Telegram at most once per genuine event.
//
// taskwatch decides, collaborators do the I/O: the renderer fetches text,
// the store persists the observation record, the notifier delivers alerts.
package taskwatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/taskwatch/internal/classify"
	"github.com/hazyhaar/taskwatch/internal/notify"
	"github.com/hazyhaar/taskwatch/internal/render"
	"github.com/hazyhaar/taskwatch/internal/store"
	"github.com/hazyhaar/taskwatch/internal/watch"
)

// Renderer fetches the monitored page and returns its rendered state.
type Renderer interface {
	Fetch(ctx context.Context) (*render.Snapshot, error)
}

// Store persists the observation record and the check log.
type Store interface {
	Load(ctx context.Context) watch.Record
	Save(ctx context.Context, rec watch.Record) error
	Reset(ctx context.Context) (watch.Record, error)
	AppendLog(ctx context.Context, e store.LogEntry)
	RecentLog(ctx context.Context, limit int) ([]store.LogEntry, error)
}

// Options configures the watcher.
type Options struct {
	// PageURL is included in task alerts so the recipient can jump
	// straight to the dashboard.
	PageURL string
	// Interval between scheduled checks. Default: 5m.
	Interval time.Duration
	// StartupDelay before the first check. Default: 3s.
	StartupDelay time.Duration
	// Policy tunes the debounce gates.
	Policy watch.Policy
	// ExcerptMax bounds the check-log excerpt. Default: 400 bytes.
	ExcerptMax int
	// LogRetention prunes check-log rows older than this. Default: 7 days.
	LogRetention time.Duration

	Logger *slog.Logger
}

func (o *Options) defaults() {
	if o.Interval <= 0 {
		o.Interval = 5 * time.Minute
	}
	if o.StartupDelay <= 0 {
		o.StartupDelay = 3 * time.Second
	}
	if o.ExcerptMax <= 0 {
		o.ExcerptMax = 400
	}
	if o.LogRetention <= 0 {
		o.LogRetention = 7 * 24 * time.Hour
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// CheckResult is the outcome of one pipeline run, returned by the manual
// check path and logged by the scheduled one.
type CheckResult struct {
	OK       bool           `json:"ok"`
	Status   classify.State `json:"status,omitempty"`
	Changed  bool           `json:"changed"`
	Notified bool           `json:"notified"`
	Streak   int            `json:"streak"`
	FirstRun bool           `json:"first_run"`
	Time     time.Time      `json:"time"`
	Err      string         `json:"error,omitempty"`
}

// Status is the admin-facing state summary.
type Status struct {
	LastCheckedAt int64          `json:"last_checked_at"`
	LastState     classify.State `json:"last_state"`
	Streak        int            `json:"streak"`
}

// Watcher runs the check pipeline. The record is shared mutable state with
// no transactional storage underneath, so the whole
// fetch→classify→decide→persist sequence holds one lock: the timer and the
// manual trigger serialize through it and can never race.
type Watcher struct {
	renderer Renderer
	notifier notify.Notifier
	store    Store
	opts     Options
	rules    []classify.Rule
	log      *slog.Logger

	mu sync.Mutex // guards the full check pipeline
}

// New creates a Watcher.
func New(renderer Renderer, notifier notify.Notifier, st Store, opts Options) *Watcher {
	opts.defaults()
	if notifier == nil {
		notifier = notify.NewLog(opts.Logger)
	}
	return &Watcher{
		renderer: renderer,
		notifier: notifier,
		store:    st,
		opts:     opts,
		rules:    classify.DefaultRules(),
		log:      opts.Logger,
	}
}

// CheckNow executes one pipeline run synchronously and returns its outcome.
// Callers block for the full render latency (tens of seconds) plus any wait
// for an in-flight check to release the lock.
func (w *Watcher) CheckNow(ctx context.Context) *CheckResult {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.checkLocked(ctx)
}

func (w *Watcher) checkLocked(ctx context.Context) *CheckResult {
	started := time.Now()
	prev := w.store.Load(ctx)

	snap, err := w.renderer.Fetch(ctx)
	if err != nil {
		// Render failures never touch the record; the next tick retries.
		w.log.Error("check: render failed", "error", err)
		w.notifier.Send(ctx, fmt.Sprintf("⚠️ Task watcher error: %v", err))
		w.store.AppendLog(ctx, store.LogEntry{
			Status:     classify.StateUnknown,
			DurationMS: time.Since(started).Milliseconds(),
			Error:      err.Error(),
			CheckedAt:  started.UnixMilli(),
		})
		return &CheckResult{OK: false, Time: started, Err: err.Error(), Streak: prev.Streak}
	}

	state := classify.ClassifyWith(w.rules, snap.Text)
	next, out := watch.Decide(prev, state, snap.Text, started, w.opts.Policy)

	if err := w.store.Save(ctx, next); err != nil {
		// A persistence failure costs durability, not the check.
		w.log.Error("check: save state failed", "error", err)
	}

	switch {
	case out.LoginAlert:
		// Operational failure, alerted unconditionally: without a valid
		// cookie every future check is blind.
		w.notifier.Send(ctx, "⚠️ <b>Task watcher</b>: login required — the session cookie has likely expired. Update it and restart.")
	case out.Notify:
		w.notifier.Send(ctx, fmt.Sprintf("🔔 <b>Task watcher</b>: signs of <b>new tasks</b>. Take a look: %s", w.opts.PageURL))
	}

	w.store.AppendLog(ctx, store.LogEntry{
		Status:     state,
		Hash:       out.Hash,
		Changed:    out.Changed,
		Notified:   out.Notify,
		DurationMS: time.Since(started).Milliseconds(),
		Excerpt:    render.Excerpt(snap.HTML, w.opts.ExcerptMax),
		CheckedAt:  started.UnixMilli(),
	})

	w.log.Info("check: completed",
		"status", state, "changed", out.Changed, "streak", out.Streak,
		"notified", out.Notify, "first_run", out.FirstRun,
		"duration", time.Since(started))

	return &CheckResult{
		OK:       state != classify.StateLoginRequired,
		Status:   state,
		Changed:  out.Changed,
		Notified: out.Notify,
		Streak:   out.Streak,
		FirstRun: out.FirstRun,
		Time:     started,
	}
}

// Run drives scheduled checks: one shortly after startup, then one per
// interval, forever. A failed iteration is logged and the loop keeps going;
// only ctx cancellation stops it.
func (w *Watcher) Run(ctx context.Context) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(w.opts.StartupDelay):
	}

	w.runOnce(ctx)

	ticker := time.NewTicker(w.opts.Interval)
	defer ticker.Stop()
	prune := time.NewTicker(24 * time.Hour)
	defer prune.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.runOnce(ctx)
		case <-prune.C:
			w.pruneLog(ctx)
		}
	}
}

func (w *Watcher) runOnce(ctx context.Context) {
	res := w.CheckNow(ctx)
	if !res.OK && res.Err != "" {
		w.log.Warn("scheduled check failed", "error", res.Err)
	}
}

func (w *Watcher) pruneLog(ctx context.Context) {
	type pruner interface {
		PruneLog(ctx context.Context, keep time.Duration) (int64, error)
	}
	p, ok := w.store.(pruner)
	if !ok {
		return
	}
	n, err := p.PruneLog(ctx, w.opts.LogRetention)
	if err != nil {
		w.log.Warn("check log prune failed", "error", err)
		return
	}
	if n > 0 {
		w.log.Debug("check log pruned", "removed", n)
	}
}

// Status returns the persisted state summary. Reads the store directly and
// does not wait for the pipeline lock, so status stays responsive while a
// slow render is in flight.
func (w *Watcher) Status(ctx context.Context) Status {
	rec := w.store.Load(ctx)
	return Status{
		LastCheckedAt: rec.LastCheckedAt,
		LastState:     rec.LastState,
		Streak:        rec.Streak,
	}
}

// Reset replaces the record with its zero value and persists it. Takes the
// pipeline lock so it cannot interleave with a check half-way through.
func (w *Watcher) Reset(ctx context.Context) (watch.Record, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.store.Reset(ctx)
}

// RecentLog exposes the check log for the admin surface.
func (w *Watcher) RecentLog(ctx context.Context, limit int) ([]store.LogEntry, error) {
	return w.store.RecentLog(ctx, limit)
}
