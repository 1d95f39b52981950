package watch

import (
	"time"

	"github.com/hazyhaar/taskwatch/internal/classify"
)

// Policy tunes the debounce behaviour.
type Policy struct {
	// StreakMin is how many consecutive HasTasks checks are required
	// before a notification may fire. Default: 2.
	StreakMin int
	// NotifyFirstRun allows a notification on the very first check ever.
	// Default off: with no history, a cold start would otherwise alert on
	// whatever happens to be on the page.
	NotifyFirstRun bool
}

func (p *Policy) defaults() {
	if p.StreakMin <= 0 {
		p.StreakMin = 2
	}
}

// Outcome is the verdict of one decision.
type Outcome struct {
	// Notify is true when a task notification should be sent now.
	Notify bool `json:"notify"`
	// LoginAlert is true when the page showed a login wall. This is an
	// operational failure (expired cookie), alerted unconditionally and
	// independent of the debounce gates.
	LoginAlert bool `json:"login_alert"`
	// Changed is true when the content fingerprint differs from the last
	// classifiable observation. Always false for Unknown results.
	Changed bool `json:"changed"`
	// Hash is the fingerprint of the observed text.
	Hash string `json:"hash"`
	// FirstRun is true when this was the first completed check ever.
	FirstRun bool `json:"first_run"`
	// Streak is the positive streak after this observation.
	Streak int `json:"streak"`
}

// Decide folds one classification result into the previous record.
// Pure and deterministic: same inputs, same outputs, no I/O.
//
// The notify verdict requires all gates at once: a positive state, a streak
// of at least StreakMin (suppresses one-off flaky positives), real content
// change (suppresses repeats of the same unchanged listing), and not the
// first run unless explicitly allowed.
func Decide(prev Record, state classify.State, rawText string, now time.Time, p Policy) (Record, Outcome) {
	p.defaults()

	hash := Fingerprint(rawText)
	firstRun := prev.FirstRun()

	// An Unknown result carries no trustworthy signal: it neither counts
	// as change nor may it overwrite a previously trusted fingerprint.
	changed := state != classify.StateUnknown && hash != prev.LastHash

	streak := 0
	if state == classify.StateHasTasks {
		streak = prev.Streak + 1
	}

	notify := state == classify.StateHasTasks &&
		streak >= p.StreakMin &&
		changed &&
		(p.NotifyFirstRun || !firstRun)

	next := prev
	if state != classify.StateUnknown {
		next.LastHash = hash
	}
	next.LastState = state
	next.LastCheckedAt = now.UnixMilli()
	next.Streak = streak

	return next, Outcome{
		Notify:     notify,
		LoginAlert: state == classify.StateLoginRequired,
		Changed:    changed,
		Hash:       hash,
		FirstRun:   firstRun,
		Streak:     streak,
	}
}
