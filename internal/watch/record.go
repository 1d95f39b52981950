// Package watch holds the observation record and the pure decision engine
// that turns a classification result into an updated record plus a notify
// verdict. No I/O happens here; persistence and delivery live elsewhere.
package watch

import (
	"crypto/sha256"
	"fmt"

	"github.com/hazyhaar/taskwatch/internal/classify"
)

// Record is the single persisted observation state. Exactly one exists per
// process; the Watcher owns it behind its pipeline lock and mirrors it to
// the store after every check.
type Record struct {
	// LastHash is the content fingerprint of the last classifiable
	// (non-Unknown) observation. Empty before the first one.
	LastHash string `json:"last_hash"`
	// LastState is the most recent classification, Unknown included.
	LastState classify.State `json:"last_state"`
	// LastCheckedAt is unix milliseconds of the last completed check.
	// 0 means no check has ever completed.
	LastCheckedAt int64 `json:"last_checked_at"`
	// Streak counts consecutive HasTasks classifications.
	Streak int `json:"streak"`
}

// ZeroRecord is the state of a fresh or reset watcher.
func ZeroRecord() Record {
	return Record{LastState: classify.StateUnknown}
}

// FirstRun reports whether no check has ever completed.
func (r Record) FirstRun() bool {
	return r.LastCheckedAt == 0
}

// Fingerprint hashes page text for change detection. Stable across runs for
// identical text; collisions are acceptable (a missed change costs one
// notification, not correctness).
func Fingerprint(text string) string {
	sum := sha256.Sum256([]byte(text))
	return fmt.Sprintf("%x", sum)
}
