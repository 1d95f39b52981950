// Package classify maps rendered page text to a semantic state via an
// ordered phrase-rule table. Rules are data, not control flow: first rule
// with a matching phrase wins, no rule matches means Unknown.
package classify

import "strings"

// State is the classifier's belief about what the page currently shows.
type State string

const (
	// StateLoginRequired means the page shows a login wall. Checked first:
	// a login wall must never be mistaken for an empty task list.
	StateLoginRequired State = "login_required"
	// StateNoTasks means the page explicitly says there is nothing to do.
	StateNoTasks State = "no_tasks"
	// StateHasTasks means the page shows positive evidence of work.
	StateHasTasks State = "has_tasks"
	// StateUnknown means the text carried no decisive marker.
	StateUnknown State = "unknown"
)

// Valid reports whether s is one of the four known states.
func (s State) Valid() bool {
	switch s {
	case StateLoginRequired, StateNoTasks, StateHasTasks, StateUnknown:
		return true
	}
	return false
}

// Rule binds a target state to the phrases that indicate it. Matching is
// case-insensitive substring search.
type Rule struct {
	State   State
	Phrases []string
}

// DefaultRules returns the rule table in priority order. Phrase sets mirror
// the markers observed on the monitored dashboard; extend the slices, not
// the matcher, when the page wording changes.
func DefaultRules() []Rule {
	return []Rule{
		{State: StateLoginRequired, Phrases: []string{
			"sign in",
			"log in",
			"continue with google",
			"next-auth",
		}},
		{State: StateNoTasks, Phrases: []string{
			"no tasks available",
			"there are no tasks",
			"you have no tasks",
		}},
		{State: StateHasTasks, Phrases: []string{
			"start task",
			"continue task",
			"available tasks",
			"accept task",
			"project details",
			"assigned to you",
		}},
	}
}

// Classify runs the default rule table over text.
func Classify(text string) State {
	return ClassifyWith(DefaultRules(), text)
}

// ClassifyWith returns the state of the first rule with a phrase contained
// in text, or StateUnknown. Pure function, no side effects.
//
// Ambiguous boilerplate (the dashboard always shows "current project", even
// when empty) deliberately falls through to StateUnknown rather than a
// guessed positive: a wrong Unknown costs one polling interval, a wrong
// HasTasks costs a false alert.
func ClassifyWith(rules []Rule, text string) State {
	low := strings.ToLower(text)
	for _, rule := range rules {
		for _, phrase := range rule.Phrases {
			if phrase != "" && strings.Contains(low, phrase) {
				return rule.State
			}
		}
	}
	return StateUnknown
}
