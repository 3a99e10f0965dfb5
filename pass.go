package gantry

import "time"

// PassOutcome is the terminal state of one rebuild pass.
type PassOutcome uint8

const (
	PassPromoted  PassOutcome = iota + 1 // staged config validated, promoted, reload signalled
	PassUnchanged                        // staged output matched live config; nothing to do
	PassDiscarded                        // validation failed; live config untouched
	PassFailed                           // pass aborted before a candidate config existed
)

func (o PassOutcome) String() string {
	switch o {
	case PassPromoted:
		return "promoted"
	case PassUnchanged:
		return "unchanged"
	case PassDiscarded:
		return "discarded"
	case PassFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// PassReport summarizes one full-rebuild pass.
type PassReport struct {
	StartedAt time.Time
	Duration  time.Duration
	Trigger   string // "startup", "start", "stop", "die", "manual"
	Routes    int    // routes materialized by this pass
	Skipped   int    // containers excluded or failed extraction
	Outcome   PassOutcome
	Detail    string // validation output or error text, empty on success
}

// Failed reports whether the pass left the live configuration stale.
func (r PassReport) Failed() bool {
	return r.Outcome == PassDiscarded || r.Outcome == PassFailed
}

// Status is a snapshot of the watcher loop.
type Status struct {
	Network   string
	Watching  bool
	Passes    int // total passes since start
	Promoted  int
	Unchanged int
	Failed    int // discarded + failed
	LastPass  *PassReport
	Routes    []Route // active route set from the most recent pass
}
