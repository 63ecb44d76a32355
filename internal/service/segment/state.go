// Package segment provides the Segment data model and the SegmentStateMachine that
// owns its lifecycle (spec §3, §4.6): six states from first partial to committed (or
// dropped) history.
package segment

import (
	"errors"
	"fmt"
)

// State represents the lifecycle state of a segment.
type State int

const (
	// StateOpen - no final candidate yet, only partials have arrived.
	StateOpen State = iota
	// StateFinalCandidate - a final hypothesis is pending commit.
	StateFinalCandidate
	// StateForcedBuffered - a forced final is buffered, not yet committed.
	StateForcedBuffered
	// StateRecovering - a recovery pass is in flight over a forced-buffered segment.
	StateRecovering
	// StateCommitted - terminal; exactly one final event has been published.
	StateCommitted
	// StateDropped - terminal; segment abandoned, no final event published.
	// "Silence > bad data" - better to emit nothing than incorrect/incomplete data.
	StateDropped
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateOpen:
		return "OPEN"
	case StateFinalCandidate:
		return "FINAL_CANDIDATE"
	case StateForcedBuffered:
		return "FORCED_BUFFERED"
	case StateRecovering:
		return "RECOVERING"
	case StateCommitted:
		return "COMMITTED"
	case StateDropped:
		return "DROPPED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(s))
	}
}

// IsTerminal returns true if the state is terminal (COMMITTED or DROPPED). No floating
// segments: opening a new segment requires the prior one to reach a terminal state
// first (spec invariant 5).
func (s State) IsTerminal() bool {
	return s == StateCommitted || s == StateDropped
}

// Errors naming invalid transition attempts. These are programmer-error guards,
// not the STT/translation error taxonomy from spec §7. No Machine method returns
// them: Machine ignores such calls instead.
var (
	ErrSegmentTerminal      = errors.New("segment: already in a terminal state")
	ErrAlreadyCommitted     = errors.New("segment: already committed")
	ErrRecoveryDominance    = errors.New("segment: cannot commit while recovery is in progress")
	ErrOpenRequiresPriorEnd = errors.New("segment: cannot open a new segment while one is not terminal")
)
