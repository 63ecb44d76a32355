// Package partial implements the PartialTracker described in spec §4.1: it tracks,
// for the currently open segment, the most recent and the longest partial hypothesis
// seen so far, so the finalizer can substitute a short final for a longer captured one.
package partial

import (
	"time"

	"caption-relay/internal/textnorm"
)

// Snapshot is a partial hypothesis with its arrival time.
type Snapshot struct {
	Text      string
	Arrived   time.Time
}

// Tracker holds the latest and longest partial for the currently open segment.
// It is owned exclusively by a single SegmentStateMachine (spec §3 Ownership) and is
// not safe for concurrent use — all mutation happens on the session's serial loop.
type Tracker struct {
	latest  Snapshot
	longest Snapshot
}

// New creates an empty Tracker.
func New() *Tracker {
	return &Tracker{}
}

// Update records a newly-arrived partial as the latest, and as the longest iff it is
// strictly longer (by rune count) than the current longest.
func (t *Tracker) Update(text string, now time.Time) {
	t.latest = Snapshot{Text: text, Arrived: now}
	if len([]rune(text)) > len([]rune(t.longest.Text)) {
		t.longest = Snapshot{Text: text, Arrived: now}
	}
}

// Latest returns the most recently observed partial.
func (t *Tracker) Latest() Snapshot { return t.latest }

// Longest returns the longest partial observed since the last Reset.
func (t *Tracker) Longest() Snapshot { return t.longest }

// CheckLongestExtends returns the longest partial's text when it starts with finalText
// (fold-normalized) and is both strictly longer and fresher than maxAge. Otherwise it
// returns ("", false).
func (t *Tracker) CheckLongestExtends(finalText string, maxAge time.Duration, now time.Time) (string, bool) {
	return checkExtends(t.longest, finalText, maxAge, now)
}

// CheckLatestExtends is CheckLongestExtends applied to the latest partial.
func (t *Tracker) CheckLatestExtends(finalText string, maxAge time.Duration, now time.Time) (string, bool) {
	return checkExtends(t.latest, finalText, maxAge, now)
}

func checkExtends(snap Snapshot, finalText string, maxAge time.Duration, now time.Time) (string, bool) {
	if snap.Text == "" {
		return "", false
	}
	if len([]rune(snap.Text)) <= len([]rune(finalText)) {
		return "", false
	}
	if !textnorm.HasPrefixFold(snap.Text, finalText) {
		return "", false
	}
	if maxAge > 0 && now.Sub(snap.Arrived) > maxAge {
		return "", false
	}
	return snap.Text, true
}

// Reset clears both the latest and longest partial, used on segment boundaries
// (commit or drop) so no state leaks across segments (spec §9, "implicit global state").
func (t *Tracker) Reset() {
	t.latest = Snapshot{}
	t.longest = Snapshot{}
}
