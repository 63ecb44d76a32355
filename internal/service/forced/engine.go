// Package forced implements the ForcedCommitEngine described in spec §4.5: it holds at
// most one forced-final buffer that is not yet committed. A later partial can extend it,
// or a recovery pass can supersede it; only the SegmentStateMachine decides to commit.
package forced

import (
	"sync"
	"time"

	"caption-relay/internal/textnorm"
)

// Config holds the forced-commit timing bounds (spec §6 Configuration: "Forced commit").
type Config struct {
	// CaptureWindow is how long a forced final stays buffered awaiting extension or
	// recovery before the state machine may commit it as-is, e.g. 2200ms.
	CaptureWindow time.Duration
}

// DefaultConfig returns the value named as an example in spec §4.5/§5.
func DefaultConfig() Config {
	return Config{CaptureWindow: 2200 * time.Millisecond}
}

// Buffer is the immutable-from-outside view of the current forced-final buffer.
type Buffer struct {
	Text                  string
	Timestamp             time.Time
	LastCommittedOriginal string
	LastCommittedAt       time.Time
	RecoveryInProgress    bool
	RecoveryEpoch         int
}

// Engine holds at most one forcedFinalBuffer.
type Engine struct {
	mu     sync.Mutex
	cfg    Config
	buffer *Buffer
}

// New creates an Engine with the given configuration.
func New(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// CreateBuffer opens a new forced-final buffer. prevOriginal/prevTimestamp seed the
// dedup baseline so a later commit step can strip overlap against the last commit.
func (e *Engine) CreateBuffer(text string, now time.Time, prevOriginal string, prevTimestamp time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.buffer = &Buffer{
		Text:                  text,
		Timestamp:             now,
		LastCommittedOriginal: prevOriginal,
		LastCommittedAt:       prevTimestamp,
	}
}

// Buffer returns a copy of the current forced-final buffer, or nil if none is open.
func (e *Engine) Buffer() *Buffer {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.buffer == nil {
		return nil
	}
	cp := *e.buffer
	return &cp
}

// CheckPartialExtendsForcedFinal reports whether partial extends the buffered forced
// text (fold-normalized prefix match, strictly longer), returning the extended text and
// the suffix that was added. If there is no open buffer or partial does not extend it,
// ok is false.
func (e *Engine) CheckPartialExtendsForcedFinal(partial string, now time.Time) (extendedText, addedSuffix string, ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.buffer == nil {
		return "", "", false
	}
	if len([]rune(partial)) <= len([]rune(e.buffer.Text)) {
		return "", "", false
	}
	if !textnorm.HasPrefixFold(partial, e.buffer.Text) {
		return "", "", false
	}
	suffix := partial[len(e.buffer.Text):]
	e.buffer.Text = partial
	e.buffer.Timestamp = now
	return partial, suffix, true
}

// IsNewSegment reports whether partial should be treated as belonging to a new segment
// rather than an extension/continuation of the buffered forced final: true when there is
// no open buffer, or when partial neither extends the buffer nor is a prefix of it
// (fold-normalized prefix match either way).
func (e *Engine) IsNewSegment(partial string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.buffer == nil {
		return true
	}
	if len([]rune(partial)) <= len([]rune(e.buffer.Text)) {
		return !textnorm.HasPrefixFold(e.buffer.Text, partial) && e.buffer.Text != partial
	}
	return !textnorm.HasPrefixFold(partial, e.buffer.Text)
}

// SetRecoveryInProgress toggles the recovery flag on the open buffer and, when turning
// recovery on, bumps RecoveryEpoch so a later-returning stale recovery pass can be
// detected and ignored (spec invariant 4, recovery dominance).
func (e *Engine) SetRecoveryInProgress(inProgress bool) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.buffer == nil {
		return 0
	}
	e.buffer.RecoveryInProgress = inProgress
	if inProgress {
		e.buffer.RecoveryEpoch++
	}
	return e.buffer.RecoveryEpoch
}

// CurrentEpoch returns the open buffer's recovery epoch, or 0 if no buffer is open.
func (e *Engine) CurrentEpoch() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.buffer == nil {
		return 0
	}
	return e.buffer.RecoveryEpoch
}

// EpochStillValid reports whether epoch matches the buffer's current RecoveryEpoch,
// i.e. no newer recovery pass has superseded it since epoch was captured.
func (e *Engine) EpochStillValid(epoch int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.buffer == nil {
		return false
	}
	return e.buffer.RecoveryEpoch == epoch
}

// CaptureWindow returns the configured capture window duration.
func (e *Engine) CaptureWindow() time.Duration {
	return e.cfg.CaptureWindow
}

// CaptureWindowExpired reports whether CaptureWindow has elapsed since the buffer was
// created (or last extended).
func (e *Engine) CaptureWindowExpired(now time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.buffer == nil {
		return false
	}
	return now.Sub(e.buffer.Timestamp) >= e.cfg.CaptureWindow
}

// ClearBuffer drops the forced-final buffer entirely.
func (e *Engine) ClearBuffer() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.buffer = nil
}
