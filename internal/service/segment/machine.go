package segment

import (
	"sync"
	"time"

	"caption-relay/internal/models"
	"caption-relay/internal/service/dedup"
	"caption-relay/internal/service/finalize"
	"caption-relay/internal/service/forced"
	"caption-relay/internal/service/partial"
	"caption-relay/internal/service/sentence"
	"caption-relay/internal/textnorm"
)

// Config holds the SegmentStateMachine's own tunables (spec §4.6, §6 "Finalization").
type Config struct {
	// NewSegmentPartialThreshold is the rune-length a partial must exceed, with no
	// pending candidate or forced buffer open, before it seeds an anticipatory
	// finalization (the "new-segment partial rule").
	NewSegmentPartialThreshold int
	// NewSegmentBaseWait is the base passed to FinalizationEngine.CalculateWaitTime
	// for that anticipatory finalization, e.g. 1500ms.
	NewSegmentBaseWait time.Duration
	// PartialExtendMaxAge bounds how fresh a partial must be to be allowed to extend
	// a pending candidate or forced buffer at commit time (PartialTracker checks).
	PartialExtendMaxAge time.Duration
	// SegmentBreakWindow is SEGMENT_BREAK_MS (spec §4.6 FINAL_CANDIDATE): a later
	// partial that does not extend the pending candidate and arrives more than this
	// long after CandidateAt commits the candidate and opens a new segment instead of
	// being folded into the stale candidate's live line.
	SegmentBreakWindow time.Duration
}

// DefaultConfig returns the values named as examples in spec §4.6.
func DefaultConfig() Config {
	return Config{
		NewSegmentPartialThreshold: 15,
		NewSegmentBaseWait:         1500 * time.Millisecond,
		PartialExtendMaxAge:        3000 * time.Millisecond,
		SegmentBreakWindow:         600 * time.Millisecond,
	}
}

// RecoverFunc abstracts the recovery source referenced in spec §9 ("recovery source
// is abstract"): given the buffered forced text, it returns a corrected variant. The
// core never knows whether this is a grammar model, a second STT pass, or a no-op.
type RecoverFunc func(text string) (string, error)

// Machine is the SegmentStateMachine of spec §4.6. One Machine owns exactly one
// Segment at a time for a session; on commit/drop it opens the next one. It is NOT
// safe for concurrent use except for the internal mutex guarding the atomic commit
// step (spec invariant 7) — all calls are expected to come from a single session's
// serial event loop (spec §5).
type Machine struct {
	cfg Config

	sessionID  string
	sourceLang string

	idGen  *IDGenerator
	seqGen *SeqGenerator

	tracker     *partial.Tracker
	deduper     *dedup.Deduplicator
	sentenceSeg *sentence.Segmenter
	finalizer   *finalize.Engine
	forcedEng   *forced.Engine

	commitMu sync.Mutex

	current *Segment

	lastCommittedOriginal string
	lastCommittedAt       time.Time

	captureTimer *time.Timer

	onEvent     func(models.CaptionEvent)
	onCommitted func(*Segment)
	onDropped   func(*Segment)
}

// Deps bundles the leaf components a Machine is built from, so callers can share a
// single IDGenerator/SeqGenerator across every Machine in a session while giving each
// Machine its own PartialTracker/Deduplicator/SentenceSegmenter/FinalizationEngine/
// ForcedCommitEngine (per spec §3 ownership: these are exclusive to one machine). The
// Machine reuses them for each segment it opens, resetting them at every commit.
type Deps struct {
	IDGen       *IDGenerator
	SeqGen      *SeqGenerator
	Tracker     *partial.Tracker
	Deduper     *dedup.Deduplicator
	SentenceSeg *sentence.Segmenter
	Finalizer   *finalize.Engine
	ForcedEng   *forced.Engine
	OnEvent     func(models.CaptionEvent)
	OnCommitted func(*Segment)
	OnDropped   func(*Segment)
}

// New creates a Machine for sessionID/sourceLang and opens its first segment.
func New(cfg Config, sessionID, sourceLang string, deps Deps, now time.Time) *Machine {
	m := &Machine{
		cfg:         cfg,
		sessionID:   sessionID,
		sourceLang:  sourceLang,
		idGen:       deps.IDGen,
		seqGen:      deps.SeqGen,
		tracker:     deps.Tracker,
		deduper:     deps.Deduper,
		sentenceSeg: deps.SentenceSeg,
		finalizer:   deps.Finalizer,
		forcedEng:   deps.ForcedEng,
		onEvent:     deps.OnEvent,
		onCommitted: deps.OnCommitted,
		onDropped:   deps.OnDropped,
	}
	m.openNewSegment(now)
	return m
}

// Current returns a copy of the currently owned segment.
func (m *Machine) Current() *Segment {
	return m.current.Clone()
}

// State returns the current segment's state.
func (m *Machine) State() State {
	return m.current.State
}

func (m *Machine) openNewSegment(now time.Time) {
	// Invariant 5: opening a new segment requires the prior one to already be
	// terminal. The caller (commit/drop) always reaches a terminal state first.
	m.tracker.Reset()
	m.sentenceSeg.Reset()
	m.finalizer.Clear()
	m.forcedEng.ClearBuffer()
	m.stopCaptureTimer()
	m.current = &Segment{
		ID:        m.idGen.Next(m.sessionID),
		SessionID: m.sessionID,
		State:     StateOpen,
		CreatedAt: now,
	}
}

// HandlePartial feeds a streaming partial hypothesis into the machine.
func (m *Machine) HandlePartial(text string, now time.Time) {
	m.tracker.Update(text, now)
	res := m.sentenceSeg.ProcessPartial(text)

	switch m.current.State {
	case StateOpen:
		// Each sentence SentenceSegmenter just flushed commits immediately as its own
		// micro-segment (own SourceSeqId), OPEN then continues on the residual live
		// text (spec §4.6 OPEN, §4.3 rationale for sentence-by-sentence early commit).
		for _, sent := range res.FlushedSentences {
			m.commitFlushedSentence(sent, now)
		}
		m.emitPartial(res.LiveText, now)
		if m.finalizer.Pending() == nil && len([]rune(text)) > m.cfg.NewSegmentPartialThreshold {
			m.finalizer.Create(text, now)
			m.current.State = StateFinalCandidate
			m.current.CandidateAt = now
			m.current.PartialSnapshot = text
			m.assignSourceSeqID()
			wait := m.finalizer.CalculateWaitTime(text, m.cfg.NewSegmentBaseWait)
			m.finalizer.ScheduleCommit(wait, now, m.onFinalizeTimerFire)
		}

	case StateFinalCandidate:
		pending := m.finalizer.Pending()
		if pending == nil {
			m.emitPartial(res.LiveText, now)
			return
		}
		extended, ok := m.tracker.CheckLongestExtends(pending.Text, m.cfg.PartialExtendMaxAge, now)
		if !ok {
			extended, ok = m.tracker.CheckLatestExtends(pending.Text, m.cfg.PartialExtendMaxAge, now)
		}
		if ok {
			m.finalizer.UpdateText(extended, now)
			m.current.PartialSnapshot = extended
			wait := m.finalizer.CalculateWaitTime(extended, m.finalizer.BaseWaitFor(extended))
			m.finalizer.ScheduleCommit(wait, now, m.onFinalizeTimerFire)
			m.emitPartial(res.LiveText, now)
			return
		}
		// SEGMENT_BREAK_MS (spec §4.6): a non-extending partial arriving well after
		// the candidate opened belongs to the next utterance, not this one's live
		// line — commit the stale candidate now and open a new segment with it.
		if now.Sub(m.current.CandidateAt) > m.cfg.SegmentBreakWindow {
			m.commitCandidate(now)
			m.HandlePartial(text, now)
			return
		}
		m.emitPartial(res.LiveText, now)

	case StateForcedBuffered:
		extended, _, ok := m.forcedEng.CheckPartialExtendsForcedFinal(text, now)
		if ok {
			m.current.PartialSnapshot = extended
			m.armCaptureTimer(now)
			m.emitPartial(res.LiveText, now)
			return
		}
		if m.forcedEng.IsNewSegment(text) {
			// Invariant 5: cannot open a new segment while this one is not
			// terminal, so the buffered forced final commits now.
			m.commitForced(now)
			m.HandlePartial(text, now)
			return
		}
		m.emitPartial(res.LiveText, now)

	case StateRecovering:
		// Recovery dominance (invariant 4): grammar-only refinement from ordinary
		// partials cannot commit while a recovery pass is in flight. The tracker
		// still records it in case recovery returns stale and falls back.
		m.emitPartial(res.LiveText, now)

	case StateCommitted, StateDropped:
		// Terminal; callers are expected to have already opened the next segment,
		// but tolerate a stray late callback by starting one now.
		m.openNewSegment(now)
		m.HandlePartial(text, now)
	}
}

// HandleFinal feeds a non-forced STT final hypothesis (transcription_completed) into
// the machine.
func (m *Machine) HandleFinal(text string, now time.Time) {
	switch m.current.State {
	case StateOpen:
		m.sentenceSeg.ProcessFinal(text, false)
		base := m.finalizer.BaseWaitFor(text)
		m.finalizer.Create(text, now)
		m.current.State = StateFinalCandidate
		m.current.CandidateAt = now
		m.current.PartialSnapshot = text
		m.assignSourceSeqID()
		wait := m.finalizer.CalculateWaitTime(text, base)
		m.finalizer.ScheduleCommit(wait, now, m.onFinalizeTimerFire)

	case StateFinalCandidate:
		pending := m.finalizer.Pending()
		if pending != nil && !extendsText(text, pending.Text) {
			// Spec §4.6 FINAL_CANDIDATE: a final that does not extend the pending
			// candidate commits it first, then is handled as a fresh segment.
			m.commitCandidate(now)
			m.HandleFinal(text, now)
			return
		}
		m.sentenceSeg.ProcessFinal(text, false)
		m.finalizer.UpdateText(text, now)
		m.current.PartialSnapshot = text
		base := m.finalizer.BaseWaitFor(text)
		wait := m.finalizer.CalculateWaitTime(text, base)
		m.finalizer.ScheduleCommit(wait, now, m.onFinalizeTimerFire)

	case StateForcedBuffered, StateRecovering:
		// An ordinary final arriving while a forced final is still buffered or
		// under recovery is treated as the continuation text for the same
		// segment; it does not pre-empt recovery dominance.
		m.current.PartialSnapshot = text

	case StateCommitted, StateDropped:
		m.openNewSegment(now)
		m.HandleFinal(text, now)
	}
}

// HandleForcedFinal feeds a forced final (pause/end/forceCommit from the STT pool)
// into the machine. Forced segments are candidates, never directly COMMITTED (spec
// invariant 3) — they are buffered for the capture window before the state machine
// decides to commit them.
func (m *Machine) HandleForcedFinal(text string, now time.Time) {
	switch m.current.State {
	case StateOpen, StateFinalCandidate:
		m.finalizer.Clear()
		m.forcedEng.CreateBuffer(text, now, m.lastCommittedOriginal, m.lastCommittedAt)
		m.current.State = StateForcedBuffered
		m.current.Forced = true
		m.current.CandidateAt = now
		m.current.PartialSnapshot = text
		m.assignSourceSeqID()
		m.armCaptureTimer(now)

	case StateForcedBuffered:
		m.forcedEng.CreateBuffer(text, now, m.lastCommittedOriginal, m.lastCommittedAt)
		m.current.PartialSnapshot = text
		m.armCaptureTimer(now)

	case StateRecovering:
		// Recovery owns the decision; a second forced signal while recovering
		// does not restart the capture window (invariant 4).

	case StateCommitted, StateDropped:
		m.openNewSegment(now)
		m.HandleForcedFinal(text, now)
	}
}

// BeginRecovery starts a recovery pass over the currently buffered forced text. recover
// runs synchronously from the caller's perspective; callers that need it off the serial
// loop should invoke BeginRecovery from their own goroutine and feed the result back
// through a channel that re-enters HandleRecoveryResult on the loop.
func (m *Machine) BeginRecovery(recover RecoverFunc, now time.Time) {
	if m.current.State != StateForcedBuffered {
		return
	}
	epoch := m.forcedEng.SetRecoveryInProgress(true)
	m.current.State = StateRecovering
	m.current.RecoveryEpoch = epoch
	m.stopCaptureTimer()

	buf := m.forcedEng.Buffer()
	if buf == nil {
		return
	}
	text, err := recover(buf.Text)
	if err != nil {
		m.HandleRecoveryResult("", epoch, now, err)
		return
	}
	m.HandleRecoveryResult(text, epoch, now, nil)
}

// HandleRecoveryResult delivers the outcome of a recovery pass started by
// BeginRecovery. If epoch no longer matches the buffer's current recovery epoch, a
// newer recovery (or a superseding partial) has already moved the segment on and this
// result is discarded (invariant 4: "if recovery yields a candidate, recovery wins" —
// but only the freshest recovery).
func (m *Machine) HandleRecoveryResult(text string, epoch int, now time.Time, err error) {
	if m.current.State != StateRecovering {
		return
	}
	if !m.forcedEng.EpochStillValid(epoch) {
		return
	}
	m.forcedEng.SetRecoveryInProgress(false)
	m.current.State = StateForcedBuffered
	if err != nil || text == "" {
		m.armCaptureTimer(now)
		return
	}
	// Recovery does not correct the buffered segment in place — it commits as a
	// second, independent segment right after it, deduplicated against the first's
	// trailing text (spec §8 scenario 4: "second segment original is '...'
	// deduplicated against the prior segment's trailing text").
	m.commitForced(now)
	m.current.Forced = true
	m.assignSourceSeqID()
	m.current.PartialSnapshot = text
	m.finishCommit(text, "", now)
}

// onFinalizeTimerFire is invoked by FinalizationEngine's timer. It is the single
// allowed trigger for committing a FINAL_CANDIDATE segment on its own schedule.
func (m *Machine) onFinalizeTimerFire() {
	if m.current.State != StateFinalCandidate {
		return
	}
	m.commitCandidate(time.Now())
}

func (m *Machine) armCaptureTimer(now time.Time) {
	m.stopCaptureTimer()
	buf := m.forcedEng.Buffer()
	if buf == nil {
		return
	}
	// CaptureWindowExpired is computed against buf.Timestamp, so arm for exactly
	// the remaining window from now.
	remaining := buf.Timestamp.Add(m.captureWindow()).Sub(now)
	if remaining < 0 {
		remaining = 0
	}
	m.captureTimer = time.AfterFunc(remaining, m.onCaptureTimerFire)
}

func (m *Machine) stopCaptureTimer() {
	if m.captureTimer != nil {
		m.captureTimer.Stop()
		m.captureTimer = nil
	}
}

func (m *Machine) onCaptureTimerFire() {
	if m.current.State != StateForcedBuffered {
		return
	}
	now := time.Now()
	if !m.forcedEng.CaptureWindowExpired(now) {
		return
	}
	m.commitForced(now)
}

func (m *Machine) captureWindow() time.Duration {
	return m.forcedEng.CaptureWindow()
}

// extendsText reports whether text is prior unchanged, or prior extended with more
// content appended (fold-normalized prefix match, same length or longer).
func extendsText(text, prior string) bool {
	if prior == "" {
		return true
	}
	if len([]rune(text)) < len([]rune(prior)) {
		return false
	}
	return textnorm.HasPrefixFold(text, prior)
}

// commitFlushedSentence commits a sentence the SentenceSegmenter just flushed mid
// utterance as its own micro-segment: its own SourceSeqId, COMMITTED immediately,
// deduplicated against whatever committed before it. The caller continues processing
// the residual live text in the segment this opens.
func (m *Machine) commitFlushedSentence(sentence string, now time.Time) {
	m.current.PartialSnapshot = sentence
	m.finishCommit(sentence, "", now)
}

func (m *Machine) commitCandidate(now time.Time) {
	pending := m.finalizer.Pending()
	if pending == nil {
		return
	}
	text := pending.Text
	if extended, ok := m.tracker.CheckLongestExtends(text, m.cfg.PartialExtendMaxAge, now); ok {
		text = extended
	}
	m.finishCommit(text, "", now)
}

func (m *Machine) commitForced(now time.Time) {
	buf := m.forcedEng.Buffer()
	if buf == nil {
		return
	}
	text := buf.Text
	if extended, ok := m.tracker.CheckLongestExtends(text, m.cfg.PartialExtendMaxAge, now); ok {
		text = extended
	}
	m.finishCommit(text, "", now)
}

// finishCommit performs the atomic commit gate of spec §4.6 / invariant 7: dedup,
// state transition, history update and final-event publication happen as one step
// under commitMu before anything else may observe the segment as COMMITTED.
func (m *Machine) finishCommit(chosenText, correctedText string, now time.Time) {
	m.commitMu.Lock()
	defer m.commitMu.Unlock()

	result := m.deduper.Dedup(chosenText, m.lastCommittedOriginal, m.lastCommittedAt, now)

	m.assignSourceSeqID()
	m.current.OriginalText = result.Text
	m.current.CorrectedText = correctedText
	m.current.State = StateCommitted
	m.current.CommittedAt = now

	m.lastCommittedOriginal = result.Text
	m.lastCommittedAt = now

	m.finalizer.Clear()
	m.forcedEng.ClearBuffer()
	m.stopCaptureTimer()
	m.tracker.Reset()
	m.sentenceSeg.Reset()

	ev := m.buildFinalEvent(now)
	if m.onEvent != nil {
		m.onEvent(ev)
	}
	committed := m.current.Clone()
	m.openNewSegment(now)
	if m.onCommitted != nil {
		m.onCommitted(committed)
	}
}

// Drop abandons the current segment without publishing a final event (spec §7,
// Transient errors past retry budget). It still requires the segment to not already
// be terminal.
func (m *Machine) Drop(now time.Time) {
	if m.current.State.IsTerminal() {
		return
	}
	m.current.State = StateDropped
	dropped := m.current.Clone()
	m.openNewSegment(now)
	if m.onDropped != nil {
		m.onDropped(dropped)
	}
}

func (m *Machine) assignSourceSeqID() {
	if m.current.SourceSeqID == 0 {
		m.current.SourceSeqID = m.seqGen.Next()
	}
}

func (m *Machine) emitPartial(liveText string, now time.Time) {
	if m.onEvent == nil || liveText == "" {
		return
	}
	m.onEvent(models.CaptionEvent{
		Type:         models.EventTypeTranslation,
		EventSeqId:   m.seqGen.Next(),
		IsPartial:    true,
		OriginalText: liveText,
		SourceLang:   m.sourceLang,
		Timestamp:    now.UnixMilli(),
	})
}

func (m *Machine) buildFinalEvent(now time.Time) models.CaptionEvent {
	seq := m.current.SourceSeqID
	ev := models.CaptionEvent{
		Type:         models.EventTypeTranslation,
		EventSeqId:   m.seqGen.Next(),
		SourceSeqId:  &seq,
		IsPartial:    false,
		ForceFinal:   m.current.Forced,
		OriginalText: m.current.OriginalText,
		SourceLang:   m.sourceLang,
		Timestamp:    now.UnixMilli(),
	}
	if m.current.CorrectedText != "" {
		ct := m.current.CorrectedText
		ev.CorrectedText = &ct
		ev.HasCorrection = true
	}
	return ev
}
