// Package audio provides the audio stream handler that coordinates between the STT
// session and the segment state machine, and publishes committed/partial records to
// the persistence topics.
package audio

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"caption-relay/internal/events"
	"caption-relay/internal/models"
	"caption-relay/internal/observability/logging"
	"caption-relay/internal/service/dedup"
	"caption-relay/internal/service/finalize"
	"caption-relay/internal/service/forced"
	"caption-relay/internal/service/partial"
	"caption-relay/internal/service/segment"
	"caption-relay/internal/service/sentence"
	"caption-relay/internal/service/stt"
)

// SegmentLimits defines safety guardrails for segment processing. These prevent
// unbounded resource usage and ensure backpressure (carried over from the ingress
// pipeline this pipeline evolved from, reinterpreted against the six-state machine:
// exceeding a limit now calls Machine.Drop instead of force-closing a four-state
// Lifecycle).
type SegmentLimits struct {
	MaxAudioBytes int64         // Max buffered audio per segment
	MaxDuration   time.Duration // Max segment duration
	MaxPartials   int           // Max partial transcripts per segment
}

// DefaultLimits returns sensible default limits.
func DefaultLimits() SegmentLimits {
	return SegmentLimits{
		MaxAudioBytes: 5 * 1024 * 1024,
		MaxDuration:   5 * time.Minute,
		MaxPartials:   500,
	}
}

// recoveryTimeout bounds how long Handler waits for a recovered transcript after
// restarting the STT session for a forced final (spec §4.5/§4.6 RECOVERING).
const recoveryTimeout = 1500 * time.Millisecond

// SegmentTransitionCallback is invoked whenever a segment reaches a terminal state
// (committed or dropped) and the machine has opened the next one.
type SegmentTransitionCallback func(newSegmentId string)

// CaptionEventCallback receives every CaptionEvent the segment machine emits, both
// partial and final, for fan-out to the ListenerBroadcaster and TranslationRouter.
// Distinct from the Kafka persistence path (handleEvent/handleCommitted below), which
// only cares about partials and committed segments.
type CaptionEventCallback func(models.CaptionEvent)

// Handler implements stt.Callback, feeding STT events into a segment.Machine and
// publishing the resulting partial/final records to Kafka. Enforces SegmentLimits
// backpressure on top of the state machine's own invariants.
type Handler struct {
	adapter   stt.Adapter
	publisher *events.Publisher
	machine   *segment.Machine

	sessionID         string
	sourceLang        string
	lastAudioOffsetMs int64

	limits SegmentLimits
	log    zerolog.Logger

	mu               sync.RWMutex
	segmentStartTime time.Time
	audioBytes       int64
	partialCount     int
	utteranceCount   int
	lastTerminalWasDrop bool
	recoveryWait        chan string

	onSegmentTransition SegmentTransitionCallback
	onCaptionEvent      CaptionEventCallback
}

// NewHandler creates a new audio handler for a transcription session with default
// limits.
func NewHandler(adapter stt.Adapter, publisher *events.Publisher, idGen *segment.IDGenerator, seqGen *segment.SeqGenerator, sessionID, sourceLang string) *Handler {
	return NewHandlerWithLimits(adapter, publisher, idGen, seqGen, sessionID, sourceLang, DefaultLimits())
}

// NewHandlerWithLimits creates a new audio handler with custom segment limits.
func NewHandlerWithLimits(adapter stt.Adapter, publisher *events.Publisher, idGen *segment.IDGenerator, seqGen *segment.SeqGenerator, sessionID, sourceLang string, limits SegmentLimits) *Handler {
	h := &Handler{
		adapter:          adapter,
		publisher:        publisher,
		sessionID:        sessionID,
		sourceLang:       sourceLang,
		limits:           limits,
		log:              logging.WithSession(sessionID),
		segmentStartTime: time.Now(),
	}

	deps := segment.Deps{
		IDGen:       idGen,
		SeqGen:      seqGen,
		Tracker:     partial.New(),
		Deduper:     dedup.New(dedup.DefaultConfig()),
		SentenceSeg: sentence.New(),
		Finalizer:   finalize.New(finalize.DefaultConfig()),
		ForcedEng:   forced.New(forced.DefaultConfig()),
		OnEvent:     h.handleEvent,
		OnCommitted: h.handleCommitted,
		OnDropped:   h.handleDropped,
	}
	h.machine = segment.New(segment.DefaultConfig(), sessionID, sourceLang, deps, time.Now())
	return h
}

// SetSegmentTransitionCallback sets a callback fired whenever the machine opens a new
// segment after a commit or drop.
func (h *Handler) SetSegmentTransitionCallback(cb SegmentTransitionCallback) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onSegmentTransition = cb
}

// SetCaptionEventCallback sets a callback fired for every CaptionEvent the segment
// machine emits (partial and final alike), independent of Kafka persistence.
func (h *Handler) SetCaptionEventCallback(cb CaptionEventCallback) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onCaptionEvent = cb
}

// Start begins the STT session with this handler as the callback receiver.
func (h *Handler) Start(ctx context.Context) error {
	return h.adapter.Start(ctx, h)
}

// SendAudio forwards audio bytes to the STT adapter, dropping the current segment and
// returning an error if backpressure limits are exceeded.
func (h *Handler) SendAudio(ctx context.Context, audio []byte, audioOffsetMs int64) error {
	h.mu.Lock()
	h.lastAudioOffsetMs = audioOffsetMs
	h.audioBytes += int64(len(audio))
	currentBytes := h.audioBytes
	startTime := h.segmentStartTime
	h.mu.Unlock()

	if h.limits.MaxAudioBytes > 0 && currentBytes > h.limits.MaxAudioBytes {
		reason := fmt.Sprintf("max audio bytes exceeded: %d > %d", currentBytes, h.limits.MaxAudioBytes)
		h.DropSegment(reason)
		return fmt.Errorf("segment limit exceeded: %s", reason)
	}
	if h.limits.MaxDuration > 0 && time.Since(startTime) > h.limits.MaxDuration {
		reason := fmt.Sprintf("max duration exceeded: %v > %v", time.Since(startTime), h.limits.MaxDuration)
		h.DropSegment(reason)
		return fmt.Errorf("segment limit exceeded: %s", reason)
	}

	return h.adapter.SendAudio(ctx, audio)
}

// Close ends the STT session.
func (h *Handler) Close() error {
	return h.adapter.Close()
}

// GetSegmentState returns the current segment lifecycle state.
func (h *Handler) GetSegmentState() segment.State {
	return h.machine.State()
}

// IsSegmentDropped reports whether the current (just-opened) segment was reached via
// a drop, i.e. whether the most recently terminal segment was dropped rather than
// committed. Since the machine always opens a fresh StateOpen segment right after a
// terminal transition, this is tracked via the drop/commit callbacks rather than
// State() itself.
func (h *Handler) IsSegmentDropped() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.lastTerminalWasDrop
}

// GetUtteranceCount returns the number of committed/dropped segments processed.
func (h *Handler) GetUtteranceCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.utteranceCount
}

// --- stt.Callback implementation ---

func (h *Handler) OnSpeechStarted() {}

func (h *Handler) OnSpeechStopped() {}

// OnTranscriptionDelta forwards an interim transcript into the segment machine, after
// checking the MaxPartials backpressure limit. A transcript arriving while a recovery
// restart is in flight (see recoverViaRestart) is routed there instead.
func (h *Handler) OnTranscriptionDelta(text string) {
	if h.deliverToRecovery(text) {
		return
	}

	h.mu.Lock()
	h.partialCount++
	count := h.partialCount
	h.mu.Unlock()

	if h.limits.MaxPartials > 0 && count > h.limits.MaxPartials {
		reason := fmt.Sprintf("max partials exceeded: %d > %d", count, h.limits.MaxPartials)
		h.DropSegment(reason)
		return
	}
	h.machine.HandlePartial(text, time.Now())
}

// OnTranscriptionCompleted forwards a final transcript into the segment machine,
// routing through HandleForcedFinal when forced is set (spec invariant 3: forced
// segments are candidates, not immediately committed). A forced final immediately
// triggers a recovery probe (spec §4.6: "schedule a RECOVERING probe"); a transcript
// arriving while that probe is in flight is routed there instead of the machine.
func (h *Handler) OnTranscriptionCompleted(text string, forced bool) {
	if h.deliverToRecovery(text) {
		return
	}

	now := time.Now()
	if forced {
		h.machine.HandleForcedFinal(text, now)
		h.machine.BeginRecovery(h.recoverViaRestart, time.Now())
		return
	}
	h.machine.HandleFinal(text, now)
}

// deliverToRecovery hands text to an in-flight recoverViaRestart wait, if any,
// instead of letting it reach the segment machine through the normal path. Reports
// whether a wait was active.
func (h *Handler) deliverToRecovery(text string) bool {
	h.mu.RLock()
	waiter := h.recoveryWait
	h.mu.RUnlock()
	if waiter == nil {
		return false
	}
	select {
	case waiter <- text:
	default:
	}
	return true
}

// recoverViaRestart implements segment.RecoverFunc for the production wiring:
// recovery re-enters through the same stt.Adapter.Restart path every other
// reconnect uses, rather than a bespoke recovery-specific interface. The first
// transcript the restarted session produces, within recoveryTimeout, is taken as
// the recovery candidate.
func (h *Handler) recoverViaRestart(bufferedText string) (string, error) {
	wait := make(chan string, 1)
	h.mu.Lock()
	h.recoveryWait = wait
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		h.recoveryWait = nil
		h.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), recoveryTimeout)
	defer cancel()

	if err := h.adapter.Restart(ctx); err != nil {
		return "", err
	}

	select {
	case text := <-wait:
		return text, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// OnError drops the current segment. "Silence > bad data" - it's better to emit
// nothing than incorrect/incomplete data.
func (h *Handler) OnError(err error) {
	logging.WithSegment(h.sessionID, h.machine.Current().ID).Warn().Err(err).Msg("stt error, dropping segment")
	h.machine.Drop(time.Now())
}

// DropSegment explicitly drops the current segment without emitting a final. Use when
// the segment should be abandoned due to external factors (client disconnect,
// timeout, validation failure).
func (h *Handler) DropSegment(reason string) bool {
	state := h.machine.State()
	if state.IsTerminal() {
		return false
	}
	logging.WithSegment(h.sessionID, h.machine.Current().ID).Info().Str("reason", reason).Msg("segment dropped")
	h.machine.Drop(time.Now())
	return true
}

// SegmentMetrics holds current segment usage metrics.
type SegmentMetrics struct {
	AudioBytes   int64
	PartialCount int
	Duration     time.Duration
}

// GetSegmentMetrics returns current segment metrics for observability.
func (h *Handler) GetSegmentMetrics() SegmentMetrics {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return SegmentMetrics{
		AudioBytes:   h.audioBytes,
		PartialCount: h.partialCount,
		Duration:     time.Since(h.segmentStartTime),
	}
}

// OnEndOfUtterance resets this segment's metrics; exported so tests and natural
// utterance-boundary simulations can trigger the same accounting reset the commit and
// drop callbacks already perform.
func (h *Handler) OnEndOfUtterance() {
	h.resetMetrics()
}

func (h *Handler) resetMetrics() {
	h.mu.Lock()
	h.utteranceCount++
	h.audioBytes = 0
	h.partialCount = 0
	h.segmentStartTime = time.Now()
	cb := h.onSegmentTransition
	h.mu.Unlock()

	if cb != nil {
		cb(h.machine.Current().ID)
	}
}

func (h *Handler) handleEvent(ev models.CaptionEvent) {
	if ev.IsPartial {
		rec := models.TranscriptPartialRecord{
			EventType: "caption.partial",
			SessionID: h.sessionID,
			Text:      ev.OriginalText,
			Timestamp: ev.Timestamp,
		}
		if ev.SourceSeqId != nil {
			rec.SourceSeqId = *ev.SourceSeqId
		}
		h.publishPartial(rec)
	}

	h.mu.RLock()
	cb := h.onCaptionEvent
	h.mu.RUnlock()
	if cb != nil {
		cb(ev)
	}
}

func (h *Handler) handleCommitted(seg *segment.Segment) {
	rec := models.TranscriptRecord{
		EventType:     "caption.final",
		SessionID:     h.sessionID,
		SourceSeqId:   seg.SourceSeqID,
		OriginalText:  seg.OriginalText,
		CorrectedText: seg.CorrectedText,
		Translations:  seg.Translations,
		Forced:        seg.Forced,
		CreatedAt:     seg.CreatedAt.UnixMilli(),
		CommittedAt:   seg.CommittedAt.UnixMilli(),
	}
	h.publishFinal(rec)
	h.mu.Lock()
	h.lastTerminalWasDrop = false
	h.mu.Unlock()
	h.resetMetrics()
}

func (h *Handler) handleDropped(seg *segment.Segment) {
	h.mu.Lock()
	h.lastTerminalWasDrop = true
	h.mu.Unlock()
	h.resetMetrics()
}

func (h *Handler) publishPartial(ev models.TranscriptPartialRecord) {
	ctx := context.Background()
	key := fmt.Sprintf("%s:%d", h.sessionID, ev.SourceSeqId)
	if err := h.publisher.PublishPartial(ctx, key, ev); err != nil {
		h.log.Warn().Err(err).Msg("failed to publish partial record")
	}
}

func (h *Handler) publishFinal(ev models.TranscriptRecord) {
	ctx := context.Background()
	key := fmt.Sprintf("%s:%d", h.sessionID, ev.SourceSeqId)
	if err := h.publisher.PublishFinal(ctx, key, ev); err != nil {
		h.log.Warn().Err(err).Msg("failed to publish final record")
	}
}
