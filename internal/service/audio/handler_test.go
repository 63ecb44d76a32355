package audio

import (
	"context"
	"testing"
	"time"

	"caption-relay/internal/events"
	"caption-relay/internal/service/segment"
	"caption-relay/internal/service/stt"
)

// testAdapter implements stt.Adapter for testing.
type testAdapter struct {
	started     bool
	closed      bool
	audio       [][]byte
	cb          stt.Callback
	forceCommits int
	restarts    int
}

func (m *testAdapter) Start(ctx context.Context, cb stt.Callback) error {
	m.started = true
	m.cb = cb
	return nil
}

func (m *testAdapter) SendAudio(ctx context.Context, audio []byte) error {
	m.audio = append(m.audio, audio)
	return nil
}

func (m *testAdapter) ForceCommit(ctx context.Context) error {
	m.forceCommits++
	return nil
}

func (m *testAdapter) Restart(ctx context.Context) error {
	m.restarts++
	return nil
}

func (m *testAdapter) Close() error {
	m.closed = true
	return nil
}

// newMockPublisher returns a disabled (log-only) publisher for testing.
func newMockPublisher() *events.Publisher {
	return events.New(&events.Config{Enabled: false})
}

func newTestHandler(limits SegmentLimits) (*Handler, *testAdapter) {
	adapter := &testAdapter{}
	publisher := newMockPublisher()
	idGen := segment.NewIDGenerator()
	seqGen := segment.NewSeqGenerator()
	handler := NewHandlerWithLimits(adapter, publisher, idGen, seqGen, "sess-1", "en-US", limits)
	return handler, adapter
}

func TestHandler_MaxAudioBytesLimit(t *testing.T) {
	limits := SegmentLimits{
		MaxAudioBytes: 100,
		MaxDuration:   time.Hour,
		MaxPartials:   1000,
	}
	handler, _ := newTestHandler(limits)
	ctx := context.Background()

	err := handler.SendAudio(ctx, make([]byte, 50), 0)
	if err != nil {
		t.Fatalf("first send should succeed: %v", err)
	}

	err = handler.SendAudio(ctx, make([]byte, 60), 100)
	if err == nil {
		t.Fatal("expected error when exceeding max audio bytes")
	}

	if !handler.IsSegmentDropped() {
		t.Error("segment should be dropped after exceeding limit")
	}
}

func TestHandler_MaxPartialsLimit(t *testing.T) {
	limits := SegmentLimits{
		MaxAudioBytes: 1024 * 1024,
		MaxDuration:   time.Hour,
		MaxPartials:   3,
	}
	handler, _ := newTestHandler(limits)

	for i := 0; i < 3; i++ {
		handler.OnTranscriptionDelta("partial text")
	}

	if handler.IsSegmentDropped() {
		t.Error("segment should not be dropped after 3 partials")
	}

	handler.OnTranscriptionDelta("one too many")

	if !handler.IsSegmentDropped() {
		t.Error("segment should be dropped after exceeding max partials")
	}
}

func TestHandler_MaxDurationLimit(t *testing.T) {
	limits := SegmentLimits{
		MaxAudioBytes: 1024 * 1024,
		MaxDuration:   50 * time.Millisecond,
		MaxPartials:   1000,
	}
	handler, _ := newTestHandler(limits)
	ctx := context.Background()

	err := handler.SendAudio(ctx, []byte("audio"), 0)
	if err != nil {
		t.Fatalf("first send should succeed: %v", err)
	}

	time.Sleep(60 * time.Millisecond)

	err = handler.SendAudio(ctx, []byte("audio"), 100)
	if err == nil {
		t.Fatal("expected error when exceeding max duration")
	}

	if !handler.IsSegmentDropped() {
		t.Error("segment should be dropped after exceeding duration limit")
	}
}

func TestHandler_MetricsReset(t *testing.T) {
	handler, _ := newTestHandler(DefaultLimits())
	ctx := context.Background()

	handler.SendAudio(ctx, make([]byte, 100), 0)
	handler.OnTranscriptionDelta("partial 1")
	handler.OnTranscriptionDelta("partial 2")

	metrics := handler.GetSegmentMetrics()
	if metrics.AudioBytes != 100 {
		t.Errorf("expected 100 audio bytes, got %d", metrics.AudioBytes)
	}
	if metrics.PartialCount != 2 {
		t.Errorf("expected 2 partials, got %d", metrics.PartialCount)
	}

	handler.OnEndOfUtterance()

	metrics = handler.GetSegmentMetrics()
	if metrics.AudioBytes != 0 {
		t.Errorf("expected 0 audio bytes after reset, got %d", metrics.AudioBytes)
	}
	if metrics.PartialCount != 0 {
		t.Errorf("expected 0 partials after reset, got %d", metrics.PartialCount)
	}
}

func TestHandler_DefaultLimits(t *testing.T) {
	limits := DefaultLimits()

	if limits.MaxAudioBytes != 5*1024*1024 {
		t.Errorf("expected default max audio bytes to be 5MB, got %d", limits.MaxAudioBytes)
	}
	if limits.MaxDuration != 5*time.Minute {
		t.Errorf("expected default max duration to be 5min, got %v", limits.MaxDuration)
	}
	if limits.MaxPartials != 500 {
		t.Errorf("expected default max partials to be 500, got %d", limits.MaxPartials)
	}
}

func TestHandler_NaturalFinalCommits(t *testing.T) {
	handler, _ := newTestHandler(DefaultLimits())

	handler.OnTranscriptionDelta("hello there")
	handler.OnTranscriptionCompleted("hello there.", false)

	// The final waits in FINAL_CANDIDATE for the finalization timer (1000ms base
	// wait) before it commits.
	deadline := time.Now().Add(3 * time.Second)
	for handler.GetUtteranceCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	if handler.GetUtteranceCount() != 1 {
		t.Errorf("expected 1 committed utterance, got %d", handler.GetUtteranceCount())
	}
	if handler.IsSegmentDropped() {
		t.Error("a natural commit should not be flagged as a drop")
	}
}

func TestHandler_OnErrorDropsSegment(t *testing.T) {
	handler, _ := newTestHandler(DefaultLimits())

	handler.OnTranscriptionDelta("partial text that keeps going on")
	handler.OnError(context.DeadlineExceeded)

	if !handler.IsSegmentDropped() {
		t.Error("expected segment to be dropped after OnError")
	}
}

func TestHandler_SegmentTransitionCallback(t *testing.T) {
	handler, _ := newTestHandler(DefaultLimits())

	transitioned := make(chan string, 1)
	handler.SetSegmentTransitionCallback(func(newSegmentId string) {
		select {
		case transitioned <- newSegmentId:
		default:
		}
	})

	handler.OnTranscriptionCompleted("a full sentence.", false)

	// The commit, and with it the callback, fires from the finalization timer
	// (1000ms base wait).
	select {
	case id := <-transitioned:
		if id == "" {
			t.Error("expected segment transition callback to fire with a new segment id")
		}
	case <-time.After(3 * time.Second):
		t.Error("expected segment transition callback to fire with a new segment id")
	}
}

// recoveringAdapter simulates a provider whose Restart produces a fresh transcript
// from the new stream almost immediately, standing in for recoverViaRestart's real
// reconnect-and-wait path without a real network round trip.
type recoveringAdapter struct {
	*testAdapter
	recoveryText string
}

func (a *recoveringAdapter) Restart(ctx context.Context) error {
	a.testAdapter.restarts++
	go a.testAdapter.cb.OnTranscriptionCompleted(a.recoveryText, false)
	return nil
}

func TestHandler_ForcedFinalTriggersRecoveryAndCommitsSecondSegment(t *testing.T) {
	adapter := &recoveringAdapter{testAdapter: &testAdapter{}, recoveryText: "corrected tail text."}
	publisher := newMockPublisher()
	idGen := segment.NewIDGenerator()
	seqGen := segment.NewSeqGenerator()
	handler := NewHandlerWithLimits(adapter, publisher, idGen, seqGen, "sess-1", "en-US", DefaultLimits())

	if err := handler.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var transitions int
	handler.SetSegmentTransitionCallback(func(string) { transitions++ })

	handler.OnTranscriptionCompleted("forced buffered text", true)

	if adapter.restarts != 1 {
		t.Fatalf("expected the forced final to trigger exactly one recovery restart, got %d", adapter.restarts)
	}
	if transitions != 2 {
		t.Fatalf("expected the forced buffer and the recovered tail to commit as 2 separate segments, got %d transitions", transitions)
	}
}

func TestHandler_StartDelegatesToAdapter(t *testing.T) {
	handler, adapter := newTestHandler(DefaultLimits())

	if err := handler.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !adapter.started {
		t.Error("expected adapter.Start to be called")
	}
	if adapter.cb == nil {
		t.Error("expected handler to register itself as the stt.Callback")
	}
}
