package segment

import (
	"fmt"
	"testing"
	"time"

	"caption-relay/internal/models"
	"caption-relay/internal/service/dedup"
	"caption-relay/internal/service/finalize"
	"caption-relay/internal/service/forced"
	"caption-relay/internal/service/partial"
	"caption-relay/internal/service/sentence"
)

func newTestMachine(t *testing.T, cfg Config, fcfg finalize.Config, fdcfg forced.Config) (*Machine, *[]models.CaptionEvent) {
	t.Helper()
	var events []models.CaptionEvent
	deps := Deps{
		IDGen:       NewIDGenerator(),
		SeqGen:      NewSeqGenerator(),
		Tracker:     partial.New(),
		Deduper:     dedup.New(dedup.DefaultConfig()),
		SentenceSeg: sentence.New(),
		Finalizer:   finalize.New(fcfg),
		ForcedEng:   forced.New(fdcfg),
		OnEvent: func(ev models.CaptionEvent) {
			events = append(events, ev)
		},
	}
	m := New(cfg, "sess-1", "en", deps, time.Now())
	return m, &events
}

func fastConfigs() (Config, finalize.Config, forced.Config) {
	cfg := DefaultConfig()
	fcfg := finalize.DefaultConfig()
	fcfg.BaseWait = 20 * time.Millisecond
	fcfg.MaxWait = 200 * time.Millisecond
	fcfg.SentenceIncompleteFloorMin = 20 * time.Millisecond
	fcfg.SentenceIncompleteFloorMax = 40 * time.Millisecond
	fdcfg := forced.DefaultConfig()
	fdcfg.CaptureWindow = 30 * time.Millisecond
	return cfg, fcfg, fdcfg
}

func lastFinal(events []models.CaptionEvent) *models.CaptionEvent {
	for i := len(events) - 1; i >= 0; i-- {
		if !events[i].IsPartial {
			return &events[i]
		}
	}
	return nil
}

func TestMachine_BasicFinalCommits(t *testing.T) {
	cfg, fcfg, fdcfg := fastConfigs()
	m, events := newTestMachine(t, cfg, fcfg, fdcfg)

	now := time.Now()
	m.HandlePartial("Bend over", now)
	m.HandleFinal("Bend over. Oh boy.", now)

	if m.State() != StateFinalCandidate {
		t.Fatalf("expected FINAL_CANDIDATE, got %v", m.State())
	}

	time.Sleep(150 * time.Millisecond)

	final := lastFinal(*events)
	if final == nil {
		t.Fatal("expected a final event to have been published")
	}
	if final.OriginalText != "Bend over. Oh boy." {
		t.Errorf("unexpected committed text: %q", final.OriginalText)
	}
	if final.IsPartial {
		t.Error("final event marked isPartial")
	}
}

func TestMachine_NewSegmentOpensAfterCommit(t *testing.T) {
	cfg, fcfg, fdcfg := fastConfigs()
	m, events := newTestMachine(t, cfg, fcfg, fdcfg)

	now := time.Now()
	m.HandleFinal("First sentence.", now)
	time.Sleep(150 * time.Millisecond)

	if m.State() != StateOpen {
		t.Fatalf("expected machine to reopen into OPEN, got %v", m.State())
	}

	first := lastFinal(*events)
	if first == nil || first.OriginalText != "First sentence." {
		t.Fatalf("expected first commit, got %+v", first)
	}

	m.HandleFinal("Second sentence.", time.Now())
	time.Sleep(150 * time.Millisecond)

	second := lastFinal(*events)
	if second.OriginalText != "Second sentence." {
		t.Errorf("expected second commit text 'Second sentence.', got %q", second.OriginalText)
	}
	if second.SourceSeqId == nil || first.SourceSeqId == nil || *second.SourceSeqId <= *first.SourceSeqId {
		t.Errorf("sourceSeqId should increase across segments: %v -> %v", first.SourceSeqId, second.SourceSeqId)
	}
	if second.EventSeqId <= first.EventSeqId {
		t.Errorf("eventSeqId should strictly increase: %d -> %d", first.EventSeqId, second.EventSeqId)
	}
}

func TestMachine_ForcedFinalBuffersThenCommits(t *testing.T) {
	cfg, fcfg, fdcfg := fastConfigs()
	m, events := newTestMachine(t, cfg, fcfg, fdcfg)

	now := time.Now()
	m.HandleForcedFinal("our own", now)

	if m.State() != StateForcedBuffered {
		t.Fatalf("expected FORCED_BUFFERED immediately after a forced final, got %v", m.State())
	}
	if lastFinal(*events) != nil {
		t.Fatal("forced final must not commit immediately (invariant 3)")
	}

	time.Sleep(100 * time.Millisecond)

	final := lastFinal(*events)
	if final == nil {
		t.Fatal("expected the forced buffer to commit after the capture window")
	}
	if !final.ForceFinal {
		t.Error("expected ForceFinal to be set on the committed event")
	}
}

func TestMachine_ForcedFinalExtendedByLaterPartial(t *testing.T) {
	cfg, fcfg, fdcfg := fastConfigs()
	m, events := newTestMachine(t, cfg, fcfg, fdcfg)

	now := time.Now()
	m.HandleForcedFinal("our own", now)
	m.HandlePartial("our own recording", time.Now())

	time.Sleep(100 * time.Millisecond)

	final := lastFinal(*events)
	if final == nil {
		t.Fatal("expected a committed final")
	}
	if final.OriginalText != "our own recording" {
		t.Errorf("expected extension to be captured, got %q", final.OriginalText)
	}
}

func TestMachine_OutOfOrderEventSeqIdsStillIncreaseMonotonically(t *testing.T) {
	cfg, fcfg, fdcfg := fastConfigs()
	m, events := newTestMachine(t, cfg, fcfg, fdcfg)

	now := time.Now()
	m.HandlePartial("partial one", now)
	m.HandlePartial("partial one two", now)
	m.HandleFinal("partial one two three.", now)
	time.Sleep(150 * time.Millisecond)

	var prev uint64
	for _, ev := range *events {
		if ev.EventSeqId <= prev {
			t.Fatalf("eventSeqId did not strictly increase: %d after %d", ev.EventSeqId, prev)
		}
		prev = ev.EventSeqId
	}
}

func TestMachine_NonExtendingFinalCommitsCandidateFirst(t *testing.T) {
	cfg, fcfg, fdcfg := fastConfigs()
	m, events := newTestMachine(t, cfg, fcfg, fdcfg)

	now := time.Now()
	m.HandleFinal("Bend.", now)
	if m.State() != StateFinalCandidate {
		t.Fatalf("expected FINAL_CANDIDATE after the first final, got %v", m.State())
	}

	// Two non-extending partials while still FINAL_CANDIDATE, within the break
	// window: correctly ignored, not folded into the candidate's live line.
	m.HandlePartial("I've been", now)
	m.HandlePartial("I've been to the", now)

	m.HandleFinal("I've been to the grocery store", now)
	time.Sleep(150 * time.Millisecond)

	var finals []string
	for _, ev := range *events {
		if !ev.IsPartial {
			finals = append(finals, ev.OriginalText)
		}
	}
	if len(finals) != 2 {
		t.Fatalf("expected 2 committed segments, got %d: %v", len(finals), finals)
	}
	if finals[0] != "Bend." {
		t.Errorf("expected first commit %q, got %q", "Bend.", finals[0])
	}
	if finals[1] != "I've been to the grocery store" {
		t.Errorf("expected second commit %q, got %q", "I've been to the grocery store", finals[1])
	}
}

func TestMachine_PartialPastSegmentBreakCommitsCandidate(t *testing.T) {
	cfg, fcfg, fdcfg := fastConfigs()
	cfg.SegmentBreakWindow = 50 * time.Millisecond
	m, events := newTestMachine(t, cfg, fcfg, fdcfg)

	now := time.Now()
	m.HandleFinal("Bend.", now)
	if m.State() != StateFinalCandidate {
		t.Fatalf("expected FINAL_CANDIDATE, got %v", m.State())
	}

	later := now.Add(100 * time.Millisecond)
	m.HandlePartial("Totally different start", later)

	var finals []string
	for _, ev := range *events {
		if !ev.IsPartial {
			finals = append(finals, ev.OriginalText)
		}
	}
	if len(finals) != 1 || finals[0] != "Bend." {
		t.Fatalf("expected 'Bend.' to commit once the break window elapsed, got %v", finals)
	}
}

func TestMachine_FlushedSentenceCommitsAsMicroSegmentDuringOpen(t *testing.T) {
	cfg, fcfg, fdcfg := fastConfigs()
	m, events := newTestMachine(t, cfg, fcfg, fdcfg)

	now := time.Now()
	m.HandlePartial("Hi. Ok there", now)

	if m.State() != StateOpen {
		t.Fatalf("expected the machine to remain OPEN after a micro-segment commit, got %v", m.State())
	}

	var finals, partials []string
	for _, ev := range *events {
		if ev.IsPartial {
			partials = append(partials, ev.OriginalText)
		} else {
			finals = append(finals, ev.OriginalText)
		}
	}
	if len(finals) != 1 || finals[0] != "Hi." {
		t.Fatalf("expected 'Hi.' to commit immediately as a micro-segment, got %v", finals)
	}
	if len(partials) == 0 || partials[len(partials)-1] != "Ok there" {
		t.Fatalf("expected the residual live text to keep publishing as a partial, got %v", partials)
	}
}

func TestMachine_RecoverySuccessCommitsTwoDeduplicatedSegments(t *testing.T) {
	cfg, fcfg, fdcfg := fastConfigs()
	m, events := newTestMachine(t, cfg, fcfg, fdcfg)

	now := time.Now()
	forcedText := "The meeting covered several important topics to be continued"
	m.HandleForcedFinal(forcedText, now)

	if m.State() != StateForcedBuffered {
		t.Fatalf("expected FORCED_BUFFERED, got %v", m.State())
	}

	recoveryText := "to be continued later with more details."
	m.BeginRecovery(func(buffered string) (string, error) {
		if buffered != forcedText {
			t.Errorf("expected recovery to receive the buffered forced text, got %q", buffered)
		}
		return recoveryText, nil
	}, now)

	var finals []string
	for _, ev := range *events {
		if !ev.IsPartial {
			finals = append(finals, ev.OriginalText)
		}
	}
	if len(finals) != 2 {
		t.Fatalf("expected 2 committed segments from a successful recovery, got %d: %v", len(finals), finals)
	}
	if finals[0] != forcedText {
		t.Errorf("expected first segment to be the forced text as given, got %q", finals[0])
	}
	if finals[1] != "later with more details." {
		t.Errorf("expected second segment deduplicated against the first's trailing text, got %q", finals[1])
	}
}

func TestMachine_RecoveryFailureFallsBackToForcedBuffered(t *testing.T) {
	cfg, fcfg, fdcfg := fastConfigs()
	m, events := newTestMachine(t, cfg, fcfg, fdcfg)

	now := time.Now()
	m.HandleForcedFinal("our own", now)
	m.BeginRecovery(func(buffered string) (string, error) {
		return "", fmt.Errorf("recovery source unavailable")
	}, now)

	if m.State() != StateForcedBuffered {
		t.Fatalf("expected a failed recovery to fall back to FORCED_BUFFERED, got %v", m.State())
	}
	if lastFinal(*events) != nil {
		t.Fatal("a failed recovery must not commit anything on its own")
	}

	time.Sleep(100 * time.Millisecond)
	if lastFinal(*events) == nil {
		t.Fatal("expected the capture window to still commit the buffer after a failed recovery")
	}
}

func TestMachine_ExactlyOneFinalPerSourceSeqId(t *testing.T) {
	cfg, fcfg, fdcfg := fastConfigs()
	m, events := newTestMachine(t, cfg, fcfg, fdcfg)

	now := time.Now()
	m.HandlePartial("growing", now)
	m.HandleFinal("growing text", now)
	m.HandlePartial("growing text more", time.Now())
	time.Sleep(150 * time.Millisecond)

	counts := map[uint64]int{}
	for _, ev := range *events {
		if !ev.IsPartial && ev.SourceSeqId != nil {
			counts[*ev.SourceSeqId]++
		}
	}
	for id, c := range counts {
		if c != 1 {
			t.Errorf("sourceSeqId %d got %d final events, want exactly 1", id, c)
		}
	}
}
