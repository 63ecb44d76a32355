package stt_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"caption-relay/internal/service/stt"
	"caption-relay/internal/service/stt/mock"
)

func testPoolConfig() stt.PoolConfig {
	cfg := stt.DefaultPoolConfig()
	cfg.Size = 2
	cfg.ConnectTimeout = time.Second
	cfg.BackoffInitial = 5 * time.Millisecond
	cfg.BackoffMax = 20 * time.Millisecond
	cfg.ForceCommitGap = 5 * time.Millisecond
	cfg.MaxBufferedBytes = 16
	return cfg
}

func drainEvents(t *testing.T, p *stt.Pool, n int, timeout time.Duration) []stt.Event {
	t.Helper()
	var got []stt.Event
	deadline := time.After(timeout)
	for len(got) < n {
		select {
		case ev, ok := <-p.Events:
			if !ok {
				return got
			}
			got = append(got, ev)
		case <-deadline:
			t.Fatalf("timed out waiting for %d events, got %d: %+v", n, len(got), got)
		}
	}
	return got
}

func TestPool_NewConnectsAllSessions(t *testing.T) {
	var created int32
	var mu sync.Mutex
	p := stt.NewPool(context.Background(), testPoolConfig(), func(ctx context.Context) (stt.Adapter, error) {
		mu.Lock()
		created++
		mu.Unlock()
		return mock.New(), nil
	}, zerolog.Nop())
	defer p.Close()

	events := drainEvents(t, p, 2, time.Second)
	started := 0
	for _, ev := range events {
		if ev.Kind == stt.EventSpeechStarted {
			started++
		}
	}
	if started != 2 {
		t.Fatalf("expected 2 OnSpeechStarted events from 2 sessions, got %d", started)
	}
}

func TestPool_SendAudioRoundRobins(t *testing.T) {
	p := stt.NewPool(context.Background(), testPoolConfig(), func(ctx context.Context) (stt.Adapter, error) {
		return mock.New(), nil
	}, zerolog.Nop())
	defer p.Close()

	drainEvents(t, p, 2, time.Second)

	for i := 0; i < 4; i++ {
		if err := p.SendAudio(context.Background(), []byte("chunk")); err != nil {
			t.Fatalf("SendAudio: %v", err)
		}
	}

	drainEvents(t, p, 1, time.Second)
}

func TestPool_SendAudioBuffersWhileDisconnected(t *testing.T) {
	cfg := testPoolConfig()
	cfg.Size = 1
	block := make(chan struct{})
	p := stt.NewPool(context.Background(), cfg, func(ctx context.Context) (stt.Adapter, error) {
		<-block
		return mock.New(), nil
	}, zerolog.Nop())
	defer func() {
		close(block)
		p.Close()
	}()

	if err := p.SendAudio(context.Background(), []byte("12345678")); err != nil {
		t.Fatalf("SendAudio while disconnected: %v", err)
	}
	if err := p.SendAudio(context.Background(), []byte("more-bytes-overflow")); err != nil {
		t.Fatalf("SendAudio overflow: %v", err)
	}
}

func TestPool_ForceCommitClosesEverySessionTurn(t *testing.T) {
	p := stt.NewPool(context.Background(), testPoolConfig(), func(ctx context.Context) (stt.Adapter, error) {
		return mock.NewWithUtterance(mock.SimulatedUtterance{
			Partials: []string{"partial"},
			Final:    "final text",
		}), nil
	}, zerolog.Nop())
	defer p.Close()

	drainEvents(t, p, 2, time.Second)

	p.ForceCommit(context.Background())

	// ForceCommit fires OnSpeechStopped then OnTranscriptionCompleted per session.
	events := drainEvents(t, p, 4, time.Second)
	completed := 0
	for _, ev := range events {
		if ev.Kind == stt.EventTranscriptionCompleted {
			completed++
			if !ev.Forced {
				t.Errorf("expected forced completion event, got %+v", ev)
			}
		}
	}
	if completed != 2 {
		t.Fatalf("expected 2 forced completions (one per session), got %d", completed)
	}
}

func TestPool_CloseStopsEmittingAndClosesChannel(t *testing.T) {
	p := stt.NewPool(context.Background(), testPoolConfig(), func(ctx context.Context) (stt.Adapter, error) {
		return mock.New(), nil
	}, zerolog.Nop())

	drainEvents(t, p, 2, time.Second)
	p.Close()

	if err := p.SendAudio(context.Background(), []byte("chunk")); err != nil {
		t.Fatalf("SendAudio after close: %v", err)
	}

	// Events channel should now be closed and drain immediately.
	select {
	case _, ok := <-p.Events:
		if ok {
			t.Error("expected no further events after Close")
		}
	case <-time.After(time.Second):
		t.Fatal("expected closed Events channel to return immediately")
	}
}

// erroringAdapter fires OnError on its first SendAudio, then behaves like an
// ordinary mock adapter, so a test can observe the pool reconnecting the session.
type erroringAdapter struct {
	*mock.Adapter
	cb      stt.Callback
	errored bool
}

func newErroringAdapter() *erroringAdapter {
	return &erroringAdapter{Adapter: mock.New()}
}

func (a *erroringAdapter) Start(ctx context.Context, cb stt.Callback) error {
	a.cb = cb
	return a.Adapter.Start(ctx, cb)
}

func (a *erroringAdapter) SendAudio(ctx context.Context, audio []byte) error {
	if !a.errored {
		a.errored = true
		a.cb.OnError(context.Canceled)
		return nil
	}
	return a.Adapter.SendAudio(ctx, audio)
}

func TestPool_OnErrorClearsAdapterAndTriggersReconnect(t *testing.T) {
	cfg := testPoolConfig()
	cfg.Size = 1

	var mu sync.Mutex
	var connects int
	p := stt.NewPool(context.Background(), cfg, func(ctx context.Context) (stt.Adapter, error) {
		mu.Lock()
		connects++
		mu.Unlock()
		return newErroringAdapter(), nil
	}, zerolog.Nop())
	defer p.Close()

	drainEvents(t, p, 1, time.Second)

	if err := p.SendAudio(context.Background(), []byte("chunk")); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}

	events := drainEvents(t, p, 1, time.Second)
	if events[0].Kind != stt.EventAdapterError {
		t.Fatalf("expected an adapter error event, got %+v", events[0])
	}

	// the session should reconnect and emit a fresh OnSpeechStarted.
	drainEvents(t, p, 1, 2*time.Second)

	mu.Lock()
	defer mu.Unlock()
	if connects < 2 {
		t.Fatalf("expected pool to reconnect after OnError, got %d connects", connects)
	}
}
