package stt

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// PoolConfig holds the STTSessionPool's tunables (spec §4.7, §6 "STT").
type PoolConfig struct {
	// Size is the fixed number of STT sessions held open, default 2.
	Size int
	// ConnectTimeout bounds how long a single session Start may take.
	ConnectTimeout time.Duration
	// BackoffInitial/BackoffMax bound the exponential reconnect backoff, capped at 5s.
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	// MaxBufferedBytes bounds audio buffered per session while disconnected; the
	// oldest buffered chunk is dropped on overflow (telemetry, never surfaced as an
	// error to the state machine).
	MaxBufferedBytes int
	// ForceCommitGap is the artificial silence gap STTSessionPool.ForceCommit injects
	// on every session after closing its turn, ~250ms.
	ForceCommitGap time.Duration
}

// DefaultPoolConfig returns the values named as examples in spec §4.7/§5.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		Size:             2,
		ConnectTimeout:   10 * time.Second,
		BackoffInitial:   200 * time.Millisecond,
		BackoffMax:       5 * time.Second,
		MaxBufferedBytes: 1 << 20,
		ForceCommitGap:   250 * time.Millisecond,
	}
}

// Factory creates a fresh Adapter instance for one pooled session. Each reconnect
// calls Factory again rather than reusing a failed adapter.
type Factory func(ctx context.Context) (Adapter, error)

// Event is the pool-level view of a Callback invocation, tagged with which session
// produced it so the caller (SessionSupervisor) can fold events from every session
// into one ordered stream on its single-consumer channel (spec §4.7).
type Event struct {
	SessionIndex int
	Kind         EventKind
	Text         string
	Forced       bool
	Err          error
}

// EventKind enumerates the Callback taxonomy as a closed set, suitable for switching
// on in a single-threaded consumer loop (spec §5, §9 "typed closed-set events").
type EventKind int

const (
	EventSpeechStarted EventKind = iota
	EventSpeechStopped
	EventTranscriptionDelta
	EventTranscriptionCompleted
	EventAdapterError
)

// Pool manages a fixed number of STT sessions and round-robins outbound audio across
// them. All Callback invocations from every session are funneled into a single
// buffered channel (Events) so a SessionSupervisor can consume them on one serial
// loop without its own fan-in logic.
type Pool struct {
	cfg     PoolConfig
	factory Factory
	log     zerolog.Logger
	ctx     context.Context

	Events chan Event

	mu       sync.Mutex
	sessions []*pooledSession
	nextIdx  uint64

	closed atomic.Bool
}

type pooledSession struct {
	mu      sync.Mutex
	adapter Adapter
	buf     [][]byte
	bufSize int
	backoff time.Duration
}

// NewPool creates a Pool and starts all Size sessions. Sessions that fail to connect
// are retried in the background with exponential backoff rather than failing NewPool.
func NewPool(ctx context.Context, cfg PoolConfig, factory Factory, log zerolog.Logger) *Pool {
	p := &Pool{
		cfg:      cfg,
		factory:  factory,
		log:      log,
		ctx:      ctx,
		Events:   make(chan Event, 256),
		sessions: make([]*pooledSession, cfg.Size),
	}
	for i := 0; i < cfg.Size; i++ {
		p.sessions[i] = &pooledSession{backoff: cfg.BackoffInitial}
		go p.connect(ctx, i)
	}
	return p
}

func (p *Pool) connect(ctx context.Context, idx int) {
	if p.closed.Load() {
		return
	}
	connCtx, cancel := context.WithTimeout(ctx, p.cfg.ConnectTimeout)
	defer cancel()

	adapter, err := p.factory(connCtx)
	sess := p.sessions[idx]
	if err != nil {
		p.log.Warn().Err(err).Int("session", idx).Msg("stt session connect failed, backing off")
		p.scheduleReconnect(ctx, idx)
		return
	}

	if err := adapter.Start(connCtx, &poolCallback{pool: p, idx: idx}); err != nil {
		p.log.Warn().Err(err).Int("session", idx).Msg("stt session start failed, backing off")
		p.scheduleReconnect(ctx, idx)
		return
	}

	sess.mu.Lock()
	sess.adapter = adapter
	sess.backoff = p.cfg.BackoffInitial
	buffered := sess.buf
	sess.buf = nil
	sess.bufSize = 0
	sess.mu.Unlock()

	for _, chunk := range buffered {
		_ = adapter.SendAudio(ctx, chunk)
	}
}

func (p *Pool) scheduleReconnect(ctx context.Context, idx int) {
	if p.closed.Load() {
		return
	}
	sess := p.sessions[idx]
	sess.mu.Lock()
	sess.adapter = nil
	wait := sess.backoff
	next := sess.backoff * 2
	if next > p.cfg.BackoffMax {
		next = p.cfg.BackoffMax
	}
	sess.backoff = next
	sess.mu.Unlock()

	time.AfterFunc(wait, func() { p.connect(ctx, idx) })
}

// SendAudio round-robins chunk across the pool's sessions. A session without a live
// adapter (mid-reconnect) buffers the chunk up to MaxBufferedBytes, dropping the
// oldest buffered chunk on overflow.
func (p *Pool) SendAudio(ctx context.Context, chunk []byte) error {
	idx := int(atomic.AddUint64(&p.nextIdx, 1)-1) % len(p.sessions)
	sess := p.sessions[idx]

	sess.mu.Lock()
	adapter := sess.adapter
	if adapter == nil {
		sess.buf = append(sess.buf, chunk)
		sess.bufSize += len(chunk)
		for sess.bufSize > p.cfg.MaxBufferedBytes && len(sess.buf) > 0 {
			dropped := sess.buf[0]
			sess.buf = sess.buf[1:]
			sess.bufSize -= len(dropped)
			p.log.Warn().Int("session", idx).Int("bytes", len(dropped)).
				Msg("dropping oldest buffered audio chunk, session still reconnecting")
		}
		sess.mu.Unlock()
		return nil
	}
	sess.mu.Unlock()
	return adapter.SendAudio(ctx, chunk)
}

// ForceCommit closes the turn on every session and injects an artificial silence gap
// before allowing further audio, per spec §4.7. Each session's resulting final is
// tagged forced=true by its adapter.
func (p *Pool) ForceCommit(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, sess := range p.sessions {
		sess.mu.Lock()
		adapter := sess.adapter
		sess.mu.Unlock()
		if adapter == nil {
			continue
		}
		if err := adapter.ForceCommit(ctx); err != nil {
			p.log.Warn().Err(err).Int("session", i).Msg("force commit failed")
		}
	}
	time.Sleep(p.cfg.ForceCommitGap)
}

// Close shuts down every session and closes the Events channel.
func (p *Pool) Close() {
	if !p.closed.CompareAndSwap(false, true) {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, sess := range p.sessions {
		sess.mu.Lock()
		adapter := sess.adapter
		sess.adapter = nil
		sess.mu.Unlock()
		if adapter != nil {
			_ = adapter.Close()
		}
	}
	close(p.Events)
}

func (p *Pool) emit(ev Event) {
	if p.closed.Load() {
		return
	}
	select {
	case p.Events <- ev:
	default:
		p.log.Warn().Int("session", ev.SessionIndex).Msg("stt event channel full, dropping event")
	}
}

// poolCallback adapts a single session's stt.Callback invocations into tagged Events
// on the pool's single-consumer channel.
type poolCallback struct {
	pool *Pool
	idx  int
}

func (c *poolCallback) OnSpeechStarted() {
	c.pool.emit(Event{SessionIndex: c.idx, Kind: EventSpeechStarted})
}

func (c *poolCallback) OnSpeechStopped() {
	c.pool.emit(Event{SessionIndex: c.idx, Kind: EventSpeechStopped})
}

func (c *poolCallback) OnTranscriptionDelta(text string) {
	c.pool.emit(Event{SessionIndex: c.idx, Kind: EventTranscriptionDelta, Text: text})
}

func (c *poolCallback) OnTranscriptionCompleted(text string, forced bool) {
	c.pool.emit(Event{SessionIndex: c.idx, Kind: EventTranscriptionCompleted, Text: text, Forced: forced})
}

func (c *poolCallback) OnError(err error) {
	c.pool.emit(Event{SessionIndex: c.idx, Kind: EventAdapterError, Err: err})
	sess := c.pool.sessions[c.idx]
	sess.mu.Lock()
	adapter := sess.adapter
	sess.adapter = nil
	sess.mu.Unlock()
	if adapter != nil {
		_ = adapter.Close()
	}
	c.pool.scheduleReconnect(c.pool.ctx, c.idx)
}
