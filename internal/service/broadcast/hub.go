// Package broadcast implements the ListenerBroadcaster: per-session fan-out of
// CaptionEvents to listeners joined by session code, grounded on the teacher's
// tools/transcript-viewer Hub (register/unregister channels, per-connection write
// loop, drop-on-full-buffer) but generalized from one global broadcast channel into
// per-listener bounded queues keyed by (sessionId, listenerId), transported over
// gorilla/websocket instead of being wired directly to Kafka consumption.
package broadcast

import (
	"encoding/json"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"caption-relay/internal/models"
	"caption-relay/internal/observability/metrics"
)

// Config tunes a session's listener queues.
type Config struct {
	QueueDepth        int
	DropOldestPartial bool
	FinalRetries      int
	FinalRetryDelay   time.Duration
}

// DefaultConfig returns the values named in spec §6 ("per-listener queue depth,
// partial-drop policy on overflow").
func DefaultConfig() Config {
	return Config{
		QueueDepth:        32,
		DropOldestPartial: true,
		FinalRetries:      3,
		FinalRetryDelay:   20 * time.Millisecond,
	}
}

type outboundMsg struct {
	payload     []byte
	isPartial   bool
	sourceSeqID uint64
}

// Listener is one connected caption consumer: (targetLang, outboundChannel,
// lastDeliveredSeqId) per spec §4.9.
type Listener struct {
	ID         string
	SessionID  string
	TargetLang string

	hub  *Hub
	conn *websocket.Conn
	log  zerolog.Logger

	mu    sync.Mutex
	queue []outboundMsg

	lastDeliveredSeqID uint64

	wake   chan struct{}
	closed chan struct{}
	once   sync.Once
}

func (l *Listener) enqueue(msg outboundMsg) {
	cfg := l.hub.cfg

	l.mu.Lock()
	if len(l.queue) >= cfg.QueueDepth {
		if idx := oldestPartialIndex(l.queue); idx >= 0 {
			l.queue = append(l.queue[:idx], l.queue[idx+1:]...)
			l.queue = append(l.queue, msg)
		} else if msg.isPartial {
			// Queue is full of finals (or in-flight retries) and the new message is
			// itself a partial: nothing safe to evict, drop the newcomer.
			l.mu.Unlock()
			l.hub.recordDropped("partial")
			return
		} else {
			// Queue is full of finals and this is a final too: grow past queueDepth
			// rather than ever drop a final. The writer drains it at its own pace.
			l.queue = append(l.queue, msg)
		}
	} else {
		l.queue = append(l.queue, msg)
	}
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func oldestPartialIndex(queue []outboundMsg) int {
	for i, m := range queue {
		if m.isPartial {
			return i
		}
	}
	return -1
}

func (l *Listener) popFront() (outboundMsg, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		return outboundMsg{}, false
	}
	msg := l.queue[0]
	l.queue = l.queue[1:]
	return msg, true
}

// writePump drains the listener's queue to its websocket connection. Finals get
// bounded retries against transient send errors; partials are fire-and-forget.
func (l *Listener) writePump() {
	cfg := l.hub.cfg
	for {
		select {
		case <-l.closed:
			return
		case <-l.wake:
		}
		for {
			msg, ok := l.popFront()
			if !ok {
				break
			}
			var err error
			if msg.isPartial {
				err = l.conn.WriteMessage(websocket.TextMessage, msg.payload)
			} else {
				attempts := cfg.FinalRetries
				for attempts > 0 {
					err = l.conn.WriteMessage(websocket.TextMessage, msg.payload)
					if err == nil {
						break
					}
					attempts--
					if attempts > 0 {
						time.Sleep(cfg.FinalRetryDelay)
					}
				}
			}
			if err != nil {
				l.log.Warn().Err(err).Bool("isPartial", msg.isPartial).Msg("listener write failed")
				l.hub.recordDropped(kindOf(msg.isPartial))
				continue
			}
			l.hub.recordDelivered(kindOf(msg.isPartial))
			if msg.sourceSeqID != 0 {
				l.mu.Lock()
				if msg.sourceSeqID > l.lastDeliveredSeqID {
					l.lastDeliveredSeqID = msg.sourceSeqID
				}
				l.mu.Unlock()
			}
		}
	}
}

func kindOf(isPartial bool) string {
	if isPartial {
		return "partial"
	}
	return "final"
}

// close stops the writer goroutine and closes the underlying connection. Safe to
// call multiple times.
func (l *Listener) close() {
	l.once.Do(func() {
		close(l.closed)
		_ = l.conn.Close()
	})
}

// Hub fans out a single session's CaptionEvents to its registered listeners. One Hub
// per live session, owned by the SessionSupervisor.
type Hub struct {
	sessionID string
	cfg       Config
	metrics   *metrics.Metrics
	log       zerolog.Logger

	mu        sync.RWMutex
	listeners map[string]*Listener

	// highestSeenEventSeq tracks, per sourceSeqId, the highest eventSeqId seen as a
	// partial. Set to math.MaxUint64 once a final for that sourceSeqId has been
	// published, blocking any further late partial (idempotent finality, spec §4.9).
	highestSeenEventSeq map[uint64]uint64
}

// NewHub creates a Hub for one session.
func NewHub(sessionID string, cfg Config, m *metrics.Metrics, log zerolog.Logger) *Hub {
	return &Hub{
		sessionID:            sessionID,
		cfg:                  cfg,
		metrics:              m,
		log:                  log.With().Str("sessionId", sessionID).Logger(),
		listeners:            make(map[string]*Listener),
		highestSeenEventSeq:  make(map[uint64]uint64),
	}
}

// Register accepts a new listener connection and starts its write pump.
func (h *Hub) Register(conn *websocket.Conn, targetLang string) *Listener {
	l := &Listener{
		ID:         uuid.NewString(),
		SessionID:  h.sessionID,
		TargetLang: targetLang,
		hub:        h,
		conn:       conn,
		log:        h.log,
		wake:       make(chan struct{}, 1),
		closed:     make(chan struct{}),
	}

	h.mu.Lock()
	h.listeners[l.ID] = l
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.RecordListenerJoined()
	}

	go l.writePump()
	return l
}

// Unregister removes a listener and closes its connection.
func (h *Hub) Unregister(listenerID string) {
	h.mu.Lock()
	l, ok := h.listeners[listenerID]
	if ok {
		delete(h.listeners, listenerID)
	}
	h.mu.Unlock()

	if !ok {
		return
	}
	l.close()
	if h.metrics != nil {
		h.metrics.RecordListenerLeft()
	}
}

// ListenerCount returns the number of currently registered listeners.
func (h *Hub) ListenerCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.listeners)
}

// Publish fans a CaptionEvent out to every listener whose targetLang matches (or, for
// source-language passthrough events, every listener). Out-of-order partial
// suppression happens here at ingest, before any listener ever sees the event.
func (h *Hub) Publish(ev models.CaptionEvent) {
	h.mu.Lock()
	if ev.SourceSeqId != nil {
		seq := *ev.SourceSeqId
		highest := h.highestSeenEventSeq[seq]
		if ev.IsPartial {
			if highest == math.MaxUint64 || ev.EventSeqId <= highest {
				h.mu.Unlock()
				return
			}
			h.highestSeenEventSeq[seq] = ev.EventSeqId
		} else {
			h.highestSeenEventSeq[seq] = math.MaxUint64
		}
	}

	targets := make([]*Listener, 0, len(h.listeners))
	for _, l := range h.listeners {
		if matchesListener(l, ev) {
			targets = append(targets, l)
		}
	}
	h.mu.Unlock()

	if len(targets) == 0 {
		return
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to marshal caption event")
		return
	}

	var seq uint64
	if ev.SourceSeqId != nil {
		seq = *ev.SourceSeqId
	}
	msg := outboundMsg{payload: payload, isPartial: ev.IsPartial, sourceSeqID: seq}
	for _, l := range targets {
		l.enqueue(msg)
	}
}

func matchesListener(l *Listener, ev models.CaptionEvent) bool {
	if ev.TargetLang == "" {
		return true
	}
	return l.TargetLang == ev.TargetLang
}

func (h *Hub) recordDropped(kind string) {
	if h.metrics != nil {
		h.metrics.RecordBroadcastDropped(kind)
	}
}

func (h *Hub) recordDelivered(kind string) {
	if h.metrics != nil {
		h.metrics.RecordBroadcastDelivered(kind)
	}
}

// Shutdown unregisters and closes every listener, giving in-flight writes up to
// grace to drain.
func (h *Hub) Shutdown(grace time.Duration) {
	h.mu.Lock()
	ids := make([]string, 0, len(h.listeners))
	for id := range h.listeners {
		ids = append(ids, id)
	}
	h.mu.Unlock()

	if grace > 0 {
		time.Sleep(grace)
	}
	for _, id := range ids {
		h.Unregister(id)
	}
}
