package broadcast

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"caption-relay/internal/models"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

// dialListener spins up a one-shot websocket server backed by the given Hub and
// returns a connected client conn for reading.
func dialListener(t *testing.T, h *Hub, targetLang string) (*websocket.Conn, func()) {
	t.Helper()
	var serverConn *websocket.Conn
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Fatalf("upgrade failed: %v", err)
		}
		serverConn = conn
		h.Register(conn, targetLang)
	}))

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	clientConn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}

	cleanup := func() {
		clientConn.Close()
		if serverConn != nil {
			serverConn.Close()
		}
		srv.Close()
	}
	return clientConn, cleanup
}

func newTestHub() *Hub {
	return NewHub("sess-1", DefaultConfig(), nil, zerolog.Nop())
}

func TestHub_PublishDeliversToMatchingListener(t *testing.T) {
	h := newTestHub()
	client, cleanup := dialListener(t, h, "es")
	defer cleanup()

	time.Sleep(20 * time.Millisecond)
	if h.ListenerCount() != 1 {
		t.Fatalf("expected 1 listener, got %d", h.ListenerCount())
	}

	seq := uint64(1)
	h.Publish(models.CaptionEvent{
		Type:         "translation",
		EventSeqId:   1,
		SourceSeqId:  &seq,
		IsPartial:    false,
		OriginalText: "hola",
		SourceLang:   "es",
		TargetLang:   "es",
	})

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := client.ReadMessage()
	if err != nil {
		t.Fatalf("expected to receive a message: %v", err)
	}
	if !strings.Contains(string(msg), "hola") {
		t.Errorf("unexpected message payload: %s", msg)
	}
}

func TestHub_PublishSkipsMismatchedTargetLang(t *testing.T) {
	h := newTestHub()
	client, cleanup := dialListener(t, h, "fr")
	defer cleanup()
	time.Sleep(20 * time.Millisecond)

	seq := uint64(1)
	h.Publish(models.CaptionEvent{
		Type:        "translation",
		EventSeqId:  1,
		SourceSeqId: &seq,
		IsPartial:   false,
		SourceLang:  "en",
		TargetLang:  "es",
	})

	client.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	if _, _, err := client.ReadMessage(); err == nil {
		t.Error("expected no message for a mismatched targetLang listener")
	}
}

func TestHub_OutOfOrderPartialSuppressed(t *testing.T) {
	h := newTestHub()
	seq := uint64(5)

	h.Publish(models.CaptionEvent{SourceSeqId: &seq, IsPartial: true, EventSeqId: 10, SourceLang: "en"})
	h.mu.RLock()
	highest := h.highestSeenEventSeq[seq]
	h.mu.RUnlock()
	if highest != 10 {
		t.Fatalf("expected highest seq 10, got %d", highest)
	}

	// A stale partial with a lower eventSeqId must not move the tracker backwards.
	h.Publish(models.CaptionEvent{SourceSeqId: &seq, IsPartial: true, EventSeqId: 3, SourceLang: "en"})
	h.mu.RLock()
	highest = h.highestSeenEventSeq[seq]
	h.mu.RUnlock()
	if highest != 10 {
		t.Errorf("expected highest seq to remain 10 after stale partial, got %d", highest)
	}
}

func TestHub_FinalBlocksLatePartials(t *testing.T) {
	h := newTestHub()
	seq := uint64(7)

	h.Publish(models.CaptionEvent{SourceSeqId: &seq, IsPartial: false, EventSeqId: 20, SourceLang: "en"})

	h.mu.RLock()
	listeners := len(h.listeners)
	h.mu.RUnlock()
	_ = listeners

	// A late partial arriving after the final for this sourceSeqId must be dropped.
	client, cleanup := dialListener(t, h, "")
	defer cleanup()
	time.Sleep(20 * time.Millisecond)

	h.Publish(models.CaptionEvent{SourceSeqId: &seq, IsPartial: true, EventSeqId: 21, SourceLang: "en"})

	client.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	if _, _, err := client.ReadMessage(); err == nil {
		t.Error("expected late partial after a final to be suppressed")
	}
}

func TestOldestPartialIndex(t *testing.T) {
	queue := []outboundMsg{
		{isPartial: false},
		{isPartial: true},
		{isPartial: true},
	}
	if idx := oldestPartialIndex(queue); idx != 1 {
		t.Errorf("expected index 1, got %d", idx)
	}

	allFinal := []outboundMsg{{isPartial: false}, {isPartial: false}}
	if idx := oldestPartialIndex(allFinal); idx != -1 {
		t.Errorf("expected -1 for all-final queue, got %d", idx)
	}
}

func TestRegistry_PutGetRemove(t *testing.T) {
	r := NewRegistry()
	h := newTestHub()

	if _, ok := r.Get("sess-1"); ok {
		t.Fatal("expected no hub before Put")
	}

	r.Put("sess-1", h)
	got, ok := r.Get("sess-1")
	if !ok || got != h {
		t.Fatal("expected to retrieve the registered hub")
	}

	r.Remove("sess-1")
	if _, ok := r.Get("sess-1"); ok {
		t.Error("expected hub to be gone after Remove")
	}
}

func TestHub_UnregisterIsIdempotent(t *testing.T) {
	h := newTestHub()
	client, cleanup := dialListener(t, h, "en")
	defer cleanup()
	time.Sleep(20 * time.Millisecond)

	h.mu.RLock()
	var id string
	for lid := range h.listeners {
		id = lid
	}
	h.mu.RUnlock()

	h.Unregister(id)
	h.Unregister(id) // should not panic
	_ = client

	if h.ListenerCount() != 0 {
		t.Errorf("expected 0 listeners after unregister, got %d", h.ListenerCount())
	}
}
