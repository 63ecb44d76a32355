package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"caption-relay/internal/events"
	"caption-relay/internal/observability/metrics"
	"caption-relay/internal/service/audio"
	"caption-relay/internal/service/broadcast"
	"caption-relay/internal/service/segment"
	"caption-relay/internal/service/stt"
	"caption-relay/internal/service/translation"
)

// Supervisor owns every live session: it creates the Handler/Hub/Router triple for
// a new stream, registers the Hub in the shared broadcast.Registry so the HTTP
// listener-join route can find it, and tears sessions down on stream end or
// process shutdown.
type Supervisor struct {
	hubs *broadcast.Registry

	translationAPIKey string
	translationCfg    translation.Config
	broadcastCfg      broadcast.Config
	segmentLimits     audio.SegmentLimits

	metrics *metrics.Metrics
	log     zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// New builds a Supervisor. hubs is shared with the HTTP layer so listener
// websocket upgrades can look up a session's Hub by id.
func New(hubs *broadcast.Registry, translationAPIKey string, translationCfg translation.Config, broadcastCfg broadcast.Config, segmentLimits audio.SegmentLimits, m *metrics.Metrics, log zerolog.Logger) *Supervisor {
	return &Supervisor{
		hubs:              hubs,
		translationAPIKey: translationAPIKey,
		translationCfg:    translationCfg,
		broadcastCfg:      broadcastCfg,
		segmentLimits:     segmentLimits,
		metrics:           m,
		log:               log,
		sessions:          make(map[string]*Session),
	}
}

// StartSession creates and starts a new session's Handler/Hub/Router, registers
// the Hub for listener discovery, and begins the STT stream.
func (sv *Supervisor) StartSession(ctx context.Context, sessionID string, adapter stt.Adapter, publisher *events.Publisher, idGen *segment.IDGenerator, seqGen *segment.SeqGenerator, sourceLang string, targetLangs []string) (*Session, error) {
	handler := audio.NewHandlerWithLimits(adapter, publisher, idGen, seqGen, sessionID, sourceLang, sv.segmentLimits)

	hub := broadcast.NewHub(sessionID, sv.broadcastCfg, sv.metrics, sv.log)
	router := translation.New(sv.translationAPIKey, sv.translationCfg, sv.metrics, sv.log)

	sess := NewSession(sessionID, handler, hub, router, targetLangs, sv.metrics, sv.log)

	sv.mu.Lock()
	if _, exists := sv.sessions[sessionID]; exists {
		sv.mu.Unlock()
		return nil, fmt.Errorf("supervisor: session %q already exists", sessionID)
	}
	sv.sessions[sessionID] = sess
	sv.mu.Unlock()
	sv.hubs.Put(sessionID, hub)

	if err := handler.Start(ctx); err != nil {
		sv.EndSession(sessionID, 0)
		return nil, fmt.Errorf("start STT session: %w", err)
	}
	return sess, nil
}

// Session returns the live session for id, if any.
func (sv *Supervisor) Session(sessionID string) (*Session, bool) {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	sess, ok := sv.sessions[sessionID]
	return sess, ok
}

// EndSession tears down one session: cancels in-flight translations, closes the
// STT handler, and drains listener queues over grace.
func (sv *Supervisor) EndSession(sessionID string, grace time.Duration) {
	sv.mu.Lock()
	sess, ok := sv.sessions[sessionID]
	delete(sv.sessions, sessionID)
	sv.mu.Unlock()

	if !ok {
		return
	}
	sess.Shutdown(grace)
	sv.hubs.Remove(sessionID)
}

// Shutdown tears down every live session, for process-level graceful stop.
func (sv *Supervisor) Shutdown(grace time.Duration) {
	sv.mu.Lock()
	ids := make([]string, 0, len(sv.sessions))
	for id := range sv.sessions {
		ids = append(ids, id)
	}
	sv.mu.Unlock()

	for _, id := range ids {
		sv.EndSession(id, grace)
	}
}

// SessionCount reports the number of currently live sessions.
func (sv *Supervisor) SessionCount() int {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	return len(sv.sessions)
}
