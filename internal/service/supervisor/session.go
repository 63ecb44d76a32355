// Package supervisor implements the SessionSupervisor (spec §4.10): it wires one
// session's STT handler, ListenerBroadcaster hub, and TranslationRouter together,
// and owns that session's shutdown sequencing. Grounded on the teacher's
// cmd/main.go / internal/api/grpc/server.go wiring and graceful-stop sequencing.
package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"caption-relay/internal/models"
	"caption-relay/internal/observability/metrics"
	"caption-relay/internal/schema"
	"caption-relay/internal/service/audio"
	"caption-relay/internal/service/broadcast"
	"caption-relay/internal/service/translation"
)

// finalTranslationGrace bounds how long a final translation may run past session
// shutdown before being abandoned (spec §5: "a pending final translation that was
// about to be published is allowed to finish up to a grace window (e.g., 2s) then
// abandoned").
const finalTranslationGrace = 2 * time.Second

// Session binds one live caption session's Handler to its broadcast Hub and
// TranslationRouter: every CaptionEvent the Handler emits is both broadcast
// verbatim (source-language passthrough) and fanned out through the router to each
// configured target language, each producing its own translated CaptionEvent.
type Session struct {
	ID          string
	targetLangs []string

	handler *audio.Handler
	hub     *broadcast.Hub
	router  *translation.Router
	log     zerolog.Logger
	metrics *metrics.Metrics

	validator *schema.Validator

	mu       sync.Mutex
	cancels  map[string]context.CancelFunc
	shutdown bool
}

// NewSession wires handler to hub and router and registers the Handler's caption
// event callback. targetLangs may be empty, in which case only the source-language
// passthrough event is ever broadcast.
func NewSession(id string, handler *audio.Handler, hub *broadcast.Hub, router *translation.Router, targetLangs []string, m *metrics.Metrics, log zerolog.Logger) *Session {
	s := &Session{
		ID:          id,
		targetLangs: targetLangs,
		handler:     handler,
		hub:         hub,
		router:      router,
		metrics:     m,
		log:         log.With().Str("sessionId", id).Logger(),
		validator:   schema.New(),
		cancels:     make(map[string]context.CancelFunc),
	}
	handler.SetCaptionEventCallback(s.onCaptionEvent)
	return s
}

// Handler returns the session's audio.Handler, for the gRPC layer to feed audio
// frames into.
func (s *Session) Handler() *audio.Handler {
	return s.handler
}

// publish validates ev against the wire schema before broadcasting it, dropping
// and logging rather than handing a malformed event to a listener socket.
func (s *Session) publish(ev models.CaptionEvent) {
	if err := s.validator.Validate(ev); err != nil {
		s.log.Warn().Err(err).Uint64("eventSeqId", ev.EventSeqId).Msg("dropping invalid caption event")
		return
	}
	s.hub.Publish(ev)
}

func (s *Session) onCaptionEvent(ev models.CaptionEvent) {
	s.publish(ev)

	if len(s.targetLangs) == 0 {
		return
	}
	if ev.IsPartial {
		go s.translatePartial(ev)
	} else {
		go s.translateFinal(ev)
	}
}

func (s *Session) translatePartial(ev models.CaptionEvent) {
	key := s.ID
	if ev.SourceSeqId != nil {
		key = fmt.Sprintf("%s:%d", s.ID, *ev.SourceSeqId)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		cancel()
		return
	}
	if prior, ok := s.cancels[key]; ok {
		prior()
	}
	s.cancels[key] = cancel
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		if s.cancels[key] != nil {
			delete(s.cancels, key)
		}
		s.mu.Unlock()
		cancel()
	}()

	results := s.router.TranslatePartial(ctx, key, ev.OriginalText, ev.SourceLang, s.targetLangs)
	for lang, text := range results {
		s.publish(withTranslation(ev, lang, text))
	}
}

func (s *Session) translateFinal(ev models.CaptionEvent) {
	s.mu.Lock()
	shuttingDown := s.shutdown
	s.mu.Unlock()
	if shuttingDown {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), finalTranslationGrace)
	defer cancel()

	results, err := s.router.TranslateFinal(ctx, ev.OriginalText, ev.SourceLang, s.targetLangs)
	if err != nil {
		s.log.Warn().Err(err).Msg("final translation failed, listeners get the source-language passthrough only")
		return
	}
	for lang, text := range results {
		s.publish(withTranslation(ev, lang, text))
	}
}

func withTranslation(ev models.CaptionEvent, targetLang, translated string) models.CaptionEvent {
	out := ev
	out.TargetLang = targetLang
	out.TranslatedText = &translated
	out.HasTranslation = true
	return out
}

// Shutdown cancels every in-flight partial translation, stops accepting new ones,
// closes the STT session, and drains the broadcast hub's listener queues over
// grace (spec §5 shutdown sequencing).
func (s *Session) Shutdown(grace time.Duration) {
	s.mu.Lock()
	s.shutdown = true
	for key, cancel := range s.cancels {
		cancel()
		delete(s.cancels, key)
	}
	s.mu.Unlock()

	if err := s.handler.Close(); err != nil {
		s.log.Warn().Err(err).Msg("error closing STT handler during shutdown")
	}
	s.hub.Shutdown(grace)
}
