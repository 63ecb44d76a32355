// Package http provides the HTTP surface: health checks and the listener websocket
// upgrade mount (spec §6 "listener_join/listener_leave").
package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"caption-relay/internal/app"
	"caption-relay/internal/service/broadcast"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// NewRouter constructs the HTTP router for the service.
func NewRouter(application *app.Application, hubs *broadcast.Registry) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/v1/liveness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/v1/readiness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	r.Route("/v1/sessions/{sessionId}", func(r chi.Router) {
		r.Get("/listen", listenerJoinHandler(hubs))
	})

	return r
}

// listenerJoinHandler upgrades the connection to a websocket and registers the
// caller as a listener on the named session's broadcast hub. targetLang is read
// from the query string per spec §6.
func listenerJoinHandler(hubs *broadcast.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := chi.URLParam(r, "sessionId")
		hub, ok := hubs.Get(sessionID)
		if !ok {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}

		targetLang := r.URL.Query().Get("targetLang")

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn().Err(err).Str("sessionId", sessionID).Msg("listener websocket upgrade failed")
			return
		}

		listener := hub.Register(conn, targetLang)

		go func() {
			defer hub.Unregister(listener.ID)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
	}
}
