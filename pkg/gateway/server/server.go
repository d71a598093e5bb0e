// Package server assembles the HTTP surface of the voice gateway: the two
// websocket endpoints, the fallback chat endpoint, and the status probes.
package server

import (
	"log/slog"
	"net/http"

	"github.com/insightify/voice-gateway/pkg/backend"
	"github.com/insightify/voice-gateway/pkg/chat"
	"github.com/insightify/voice-gateway/pkg/gateway/config"
	"github.com/insightify/voice-gateway/pkg/gateway/handlers"
	"github.com/insightify/voice-gateway/pkg/gateway/ledger"
	"github.com/insightify/voice-gateway/pkg/gateway/mw"
	"github.com/insightify/voice-gateway/pkg/gateway/relay"
)

// Deps carries everything the route table needs.
type Deps struct {
	Config    config.Config
	Logger    *slog.Logger
	Backend   backend.SessionOpener
	Responder *chat.Responder
	Ledger    *ledger.Ledger
}

type Server struct {
	deps Deps
	mux  *http.ServeMux
}

func New(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	s := &Server{deps: deps, mux: http.NewServeMux()}
	s.routes()
	return s
}

func (s *Server) routes() {
	cfg := s.deps.Config

	s.mux.Handle("/healthz", handlers.HealthHandler{})
	s.mux.Handle("/v1/sessions", handlers.StatusHandler{Ledger: s.deps.Ledger})

	s.mux.Handle("/ws/agent", handlers.VoiceHandler{
		Backend:     s.deps.Backend,
		Ledger:      s.deps.Ledger,
		Logger:      s.deps.Logger,
		Instruction: cfg.Instruction,
		Relay: relay.Config{
			MaxSessionDuration: s.deps.Ledger.Policy().MaxSessionDuration,
			QueueSize:          cfg.RelayQueueSize,
		},
	})
	s.mux.Handle("/ws/voice-agent", handlers.TextHandler{
		Responder: s.deps.Responder,
		Logger:    s.deps.Logger,
	})
	s.mux.Handle("/chat", handlers.ChatHandler{Responder: s.deps.Responder})
}

// Handler returns the mux wrapped in the middleware chain. RequestID runs
// first so every later layer can log with it.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.CORS(s.deps.Config.CORSAllowedOrigins, h)
	h = mw.Recover(s.deps.Logger, h)
	h = mw.AccessLog(s.deps.Logger, h)
	h = mw.RequestID(h)
	return h
}
