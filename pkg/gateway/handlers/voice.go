package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/insightify/voice-gateway/pkg/backend"
	"github.com/insightify/voice-gateway/pkg/gateway/ledger"
	"github.com/insightify/voice-gateway/pkg/gateway/relay"
)

// VoiceHandler serves the duplex audio websocket on /ws/agent. Each
// accepted connection becomes one relay session against the live backend.
type VoiceHandler struct {
	Backend     backend.SessionOpener
	Ledger      *ledger.Ledger
	Logger      *slog.Logger
	Instruction string
	Relay       relay.Config
}

func (h VoiceHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	upgrader := websocket.Upgrader{
		// Origin policy is enforced by the CORS middleware in front of the
		// mux; the upgrade itself accepts any origin.
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	rl, err := relay.New(relay.Deps{
		Conn:        newWSConn(conn),
		Backend:     h.Backend,
		Ledger:      h.Ledger,
		Logger:      h.Logger,
		Instruction: h.Instruction,
		Config:      h.Relay,
	})
	if err != nil {
		if h.Logger != nil {
			h.Logger.Error("relay setup failed", "error", err)
		}
		_ = conn.Close()
		return
	}

	// Run owns the connection from here; it closes the transport with the
	// right close code on every path.
	rl.Run(r.Context())
}
