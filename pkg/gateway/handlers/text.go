package handlers

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/insightify/voice-gateway/pkg/chat"
)

type textTurn struct {
	Text string `json:"text"`
}

type textReply struct {
	Response string `json:"response"`
}

// TextHandler serves the text conversation websocket on /ws/voice-agent.
// One JSON message in, one JSON reply out; a failed turn answers with a
// fallback message instead of dropping the connection.
type TextHandler struct {
	Responder *chat.Responder
	Logger    *slog.Logger
}

func (h TextHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	for {
		var turn textTurn
		if err := conn.ReadJSON(&turn); err != nil {
			// Client left or sent garbage; either way the loop is over.
			return
		}
		if strings.TrimSpace(turn.Text) == "" {
			continue
		}

		reply := h.Responder.Respond(r.Context(), turn.Text)
		if err := conn.WriteJSON(textReply{Response: reply}); err != nil {
			if h.Logger != nil {
				h.Logger.Debug("text reply write failed", "error", err)
			}
			return
		}
	}
}
