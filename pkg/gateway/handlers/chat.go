package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/insightify/voice-gateway/pkg/chat"
)

type chatRequest struct {
	Message string `json:"message"`
}

type chatResponse struct {
	Response string `json:"response"`
}

// ChatHandler answers one-shot text questions on POST /chat. The responder
// absorbs backend failures, so the endpoint always returns 200 once the
// request parses.
type ChatHandler struct {
	Responder *chat.Responder
}

func (h ChatHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeJSONError(w, http.StatusBadRequest, "message is required")
		return
	}

	reply := h.Responder.Respond(r.Context(), req.Message)
	writeJSON(w, http.StatusOK, chatResponse{Response: reply})
}
