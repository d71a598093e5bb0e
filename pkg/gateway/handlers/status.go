package handlers

import (
	"net/http"

	"github.com/insightify/voice-gateway/pkg/gateway/ledger"
)

// StatusHandler reports session quota usage on /v1/sessions.
type StatusHandler struct {
	Ledger *ledger.Ledger
}

func (h StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, h.Ledger.Status())
}
