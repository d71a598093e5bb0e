package gemini

import (
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/genai"

	"github.com/insightify/voice-gateway/pkg/backend"
)

// classify maps a raw genai failure onto the backend error taxonomy. This is
// the only place provider status codes are inspected.
func classify(err error, op string) error {
	if err == nil {
		return nil
	}

	var apiErr genai.APIError
	if !errors.As(err, &apiErr) {
		return &backend.Error{Kind: backend.KindUnavailable, Message: op, Cause: err}
	}

	kind := kindFromStatus(apiErr.Status)
	// HTTP code wins over ambiguous status strings.
	switch apiErr.Code {
	case http.StatusTooManyRequests:
		kind = backend.KindQuotaExceeded
	case http.StatusUnauthorized, http.StatusForbidden:
		kind = backend.KindAuth
	case http.StatusNotFound:
		kind = backend.KindModelNotFound
	case http.StatusServiceUnavailable:
		kind = backend.KindUnavailable
	}

	return &backend.Error{
		Kind:    kind,
		Message: fmt.Sprintf("%s: %s", op, apiErr.Message),
		Cause:   err,
	}
}

func kindFromStatus(status string) backend.ErrorKind {
	switch status {
	case "RESOURCE_EXHAUSTED":
		return backend.KindQuotaExceeded
	case "UNAUTHENTICATED", "PERMISSION_DENIED":
		return backend.KindAuth
	case "NOT_FOUND":
		return backend.KindModelNotFound
	case "UNAVAILABLE", "DEADLINE_EXCEEDED":
		return backend.KindUnavailable
	default:
		return backend.KindInternal
	}
}
