// Package chat implements the single-shot question flow: contextual lookup,
// prompt assembly, and generation against an ordered model ladder. It always
// resolves to user-safe text; callers never see a raw backend error.
package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/insightify/voice-gateway/pkg/backend"
	"github.com/insightify/voice-gateway/pkg/store"
)

// DefaultModels is the fallback ladder, most capable and cheapest first.
var DefaultModels = []string{
	"gemini-2.5-flash",
	"gemini-flash-latest",
	"gemini-2.0-flash",
	"gemini-2.5-pro",
	"gemini-pro-latest",
}

const contextLimit = 5

// User-safe terminal messages, selected by the last failure's kind.
const (
	msgQuota   = "The assistant is rate limited right now. Please try again later."
	msgAuth    = "The assistant is misconfigured. Please contact support."
	msgGeneric = "Sorry, I encountered an error processing your request. Please try again."
)

// ContextStore is the document-store read the responder depends on. A nil
// store or a failed lookup degrades to an empty context, never to an error.
type ContextStore interface {
	SearchReviews(ctx context.Context, query string, limit int) ([]store.Review, error)
}

// Responder answers one question per call.
type Responder struct {
	store     ContextStore
	generator backend.Generator
	models    []string
	logger    *slog.Logger
}

// New builds a Responder. Store may be nil; models defaults to DefaultModels.
func New(st ContextStore, gen backend.Generator, models []string, logger *slog.Logger) (*Responder, error) {
	if gen == nil {
		return nil, fmt.Errorf("generator is required")
	}
	if len(models) == 0 {
		models = DefaultModels
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Responder{store: st, generator: gen, models: models, logger: logger}, nil
}

// Respond answers the user's message. Every failure path resolves to a safe
// textual response.
func (r *Responder) Respond(ctx context.Context, message string) string {
	prompt := r.buildPrompt(ctx, message)

	var lastErr error
	for _, model := range r.models {
		text, err := r.generator.Generate(ctx, model, prompt)
		if err == nil {
			return text
		}
		lastErr = err
		kind := backend.KindOf(err)
		r.logger.Warn("model attempt failed", "model", model, "kind", kind, "error", err)
		if ctx.Err() != nil {
			break
		}
	}

	r.logger.Error("all models failed", "models", len(r.models), "error", lastErr)
	return fallbackMessage(lastErr)
}

func (r *Responder) buildPrompt(ctx context.Context, message string) string {
	contextStr := r.lookupContext(ctx, message)

	var b strings.Builder
	b.WriteString("You are an expert app analyst. Answer the user's question based on the following app reviews.\n\n")
	b.WriteString("Context (Reviews):\n")
	b.WriteString(contextStr)
	b.WriteString("\n\nUser Question: ")
	b.WriteString(message)
	b.WriteString("\n\nPlease provide a helpful and concise answer.")
	return b.String()
}

// lookupContext fetches a bounded set of contextual records. Empty results
// and lookup failures both yield an empty context.
func (r *Responder) lookupContext(ctx context.Context, query string) string {
	if r.store == nil {
		return ""
	}
	reviews, err := r.store.SearchReviews(ctx, query, contextLimit)
	if err != nil {
		r.logger.Warn("context lookup failed", "error", err)
		return ""
	}
	lines := make([]string, 0, len(reviews))
	for _, rev := range reviews {
		lines = append(lines, rev.String())
	}
	return strings.Join(lines, "\n")
}

func fallbackMessage(err error) string {
	switch backend.KindOf(err) {
	case backend.KindQuotaExceeded:
		return msgQuota
	case backend.KindAuth:
		return msgAuth
	default:
		return msgGeneric
	}
}
