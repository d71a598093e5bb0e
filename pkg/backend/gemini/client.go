// Package gemini implements the backend boundary on the Google Gemini API
// (google.golang.org/genai): live audio sessions plus single-shot generation.
package gemini

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/genai"

	"github.com/insightify/voice-gateway/pkg/backend"
)

const (
	// DefaultLiveModel is the live-capable model used for voice sessions.
	DefaultLiveModel = "gemini-2.0-flash-exp"

	// DefaultVoice is the prebuilt voice for audio responses.
	DefaultVoice = "Puck"

	audioMIMEType = "audio/pcm"
)

// Client wraps a genai client for both the live relay and the responder.
type Client struct {
	genai     *genai.Client
	liveModel string
	voice     string
	logger    *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithLiveModel overrides the live session model.
func WithLiveModel(model string) Option {
	return func(c *Client) {
		if strings.TrimSpace(model) != "" {
			c.liveModel = strings.TrimSpace(model)
		}
	}
}

// WithVoice overrides the prebuilt voice name.
func WithVoice(voice string) Option {
	return func(c *Client) {
		if strings.TrimSpace(voice) != "" {
			c.voice = strings.TrimSpace(voice)
		}
	}
}

// WithLogger sets the session logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient builds a Gemini-backed client. A missing API key is a
// configuration error, reported before any session is attempted.
func NewClient(ctx context.Context, apiKey string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, &backend.Error{Kind: backend.KindAuth, Message: "missing api key"}
	}
	gc, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, classify(err, "create client")
	}
	c := &Client{
		genai:     gc,
		liveModel: DefaultLiveModel,
		voice:     DefaultVoice,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Generate runs one non-streaming completion against the given model.
func (c *Client) Generate(ctx context.Context, model, prompt string) (string, error) {
	resp, err := c.genai.Models.GenerateContent(ctx, model, genai.Text(prompt), nil)
	if err != nil {
		return "", classify(err, fmt.Sprintf("generate with %s", model))
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", &backend.Error{Kind: backend.KindInternal, Message: "empty completion"}
	}
	return text, nil
}
