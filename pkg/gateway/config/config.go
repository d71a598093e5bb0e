// Package config loads gateway configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// DefaultInstruction primes the live backend session before any audio.
const DefaultInstruction = "You are an expert Google Play Store App Growth Mentor. " +
	"Your goal is to help app developers improve their app reviews, ratings, and revenue. " +
	"Speak concisely and professionally but with an encouraging tone. " +
	"Start by introducing yourself briefly."

type Config struct {
	Addr string

	// Backend
	GoogleAPIKey string
	LiveModel    string
	Voice        string
	Instruction  string

	// Fallback ladder for the non-streaming paths; empty uses the built-in
	// default order.
	ChatModels []string

	// Quota overrides. Zero means "use the billing tier's default".
	MaxSessionsPerDay  int
	MaxSessionDuration time.Duration

	// Relay
	RelayQueueSize int

	// Optional integrations.
	StripeAPIKey string
	DatabaseURL  string

	// CORS
	CORSAllowedOrigins map[string]struct{} // empty => disabled

	// Operational defaults
	ReadHeaderTimeout   time.Duration
	ReadTimeout         time.Duration
	ShutdownGracePeriod time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                envOr("GATEWAY_ADDR", ":8081"),
		GoogleAPIKey:        strings.TrimSpace(os.Getenv("GOOGLE_API_KEY")),
		LiveModel:           envOr("GATEWAY_LIVE_MODEL", "gemini-2.0-flash-exp"),
		Voice:               envOr("GATEWAY_VOICE", "Puck"),
		Instruction:         envOr("GATEWAY_INSTRUCTION", DefaultInstruction),
		ChatModels:          splitCSV(os.Getenv("GATEWAY_CHAT_MODELS")),
		MaxSessionsPerDay:   envIntOr("GATEWAY_MAX_SESSIONS_PER_DAY", 0),
		MaxSessionDuration:  envDurationOr("GATEWAY_MAX_SESSION_DURATION", 0),
		RelayQueueSize:      envIntOr("GATEWAY_RELAY_QUEUE_SIZE", 256),
		StripeAPIKey:        strings.TrimSpace(os.Getenv("STRIPE_API_KEY")),
		DatabaseURL:         strings.TrimSpace(os.Getenv("DATABASE_URL")),
		CORSAllowedOrigins:  make(map[string]struct{}),
		ReadHeaderTimeout:   envDurationOr("GATEWAY_READ_HEADER_TIMEOUT", 10*time.Second),
		ReadTimeout:         envDurationOr("GATEWAY_READ_TIMEOUT", 30*time.Second),
		ShutdownGracePeriod: envDurationOr("GATEWAY_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
	}

	for _, origin := range splitCSV(os.Getenv("GATEWAY_CORS_ORIGINS")) {
		cfg.CORSAllowedOrigins[origin] = struct{}{}
	}

	if cfg.GoogleAPIKey == "" {
		return Config{}, fmt.Errorf("GOOGLE_API_KEY must be set")
	}
	if strings.TrimSpace(cfg.LiveModel) == "" {
		return Config{}, fmt.Errorf("GATEWAY_LIVE_MODEL must not be empty")
	}
	if strings.TrimSpace(cfg.Voice) == "" {
		return Config{}, fmt.Errorf("GATEWAY_VOICE must not be empty")
	}
	if cfg.MaxSessionsPerDay < 0 {
		return Config{}, fmt.Errorf("GATEWAY_MAX_SESSIONS_PER_DAY must be >= 0")
	}
	if cfg.MaxSessionDuration < 0 {
		return Config{}, fmt.Errorf("GATEWAY_MAX_SESSION_DURATION must be >= 0")
	}
	if cfg.RelayQueueSize <= 0 {
		return Config{}, fmt.Errorf("GATEWAY_RELAY_QUEUE_SIZE must be > 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("GATEWAY_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ReadTimeout <= 0 {
		return Config{}, fmt.Errorf("GATEWAY_READ_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("GATEWAY_SHUTDOWN_GRACE_PERIOD must be > 0")
	}

	return cfg, nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
