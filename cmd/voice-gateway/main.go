// Command voice-gateway runs the duplex audio relay service: it admits
// client websocket sessions, bridges them to the live conversational
// backend, and serves the text fallback endpoints.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/insightify/voice-gateway/internal/dotenv"
	"github.com/insightify/voice-gateway/pkg/backend/gemini"
	"github.com/insightify/voice-gateway/pkg/billing"
	"github.com/insightify/voice-gateway/pkg/chat"
	"github.com/insightify/voice-gateway/pkg/gateway/config"
	"github.com/insightify/voice-gateway/pkg/gateway/ledger"
	"github.com/insightify/voice-gateway/pkg/gateway/server"
	"github.com/insightify/voice-gateway/pkg/store"
)

func buildHTTPServer(cfg config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
	}
}

// sessionPolicy starts from the billing tier defaults and lets explicit
// config overrides win.
func sessionPolicy(ctx context.Context, cfg config.Config, logger *slog.Logger) ledger.Policy {
	var checker billing.SubscriptionChecker
	if c := billing.NewStripeChecker(cfg.StripeAPIKey); c != nil {
		checker = c
	}
	tier := billing.ResolveTier(ctx, checker, logger)
	policy := billing.PolicyFor(tier)
	logger.Info("session policy resolved", "tier", tier,
		"max_sessions_per_day", policy.MaxSessionsPerDay,
		"max_session_duration", policy.MaxSessionDuration)

	if cfg.MaxSessionsPerDay > 0 {
		policy.MaxSessionsPerDay = cfg.MaxSessionsPerDay
	}
	if cfg.MaxSessionDuration > 0 {
		policy.MaxSessionDuration = cfg.MaxSessionDuration
	}
	return policy
}

func run(ctx context.Context, logger *slog.Logger) error {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	client, err := gemini.NewClient(ctx, cfg.GoogleAPIKey,
		gemini.WithLiveModel(cfg.LiveModel),
		gemini.WithVoice(cfg.Voice),
		gemini.WithLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("init backend client: %w", err)
	}

	var reviews chat.ContextStore
	if cfg.DatabaseURL != "" {
		pg, err := store.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer pg.Close()
		if err := pg.Migrate(); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
		reviews = pg
	} else {
		logger.Info("no database configured, chat answers without review context")
	}

	responder, err := chat.New(reviews, client, cfg.ChatModels, logger)
	if err != nil {
		return fmt.Errorf("init chat responder: %w", err)
	}

	led := ledger.New(sessionPolicy(ctx, cfg, logger))

	gw := server.New(server.Deps{
		Config:    cfg,
		Logger:    logger,
		Backend:   client,
		Responder: responder,
		Ledger:    led,
	})
	httpSrv := buildHTTPServer(cfg, gw.Handler())

	logger.Info("starting voice gateway", "addr", cfg.Addr, "live_model", cfg.LiveModel)

	listenErrCh := make(chan error, 1)
	go func() {
		err := httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErrCh <- err
			return
		}
		listenErrCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case err := <-listenErrCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	if err := <-listenErrCh; err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	logger.Info("voice gateway stopped")
	return nil
}

func runMain(ctx context.Context, stderr io.Writer) int {
	if stderr == nil {
		stderr = os.Stderr
	}
	logger := slog.New(slog.NewTextHandler(stderr, nil))

	if err := dotenv.Load(".env", ".env.local"); err != nil {
		fmt.Fprintf(stderr, "voice-gateway: %v\n", err)
		return 1
	}
	if err := run(ctx, logger); err != nil {
		fmt.Fprintf(stderr, "voice-gateway: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Stderr))
}
