// Live consultation session server: pairs seekers with astrologers over a
// billed real-time chat channel.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/instaastro/liveconsult/internal/api"
	"github.com/instaastro/liveconsult/internal/config"
	"github.com/instaastro/liveconsult/internal/events"
	"github.com/instaastro/liveconsult/internal/identity"
	"github.com/instaastro/liveconsult/internal/middleware"
	"github.com/instaastro/liveconsult/internal/session"
	"github.com/instaastro/liveconsult/internal/store"
	"github.com/instaastro/liveconsult/internal/wallet"
	"github.com/joho/godotenv"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(),
		"grace_period", cfg.GracePeriod, "billing_tick", cfg.BillingTick)

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	// Sessions left live by a previous process have no owner or grace timer
	// anymore; close them out before accepting connections.
	closed, err := repo.CloseOrphanedSessions(context.Background())
	if err != nil {
		slog.Error("Failed to close orphaned sessions", "error", err)
		os.Exit(1)
	}
	if closed > 0 {
		slog.Info("Closed orphaned sessions from previous run", "count", closed)
	}

	ledger, err := wallet.NewSQLiteLedger(repo.DB())
	if err != nil {
		slog.Error("Failed to initialize wallet ledger", "error", err)
		os.Exit(1)
	}

	var publisher events.Publisher = events.NopPublisher{}
	if cfg.AMQPURL != "" {
		amqpPub, err := events.NewAMQPPublisher(cfg.AMQPURL)
		if err != nil {
			slog.Error("Failed to connect to AMQP broker", "error", err)
			os.Exit(1)
		}
		publisher = amqpPub
		slog.Info("Ledger event export enabled")
	} else {
		slog.Info("Ledger event export disabled (AMQP_URL not set)")
	}
	defer publisher.Close()

	verifier := identity.NewHMACVerifier(cfg.TokenSecret)
	hub := session.NewHub(repo, ledger, publisher, cfg.GracePeriod, cfg.BillingTick)

	// Initialize handlers.
	restHandler := api.NewHandler(repo, ledger, hub, cfg.AdminToken)
	wsHandler := session.NewWebSocketHandler(hub, repo, verifier, cfg.FrontendURL, cfg.IsDevelopment())

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/healthz"))
	r.Use(middleware.CORS([]string{"*"}))

	// Live channel. The handler authenticates the token itself so that
	// rejections use websocket close codes the clients understand.
	r.Get("/chat/ws/{consultationID}", wsHandler.ServeHTTP)

	// REST surface behind the identity middleware.
	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(verifier))
		restHandler.RegisterRoutes(r)
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // live channel connections are long-lived
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// End live sessions first so no billing tick survives the server.
	hub.Shutdown(shutdownCtx)

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
