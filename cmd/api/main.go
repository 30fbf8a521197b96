// Package main is the entry point for the API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/helpdeskhq/support-chat/internal/audit"
	"github.com/helpdeskhq/support-chat/internal/auth"
	"github.com/helpdeskhq/support-chat/internal/config"
	"github.com/helpdeskhq/support-chat/internal/gateway"
	"github.com/helpdeskhq/support-chat/internal/handler"
	"github.com/helpdeskhq/support-chat/internal/middleware"
	natsclient "github.com/helpdeskhq/support-chat/internal/nats"
	"github.com/helpdeskhq/support-chat/internal/service"
	"github.com/helpdeskhq/support-chat/internal/store"
	"github.com/helpdeskhq/support-chat/internal/sweeper"
	"github.com/helpdeskhq/support-chat/pkg/logger"
	"github.com/helpdeskhq/support-chat/pkg/tracing"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("starting API server")

	// Initialize tracing if enabled
	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "support-chat", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	// Connect to NATS
	natsClient, err := natsclient.Connect(ctx, natsclient.Config{
		URL:      cfg.NATSURL,
		CAFile:   cfg.NATSCAFile,
		CertFile: cfg.NATSCertFile,
		KeyFile:  cfg.NATSKeyFile,
		Token:    cfg.NATSToken,
	}, log)
	if err != nil {
		log.Error("failed to connect to NATS", zap.Error(err))
		os.Exit(1)
	}
	defer natsClient.Close()

	// Ensure JetStream stream exists
	streamManager := natsclient.NewStreamManager(natsClient)
	if err := streamManager.EnsureStream(ctx); err != nil {
		log.Error("failed to ensure stream", zap.Error(err))
		os.Exit(1)
	}

	// Optional write-behind persistence
	var persister store.Persister
	if cfg.RedisAddr != "" {
		redisPersister, err := store.NewRedisPersister(store.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			log.Error("failed to connect to Redis", zap.Error(err))
			os.Exit(1)
		}
		defer redisPersister.Close()
		persister = redisPersister
	}

	// Initialize store and rehydrate persisted state
	sessionStore := store.NewMemory(persister, log)
	defer sessionStore.Stop()
	if err := sessionStore.Rehydrate(ctx); err != nil {
		log.Error("failed to rehydrate store", zap.Error(err))
		os.Exit(1)
	}

	// Identity bridge for agent access tokens
	directory := auth.NewStaticDirectory(cfg.AgentIDs...)
	bridge := auth.NewBridge(cfg.JWTSecret, directory, log)

	// Initialize services
	recorder := audit.NewStreamRecorder(streamManager, log)
	registry := gateway.NewRegistry()
	sessionSvc := service.NewSessionService(sessionStore, recorder, log)
	messageSvc := service.NewMessageService(sessionStore, registry, streamManager, log)

	// Initialize handlers
	healthHandler := handler.NewHealthHandler(natsClient)
	guestHandler := handler.NewGuestHandler(sessionSvc, messageSvc, log)
	sessionHandler := handler.NewSessionHandler(sessionSvc, log)
	messageHandler := handler.NewMessageHandler(messageSvc, log)
	streamHandler := handler.NewStreamHandler(sessionSvc, messageSvc, registry, log)
	tokenHandler := handler.NewTokenHandler(bridge, cfg.JWTExpiration, log)

	// Create router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.ResolveIdentity(bridge))
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With", handler.SecretTokenHeader},
		ExposedHeaders:   []string{"Link", "X-Correlation-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health endpoints (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		// Guest surface: authorized by session secret token, never by login
		r.Route("/guest", func(r chi.Router) {
			r.Post("/sessions", guestHandler.InitSession)
			r.Post("/messages", guestHandler.Send)
			r.Get("/messages/history", guestHandler.History)
			r.Post("/messages/read", guestHandler.MarkRead)
			r.Get("/stream", streamHandler.GuestStream)
		})

		// Agent surface: requires a resolved agent identity
		r.Route("/agent", func(r chi.Router) {
			r.Use(middleware.RequireAgent)

			r.Post("/token", tokenHandler.Refresh)
			r.Get("/conversations", sessionHandler.Conversations)

			r.Route("/sessions", func(r chi.Router) {
				r.Get("/", sessionHandler.List)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", sessionHandler.Get)
					r.Post("/claim", sessionHandler.Claim)
					r.Post("/release", sessionHandler.Release)
					r.Post("/close", sessionHandler.Close)

					r.Get("/messages", messageHandler.List)
					r.Post("/messages", messageHandler.Send)
					r.Post("/messages/read", messageHandler.MarkRead)
					r.Get("/unread", messageHandler.UnreadCount)

					r.Get("/stream", streamHandler.AgentStream)
				})
			})
		})
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      r,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	idleSweeper := sweeper.New(sessionSvc, cfg.SweepSchedule, cfg.IdleTimeout, log)

	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gCtx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		if err := idleSweeper.Start(); err != nil {
			return err
		}
		<-gCtx.Done()
		idleSweeper.Stop()
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		log.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("server error", zap.Error(err))
		os.Exit(1)
	}

	log.Info("server stopped")
}
