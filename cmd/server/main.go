package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/push-protocol/push-vnode-sub003/internal/api"
	"github.com/push-protocol/push-vnode-sub003/internal/api/middleware"
	"github.com/push-protocol/push-vnode-sub003/internal/config"
	"github.com/push-protocol/push-vnode-sub003/internal/fanout"
	"github.com/push-protocol/push-vnode-sub003/internal/gating"
	"github.com/push-protocol/push-vnode-sub003/internal/handlers"
	"github.com/push-protocol/push-vnode-sub003/internal/notify"
	"github.com/push-protocol/push-vnode-sub003/internal/presence"
	"github.com/push-protocol/push-vnode-sub003/internal/proof"
	"github.com/push-protocol/push-vnode-sub003/internal/protocol"
	"github.com/push-protocol/push-vnode-sub003/internal/rules"
	"github.com/push-protocol/push-vnode-sub003/internal/store"
)

const sweepInterval = time.Hour

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	} else {
		logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Logger()
	}

	ctx := context.Background()

	if cfg.DatabaseURL == "" {
		logger.Fatal().Msg("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		logger.Fatal().Msg("REDIS_URL is required")
	}

	// Initialize PostgreSQL store and run migrations
	pgStore, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres connection failed")
	}
	defer pgStore.Close()
	logger.Info().Msg("running database migrations...")
	if err := pgStore.RunMigrations(ctx); err != nil {
		logger.Fatal().Err(err).Msg("migration failed")
	}
	logger.Info().Msg("connected to PostgreSQL")

	// Initialize Redis store
	redisStore, err := store.NewRedisStore(ctx, cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis connection failed")
	}
	defer redisStore.Close()
	logger.Info().Msg("connected to Redis")

	// Gating capabilities
	chain := gating.NewChainClient(cfg.RPCEndpoints, logger)
	defer chain.Close()
	var roleQuerier rules.RoleQuerier
	if cfg.RoleServiceURL != "" {
		roleQuerier = gating.NewRoleClient(cfg.RoleServiceURL, redisStore.Client(), logger)
	}
	engine := rules.NewEngine(chain, roleQuerier, gating.NewEndpointChecker(), 10*time.Second, logger)
	owners := gating.NewOwnerResolver(chain, redisStore.Client(), logger)

	// Blob replication (optional secondary store)
	var blobs protocol.Replicator
	if cfg.BlobReplicaURL != "" {
		blobs = store.NewBlobStore(cfg.BlobReplicaURL, logger)
	}

	// Live delivery and notifications
	hub := fanout.NewHub(logger)
	dispatcher := fanout.NewDispatcher(hub, logger)
	notifier := notify.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
	defer notifier.Close()
	tracker := presence.NewTracker(redisStore.Client(), cfg.MaxConnectionsPerDID, logger)

	// Protocol engine
	verifier := proof.NewVerifier(protocol.ProfileKeyResolver{Profiles: pgStore}, logger)
	limits := protocol.DefaultLimits()
	limits.MaxMembersPublic = cfg.MaxMembersPublic
	limits.MaxMembersPrivate = cfg.MaxMembersPrivate
	svc := protocol.NewService(pgStore, redisStore, blobs, verifier, engine, owners, dispatcher, notifier, limits, logger)

	// Space retention sweep
	sweepDone := make(chan struct{})
	go func() {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if _, err := svc.SweepExpiredSpaces(ctx); err != nil {
					logger.Warn().Err(err).Msg("space sweep failed")
				}
			case <-sweepDone:
				return
			}
		}
	}()

	// Create router
	h := handlers.NewHandler(svc, pgStore, redisStore, tracker, hub, logger)
	router := api.NewRouter(logger, h, redisStore.Client(), middleware.RateLimiterConfig{
		Whitelist:        cfg.RateLimitWhitelist,
		AutoBlockEnabled: !cfg.IsDevelopment(),
	})

	// Create server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("env", cfg.Env).
			Msg("starting wmesh node")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server...")
	close(sweepDone)

	// Graceful shutdown with 30 second timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server forced to shutdown")
	}

	logger.Info().Msg("server stopped")
}
