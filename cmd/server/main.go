// Command server wires the Upstream Feed Client, Session Registry,
// Persistence Adapter and downstream WebSocket server into one
// process, following the same startup/shutdown shape as the teacher's
// monolithic mode: load config, build collaborators, serve until a
// signal arrives, then drain with a bounded deadline.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	_ "go.uber.org/automaxprocs"

	"github.com/tickwatch/alertserver/internal/clock"
	"github.com/tickwatch/alertserver/internal/config"
	"github.com/tickwatch/alertserver/internal/downstream"
	"github.com/tickwatch/alertserver/internal/limits"
	"github.com/tickwatch/alertserver/internal/logging"
	"github.com/tickwatch/alertserver/internal/metrics"
	"github.com/tickwatch/alertserver/internal/persistence"
	"github.com/tickwatch/alertserver/internal/scrip"
	"github.com/tickwatch/alertserver/internal/session"
	"github.com/tickwatch/alertserver/internal/upstream"
)

func main() {
	bootLogger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).With().Timestamp().Logger()

	cfg, err := config.Load(&bootLogger)
	if err != nil {
		bootLogger.Fatal().Err(err).Msg("failed to load configuration")
	}

	logger := logging.New(config.LogLevel(cfg.LogLevel), config.LogFormat(cfg.LogFormat))
	log.Logger = logger
	cfg.LogConfig(logger)

	metrics.Register()

	clk, err := clock.NewReal(cfg.MarketTZ, cfg.SquareOffWindowStart, cfg.SquareOffWindowEnd)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build market clock")
	}

	directory := scrip.NewDirectory()

	feed := upstream.New(cfg, logger)
	feedCtx, feedCancel := context.WithCancel(context.Background())

	var store persistence.Store
	pgCtx, pgCancel := context.WithTimeout(context.Background(), 10*time.Second)
	pg, err := persistence.NewPostgresStore(pgCtx, persistence.PostgresConfig{URL: cfg.DatabaseURL}, logger)
	pgCancel()
	if err != nil {
		logger.Warn().Err(err).Msg("persistence store unavailable, sessions will not survive a restart")
	} else {
		store = persistence.NewGuardedStore(pg, logger)
	}

	sessionCfg := session.Config{
		PerTradeCap:              cfg.PerTradeCap,
		AutoSquareOff:            cfg.AutoSquareOff,
		AllowAveraging:           false,
		QueueDepth:               cfg.CommandQueue,
		PersistenceFlushInterval: cfg.PersistenceFlushInterval,
		SessionTTLWarm:           cfg.SessionTTLWarm,
		SessionTTLCold:           cfg.SessionTTLCold,
	}
	registry := session.NewRegistry(feed, directory, store, clk, sessionCfg, logger)

	registryCtx, registryCancel := context.WithCancel(context.Background())
	registryDone := make(chan struct{})
	go func() {
		defer close(registryDone)
		registry.Run(registryCtx)
	}()

	// tokens verifies the bearer identity token a reconnecting client
	// presents alongside the optional user_id query parameter on
	// /stream/{session_id} (spec.md §6); minting it is the out-of-scope
	// HTTP login collaborator's job.
	tokens := downstream.NewTokenIssuer(cfg.JWTSigningKey, 24*time.Hour)
	wsServer := downstream.NewServer(logger, registry, tokens, cfg.ChannelSendQueue, cfg.MaxConnections)

	guard := limits.NewGuard(cfg, logger, wsServer.ActiveConnections)
	wsServer.SetGuard(guard)
	feed.SetGuard(guard)

	guardCtx, guardCancel := context.WithCancel(context.Background())
	go guard.StartMonitoring(guardCtx, cfg.MetricsInterval)
	go feed.Run(feedCtx)

	mux := http.NewServeMux()
	mux.Handle("/stream/{session_id}", wsServer)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: mux,
	}

	go func() {
		logger.Info().Str("addr", cfg.Addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	logger.Info().Msg("shutdown signal received, draining")

	wsServer.Shutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http server shutdown error")
	}
	shutdownCancel()

	registryCancel()
	select {
	case <-registryDone:
	case <-time.After(12 * time.Second):
		logger.Warn().Msg("registry shutdown exceeded its deadline")
	}

	guardCancel()
	feedCancel()

	if store != nil {
		store.Close()
	}

	logger.Info().Msg("shutdown complete")
}
