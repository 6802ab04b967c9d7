package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Presence/internal/adapters/auth"
	router "github.com/dkeye/Presence/internal/adapters/http"
	"github.com/dkeye/Presence/internal/app"
	"github.com/dkeye/Presence/internal/app/orch"
	"github.com/dkeye/Presence/internal/audit"
	"github.com/dkeye/Presence/internal/config"
	"github.com/dkeye/Presence/internal/metrics"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Global logger first, so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	setupLogger(cfg.Log)

	verifier, err := auth.NewJWTVerifier(cfg.JWT.Secret, cfg.JWT.Issuer)
	if err != nil {
		log.Fatal().Err(err).Msg("jwt verifier")
	}

	m := metrics.New(cfg.Metrics.Namespace)
	sinks := audit.Multi{audit.NewMetricsSink(m)}
	if cfg.Audit.Log {
		sinks = append(sinks, audit.NewLogSink(nil))
	}
	if cfg.Audit.Redis.Addr != "" {
		rs, err := audit.NewRedisSink(ctx, cfg.Audit.Redis)
		if err != nil {
			log.Error().Err(err).Str("addr", cfg.Audit.Redis.Addr).Msg("redis audit sink disabled")
		} else {
			defer rs.Close()
			sinks = append(sinks, rs)
		}
	}
	auditor := audit.NewAsync(sinks, cfg.Audit.Buffer)
	auditor.Start(ctx)
	defer auditor.Close()

	hub := orch.New(orch.Options{
		Verifier:          verifier,
		Policy:            app.PolicyFor(cfg.Backpressure),
		Audit:             auditor,
		Metrics:           m,
		ICEServers:        cfg.ICEServers,
		PresenceBroadcast: cfg.PresenceBroadcast,
		CallGracePeriod:   cfg.CallGracePeriod,
		Strict:            cfg.Strict(),
	})
	log.Info().Strs("events", hub.Router.Events()).Msg("event router ready")
	go hub.RunReaper(ctx, cfg.ReapInterval)

	r := router.SetupRouter(ctx, cfg, hub, m)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("Presence server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}

func setupLogger(cfg config.LogConfig) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if !cfg.Console {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
}
