package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/signalsfoundry/mission-runtime/core"
	"github.com/signalsfoundry/mission-runtime/internal/auth"
	"github.com/signalsfoundry/mission-runtime/internal/catalog"
	"github.com/signalsfoundry/mission-runtime/internal/config"
	"github.com/signalsfoundry/mission-runtime/internal/logging"
	"github.com/signalsfoundry/mission-runtime/internal/observability"
	"github.com/signalsfoundry/mission-runtime/internal/session"
	"github.com/signalsfoundry/mission-runtime/internal/store"
	"github.com/signalsfoundry/mission-runtime/internal/transport"
)

func main() {
	log := logging.NewFromEnv()
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Error(ctx, "invalid configuration", logging.String("error", err.Error()))
		os.Exit(1)
	}

	collector, err := observability.NewRuntimeCollector(nil)
	if err != nil {
		log.Error(ctx, "failed to initialise metrics collector", logging.String("error", err.Error()))
		os.Exit(1)
	}

	traceShutdown, err := observability.InitTracing(ctx, observability.TracingConfigFromEnv(), log)
	if err != nil {
		log.Error(ctx, "failed to initialise tracing", logging.String("error", err.Error()))
		os.Exit(1)
	}

	st, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		log.Error(ctx, "failed to open session store", logging.String("error", err.Error()))
		os.Exit(1)
	}
	defer closeStore()

	cat := catalog.New()
	if cfg.CatalogPath != "" {
		sum, err := cat.LoadFile(cfg.CatalogPath)
		if err != nil {
			log.Warn(ctx, "catalog load failed, starting empty",
				logging.String("path", cfg.CatalogPath), logging.String("error", err.Error()))
		} else {
			log.Info(ctx, "catalog loaded",
				logging.Int("scenarios", len(sum.ScenarioIDs)),
				logging.Int("satellites", len(sum.SatelliteIDs)))
		}
	}

	opts := cfg.SessionOptions()
	pers := session.NewPersistor(st, log, collector, opts.PersistCoalesce, opts.PersistRetryCap)
	prop := core.NewSGP4Propagator(cfg.MissionStart)
	registry := session.NewRegistry(st, pers, prop, opts, log, collector)
	assembler := session.NewAssembler(cat, cat, cat, st, log)
	verifier := auth.NewVerifier(cfg.JWTSecret)

	handler := transport.NewHandler(registry, assembler, verifier, cfg.BroadcastHighWater, log, collector)
	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: handler.Routes(),
	}

	go func() {
		log.Info(ctx, "starting session runtime server", logging.String("addr", cfg.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error(ctx, "http server exited", logging.String("error", err.Error()))
		}
	}()

	stopCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-stopCtx.Done()

	log.Info(ctx, "shutting down session runtime server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	if err := registry.Drain(shutdownCtx); err != nil {
		log.Error(ctx, "session drain incomplete", logging.String("error", err.Error()))
	}
	observability.ShutdownWithTimeout(shutdownCtx, traceShutdown, log)
}

func openStore(ctx context.Context, cfg config.Config, log logging.Logger) (store.SessionStore, func(), error) {
	if cfg.RedisURL == "" {
		log.Info(ctx, "using in-memory session store")
		return store.NewMemoryStore(), func() {}, nil
	}
	rs, err := store.NewRedisStore(cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	log.Info(ctx, "using redis session store")
	return rs, func() { _ = rs.Close() }, nil
}
