package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"contract-backend/internal/bootstrap"
	"contract-backend/internal/shared/config"
	"contract-backend/internal/shared/server"
	"contract-backend/internal/shared/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		telemetry.L().Fatal("load config", zap.Error(err))
	}
	if err := telemetry.Init(cfg.Env, cfg.LogLevel); err != nil {
		telemetry.L().Fatal("init logger", zap.Error(err))
	}
	defer telemetry.Sync()
	log := telemetry.L()

	app, err := bootstrap.Build(cfg)
	if err != nil {
		log.Fatal("bootstrap build", zap.Error(err))
	}

	if n, err := app.SweepStale(context.Background()); err != nil {
		log.Warn("stale job sweep", zap.Error(err))
	} else if n > 0 {
		log.Info("stale jobs failed", zap.Int("count", n))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{Addr: server.Addr(cfg.Port), Handler: app.Router}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting API server", zap.String("addr", srv.Addr), zap.String("dispatch", cfg.DispatchMode))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		// Stop intake first, then drain analyses and replies still on the pool.
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("http shutdown", zap.Error(err))
		}
		return app.Close(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("server exited", zap.Error(err))
		os.Exit(1)
	}
	log.Info("server stopped")
}
