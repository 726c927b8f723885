// File: cmd/mockgateway/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"mpesa-portal/internal/config"
	"mpesa-portal/internal/infra/logging"
	"mpesa-portal/internal/mockgw"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (console logs)")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var store mockgw.Store
	if cfg.MockGateway.DatabaseURL != "" {
		pool, err := mockgw.NewPgxPool(ctx, cfg.MockGateway.DatabaseURL, 8)
		if err != nil {
			log.Fatalf("postgres: %v", err)
		}
		defer pool.Close()
		pg := mockgw.NewPostgresStore(pool)
		if err := pg.EnsureSchema(ctx); err != nil {
			log.Fatalf("postgres: %v", err)
		}
		store = pg
		logger.Info().Msg("using postgres store")
	} else {
		store = mockgw.NewMemStore()
		logger.Info().Msg("using in-memory store")
	}

	srv := mockgw.NewServer(cfg.MockGateway, store, logger)
	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.MockGateway.Port),
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", httpSrv.Addr).Msg("mock gateway listening")
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("shutdown")
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("serve: %v", err)
		}
	}
}
