package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/santehsupply/orders-api/internal/api"
	"github.com/santehsupply/orders-api/internal/config"
	"github.com/santehsupply/orders-api/pkg/logger"
)

const shutdownGrace = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	l := logger.NewLogger(cfg.LogLevel)
	if err := run(cfg, l); err != nil {
		l.Error("Server exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, l logger.Logger) error {
	server, err := api.NewServer(cfg, l)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		l.Info("HTTP server listening", "port", cfg.Port)
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		l.Info("Shutdown signal received", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return err
	}

	l.Info("Server stopped")
	return nil
}
