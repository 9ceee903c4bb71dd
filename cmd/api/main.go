package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v5"

	"streamtally/pkg/config"
	"streamtally/pkg/handlers"
	"streamtally/pkg/middlewares"
	"streamtally/pkg/routes"
	"streamtally/pkg/service"
)

func main() {
	cfg := config.LoadFromEnv()

	logger := setupLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	slog.Info("starting streamtally",
		"environment", cfg.Environment,
		"port", cfg.ServerPort,
	)

	e := echo.New()
	middlewares.Setup(e, logger)

	svc, err := service.New(cfg, logger)
	if err != nil {
		slog.Error("failed to initialize service", "error", err)
		os.Exit(1)
	}

	h := handlers.New(svc, logger)
	routes.Setup(e, h)

	go func() {
		addr := ":" + cfg.ServerPort
		slog.Info("server starting", "address", addr)
		if err := e.Start(addr); err != nil {
			slog.Error("server error", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := svc.Shutdown(ctx); err != nil {
		slog.Error("service shutdown failed", "error", err)
	}

	if err := e.Shutdown(ctx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("server exited")
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
