package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"example.com/twotruths/internal/app"
	"example.com/twotruths/internal/config"
	"example.com/twotruths/internal/migrate"
	"example.com/twotruths/internal/telemetry"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "server:", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadFromEnv()
	if err != nil {
		return err
	}

	log, logCloser, err := telemetry.NewLogger(telemetry.LogOptions{
		Format: cfg.Log.Format,
		Level:  cfg.Log.Level,
		File:   cfg.Log.File,
	})
	if err != nil {
		return err
	}
	defer logCloser.Close()
	slog.SetDefault(log)

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Telemetry.OTLPEndpoint, cfg.Telemetry.ServiceName)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			log.Warn("flush traces", "err", err)
		}
	}()

	if cfg.Postgres.RunMigrations {
		if err := migrate.Up(ctx, cfg.Postgres.URL, log); err != nil {
			return err
		}
	}

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}

	log.Info("server started", "env", cfg.Env)
	return a.Run(ctx)
}
