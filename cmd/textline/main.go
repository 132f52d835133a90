package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ahandley/textline/internal/config"
	"github.com/ahandley/textline/internal/runtime"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml (optional)")
	dryRun := flag.Bool("dry-run", false, "log outbound messages instead of sending them")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	opts := []runtime.Option{
		runtime.WithConfig(cfg),
		runtime.WithLogger(logger),
		runtime.WithBadgerCache(cfg.Cache.Path),
		runtime.WithSQLiteStore(cfg.Storage.DSN),
		runtime.WithOpenAI(cfg.OpenAI.APIKey, cfg.OpenAI.Model),
	}
	if *dryRun {
		logger.Info("dry run: outbound messages will not be delivered")
		opts = append(opts, runtime.WithRecordingMessenger())
	} else {
		opts = append(opts, runtime.WithTwilio(cfg.Twilio.AccountSID, cfg.Twilio.AuthToken, cfg.Twilio.FromNumber))
	}
	if cfg.Blob.Bucket != "" {
		opts = append(opts, runtime.WithGCS(ctx, cfg.Blob.Bucket))
	}

	app, err := runtime.New(opts...)
	if err != nil {
		log.Fatalf("create app: %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Start(ctx)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			log.Fatalf("server error: %v", err)
		}
	case sig := <-sigCh:
		logger.Info("shutdown signal received", slog.String("signal", sig.String()))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := app.Stop(shutdownCtx); err != nil {
		logger.Error("shutdown error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
