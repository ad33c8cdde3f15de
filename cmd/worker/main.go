package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"golang.org/x/text/language"

	"kassa/backend/internal/config"
	"kassa/backend/internal/printing"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	if cfg.LogFormat == "text" {
		logger = slog.New(slog.NewTextHandler(os.Stdout, nil))
	}
	if cfg.RedisAddr == "" {
		logger.Error("REDIS_ADDR is required for the print worker")
		os.Exit(1)
	}

	lang, err := language.Parse(cfg.PrintLocale)
	if err != nil {
		logger.Warn("unknown PRINT_LOCALE, falling back to en", slog.String("locale", cfg.PrintLocale))
		lang = language.English
	}
	handler := printing.NewHandler(printing.NewRenderer(lang, cfg.PrintWidth), printing.NewWriterSink(os.Stdout), logger)
	worker, err := printing.NewWorker(printing.WorkerConfig{
		RedisOpts:   asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB},
		Logger:      logger,
		Handler:     handler,
		Concurrency: cfg.WorkerConcurrency,
	})
	if err != nil {
		logger.Error("worker setup failed", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("print worker stopped with error", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("print worker stopped")
}
