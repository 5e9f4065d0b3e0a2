package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/conorfennell/knolbot/internal/bot"
	"github.com/conorfennell/knolbot/internal/config"
	"github.com/conorfennell/knolbot/internal/deck"
	"github.com/conorfennell/knolbot/internal/domain"
	"github.com/conorfennell/knolbot/internal/interval"
	"github.com/conorfennell/knolbot/internal/review"
	"github.com/conorfennell/knolbot/internal/scheduler"
	"github.com/conorfennell/knolbot/internal/storage"
	"github.com/conorfennell/knolbot/internal/transport/telegram"
	"github.com/conorfennell/knolbot/internal/web"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "knolbot: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	// 1. Configuration and logging
	cfg, err := config.Load(args)
	if err != nil {
		return err
	}
	logger := config.NewLogger(cfg.Log, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Open the database
	db, err := storage.Open(cfg.Storage.DSN)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Error("close database", "error", err)
		}
	}()
	logger.Info("database opened", "dsn", cfg.Storage.DSN)

	// 3. Wire the collaborators
	tgConfig := telegram.DefaultClientConfig(cfg.Telegram.Token)
	tgConfig.BaseURL = cfg.Telegram.BaseURL
	tgConfig.Timeout = cfg.Telegram.Timeout
	tgConfig.RetryAttempts = cfg.Telegram.RetryAttempts
	tgConfig.RetryDelay = cfg.Telegram.RetryDelay
	tgConfig.DownloadDir = cfg.Import.DownloadDir
	tgConfig.Logger = logger.With("component", "telegram")
	client := telegram.NewClient(tgConfig)

	importer := deck.NewImporter(db, cfg.Import.ReposDir, logger.With("component", "deck"))
	policy := &interval.Policy{Threshold: cfg.Bot.PromotionThreshold}

	engine, err := review.NewEngine(
		review.Config{
			Commands:    cfg.Bot.Commands,
			MaxAttempts: cfg.Bot.MaxAttempts,
			QuizMedia:   cfg.Bot.QuizMedia,
		},
		db, client, importer, policy,
		review.WithLogger(logger.With("component", "review")),
	)
	if err != nil {
		return fmt.Errorf("create review engine: %w", err)
	}
	sched := scheduler.New(db, engine, scheduler.WithLogger(logger.With("component", "scheduler")))

	// 4. Optional status server
	if cfg.HTTP.Addr != "" {
		srv := &http.Server{
			Addr:              cfg.HTTP.Addr,
			Handler:           web.NewServer(db, sched, logger.With("component", "web")),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("status server listening", "addr", cfg.HTTP.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("status server failed", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	// 5. Poll until interrupted
	b := bot.New(client, engine, sched, cfg.Bot.PollInterval,
		bot.WithConversation(domain.ConversationID(cfg.Telegram.ChatID)),
		bot.WithLogger(logger.With("component", "bot")),
	)
	return b.Run(ctx)
}
