package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gavinyap/bigseek/internal/bot"
	"github.com/gavinyap/bigseek/internal/config"
	"github.com/gavinyap/bigseek/internal/history"
	"github.com/gavinyap/bigseek/internal/llm"
	"github.com/gavinyap/bigseek/internal/logging"
	"github.com/gavinyap/bigseek/internal/session"
	"github.com/gavinyap/bigseek/internal/store"
	"github.com/gavinyap/bigseek/internal/telegram"
)

func newRunCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the bot until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			logger, err := logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sigCh)
			go func() {
				select {
				case <-sigCh: // First signal: graceful shutdown
				case <-ctx.Done():
					return
				}
				logger.Info().Msg("shutting down, interrupt again to force exit")
				cancel()
				<-sigCh // Second signal: force exit
				os.Exit(1)
			}()

			return runBot(ctx, cfg, logger)
		},
	}

	cmd.Flags().String("model", "", "Chat model (overrides config).")
	cmd.Flags().String("reasoning-model", "", "Model used for thinking requests (overrides config).")
	cmd.Flags().Int("max-concurrency", 0, "Maximum number of turns streaming at once.")
	_ = v.BindPFlag("openrouter.model", cmd.Flags().Lookup("model"))
	_ = v.BindPFlag("openrouter.reasoning_model", cmd.Flags().Lookup("reasoning-model"))
	_ = v.BindPFlag("telegram.max_concurrency", cmd.Flags().Lookup("max-concurrency"))
	return cmd
}

func runBot(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	dbCfg := store.DefaultConfig()
	dbCfg.Path = cfg.DB.Path
	db, err := store.Open(dbCfg)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Error().Err(err).Msg("failed to close database")
		}
	}()

	hist := history.New(db.History, cfg.Chat.HistorySize, logger.With().Str("component", "history").Logger())
	if days := cfg.Chat.PrefetchActiveDays; days > 0 {
		ids, err := db.Users.ActiveUserIDs(ctx, days)
		if err != nil {
			logger.Warn().Err(err).Msg("failed to list active users for prefetch")
		} else if err := hist.Prefetch(ctx, ids); err != nil {
			logger.Warn().Err(err).Msg("history prefetch failed")
		}
	}

	completions := llm.NewClient(cfg.OpenRouter.APIKey)
	completions.SetBaseURL(cfg.OpenRouter.BaseURL)
	completions.SetHTTPClient(llm.NewHTTPClient(cfg.OpenRouter.ConnectTimeout))

	tg, err := telegram.NewClient(telegram.Options{
		Token:  cfg.Telegram.Token,
		Logger: logger.With().Str("component", "telegram").Logger(),
	})
	if err != nil {
		return err
	}

	supervisor := session.NewSupervisor(session.Options{
		RateInterval:    cfg.Chat.RateLimitInterval,
		CleanupInterval: cfg.Chat.CleanupInterval,
		Logger:          logger.With().Str("component", "session").Logger(),
	})

	b, err := bot.New(bot.Options{
		Telegram:   tg,
		LLM:        completions,
		Supervisor: supervisor,
		History:    hist,
		Users:      db.Users,
		Config:     *cfg,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	logger.Info().
		Str("bot", tg.Username()).
		Str("model", cfg.OpenRouter.Model).
		Str("reasoning_model", cfg.OpenRouter.ReasoningModel).
		Int("max_concurrency", cfg.Telegram.MaxConcurrency).
		Msg("bot started")

	err = b.Run(ctx, tg.Updates(ctx, cfg.Telegram.PollTimeout))
	logger.Info().Msg("bot stopped")
	return err
}
