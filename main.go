package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"git.skobk.in/skobkin/telegram-chat-groups-bot/bot"
	"git.skobk.in/skobkin/telegram-chat-groups-bot/config"
	"git.skobk.in/skobkin/telegram-chat-groups-bot/media"
	"git.skobk.in/skobkin/telegram-chat-groups-bot/reply"
	"git.skobk.in/skobkin/telegram-chat-groups-bot/storage"
	"git.skobk.in/skobkin/telegram-chat-groups-bot/wizard"
)

const sweepInterval = time.Minute

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var verbosity int
	var configPath string

	run := func(cmd *cobra.Command, _ []string) error {
		return runBot(cmd.Context(), configPath)
	}

	root := &cobra.Command{
		Use:          "groupbot",
		Short:        "Telegram bot mentioning groups of chat members",
		SilenceUsage: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			setLogLevel(verbosity)
		},
		RunE: run,
	}
	root.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "Verbose logging: -v for info, -vv for debug")
	root.PersistentFlags().StringVar(&configPath, "config", "", "Config file path (optional)")

	root.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Run the bot (default)",
		RunE:  run,
	})
	root.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return migrate(cmd.Context(), configPath)
		},
	})

	return root
}

func openStorage(ctx context.Context, cfg *config.Config) (*storage.Storage, error) {
	slog.Debug("main: Initializing storage", "driver", cfg.DatabaseDriver)
	store, err := storage.New(storage.Config{
		Driver:       cfg.DatabaseDriver,
		DSN:          cfg.DatabaseDSN,
		MaxOpenConns: cfg.DatabaseMaxOpenConns,
		LogSQL:       cfg.DatabaseLogSQL,
	})
	if err != nil {
		slog.Error("main: Failed to initialize storage", "error", err)
		return nil, err
	}

	if err := store.Migrate(ctx); err != nil {
		slog.Error("main: Failed to migrate database", "error", err)
		_ = store.Close()
		return nil, err
	}
	slog.Debug("main: Storage initialized successfully")

	return store, nil
}

func migrate(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	store, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}
	slog.Info("main: Database schema is up to date")

	return store.Close()
}

func runBot(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("main: Invalid configuration", "error", err)
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Error("main: Failed to close storage", "error", err)
		}
	}()

	var sessions wizard.SessionStore
	var quota media.Quota
	var janitor *wizard.MemoryStore

	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer func() { _ = client.Close() }()

		if err := client.Ping(ctx).Err(); err != nil {
			slog.Error("main: Failed to connect to Redis", "error", err, "addr", cfg.RedisAddr)
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		slog.Info("main: Using Redis for dialog sessions and quotas", "addr", cfg.RedisAddr)

		sessions = wizard.NewRedisStore(client, "", cfg.WizardSessionTTL)
		quota = media.NewRedisQuota(client, "", cfg.TikTokQuota)
	} else {
		janitor = wizard.NewMemoryStore(cfg.WizardSessionTTL)
		sessions = janitor
		quota = media.NewMemoryQuota(cfg.TikTokQuota)
	}

	botCfg := bot.Config{
		Token:        cfg.TelegramBotToken,
		Name:         cfg.BotName,
		HistoryLimit: cfg.ChatHistoryLimit,
	}

	if cfg.MediaEnabled() {
		router := media.Router{}
		if cfg.TikTokAPIKey != "" {
			router.TikTok = media.NewTikTok(nil, "", cfg.TikTokAPIKey, quota)
		}
		if cfg.InstagramAPIKey != "" {
			router.Instagram = media.NewInstagram(nil, "", cfg.InstagramAPIKey)
		}
		botCfg.Media = router
		slog.Info("main: Media downloads enabled", "tiktok", router.TikTok != nil, "instagram", router.Instagram != nil)
	}

	if cfg.AIEnabled() {
		generator, err := reply.NewOpenAI(reply.Config{
			APIKey:      cfg.AIAPIKey,
			BaseURL:     cfg.AIBaseURL,
			Model:       cfg.AIModel,
			Temperature: cfg.AITemperature,
			BotName:     cfg.BotName,
			AdminName:   cfg.BotAdminUsername,
		})
		if err != nil {
			slog.Error("main: Failed to initialize reply generator", "error", err)
			return err
		}
		botCfg.Replies = generator
		slog.Info("main: AI replies enabled", "model", cfg.AIModel)
	}

	slog.Debug("main: Initializing bot")
	b, err := bot.New(botCfg, store, sessions)
	if err != nil {
		slog.Error("main: Failed to initialize bot", "error", err)
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// Whatever stops the bot stops the rest of the process too.
		defer stop()
		slog.Info("main: Starting bot...")
		return b.Start(gctx)
	})
	if janitor != nil {
		g.Go(func() error {
			return janitor.Run(gctx, sweepInterval)
		})
	}

	if err := g.Wait(); err != nil {
		slog.Error("main: Bot stopped with error", "error", err)
		return err
	}
	slog.Info("main: Bot stopped")
	return nil
}

// setLogLevel configures the logging level: warn by default, info with -v, debug with -vv
func setLogLevel(verbosity int) {
	logLevel := slog.LevelWarn
	switch {
	case verbosity >= 2:
		logLevel = slog.LevelDebug
	case verbosity == 1:
		logLevel = slog.LevelInfo
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	slog.Debug("main: Log level set to", "level", logLevel.String())
}
