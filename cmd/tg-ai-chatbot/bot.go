package main

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/M4ss1ck/tg-ai-chatbot/catalog"
	"github.com/M4ss1ck/tg-ai-chatbot/internal/botrunner"
	"github.com/M4ss1ck/tg-ai-chatbot/internal/logutil"
	"github.com/M4ss1ck/tg-ai-chatbot/internal/telegramapi"
	"github.com/M4ss1ck/tg-ai-chatbot/llm"
	"github.com/M4ss1ck/tg-ai-chatbot/premium"
	"github.com/M4ss1ck/tg-ai-chatbot/processor"
	"github.com/M4ss1ck/tg-ai-chatbot/providers/openrouter"
	"github.com/M4ss1ck/tg-ai-chatbot/providers/workersai"
	"github.com/M4ss1ck/tg-ai-chatbot/session"
)

func newBotCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bot",
		Short: "Run the Telegram relay bot",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBot(cmd.Context())
		},
	}

	cmd.Flags().String("telegram-bot-token", "", "Telegram bot token.")
	cmd.Flags().String("admin-id", "", "Telegram user id of the administrator.")
	cmd.Flags().String("openrouter-api-key", "", "OpenRouter API key.")
	cmd.Flags().String("cloudflare-account-id", "", "Cloudflare account id (optional, enables Workers AI models).")
	cmd.Flags().String("cloudflare-api-token", "", "Cloudflare API token (optional, enables Workers AI models).")
	cmd.Flags().String("redis-url", "redis://localhost:6379", "Redis connection URL for sessions and premium membership.")
	cmd.Flags().String("models-file", "", "YAML file overriding the built-in model catalog (optional).")

	_ = viper.BindPFlag("telegram.bot_token", cmd.Flags().Lookup("telegram-bot-token"))
	_ = viper.BindPFlag("admin_id", cmd.Flags().Lookup("admin-id"))
	_ = viper.BindPFlag("openrouter.api_key", cmd.Flags().Lookup("openrouter-api-key"))
	_ = viper.BindPFlag("cloudflare.account_id", cmd.Flags().Lookup("cloudflare-account-id"))
	_ = viper.BindPFlag("cloudflare.api_token", cmd.Flags().Lookup("cloudflare-api-token"))
	_ = viper.BindPFlag("redis.url", cmd.Flags().Lookup("redis-url"))
	_ = viper.BindPFlag("models.file", cmd.Flags().Lookup("models-file"))

	return cmd
}

func runBot(ctx context.Context) error {
	logger, err := logutil.LoggerFromViper()
	if err != nil {
		return err
	}

	token := strings.TrimSpace(viper.GetString("telegram.bot_token"))
	if token == "" {
		return fmt.Errorf("missing telegram.bot_token (set via --telegram-bot-token or %s_TELEGRAM_BOT_TOKEN)", envPrefix)
	}

	reg, err := catalog.Load(strings.TrimSpace(viper.GetString("models.file")))
	if err != nil {
		return err
	}

	redisOpts, err := redis.ParseURL(strings.TrimSpace(viper.GetString("redis.url")))
	if err != nil {
		return fmt.Errorf("parse redis.url: %w", err)
	}
	rdb := redis.NewClient(redisOpts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis_ping_failed", "error", err.Error())
	}
	members := premium.NewService(rdb)
	defer func() {
		if err := members.Close(); err != nil {
			logger.Warn("redis_close_error", "error", err.Error())
		}
	}()

	sessions := session.NewStore(rdb, reg, viper.GetDuration("session.ttl"), logger)

	clients := map[catalog.Provider]llm.Client{}
	orClient, err := openrouter.New(viper.GetString("openrouter.base_url"), strings.TrimSpace(viper.GetString("openrouter.api_key")))
	if err != nil {
		return err
	}
	clients[catalog.ProviderOpenRouter] = orClient

	cfAccount := strings.TrimSpace(viper.GetString("cloudflare.account_id"))
	cfToken := strings.TrimSpace(viper.GetString("cloudflare.api_token"))
	if cfAccount != "" || cfToken != "" {
		cfClient, err := workersai.New(viper.GetString("cloudflare.base_url"), cfAccount, cfToken)
		if err != nil {
			return err
		}
		clients[catalog.ProviderWorkersAI] = cfClient
	} else {
		logger.Info("workersai_disabled", "reason", "missing cloudflare credentials")
	}

	adminID := strings.TrimSpace(viper.GetString("admin_id"))
	checker := processor.NewChecker(adminID, members, viper.GetDuration("entitlement.timeout"))
	dispatcher := processor.NewDispatcher(clients, viper.GetDuration("request.timeout"))

	api := telegramapi.NewClient(nil, telegramapi.DefaultBaseURL, token)
	proc := processor.New(reg, checker, dispatcher, api, logger)

	runner := botrunner.New(api, sessions, members, proc, reg, botrunner.Config{
		AdminID:     adminID,
		PollTimeout: viper.GetDuration("poll.timeout"),
	}, logger)

	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return runner.Run(runCtx)
}
