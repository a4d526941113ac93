package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"support-bot/internal/adapters/bot"
	"support-bot/internal/adapters/repo"
	"support-bot/internal/adapters/typing"
	"support-bot/internal/domain"
	"support-bot/internal/infra/cache"
	"support-bot/internal/infra/config"
	"support-bot/internal/infra/db"
	httpinfra "support-bot/internal/infra/http"
	applog "support-bot/internal/infra/log"
	"support-bot/internal/infra/metrics"
	"support-bot/internal/infra/queue"
	chatusecase "support-bot/internal/usecase/chat"
	lifecycleusecase "support-bot/internal/usecase/lifecycle"
	notifyusecase "support-bot/internal/usecase/notify"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.StartServer(ctx, logger.With().Str("component", "metrics").Logger(), cfg.MetricsAddr)

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("бот-гейтвей: нет подключения к БД")
	}
	defer pool.Close()

	repoAdapter := repo.NewPostgres(pool)
	if err := repoAdapter.EnsureSchema(ctx); err != nil {
		logger.Fatal().Err(err).Msg("бот-гейтвей: не удалось подготовить схему БД")
	}

	var redisClient *redis.Client
	var cooldown *cache.RedisCooldown
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()
		cooldown = cache.NewRedisCooldown(redisClient)
	}

	if cfg.LegacyDataDir != "" {
		importSnapshot := func() error { return repoAdapter.ImportLegacySnapshot(ctx, cfg.LegacyDataDir) }
		if cooldown != nil {
			err = cooldown.Once("support:legacy_import", 24*time.Hour, importSnapshot)
		} else {
			err = importSnapshot()
		}
		if err != nil {
			logger.Fatal().Err(err).Str("dir", cfg.LegacyDataDir).Msg("бот-гейтвей: импорт архива не удался")
		}
	}

	notifyQueue := newNotifyQueue(cfg, redisClient, logger)
	notifyService := notifyusecase.NewService(repoAdapter, repoAdapter, notifyQueue, logger.With().Str("component", "notify").Logger())

	typingStore := typing.NewMemory(cfg.Typing.TTL)
	lifecycleService := lifecycleusecase.NewService(repoAdapter, repoAdapter, repoAdapter, notifyService, logger.With().Str("component", "lifecycle").Logger(), cfg.SLA.OverrideHours)

	var chatCooldown domain.Cooldown
	if cooldown != nil {
		chatCooldown = cooldown
	}
	chatService := chatusecase.NewService(repoAdapter, repoAdapter, repoAdapter, typingStore, chatCooldown, notifyService, logger.With().Str("component", "chat").Logger(), cfg.Typing.Cooldown)

	if cfg.Telegram.Token == "" {
		logger.Fatal().Msg("бот-гейтвей: не указан токен Telegram (TG_BOT_TOKEN)")
	}
	botAPI, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		logger.Fatal().Err(err).Msg("бот-гейтвей: не удалось создать бота")
	}

	h := bot.NewHandler(botAPI, logger, lifecycleService, chatService, repoAdapter, repoAdapter, repoAdapter, cfg.Telegram.WebAppURL)

	server := httpinfra.NewServer(logger.With().Str("component", "http").Logger(), nil)
	server.Router.Post("/bot/webhook", func(w http.ResponseWriter, r *http.Request) {
		var update tgbotapi.Update
		if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.HandleUpdate(r.Context(), update)
		w.WriteHeader(http.StatusOK)
	})

	if cfg.Telegram.WebhookURL != "" {
		webhook, err := tgbotapi.NewWebhook(cfg.Telegram.WebhookURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("бот-гейтвей: некорректный адрес вебхука")
		}
		if _, err := botAPI.Request(webhook); err != nil {
			logger.Fatal().Err(err).Msg("бот-гейтвей: не удалось зарегистрировать вебхук")
		}
	}

	go func() {
		logger.Info().Msg("бот-гейтвей запущен")
		if err := server.Start(":8080"); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("HTTP сервер остановлен")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("остановка бота")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
}

func newNotifyQueue(cfg config.AppConfig, redisClient *redis.Client, logger zerolog.Logger) domain.NotificationQueue {
	if cfg.AMQPURL != "" {
		q, err := queue.NewRabbitNotifyQueue(cfg.AMQPURL, cfg.Queues.Notify)
		if err != nil {
			logger.Fatal().Err(err).Msg("бот-гейтвей: не удалось подключиться к RabbitMQ")
		}
		return q
	}
	if redisClient == nil {
		logger.Fatal().Msg("бот-гейтвей: не указан брокер уведомлений (AMQP_URL или REDIS_ADDR)")
	}
	return queue.NewRedisNotifyQueue(redisClient, cfg.Queues.Notify)
}

var _ domain.UserRepo = (*repo.Postgres)(nil)
var _ domain.RequestRepo = (*repo.Postgres)(nil)
var _ domain.MessageRepo = (*repo.Postgres)(nil)
var _ domain.SuggestionRepo = (*repo.Postgres)(nil)
var _ domain.SettingsRepo = (*repo.Postgres)(nil)
