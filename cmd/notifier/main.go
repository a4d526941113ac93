package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"support-bot/internal/adapters/telegram"
	"support-bot/internal/domain"
	"support-bot/internal/infra/config"
	applog "support-bot/internal/infra/log"
	"support-bot/internal/infra/metrics"
	"support-bot/internal/infra/queue"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.StartServer(ctx, logger.With().Str("component", "metrics").Logger(), cfg.MetricsAddr)

	if cfg.Telegram.Token == "" {
		logger.Fatal().Msg("нотификатор: не указан токен Telegram (TG_BOT_TOKEN)")
	}
	botAPI, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		logger.Fatal().Err(err).Msg("нотификатор: не удалось создать бота")
	}
	sender := telegram.NewSender(botAPI, logger.With().Str("component", "sender").Logger())

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()
	}

	notifyQueue := newNotifyQueue(cfg, redisClient, logger)
	if closer, ok := notifyQueue.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	worker := &deliveryWorker{
		log:    logger.With().Str("component", "notifier").Logger(),
		queue:  notifyQueue,
		sender: sender,
	}

	logger.Info().Msg("нотификатор: запуск обработки очереди")
	worker.Run(ctx)
	logger.Info().Msg("нотификатор: остановлен")
}

func newNotifyQueue(cfg config.AppConfig, redisClient *redis.Client, logger zerolog.Logger) domain.NotificationQueue {
	if cfg.AMQPURL != "" {
		q, err := queue.NewRabbitNotifyQueue(cfg.AMQPURL, cfg.Queues.Notify)
		if err != nil {
			logger.Fatal().Err(err).Msg("нотификатор: не удалось подключиться к RabbitMQ")
		}
		return q
	}
	if redisClient == nil {
		logger.Fatal().Msg("нотификатор: не указан брокер уведомлений (AMQP_URL или REDIS_ADDR)")
	}
	return queue.NewRedisNotifyQueue(redisClient, cfg.Queues.Notify)
}

type deliveryWorker struct {
	log    zerolog.Logger
	queue  domain.NotificationQueue
	sender domain.Sender
}

const deliveryTimeout = 10 * time.Second

// Run блокирующе обрабатывает очередь до отмены контекста.
func (w *deliveryWorker) Run(ctx context.Context) {
	for {
		job, err := w.queue.Pop(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			w.log.Error().Err(err).Msg("чтение очереди не удалось")
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		w.deliver(ctx, job)
	}
}

func (w *deliveryWorker) deliver(ctx context.Context, job domain.NotificationJob) {
	sendCtx, cancel := context.WithTimeout(ctx, deliveryTimeout)
	defer cancel()
	if err := w.sender.Send(sendCtx, job.ChatID, job.Text); err != nil {
		w.log.Error().Err(err).
			Str("job_id", job.ID).
			Int64("chat_id", job.ChatID).
			Str("key", string(job.Key)).
			Msg("доставка уведомления не удалась")
		return
	}
	w.log.Info().
		Str("job_id", job.ID).
		Int64("chat_id", job.ChatID).
		Str("key", string(job.Key)).
		Msg("уведомление доставлено")
}
