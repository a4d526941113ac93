package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"support-bot/internal/domain"
	"support-bot/internal/infra/metrics"
)

// Service ставит уведомления в очередь доставки с учётом пользовательских
// флагов. Отказ одного получателя не прерывает рассылку остальным.
type Service struct {
	settings domain.SettingsRepo
	users    domain.UserRepo
	queue    domain.NotificationQueue
	log      zerolog.Logger
	now      func() time.Time
}

// NewService создаёт сервис уведомлений.
func NewService(settings domain.SettingsRepo, users domain.UserRepo, queue domain.NotificationQueue, logger zerolog.Logger) *Service {
	return &Service{settings: settings, users: users, queue: queue, log: logger, now: time.Now}
}

// Notify ставит уведомление в очередь, если флаг получателя включён.
func (s *Service) Notify(ctx context.Context, telegramID int64, key domain.NotificationKey, text string) error {
	settings, err := s.settings.GetSettings(telegramID)
	if err != nil {
		return fmt.Errorf("чтение настроек: %w", err)
	}
	if !settings.Enabled(key) {
		return nil
	}
	job := domain.NotificationJob{
		ID:         uuid.NewString(),
		ChatID:     telegramID,
		Key:        key,
		Text:       text,
		EnqueuedAt: s.now().UTC(),
	}
	if err := s.queue.Enqueue(ctx, job); err != nil {
		return fmt.Errorf("постановка уведомления: %w", err)
	}
	metrics.NotificationsEnqueuedTotal.WithLabelValues(string(key)).Inc()
	return nil
}

// NotifyAdmins рассылает уведомление всем администраторам.
func (s *Service) NotifyAdmins(ctx context.Context, key domain.NotificationKey, text string) error {
	admins, err := s.users.ListAdmins()
	if err != nil {
		return fmt.Errorf("список администраторов: %w", err)
	}
	for _, admin := range admins {
		if err := s.Notify(ctx, admin.TelegramID, key, text); err != nil {
			s.log.Error().Err(err).Int64("telegram_id", admin.TelegramID).Msg("уведомление администратора не поставлено в очередь")
		}
	}
	return nil
}
