package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"support-bot/internal/domain"
	"support-bot/internal/infra/metrics"
)

// Thread — диалог заявки глазами конкретной стороны.
type Thread struct {
	Request  domain.Request    `json:"request"`
	Messages []domain.Message  `json:"messages"`
	Typing   domain.TypingView `json:"typing"`
}

// Service реализует диалог по заявке: сообщения, доступ и сигналы набора.
type Service struct {
	users    domain.UserRepo
	requests domain.RequestRepo
	messages domain.MessageRepo
	typing   domain.TypingStore
	cooldown domain.Cooldown
	notifier domain.Notifier
	log      zerolog.Logger
	now      func() time.Time

	typingCooldown time.Duration
}

// NewService создаёт сервис диалогов. cooldown может быть nil, тогда сигналы
// набора не ограничиваются по частоте.
func NewService(users domain.UserRepo, requests domain.RequestRepo, messages domain.MessageRepo, typingStore domain.TypingStore, cooldown domain.Cooldown, notifier domain.Notifier, logger zerolog.Logger, typingCooldown time.Duration) *Service {
	return &Service{
		users:          users,
		requests:       requests,
		messages:       messages,
		typing:         typingStore,
		cooldown:       cooldown,
		notifier:       notifier,
		log:            logger,
		now:            time.Now,
		typingCooldown: typingCooldown,
	}
}

func (s *Service) viewerFor(telegramID int64) (domain.Viewer, error) {
	user, err := s.users.GetUser(telegramID)
	if err != nil {
		return domain.Viewer{}, err
	}
	return domain.Viewer{TelegramID: user.TelegramID, Role: user.Role}, nil
}

// PostMessage добавляет сообщение в диалог. Писать можно только в открытый
// диалог; сигнал набора отправителя снимается сразу.
func (s *Service) PostMessage(ctx context.Context, requestID, senderTelegramID int64, text string, attachment *domain.Attachment) (domain.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" && attachment == nil {
		return domain.Message{}, domain.ErrEmptyText
	}
	req, err := s.requests.GetRequest(requestID)
	if err != nil {
		return domain.Message{}, err
	}
	viewer, err := s.viewerFor(senderTelegramID)
	if err != nil {
		return domain.Message{}, err
	}
	if err := domain.CanPost(req, viewer); err != nil {
		return domain.Message{}, err
	}

	msg := domain.Message{
		RequestID:        requestID,
		SenderRole:       viewer.Role,
		SenderTelegramID: viewer.TelegramID,
		Text:             text,
		Attachment:       attachment,
		CreatedAt:        s.now().UTC(),
	}
	saved, err := s.messages.AppendMessage(msg)
	if err != nil {
		return domain.Message{}, fmt.Errorf("сохранение сообщения: %w", err)
	}
	s.typing.Clear(requestID, viewer.Role)
	metrics.ChatMessagesTotal.WithLabelValues(string(viewer.Role)).Inc()

	s.notifyCounterpart(ctx, req, saved)
	return saved, nil
}

func (s *Service) notifyCounterpart(ctx context.Context, req domain.Request, msg domain.Message) {
	body := msg.Text
	if body == "" && msg.Attachment != nil {
		body = fmt.Sprintf("Вложение: %s", msg.Attachment.Name)
	}
	var (
		recipient int64
		key       domain.NotificationKey
		notice    string
	)
	switch msg.SenderRole {
	case domain.RoleUser:
		if req.AssignedAdminTelegramID == nil {
			return
		}
		recipient = *req.AssignedAdminTelegramID
		key = domain.NotifyAdminChatMessage
		notice = fmt.Sprintf("Сообщение по заявке #%d от %s:\n%s", req.ID, req.SenderName(), body)
	case domain.RoleAdmin:
		recipient = req.UserTelegramID
		key = domain.NotifyUserChatMessage
		notice = fmt.Sprintf("Ответ администратора по заявке #%d:\n%s", req.ID, body)
	default:
		return
	}
	if err := s.notifier.Notify(ctx, recipient, key, notice); err != nil {
		s.log.Error().Err(err).Int64("request_id", req.ID).Msg("не удалось уведомить собеседника")
	}
}

// ListMessages возвращает диалог заявки для стороны viewer.
func (s *Service) ListMessages(requestID, viewerTelegramID int64) (Thread, error) {
	req, err := s.requests.GetRequest(requestID)
	if err != nil {
		return Thread{}, err
	}
	viewer, err := s.viewerFor(viewerTelegramID)
	if err != nil {
		return Thread{}, err
	}
	if err := domain.CanReadThread(req, viewer); err != nil {
		return Thread{}, err
	}
	messages, err := s.messages.ListMessages(requestID)
	if err != nil {
		return Thread{}, fmt.Errorf("чтение сообщений: %w", err)
	}
	return Thread{
		Request:  req,
		Messages: messages,
		Typing:   s.typing.ViewFor(requestID, viewer.Role, s.now()),
	}, nil
}

// SignalTyping фиксирует сигнал «печатает». Сигнал принимается только от
// стороны открытого диалога и не чаще одного раза в окно тишины.
func (s *Service) SignalTyping(ctx context.Context, requestID, telegramID int64) (bool, error) {
	req, err := s.requests.GetRequest(requestID)
	if err != nil {
		return false, err
	}
	viewer, err := s.viewerFor(telegramID)
	if err != nil {
		return false, err
	}
	if err := domain.CanPost(req, viewer); err != nil {
		return false, err
	}

	if s.cooldown != nil && s.typingCooldown > 0 {
		key := fmt.Sprintf("typing:%d:%d", requestID, telegramID)
		allowed, err := s.cooldown.Allow(ctx, key, s.typingCooldown)
		if err != nil {
			s.log.Error().Err(err).Int64("request_id", requestID).Msg("ограничитель сигналов недоступен")
		} else if !allowed {
			return false, nil
		}
	}

	s.typing.Set(requestID, domain.TypingSignal{
		Role:       viewer.Role,
		TelegramID: viewer.TelegramID,
		UpdatedAt:  s.now(),
	})
	return true, nil
}
