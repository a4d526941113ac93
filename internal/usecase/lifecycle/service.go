package lifecycle

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"support-bot/internal/domain"
	"support-bot/internal/infra/metrics"
)

// Service реализует жизненный цикл заявок: создание, захват, завершение и
// каскадное переоткрытие при удалении администратора. Уведомления ставятся в
// очередь после фиксации изменения; их отказ не откатывает операцию.
type Service struct {
	users       domain.UserRepo
	requests    domain.RequestRepo
	suggestions domain.SuggestionRepo
	notifier    domain.Notifier
	log         zerolog.Logger
	now         func() time.Time

	slaOverrideHours float64
}

// NewService создаёт сервис жизненного цикла.
func NewService(users domain.UserRepo, requests domain.RequestRepo, suggestions domain.SuggestionRepo, notifier domain.Notifier, logger zerolog.Logger, slaOverrideHours float64) *Service {
	return &Service{
		users:            users,
		requests:         requests,
		suggestions:      suggestions,
		notifier:         notifier,
		log:              logger,
		now:              time.Now,
		slaOverrideHours: slaOverrideHours,
	}
}

// Register создаёт или обновляет учётную запись. ФИО и организация обязательны.
func (s *Service) Register(user domain.User) (domain.User, error) {
	user.FullName = strings.TrimSpace(user.FullName)
	user.Organization = strings.TrimSpace(user.Organization)
	if user.FullName == "" || user.Organization == "" {
		return domain.User{}, domain.ErrEmptyText
	}
	if user.Role == "" {
		user.Role = domain.RoleUser
	}
	saved, err := s.users.RegisterUser(user)
	if err != nil {
		return domain.User{}, fmt.Errorf("регистрация пользователя: %w", err)
	}
	return saved, nil
}

// RequestOverrides позволяет вызывающей стороне задать приоритет и бюджет SLA
// явно. Нулевые значения означают «вывести из текста» и «по приоритету».
type RequestOverrides struct {
	Priority domain.Priority
	SLAHours float64
}

// CreateRequest создаёт заявку от зарегистрированного пользователя. Приоритет
// извлекается из текста, срок SLA фиксируется в момент создания.
func (s *Service) CreateRequest(ctx context.Context, authorTelegramID int64, text string) (domain.Request, error) {
	return s.CreateRequestWith(ctx, authorTelegramID, text, RequestOverrides{})
}

// CreateRequestWith создаёт заявку с явными переопределениями из мини-приложения.
func (s *Service) CreateRequestWith(ctx context.Context, authorTelegramID int64, text string, over RequestOverrides) (domain.Request, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.Request{}, domain.ErrEmptyText
	}
	author, err := s.users.GetUser(authorTelegramID)
	if err != nil {
		return domain.Request{}, err
	}

	createdAt := s.now().UTC()
	priority := over.Priority
	if priority == "" {
		priority = domain.InferPriorityFromText(text)
	}
	slaHours := over.SLAHours
	if slaHours <= 0 {
		slaHours = s.slaOverrideHours
	}
	req := domain.Request{
		UserTelegramID: author.TelegramID,
		UserUsername:   author.Username,
		UserFirstName:  author.FirstName,
		UserLastName:   author.LastName,
		Text:           text,
		Status:         domain.StatusNew,
		Priority:       priority,
		SLADueAt:       domain.ComputeSLADueAt(createdAt, priority, slaHours),
		CreatedAt:      createdAt,
	}
	saved, err := s.requests.CreateRequest(req)
	if err != nil {
		return domain.Request{}, fmt.Errorf("создание заявки: %w", err)
	}
	metrics.RequestsCreatedTotal.WithLabelValues(string(saved.Priority)).Inc()

	notice := fmt.Sprintf("Новая заявка #%d от %s (%s):\n%s", saved.ID, author.DisplayName(), author.Organization, saved.Text)
	if err := s.notifier.NotifyAdmins(ctx, domain.NotifyAdminNewRequest, notice); err != nil {
		s.log.Error().Err(err).Int64("request_id", saved.ID).Msg("не удалось уведомить администраторов о заявке")
	}
	return saved, nil
}

// Claim берёт заявку в работу от имени администратора. Захват эксклюзивен,
// проигравший гонку получает ErrWrongStatus.
func (s *Service) Claim(ctx context.Context, requestID, adminTelegramID int64) (domain.Request, error) {
	if err := s.requireAdmin(adminTelegramID); err != nil {
		return domain.Request{}, err
	}
	claimed, err := s.requests.ClaimRequest(requestID, adminTelegramID, s.now().UTC())
	if err != nil {
		return domain.Request{}, err
	}
	metrics.RequestsClaimedTotal.Inc()

	notice := fmt.Sprintf("Ваша заявка #%d принята в работу администратором.", claimed.ID)
	if err := s.notifier.Notify(ctx, claimed.UserTelegramID, domain.NotifyUserRequestTaken, notice); err != nil {
		s.log.Error().Err(err).Int64("request_id", claimed.ID).Msg("не удалось уведомить автора о взятии заявки")
	}
	return claimed, nil
}

// Finish завершает заявку. Завершить может только назначенный администратор.
func (s *Service) Finish(ctx context.Context, requestID, adminTelegramID int64) (domain.Request, error) {
	if err := s.requireAdmin(adminTelegramID); err != nil {
		return domain.Request{}, err
	}
	completed, err := s.requests.CompleteRequest(requestID, adminTelegramID, s.now().UTC())
	if err != nil {
		return domain.Request{}, err
	}
	metrics.RequestsCompletedTotal.Inc()

	notice := fmt.Sprintf("Заявка #%d завершена. Администратор завершил работу. Спасибо за обращение!", completed.ID)
	if err := s.notifier.Notify(ctx, completed.UserTelegramID, domain.NotifyUserRequestCompleted, notice); err != nil {
		s.log.Error().Err(err).Int64("request_id", completed.ID).Msg("не удалось уведомить автора о завершении заявки")
	}
	return completed, nil
}

// RemoveUser удаляет учётную запись. Удалить самого себя нельзя; заявки
// удалённого администратора возвращаются в NEW и снова видны остальным.
func (s *Service) RemoveUser(ctx context.Context, actorTelegramID, targetTelegramID int64) (domain.User, int, error) {
	if actorTelegramID == targetTelegramID {
		return domain.User{}, 0, domain.ErrSelfDelete
	}
	removed, reopened, err := s.users.RemoveUser(targetTelegramID)
	if err != nil {
		return domain.User{}, 0, err
	}
	if reopened > 0 {
		metrics.RequestsReopenedTotal.Add(float64(reopened))
		notice := fmt.Sprintf("Администратор %s удалён, %d заявок возвращено в очередь.", removed.DisplayName(), reopened)
		if err := s.notifier.NotifyAdmins(ctx, domain.NotifyAdminNewRequest, notice); err != nil {
			s.log.Error().Err(err).Int64("telegram_id", targetTelegramID).Msg("не удалось уведомить о переоткрытых заявках")
		}
	}
	return removed, reopened, nil
}

// CreateSuggestion сохраняет предложение по доработке и уведомляет администраторов.
func (s *Service) CreateSuggestion(ctx context.Context, authorTelegramID int64, text string) (domain.Suggestion, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.Suggestion{}, domain.ErrEmptyText
	}
	author, err := s.users.GetUser(authorTelegramID)
	if err != nil {
		return domain.Suggestion{}, err
	}
	suggestion := domain.Suggestion{
		UserTelegramID: author.TelegramID,
		Username:       author.Username,
		FullName:       author.FullName,
		Organization:   author.Organization,
		Text:           text,
		CreatedAt:      s.now().UTC(),
	}
	saved, err := s.suggestions.CreateSuggestion(suggestion)
	if err != nil {
		return domain.Suggestion{}, fmt.Errorf("создание предложения: %w", err)
	}

	notice := fmt.Sprintf("Новое предложение от %s (%s):\n%s", author.DisplayName(), author.Organization, saved.Text)
	if err := s.notifier.NotifyAdmins(ctx, domain.NotifyAdminSuggestion, notice); err != nil {
		s.log.Error().Err(err).Int64("suggestion_id", saved.ID).Msg("не удалось уведомить администраторов о предложении")
	}
	return saved, nil
}

func (s *Service) requireAdmin(telegramID int64) error {
	user, err := s.users.GetUser(telegramID)
	if err != nil {
		return err
	}
	if user.Role != domain.RoleAdmin {
		return domain.ErrAccessDenied
	}
	return nil
}
