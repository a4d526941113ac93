package domain

import (
	"context"
	"time"
)

// UserRepo управляет учётными записями пользователей и администраторов.
type UserRepo interface {
	// RegisterUser создаёт или обновляет пользователя. Роль существующей
	// записи не понижается.
	RegisterUser(user User) (User, error)
	GetUser(telegramID int64) (User, error)
	ListUsers() ([]User, error)
	ListAdmins() ([]User, error)
	// RemoveUser удаляет пользователя и переводит его заявки в работе
	// обратно в NEW. Возвращает удалённого и число переоткрытых заявок.
	RemoveUser(telegramID int64) (User, int, error)
}

// RequestRepo управляет заявками и их жизненным циклом.
type RequestRepo interface {
	CreateRequest(req Request) (Request, error)
	GetRequest(id int64) (Request, error)
	ListRequests() ([]Request, error)
	ListRequestsByStatus(status RequestStatus) ([]Request, error)
	ListUserRequests(telegramID int64) ([]Request, error)
	// ActiveRequestFor возвращает незавершённую заявку пользователя,
	// либо ErrRequestNotFound.
	ActiveRequestFor(telegramID int64) (Request, error)
	// ClaimRequest атомарно переводит NEW-заявку в IN_PROGRESS и закрепляет
	// её за администратором. Проигравший гонку получает ErrWrongStatus.
	ClaimRequest(id, adminTelegramID int64, at time.Time) (Request, error)
	// CompleteRequest переводит заявку из IN_PROGRESS в COMPLETED.
	// Завершить может только назначенный администратор.
	CompleteRequest(id, adminTelegramID int64, at time.Time) (Request, error)
}

// MessageRepo управляет сообщениями диалогов.
type MessageRepo interface {
	AppendMessage(msg Message) (Message, error)
	ListMessages(requestID int64) ([]Message, error)
}

// SuggestionRepo управляет предложениями по доработке.
type SuggestionRepo interface {
	CreateSuggestion(s Suggestion) (Suggestion, error)
	ListSuggestions() ([]Suggestion, error)
}

// SettingsRepo хранит флаги уведомлений.
type SettingsRepo interface {
	// GetSettings возвращает настройки пользователя; при отсутствии записи —
	// значения по умолчанию.
	GetSettings(telegramID int64) (NotificationSettings, error)
	UpdateSettings(telegramID int64, patch SettingsPatch) (NotificationSettings, error)
}

// TypingStore хранит эфемерные сигналы набора текста.
type TypingStore interface {
	Set(requestID int64, signal TypingSignal)
	Clear(requestID int64, role Role)
	// ViewFor возвращает представление сигнала для стороны viewerRole:
	// собственный сигнал не показывается, протухшие записи очищаются.
	ViewFor(requestID int64, viewerRole Role, now time.Time) TypingView
}

// Cooldown ограничивает частоту повторяющихся действий.
type Cooldown interface {
	// Allow возвращает true, если действие по ключу разрешено, и открывает
	// окно тишины на ttl.
	Allow(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// NotificationQueue — очередь заданий на доставку уведомлений.
type NotificationQueue interface {
	Enqueue(ctx context.Context, job NotificationJob) error
	// Pop блокирующе читает следующее задание из очереди.
	Pop(ctx context.Context) (NotificationJob, error)
}

// Sender доставляет текстовые сообщения в Telegram.
type Sender interface {
	Send(ctx context.Context, chatID int64, text string) error
}

// Notifier рассылает уведомления с учётом пользовательских флагов.
type Notifier interface {
	Notify(ctx context.Context, telegramID int64, key NotificationKey, text string) error
	NotifyAdmins(ctx context.Context, key NotificationKey, text string) error
}
