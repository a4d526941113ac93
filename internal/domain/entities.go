package domain

import (
	"strings"
	"time"
)

// Role определяет роль пользователя в системе поддержки.
type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

// RequestStatus — статус заявки. Статус является единственным источником
// истины; поля InProgressAt/CompletedAt/AssignedAdminTelegramID лишь следствия.
type RequestStatus string

const (
	StatusNew        RequestStatus = "NEW"
	StatusInProgress RequestStatus = "IN_PROGRESS"
	StatusCompleted  RequestStatus = "COMPLETED"
)

// Priority — приоритет заявки.
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
)

// User описывает зарегистрированного пользователя Telegram.
type User struct {
	TelegramID   int64
	Username     string
	FirstName    string
	LastName     string
	Role         Role
	FullName     string
	Organization string
	RegisteredAt time.Time
}

// DisplayName возвращает имя для показа: ФИО, имя из Telegram или username.
func (u User) DisplayName() string {
	if u.FullName != "" {
		return u.FullName
	}
	name := strings.TrimSpace(strings.TrimSpace(u.FirstName) + " " + strings.TrimSpace(u.LastName))
	if name != "" {
		return name
	}
	return u.Username
}

// Request — заявка в техническую поддержку.
type Request struct {
	ID                      int64
	UserTelegramID          int64
	UserUsername            string
	UserFirstName           string
	UserLastName            string
	Text                    string
	Status                  RequestStatus
	Priority                Priority
	SLADueAt                time.Time
	CreatedAt               time.Time
	InProgressAt            *time.Time
	CompletedAt             *time.Time
	AssignedAdminTelegramID *int64
}

// IsOverdue сообщает, просрочена ли незавершённая заявка к моменту now.
func (r Request) IsOverdue(now time.Time) bool {
	if r.Status == StatusCompleted || r.SLADueAt.IsZero() {
		return false
	}
	return r.SLADueAt.Before(now)
}

// SenderName возвращает имя автора заявки из денормализованного снимка.
func (r Request) SenderName() string {
	name := strings.TrimSpace(strings.TrimSpace(r.UserFirstName) + " " + strings.TrimSpace(r.UserLastName))
	if name != "" {
		return name
	}
	return r.UserUsername
}

// Attachment описывает вложение сообщения. Все три поля заполняются вместе.
type Attachment struct {
	Path string
	Name string
	Mime string
}

// Message — сообщение в диалоге по заявке. Неизменяемо после создания.
type Message struct {
	ID               int64
	RequestID        int64
	SenderRole       Role
	SenderTelegramID int64
	Text             string
	Attachment       *Attachment
	CreatedAt        time.Time
}

// Suggestion — предложение по доработке продукта.
type Suggestion struct {
	ID             int64
	UserTelegramID int64
	Username       string
	FullName       string
	Organization   string
	Text           string
	CreatedAt      time.Time
}

// NotificationKey идентифицирует один из шести флагов уведомлений.
type NotificationKey string

const (
	NotifyAdminNewRequest      NotificationKey = "adminNewRequest"
	NotifyAdminSuggestion      NotificationKey = "adminSuggestion"
	NotifyAdminChatMessage     NotificationKey = "adminChatMessage"
	NotifyUserRequestTaken     NotificationKey = "userRequestTaken"
	NotifyUserRequestCompleted NotificationKey = "userRequestCompleted"
	NotifyUserChatMessage      NotificationKey = "userChatMessage"
)

// NotificationSettings — флаги уведомлений пользователя.
// При отсутствии записи действует DefaultNotificationSettings.
type NotificationSettings struct {
	TelegramID           int64 `json:"telegramId"`
	AdminNewRequest      bool  `json:"adminNewRequest"`
	AdminSuggestion      bool  `json:"adminSuggestion"`
	AdminChatMessage     bool  `json:"adminChatMessage"`
	UserRequestTaken     bool  `json:"userRequestTaken"`
	UserRequestCompleted bool  `json:"userRequestCompleted"`
	UserChatMessage      bool  `json:"userChatMessage"`
}

// DefaultNotificationSettings возвращает настройки по умолчанию: всё включено.
func DefaultNotificationSettings(telegramID int64) NotificationSettings {
	return NotificationSettings{
		TelegramID:           telegramID,
		AdminNewRequest:      true,
		AdminSuggestion:      true,
		AdminChatMessage:     true,
		UserRequestTaken:     true,
		UserRequestCompleted: true,
		UserChatMessage:      true,
	}
}

// Enabled сообщает, включён ли флаг с указанным ключом.
func (s NotificationSettings) Enabled(key NotificationKey) bool {
	switch key {
	case NotifyAdminNewRequest:
		return s.AdminNewRequest
	case NotifyAdminSuggestion:
		return s.AdminSuggestion
	case NotifyAdminChatMessage:
		return s.AdminChatMessage
	case NotifyUserRequestTaken:
		return s.UserRequestTaken
	case NotifyUserRequestCompleted:
		return s.UserRequestCompleted
	case NotifyUserChatMessage:
		return s.UserChatMessage
	default:
		return false
	}
}

// SettingsPatch — частичное обновление флагов; nil означает «не менять».
type SettingsPatch struct {
	AdminNewRequest      *bool `json:"adminNewRequest"`
	AdminSuggestion      *bool `json:"adminSuggestion"`
	AdminChatMessage     *bool `json:"adminChatMessage"`
	UserRequestTaken     *bool `json:"userRequestTaken"`
	UserRequestCompleted *bool `json:"userRequestCompleted"`
	UserChatMessage      *bool `json:"userChatMessage"`
}

// Apply накладывает патч на настройки.
func (s *NotificationSettings) Apply(patch SettingsPatch) {
	if patch.AdminNewRequest != nil {
		s.AdminNewRequest = *patch.AdminNewRequest
	}
	if patch.AdminSuggestion != nil {
		s.AdminSuggestion = *patch.AdminSuggestion
	}
	if patch.AdminChatMessage != nil {
		s.AdminChatMessage = *patch.AdminChatMessage
	}
	if patch.UserRequestTaken != nil {
		s.UserRequestTaken = *patch.UserRequestTaken
	}
	if patch.UserRequestCompleted != nil {
		s.UserRequestCompleted = *patch.UserRequestCompleted
	}
	if patch.UserChatMessage != nil {
		s.UserChatMessage = *patch.UserChatMessage
	}
}

// TypingSignal — эфемерный сигнал «собеседник печатает». Не персистится.
type TypingSignal struct {
	Role       Role
	TelegramID int64
	UpdatedAt  time.Time
}

// TypingView — представление сигнала для конкретной стороны диалога.
type TypingView struct {
	IsTyping bool `json:"isTyping"`
	Role     Role `json:"role,omitempty"`
}
