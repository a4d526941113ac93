package domain

import "time"

// NotificationJob — задание на доставку одного уведомления в Telegram.
// Флаги получателя уже проверены на стороне постановщика.
type NotificationJob struct {
	ID         string          `json:"job_id,omitempty"`
	ChatID     int64           `json:"chat_id"`
	Key        NotificationKey `json:"key"`
	Text       string          `json:"text"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}
