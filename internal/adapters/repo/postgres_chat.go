package repo

import (
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"support-bot/internal/domain"
	"support-bot/internal/infra/metrics"
)

const messageColumns = `id, request_id, sender_role, sender_telegram_id, text, attachment_path, attachment_name, attachment_mime, created_at`

func scanMessage(row pgx.Row) (domain.Message, error) {
	var (
		m       domain.Message
		attPath sql.NullString
		attName sql.NullString
		attMime sql.NullString
	)
	err := row.Scan(&m.ID, &m.RequestID, &m.SenderRole, &m.SenderTelegramID, &m.Text, &attPath, &attName, &attMime, &m.CreatedAt)
	if err != nil {
		return domain.Message{}, err
	}
	if attPath.Valid {
		m.Attachment = &domain.Attachment{
			Path: attPath.String,
			Name: attName.String,
			Mime: attMime.String,
		}
	}
	return m, nil
}

// AppendMessage реализует domain.MessageRepo.
func (p *Postgres) AppendMessage(msg domain.Message) (domain.Message, error) {
	ctx, cancel := p.connCtx()
	defer cancel()

	var attPath, attName, attMime sql.NullString
	if msg.Attachment != nil {
		attPath = sql.NullString{String: msg.Attachment.Path, Valid: true}
		attName = sql.NullString{String: msg.Attachment.Name, Valid: true}
		attMime = sql.NullString{String: msg.Attachment.Mime, Valid: true}
	}

	start := time.Now()
	row := p.pool.QueryRow(ctx, `
INSERT INTO messages (request_id, sender_role, sender_telegram_id, text, attachment_path, attachment_name, attachment_mime, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING `+messageColumns,
		msg.RequestID, msg.SenderRole, msg.SenderTelegramID, msg.Text, attPath, attName, attMime, msg.CreatedAt)
	saved, err := scanMessage(row)
	metrics.ObserveNetworkRequest("postgres", "messages_insert", "messages", start, err)
	if err != nil {
		return domain.Message{}, err
	}
	return saved, nil
}

// ListMessages возвращает сообщения диалога в хронологическом порядке.
func (p *Postgres) ListMessages(requestID int64) ([]domain.Message, error) {
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `SELECT `+messageColumns+` FROM messages WHERE request_id = $1 ORDER BY created_at, id`, requestID)
	metrics.ObserveNetworkRequest("postgres", "messages_list", "messages", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

// CreateSuggestion реализует domain.SuggestionRepo.
func (p *Postgres) CreateSuggestion(s domain.Suggestion) (domain.Suggestion, error) {
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	row := p.pool.QueryRow(ctx, `
INSERT INTO suggestions (user_telegram_id, username, full_name, organization, text, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id, user_telegram_id, username, full_name, organization, text, created_at
`, s.UserTelegramID, s.Username, s.FullName, s.Organization, s.Text, s.CreatedAt)
	var saved domain.Suggestion
	err := row.Scan(&saved.ID, &saved.UserTelegramID, &saved.Username, &saved.FullName, &saved.Organization, &saved.Text, &saved.CreatedAt)
	metrics.ObserveNetworkRequest("postgres", "suggestions_insert", "suggestions", start, err)
	if err != nil {
		return domain.Suggestion{}, err
	}
	return saved, nil
}

// ListSuggestions возвращает предложения, новые выше.
func (p *Postgres) ListSuggestions() ([]domain.Suggestion, error) {
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id, user_telegram_id, username, full_name, organization, text, created_at
FROM suggestions ORDER BY created_at DESC, id DESC
`)
	metrics.ObserveNetworkRequest("postgres", "suggestions_list", "suggestions", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Suggestion
	for rows.Next() {
		var s domain.Suggestion
		if err := rows.Scan(&s.ID, &s.UserTelegramID, &s.Username, &s.FullName, &s.Organization, &s.Text, &s.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, s)
	}
	return result, rows.Err()
}

// GetSettings возвращает флаги уведомлений; при отсутствии записи действуют
// значения по умолчанию.
func (p *Postgres) GetSettings(telegramID int64) (domain.NotificationSettings, error) {
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	row := p.pool.QueryRow(ctx, `
SELECT telegram_id, admin_new_request, admin_suggestion, admin_chat_message, user_request_taken, user_request_completed, user_chat_message
FROM notification_settings WHERE telegram_id = $1
`, telegramID)
	var s domain.NotificationSettings
	err := row.Scan(&s.TelegramID, &s.AdminNewRequest, &s.AdminSuggestion, &s.AdminChatMessage, &s.UserRequestTaken, &s.UserRequestCompleted, &s.UserChatMessage)
	metrics.ObserveNetworkRequest("postgres", "settings_get", "notification_settings", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.DefaultNotificationSettings(telegramID), nil
	}
	if err != nil {
		return domain.NotificationSettings{}, err
	}
	return s, nil
}

// UpdateSettings накладывает частичный патч и сохраняет итоговые флаги.
func (p *Postgres) UpdateSettings(telegramID int64, patch domain.SettingsPatch) (domain.NotificationSettings, error) {
	current, err := p.GetSettings(telegramID)
	if err != nil {
		return domain.NotificationSettings{}, err
	}
	current.Apply(patch)

	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	_, err = p.pool.Exec(ctx, `
INSERT INTO notification_settings (telegram_id, admin_new_request, admin_suggestion, admin_chat_message, user_request_taken, user_request_completed, user_chat_message)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (telegram_id) DO UPDATE SET
admin_new_request = EXCLUDED.admin_new_request,
admin_suggestion = EXCLUDED.admin_suggestion,
admin_chat_message = EXCLUDED.admin_chat_message,
user_request_taken = EXCLUDED.user_request_taken,
user_request_completed = EXCLUDED.user_request_completed,
user_chat_message = EXCLUDED.user_chat_message
`, current.TelegramID, current.AdminNewRequest, current.AdminSuggestion, current.AdminChatMessage, current.UserRequestTaken, current.UserRequestCompleted, current.UserChatMessage)
	metrics.ObserveNetworkRequest("postgres", "settings_upsert", "notification_settings", start, err)
	if err != nil {
		return domain.NotificationSettings{}, err
	}
	return current, nil
}
