package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jackc/pgx/v5"

	"support-bot/internal/domain"
	"support-bot/internal/infra/metrics"
)

// Снимок прежнего хранилища: четыре JSON-файла с camelCase-полями.
type legacyUser struct {
	TelegramID   int64  `json:"telegramId"`
	Username     string `json:"username"`
	FirstName    string `json:"firstName"`
	LastName     string `json:"lastName"`
	Role         string `json:"role"`
	FullName     string `json:"fullName"`
	Organization string `json:"organization"`
	RegisteredAt string `json:"registeredAt"`
}

type legacyRequest struct {
	ID                      int64  `json:"id"`
	UserTelegramID          int64  `json:"userTelegramId"`
	UserUsername            string `json:"userUsername"`
	UserFirstName           string `json:"userFirstName"`
	UserLastName            string `json:"userLastName"`
	Text                    string `json:"text"`
	Status                  string `json:"status"`
	Priority                string `json:"priority"`
	SLADueAt                string `json:"slaDueAt"`
	CreatedAt               string `json:"createdAt"`
	InProgressAt            string `json:"inProgressAt"`
	CompletedAt             string `json:"completedAt"`
	AssignedAdminTelegramID *int64 `json:"assignedAdminTelegramId"`
}

type legacySuggestion struct {
	ID             int64  `json:"id"`
	UserTelegramID int64  `json:"userTelegramId"`
	Username       string `json:"username"`
	FullName       string `json:"fullName"`
	Organization   string `json:"organization"`
	Text           string `json:"text"`
	CreatedAt      string `json:"createdAt"`
}

type legacyMessage struct {
	ID               int64  `json:"id"`
	RequestID        int64  `json:"requestId"`
	SenderRole       string `json:"senderRole"`
	SenderTelegramID int64  `json:"senderTelegramId"`
	Text             string `json:"text"`
	AttachmentPath   string `json:"attachmentPath"`
	AttachmentName   string `json:"attachmentName"`
	AttachmentMime   string `json:"attachmentMime"`
	CreatedAt        string `json:"createdAt"`
}

// ImportLegacySnapshot переносит снимок прежнего хранилища в Postgres.
// Каждая таблица заполняется только если она пуста; отсутствующий файл
// пропускается. Идентификаторы снимка сохраняются.
func (p *Postgres) ImportLegacySnapshot(ctx context.Context, dir string) error {
	if dir == "" {
		return nil
	}
	// Перенос идёт одной партией и не укладывается в окно connCtx.
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	if err := p.importUsers(ctx, filepath.Join(dir, "users.json")); err != nil {
		return fmt.Errorf("импорт users: %w", err)
	}
	if err := p.importRequests(ctx, filepath.Join(dir, "requests.json")); err != nil {
		return fmt.Errorf("импорт requests: %w", err)
	}
	if err := p.importSuggestions(ctx, filepath.Join(dir, "suggestions.json")); err != nil {
		return fmt.Errorf("импорт suggestions: %w", err)
	}
	if err := p.importMessages(ctx, filepath.Join(dir, "messages.json")); err != nil {
		return fmt.Errorf("импорт messages: %w", err)
	}
	return nil
}

func loadLegacyArray[T any](path string) ([]T, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var items []T
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, err
	}
	return items, nil
}

func parseLegacyTime(raw string, fallback time.Time) time.Time {
	if raw == "" {
		return fallback
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return fallback
	}
	return ts
}

func parseLegacyTimePtr(raw string) *time.Time {
	if raw == "" {
		return nil
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil
	}
	return &ts
}

func (p *Postgres) tableEmpty(ctx context.Context, tx pgx.Tx, table string) (bool, error) {
	var count int
	start := time.Now()
	err := tx.QueryRow(ctx, `SELECT count(*) FROM `+table).Scan(&count)
	metrics.ObserveNetworkRequest("postgres", "legacy_count", table, start, err)
	if err != nil {
		return false, err
	}
	return count == 0, nil
}

func (p *Postgres) importTable(ctx context.Context, table string, fill func(pgx.Tx) error) error {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	empty, err := p.tableEmpty(ctx, tx, table)
	if err != nil {
		return err
	}
	if !empty {
		return nil
	}
	if err := fill(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (p *Postgres) importUsers(ctx context.Context, path string) error {
	items, err := loadLegacyArray[legacyUser](path)
	if err != nil || len(items) == 0 {
		return err
	}
	return p.importTable(ctx, "users", func(tx pgx.Tx) error {
		for _, item := range items {
			role := domain.Role(item.Role)
			if role != domain.RoleAdmin {
				role = domain.RoleUser
			}
			registeredAt := parseLegacyTime(item.RegisteredAt, time.Now().UTC())
			start := time.Now()
			_, err := tx.Exec(ctx, `
INSERT INTO users (telegram_id, username, first_name, last_name, role, full_name, organization, registered_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (telegram_id) DO NOTHING
`, item.TelegramID, item.Username, item.FirstName, item.LastName, role, item.FullName, item.Organization, registeredAt)
			metrics.ObserveNetworkRequest("postgres", "legacy_users_insert", "users", start, err)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (p *Postgres) importRequests(ctx context.Context, path string) error {
	items, err := loadLegacyArray[legacyRequest](path)
	if err != nil || len(items) == 0 {
		return err
	}
	return p.importTable(ctx, "requests", func(tx pgx.Tx) error {
		for _, item := range items {
			priority := domain.ParsePriority(item.Priority)
			if item.Priority == "" {
				priority = domain.InferPriorityFromText(item.Text)
			}
			createdAt := parseLegacyTime(item.CreatedAt, time.Now().UTC())
			slaDueAt := parseLegacyTime(item.SLADueAt, domain.ComputeSLADueAt(createdAt, priority, 0))
			status := domain.RequestStatus(item.Status)
			if status == "" {
				status = domain.StatusNew
			}
			start := time.Now()
			_, err := tx.Exec(ctx, `
INSERT INTO requests (id, user_telegram_id, user_username, user_first_name, user_last_name, text, status, priority, sla_due_at, created_at, in_progress_at, completed_at, assigned_admin_telegram_id)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
`, item.ID, item.UserTelegramID, item.UserUsername, item.UserFirstName, item.UserLastName, item.Text, status, priority, slaDueAt, createdAt, parseLegacyTimePtr(item.InProgressAt), parseLegacyTimePtr(item.CompletedAt), item.AssignedAdminTelegramID)
			metrics.ObserveNetworkRequest("postgres", "legacy_requests_insert", "requests", start, err)
			if err != nil {
				return err
			}
		}
		start := time.Now()
		_, err := tx.Exec(ctx, `SELECT setval(pg_get_serial_sequence('requests', 'id'), (SELECT COALESCE(MAX(id), 1) FROM requests))`)
		metrics.ObserveNetworkRequest("postgres", "legacy_requests_seq", "requests", start, err)
		return err
	})
}

func (p *Postgres) importSuggestions(ctx context.Context, path string) error {
	items, err := loadLegacyArray[legacySuggestion](path)
	if err != nil || len(items) == 0 {
		return err
	}
	return p.importTable(ctx, "suggestions", func(tx pgx.Tx) error {
		for _, item := range items {
			start := time.Now()
			_, err := tx.Exec(ctx, `
INSERT INTO suggestions (id, user_telegram_id, username, full_name, organization, text, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
`, item.ID, item.UserTelegramID, item.Username, item.FullName, item.Organization, item.Text, parseLegacyTime(item.CreatedAt, time.Now().UTC()))
			metrics.ObserveNetworkRequest("postgres", "legacy_suggestions_insert", "suggestions", start, err)
			if err != nil {
				return err
			}
		}
		start := time.Now()
		_, err := tx.Exec(ctx, `SELECT setval(pg_get_serial_sequence('suggestions', 'id'), (SELECT COALESCE(MAX(id), 1) FROM suggestions))`)
		metrics.ObserveNetworkRequest("postgres", "legacy_suggestions_seq", "suggestions", start, err)
		return err
	})
}

func (p *Postgres) importMessages(ctx context.Context, path string) error {
	items, err := loadLegacyArray[legacyMessage](path)
	if err != nil || len(items) == 0 {
		return err
	}
	return p.importTable(ctx, "messages", func(tx pgx.Tx) error {
		for _, item := range items {
			role := domain.Role(item.SenderRole)
			if role != domain.RoleAdmin {
				role = domain.RoleUser
			}
			start := time.Now()
			_, err := tx.Exec(ctx, `
INSERT INTO messages (id, request_id, sender_role, sender_telegram_id, text, attachment_path, attachment_name, attachment_mime, created_at)
VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), NULLIF($8, ''), $9)
`, item.ID, item.RequestID, role, item.SenderTelegramID, item.Text, item.AttachmentPath, item.AttachmentName, item.AttachmentMime, parseLegacyTime(item.CreatedAt, time.Now().UTC()))
			metrics.ObserveNetworkRequest("postgres", "legacy_messages_insert", "messages", start, err)
			if err != nil {
				return err
			}
		}
		start := time.Now()
		_, err := tx.Exec(ctx, `SELECT setval(pg_get_serial_sequence('messages', 'id'), (SELECT COALESCE(MAX(id), 1) FROM messages))`)
		metrics.ObserveNetworkRequest("postgres", "legacy_messages_seq", "messages", start, err)
		return err
	})
}
