package repo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"support-bot/internal/domain"
	"support-bot/internal/infra/metrics"
)

// Postgres реализует репозитории на основе pgxpool.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) connCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}

func (p *Postgres) connCtxWithParent(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		return p.connCtx()
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

// EnsureSchema создаёт таблицы, если их ещё нет.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
telegram_id BIGINT PRIMARY KEY,
username TEXT NOT NULL DEFAULT '',
first_name TEXT NOT NULL DEFAULT '',
last_name TEXT NOT NULL DEFAULT '',
role TEXT NOT NULL DEFAULT 'USER',
full_name TEXT NOT NULL DEFAULT '',
organization TEXT NOT NULL DEFAULT '',
registered_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
		`CREATE TABLE IF NOT EXISTS requests (
id BIGSERIAL PRIMARY KEY,
user_telegram_id BIGINT NOT NULL,
user_username TEXT NOT NULL DEFAULT '',
user_first_name TEXT NOT NULL DEFAULT '',
user_last_name TEXT NOT NULL DEFAULT '',
text TEXT NOT NULL,
status TEXT NOT NULL DEFAULT 'NEW',
priority TEXT NOT NULL DEFAULT 'MEDIUM',
sla_due_at TIMESTAMPTZ,
created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
in_progress_at TIMESTAMPTZ,
completed_at TIMESTAMPTZ,
assigned_admin_telegram_id BIGINT
)`,
		`CREATE INDEX IF NOT EXISTS idx_requests_status ON requests (status)`,
		`CREATE INDEX IF NOT EXISTS idx_requests_user ON requests (user_telegram_id)`,
		`CREATE TABLE IF NOT EXISTS messages (
id BIGSERIAL PRIMARY KEY,
request_id BIGINT NOT NULL REFERENCES requests (id) ON DELETE CASCADE,
sender_role TEXT NOT NULL,
sender_telegram_id BIGINT NOT NULL,
text TEXT NOT NULL DEFAULT '',
attachment_path TEXT,
attachment_name TEXT,
attachment_mime TEXT,
created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_request ON messages (request_id)`,
		`CREATE TABLE IF NOT EXISTS suggestions (
id BIGSERIAL PRIMARY KEY,
user_telegram_id BIGINT NOT NULL,
username TEXT NOT NULL DEFAULT '',
full_name TEXT NOT NULL DEFAULT '',
organization TEXT NOT NULL DEFAULT '',
text TEXT NOT NULL,
created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
		`CREATE TABLE IF NOT EXISTS notification_settings (
telegram_id BIGINT PRIMARY KEY,
admin_new_request BOOLEAN NOT NULL DEFAULT TRUE,
admin_suggestion BOOLEAN NOT NULL DEFAULT TRUE,
admin_chat_message BOOLEAN NOT NULL DEFAULT TRUE,
user_request_taken BOOLEAN NOT NULL DEFAULT TRUE,
user_request_completed BOOLEAN NOT NULL DEFAULT TRUE,
user_chat_message BOOLEAN NOT NULL DEFAULT TRUE
)`,
	}

	for _, stmt := range stmts {
		start := time.Now()
		_, err := p.pool.Exec(ctx, stmt)
		metrics.ObserveNetworkRequest("postgres", "ensure_schema", "schema", start, err)
		if err != nil {
			return err
		}
	}
	return nil
}

const userColumns = `telegram_id, username, first_name, last_name, role, full_name, organization, registered_at`

func scanUser(row pgx.Row) (domain.User, error) {
	var u domain.User
	err := row.Scan(&u.TelegramID, &u.Username, &u.FirstName, &u.LastName, &u.Role, &u.FullName, &u.Organization, &u.RegisteredAt)
	return u, err
}

// RegisterUser реализует domain.UserRepo. Повторная регистрация обновляет
// профиль, но не понижает роль ADMIN до USER.
func (p *Postgres) RegisterUser(user domain.User) (domain.User, error) {
	ctx, cancel := p.connCtx()
	defer cancel()

	if user.Role == "" {
		user.Role = domain.RoleUser
	}
	start := time.Now()
	row := p.pool.QueryRow(ctx, `
INSERT INTO users (telegram_id, username, first_name, last_name, role, full_name, organization)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (telegram_id) DO UPDATE SET
username = EXCLUDED.username,
first_name = EXCLUDED.first_name,
last_name = EXCLUDED.last_name,
role = CASE WHEN users.role = 'ADMIN' THEN users.role ELSE EXCLUDED.role END,
full_name = CASE WHEN EXCLUDED.full_name <> '' THEN EXCLUDED.full_name ELSE users.full_name END,
organization = CASE WHEN EXCLUDED.organization <> '' THEN EXCLUDED.organization ELSE users.organization END
RETURNING `+userColumns,
		user.TelegramID, user.Username, user.FirstName, user.LastName, user.Role, user.FullName, user.Organization)
	saved, err := scanUser(row)
	metrics.ObserveNetworkRequest("postgres", "users_upsert", "users", start, err)
	if err != nil {
		return domain.User{}, err
	}
	return saved, nil
}

// GetUser реализует domain.UserRepo.
func (p *Postgres) GetUser(telegramID int64) (domain.User, error) {
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	row := p.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE telegram_id = $1`, telegramID)
	u, err := scanUser(row)
	metrics.ObserveNetworkRequest("postgres", "users_get", "users", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.User{}, domain.ErrUserNotFound
	}
	if err != nil {
		return domain.User{}, err
	}
	return u, nil
}

func (p *Postgres) listUsers(where string, args ...any) ([]domain.User, error) {
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `SELECT `+userColumns+` FROM users `+where, args...)
	metrics.ObserveNetworkRequest("postgres", "users_list", "users", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// ListUsers возвращает всех пользователей в порядке регистрации.
func (p *Postgres) ListUsers() ([]domain.User, error) {
	return p.listUsers(`ORDER BY registered_at, telegram_id`)
}

// ListAdmins возвращает всех администраторов.
func (p *Postgres) ListAdmins() ([]domain.User, error) {
	return p.listUsers(`WHERE role = $1 ORDER BY registered_at, telegram_id`, domain.RoleAdmin)
}

// RemoveUser удаляет пользователя и в той же транзакции возвращает его
// заявки в работе обратно в NEW. Последнего администратора удалить нельзя.
func (p *Postgres) RemoveUser(telegramID int64) (domain.User, int, error) {
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	metrics.ObserveNetworkRequest("postgres", "begin_tx", "users", start, err)
	if err != nil {
		return domain.User{}, 0, err
	}
	defer tx.Rollback(ctx)

	start = time.Now()
	row := tx.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE telegram_id = $1 FOR UPDATE`, telegramID)
	victim, err := scanUser(row)
	metrics.ObserveNetworkRequest("postgres", "users_lock", "users", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.User{}, 0, domain.ErrUserNotFound
	}
	if err != nil {
		return domain.User{}, 0, err
	}

	if victim.Role == domain.RoleAdmin {
		var admins int
		start = time.Now()
		err = tx.QueryRow(ctx, `SELECT count(*) FROM users WHERE role = $1`, domain.RoleAdmin).Scan(&admins)
		metrics.ObserveNetworkRequest("postgres", "admins_count", "users", start, err)
		if err != nil {
			return domain.User{}, 0, err
		}
		if admins <= 1 {
			return domain.User{}, 0, domain.ErrLastAdmin
		}
	}

	start = time.Now()
	_, err = tx.Exec(ctx, `DELETE FROM users WHERE telegram_id = $1`, telegramID)
	metrics.ObserveNetworkRequest("postgres", "users_delete", "users", start, err)
	if err != nil {
		return domain.User{}, 0, err
	}

	start = time.Now()
	tag, err := tx.Exec(ctx, `
UPDATE requests
SET status = 'NEW', assigned_admin_telegram_id = NULL, in_progress_at = NULL
WHERE assigned_admin_telegram_id = $1 AND status = 'IN_PROGRESS'
`, telegramID)
	metrics.ObserveNetworkRequest("postgres", "requests_reopen", "requests", start, err)
	if err != nil {
		return domain.User{}, 0, err
	}

	start = time.Now()
	err = tx.Commit(ctx)
	metrics.ObserveNetworkRequest("postgres", "commit", "users", start, err)
	if err != nil {
		return domain.User{}, 0, err
	}
	return victim, int(tag.RowsAffected()), nil
}

const requestColumns = `id, user_telegram_id, user_username, user_first_name, user_last_name, text, status, priority, sla_due_at, created_at, in_progress_at, completed_at, assigned_admin_telegram_id`

func scanRequest(row pgx.Row) (domain.Request, error) {
	var (
		r          domain.Request
		slaDue     sql.NullTime
		inProgress sql.NullTime
		completed  sql.NullTime
		assignee   sql.NullInt64
	)
	err := row.Scan(&r.ID, &r.UserTelegramID, &r.UserUsername, &r.UserFirstName, &r.UserLastName, &r.Text, &r.Status, &r.Priority, &slaDue, &r.CreatedAt, &inProgress, &completed, &assignee)
	if err != nil {
		return domain.Request{}, err
	}
	if slaDue.Valid {
		r.SLADueAt = slaDue.Time
	}
	if inProgress.Valid {
		ts := inProgress.Time
		r.InProgressAt = &ts
	}
	if completed.Valid {
		ts := completed.Time
		r.CompletedAt = &ts
	}
	if assignee.Valid {
		id := assignee.Int64
		r.AssignedAdminTelegramID = &id
	}
	return r, nil
}

// CreateRequest реализует domain.RequestRepo.
func (p *Postgres) CreateRequest(req domain.Request) (domain.Request, error) {
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	row := p.pool.QueryRow(ctx, `
INSERT INTO requests (user_telegram_id, user_username, user_first_name, user_last_name, text, status, priority, sla_due_at, created_at)
VALUES ($1, $2, $3, $4, $5, 'NEW', $6, $7, $8)
RETURNING `+requestColumns,
		req.UserTelegramID, req.UserUsername, req.UserFirstName, req.UserLastName, req.Text, req.Priority, req.SLADueAt, req.CreatedAt)
	saved, err := scanRequest(row)
	metrics.ObserveNetworkRequest("postgres", "requests_insert", "requests", start, err)
	if err != nil {
		return domain.Request{}, err
	}
	return saved, nil
}

// GetRequest реализует domain.RequestRepo.
func (p *Postgres) GetRequest(id int64) (domain.Request, error) {
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	row := p.pool.QueryRow(ctx, `SELECT `+requestColumns+` FROM requests WHERE id = $1`, id)
	r, err := scanRequest(row)
	metrics.ObserveNetworkRequest("postgres", "requests_get", "requests", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Request{}, domain.ErrRequestNotFound
	}
	if err != nil {
		return domain.Request{}, err
	}
	return r, nil
}

func (p *Postgres) listRequests(where string, args ...any) ([]domain.Request, error) {
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `SELECT `+requestColumns+` FROM requests `+where, args...)
	metrics.ObserveNetworkRequest("postgres", "requests_list", "requests", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

// ListRequests возвращает все заявки, новые выше.
func (p *Postgres) ListRequests() ([]domain.Request, error) {
	return p.listRequests(`ORDER BY created_at DESC, id DESC`)
}

// ListRequestsByStatus возвращает заявки в указанном статусе.
func (p *Postgres) ListRequestsByStatus(status domain.RequestStatus) ([]domain.Request, error) {
	return p.listRequests(`WHERE status = $1 ORDER BY created_at, id`, status)
}

// ListUserRequests возвращает заявки пользователя.
func (p *Postgres) ListUserRequests(telegramID int64) ([]domain.Request, error) {
	return p.listRequests(`WHERE user_telegram_id = $1 ORDER BY created_at DESC, id DESC`, telegramID)
}

// ActiveRequestFor возвращает незавершённую заявку пользователя.
func (p *Postgres) ActiveRequestFor(telegramID int64) (domain.Request, error) {
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	row := p.pool.QueryRow(ctx, `
SELECT `+requestColumns+` FROM requests
WHERE user_telegram_id = $1 AND status <> 'COMPLETED'
ORDER BY created_at DESC, id DESC
LIMIT 1
`, telegramID)
	r, err := scanRequest(row)
	metrics.ObserveNetworkRequest("postgres", "requests_active", "requests", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Request{}, domain.ErrRequestNotFound
	}
	if err != nil {
		return domain.Request{}, err
	}
	return r, nil
}

// ClaimRequest атомарно берёт NEW-заявку в работу. Условное обновление по
// статусу исключает двойной захват; проигравший получает ErrWrongStatus.
func (p *Postgres) ClaimRequest(id, adminTelegramID int64, at time.Time) (domain.Request, error) {
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	row := p.pool.QueryRow(ctx, `
UPDATE requests
SET status = 'IN_PROGRESS', assigned_admin_telegram_id = $2, in_progress_at = $3
WHERE id = $1 AND status = 'NEW'
RETURNING `+requestColumns,
		id, adminTelegramID, at)
	r, err := scanRequest(row)
	metrics.ObserveNetworkRequest("postgres", "requests_claim", "requests", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Request{}, p.classifyClaimFailure(id)
	}
	if err != nil {
		return domain.Request{}, err
	}
	return r, nil
}

// classifyClaimFailure переводит пустой результат CAS в типизированный отказ.
// Если заявка к моменту перечитывания снова NEW, захват всё равно проигран.
func (p *Postgres) classifyClaimFailure(id int64) error {
	current, err := p.GetRequest(id)
	if err != nil {
		return err
	}
	if err := domain.CanClaim(current); err != nil {
		return err
	}
	return domain.ErrWrongStatus
}

// CompleteRequest переводит заявку из IN_PROGRESS в COMPLETED. Исполнитель
// остаётся в записи для истории.
func (p *Postgres) CompleteRequest(id, adminTelegramID int64, at time.Time) (domain.Request, error) {
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	row := p.pool.QueryRow(ctx, `
UPDATE requests
SET status = 'COMPLETED', completed_at = $3
WHERE id = $1 AND status = 'IN_PROGRESS' AND assigned_admin_telegram_id = $2
RETURNING `+requestColumns,
		id, adminTelegramID, at)
	r, err := scanRequest(row)
	metrics.ObserveNetworkRequest("postgres", "requests_complete", "requests", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Request{}, p.classifyCompleteFailure(id, adminTelegramID)
	}
	if err != nil {
		return domain.Request{}, err
	}
	return r, nil
}

func (p *Postgres) classifyCompleteFailure(id, adminTelegramID int64) error {
	current, err := p.GetRequest(id)
	if err != nil {
		return err
	}
	if err := domain.CanFinish(current, adminTelegramID); err != nil {
		return err
	}
	return domain.ErrWrongStatus
}
