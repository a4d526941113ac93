package notify

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"support-bot/internal/domain"
)

type stubRepo struct {
	settings map[int64]domain.NotificationSettings
	admins   []domain.User
}

func (s *stubRepo) GetSettings(telegramID int64) (domain.NotificationSettings, error) {
	if st, ok := s.settings[telegramID]; ok {
		return st, nil
	}
	return domain.DefaultNotificationSettings(telegramID), nil
}

func (s *stubRepo) UpdateSettings(telegramID int64, patch domain.SettingsPatch) (domain.NotificationSettings, error) {
	st, _ := s.GetSettings(telegramID)
	st.Apply(patch)
	if s.settings == nil {
		s.settings = make(map[int64]domain.NotificationSettings)
	}
	s.settings[telegramID] = st
	return st, nil
}

func (s *stubRepo) RegisterUser(user domain.User) (domain.User, error) { return user, nil }

func (s *stubRepo) GetUser(int64) (domain.User, error) { return domain.User{}, nil }

func (s *stubRepo) ListUsers() ([]domain.User, error) { return nil, nil }

func (s *stubRepo) ListAdmins() ([]domain.User, error) { return s.admins, nil }

func (s *stubRepo) RemoveUser(int64) (domain.User, int, error) { return domain.User{}, 0, nil }

type stubQueue struct {
	jobs []domain.NotificationJob
}

func (q *stubQueue) Enqueue(_ context.Context, job domain.NotificationJob) error {
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *stubQueue) Pop(context.Context) (domain.NotificationJob, error) {
	return domain.NotificationJob{}, nil
}

func TestNotifyRespectsDisabledFlag(t *testing.T) {
	off := false
	repo := &stubRepo{settings: map[int64]domain.NotificationSettings{}}
	settings := domain.DefaultNotificationSettings(1)
	settings.Apply(domain.SettingsPatch{UserChatMessage: &off})
	repo.settings[1] = settings

	queue := &stubQueue{}
	svc := NewService(repo, repo, queue, zerolog.Nop())

	if err := svc.Notify(context.Background(), 1, domain.NotifyUserChatMessage, "текст"); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(queue.jobs) != 0 {
		t.Fatal("выключенный флаг должен подавлять уведомление")
	}

	if err := svc.Notify(context.Background(), 1, domain.NotifyUserRequestTaken, "текст"); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(queue.jobs) != 1 {
		t.Fatalf("включённый флаг ставит задание в очередь, получили %d", len(queue.jobs))
	}
	if queue.jobs[0].ID == "" || queue.jobs[0].ChatID != 1 {
		t.Fatalf("задание должно нести идентификатор и получателя, получили %+v", queue.jobs[0])
	}
}

func TestNotifyAdminsFansOut(t *testing.T) {
	repo := &stubRepo{admins: []domain.User{
		{TelegramID: 7, Role: domain.RoleAdmin},
		{TelegramID: 8, Role: domain.RoleAdmin},
	}}
	queue := &stubQueue{}
	svc := NewService(repo, repo, queue, zerolog.Nop())

	if err := svc.NotifyAdmins(context.Background(), domain.NotifyAdminNewRequest, "новая заявка"); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(queue.jobs) != 2 {
		t.Fatalf("оба администратора получают задание, получили %d", len(queue.jobs))
	}
}
