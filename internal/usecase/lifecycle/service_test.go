package lifecycle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"support-bot/internal/domain"
)

type stubRepo struct {
	users    map[int64]domain.User
	requests map[int64]domain.Request
	nextID   int64

	suggestions []domain.Suggestion
}

func newStubRepo() *stubRepo {
	return &stubRepo{
		users:    make(map[int64]domain.User),
		requests: make(map[int64]domain.Request),
	}
}

func (s *stubRepo) RegisterUser(user domain.User) (domain.User, error) {
	s.users[user.TelegramID] = user
	return user, nil
}

func (s *stubRepo) GetUser(telegramID int64) (domain.User, error) {
	u, ok := s.users[telegramID]
	if !ok {
		return domain.User{}, domain.ErrUserNotFound
	}
	return u, nil
}

func (s *stubRepo) ListUsers() ([]domain.User, error) { return nil, nil }

func (s *stubRepo) ListAdmins() ([]domain.User, error) {
	var admins []domain.User
	for _, u := range s.users {
		if u.Role == domain.RoleAdmin {
			admins = append(admins, u)
		}
	}
	return admins, nil
}

func (s *stubRepo) RemoveUser(telegramID int64) (domain.User, int, error) {
	victim, ok := s.users[telegramID]
	if !ok {
		return domain.User{}, 0, domain.ErrUserNotFound
	}
	if victim.Role == domain.RoleAdmin {
		admins, _ := s.ListAdmins()
		if len(admins) <= 1 {
			return domain.User{}, 0, domain.ErrLastAdmin
		}
	}
	delete(s.users, telegramID)
	reopened := 0
	for id, r := range s.requests {
		if r.Status == domain.StatusInProgress && r.AssignedAdminTelegramID != nil && *r.AssignedAdminTelegramID == telegramID {
			r.Status = domain.StatusNew
			r.AssignedAdminTelegramID = nil
			r.InProgressAt = nil
			s.requests[id] = r
			reopened++
		}
	}
	return victim, reopened, nil
}

func (s *stubRepo) CreateRequest(req domain.Request) (domain.Request, error) {
	s.nextID++
	req.ID = s.nextID
	s.requests[req.ID] = req
	return req, nil
}

func (s *stubRepo) GetRequest(id int64) (domain.Request, error) {
	r, ok := s.requests[id]
	if !ok {
		return domain.Request{}, domain.ErrRequestNotFound
	}
	return r, nil
}

func (s *stubRepo) ListRequests() ([]domain.Request, error) { return nil, nil }

func (s *stubRepo) ListRequestsByStatus(domain.RequestStatus) ([]domain.Request, error) {
	return nil, nil
}

func (s *stubRepo) ListUserRequests(int64) ([]domain.Request, error) { return nil, nil }

func (s *stubRepo) ActiveRequestFor(telegramID int64) (domain.Request, error) {
	for _, r := range s.requests {
		if r.UserTelegramID == telegramID && r.Status != domain.StatusCompleted {
			return r, nil
		}
	}
	return domain.Request{}, domain.ErrRequestNotFound
}

func (s *stubRepo) ClaimRequest(id, adminTelegramID int64, at time.Time) (domain.Request, error) {
	r, ok := s.requests[id]
	if !ok {
		return domain.Request{}, domain.ErrRequestNotFound
	}
	if err := domain.CanClaim(r); err != nil {
		return domain.Request{}, err
	}
	r.Status = domain.StatusInProgress
	r.AssignedAdminTelegramID = &adminTelegramID
	r.InProgressAt = &at
	s.requests[id] = r
	return r, nil
}

func (s *stubRepo) CompleteRequest(id, adminTelegramID int64, at time.Time) (domain.Request, error) {
	r, ok := s.requests[id]
	if !ok {
		return domain.Request{}, domain.ErrRequestNotFound
	}
	if err := domain.CanFinish(r, adminTelegramID); err != nil {
		return domain.Request{}, err
	}
	r.Status = domain.StatusCompleted
	r.CompletedAt = &at
	s.requests[id] = r
	return r, nil
}

func (s *stubRepo) CreateSuggestion(sg domain.Suggestion) (domain.Suggestion, error) {
	sg.ID = int64(len(s.suggestions) + 1)
	s.suggestions = append(s.suggestions, sg)
	return sg, nil
}

func (s *stubRepo) ListSuggestions() ([]domain.Suggestion, error) { return s.suggestions, nil }

type sentNotice struct {
	telegramID int64
	key        domain.NotificationKey
	text       string
}

type stubNotifier struct {
	users  *stubRepo
	sent   []sentNotice
	failed bool
}

func (n *stubNotifier) Notify(_ context.Context, telegramID int64, key domain.NotificationKey, text string) error {
	if n.failed {
		return errors.New("очередь недоступна")
	}
	n.sent = append(n.sent, sentNotice{telegramID: telegramID, key: key, text: text})
	return nil
}

func (n *stubNotifier) NotifyAdmins(ctx context.Context, key domain.NotificationKey, text string) error {
	admins, _ := n.users.ListAdmins()
	for _, admin := range admins {
		_ = n.Notify(ctx, admin.TelegramID, key, text)
	}
	return nil
}

func newTestService(repo *stubRepo, notifier *stubNotifier) *Service {
	return NewService(repo, repo, repo, notifier, zerolog.Nop(), 0)
}

func seedUsers(repo *stubRepo) {
	repo.users[1] = domain.User{TelegramID: 1, Role: domain.RoleUser, FullName: "Иванов Иван", Organization: "Офис"}
	repo.users[7] = domain.User{TelegramID: 7, Role: domain.RoleAdmin, FullName: "Петров Пётр"}
	repo.users[8] = domain.User{TelegramID: 8, Role: domain.RoleAdmin, FullName: "Сидоров Семён"}
}

func TestCreateRequestInfersPriorityAndNotifiesAdmins(t *testing.T) {
	repo := newStubRepo()
	seedUsers(repo)
	notifier := &stubNotifier{users: repo}
	svc := newTestService(repo, notifier)

	req, err := svc.CreateRequest(context.Background(), 1, "Сломался сканер.\nПриоритет: высокий")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if req.Priority != domain.PriorityHigh {
		t.Fatalf("ожидали HIGH, получили %s", req.Priority)
	}
	if !req.SLADueAt.Equal(req.CreatedAt.Add(4 * time.Hour)) {
		t.Fatalf("срок SLA должен быть +4ч, получили %v", req.SLADueAt)
	}
	if len(notifier.sent) != 2 {
		t.Fatalf("оба администратора должны получить уведомление, получили %d", len(notifier.sent))
	}
	if notifier.sent[0].key != domain.NotifyAdminNewRequest {
		t.Fatalf("неожиданный ключ уведомления: %s", notifier.sent[0].key)
	}
}

func TestCreateRequestRejectsEmptyText(t *testing.T) {
	repo := newStubRepo()
	seedUsers(repo)
	svc := newTestService(repo, &stubNotifier{users: repo})

	if _, err := svc.CreateRequest(context.Background(), 1, "   "); !errors.Is(err, domain.ErrEmptyText) {
		t.Fatalf("ожидали ErrEmptyText, получили %v", err)
	}
}

func TestCreateRequestRequiresRegistration(t *testing.T) {
	repo := newStubRepo()
	seedUsers(repo)
	svc := newTestService(repo, &stubNotifier{users: repo})

	if _, err := svc.CreateRequest(context.Background(), 99, "текст"); !errors.Is(err, domain.ErrUserNotFound) {
		t.Fatalf("ожидали ErrUserNotFound, получили %v", err)
	}
}

func TestClaimIsExclusive(t *testing.T) {
	repo := newStubRepo()
	seedUsers(repo)
	notifier := &stubNotifier{users: repo}
	svc := newTestService(repo, notifier)

	req, _ := svc.CreateRequest(context.Background(), 1, "нет сети")
	notifier.sent = nil

	claimed, err := svc.Claim(context.Background(), req.ID, 7)
	if err != nil {
		t.Fatalf("первый захват должен пройти: %v", err)
	}
	if claimed.Status != domain.StatusInProgress || *claimed.AssignedAdminTelegramID != 7 {
		t.Fatalf("заявка должна быть закреплена за 7, получили %+v", claimed)
	}
	if len(notifier.sent) != 1 || notifier.sent[0].telegramID != 1 || notifier.sent[0].key != domain.NotifyUserRequestTaken {
		t.Fatalf("автор должен получить уведомление о взятии, получили %+v", notifier.sent)
	}

	if _, err := svc.Claim(context.Background(), req.ID, 8); !errors.Is(err, domain.ErrWrongStatus) {
		t.Fatalf("проигравший гонку получает ErrWrongStatus, получили %v", err)
	}
}

func TestClaimRequiresAdminRole(t *testing.T) {
	repo := newStubRepo()
	seedUsers(repo)
	svc := newTestService(repo, &stubNotifier{users: repo})

	req, _ := svc.CreateRequest(context.Background(), 1, "нет сети")
	if _, err := svc.Claim(context.Background(), req.ID, 1); !errors.Is(err, domain.ErrAccessDenied) {
		t.Fatalf("пользователь не может брать заявки: ожидали ErrAccessDenied, получили %v", err)
	}
}

func TestFinishOnlyByAssignee(t *testing.T) {
	repo := newStubRepo()
	seedUsers(repo)
	notifier := &stubNotifier{users: repo}
	svc := newTestService(repo, notifier)

	req, _ := svc.CreateRequest(context.Background(), 1, "нет сети")
	if _, err := svc.Claim(context.Background(), req.ID, 7); err != nil {
		t.Fatalf("захват: %v", err)
	}
	if _, err := svc.Finish(context.Background(), req.ID, 8); !errors.Is(err, domain.ErrNotAssignee) {
		t.Fatalf("чужой администратор: ожидали ErrNotAssignee, получили %v", err)
	}

	notifier.sent = nil
	completed, err := svc.Finish(context.Background(), req.ID, 7)
	if err != nil {
		t.Fatalf("назначенный администратор завершает: %v", err)
	}
	if completed.Status != domain.StatusCompleted || completed.AssignedAdminTelegramID == nil {
		t.Fatalf("исполнитель остаётся в записи для истории, получили %+v", completed)
	}
	if len(notifier.sent) != 1 || notifier.sent[0].key != domain.NotifyUserRequestCompleted {
		t.Fatalf("автор должен получить уведомление о завершении, получили %+v", notifier.sent)
	}
}

func TestRemoveUserRejectsSelfDelete(t *testing.T) {
	repo := newStubRepo()
	seedUsers(repo)
	svc := newTestService(repo, &stubNotifier{users: repo})

	if _, _, err := svc.RemoveUser(context.Background(), 7, 7); !errors.Is(err, domain.ErrSelfDelete) {
		t.Fatalf("ожидали ErrSelfDelete, получили %v", err)
	}
}

func TestRemoveAdminReopensRequests(t *testing.T) {
	repo := newStubRepo()
	seedUsers(repo)
	notifier := &stubNotifier{users: repo}
	svc := newTestService(repo, notifier)

	req, _ := svc.CreateRequest(context.Background(), 1, "нет сети")
	if _, err := svc.Claim(context.Background(), req.ID, 7); err != nil {
		t.Fatalf("захват: %v", err)
	}

	removed, reopened, err := svc.RemoveUser(context.Background(), 8, 7)
	if err != nil {
		t.Fatalf("удаление администратора: %v", err)
	}
	if removed.TelegramID != 7 || reopened != 1 {
		t.Fatalf("ожидали одну переоткрытую заявку, получили %d", reopened)
	}
	current, _ := repo.GetRequest(req.ID)
	if current.Status != domain.StatusNew || current.AssignedAdminTelegramID != nil {
		t.Fatalf("заявка должна вернуться в NEW без исполнителя, получили %+v", current)
	}
}

func TestRemoveLastAdminRejected(t *testing.T) {
	repo := newStubRepo()
	repo.users[1] = domain.User{TelegramID: 1, Role: domain.RoleUser}
	repo.users[7] = domain.User{TelegramID: 7, Role: domain.RoleAdmin}
	svc := newTestService(repo, &stubNotifier{users: repo})

	if _, _, err := svc.RemoveUser(context.Background(), 1, 7); !errors.Is(err, domain.ErrLastAdmin) {
		t.Fatalf("ожидали ErrLastAdmin, получили %v", err)
	}
}

func TestCreateSuggestionNotifiesAdmins(t *testing.T) {
	repo := newStubRepo()
	seedUsers(repo)
	notifier := &stubNotifier{users: repo}
	svc := newTestService(repo, notifier)

	sg, err := svc.CreateSuggestion(context.Background(), 1, "добавьте тёмную тему")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if sg.FullName != "Иванов Иван" {
		t.Fatalf("снимок профиля автора должен сохраниться, получили %+v", sg)
	}
	if len(notifier.sent) != 2 || notifier.sent[0].key != domain.NotifyAdminSuggestion {
		t.Fatalf("администраторы должны получить уведомление, получили %+v", notifier.sent)
	}
}
