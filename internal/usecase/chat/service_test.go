package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"support-bot/internal/adapters/typing"
	"support-bot/internal/domain"
)

type stubRepo struct {
	users    map[int64]domain.User
	requests map[int64]domain.Request
	messages []domain.Message
}

func (s *stubRepo) RegisterUser(user domain.User) (domain.User, error) { return user, nil }

func (s *stubRepo) GetUser(telegramID int64) (domain.User, error) {
	u, ok := s.users[telegramID]
	if !ok {
		return domain.User{}, domain.ErrUserNotFound
	}
	return u, nil
}

func (s *stubRepo) ListUsers() ([]domain.User, error)          { return nil, nil }
func (s *stubRepo) ListAdmins() ([]domain.User, error)         { return nil, nil }
func (s *stubRepo) RemoveUser(int64) (domain.User, int, error) { return domain.User{}, 0, nil }

func (s *stubRepo) CreateRequest(req domain.Request) (domain.Request, error) { return req, nil }

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

func (s *stubRepo) ActiveRequestFor(int64) (domain.Request, error) {
	return domain.Request{}, domain.ErrRequestNotFound
}

func (s *stubRepo) ClaimRequest(id, admin int64, at time.Time) (domain.Request, error) {
	return domain.Request{}, nil
}

func (s *stubRepo) CompleteRequest(id, admin int64, at time.Time) (domain.Request, error) {
	return domain.Request{}, nil
}

func (s *stubRepo) AppendMessage(msg domain.Message) (domain.Message, error) {
	msg.ID = int64(len(s.messages) + 1)
	s.messages = append(s.messages, msg)
	return msg, nil
}

func (s *stubRepo) ListMessages(requestID int64) ([]domain.Message, error) {
	var result []domain.Message
	for _, m := range s.messages {
		if m.RequestID == requestID {
			result = append(result, m)
		}
	}
	return result, nil
}

type stubNotifier struct {
	sent []domain.NotificationKey
	to   []int64
}

func (n *stubNotifier) Notify(_ context.Context, telegramID int64, key domain.NotificationKey, _ string) error {
	n.sent = append(n.sent, key)
	n.to = append(n.to, telegramID)
	return nil
}

func (n *stubNotifier) NotifyAdmins(context.Context, domain.NotificationKey, string) error {
	return nil
}

type stubCooldown struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (c *stubCooldown) Allow(_ context.Context, key string, _ time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.seen == nil {
		c.seen = make(map[string]bool)
	}
	if c.seen[key] {
		return false, nil
	}
	c.seen[key] = true
	return true, nil
}

func adminID(v int64) *int64 { return &v }

func newStub() *stubRepo {
	return &stubRepo{
		users: map[int64]domain.User{
			1: {TelegramID: 1, Role: domain.RoleUser, FirstName: "Иван"},
			7: {TelegramID: 7, Role: domain.RoleAdmin},
			8: {TelegramID: 8, Role: domain.RoleAdmin},
		},
		requests: map[int64]domain.Request{
			10: {ID: 10, UserTelegramID: 1, Status: domain.StatusInProgress, AssignedAdminTelegramID: adminID(7)},
			11: {ID: 11, UserTelegramID: 1, Status: domain.StatusNew},
		},
	}
}

func newTestService(repo *stubRepo, notifier *stubNotifier, cooldown domain.Cooldown) *Service {
	store := typing.NewMemory(4500 * time.Millisecond)
	return NewService(repo, repo, repo, store, cooldown, notifier, zerolog.Nop(), 2*time.Second)
}

func TestPostMessageNotifiesAssignee(t *testing.T) {
	repo := newStub()
	notifier := &stubNotifier{}
	svc := newTestService(repo, notifier, nil)

	msg, err := svc.PostMessage(context.Background(), 10, 1, "не помогло", nil)
	if err != nil {
		t.Fatalf("владелец пишет в открытый диалог: %v", err)
	}
	if msg.SenderRole != domain.RoleUser {
		t.Fatalf("ожидали роль USER, получили %s", msg.SenderRole)
	}
	if len(notifier.sent) != 1 || notifier.sent[0] != domain.NotifyAdminChatMessage || notifier.to[0] != 7 {
		t.Fatalf("назначенный администратор должен получить уведомление, получили %+v", notifier)
	}
}

func TestPostMessageNotifiesOwner(t *testing.T) {
	repo := newStub()
	notifier := &stubNotifier{}
	svc := newTestService(repo, notifier, nil)

	if _, err := svc.PostMessage(context.Background(), 10, 7, "проверьте кабель", nil); err != nil {
		t.Fatalf("администратор пишет: %v", err)
	}
	if len(notifier.sent) != 1 || notifier.sent[0] != domain.NotifyUserChatMessage || notifier.to[0] != 1 {
		t.Fatalf("владелец должен получить уведомление, получили %+v", notifier)
	}
}

func TestPostMessagePolicy(t *testing.T) {
	repo := newStub()
	svc := newTestService(repo, &stubNotifier{}, nil)

	if _, err := svc.PostMessage(context.Background(), 11, 1, "привет", nil); !errors.Is(err, domain.ErrWrongStatus) {
		t.Fatalf("в NEW писать нельзя: ожидали ErrWrongStatus, получили %v", err)
	}
	if _, err := svc.PostMessage(context.Background(), 10, 8, "привет", nil); !errors.Is(err, domain.ErrNotAssignee) {
		t.Fatalf("посторонний администратор: ожидали ErrNotAssignee, получили %v", err)
	}
	if _, err := svc.PostMessage(context.Background(), 10, 1, "   ", nil); !errors.Is(err, domain.ErrEmptyText) {
		t.Fatalf("пустое сообщение: ожидали ErrEmptyText, получили %v", err)
	}
}

func TestPostMessageAttachmentWithoutText(t *testing.T) {
	repo := newStub()
	svc := newTestService(repo, &stubNotifier{}, nil)

	att := &domain.Attachment{Path: "uploads/a.png", Name: "скрин.png", Mime: "image/png"}
	msg, err := svc.PostMessage(context.Background(), 10, 1, "", att)
	if err != nil {
		t.Fatalf("вложение без текста допустимо: %v", err)
	}
	if msg.Attachment == nil || msg.Attachment.Name != "скрин.png" {
		t.Fatalf("вложение должно сохраниться, получили %+v", msg.Attachment)
	}
}

func TestListMessagesAppliesReadPolicy(t *testing.T) {
	repo := newStub()
	svc := newTestService(repo, &stubNotifier{}, nil)

	if _, err := svc.PostMessage(context.Background(), 10, 1, "первое", nil); err != nil {
		t.Fatalf("подготовка: %v", err)
	}

	thread, err := svc.ListMessages(10, 1)
	if err != nil {
		t.Fatalf("владелец читает: %v", err)
	}
	if len(thread.Messages) != 1 {
		t.Fatalf("ожидали 1 сообщение, получили %d", len(thread.Messages))
	}

	if _, err := svc.ListMessages(10, 8); !errors.Is(err, domain.ErrAccessDenied) {
		t.Fatalf("посторонний администратор не читает: ожидали ErrAccessDenied, получили %v", err)
	}
	if _, err := svc.ListMessages(11, 8); err != nil {
		t.Fatalf("NEW-заявка видна любому администратору: %v", err)
	}
}

func TestSignalTypingVisibleToCounterpart(t *testing.T) {
	repo := newStub()
	svc := newTestService(repo, &stubNotifier{}, nil)

	ok, err := svc.SignalTyping(context.Background(), 10, 1)
	if err != nil || !ok {
		t.Fatalf("сигнал должен приниматься: ok=%v err=%v", ok, err)
	}

	thread, err := svc.ListMessages(10, 7)
	if err != nil {
		t.Fatalf("чтение администратором: %v", err)
	}
	if !thread.Typing.IsTyping || thread.Typing.Role != domain.RoleUser {
		t.Fatalf("администратор должен видеть сигнал пользователя, получили %+v", thread.Typing)
	}

	own, err := svc.ListMessages(10, 1)
	if err != nil {
		t.Fatalf("чтение владельцем: %v", err)
	}
	if own.Typing.IsTyping {
		t.Fatal("собственный сигнал не показывается")
	}
}

func TestSignalTypingCooldown(t *testing.T) {
	repo := newStub()
	svc := newTestService(repo, &stubNotifier{}, &stubCooldown{})

	ok, err := svc.SignalTyping(context.Background(), 10, 1)
	if err != nil || !ok {
		t.Fatalf("первый сигнал проходит: ok=%v err=%v", ok, err)
	}
	ok, err = svc.SignalTyping(context.Background(), 10, 1)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if ok {
		t.Fatal("повторный сигнал в окне тишины должен отбрасываться")
	}
}

func TestPostMessageClearsTypingSignal(t *testing.T) {
	repo := newStub()
	svc := newTestService(repo, &stubNotifier{}, nil)

	if ok, _ := svc.SignalTyping(context.Background(), 10, 1); !ok {
		t.Fatal("подготовка: сигнал не принят")
	}
	if _, err := svc.PostMessage(context.Background(), 10, 1, "готово", nil); err != nil {
		t.Fatalf("отправка: %v", err)
	}
	thread, _ := svc.ListMessages(10, 7)
	if thread.Typing.IsTyping {
		t.Fatal("после отправки сообщения сигнал набора снимается")
	}
}
