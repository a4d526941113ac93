package domain

import (
	"errors"
	"testing"
)

func ptr(v int64) *int64 { return &v }

func TestCanClaim(t *testing.T) {
	if err := CanClaim(Request{Status: StatusNew}); err != nil {
		t.Fatalf("NEW-заявку можно взять в работу: %v", err)
	}
	if err := CanClaim(Request{Status: StatusInProgress}); !errors.Is(err, ErrWrongStatus) {
		t.Fatalf("повторный захват: ожидали ErrWrongStatus, получили %v", err)
	}
	if err := CanClaim(Request{Status: StatusCompleted}); !errors.Is(err, ErrWrongStatus) {
		t.Fatalf("завершённая заявка: ожидали ErrWrongStatus, получили %v", err)
	}
}

func TestCanFinish(t *testing.T) {
	r := Request{Status: StatusInProgress, AssignedAdminTelegramID: ptr(7)}
	if err := CanFinish(r, 7); err != nil {
		t.Fatalf("назначенный администратор завершает заявку: %v", err)
	}
	if err := CanFinish(r, 8); !errors.Is(err, ErrNotAssignee) {
		t.Fatalf("чужая заявка: ожидали ErrNotAssignee, получили %v", err)
	}
	if err := CanFinish(Request{Status: StatusNew}, 7); !errors.Is(err, ErrWrongStatus) {
		t.Fatalf("NEW нельзя завершить: ожидали ErrWrongStatus, получили %v", err)
	}
}

func TestCanReadThread(t *testing.T) {
	r := Request{UserTelegramID: 1, Status: StatusInProgress, AssignedAdminTelegramID: ptr(7)}

	if err := CanReadThread(r, Viewer{TelegramID: 1, Role: RoleUser}); err != nil {
		t.Fatalf("владелец читает всегда: %v", err)
	}
	if err := CanReadThread(r, Viewer{TelegramID: 2, Role: RoleUser}); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("чужой пользователь: ожидали ErrAccessDenied, получили %v", err)
	}
	if err := CanReadThread(r, Viewer{TelegramID: 7, Role: RoleAdmin}); err != nil {
		t.Fatalf("назначенный администратор читает: %v", err)
	}
	if err := CanReadThread(r, Viewer{TelegramID: 8, Role: RoleAdmin}); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("посторонний администратор: ожидали ErrAccessDenied, получили %v", err)
	}

	fresh := Request{UserTelegramID: 1, Status: StatusNew}
	if err := CanReadThread(fresh, Viewer{TelegramID: 8, Role: RoleAdmin}); err != nil {
		t.Fatalf("NEW-заявка видна любому администратору: %v", err)
	}
}

func TestCanPost(t *testing.T) {
	r := Request{UserTelegramID: 1, Status: StatusInProgress, AssignedAdminTelegramID: ptr(7)}

	if err := CanPost(r, Viewer{TelegramID: 1, Role: RoleUser}); err != nil {
		t.Fatalf("владелец пишет в открытый диалог: %v", err)
	}
	if err := CanPost(r, Viewer{TelegramID: 7, Role: RoleAdmin}); err != nil {
		t.Fatalf("назначенный администратор пишет: %v", err)
	}
	if err := CanPost(r, Viewer{TelegramID: 8, Role: RoleAdmin}); !errors.Is(err, ErrNotAssignee) {
		t.Fatalf("посторонний администратор: ожидали ErrNotAssignee, получили %v", err)
	}

	if err := CanPost(Request{UserTelegramID: 1, Status: StatusNew}, Viewer{TelegramID: 1, Role: RoleUser}); !errors.Is(err, ErrWrongStatus) {
		t.Fatalf("в NEW писать нельзя: ожидали ErrWrongStatus, получили %v", err)
	}
	if err := CanPost(Request{UserTelegramID: 1, Status: StatusCompleted, AssignedAdminTelegramID: ptr(7)}, Viewer{TelegramID: 7, Role: RoleAdmin}); !errors.Is(err, ErrWrongStatus) {
		t.Fatalf("в COMPLETED писать нельзя: ожидали ErrWrongStatus, получили %v", err)
	}
}

func TestSettingsApply(t *testing.T) {
	s := DefaultNotificationSettings(1)
	off := false
	s.Apply(SettingsPatch{UserChatMessage: &off})
	if s.Enabled(NotifyUserChatMessage) {
		t.Fatal("флаг userChatMessage должен быть выключен")
	}
	if !s.Enabled(NotifyAdminNewRequest) {
		t.Fatal("непатченные флаги не меняются")
	}
}
