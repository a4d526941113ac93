package typing

import (
	"testing"
	"time"

	"support-bot/internal/domain"
)

func TestViewForHidesOwnSignal(t *testing.T) {
	now := time.Now()
	store := NewMemory(4500 * time.Millisecond)
	store.Set(1, domain.TypingSignal{Role: domain.RoleUser, TelegramID: 10, UpdatedAt: now})

	view := store.ViewFor(1, domain.RoleUser, now)
	if view.IsTyping {
		t.Fatal("собственный сигнал не должен показываться")
	}

	view = store.ViewFor(1, domain.RoleAdmin, now)
	if !view.IsTyping || view.Role != domain.RoleUser {
		t.Fatalf("администратор должен видеть сигнал пользователя, получили %+v", view)
	}
}

func TestViewForExpiresSignals(t *testing.T) {
	now := time.Now()
	store := NewMemory(4500 * time.Millisecond)
	store.Set(1, domain.TypingSignal{Role: domain.RoleAdmin, TelegramID: 7, UpdatedAt: now})

	view := store.ViewFor(1, domain.RoleUser, now.Add(5*time.Second))
	if view.IsTyping {
		t.Fatal("протухший сигнал должен быть очищен")
	}
}

func TestClearRemovesSignal(t *testing.T) {
	now := time.Now()
	store := NewMemory(time.Minute)
	store.Set(1, domain.TypingSignal{Role: domain.RoleAdmin, TelegramID: 7, UpdatedAt: now})
	store.Clear(1, domain.RoleAdmin)

	if view := store.ViewFor(1, domain.RoleUser, now); view.IsTyping {
		t.Fatal("после Clear сигнала быть не должно")
	}
}
