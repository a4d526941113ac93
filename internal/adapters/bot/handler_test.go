package bot

import (
	"strings"
	"testing"
	"time"

	"support-bot/internal/domain"
)

func TestParseRequestID(t *testing.T) {
	if id, ok := parseRequestID(" 12 "); !ok || id != 12 {
		t.Fatalf("ожидали 12, получили %d ok=%v", id, ok)
	}
	for _, raw := range []string{"", "ноль", "-4", "0", "1.5"} {
		if _, ok := parseRequestID(raw); ok {
			t.Fatalf("%q не является номером заявки", raw)
		}
	}
}

func TestFormatRequestBoard(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	admin := int64(7)
	pending := []domain.Request{
		{ID: 1, UserFirstName: "Иван", Status: domain.StatusNew, Priority: domain.PriorityHigh, Text: "нет сети", SLADueAt: now.Add(-time.Hour)},
	}
	inProgress := []domain.Request{
		{ID: 2, UserUsername: "petrov", Status: domain.StatusInProgress, Priority: domain.PriorityMedium, Text: "принтер", AssignedAdminTelegramID: &admin, SLADueAt: now.Add(time.Hour)},
	}

	board := formatRequestBoard(pending, inProgress, now)
	for _, want := range []string{"#1 | Иван", "просрочена", "Приоритет: HIGH", "#2 | petrov", "Админ: 7", "Новые:", "В работе:"} {
		if !strings.Contains(board, want) {
			t.Fatalf("в сводке нет %q:\n%s", want, board)
		}
	}
}

func TestFormatRequestBoardEmptyBlocks(t *testing.T) {
	board := formatRequestBoard(nil, nil, time.Now())
	if !strings.Contains(board, "Новые:\nНет") || !strings.Contains(board, "В работе:\nНет") {
		t.Fatalf("пустые блоки должны помечаться, получили:\n%s", board)
	}
}

func TestFormatSuggestionList(t *testing.T) {
	if got := formatSuggestionList(nil); got != "Пока нет предложений по доработке." {
		t.Fatalf("неожиданный текст для пустого списка: %q", got)
	}
	items := []domain.Suggestion{
		{ID: 3, UserTelegramID: 1, Username: "ivanov", FullName: "Иванов Иван", Organization: "Офис", Text: "тёмная тема"},
		{ID: 2, UserTelegramID: 2, Text: "ничего"},
	}
	list := formatSuggestionList(items)
	for _, want := range []string{"#3 | Иванов Иван", "@ivanov", "Организация: Офис", "не указано", "не указана"} {
		if !strings.Contains(list, want) {
			t.Fatalf("в списке нет %q:\n%s", want, list)
		}
	}
}
