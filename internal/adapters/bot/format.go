package bot

import (
	"fmt"
	"strings"
	"time"

	"support-bot/internal/domain"
)

func formatSenderName(r domain.Request) string {
	if name := r.SenderName(); name != "" {
		return name
	}
	return fmt.Sprintf("ID %d", r.UserTelegramID)
}

func formatRequestItem(r domain.Request, now time.Time) string {
	assigned := ""
	if r.AssignedAdminTelegramID != nil {
		assigned = fmt.Sprintf("\nАдмин: %d", *r.AssignedAdminTelegramID)
	}
	overdue := ""
	if r.IsOverdue(now) {
		overdue = " (просрочена)"
	}
	return strings.Join([]string{
		fmt.Sprintf("#%d | %s", r.ID, formatSenderName(r)),
		fmt.Sprintf("Статус: %s%s", r.Status, overdue),
		fmt.Sprintf("Приоритет: %s", r.Priority),
		fmt.Sprintf("Текст: %s%s", r.Text, assigned),
	}, "\n")
}

// formatRequestBoard строит сводку для администратора: новые заявки и заявки
// в работе, свежие выше, не более 20 в каждом блоке.
func formatRequestBoard(pending, inProgress []domain.Request, now time.Time) string {
	return formatBlock("Новые", pending, now) + "\n\n" + formatBlock("В работе", inProgress, now)
}

func formatBlock(title string, items []domain.Request, now time.Time) string {
	if len(items) == 0 {
		return title + ":\nНет"
	}
	if len(items) > 20 {
		items = items[len(items)-20:]
	}
	lines := make([]string, 0, len(items))
	for i := len(items) - 1; i >= 0; i-- {
		lines = append(lines, formatRequestItem(items[i], now))
	}
	return title + ":\n" + strings.Join(lines, "\n\n")
}

func formatSuggestionList(items []domain.Suggestion) string {
	if len(items) == 0 {
		return "Пока нет предложений по доработке."
	}
	if len(items) > 30 {
		items = items[:30]
	}
	blocks := make([]string, 0, len(items))
	for _, item := range items {
		fullName := item.FullName
		if fullName == "" {
			fullName = "не указано"
		}
		organization := item.Organization
		if organization == "" {
			organization = "не указана"
		}
		username := "нет"
		if item.Username != "" {
			username = "@" + item.Username
		}
		blocks = append(blocks, strings.Join([]string{
			fmt.Sprintf("#%d | %s", item.ID, fullName),
			fmt.Sprintf("Организация: %s", organization),
			fmt.Sprintf("Username: %s", username),
			fmt.Sprintf("Telegram ID: %d", item.UserTelegramID),
			fmt.Sprintf("Текст: %s", item.Text),
		}, "\n"))
	}
	return "Предложения по доработке:\n\n" + strings.Join(blocks, "\n\n")
}
