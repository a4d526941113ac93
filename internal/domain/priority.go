package domain

import (
	"math"
	"regexp"
	"strings"
	"time"
)

// Бюджет SLA в часах по приоритетам.
const (
	slaHoursHigh   = 4
	slaHoursMedium = 12
	slaHoursLow    = 24
)

var priorityMarker = regexp.MustCompile(`(?i)Приоритет:\s*([^\n\r]+)`)

// ParsePriority нормализует произвольный ввод до приоритета. Понимает
// латинские значения и русские синонимы; всё неизвестное — MEDIUM.
func ParsePriority(raw string) Priority {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "HIGH", "ВЫСОКИЙ":
		return PriorityHigh
	case "LOW", "НИЗКИЙ":
		return PriorityLow
	default:
		return PriorityMedium
	}
}

// InferPriorityFromText ищет в тексте заявки маркер «Приоритет: <значение>».
// Без маркера приоритет считается MEDIUM.
func InferPriorityFromText(text string) Priority {
	match := priorityMarker.FindStringSubmatch(text)
	if match == nil {
		return PriorityMedium
	}
	return ParsePriority(match[1])
}

// SLABudgetHours возвращает бюджет в часах для приоритета.
func SLABudgetHours(priority Priority) float64 {
	switch priority {
	case PriorityHigh:
		return slaHoursHigh
	case PriorityLow:
		return slaHoursLow
	default:
		return slaHoursMedium
	}
}

// ComputeSLADueAt вычисляет срок исполнения заявки. Положительный конечный
// overrideHours имеет приоритет над бюджетом; срок фиксируется при создании
// и далее не пересчитывается.
func ComputeSLADueAt(createdAt time.Time, priority Priority, overrideHours float64) time.Time {
	hours := SLABudgetHours(priority)
	if overrideHours > 0 && !math.IsInf(overrideHours, 1) && !math.IsNaN(overrideHours) {
		hours = overrideHours
	}
	return createdAt.Add(time.Duration(hours * float64(time.Hour)))
}
