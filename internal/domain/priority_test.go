package domain

import (
	"testing"
	"time"
)

func TestParsePrioritySynonyms(t *testing.T) {
	cases := map[string]Priority{
		"HIGH":     PriorityHigh,
		"high":     PriorityHigh,
		" Высокий": PriorityHigh,
		"LOW":      PriorityLow,
		"низкий":   PriorityLow,
		"MEDIUM":   PriorityMedium,
		"срочно":   PriorityMedium,
		"":         PriorityMedium,
	}
	for raw, want := range cases {
		if got := ParsePriority(raw); got != want {
			t.Fatalf("ParsePriority(%q): ожидали %s, получили %s", raw, want, got)
		}
	}
}

func TestInferPriorityFromText(t *testing.T) {
	if got := InferPriorityFromText("Не работает принтер.\nПриоритет: высокий"); got != PriorityHigh {
		t.Fatalf("ожидали HIGH, получили %s", got)
	}
	if got := InferPriorityFromText("приоритет: LOW"); got != PriorityLow {
		t.Fatalf("маркер без учёта регистра: ожидали LOW, получили %s", got)
	}
	if got := InferPriorityFromText("обычное обращение без маркера"); got != PriorityMedium {
		t.Fatalf("без маркера ожидали MEDIUM, получили %s", got)
	}
}

func TestSLABudgetOrdering(t *testing.T) {
	if !(SLABudgetHours(PriorityHigh) < SLABudgetHours(PriorityMedium)) {
		t.Fatal("бюджет HIGH должен быть меньше MEDIUM")
	}
	if !(SLABudgetHours(PriorityMedium) < SLABudgetHours(PriorityLow)) {
		t.Fatal("бюджет MEDIUM должен быть меньше LOW")
	}
}

func TestComputeSLADueAt(t *testing.T) {
	created := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	if due := ComputeSLADueAt(created, PriorityHigh, 0); !due.Equal(created.Add(4 * time.Hour)) {
		t.Fatalf("HIGH: ожидали +4ч, получили %v", due)
	}
	if due := ComputeSLADueAt(created, PriorityLow, 0); !due.Equal(created.Add(24 * time.Hour)) {
		t.Fatalf("LOW: ожидали +24ч, получили %v", due)
	}
	if due := ComputeSLADueAt(created, PriorityHigh, 1.5); !due.Equal(created.Add(90 * time.Minute)) {
		t.Fatalf("переопределение бюджета: ожидали +90м, получили %v", due)
	}
	if due := ComputeSLADueAt(created, PriorityMedium, -3); !due.Equal(created.Add(12 * time.Hour)) {
		t.Fatalf("отрицательное переопределение игнорируется, получили %v", due)
	}
}

func TestRequestIsOverdue(t *testing.T) {
	now := time.Date(2025, 3, 2, 12, 0, 0, 0, time.UTC)
	r := Request{Status: StatusNew, SLADueAt: now.Add(-time.Minute)}
	if !r.IsOverdue(now) {
		t.Fatal("просроченная NEW-заявка должна считаться просроченной")
	}
	r.Status = StatusCompleted
	if r.IsOverdue(now) {
		t.Fatal("завершённая заявка не бывает просроченной")
	}
	r = Request{Status: StatusInProgress}
	if r.IsOverdue(now) {
		t.Fatal("заявка без срока не бывает просроченной")
	}
}
