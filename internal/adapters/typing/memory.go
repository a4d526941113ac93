package typing

import (
	"sync"
	"time"

	"support-bot/internal/domain"
)

// Memory хранит сигналы «печатает» в памяти процесса. Сигналы живут ttl и
// очищаются лениво при чтении.
type Memory struct {
	ttl time.Duration

	mu      sync.Mutex
	signals map[int64]map[domain.Role]domain.TypingSignal
}

// NewMemory создаёт хранилище с указанным временем жизни сигнала.
func NewMemory(ttl time.Duration) *Memory {
	return &Memory{
		ttl:     ttl,
		signals: make(map[int64]map[domain.Role]domain.TypingSignal),
	}
}

// Set реализует domain.TypingStore.
func (m *Memory) Set(requestID int64, signal domain.TypingSignal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byRole, ok := m.signals[requestID]
	if !ok {
		byRole = make(map[domain.Role]domain.TypingSignal)
		m.signals[requestID] = byRole
	}
	byRole[signal.Role] = signal
}

// Clear удаляет сигнал стороны role.
func (m *Memory) Clear(requestID int64, role domain.Role) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byRole, ok := m.signals[requestID]
	if !ok {
		return
	}
	delete(byRole, role)
	if len(byRole) == 0 {
		delete(m.signals, requestID)
	}
}

// ViewFor возвращает сигнал противоположной стороны; собственный сигнал
// наблюдателю не показывается.
func (m *Memory) ViewFor(requestID int64, viewerRole domain.Role, now time.Time) domain.TypingView {
	m.mu.Lock()
	defer m.mu.Unlock()
	byRole, ok := m.signals[requestID]
	if !ok {
		return domain.TypingView{}
	}
	for role, signal := range byRole {
		if now.Sub(signal.UpdatedAt) > m.ttl {
			delete(byRole, role)
		}
	}
	if len(byRole) == 0 {
		delete(m.signals, requestID)
		return domain.TypingView{}
	}
	for role := range byRole {
		if role == viewerRole {
			continue
		}
		return domain.TypingView{IsTyping: true, Role: role}
	}
	return domain.TypingView{}
}
