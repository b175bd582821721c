package models

// SessionStatus определяет состояния жизненного цикла хода.
type SessionStatus string

const (
	StatusAwaitingGeneration SessionStatus = "awaiting_generation" // Ждем следующий фрагмент от генератора.
	StatusFragmentReceived   SessionStatus = "fragment_received"   // Фрагмент получен (или отклонен и ждет повтора).
	StatusValidating         SessionStatus = "validating"
	StatusResolving          SessionStatus = "resolving"
	StatusCommitted          SessionStatus = "committed"
	StatusAwaitingAction     SessionStatus = "awaiting_action" // Ход зафиксирован, ждем выбор игрока.
	StatusClosed             SessionStatus = "closed"
)

// SessionState - снимок состояния сессии только для чтения.
// Содержит лишь зафиксированные ходы и текущие ожидающие варианты.
type SessionState struct {
	SessionID      string                `json:"session_id"`
	Status         SessionStatus         `json:"status"`
	Setup          Setup                 `json:"setup"`
	Turns          []Turn                `json:"turns"`
	ActiveScene    *Scene                `json:"active_scene,omitempty"`
	PendingOptions *OptionsBlock         `json:"pending_options,omitempty"`
	Appearances    map[string]Appearance `json:"appearances"`
	LastError      string                `json:"last_error,omitempty"`
}

// TurnCount возвращает количество зафиксированных ходов.
func (s SessionState) TurnCount() int {
	return len(s.Turns)
}
