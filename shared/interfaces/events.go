package interfaces

import (
	"context"
	"time"

	"vnml-server/shared/models"
)

// TurnEventType defines the type of turn event.
type TurnEventType string

const (
	TurnEventCommitted     TurnEventType = "turn_committed"
	TurnEventActionChosen  TurnEventType = "action_chosen"
	TurnEventSessionClosed TurnEventType = "session_closed"
)

// TurnEvent represents a change in a session's turn log.
type TurnEvent struct {
	EventType TurnEventType `json:"event_type"`
	SessionID string        `json:"session_id"`
	Seq       int           `json:"seq"`
	Turn      *models.Turn  `json:"turn,omitempty"`
	Action    *string       `json:"action,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// TurnEventPublisher отправляет события ходов внешним подписчикам (брокер сообщений).
type TurnEventPublisher interface {
	PublishTurnEvent(ctx context.Context, event TurnEvent) error
}

// TurnNotifier доставляет события ходов подключенным рендерерам.
type TurnNotifier interface {
	NotifyTurn(event TurnEvent)
}
