package interfaces

import (
	"context"

	"vnml-server/shared/models"
)

//go:generate mockery --name TurnStore --output ./mocks --outpkg mocks --filename turn_store_mock.go

// TurnStore - журнал зафиксированных ходов. Только добавление: ход после записи
// не меняется, кроме однократной записи выбранного действия.
type TurnStore interface {
	// CreateSession сохраняет новую сессию. Повторный ID - models.ErrAlreadyExists.
	CreateSession(ctx context.Context, rec *models.SessionRecord) error

	// AppendTurn добавляет ход. turn.Seq должен быть равен числу уже сохраненных ходов,
	// иначе models.ErrSequenceConflict. Неизвестная сессия - models.ErrNotFound.
	AppendTurn(ctx context.Context, sessionID string, turn models.Turn) error

	// RecordAction записывает выбранное действие последнего хода.
	// Ход seq должен быть последним и еще без действия, иначе models.ErrSequenceConflict.
	RecordAction(ctx context.Context, sessionID string, seq int, action string, policy models.ActionPolicy) error

	// LoadSession возвращает запись сессии и ходы по возрастанию seq.
	LoadSession(ctx context.Context, sessionID string) (*models.SessionRecord, []models.Turn, error)

	// ListSessions возвращает сессии, новые первыми.
	ListSessions(ctx context.Context, limit, offset int) ([]models.SessionSummary, error)

	// CloseSession помечает сессию закрытой.
	CloseSession(ctx context.Context, sessionID string) error
}
