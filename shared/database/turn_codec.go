package database

import (
	"encoding/json"
	"fmt"
	"time"

	"vnml-server/shared/models"
)

// Ход хранится как неизменяемый JSON-payload плюс отдельные колонки для сырого текста
// и однократно записываемого действия.

func encodeTurnPayload(turn models.Turn) ([]byte, error) {
	payload := turn.Clone()
	payload.Raw = ""
	payload.ChosenAction = nil
	payload.ActionPolicy = ""
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal turn %d: %w", turn.Seq, err)
	}
	return data, nil
}

func decodeTurnPayload(data []byte, raw string, chosen, policy *string, committedAt time.Time) (models.Turn, error) {
	var turn models.Turn
	if err := json.Unmarshal(data, &turn); err != nil {
		return models.Turn{}, fmt.Errorf("failed to unmarshal turn payload: %w", err)
	}
	turn.Raw = raw
	turn.CommittedAt = committedAt.UTC()
	if chosen != nil {
		action := *chosen
		turn.ChosenAction = &action
	}
	if policy != nil {
		turn.ActionPolicy = models.ActionPolicy(*policy)
	}
	return turn, nil
}

func checkAppendSeq(expected int, turn models.Turn) error {
	if turn.Seq != expected {
		return fmt.Errorf("%w: expected seq %d, got %d", models.ErrSequenceConflict, expected, turn.Seq)
	}
	return nil
}

func sanitizePage(limit, offset int) (int, int) {
	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

const (
	defaultListLimit = 20
	maxListLimit     = 100
)
