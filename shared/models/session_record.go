package models

import "time"

// SessionRecord - сохраненная запись сессии (без ходов).
type SessionRecord struct {
	ID string `db:"id" json:"id"`
	// Title дублирует Setup.Title для списков.
	Title string `db:"title" json:"title"`
	Setup Setup  `db:"setup" json:"setup"`
	// SetupRaw - исходная разметка настройки, как ее прислал клиент.
	SetupRaw     string       `db:"setup_raw" json:"setup_raw,omitempty"`
	ActionPolicy ActionPolicy `db:"action_policy" json:"action_policy"`
	TurnCount    int          `db:"turn_count" json:"turn_count"`
	Closed       bool         `db:"closed" json:"closed"`
	CreatedAt    time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time    `db:"updated_at" json:"updated_at"`
}

// SessionSummary - краткая информация о сессии для списков.
type SessionSummary struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	TurnCount int       `json:"turn_count"`
	Closed    bool      `json:"closed"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Summary возвращает краткое представление записи.
func (r SessionRecord) Summary() SessionSummary {
	return SessionSummary{
		ID:        r.ID,
		Title:     r.Title,
		TurnCount: r.TurnCount,
		Closed:    r.Closed,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}
