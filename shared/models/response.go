package models

// Коды ошибок API.
const (
	ErrCodeBadRequest    = "BAD_REQUEST"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeConflict      = "CONFLICT"
	ErrCodeSchema        = "SCHEMA_ERROR"
	ErrCodeContinuity    = "CONTINUITY_ERROR"
	ErrCodeSetup         = "SETUP_ERROR"
	ErrCodeUnknownAction = "UNKNOWN_ACTION"
	ErrCodeTimeout       = "GENERATOR_TIMEOUT"
	ErrCodeEngine        = "ENGINE_ERROR"
	ErrCodeInternal      = "INTERNAL_ERROR"
)

// ErrorResponse - стандартная структура для ответа об ошибке в формате JSON.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Kind    string `json:"kind,omitempty"`
	Retries *int   `json:"retries,omitempty"`
	// SessionID заполняется, если сессия создана, а первый ход не сгенерирован.
	SessionID string `json:"session_id,omitempty"`
}
