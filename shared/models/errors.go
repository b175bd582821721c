package models

import "errors"

// Application-wide standard errors
var (
	// Common Resource/DB Errors
	ErrNotFound         = errors.New("resource not found")
	ErrAlreadyExists    = errors.New("resource already exists")
	ErrSequenceConflict = errors.New("turn sequence conflict")

	// Session lifecycle
	ErrInvalidState  = errors.New("operation is not allowed in the current session state")
	ErrSessionBusy   = errors.New("session is busy with another operation")
	ErrSessionClosed = errors.New("session is closed")
	ErrNoPendingTurn = errors.New("no pending options to act on")

	// Engine error classes (matched by the typed errors in engine_errors.go)
	ErrSchema           = errors.New("schema error")
	ErrContentPolicy    = errors.New("content policy warning")
	ErrContinuity       = errors.New("continuity error")
	ErrSetup            = errors.New("setup error")
	ErrGeneratorTimeout = errors.New("generator timeout")
	ErrUnknownAction    = errors.New("unknown action")
	ErrEngine           = errors.New("engine error")

	// General Request/Server Errors
	ErrInternalServer = errors.New("internal server error")
	ErrBadRequest     = errors.New("bad request")
	ErrInvalidInput   = errors.New("invalid input data")
)
