package interfaces

import (
	"context"

	"vnml-server/shared/models"

	"github.com/google/uuid"
)

// EngineService defines the operations of the narrative engine over persisted sessions.
// Lives in shared/interfaces so that handlers depend on the contract, not the implementation.
type EngineService interface {
	// StartSession parses the setup block, persists a new session and generates its first turn.
	// If generation fails the session still exists: the returned state is valid together with the error.
	StartSession(ctx context.Context, setupText string) (models.SessionState, error)

	// SubmitAction records the player's action on the pending turn and generates the next turn.
	// policy == "" means the session default.
	SubmitAction(ctx context.Context, sessionID uuid.UUID, text string, policy models.ActionPolicy) (models.Turn, error)

	// SubmitChoice is SubmitAction by the stable index of a pending option.
	SubmitChoice(ctx context.Context, sessionID uuid.UUID, index int) (models.Turn, error)

	// SubmitFragment validates and commits an externally supplied fragment (operator input, imports).
	SubmitFragment(ctx context.Context, sessionID uuid.UUID, raw string) (models.Turn, []models.ContentPolicyWarning, error)

	// RetryGeneration generates the next turn of a session waiting for generation,
	// e.g. after an EngineError or after a turn that carried its own action.
	RetryGeneration(ctx context.Context, sessionID uuid.UUID) (models.Turn, error)

	// GetSnapshot returns the committed state, resuming the session from the store if needed.
	GetSnapshot(ctx context.Context, sessionID uuid.UUID) (models.SessionState, error)

	// ResumeSession reloads the session from the store, replacing the in-memory copy.
	ResumeSession(ctx context.Context, sessionID uuid.UUID) (models.SessionState, error)

	// ListSessions lists stored sessions, newest first.
	ListSessions(ctx context.Context, limit, offset int) ([]models.SessionSummary, error)

	// GetCues returns renderer cues of turn seq; seq < 0 means the latest turn.
	GetCues(ctx context.Context, sessionID uuid.UUID, seq int) ([]models.Cue, error)

	// CloseSession moves the session to its terminal state.
	CloseSession(ctx context.Context, sessionID uuid.UUID) error
}
