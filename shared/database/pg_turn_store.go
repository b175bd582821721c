package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"vnml-server/pkg/database"
	"vnml-server/shared/interfaces"
	"vnml-server/shared/models"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

// Compile-time check to ensure implementation satisfies the interface.
var _ interfaces.TurnStore = (*pgTurnStore)(nil)

const pgUniqueViolation = "23505"

const (
	createSessionQuery = `
INSERT INTO vnml_sessions (id, title, setup, setup_raw, action_policy, turn_count, closed, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, 0, FALSE, $6, $6)`

	lockSessionQuery = `SELECT turn_count FROM vnml_sessions WHERE id = $1 FOR UPDATE`

	insertTurnQuery = `
INSERT INTO vnml_turns (session_id, seq, payload, raw, chosen_action, action_policy, committed_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`

	bumpTurnCountQuery = `UPDATE vnml_sessions SET turn_count = $2, updated_at = NOW() WHERE id = $1`

	recordActionQuery = `
UPDATE vnml_turns SET chosen_action = $3, action_policy = $4
WHERE session_id = $1 AND seq = $2 AND chosen_action IS NULL`

	touchSessionQuery = `UPDATE vnml_sessions SET updated_at = NOW() WHERE id = $1`

	getSessionQuery = `
SELECT id, title, setup, setup_raw, action_policy, turn_count, closed, created_at, updated_at
FROM vnml_sessions WHERE id = $1`

	listTurnsQuery = `
SELECT seq, payload, raw, chosen_action, action_policy, committed_at
FROM vnml_turns WHERE session_id = $1 ORDER BY seq ASC`

	listSessionsQuery = `
SELECT id, title, turn_count, closed, created_at, updated_at
FROM vnml_sessions ORDER BY created_at DESC, id LIMIT $1 OFFSET $2`

	closeSessionQuery = `UPDATE vnml_sessions SET closed = TRUE, updated_at = NOW() WHERE id = $1`
)

type sessionRow struct {
	ID           string    `db:"id"`
	Title        string    `db:"title"`
	Setup        []byte    `db:"setup"`
	SetupRaw     string    `db:"setup_raw"`
	ActionPolicy string    `db:"action_policy"`
	TurnCount    int       `db:"turn_count"`
	Closed       bool      `db:"closed"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

type sessionSummaryRow struct {
	ID        string    `db:"id"`
	Title     string    `db:"title"`
	TurnCount int       `db:"turn_count"`
	Closed    bool      `db:"closed"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

type turnRow struct {
	Seq          int       `db:"seq"`
	Payload      []byte    `db:"payload"`
	Raw          string    `db:"raw"`
	ChosenAction *string   `db:"chosen_action"`
	ActionPolicy *string   `db:"action_policy"`
	CommittedAt  time.Time `db:"committed_at"`
}

type pgTurnStore struct {
	db      *database.Database
	querier interfaces.DBTX
	logger  *zap.Logger
}

// NewPgTurnStore создает хранилище ходов в PostgreSQL.
// Схема создается миграциями из MigrationsFS.
func NewPgTurnStore(db *database.Database, logger *zap.Logger) interfaces.TurnStore {
	return &pgTurnStore{
		db:      db,
		querier: db.Pool,
		logger:  logger.Named("PgTurnStore"),
	}
}

func (s *pgTurnStore) CreateSession(ctx context.Context, rec *models.SessionRecord) error {
	logFields := []zap.Field{zap.String("sessionID", rec.ID)}
	setupJSON, err := json.Marshal(rec.Setup)
	if err != nil {
		return fmt.Errorf("failed to marshal setup: %w", err)
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	rec.UpdatedAt = rec.CreatedAt
	if rec.ActionPolicy == "" {
		rec.ActionPolicy = models.ActionPolicyStrict
	}

	_, err = s.querier.Exec(ctx, createSessionQuery, rec.ID, rec.Title, setupJSON, rec.SetupRaw, string(rec.ActionPolicy), rec.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			s.logger.Warn("Session already exists", logFields...)
			return fmt.Errorf("session %s: %w", rec.ID, models.ErrAlreadyExists)
		}
		s.logger.Error("Failed to create session", append(logFields, zap.Error(err))...)
		return fmt.Errorf("ошибка создания сессии: %w", err)
	}
	rec.TurnCount = 0
	s.logger.Info("Session created", logFields...)
	return nil
}

func (s *pgTurnStore) AppendTurn(ctx context.Context, sessionID string, turn models.Turn) error {
	logFields := []zap.Field{zap.String("sessionID", sessionID), zap.Int("seq", turn.Seq)}
	payload, err := encodeTurnPayload(turn)
	if err != nil {
		return err
	}
	var policy *string
	if turn.ChosenAction != nil {
		p := string(turn.ActionPolicy)
		policy = &p
	}

	err = s.db.ExecuteInTransaction(ctx, func(tx pgx.Tx) error {
		var count int
		if err := tx.QueryRow(ctx, lockSessionQuery, sessionID).Scan(&count); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("session %s: %w", sessionID, models.ErrNotFound)
			}
			return fmt.Errorf("failed to lock session: %w", err)
		}
		if err := checkAppendSeq(count, turn); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, insertTurnQuery, sessionID, turn.Seq, payload, turn.Raw, turn.ChosenAction, policy, turn.CommittedAt); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: turn %d already stored", models.ErrSequenceConflict, turn.Seq)
			}
			return fmt.Errorf("failed to insert turn: %w", err)
		}
		if _, err := tx.Exec(ctx, bumpTurnCountQuery, sessionID, count+1); err != nil {
			return fmt.Errorf("failed to update turn count: %w", err)
		}
		return nil
	})
	if err != nil {
		s.logger.Error("Failed to append turn", append(logFields, zap.Error(err))...)
		return err
	}
	s.logger.Debug("Turn appended", logFields...)
	return nil
}

func (s *pgTurnStore) RecordAction(ctx context.Context, sessionID string, seq int, action string, policy models.ActionPolicy) error {
	logFields := []zap.Field{zap.String("sessionID", sessionID), zap.Int("seq", seq)}
	err := s.db.ExecuteInTransaction(ctx, func(tx pgx.Tx) error {
		var count int
		if err := tx.QueryRow(ctx, lockSessionQuery, sessionID).Scan(&count); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("session %s: %w", sessionID, models.ErrNotFound)
			}
			return fmt.Errorf("failed to lock session: %w", err)
		}
		if seq != count-1 {
			return fmt.Errorf("%w: action for turn %d, latest is %d", models.ErrSequenceConflict, seq, count-1)
		}
		tag, err := tx.Exec(ctx, recordActionQuery, sessionID, seq, action, string(policy))
		if err != nil {
			return fmt.Errorf("failed to record action: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: turn %d already has an action", models.ErrSequenceConflict, seq)
		}
		if _, err := tx.Exec(ctx, touchSessionQuery, sessionID); err != nil {
			return fmt.Errorf("failed to touch session: %w", err)
		}
		return nil
	})
	if err != nil {
		s.logger.Warn("Failed to record action", append(logFields, zap.Error(err))...)
		return err
	}
	s.logger.Debug("Action recorded", logFields...)
	return nil
}

func (s *pgTurnStore) LoadSession(ctx context.Context, sessionID string) (*models.SessionRecord, []models.Turn, error) {
	logFields := []zap.Field{zap.String("sessionID", sessionID)}

	var row sessionRow
	if err := pgxscan.Get(ctx, s.querier, &row, getSessionQuery, sessionID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			s.logger.Debug("Session not found", logFields...)
			return nil, nil, fmt.Errorf("session %s: %w", sessionID, models.ErrNotFound)
		}
		s.logger.Error("Failed to get session", append(logFields, zap.Error(err))...)
		return nil, nil, fmt.Errorf("ошибка получения сессии %s: %w", sessionID, err)
	}
	rec := &models.SessionRecord{
		ID:           row.ID,
		Title:        row.Title,
		SetupRaw:     row.SetupRaw,
		ActionPolicy: models.ActionPolicy(row.ActionPolicy),
		TurnCount:    row.TurnCount,
		Closed:       row.Closed,
		CreatedAt:    row.CreatedAt.UTC(),
		UpdatedAt:    row.UpdatedAt.UTC(),
	}
	if err := json.Unmarshal(row.Setup, &rec.Setup); err != nil {
		return nil, nil, fmt.Errorf("failed to unmarshal setup of session %s: %w", sessionID, err)
	}

	var rows []turnRow
	if err := pgxscan.Select(ctx, s.querier, &rows, listTurnsQuery, sessionID); err != nil {
		s.logger.Error("Failed to list turns", append(logFields, zap.Error(err))...)
		return nil, nil, fmt.Errorf("ошибка получения ходов сессии %s: %w", sessionID, err)
	}
	turns := make([]models.Turn, 0, len(rows))
	for _, r := range rows {
		turn, err := decodeTurnPayload(r.Payload, r.Raw, r.ChosenAction, r.ActionPolicy, r.CommittedAt)
		if err != nil {
			return nil, nil, fmt.Errorf("session %s turn %d: %w", sessionID, r.Seq, err)
		}
		turn.Seq = r.Seq
		turns = append(turns, turn)
	}
	s.logger.Debug("Session loaded", append(logFields, zap.Int("turns", len(turns)))...)
	return rec, turns, nil
}

func (s *pgTurnStore) ListSessions(ctx context.Context, limit, offset int) ([]models.SessionSummary, error) {
	limit, offset = sanitizePage(limit, offset)
	var rows []sessionSummaryRow
	if err := pgxscan.Select(ctx, s.querier, &rows, listSessionsQuery, limit, offset); err != nil {
		s.logger.Error("Failed to list sessions", zap.Error(err))
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	out := make([]models.SessionSummary, len(rows))
	for i, r := range rows {
		out[i] = models.SessionSummary{
			ID:        r.ID,
			Title:     r.Title,
			TurnCount: r.TurnCount,
			Closed:    r.Closed,
			CreatedAt: r.CreatedAt.UTC(),
			UpdatedAt: r.UpdatedAt.UTC(),
		}
	}
	return out, nil
}

func (s *pgTurnStore) CloseSession(ctx context.Context, sessionID string) error {
	tag, err := s.querier.Exec(ctx, closeSessionQuery, sessionID)
	if err != nil {
		s.logger.Error("Failed to close session", zap.String("sessionID", sessionID), zap.Error(err))
		return fmt.Errorf("failed to close session %s: %w", sessionID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("session %s: %w", sessionID, models.ErrNotFound)
	}
	s.logger.Info("Session closed", zap.String("sessionID", sessionID))
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
