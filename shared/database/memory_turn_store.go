package database

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"vnml-server/shared/interfaces"
	"vnml-server/shared/models"

	"go.uber.org/zap"
)

var _ interfaces.TurnStore = (*MemoryTurnStore)(nil)

type memorySession struct {
	rec   models.SessionRecord
	turns []models.Turn
}

// MemoryTurnStore - хранилище ходов в памяти процесса (разработка и тесты).
type MemoryTurnStore struct {
	mu       sync.RWMutex
	sessions map[string]*memorySession
	logger   *zap.Logger
}

// NewMemoryTurnStore создает пустое хранилище в памяти.
func NewMemoryTurnStore(logger *zap.Logger) *MemoryTurnStore {
	return &MemoryTurnStore{
		sessions: make(map[string]*memorySession),
		logger:   logger.Named("MemoryTurnStore"),
	}
}

func (s *MemoryTurnStore) CreateSession(_ context.Context, rec *models.SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[rec.ID]; ok {
		return fmt.Errorf("session %s: %w", rec.ID, models.ErrAlreadyExists)
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	rec.UpdatedAt = rec.CreatedAt
	rec.TurnCount = 0
	if rec.ActionPolicy == "" {
		rec.ActionPolicy = models.ActionPolicyStrict
	}
	stored := *rec
	stored.Setup = *rec.Setup.Clone()
	s.sessions[rec.ID] = &memorySession{rec: stored}
	s.logger.Debug("Session created", zap.String("sessionID", rec.ID))
	return nil
}

func (s *MemoryTurnStore) AppendTurn(_ context.Context, sessionID string, turn models.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return fmt.Errorf("session %s: %w", sessionID, models.ErrNotFound)
	}
	if err := checkAppendSeq(len(sess.turns), turn); err != nil {
		return err
	}
	sess.turns = append(sess.turns, turn.Clone())
	sess.rec.TurnCount = len(sess.turns)
	sess.rec.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryTurnStore) RecordAction(_ context.Context, sessionID string, seq int, action string, policy models.ActionPolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return fmt.Errorf("session %s: %w", sessionID, models.ErrNotFound)
	}
	last := len(sess.turns) - 1
	if seq != last {
		return fmt.Errorf("%w: action for turn %d, latest is %d", models.ErrSequenceConflict, seq, last)
	}
	if sess.turns[last].ChosenAction != nil {
		return fmt.Errorf("%w: turn %d already has an action", models.ErrSequenceConflict, seq)
	}
	sess.turns[last].ChosenAction = &action
	sess.turns[last].ActionPolicy = policy
	sess.rec.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryTurnStore) LoadSession(_ context.Context, sessionID string) (*models.SessionRecord, []models.Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, nil, fmt.Errorf("session %s: %w", sessionID, models.ErrNotFound)
	}
	rec := sess.rec
	rec.Setup = *sess.rec.Setup.Clone()
	turns := make([]models.Turn, len(sess.turns))
	for i, t := range sess.turns {
		turns[i] = t.Clone()
	}
	return &rec, turns, nil
}

func (s *MemoryTurnStore) ListSessions(_ context.Context, limit, offset int) ([]models.SessionSummary, error) {
	limit, offset = sanitizePage(limit, offset)
	s.mu.RLock()
	all := make([]models.SessionSummary, 0, len(s.sessions))
	for _, sess := range s.sessions {
		all = append(all, sess.rec.Summary())
	}
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID < all[j].ID
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	if offset >= len(all) {
		return []models.SessionSummary{}, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

func (s *MemoryTurnStore) CloseSession(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return fmt.Errorf("session %s: %w", sessionID, models.ErrNotFound)
	}
	sess.rec.Closed = true
	sess.rec.UpdatedAt = time.Now().UTC()
	return nil
}
