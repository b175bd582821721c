package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"vnml-server/shared/interfaces"
	"vnml-server/shared/models"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Compile-time check to ensure redisTurnStore implements TurnStore
var _ interfaces.TurnStore = (*redisTurnStore)(nil)

// Число попыток оптимистичной транзакции при конкурентной записи.
const redisTxRetries = 3

type redisTurnStore struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

// NewRedisTurnStore creates a Redis-backed TurnStore.
// Keys:
//
//	{prefix}session:{id}        -> JSON SessionRecord
//	{prefix}session:{id}:turns  -> list of JSON turns, index == seq
//	{prefix}sessions            -> sorted set of session ids by creation time
func NewRedisTurnStore(client *redis.Client, prefix string, logger *zap.Logger) interfaces.TurnStore {
	return &redisTurnStore{
		client: client,
		prefix: prefix,
		logger: logger.Named("RedisTurnStore"),
	}
}

func (s *redisTurnStore) sessionKey(id string) string {
	return fmt.Sprintf("%ssession:%s", s.prefix, id)
}

func (s *redisTurnStore) turnsKey(id string) string {
	return fmt.Sprintf("%ssession:%s:turns", s.prefix, id)
}

func (s *redisTurnStore) indexKey() string {
	return s.prefix + "sessions"
}

func (s *redisTurnStore) CreateSession(ctx context.Context, rec *models.SessionRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	rec.UpdatedAt = rec.CreatedAt
	rec.TurnCount = 0
	if rec.ActionPolicy == "" {
		rec.ActionPolicy = models.ActionPolicyStrict
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal session record: %w", err)
	}

	created, err := s.client.SetNX(ctx, s.sessionKey(rec.ID), data, 0).Result()
	if err != nil {
		s.logger.Error("Failed to create session in redis", zap.String("sessionID", rec.ID), zap.Error(err))
		return fmt.Errorf("failed to create session: %w", err)
	}
	if !created {
		return fmt.Errorf("session %s: %w", rec.ID, models.ErrAlreadyExists)
	}
	if err := s.client.ZAdd(ctx, s.indexKey(), redis.Z{Score: float64(rec.CreatedAt.UnixNano()), Member: rec.ID}).Err(); err != nil {
		s.logger.Error("Failed to index session", zap.String("sessionID", rec.ID), zap.Error(err))
		return fmt.Errorf("failed to index session: %w", err)
	}
	s.logger.Info("Session created", zap.String("sessionID", rec.ID))
	return nil
}

// AppendTurn следит за ключами сессии (WATCH) и добавляет ход в MULTI/EXEC,
// только если длина списка равна turn.Seq.
func (s *redisTurnStore) AppendTurn(ctx context.Context, sessionID string, turn models.Turn) error {
	logFields := []zap.Field{zap.String("sessionID", sessionID), zap.Int("seq", turn.Seq)}
	data, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("failed to marshal turn %d: %w", turn.Seq, err)
	}
	sKey, tKey := s.sessionKey(sessionID), s.turnsKey(sessionID)

	txf := func(tx *redis.Tx) error {
		rec, err := s.getRecord(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		count, err := tx.LLen(ctx, tKey).Result()
		if err != nil {
			return fmt.Errorf("failed to read turn count: %w", err)
		}
		if err := checkAppendSeq(int(count), turn); err != nil {
			return err
		}
		rec.TurnCount = int(count) + 1
		rec.UpdatedAt = time.Now().UTC()
		recData, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to marshal session record: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.RPush(ctx, tKey, data)
			pipe.Set(ctx, sKey, recData, 0)
			return nil
		})
		return err
	}

	if err := s.watch(ctx, txf, sKey, tKey); err != nil {
		s.logger.Warn("Failed to append turn", append(logFields, zap.Error(err))...)
		return err
	}
	s.logger.Debug("Turn appended", logFields...)
	return nil
}

func (s *redisTurnStore) RecordAction(ctx context.Context, sessionID string, seq int, action string, policy models.ActionPolicy) error {
	logFields := []zap.Field{zap.String("sessionID", sessionID), zap.Int("seq", seq)}
	sKey, tKey := s.sessionKey(sessionID), s.turnsKey(sessionID)

	txf := func(tx *redis.Tx) error {
		rec, err := s.getRecord(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		count, err := tx.LLen(ctx, tKey).Result()
		if err != nil {
			return fmt.Errorf("failed to read turn count: %w", err)
		}
		if int64(seq) != count-1 {
			return fmt.Errorf("%w: action for turn %d, latest is %d", models.ErrSequenceConflict, seq, count-1)
		}
		raw, err := tx.LIndex(ctx, tKey, int64(seq)).Bytes()
		if err != nil {
			return fmt.Errorf("failed to read turn %d: %w", seq, err)
		}
		var turn models.Turn
		if err := json.Unmarshal(raw, &turn); err != nil {
			return fmt.Errorf("failed to unmarshal turn %d: %w", seq, err)
		}
		if turn.ChosenAction != nil {
			return fmt.Errorf("%w: turn %d already has an action", models.ErrSequenceConflict, seq)
		}
		turn.ChosenAction = &action
		turn.ActionPolicy = policy
		data, err := json.Marshal(turn)
		if err != nil {
			return fmt.Errorf("failed to marshal turn %d: %w", seq, err)
		}
		rec.UpdatedAt = time.Now().UTC()
		recData, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to marshal session record: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.LSet(ctx, tKey, int64(seq), data)
			pipe.Set(ctx, sKey, recData, 0)
			return nil
		})
		return err
	}

	if err := s.watch(ctx, txf, sKey, tKey); err != nil {
		s.logger.Warn("Failed to record action", append(logFields, zap.Error(err))...)
		return err
	}
	s.logger.Debug("Action recorded", logFields...)
	return nil
}

func (s *redisTurnStore) LoadSession(ctx context.Context, sessionID string) (*models.SessionRecord, []models.Turn, error) {
	rec, err := s.getRecord(ctx, s.client, sessionID)
	if err != nil {
		return nil, nil, err
	}
	items, err := s.client.LRange(ctx, s.turnsKey(sessionID), 0, -1).Result()
	if err != nil {
		s.logger.Error("Failed to read turns", zap.String("sessionID", sessionID), zap.Error(err))
		return nil, nil, fmt.Errorf("failed to read turns of session %s: %w", sessionID, err)
	}
	turns := make([]models.Turn, 0, len(items))
	for i, item := range items {
		var turn models.Turn
		if err := json.Unmarshal([]byte(item), &turn); err != nil {
			return nil, nil, fmt.Errorf("session %s turn %d: %w", sessionID, i, err)
		}
		turns = append(turns, turn)
	}
	return rec, turns, nil
}

func (s *redisTurnStore) ListSessions(ctx context.Context, limit, offset int) ([]models.SessionSummary, error) {
	limit, offset = sanitizePage(limit, offset)
	ids, err := s.client.ZRevRange(ctx, s.indexKey(), int64(offset), int64(offset+limit-1)).Result()
	if err != nil {
		s.logger.Error("Failed to list sessions", zap.Error(err))
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	if len(ids) == 0 {
		return []models.SessionSummary{}, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.sessionKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load session records: %w", err)
	}
	out := make([]models.SessionSummary, 0, len(values))
	for i, v := range values {
		str, ok := v.(string)
		if !ok {
			s.logger.Warn("Indexed session has no record", zap.String("sessionID", ids[i]))
			continue
		}
		var rec models.SessionRecord
		if err := json.Unmarshal([]byte(str), &rec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal session %s: %w", ids[i], err)
		}
		out = append(out, rec.Summary())
	}
	return out, nil
}

func (s *redisTurnStore) CloseSession(ctx context.Context, sessionID string) error {
	sKey := s.sessionKey(sessionID)
	txf := func(tx *redis.Tx) error {
		rec, err := s.getRecord(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		rec.Closed = true
		rec.UpdatedAt = time.Now().UTC()
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to marshal session record: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, sKey, data, 0)
			return nil
		})
		return err
	}
	if err := s.watch(ctx, txf, sKey); err != nil {
		return err
	}
	s.logger.Info("Session closed", zap.String("sessionID", sessionID))
	return nil
}

// stringGetter - общее подмножество *redis.Client и *redis.Tx.
type stringGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

// watch выполняет оптимистичную транзакцию, повторяя ее при конкурентном изменении ключей.
// Если все попытки сорвались, возвращает models.ErrSequenceConflict.
func (s *redisTurnStore) watch(ctx context.Context, txf func(tx *redis.Tx) error, keys ...string) error {
	for i := 0; i < redisTxRetries; i++ {
		err := s.client.Watch(ctx, txf, keys...)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			s.logger.Debug("Redis transaction aborted by concurrent write, retrying", zap.Strings("keys", keys), zap.Int("attempt", i+1))
			continue
		}
		return err
	}
	return fmt.Errorf("%w: concurrent writes to %v", models.ErrSequenceConflict, keys)
}

func (s *redisTurnStore) getRecord(ctx context.Context, c stringGetter, sessionID string) (*models.SessionRecord, error) {
	data, err := c.Get(ctx, s.sessionKey(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("session %s: %w", sessionID, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read session %s: %w", sessionID, err)
	}
	var rec models.SessionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session %s: %w", sessionID, err)
	}
	return &rec, nil
}
