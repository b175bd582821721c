package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"vnml-server/internal/config"
	"vnml-server/internal/render"
	"vnml-server/internal/repair"
	"vnml-server/internal/schema"
	"vnml-server/internal/session"
	"vnml-server/shared/interfaces"
	"vnml-server/shared/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Compile-time check
var _ interfaces.EngineService = (*engineServiceImpl)(nil)

type engineServiceImpl struct {
	store      interfaces.TurnStore
	publisher  interfaces.TurnEventPublisher // может быть nil
	notifier   interfaces.TurnNotifier       // может быть nil
	controller *repair.Controller
	opts       session.Options
	logger     *zap.Logger
	now        func() time.Time

	mu       sync.RWMutex
	sessions map[string]*session.Session
}

// NewEngineService creates a new instance of EngineService.
// publisher и notifier необязательны.
func NewEngineService(
	store interfaces.TurnStore,
	publisher interfaces.TurnEventPublisher,
	notifier interfaces.TurnNotifier,
	controller *repair.Controller,
	opts session.Options,
	logger *zap.Logger,
) interfaces.EngineService {
	return &engineServiceImpl{
		store:      store,
		publisher:  publisher,
		notifier:   notifier,
		controller: controller,
		opts:       opts,
		logger:     logger.Named("EngineService"),
		now:        func() time.Time { return time.Now().UTC() },
		sessions:   make(map[string]*session.Session),
	}
}

// SessionOptions переводит политику движка из конфигурации в настройки сессии.
func SessionOptions(cfg config.EngineConfig) session.Options {
	return session.Options{
		Policy: schema.Policy{
			MinDialogueEvents: cfg.MinDialogueEvents,
			RequireComment:    cfg.RequireComment,
		},
		EnforceMinDialogue:  cfg.EnforceMinDialogue,
		DefaultActionPolicy: models.ActionPolicy(cfg.DefaultActionPolicy),
	}
}

func (s *engineServiceImpl) StartSession(ctx context.Context, setupText string) (models.SessionState, error) {
	sess, err := session.Begin(setupText, s.opts)
	if err != nil {
		s.logger.Info("Setup rejected", zap.Error(err))
		return models.SessionState{}, err
	}
	logFields := []zap.Field{zap.String("sessionID", sess.ID())}

	setup := sess.Setup()
	rec := &models.SessionRecord{
		ID:           sess.ID(),
		Title:        setup.Title,
		Setup:        *setup,
		SetupRaw:     setupText,
		ActionPolicy: sess.Options().DefaultActionPolicy,
	}
	if err := s.store.CreateSession(ctx, rec); err != nil {
		s.logger.Error("Failed to persist new session", append(logFields, zap.Error(err))...)
		return models.SessionState{}, fmt.Errorf("failed to create session: %w", err)
	}
	s.register(sess)
	s.logger.Info("Session started", append(logFields, zap.String("title", setup.Title))...)

	if _, err := s.advance(ctx, sess, nil); err != nil {
		return sess.Snapshot(), err
	}
	return sess.Snapshot(), nil
}

func (s *engineServiceImpl) SubmitAction(ctx context.Context, sessionID uuid.UUID, text string, policy models.ActionPolicy) (models.Turn, error) {
	sess, err := s.get(ctx, sessionID)
	if err != nil {
		return models.Turn{}, err
	}
	turn, err := sess.SubmitAction(text, policy)
	if err != nil {
		return models.Turn{}, err
	}
	return s.afterAction(ctx, sess, turn)
}

func (s *engineServiceImpl) SubmitChoice(ctx context.Context, sessionID uuid.UUID, index int) (models.Turn, error) {
	sess, err := s.get(ctx, sessionID)
	if err != nil {
		return models.Turn{}, err
	}
	turn, err := sess.SubmitChoice(index)
	if err != nil {
		return models.Turn{}, err
	}
	return s.afterAction(ctx, sess, turn)
}

// afterAction сохраняет выбранное действие и генерирует следующий ход.
func (s *engineServiceImpl) afterAction(ctx context.Context, sess *session.Session, turn models.Turn) (models.Turn, error) {
	logFields := []zap.Field{zap.String("sessionID", sess.ID()), zap.Int("seq", turn.Seq)}
	if err := s.store.RecordAction(ctx, sess.ID(), turn.Seq, *turn.ChosenAction, turn.ActionPolicy); err != nil {
		s.logger.Error("Failed to persist action, evicting session", append(logFields, zap.Error(err))...)
		s.evict(sess.ID())
		return models.Turn{}, fmt.Errorf("failed to record action: %w", err)
	}
	s.emit(ctx, interfaces.TurnEvent{
		EventType: interfaces.TurnEventActionChosen,
		SessionID: sess.ID(),
		Seq:       turn.Seq,
		Action:    turn.ChosenAction,
		Timestamp: s.now(),
	})
	s.logger.Info("Action recorded", append(logFields, zap.String("policy", string(turn.ActionPolicy)))...)
	return s.advance(ctx, sess, turn.ChosenAction)
}

func (s *engineServiceImpl) SubmitFragment(ctx context.Context, sessionID uuid.UUID, raw string) (models.Turn, []models.ContentPolicyWarning, error) {
	sess, err := s.get(ctx, sessionID)
	if err != nil {
		return models.Turn{}, nil, err
	}
	lease, err := sess.BeginGeneration()
	if err != nil {
		return models.Turn{}, nil, err
	}
	defer lease.Release()
	turn, warnings, err := lease.Submit(raw)
	if err != nil {
		s.logger.Info("Fragment rejected", zap.String("sessionID", sess.ID()), zap.Error(err))
		return models.Turn{}, warnings, err
	}
	if err := s.commit(ctx, sess, turn); err != nil {
		return models.Turn{}, warnings, err
	}
	return turn, warnings, nil
}

func (s *engineServiceImpl) RetryGeneration(ctx context.Context, sessionID uuid.UUID) (models.Turn, error) {
	sess, err := s.get(ctx, sessionID)
	if err != nil {
		return models.Turn{}, err
	}
	switch status := sess.State(); status {
	case models.StatusClosed:
		return models.Turn{}, models.ErrSessionClosed
	case models.StatusAwaitingGeneration, models.StatusFragmentReceived:
	default:
		return models.Turn{}, fmt.Errorf("%w: generation requested while %s", models.ErrInvalidState, status)
	}

	var action *string
	snap := sess.Snapshot()
	if n := len(snap.Turns); n > 0 {
		action = snap.Turns[n-1].ChosenAction
	}
	s.logger.Info("Retrying generation", zap.String("sessionID", sess.ID()), zap.Int("turns", len(snap.Turns)))
	return s.advance(ctx, sess, action)
}

func (s *engineServiceImpl) GetSnapshot(ctx context.Context, sessionID uuid.UUID) (models.SessionState, error) {
	sess, err := s.get(ctx, sessionID)
	if err != nil {
		return models.SessionState{}, err
	}
	return sess.Snapshot(), nil
}

func (s *engineServiceImpl) ResumeSession(ctx context.Context, sessionID uuid.UUID) (models.SessionState, error) {
	sess, err := s.load(ctx, sessionID.String())
	if err != nil {
		return models.SessionState{}, err
	}
	s.mu.Lock()
	s.sessions[sess.ID()] = sess
	s.mu.Unlock()
	activeSessions.Set(float64(s.count()))
	return sess.Snapshot(), nil
}

func (s *engineServiceImpl) ListSessions(ctx context.Context, limit, offset int) ([]models.SessionSummary, error) {
	return s.store.ListSessions(ctx, limit, offset)
}

func (s *engineServiceImpl) GetCues(ctx context.Context, sessionID uuid.UUID, seq int) ([]models.Cue, error) {
	sess, err := s.get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	snap := sess.Snapshot()
	if seq < 0 {
		seq = len(snap.Turns) - 1
	}
	if seq < 0 || seq >= len(snap.Turns) {
		return nil, fmt.Errorf("turn %d of session %s: %w", seq, sessionID, models.ErrNotFound)
	}
	return render.Cues(snap.Turns[seq]), nil
}

func (s *engineServiceImpl) CloseSession(ctx context.Context, sessionID uuid.UUID) error {
	sess, err := s.get(ctx, sessionID)
	if err != nil {
		return err
	}
	if err := s.store.CloseSession(ctx, sess.ID()); err != nil {
		s.logger.Error("Failed to close session in store", zap.String("sessionID", sess.ID()), zap.Error(err))
		return fmt.Errorf("failed to close session: %w", err)
	}
	sess.Close()
	s.evict(sess.ID())
	s.emit(ctx, interfaces.TurnEvent{
		EventType: interfaces.TurnEventSessionClosed,
		SessionID: sess.ID(),
		Seq:       sess.TurnCount() - 1,
		Timestamp: s.now(),
	})
	s.logger.Info("Session closed", zap.String("sessionID", sess.ID()))
	return nil
}

// advance генерирует ход через контроллер повторов и фиксирует его в хранилище.
// Аренда генерации удерживается до сохранения хода, поэтому ходы попадают в
// хранилище строго по порядку.
func (s *engineServiceImpl) advance(ctx context.Context, sess *session.Session, action *string) (models.Turn, error) {
	lease, err := sess.BeginGeneration()
	if err != nil {
		return models.Turn{}, err
	}
	defer lease.Release()

	turn, err := s.controller.AdvanceLeased(ctx, lease, action)
	if err != nil {
		var engineErr *models.EngineError
		if errors.As(err, &engineErr) {
			s.logger.Warn("Turn generation failed", zap.String("sessionID", sess.ID()), zap.Int("retries", engineErr.Retries), zap.Error(err))
		}
		return models.Turn{}, err
	}
	if err := s.commit(ctx, sess, turn); err != nil {
		return models.Turn{}, err
	}
	return turn, nil
}

// commit сохраняет зафиксированный ход и рассылает событие.
// Если ход не удалось сохранить, сессия выгружается из памяти:
// следующее обращение восстановит ее из хранилища.
func (s *engineServiceImpl) commit(ctx context.Context, sess *session.Session, turn models.Turn) error {
	logFields := []zap.Field{zap.String("sessionID", sess.ID()), zap.Int("seq", turn.Seq)}
	if err := s.store.AppendTurn(ctx, sess.ID(), turn); err != nil {
		s.logger.Error("Failed to persist turn, evicting session", append(logFields, zap.Error(err))...)
		s.evict(sess.ID())
		return fmt.Errorf("failed to persist turn %d: %w", turn.Seq, err)
	}
	committed := turn.Clone()
	s.emit(ctx, interfaces.TurnEvent{
		EventType: interfaces.TurnEventCommitted,
		SessionID: sess.ID(),
		Seq:       turn.Seq,
		Turn:      &committed,
		Action:    turn.ChosenAction,
		Timestamp: s.now(),
	})
	turnsCommitted.Inc()
	s.logger.Debug("Turn persisted", logFields...)
	return nil
}

// emit публикует событие в брокер и уведомляет рендереры. Ошибки брокера не фатальны.
func (s *engineServiceImpl) emit(ctx context.Context, event interfaces.TurnEvent) {
	if s.publisher != nil {
		if err := s.publisher.PublishTurnEvent(ctx, event); err != nil {
			s.logger.Error("Failed to publish turn event",
				zap.String("sessionID", event.SessionID),
				zap.String("eventType", string(event.EventType)),
				zap.Int("seq", event.Seq),
				zap.Error(err),
			)
		}
	}
	if s.notifier != nil {
		s.notifier.NotifyTurn(event)
	}
}

// get возвращает сессию из памяти или восстанавливает ее из хранилища.
func (s *engineServiceImpl) get(ctx context.Context, sessionID uuid.UUID) (*session.Session, error) {
	id := sessionID.String()
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if ok {
		return sess, nil
	}

	loaded, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	// Параллельный вызов мог успеть восстановить сессию раньше.
	if existing, ok := s.sessions[id]; ok {
		s.mu.Unlock()
		return existing, nil
	}
	s.sessions[id] = loaded
	s.mu.Unlock()
	activeSessions.Set(float64(s.count()))
	return loaded, nil
}

func (s *engineServiceImpl) load(ctx context.Context, id string) (*session.Session, error) {
	rec, turns, err := s.store.LoadSession(ctx, id)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			s.logger.Error("Failed to load session", zap.String("sessionID", id), zap.Error(err))
		}
		return nil, err
	}
	opts := s.opts
	if rec.ActionPolicy.Valid() {
		opts.DefaultActionPolicy = rec.ActionPolicy
	}
	sess, err := session.Restore(rec.ID, &rec.Setup, turns, opts)
	if err != nil {
		s.logger.Error("Failed to restore session", zap.String("sessionID", id), zap.Error(err))
		return nil, err
	}
	if rec.Closed {
		sess.Close()
	}
	sessionsResumed.Inc()
	s.logger.Info("Session resumed from store", zap.String("sessionID", id), zap.Int("turns", len(turns)), zap.Bool("closed", rec.Closed))
	return sess, nil
}

func (s *engineServiceImpl) register(sess *session.Session) {
	s.mu.Lock()
	s.sessions[sess.ID()] = sess
	s.mu.Unlock()
	activeSessions.Set(float64(s.count()))
}

func (s *engineServiceImpl) evict(id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
	activeSessions.Set(float64(s.count()))
}

func (s *engineServiceImpl) count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
