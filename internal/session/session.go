package session

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"vnml-server/internal/continuity"
	"vnml-server/internal/markup"
	"vnml-server/internal/schema"
	"vnml-server/shared/models"

	"github.com/google/uuid"
)

// Options - настройки сессии.
type Options struct {
	Policy schema.Policy
	// EnforceMinDialogue превращает предупреждение о коротком диалоге в отказ фрагмента.
	EnforceMinDialogue bool
	// DefaultActionPolicy применяется, если вызывающий код не указал политику.
	DefaultActionPolicy models.ActionPolicy
}

func (o Options) withDefaults() Options {
	if !o.DefaultActionPolicy.Valid() {
		o.DefaultActionPolicy = models.ActionPolicyStrict
	}
	return o
}

// Session - машина состояний одной повествовательной сессии.
//
// Изменяющие вызовы (SubmitFragment, SubmitAction, SubmitChoice) не перекрываются:
// параллельный вызов получает models.ErrSessionBusy. Генерация следующего хода
// целиком выполняется под арендой (BeginGeneration), вторая аренда получает
// models.ErrSessionBusy. Зафиксированное состояние защищено RWMutex, поэтому
// Snapshot можно вызывать в любой момент.
type Session struct {
	id        string
	opts      Options
	validator *schema.Validator
	now       func() time.Time

	busy       atomic.Bool
	generating atomic.Bool

	mu      sync.RWMutex
	status  models.SessionStatus
	setup   *models.Setup
	tracker *continuity.Tracker
	turns   []models.Turn
	lastErr error
}

// Begin разбирает блок настройки и открывает новую сессию.
// Это единственное место, где впервые привязываются идентификаторы персонажей.
func Begin(setupText string, opts Options) (*Session, error) {
	setup, err := schema.ParseSetup(setupText)
	if err != nil {
		return nil, err
	}
	return newSession(uuid.New().String(), setup, opts), nil
}

// Restore восстанавливает сессию из сохраненных ходов, воспроизводя их в трекере
// по порядку. Сырой текст ходов повторно не разбирается.
func Restore(id string, setup *models.Setup, turns []models.Turn, opts Options) (*Session, error) {
	if setup == nil {
		return nil, fmt.Errorf("restore session %s: %w: setup is nil", id, models.ErrInvalidInput)
	}
	s := newSession(id, setup.Clone(), opts)
	for i, turn := range turns {
		if turn.Seq != i {
			return nil, fmt.Errorf("restore session %s: turn %d has seq %d: %w", id, i, turn.Seq, models.ErrSequenceConflict)
		}
		if err := s.tracker.Seed(turn); err != nil {
			return nil, fmt.Errorf("restore session %s: %w", id, err)
		}
		s.turns = append(s.turns, turn.Clone())
	}
	if n := len(s.turns); n > 0 && s.turns[n-1].Pending() {
		s.status = models.StatusAwaitingAction
	}
	return s, nil
}

func newSession(id string, setup *models.Setup, opts Options) *Session {
	opts = opts.withDefaults()
	return &Session{
		id:        id,
		opts:      opts,
		validator: schema.NewValidator(opts.Policy),
		now:       func() time.Time { return time.Now().UTC() },
		status:    models.StatusAwaitingGeneration,
		setup:     setup,
		tracker:   continuity.NewTracker(setup),
	}
}

// ID возвращает идентификатор сессии.
func (s *Session) ID() string { return s.id }

// Options возвращает настройки сессии.
func (s *Session) Options() Options { return s.opts }

// Setup возвращает копию блока настройки.
func (s *Session) Setup() *models.Setup {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.setup.Clone()
}

// State возвращает текущее состояние машины.
func (s *Session) State() models.SessionStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// LastError возвращает ошибку последнего неудачного вызова или nil.
func (s *Session) LastError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

// TurnCount возвращает число зафиксированных ходов.
func (s *Session) TurnCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.turns)
}

// PendingOptions возвращает ожидающие варианты или nil, если действие не ожидается.
func (s *Session) PendingOptions() *models.OptionsBlock {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pendingOptionsLocked()
}

func (s *Session) pendingOptionsLocked() *models.OptionsBlock {
	if s.status != models.StatusAwaitingAction || len(s.turns) == 0 {
		return nil
	}
	opts := s.turns[len(s.turns)-1].Clone().Options
	return &opts
}

// Snapshot возвращает глубокую копию зафиксированного состояния.
// Два вызова без изменений между ними возвращают равные значения.
func (s *Session) Snapshot() models.SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state := models.SessionState{
		SessionID:      s.id,
		Status:         s.status,
		Setup:          *s.setup.Clone(),
		Turns:          make([]models.Turn, len(s.turns)),
		ActiveScene:    s.tracker.ActiveScene(),
		PendingOptions: s.pendingOptionsLocked(),
		Appearances:    s.tracker.Appearances(),
	}
	for i, t := range s.turns {
		state.Turns[i] = t.Clone()
	}
	if s.lastErr != nil {
		state.LastError = s.lastErr.Error()
	}
	return state
}

// Close переводит сессию в конечное состояние.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = models.StatusClosed
}

func (s *Session) acquire() error {
	if !s.busy.CompareAndSwap(false, true) {
		return models.ErrSessionBusy
	}
	return nil
}

func (s *Session) release() { s.busy.Store(false) }

func (s *Session) setStatus(status models.SessionStatus) {
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()
}

// reject фиксирует ошибку фрагмента. Ходы не меняются.
func (s *Session) reject(err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != models.StatusClosed {
		s.status = models.StatusFragmentReceived
	}
	s.lastErr = err
	return err
}

// Generation - аренда права сгенерировать ход с номером Seq.
// Пока аренда удерживается, другая генерация и ручная отправка фрагмента
// получают models.ErrSessionBusy.
type Generation struct {
	s        *Session
	seq      int
	released atomic.Bool
}

// BeginGeneration захватывает аренду следующего хода. Допустима только в
// AwaitingGeneration и FragmentReceived.
func (s *Session) BeginGeneration() (*Generation, error) {
	if !s.generating.CompareAndSwap(false, true) {
		return nil, models.ErrSessionBusy
	}
	s.mu.RLock()
	status, seq := s.status, len(s.turns)
	s.mu.RUnlock()

	switch status {
	case models.StatusAwaitingGeneration, models.StatusFragmentReceived:
		return &Generation{s: s, seq: seq}, nil
	case models.StatusClosed:
		s.generating.Store(false)
		return nil, models.ErrSessionClosed
	default:
		s.generating.Store(false)
		return nil, fmt.Errorf("%w: generation requested while %s", models.ErrInvalidState, status)
	}
}

// Seq возвращает номер хода, который будет зафиксирован под арендой.
func (g *Generation) Seq() int { return g.seq }

// Session возвращает арендованную сессию.
func (g *Generation) Session() *Session { return g.s }

// Submit проверяет и фиксирует фрагмент под арендой.
func (g *Generation) Submit(raw string) (models.Turn, []models.ContentPolicyWarning, error) {
	return g.s.submitFragment(raw, g.seq)
}

// Fail записывает ошибку генерации: сессия остается в FragmentReceived,
// ошибка видна в LastError и снимке.
func (g *Generation) Fail(err error) error {
	return g.s.reject(err)
}

// Release освобождает аренду. Повторный вызов ничего не делает.
func (g *Generation) Release() {
	if g.released.CompareAndSwap(false, true) {
		g.s.generating.Store(false)
	}
}

// SubmitFragment проверяет и фиксирует очередной фрагмент (ручная отправка).
// При любой ошибке сессия остается в FragmentReceived, ходы не меняются.
func (s *Session) SubmitFragment(raw string) (models.Turn, []models.ContentPolicyWarning, error) {
	g, err := s.BeginGeneration()
	if err != nil {
		return models.Turn{}, nil, err
	}
	defer g.Release()
	return g.Submit(raw)
}

func (s *Session) submitFragment(raw string, seq int) (models.Turn, []models.ContentPolicyWarning, error) {
	if err := s.acquire(); err != nil {
		return models.Turn{}, nil, err
	}
	defer s.release()

	s.mu.Lock()
	switch {
	case s.status == models.StatusClosed:
		s.mu.Unlock()
		return models.Turn{}, nil, models.ErrSessionClosed
	case len(s.turns) != seq:
		n := len(s.turns)
		s.mu.Unlock()
		return models.Turn{}, nil, fmt.Errorf("%w: fragment for turn %d, session has %d turns", models.ErrSequenceConflict, seq, n)
	case s.status == models.StatusAwaitingGeneration, s.status == models.StatusFragmentReceived:
		s.status = models.StatusValidating
	default:
		status := s.status
		s.mu.Unlock()
		return models.Turn{}, nil, fmt.Errorf("%w: fragment submitted while %s", models.ErrInvalidState, status)
	}
	s.mu.Unlock()

	frag, warnings, err := s.validator.Validate(markup.Tokens(raw))
	if err != nil {
		return models.Turn{}, nil, s.reject(err)
	}
	if s.opts.EnforceMinDialogue && len(warnings) > 0 {
		return models.Turn{}, warnings, s.reject(&warnings[0])
	}

	s.setStatus(models.StatusResolving)
	resolved, err := s.tracker.Resolve(frag)
	if err != nil {
		return models.Turn{}, warnings, s.reject(err)
	}

	var chosen *string
	var policy models.ActionPolicy
	if resolved.Action != nil {
		policy = s.opts.DefaultActionPolicy
		text, err := matchAction(*resolved.Action, resolved.Options, policy)
		if err != nil {
			return models.Turn{}, warnings, s.reject(err)
		}
		chosen = &text
	}

	next := s.tracker.Clone()
	if err := next.Apply(resolved); err != nil {
		return models.Turn{}, warnings, s.reject(err)
	}
	active := next.ActiveScene()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == models.StatusClosed {
		return models.Turn{}, warnings, models.ErrSessionClosed
	}
	turn := models.Turn{
		Seq:          len(s.turns),
		Scene:        *active,
		Scenes:       resolved.Scenes,
		Dialogue:     resolved.Dialogue,
		Options:      resolved.Options,
		ChosenAction: chosen,
		ActionPolicy: policy,
		Comments:     resolved.Comments,
		Raw:          raw,
		CommittedAt:  s.now(),
	}
	s.turns = append(s.turns, turn)
	s.tracker = next
	s.lastErr = nil
	if chosen != nil {
		s.status = models.StatusAwaitingGeneration
	} else {
		s.status = models.StatusAwaitingAction
	}
	return turn.Clone(), warnings, nil
}

// SubmitAction записывает действие игрока в последний ход.
// policy == "" означает политику сессии по умолчанию.
func (s *Session) SubmitAction(text string, policy models.ActionPolicy) (models.Turn, error) {
	if policy == "" {
		policy = s.opts.DefaultActionPolicy
	}
	if !policy.Valid() {
		return models.Turn{}, fmt.Errorf("%w: unknown action policy %q", models.ErrInvalidInput, policy)
	}
	return s.recordAction(func(options models.OptionsBlock) (string, error) {
		return matchAction(text, options, policy)
	}, policy)
}

// SubmitChoice выбирает ожидающий вариант по стабильному индексу.
func (s *Session) SubmitChoice(index int) (models.Turn, error) {
	return s.recordAction(func(options models.OptionsBlock) (string, error) {
		if index < 0 || index >= len(options.Options) {
			return "", &models.UnknownActionError{Action: "#" + strconv.Itoa(index), Pending: options.Texts()}
		}
		return options.Options[index].Text, nil
	}, models.ActionPolicyStrict)
}

func (s *Session) recordAction(match func(models.OptionsBlock) (string, error), policy models.ActionPolicy) (models.Turn, error) {
	if err := s.acquire(); err != nil {
		return models.Turn{}, err
	}
	defer s.release()

	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.status == models.StatusClosed:
		return models.Turn{}, models.ErrSessionClosed
	case s.status != models.StatusAwaitingAction || len(s.turns) == 0:
		return models.Turn{}, fmt.Errorf("%w: %s", models.ErrNoPendingTurn, s.status)
	}

	last := s.turns[len(s.turns)-1]
	text, err := match(last.Options)
	if err != nil {
		s.lastErr = err
		return models.Turn{}, err
	}
	updated := last.Clone()
	updated.ChosenAction = &text
	updated.ActionPolicy = policy
	s.turns[len(s.turns)-1] = updated
	s.status = models.StatusAwaitingGeneration
	s.lastErr = nil
	return updated.Clone(), nil
}

// matchAction сопоставляет текст действия с вариантами.
// strict-match: точное совпадение без учета регистра и крайних пробелов, без нечеткого поиска.
// free-form: любой непустой текст записывается как есть, без обрезки пробелов.
func matchAction(text string, options models.OptionsBlock, policy models.ActionPolicy) (string, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "", &models.UnknownActionError{Pending: options.Texts()}
	}
	if policy == models.ActionPolicyFreeForm {
		return text, nil
	}
	opt, ok := options.Match(trimmed)
	if !ok {
		return "", &models.UnknownActionError{Action: trimmed, Pending: options.Texts()}
	}
	return opt.Text, nil
}
