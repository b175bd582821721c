package repair

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"vnml-server/internal/generator"
	"vnml-server/internal/markup"
	"vnml-server/internal/session"
	"vnml-server/shared/models"

	"go.uber.org/zap"
)

// Config - параметры повторов.
type Config struct {
	// MaxRetries - число повторных запросов после первой попытки.
	MaxRetries      int
	GenerateTimeout time.Duration
	BaseRetryDelay  time.Duration
	// ContextTokens - бюджет токенов на контекст промпта.
	ContextTokens int
	// Counter - счетчик токенов; nil означает оценочный.
	Counter *generator.TokenCounter
}

const (
	defaultMaxRetries      = 2
	defaultGenerateTimeout = 120 * time.Second
	defaultContextTokens   = 6000
)

// Controller запрашивает фрагменты у генератора и доводит их до фиксации:
// обрезает оборванный хвост, повторяет запрос с подсказкой, ждет с экспоненциальной
// задержкой после таймаутов.
type Controller struct {
	gen    generator.Generator
	cfg    Config
	logger *zap.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewController создает контроллер.
func NewController(gen generator.Generator, cfg Config, logger *zap.Logger) *Controller {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.GenerateTimeout <= 0 {
		cfg.GenerateTimeout = defaultGenerateTimeout
	}
	if cfg.ContextTokens <= 0 {
		cfg.ContextTokens = defaultContextTokens
	}
	if cfg.Counter == nil {
		cfg.Counter = generator.EstimateCounter()
	}
	return &Controller{
		gen:    gen,
		cfg:    cfg,
		logger: logger.Named("RepairController"),
		sleep:  sleepCtx,
	}
}

// Advance генерирует и фиксирует следующий ход сессии.
// action - выбранное игроком действие предыдущего хода (nil для первого хода).
// Весь проход выполняется под арендой генерации: параллельный Advance той же сессии
// получает models.ErrSessionBusy.
// После исчерпания повторов или при фатальном нарушении возвращает *models.EngineError;
// сессия при этом остается в FragmentReceived без новых ходов, ошибка сохраняется в LastError.
func (c *Controller) Advance(ctx context.Context, sess *session.Session, action *string) (models.Turn, error) {
	lease, err := sess.BeginGeneration()
	if err != nil {
		return models.Turn{}, err
	}
	defer lease.Release()
	return c.AdvanceLeased(ctx, lease, action)
}

// AdvanceLeased - Advance под уже захваченной арендой. Вызывающий код освобождает
// аренду сам, например после сохранения хода.
func (c *Controller) AdvanceLeased(ctx context.Context, lease *session.Generation, action *string) (models.Turn, error) {
	sess := lease.Session()
	logFields := []zap.Field{zap.String("sessionID", sess.ID()), zap.Int("seq", lease.Seq())}
	maxAttempts := c.cfg.MaxRetries + 1

	var hint *string
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		attemptFields := append(logFields, zap.Int("attempt", attempt), zap.Int("maxAttempts", maxAttempts))
		if attempt > 1 {
			retriesTotal.Inc()
		}

		raw, err := c.generate(ctx, sess, action, hint, attempt)
		if err != nil {
			if ctx.Err() != nil {
				return models.Turn{}, lease.Fail(fmt.Errorf("advance session %s: %w", sess.ID(), ctx.Err()))
			}
			lastErr = lease.Fail(err)
			c.logger.Warn("Ошибка генерации фрагмента", append(attemptFields, zap.Error(err))...)
			if attempt < maxAttempts {
				if err := c.sleep(ctx, c.backoff(attempt)); err != nil {
					return models.Turn{}, lease.Fail(fmt.Errorf("advance session %s: %w", sess.ID(), err))
				}
			}
			continue
		}

		turn, warnings, err := lease.Submit(raw)
		if err == nil {
			fragmentsTotal.WithLabelValues(outcomeAccepted).Inc()
			c.logWarnings(warnings, attemptFields)
			c.logger.Info("Фрагмент зафиксирован", append(attemptFields, zap.Int("seq", turn.Seq))...)
			return turn, nil
		}
		fragmentsTotal.WithLabelValues(outcomeOf(err)).Inc()

		var schemaErr *models.SchemaError
		if errors.As(err, &schemaErr) && schemaErr.Truncated {
			if turn, ok := c.trim(lease, raw, attemptFields); ok {
				return turn, nil
			}
		}

		var contErr *models.ContinuityError
		switch {
		case errors.As(err, &contErr) && contErr.Fatal():
			c.logger.Error("Фатальное нарушение непрерывности", append(attemptFields, zap.Error(err))...)
			failuresTotal.WithLabelValues("identity_conflict").Inc()
			return models.Turn{}, lease.Fail(&models.EngineError{Retries: attempt - 1, Cause: err})
		case errors.Is(err, models.ErrSessionBusy), errors.Is(err, models.ErrSessionClosed),
			errors.Is(err, models.ErrInvalidState), errors.Is(err, models.ErrSequenceConflict):
			return models.Turn{}, err
		}

		lastErr = err
		h := hintFor(err)
		hint = &h
		repairsTotal.WithLabelValues(strategyRerequest).Inc()
		c.logger.Warn("Фрагмент отклонен, повторный запрос с подсказкой", append(attemptFields, zap.Error(err))...)
	}

	failuresTotal.WithLabelValues("retries_exhausted").Inc()
	c.logger.Error("Исчерпаны попытки генерации", append(logFields, zap.Int("retries", c.cfg.MaxRetries), zap.Error(lastErr))...)
	return models.Turn{}, lease.Fail(&models.EngineError{Retries: c.cfg.MaxRetries, Cause: lastErr})
}

func (c *Controller) generate(ctx context.Context, sess *session.Session, action, hint *string, attempt int) (string, error) {
	req := generator.Request{
		SessionID: sess.ID(),
		Context:   generator.BuildContext(sess.Snapshot(), c.cfg.Counter, c.cfg.ContextTokens),
		Action:    action,
		Hint:      hint,
		Attempt:   attempt,
	}
	genCtx, cancel := context.WithTimeout(ctx, c.cfg.GenerateTimeout)
	defer cancel()

	raw, err := c.gen.Generate(genCtx, req)
	if err != nil && errors.Is(genCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, models.ErrGeneratorTimeout) {
		err = &models.GeneratorTimeoutError{Timeout: c.cfg.GenerateTimeout, Attempt: attempt, Err: err}
	}
	return raw, err
}

// trim отрезает оборванный хвост до последнего завершенного элемента верхнего уровня.
// Недостающее содержимое не досочиняется.
func (c *Controller) trim(lease *session.Generation, raw string, logFields []zap.Field) (models.Turn, bool) {
	trimmed, ok := markup.TrimIncomplete(raw)
	if !ok {
		return models.Turn{}, false
	}
	turn, warnings, err := lease.Submit(trimmed)
	if err != nil {
		c.logger.Info("Обрезанный фрагмент не прошел проверку", append(logFields, zap.Error(err))...)
		return models.Turn{}, false
	}
	repairsTotal.WithLabelValues(strategyTrim).Inc()
	fragmentsTotal.WithLabelValues(outcomeAccepted).Inc()
	c.logWarnings(warnings, logFields)
	c.logger.Info("Оборванный фрагмент восстановлен обрезкой",
		append(logFields, zap.Int("seq", turn.Seq), zap.Int("droppedBytes", len(raw)-len(trimmed)))...)
	return turn, true
}

func (c *Controller) logWarnings(warnings []models.ContentPolicyWarning, logFields []zap.Field) {
	for i := range warnings {
		c.logger.Warn("Предупреждение политики содержимого", append(logFields, zap.Error(&warnings[i]))...)
	}
}

// backoff: base * 2^(attempt-1) с джиттером ±10%, не меньше base.
func (c *Controller) backoff(attempt int) time.Duration {
	baseDelay := c.cfg.BaseRetryDelay
	delay := float64(baseDelay) * math.Pow(2, float64(attempt-1))
	jitter := delay * 0.1
	delay += jitter * (rand.Float64()*2 - 1)
	waitDuration := time.Duration(delay)
	if waitDuration < baseDelay {
		waitDuration = baseDelay
	}
	return waitDuration
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func hintFor(err error) string {
	var hinter interface{ Hint() string }
	if errors.As(err, &hinter) {
		return hinter.Hint()
	}
	return "The previous fragment was rejected: " + err.Error()
}
