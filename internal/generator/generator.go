package generator

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"vnml-server/internal/config"
	"vnml-server/shared/models"

	"go.uber.org/zap"
)

// ErrGenerationFailed - ошибка при генерации текста AI
var ErrGenerationFailed = errors.New("ошибка генерации текста AI")

// Request - запрос на генерацию очередного фрагмента.
type Request struct {
	SessionID string
	// Context - разметка настройки и последних ходов (см. BuildContext).
	Context string
	// Action - действие игрока, nil для первого хода.
	Action *string
	// Hint - подсказка с описанием нарушения при повторном запросе.
	Hint *string
	// Attempt - номер попытки, начиная с 1.
	Attempt int
}

// UserMessage собирает пользовательское сообщение для модели.
func (r Request) UserMessage() string {
	var b strings.Builder
	b.WriteString(r.Context)
	if r.Action != nil {
		fmt.Fprintf(&b, "\n\nPlayer action: %s", *r.Action)
	} else {
		b.WriteString("\n\nThis is the opening turn of the story.")
	}
	if r.Hint != nil {
		fmt.Fprintf(&b, "\n\nCorrection required: %s Rewrite the whole fragment.", *r.Hint)
	}
	b.WriteString("\n\nWrite the next fragment.")
	return b.String()
}

// Generator - источник фрагментов разметки. Реализации не проверяют разметку.
// Истечение срока ctx возвращается как *models.GeneratorTimeoutError.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// NewGenerator создает клиент для взаимодействия с AI в зависимости от конфигурации
func NewGenerator(cfg *config.Config, logger *zap.Logger) (Generator, error) {
	log := logger.Named("Generator")
	switch strings.ToLower(cfg.AIClientType) {
	case "openai":
		log.Info("Используется реализация AI клиента: OpenAI",
			zap.String("baseURL", cfg.AIBaseURL), zap.String("model", cfg.AIModel), zap.Duration("timeout", cfg.AITimeout))
		return newOpenAIClient(cfg, log), nil
	case "ollama":
		log.Info("Используется реализация AI клиента: Ollama",
			zap.String("baseURL", cfg.AIBaseURL), zap.String("model", cfg.AIModel), zap.Duration("timeout", cfg.AITimeout))
		return newOllamaClient(cfg, log)
	default:
		return nil, fmt.Errorf("неизвестный тип AI клиента: '%s'", cfg.AIClientType)
	}
}

// classifyError превращает истечение срока в *models.GeneratorTimeoutError,
// остальные ошибки оборачивает в ErrGenerationFailed.
func classifyError(ctx context.Context, req Request, started time.Time, err error) error {
	if isTimeout(ctx, err) {
		timeout := time.Since(started)
		if deadline, ok := ctx.Deadline(); ok {
			timeout = deadline.Sub(started)
		}
		return &models.GeneratorTimeoutError{Timeout: timeout.Round(time.Millisecond), Attempt: req.Attempt, Err: err}
	}
	return fmt.Errorf("%w: %v", ErrGenerationFailed, err)
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
