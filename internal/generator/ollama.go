package generator

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"vnml-server/internal/config"

	"github.com/ollama/ollama/api"
	"go.uber.org/zap"
)

const backendOllama = "ollama"

// ollamaClient реализует Generator с использованием ollama/api
type ollamaClient struct {
	client *api.Client
	model  string
	logger *zap.Logger
}

// newOllamaClient создает новый клиент для взаимодействия с Ollama
func newOllamaClient(cfg *config.Config, logger *zap.Logger) (*ollamaClient, error) {
	// api.NewClient требует URL без суффикса /v1
	ollamaBaseURL := strings.TrimSuffix(cfg.AIBaseURL, "/v1")
	ollamaBaseURL = strings.TrimSuffix(ollamaBaseURL, "/")

	parsedURL, err := url.Parse(ollamaBaseURL)
	if err != nil {
		return nil, fmt.Errorf("ошибка парсинга Ollama Base URL '%s': %w", ollamaBaseURL, err)
	}

	return &ollamaClient{
		client: api.NewClient(parsedURL, &http.Client{Timeout: cfg.AITimeout}),
		model:  cfg.AIModel,
		logger: logger.With(zap.String("backend", backendOllama)),
	}, nil
}

// Generate запрашивает очередной фрагмент через нативный Chat API без стриминга.
func (c *ollamaClient) Generate(ctx context.Context, req Request) (string, error) {
	logFields := []zap.Field{zap.String("sessionID", req.SessionID), zap.Int("attempt", req.Attempt), zap.String("model", c.model)}

	stream := false
	chatReq := &api.ChatRequest{
		Model: c.model,
		Messages: []api.Message{
			{Role: "system", Content: SystemPrompt},
			{Role: "user", Content: req.UserMessage()},
		},
		Stream: &stream,
	}

	startTime := time.Now()
	c.logger.Debug("Отправка запроса к Ollama", append(logFields, zap.Int("contextBytes", len(req.Context)))...)

	var resp api.ChatResponse
	err := c.client.Chat(ctx, chatReq, func(r api.ChatResponse) error {
		resp = r // Сохраняем последний (полный) ответ
		return nil
	})
	duration := time.Since(startTime)

	if err != nil {
		err = classifyError(ctx, req, startTime, err)
		observeRequest(backendOllama, c.model, statusOf(err), duration.Seconds())
		c.logger.Warn("Ошибка от Ollama API", append(logFields, zap.Duration("duration", duration), zap.Error(err))...)
		return "", err
	}

	if resp.Message.Content == "" {
		observeRequest(backendOllama, c.model, "error_empty_response", duration.Seconds())
		c.logger.Warn("Ollama API вернул пустой ответ", append(logFields, zap.Duration("duration", duration))...)
		return "", fmt.Errorf("%w: получен пустой ответ", ErrGenerationFailed)
	}

	observeRequest(backendOllama, c.model, "success", duration.Seconds())
	observeUsage(backendOllama, c.model, resp.PromptEvalCount, resp.EvalCount)

	c.logger.Info("Ответ от Ollama API получен", append(logFields,
		zap.Duration("duration", duration),
		zap.Int("responseBytes", len(resp.Message.Content)),
		zap.Int("promptTokens", resp.PromptEvalCount),
		zap.Int("completionTokens", resp.EvalCount),
		zap.String("doneReason", resp.DoneReason),
	)...)
	return resp.Message.Content, nil
}
