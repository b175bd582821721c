package generator

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"vnml-server/internal/config"

	openaigo "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

const backendOpenAI = "openai"

// openAIClient реализует Generator с использованием go-openai
type openAIClient struct {
	client *openaigo.Client
	model  string
	logger *zap.Logger
}

func newOpenAIClient(cfg *config.Config, logger *zap.Logger) *openAIClient {
	openaiConfig := openaigo.DefaultConfig(cfg.AIAPIKey)
	openaiConfig.BaseURL = cfg.AIBaseURL
	openaiConfig.HTTPClient = &http.Client{Timeout: cfg.AITimeout}
	return &openAIClient{
		client: openaigo.NewClientWithConfig(openaiConfig),
		model:  cfg.AIModel,
		logger: logger.With(zap.String("backend", backendOpenAI)),
	}
}

// Generate запрашивает очередной фрагмент через chat completion.
func (c *openAIClient) Generate(ctx context.Context, req Request) (string, error) {
	logFields := []zap.Field{zap.String("sessionID", req.SessionID), zap.Int("attempt", req.Attempt), zap.String("model", c.model)}

	messages := []openaigo.ChatCompletionMessage{
		{Role: openaigo.ChatMessageRoleSystem, Content: SystemPrompt},
		{Role: openaigo.ChatMessageRoleUser, Content: req.UserMessage()},
	}

	startTime := time.Now()
	c.logger.Debug("Отправка запроса к AI", append(logFields, zap.Int("contextBytes", len(req.Context)))...)

	resp, err := c.client.CreateChatCompletion(ctx, openaigo.ChatCompletionRequest{
		Model:    c.model,
		Messages: messages,
	})
	duration := time.Since(startTime)

	if err != nil {
		err = classifyError(ctx, req, startTime, err)
		observeRequest(backendOpenAI, c.model, statusOf(err), duration.Seconds())
		c.logger.Warn("Ошибка от AI API", append(logFields, zap.Duration("duration", duration), zap.Error(err))...)
		return "", err
	}

	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		observeRequest(backendOpenAI, c.model, "error_empty_response", duration.Seconds())
		c.logger.Warn("AI API вернул пустой ответ", append(logFields, zap.Duration("duration", duration))...)
		return "", fmt.Errorf("%w: получен пустой ответ", ErrGenerationFailed)
	}

	observeRequest(backendOpenAI, c.model, "success", duration.Seconds())
	observeUsage(backendOpenAI, c.model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)

	text := resp.Choices[0].Message.Content
	c.logger.Info("Ответ от AI API получен", append(logFields,
		zap.Duration("duration", duration),
		zap.Int("responseBytes", len(text)),
		zap.Int("promptTokens", resp.Usage.PromptTokens),
		zap.Int("completionTokens", resp.Usage.CompletionTokens),
		zap.String("finishReason", string(resp.Choices[0].FinishReason)),
	)...)
	return text, nil
}
