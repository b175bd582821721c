package generator

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"vnml-server/internal/config"
	"vnml-server/shared/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const fragmentReply = `<dialogue><narration>Rain.</narration></dialogue><options><title>T</title><option>Wait</option></options>`

func testConfig(clientType, baseURL string) *config.Config {
	return &config.Config{
		AIClientType: clientType,
		AIBaseURL:    baseURL,
		AIModel:      "test-model",
		AIAPIKey:     "test-key",
		AITimeout:    5 * time.Second,
	}
}

func TestRequest_UserMessage(t *testing.T) {
	action := "Search the ruins"
	hint := "Add a <title> to <options>."

	opening := Request{Context: "<story/>"}.UserMessage()
	assert.Contains(t, opening, "opening turn")
	assert.NotContains(t, opening, "Correction")

	retry := Request{Context: "<story/>", Action: &action, Hint: &hint}.UserMessage()
	assert.Contains(t, retry, "Player action: Search the ruins")
	assert.Contains(t, retry, "Correction required: Add a <title> to <options>.")
	assert.True(t, strings.HasPrefix(retry, "<story/>"))
}

func TestOpenAIClient_Generate(t *testing.T) {
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"1","object":"chat.completion","model":"test-model","choices":[{"index":0,"message":{"role":"assistant","content":` +
			jsonString(fragmentReply) + `},"finish_reason":"stop"}],"usage":{"prompt_tokens":10,"completion_tokens":5,"total_tokens":15}}`))
	}))
	defer srv.Close()

	gen, err := NewGenerator(testConfig("openai", srv.URL), zap.NewNop())
	require.NoError(t, err)

	out, err := gen.Generate(context.Background(), Request{SessionID: "s1", Context: "<story/>", Attempt: 1})
	require.NoError(t, err)
	assert.Equal(t, fragmentReply, out)
	assert.Contains(t, gotBody, "test-model")
	assert.Contains(t, gotBody, "vnml markup dialect")
}

func TestOpenAIClient_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	gen, err := NewGenerator(testConfig("openai", srv.URL), zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = gen.Generate(ctx, Request{SessionID: "s1", Attempt: 2})
	require.Error(t, err)

	var timeoutErr *models.GeneratorTimeoutError
	require.True(t, errors.As(err, &timeoutErr), "expected timeout error, got %v", err)
	assert.Equal(t, 2, timeoutErr.Attempt)
	assert.True(t, errors.Is(err, models.ErrGeneratorTimeout))
}

func TestOpenAIClient_EmptyResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"1","object":"chat.completion","choices":[]}`))
	}))
	defer srv.Close()

	gen, err := NewGenerator(testConfig("openai", srv.URL), zap.NewNop())
	require.NoError(t, err)
	_, err = gen.Generate(context.Background(), Request{Attempt: 1})
	assert.ErrorIs(t, err, ErrGenerationFailed)
}

func TestOllamaClient_Generate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"model":"test-model","message":{"role":"assistant","content":` + jsonString(fragmentReply) +
			`},"done":true,"done_reason":"stop","prompt_eval_count":12,"eval_count":7}`))
	}))
	defer srv.Close()

	gen, err := NewGenerator(testConfig("ollama", srv.URL+"/v1"), zap.NewNop())
	require.NoError(t, err)

	out, err := gen.Generate(context.Background(), Request{SessionID: "s1", Attempt: 1})
	require.NoError(t, err)
	assert.Equal(t, fragmentReply, out)
}

func TestNewGenerator_UnknownType(t *testing.T) {
	_, err := NewGenerator(testConfig("unknown-backend", ""), zap.NewNop())
	assert.Error(t, err)
}

func jsonString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
