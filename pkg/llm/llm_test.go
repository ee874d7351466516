package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func chatHandler(t *testing.T, status int, body string, seenAuth *string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		if seenAuth != nil {
			*seenAuth = r.Header.Get("Authorization")
		}
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req["model"])
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}
}

func TestOpenAICompatibleChat(t *testing.T) {
	var auth string
	srv := httptest.NewServer(chatHandler(t, http.StatusOK, `{"choices":[{"message":{"content":"{\"ok\":true}"}}]}`, &auth))
	defer srv.Close()

	c := NewOpenAICompatible(ProviderOpenAI, "sk-test", "test-model", srv.URL+"/v1/")
	out, err := c.Chat(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, out)
	assert.Equal(t, "Bearer sk-test", auth)
	assert.Equal(t, "test-model", c.Model())
}

func TestOpenAICompatibleNoKey(t *testing.T) {
	auth := "unset"
	srv := httptest.NewServer(chatHandler(t, http.StatusOK, `{"choices":[{"message":{"content":"hi"}}]}`, &auth))
	defer srv.Close()

	_, err := NewOpenAICompatible(ProviderOllama, "", "test-model", srv.URL+"/v1").Chat(context.Background(), "hello")
	require.NoError(t, err)
	assert.Empty(t, auth)
}

func TestOpenAICompatibleErrors(t *testing.T) {
	t.Run("status", func(t *testing.T) {
		srv := httptest.NewServer(chatHandler(t, http.StatusTooManyRequests, `{"error":{"message":"slow down","type":"rate_limit"}}`, nil))
		defer srv.Close()

		_, err := NewOpenAICompatible(ProviderXAI, "k", "test-model", srv.URL+"/v1").Chat(context.Background(), "x")
		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
		assert.Equal(t, "slow down", apiErr.Message)
		assert.Equal(t, ProviderXAI, apiErr.Provider)
		assert.True(t, IsRetryable(err))
	})

	t.Run("empty choices", func(t *testing.T) {
		srv := httptest.NewServer(chatHandler(t, http.StatusOK, `{"choices":[]}`, nil))
		defer srv.Close()

		_, err := NewOpenAICompatible(ProviderOpenAI, "k", "test-model", srv.URL+"/v1").Chat(context.Background(), "x")
		require.Error(t, err)
		assert.False(t, IsRetryable(err))
	})
}

func TestClaudeChat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/messages"))
		assert.Equal(t, "test-key", r.Header.Get("X-Api-Key"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"msg_1","type":"message","role":"assistant","model":"claude-test",
"content":[{"type":"text","text":"{\"verdict\":\"resolved\"}"}],
"stop_reason":"end_turn","usage":{"input_tokens":3,"output_tokens":5}}`))
	}))
	defer srv.Close()

	c := newClaude("test-key", "claude-test", srv.URL)
	out, err := c.Chat(context.Background(), "evaluate")
	require.NoError(t, err)
	assert.Equal(t, `{"verdict":"resolved"}`, out)
	assert.Equal(t, "claude-test", c.Model())
}

type scripted struct {
	calls   atomic.Int32
	replies []error
}

func (s *scripted) Chat(ctx context.Context, prompt string) (string, error) {
	i := int(s.calls.Add(1)) - 1
	if i < len(s.replies) && s.replies[i] != nil {
		return "", s.replies[i]
	}
	return "ok", nil
}

func (s *scripted) Model() string { return "scripted" }

func fastRetry(next LLM, n uint64) *Retrying {
	return NewRetrying(next, WithMaxRetries(n), WithInitialInterval(time.Millisecond), WithRateLimit(rate.Inf, 1))
}

func TestRetryingRecovers(t *testing.T) {
	s := &scripted{replies: []error{
		&APIError{Provider: ProviderOpenAI, StatusCode: 503, Message: "busy"},
		&APIError{Provider: ProviderOpenAI, StatusCode: 429, Message: "slow"},
	}}
	out, err := fastRetry(s, 3).Chat(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, int32(3), s.calls.Load())
}

func TestRetryingStopsOnPermanentError(t *testing.T) {
	s := &scripted{replies: []error{&APIError{Provider: ProviderOpenAI, StatusCode: 401, Message: "bad key"}}}
	_, err := fastRetry(s, 3).Chat(context.Background(), "x")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 401, apiErr.StatusCode)
	assert.Equal(t, int32(1), s.calls.Load())
}

func TestRetryingGivesUp(t *testing.T) {
	busy := &APIError{Provider: ProviderOpenAI, StatusCode: 500, Message: "down"}
	s := &scripted{replies: []error{busy, busy, busy, busy, busy}}
	_, err := fastRetry(s, 2).Chat(context.Background(), "x")
	require.Error(t, err)
	assert.Equal(t, int32(3), s.calls.Load())
	assert.Contains(t, err.Error(), "failed after 3 attempts")
}

func TestRetryingHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := &scripted{}
	_, err := fastRetry(s, 3).Chat(ctx, "x")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, IsRetryable(nil))
	assert.False(t, IsRetryable(context.DeadlineExceeded))
	assert.False(t, IsRetryable(errors.New("boom")))
	assert.True(t, IsRetryable(&APIError{StatusCode: 502}))
	assert.False(t, IsRetryable(&APIError{StatusCode: 400}))
}

func TestFactory(t *testing.T) {
	env := map[string]string{}
	f := &Factory{getenv: func(k string) string { return env[k] }}

	_, err := f.CreateLLM(Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ANTHROPIC_API_KEY")

	env["ANTHROPIC_API_KEY"] = "k"
	c, err := f.CreateLLM(Config{})
	require.NoError(t, err)
	assert.IsType(t, &Claude{}, c)
	assert.Equal(t, defaultClaudeModel, c.Model())

	env["CLAUDE_MODEL"] = "claude-from-env"
	c, err = f.CreateLLM(Config{Provider: "Claude"})
	require.NoError(t, err)
	assert.Equal(t, "claude-from-env", c.Model())

	o, err := f.CreateLLM(Config{Provider: "ollama"})
	require.NoError(t, err)
	require.IsType(t, &OpenAI{}, o)
	assert.Equal(t, "http://localhost:11434/v1", o.(*OpenAI).baseURL)
	assert.Equal(t, "llama3.2", o.Model())

	g, err := f.CreateLLM(Config{Provider: "gemini", APIKey: "explicit", Model: "gemini-pro"})
	require.NoError(t, err)
	assert.Equal(t, "gemini-pro", g.Model())

	env["LLM_PROVIDER"] = "Ollama"
	o, err = f.CreateLLM(Config{})
	require.NoError(t, err)
	assert.IsType(t, &OpenAI{}, o, "LLM_PROVIDER picks the provider when none is configured")

	_, err = f.CreateLLM(Config{Provider: "bard"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported LLM provider")
}
