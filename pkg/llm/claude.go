package llm

import (
	"context"
	"fmt"
	"net/http"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const defaultClaudeModel = "claude-sonnet-4-20250514"

type Claude struct {
	client anthropic.Client
	model  string
}

func NewClaude(apiKey string) *Claude {
	return NewClaudeWithModel(apiKey, defaultClaudeModel)
}

func NewClaudeWithModel(apiKey, model string) *Claude {
	return newClaude(apiKey, model, "")
}

// newClaude disables the SDK's own retries; Retrying owns retry policy.
func newClaude(apiKey, model, baseURL string) *Claude {
	if model == "" {
		model = defaultClaudeModel
	}
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
		option.WithHTTPClient(&http.Client{Timeout: defaultTimeout}),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &Claude{client: anthropic.NewClient(opts...), model: model}
}

func (c *Claude) Chat(ctx context.Context, prompt string) (string, error) {
	message, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(c.model),
		MaxTokens:   defaultMaxTokens,
		Temperature: anthropic.Float(defaultTemperature),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", err
	}
	for _, block := range message.Content {
		if block.Type == "text" {
			return block.Text, nil
		}
	}
	return "", fmt.Errorf("empty response from Claude")
}

func (c *Claude) Model() string {
	return c.model
}
