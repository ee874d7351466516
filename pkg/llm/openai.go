package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// OpenAI talks to any endpoint implementing the OpenAI chat completions API.
type OpenAI struct {
	provider Provider
	apiKey   string
	baseURL  string
	client   *http.Client
	model    string
}

func NewOpenAI(apiKey string) *OpenAI {
	return NewOpenAIWithModel(apiKey, providers[ProviderOpenAI].Model)
}

func NewOpenAIWithModel(apiKey, model string) *OpenAI {
	return NewOpenAICompatible(ProviderOpenAI, apiKey, model, providers[ProviderOpenAI].BaseURL)
}

// NewOpenAICompatible targets baseURL, e.g. "http://localhost:11434/v1".
// An empty apiKey sends no Authorization header.
func NewOpenAICompatible(provider Provider, apiKey, model, baseURL string) *OpenAI {
	return &OpenAI{
		provider: provider,
		apiKey:   apiKey,
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		client:   &http.Client{Timeout: defaultTimeout},
		model:    model,
	}
}

func (o *OpenAI) Chat(ctx context.Context, prompt string) (string, error) {
	body := map[string]interface{}{
		"model": o.model,
		"messages": []map[string]string{{
			"role":    "user",
			"content": prompt,
		}},
		"max_tokens":  defaultMaxTokens,
		"temperature": defaultTemperature,
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/chat/completions", bytes.NewBuffer(jsonBody))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if o.apiKey != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", o.apiKey))
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	var openaiResp struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	decodeErr := json.Unmarshal(respBytes, &openaiResp)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := strings.TrimSpace(string(respBytes))
		if decodeErr == nil && openaiResp.Error.Message != "" {
			msg = openaiResp.Error.Message
		}
		return "", &APIError{Provider: o.provider, StatusCode: resp.StatusCode, Message: msg}
	}
	if decodeErr != nil {
		return "", fmt.Errorf("decode %s response: %w", o.provider, decodeErr)
	}
	if openaiResp.Error.Message != "" {
		return "", &APIError{Provider: o.provider, StatusCode: resp.StatusCode, Message: openaiResp.Error.Message}
	}
	if len(openaiResp.Choices) == 0 {
		return "", fmt.Errorf("empty response from %s", o.provider)
	}
	return openaiResp.Choices[0].Message.Content, nil
}

func (o *OpenAI) Model() string {
	return o.model
}
