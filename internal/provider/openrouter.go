// OpenRouterAdapter is a generic OpenAI-compatible chat-completions client.
// It has no retry loop, no sleeps, and no key rotation of its own — those
// concerns belong to the Rate Governor, Key Pool, and Domain Worker
// respectively. An adapter only ever makes one call and reports what
// happened.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type OpenRouterAdapter struct {
	baseURL    string
	httpClient *http.Client
}

func NewOpenRouterAdapter(baseURL string) *OpenRouterAdapter {
	if baseURL == "" {
		baseURL = "https://openrouter.ai/api/v1/chat/completions"
	}
	return &OpenRouterAdapter{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

func (a *OpenRouterAdapter) Name() string { return "openrouter" }

type openRouterRequest struct {
	Model    string              `json:"model"`
	Messages []openRouterMessage `json:"messages"`
}

type openRouterMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openRouterResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage,omitempty"`
	Error *struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error,omitempty"`
}

func (a *OpenRouterAdapter) Call(ctx context.Context, apiKey, model, promptText string) (*Result, error) {
	start := time.Now()

	reqBody := openRouterRequest{
		Model: model,
		Messages: []openRouterMessage{
			{Role: "user", Content: promptText},
		},
	}
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, NewPermanent(0, fmt.Errorf("failed to marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, NewPermanent(0, fmt.Errorf("failed to build request: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, NewTransient(0, fmt.Errorf("openrouter call failed: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewTransient(resp.StatusCode, fmt.Errorf("failed to read response body: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		kind := Classify(resp.StatusCode, string(body))
		msg := fmt.Errorf("openrouter error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
		return nil, &CallError{Kind: kind, StatusCode: resp.StatusCode, Err: msg}
	}

	var apiResp openRouterResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, NewMalformed(fmt.Errorf("unparseable openrouter body: %w", err))
	}

	if apiResp.Error != nil {
		return nil, &CallError{Kind: Classify(apiResp.Error.Code, apiResp.Error.Message), Err: fmt.Errorf("openrouter error: %s", apiResp.Error.Message)}
	}

	if len(apiResp.Choices) == 0 {
		return nil, NewMalformed(fmt.Errorf("openrouter returned no choices"))
	}

	content := strings.TrimSpace(apiResp.Choices[0].Message.Content)
	if len(content) < minContentLength {
		// HTTP 200 with empty content is still not a success.
		return nil, NewMalformed(fmt.Errorf("openrouter returned empty content"))
	}

	result := &Result{Content: content, LatencyMs: timeSince(start)}
	if apiResp.Usage != nil {
		in, out := apiResp.Usage.PromptTokens, apiResp.Usage.CompletionTokens
		result.TokensIn, result.TokensOut = &in, &out
	}
	return result, nil
}
