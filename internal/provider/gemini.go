// GeminiAdapter wraps google.golang.org/genai's NewClient /
// Models.GenerateContent call. It has no key rotation and no retry/sleep
// loop of its own — those concerns belong to the Key Pool and Domain
// Worker — and its CONSUMER_SUSPENDED substring check lives in the shared
// classifier rather than inline here.
package provider

import (
	"context"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"
)

type GeminiAdapter struct{}

func NewGeminiAdapter() *GeminiAdapter {
	return &GeminiAdapter{}
}

func (a *GeminiAdapter) Name() string { return "gemini" }

func (a *GeminiAdapter) Call(ctx context.Context, apiKey, model, promptText string) (*Result, error) {
	start := time.Now()

	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, NewTransient(0, fmt.Errorf("failed to create gemini client: %w", err))
	}

	resp, err := client.Models.GenerateContent(ctx, model, genai.Text(promptText), nil)
	if err != nil {
		return nil, classifyGeminiErr(err)
	}
	if resp == nil {
		return nil, NewMalformed(fmt.Errorf("gemini returned a nil response"))
	}

	content := strings.TrimSpace(resp.Text())
	if len(content) < minContentLength {
		return nil, NewMalformed(fmt.Errorf("gemini returned empty content"))
	}

	result := &Result{Content: content, LatencyMs: timeSince(start)}
	if resp.UsageMetadata != nil {
		in := int(resp.UsageMetadata.PromptTokenCount)
		out := int(resp.UsageMetadata.CandidatesTokenCount)
		result.TokensIn, result.TokensOut = &in, &out
	}
	return result, nil
}

func classifyGeminiErr(err error) *CallError {
	msg := err.Error()
	if IsKeyInvalidError(msg) {
		return NewPermanent(0, fmt.Errorf("gemini call failed: %w", err))
	}
	if IsRateLimitError(msg) || isOverloadSignal(msg) {
		return NewTransient(0, fmt.Errorf("gemini call failed: %w", err))
	}
	lower := strings.ToLower(msg)
	if strings.Contains(lower, "invalid") || strings.Contains(lower, "not found") {
		return NewPermanent(0, fmt.Errorf("gemini call failed: %w", err))
	}
	return NewTransient(0, fmt.Errorf("gemini call failed: %w", err))
}
