package provider

import (
	"context"
	"time"
)

// Result is what a successful adapter call reports: content plus whatever
// token accounting the provider exposes.
type Result struct {
	Content    string
	TokensIn   *int
	TokensOut  *int
	LatencyMs  int
}

// Adapter converts a (prompt, model) pair into a provider HTTP call using
// the given credential. Adapters are pure: no global state, no sleeps —
// pacing is the Rate Governor's job, retries are the Worker's.
type Adapter interface {
	// Name identifies the provider family this adapter serves (e.g.
	// "openrouter", "gemini").
	Name() string
	// Call issues one request. A non-nil error is always a *CallError.
	Call(ctx context.Context, apiKey, model, promptText string) (*Result, error)
}

// minContentLength is the floor below which a 200-with-content response is
// still not a success: a stored ok row must have non-empty content.
const minContentLength = 1

func timeSince(start time.Time) int {
	return int(time.Since(start).Milliseconds())
}
