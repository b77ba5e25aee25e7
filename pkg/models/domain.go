package models

import "time"

// DomainStatus is the lifecycle state of a queued domain.
type DomainStatus string

const (
	DomainStatusPending    DomainStatus = "pending"
	DomainStatusProcessing DomainStatus = "processing"
	DomainStatusCompleted  DomainStatus = "completed"
	DomainStatusError      DomainStatus = "error"
)

// Domain is a row in the domains work queue.
type Domain struct {
	ID              string       `json:"id" db:"id"`
	Domain          string       `json:"domain" db:"domain"`
	Status          DomainStatus `json:"status" db:"status"`
	Source          string       `json:"source" db:"source"`
	CreatedAt       time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at" db:"updated_at"`
	LastProcessedAt *time.Time   `json:"last_processed_at,omitempty" db:"last_processed_at"`
	AttemptCount    int          `json:"attempt_count" db:"attempt_count"`
	LastError       string       `json:"last_error,omitempty" db:"last_error"`
	ClaimHolder     string       `json:"claim_holder,omitempty" db:"claim_holder"`
	ClaimDeadline   *time.Time   `json:"claim_deadline,omitempty" db:"claim_deadline"`
	NextAttemptAt   *time.Time   `json:"next_attempt_at,omitempty" db:"next_attempt_at"`
}

// Outcome is the result of a single adapter call persisted to domain_responses.
type Outcome string

const (
	OutcomeOK             Outcome = "ok"
	OutcomePermanentError Outcome = "permanent_error"
)

// ResponseRow is a single cell of the coverage tensor: one (domain, prompt, model) attempt.
type ResponseRow struct {
	ID        string    `json:"id" db:"id"`
	DomainID  string    `json:"domain_id" db:"domain_id"`
	Model     string    `json:"model" db:"model"`
	PromptID  string    `json:"prompt_id" db:"prompt_id"`
	Response  string    `json:"response" db:"response"`
	TokensIn  *int      `json:"tokens_in,omitempty" db:"tokens_in"`
	TokensOut *int      `json:"tokens_out,omitempty" db:"tokens_out"`
	LatencyMs int        `json:"latency_ms" db:"latency_ms"`
	KeyIndex  int        `json:"key_index" db:"key_index"`
	Attempt   int        `json:"attempt" db:"attempt"`
	Outcome   Outcome    `json:"outcome" db:"outcome"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
}

// Prompt is a stable, versioned prompt template exercised against every model.
type Prompt struct {
	PromptID string `mapstructure:"prompt_id"`
	Text     string `mapstructure:"text"`
	Version  int    `mapstructure:"version"`
}

// Tier is a pacing class assigned to a provider.
type Tier string

const (
	TierFast   Tier = "fast"
	TierMedium Tier = "medium"
	TierSlow   Tier = "slow"
)

// Cell identifies one coordinate of the coverage tensor for a domain.
type Cell struct {
	PromptID string
	Model    string
	Provider string
}
