package storage

// Schema is the DDL for the two tables the core owns. Downstream consumers
// read domain_responses but do not own this schema.
const Schema = `
CREATE TABLE IF NOT EXISTS domains (
    id                UUID PRIMARY KEY,
    domain            TEXT NOT NULL UNIQUE,
    status            TEXT NOT NULL DEFAULT 'pending',
    source            TEXT NOT NULL DEFAULT '',
    created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    last_processed_at TIMESTAMPTZ,
    attempt_count     INT NOT NULL DEFAULT 0,
    last_error        TEXT NOT NULL DEFAULT '',
    claim_holder      TEXT NOT NULL DEFAULT '',
    claim_deadline    TIMESTAMPTZ,
    next_attempt_at   TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_domains_claim_order ON domains (last_processed_at ASC NULLS FIRST, id ASC);

CREATE TABLE IF NOT EXISTS domain_responses (
    id          TEXT PRIMARY KEY,
    domain_id   UUID NOT NULL REFERENCES domains(id),
    model       TEXT NOT NULL,
    prompt_id   TEXT NOT NULL,
    response    TEXT NOT NULL,
    tokens_in   INT,
    tokens_out  INT,
    latency_ms  INT NOT NULL,
    key_index   INT NOT NULL,
    attempt     INT NOT NULL,
    outcome     TEXT NOT NULL,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_domain_responses_lookup ON domain_responses (domain_id, prompt_id, model, created_at);
`
