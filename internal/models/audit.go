package models

import (
	"encoding/json"
	"time"
)

// ProofAudit records every accepted verification proof. Append-only.
type ProofAudit struct {
	ID        string // ULID
	ChatID    string
	Signer    string
	Scheme    string
	Proof     string
	Digest    string // hex digest of the canonical payload
	CreatedAt time.Time
}

// MemberDeltaAudit records the raw membership delta exactly as submitted,
// with its signer and proof. Append-only; never mutated or deleted.
type MemberDeltaAudit struct {
	ID        string // ULID
	ChatID    string
	Signer    string
	Proof     string
	Delta     json.RawMessage
	CreatedAt time.Time
}
