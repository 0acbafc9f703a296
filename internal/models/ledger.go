package models

import "time"

// Ledger is the per-origin append-only log held by the external store.
// Exactly one exists per origin once created; the sequence count held by
// the store only ever increases.
type Ledger struct {
	Address   string    `json:"address" db:"address"`
	Origin    string    `json:"origin" db:"origin"`
	Seed      uint16    `json:"seed" db:"seed"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// RecordResult is the outcome of recording one classified verdict
type RecordResult struct {
	// Recorded is false when the verdict was benign and skipped.
	Recorded bool         `json:"recorded"`
	Event    *ThreatEvent `json:"event,omitempty"`
}

// VerifyResult is the outcome of verifying an event against the store
type VerifyResult struct {
	Verified bool   `json:"verified"`
	Proof    string `json:"proof,omitempty"`
	Message  string `json:"message,omitempty"`
}
