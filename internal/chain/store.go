package chain

import (
	"context"
	"time"
)

// LedgerState is the store's view of a ledger account. The sequence count
// is authoritative: other processes may append to the same ledger, so it is
// always fetched, never cached.
type LedgerState struct {
	Address string `json:"address"`
	Count   uint64 `json:"count"`
}

// LogFields is the payload held by one log entry
type LogFields struct {
	IPAddress   string `json:"ipAddress"`
	ThreatType  string `json:"threatType"`
	ActionTaken string `json:"actionTaken"`
	Timestamp   int64  `json:"timestamp,omitempty"`
}

// StoreClient is the external append-only store reached over RPC.
//
// All calls are I/O-bound suspension points and honor ctx deadlines.
// Implementations translate store failures into the shared error taxonomy:
// NOT_FOUND for unknown addresses, CONFLICT for an occupied derived address,
// UNAVAILABLE for transport failures and timeouts.
type StoreClient interface {
	// CreateLedger creates a ledger at the address derived from seed and
	// returns that address with the committing transaction reference.
	CreateLedger(ctx context.Context, seed uint16) (address string, txRef string, err error)

	// FetchLedger reads the current state of a ledger.
	FetchLedger(ctx context.Context, address string) (*LedgerState, error)

	// AppendLog writes fields at logAddress under ledgerAddress. The log
	// address must have been derived from the ledger's current sequence
	// count; if another writer claimed the slot first the store rejects the
	// write and the error satisfies utils.IsConflict.
	AppendLog(ctx context.Context, ledgerAddress, logAddress string, fields LogFields) (txRef string, err error)

	// QueryLog reads the fields stored at logAddress.
	QueryLog(ctx context.Context, logAddress string) (*LogFields, error)

	Close() error
}

// StoreStats holds client-side statistics about store traffic
type StoreStats struct {
	TotalRequests   uint64    `json:"total_requests"`
	FailedRequests  uint64    `json:"failed_requests"`
	Reconnects      uint64    `json:"reconnects"`
	CurrentURL      string    `json:"current_url"`
	LastConnectedAt time.Time `json:"last_connected_at"`
	IsHealthy       bool      `json:"is_healthy"`
}
