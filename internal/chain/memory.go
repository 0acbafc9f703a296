package chain

import (
	"context"
	"fmt"
	"sync"

	"github.com/rayguard/sentinel-backbone/pkg/utils"
)

// MemoryStore is an in-process StoreClient used in development mode and in
// tests. It enforces the same occupancy rule as the real store: a log
// address can be written exactly once.
type MemoryStore struct {
	mu      sync.Mutex
	ledgers map[string]*LedgerState
	logs    map[string]LogFields
	txSeq   uint64

	// FailNext, when non-nil, is returned by the next store call and then
	// cleared. Tests use it to simulate outages.
	FailNext error

	CreateCalls uint64
	FetchCalls  uint64
	AppendCalls uint64
	QueryCalls  uint64
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		ledgers: make(map[string]*LedgerState),
		logs:    make(map[string]LogFields),
	}
}

// CreateLedger implements StoreClient
func (m *MemoryStore) CreateLedger(ctx context.Context, seed uint16) (string, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CreateCalls++

	if err := m.takeFailure(); err != nil {
		return "", "", err
	}

	address, err := DeriveLedgerAddress(seed)
	if err != nil {
		return "", "", err
	}
	if _, exists := m.ledgers[address]; exists {
		return "", "", utils.NewAppError(utils.ErrCodeConflict, "Derived address already occupied", address)
	}

	m.ledgers[address] = &LedgerState{Address: address, Count: 0}
	return address, m.nextTxRef(), nil
}

// FetchLedger implements StoreClient
func (m *MemoryStore) FetchLedger(ctx context.Context, address string) (*LedgerState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FetchCalls++

	if err := m.takeFailure(); err != nil {
		return nil, err
	}

	state, ok := m.ledgers[address]
	if !ok {
		return nil, utils.NewAppError(utils.ErrCodeNotFound, "Ledger not found", address)
	}
	copied := *state
	return &copied, nil
}

// AppendLog implements StoreClient
func (m *MemoryStore) AppendLog(ctx context.Context, ledgerAddress, logAddress string, fields LogFields) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.AppendCalls++

	if err := m.takeFailure(); err != nil {
		return "", err
	}

	ledger, ok := m.ledgers[ledgerAddress]
	if !ok {
		return "", utils.NewAppError(utils.ErrCodeNotFound, "Ledger not found", ledgerAddress)
	}
	if _, occupied := m.logs[logAddress]; occupied {
		return "", utils.NewAppError(utils.ErrCodeConflict, "Derived address already occupied", logAddress)
	}

	m.logs[logAddress] = fields
	ledger.Count++
	return m.nextTxRef(), nil
}

// QueryLog implements StoreClient
func (m *MemoryStore) QueryLog(ctx context.Context, logAddress string) (*LogFields, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.QueryCalls++

	if err := m.takeFailure(); err != nil {
		return nil, err
	}

	fields, ok := m.logs[logAddress]
	if !ok {
		return nil, utils.NewAppError(utils.ErrCodeNotFound, "Log not found", logAddress)
	}
	return &fields, nil
}

// Close implements StoreClient
func (m *MemoryStore) Close() error { return nil }

// LedgerCount returns the number of ledgers held by the store
func (m *MemoryStore) LedgerCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.ledgers)
}

// LogCount returns the number of log entries held by the store
func (m *MemoryStore) LogCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.logs)
}

func (m *MemoryStore) takeFailure() error {
	if m.FailNext == nil {
		return nil
	}
	err := m.FailNext
	m.FailNext = nil
	return err
}

func (m *MemoryStore) nextTxRef() string {
	m.txSeq++
	return fmt.Sprintf("memtx-%08d", m.txSeq)
}
