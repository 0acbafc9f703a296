package verifier

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rayguard/sentinel-backbone/internal/chain"
	"github.com/rayguard/sentinel-backbone/pkg/utils"
)

type proofRecorder struct {
	mu     sync.Mutex
	proofs map[uint64]string
}

func (p *proofRecorder) UpdateEventProof(ctx context.Context, ledgerAddress string, sequence uint64, proof string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.proofs == nil {
		p.proofs = make(map[uint64]string)
	}
	p.proofs[sequence] = proof
	return nil
}

func seedLedger(t *testing.T, store *chain.MemoryStore, entries []chain.LogFields) string {
	t.Helper()
	ctx := context.Background()

	ledger, _, err := store.CreateLedger(ctx, 21)
	require.NoError(t, err)
	for seq, fields := range entries {
		addr, err := chain.DeriveLogAddress(ledger, uint64(seq))
		require.NoError(t, err)
		_, err = store.AppendLog(ctx, ledger, addr, fields)
		require.NoError(t, err)
	}
	return ledger
}

func TestVerifyMatch(t *testing.T) {
	store := chain.NewMemoryStore()
	proofs := &proofRecorder{}
	ledger := seedLedger(t, store, []chain.LogFields{
		{IPAddress: "10.0.0.5", ThreatType: "DOS", ActionTaken: "BLOCKED"},
		{IPAddress: "10.0.0.5", ThreatType: "PROBE", ActionTaken: "ALERTED"},
	})
	v := New(&Config{}, store, proofs, nil)

	result, err := v.Verify(context.Background(), ledger, "10.0.0.5", "PROBE", "ALERTED")
	require.NoError(t, err)
	assert.True(t, result.Verified)
	require.NotEmpty(t, result.Proof)

	// proof is the derived slot address
	expected, err := chain.DeriveLogAddress(ledger, 1)
	require.NoError(t, err)
	assert.Equal(t, expected, result.Proof)
	assert.Equal(t, expected, proofs.proofs[1])
}

func TestVerifyScanWindowKeepsNewestSlots(t *testing.T) {
	store := chain.NewMemoryStore()
	ledger := seedLedger(t, store, []chain.LogFields{
		{IPAddress: "10.0.0.1", ThreatType: "DOS", ActionTaken: "BLOCKED"},
		{IPAddress: "10.0.0.2", ThreatType: "R2L", ActionTaken: "LOGGED"},
		{IPAddress: "10.0.0.3", ThreatType: "PROBE", ActionTaken: "ALERTED"},
	})
	v := New(&Config{MaxScan: 2}, store, nil, nil)

	// the newest event sits inside the bounded window
	result, err := v.Verify(context.Background(), ledger, "10.0.0.3", "PROBE", "ALERTED")
	require.NoError(t, err)
	assert.True(t, result.Verified)

	// the oldest event fell out of the window
	result, err = v.Verify(context.Background(), ledger, "10.0.0.1", "DOS", "BLOCKED")
	require.NoError(t, err)
	assert.False(t, result.Verified)
}

func TestVerifyMismatch(t *testing.T) {
	store := chain.NewMemoryStore()
	ledger := seedLedger(t, store, []chain.LogFields{
		{IPAddress: "10.0.0.5", ThreatType: "DOS", ActionTaken: "BLOCKED"},
	})
	v := New(&Config{}, store, nil, nil)
	ctx := context.Background()

	// stored action differs from the claim
	result, err := v.Verify(ctx, ledger, "10.0.0.5", "DOS", "ALLOWED")
	require.NoError(t, err)
	assert.False(t, result.Verified)
	assert.Empty(t, result.Proof)
	assert.NotEmpty(t, result.Message)

	// unknown origin on a known ledger
	result, err = v.Verify(ctx, ledger, "10.9.9.9", "DOS", "BLOCKED")
	require.NoError(t, err)
	assert.False(t, result.Verified)
}

func TestVerifyUnknownLedger(t *testing.T) {
	store := chain.NewMemoryStore()
	v := New(&Config{}, store, nil, nil)

	result, err := v.Verify(context.Background(), "4uQeVj5tqViQh7yWWGStvkEG1Zmhx6uasJtWCJziofM", "10.0.0.5", "DOS", "BLOCKED")
	require.NoError(t, err)
	assert.False(t, result.Verified)
	assert.Equal(t, "ledger address unknown", result.Message)
}

func TestVerifyCachesProof(t *testing.T) {
	store := chain.NewMemoryStore()
	ledger := seedLedger(t, store, []chain.LogFields{
		{IPAddress: "10.0.0.5", ThreatType: "DOS", ActionTaken: "BLOCKED"},
	})
	v := New(&Config{}, store, nil, nil)
	ctx := context.Background()

	first, err := v.Verify(ctx, ledger, "10.0.0.5", "DOS", "BLOCKED")
	require.NoError(t, err)
	require.True(t, first.Verified)

	queriesAfterFirst := store.QueryCalls

	second, err := v.Verify(ctx, ledger, "10.0.0.5", "DOS", "BLOCKED")
	require.NoError(t, err)
	assert.True(t, second.Verified)
	assert.Equal(t, first.Proof, second.Proof)
	assert.Equal(t, "already verified", second.Message)
	assert.Equal(t, queriesAfterFirst, store.QueryCalls, "repeat verification must not hit the store")

	proof, ok := v.CachedProof(ledger, "10.0.0.5", "DOS", "BLOCKED")
	assert.True(t, ok)
	assert.Equal(t, first.Proof, proof)
}

func TestVerifyValidation(t *testing.T) {
	v := New(&Config{}, chain.NewMemoryStore(), nil, nil)
	ctx := context.Background()

	_, err := v.Verify(ctx, "", "10.0.0.5", "DOS", "BLOCKED")
	assert.True(t, utils.IsValidation(err))

	_, err = v.Verify(ctx, "ledger", "10.0.0.5", "RANSOM", "BLOCKED")
	assert.True(t, utils.IsValidation(err))
}

func TestVerifyStoreUnavailable(t *testing.T) {
	store := chain.NewMemoryStore()
	ledger := seedLedger(t, store, []chain.LogFields{
		{IPAddress: "10.0.0.5", ThreatType: "DOS", ActionTaken: "BLOCKED"},
	})
	v := New(&Config{}, store, nil, nil)

	store.FailNext = utils.NewAppError(utils.ErrCodeUnavailable, "node down")
	_, err := v.Verify(context.Background(), ledger, "10.0.0.5", "DOS", "BLOCKED")
	assert.True(t, utils.IsUnavailable(err))
}
