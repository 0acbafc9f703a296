package registry

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rayguard/sentinel-backbone/internal/chain"
	"github.com/rayguard/sentinel-backbone/pkg/utils"
)

func TestGetOrCreate(t *testing.T) {
	store := chain.NewMemoryStore()
	reg := New(store)
	ctx := context.Background()

	t.Run("creates on first use", func(t *testing.T) {
		ledger, err := reg.GetOrCreate(ctx, "10.0.0.5")
		require.NoError(t, err)
		assert.Equal(t, "10.0.0.5", ledger.Origin)
		assert.NotEmpty(t, ledger.Address)
		assert.Equal(t, 1, store.LedgerCount())
	})

	t.Run("returns cached ledger on repeat", func(t *testing.T) {
		first, err := reg.GetOrCreate(ctx, "10.0.0.5")
		require.NoError(t, err)
		second, err := reg.GetOrCreate(ctx, "10.0.0.5")
		require.NoError(t, err)

		assert.Equal(t, first.Address, second.Address)
		assert.Equal(t, uint64(1), store.CreateCalls, "repeat lookups must not hit the store")
	})

	t.Run("distinct origins get distinct ledgers", func(t *testing.T) {
		a, err := reg.GetOrCreate(ctx, "192.168.1.1")
		require.NoError(t, err)
		b, err := reg.GetOrCreate(ctx, "192.168.1.2")
		require.NoError(t, err)
		assert.NotEqual(t, a.Address, b.Address)
	})

	t.Run("rejects empty origin", func(t *testing.T) {
		_, err := reg.GetOrCreate(ctx, "")
		assert.True(t, utils.IsValidation(err))
	})
}

func TestGetOrCreateConcurrent(t *testing.T) {
	store := chain.NewMemoryStore()
	reg := New(store)
	ctx := context.Background()

	const workers = 32
	addresses := make([]string, workers)
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(i int) {
			defer wg.Done()
			ledger, err := reg.GetOrCreate(ctx, "172.16.0.9")
			if assert.NoError(t, err) {
				addresses[i] = ledger.Address
			}
		}(i)
	}
	wg.Wait()

	for i := 1; i < workers; i++ {
		assert.Equal(t, addresses[0], addresses[i], "all callers must observe one ledger")
	}
	assert.Equal(t, 1, store.LedgerCount())
	assert.Equal(t, uint64(1), store.CreateCalls, "concurrent first requests must collapse to one creation")
}

func TestGetOrCreateFailureNotCached(t *testing.T) {
	store := chain.NewMemoryStore()
	reg := New(store)
	ctx := context.Background()

	store.FailNext = utils.NewAppError(utils.ErrCodeUnavailable, "node down")
	_, err := reg.GetOrCreate(ctx, "10.1.1.1")
	require.True(t, utils.IsUnavailable(err))

	_, ok := reg.Lookup("10.1.1.1")
	assert.False(t, ok, "failed creation must not be cached")

	// the store is back, the same origin succeeds
	ledger, err := reg.GetOrCreate(ctx, "10.1.1.1")
	require.NoError(t, err)
	assert.NotEmpty(t, ledger.Address)
}

func TestRestore(t *testing.T) {
	store := chain.NewMemoryStore()
	reg := New(store)
	ctx := context.Background()

	ledger, err := reg.GetOrCreate(ctx, "10.2.2.2")
	require.NoError(t, err)

	fresh := New(store)
	fresh.Restore(ledger)

	restored, err := fresh.GetOrCreate(ctx, "10.2.2.2")
	require.NoError(t, err)
	assert.Equal(t, ledger.Address, restored.Address)
	assert.Equal(t, uint64(1), store.CreateCalls, "restored ledger must not be recreated")
}
