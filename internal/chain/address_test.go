package chain

import (
	"testing"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveLedgerAddress(t *testing.T) {
	t.Run("deterministic", func(t *testing.T) {
		a, err := DeriveLedgerAddress(42)
		require.NoError(t, err)
		b, err := DeriveLedgerAddress(42)
		require.NoError(t, err)
		assert.Equal(t, a, b)
	})

	t.Run("distinct seeds give distinct addresses", func(t *testing.T) {
		seen := make(map[string]bool)
		for _, seed := range []uint16{1, 2, 7, 255, 256, 65535} {
			addr, err := DeriveLedgerAddress(seed)
			require.NoError(t, err)
			assert.False(t, seen[addr], "duplicate address for seed %d", seed)
			seen[addr] = true
		}
	})

	t.Run("address is 32 bytes base58", func(t *testing.T) {
		addr, err := DeriveLedgerAddress(1)
		require.NoError(t, err)
		decoded, err := base58.Decode(addr)
		require.NoError(t, err)
		assert.Len(t, decoded, 32)
	})

	t.Run("address is off curve", func(t *testing.T) {
		addr, err := DeriveLedgerAddress(9)
		require.NoError(t, err)
		decoded, err := base58.Decode(addr)
		require.NoError(t, err)
		assert.False(t, isOnCurve(decoded))
	})
}

func TestDeriveLogAddress(t *testing.T) {
	ledger, err := DeriveLedgerAddress(100)
	require.NoError(t, err)

	t.Run("deterministic per slot", func(t *testing.T) {
		a, err := DeriveLogAddress(ledger, 0)
		require.NoError(t, err)
		b, err := DeriveLogAddress(ledger, 0)
		require.NoError(t, err)
		assert.Equal(t, a, b)
	})

	t.Run("slots give distinct addresses", func(t *testing.T) {
		seen := make(map[string]bool)
		for seq := uint64(0); seq < 16; seq++ {
			addr, err := DeriveLogAddress(ledger, seq)
			require.NoError(t, err)
			assert.False(t, seen[addr], "duplicate address for slot %d", seq)
			seen[addr] = true
		}
	})

	t.Run("distinct ledgers give distinct slot addresses", func(t *testing.T) {
		other, err := DeriveLedgerAddress(101)
		require.NoError(t, err)

		a, err := DeriveLogAddress(ledger, 3)
		require.NoError(t, err)
		b, err := DeriveLogAddress(other, 3)
		require.NoError(t, err)
		assert.NotEqual(t, a, b)
	})

	t.Run("rejects malformed ledger address", func(t *testing.T) {
		_, err := DeriveLogAddress("not-base58-0OIl", 0)
		assert.Error(t, err)

		_, err = DeriveLogAddress(base58.Encode([]byte("short")), 0)
		assert.Error(t, err)
	})
}
