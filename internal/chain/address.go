package chain

import (
	"crypto/sha256"
	"encoding/binary"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"

	"github.com/rayguard/sentinel-backbone/pkg/utils"
)

// ProgramIDBase58 identifies the on-chain ledger program. Every derived
// address is bound to it; changing it invalidates all existing ledgers.
const ProgramIDBase58 = "J3zRkAgCWjpXnKUr6teTdS2nLTGA3ZhEUi6gBvi5ZhdY"

const derivedAddressMarker = "ProgramDerivedAddress"

var (
	ledgerSeedPrefix = []byte("state")
	logSeedPrefix    = []byte("log")

	programID [32]byte
)

func init() {
	decoded, err := base58.Decode(ProgramIDBase58)
	if err != nil || len(decoded) != 32 {
		panic("chain: invalid program id")
	}
	copy(programID[:], decoded)
}

// DeriveLedgerAddress computes the deterministic address for a ledger with
// the given seed. The seed is encoded as 2-byte little-endian to match the
// program's u16 seed declaration.
func DeriveLedgerAddress(seed uint16) (string, error) {
	var seedBytes [2]byte
	binary.LittleEndian.PutUint16(seedBytes[:], seed)

	addr, err := findProgramAddress([][]byte{ledgerSeedPrefix, seedBytes[:]})
	if err != nil {
		return "", err
	}
	return base58.Encode(addr[:]), nil
}

// DeriveLogAddress computes the deterministic address for the log entry at
// the given sequence slot of a ledger. The sequence is encoded as 8-byte
// little-endian.
func DeriveLogAddress(ledgerAddress string, sequence uint64) (string, error) {
	ledgerBytes, err := base58.Decode(ledgerAddress)
	if err != nil || len(ledgerBytes) != 32 {
		return "", utils.NewAppError(utils.ErrCodeValidation, "Invalid ledger address", ledgerAddress)
	}

	var seqBytes [8]byte
	binary.LittleEndian.PutUint64(seqBytes[:], sequence)

	addr, err := findProgramAddress([][]byte{logSeedPrefix, ledgerBytes, seqBytes[:]})
	if err != nil {
		return "", err
	}
	return base58.Encode(addr[:]), nil
}

// findProgramAddress searches bump values 255 down to 0 for the first
// derived hash that is not a valid curve point. Matches the derivation the
// external program and its clients use, so addresses agree bit-for-bit.
func findProgramAddress(seeds [][]byte) ([32]byte, error) {
	for bump := 255; bump >= 0; bump-- {
		h := sha256.New()
		for _, seed := range seeds {
			h.Write(seed)
		}
		h.Write([]byte{byte(bump)})
		h.Write(programID[:])
		h.Write([]byte(derivedAddressMarker))

		var addr [32]byte
		copy(addr[:], h.Sum(nil))

		if !isOnCurve(addr[:]) {
			return addr, nil
		}
	}

	var zero [32]byte
	return zero, utils.NewAppError(utils.ErrCodeInternal, "No derivable address for seeds", "")
}

func isOnCurve(b []byte) bool {
	_, err := new(edwards25519.Point).SetBytes(b)
	return err == nil
}
