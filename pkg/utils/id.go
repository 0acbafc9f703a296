package utils

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
)

// GenerateID generates a random hex ID
func GenerateID() (string, error) {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}

// RandomLedgerSeed draws a random non-zero ledger seed. The external store
// identifies a ledger by a u16 seed, so the space is [1, 65535].
func RandomLedgerSeed() (uint16, error) {
	var buf [2]byte
	for {
		if _, err := rand.Read(buf[:]); err != nil {
			return 0, err
		}
		seed := binary.LittleEndian.Uint16(buf[:])
		if seed != 0 {
			return seed, nil
		}
	}
}
