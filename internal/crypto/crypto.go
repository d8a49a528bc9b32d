// Package crypto derives the SQLCipher database key from the operator's master key.
// The master key never touches disk; the database key is recomputed at every start
// with HKDF-SHA256 so rotating KeyVersion yields an independent key.
package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

const (
	// MasterKeySize is the size of the operator-provided master key in bytes (256 bits)
	MasterKeySize = 32

	// DatabaseKeySize is the size of the derived SQLCipher key in bytes (256 bits)
	DatabaseKeySize = 32

	// DefaultKeyVersion is the key version used when none is configured
	DefaultKeyVersion = 1
)

// ParseMasterKey decodes a 64-character hex master key.
func ParseMasterKey(masterKeyHex string) ([]byte, error) {
	trimmed := strings.TrimSpace(masterKeyHex)
	if len(trimmed) != MasterKeySize*2 {
		return nil, fmt.Errorf("master key must be %d hex characters, got %d", MasterKeySize*2, len(trimmed))
	}
	key, err := hex.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("master key is not valid hex: %w", err)
	}
	return key, nil
}

// DeriveDatabaseKey derives the SQLCipher key for the named database.
// info = "notes-db:" + dbName + ":v" + version
func DeriveDatabaseKey(masterKey []byte, dbName string, version int) []byte {
	info := fmt.Sprintf("notes-db:%s:v%d", dbName, version)

	// Salt is nil: the master key is already uniformly random.
	reader := hkdf.New(sha256.New, masterKey, nil, []byte(info))

	key := make([]byte, DatabaseKeySize)
	if _, err := io.ReadFull(reader, key); err != nil {
		// HKDF-SHA256 can emit up to 255*32 bytes; a 32-byte read cannot fail.
		panic(fmt.Sprintf("HKDF failed: %v", err))
	}
	return key
}
