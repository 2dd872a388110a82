// Package sha256 fingerprints snapshots.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hasher returns lowercase hex SHA-256 digests.
type Hasher struct{}

// New returns a Hasher.
func New() Hasher {
	return Hasher{}
}

// Hash digests data.
func (Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
