// Package sha256 turns cache keys into fixed-length object names.
package sha256

import (
	"crypto/sha256"
	"fmt"
)

// Hasher renders the SHA-256 of its input as lowercase hex.
type Hasher struct{}

// New returns a Hasher.
func New() Hasher { return Hasher{} }

// Hash never fails; the error return satisfies summary.Hasher.
func (Hasher) Hash(data []byte) (string, error) {
	return fmt.Sprintf("%x", sha256.Sum256(data)), nil
}
