package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
)

// HashAlgorithm represents the hashing algorithm to use
type HashAlgorithm string

const (
	SHA256 HashAlgorithm = "sha256"
)

// Hasher computes content digests for copy verification
type Hasher struct {
	algorithm HashAlgorithm
}

// NewHasher creates a new hasher with the specified algorithm
func NewHasher(algorithm HashAlgorithm) *Hasher {
	return &Hasher{algorithm: algorithm}
}

// DefaultHasher returns a hasher with the default algorithm
func DefaultHasher() *Hasher {
	return NewHasher(SHA256)
}

func (h *Hasher) new() hash.Hash {
	switch h.algorithm {
	case SHA256:
		return sha256.New()
	default:
		return sha256.New()
	}
}

// HashReader streams r through the digest
func (h *Hasher) HashReader(r io.Reader) (string, error) {
	d := h.new()
	if _, err := io.Copy(d, r); err != nil {
		return "", fmt.Errorf("failed to hash content: %w", err)
	}
	return hex.EncodeToString(d.Sum(nil)), nil
}
