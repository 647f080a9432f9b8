package metainfo

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
)

const HashSize = sha1.Size

// Hash is a 160-bit SHA-1 digest, used both for info hashes and piece hashes.
type Hash [HashSize]byte

// Digest hashes b with SHA-1.
func Digest(b []byte) Hash {
	return sha1.Sum(b)
}

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

func (h Hash) IsZero() bool {
	return h == Hash{}
}

// ParseHash decodes a 40-character hexadecimal digest.
func ParseHash(s string) (Hash, error) {
	var h Hash
	if len(s) != 2*HashSize {
		return h, fmt.Errorf("invalid hash length %d, want %d hex characters", len(s), 2*HashSize)
	}
	if _, err := hex.Decode(h[:], []byte(s)); err != nil {
		return h, fmt.Errorf("invalid hex-encoded hash: %w", err)
	}
	return h, nil
}
