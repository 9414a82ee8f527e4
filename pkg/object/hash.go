package object

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// ZeroHash is the all-zero OID. It stands for "no commit", e.g. the old
// value of a ref that did not exist yet or the tip of an unborn branch.
const ZeroHash Hash = "0000000000000000000000000000000000000000000000000000000000000000"

// IsZero reports whether h is empty or the all-zero sentinel.
func (h Hash) IsZero() bool {
	s := strings.TrimSpace(string(h))
	return s == "" || Hash(s) == ZeroHash
}

// Short returns the first eight hex characters of h.
func (h Hash) Short() string {
	if len(h) <= 8 {
		return string(h)
	}
	return string(h[:8])
}

// HashBytes computes the raw SHA-256 hash of data and returns it as a
// lowercase hex-encoded Hash.
func HashBytes(data []byte) Hash {
	sum := sha256.Sum256(data)
	return Hash(hex.EncodeToString(sum[:]))
}

// HashObject computes the SHA-256 of the envelope "type len\0content".
func HashObject(objType ObjectType, data []byte) Hash {
	header := fmt.Sprintf("%s %d\x00", objType, len(data))
	h := sha256.New()
	h.Write([]byte(header))
	h.Write(data)
	return Hash(hex.EncodeToString(h.Sum(nil)))
}

// ValidateHash checks that h is a 64-character lowercase hex string.
func ValidateHash(h Hash) error {
	s := strings.TrimSpace(string(h))
	if s == "" {
		return fmt.Errorf("hash is empty")
	}
	if len(s) != 64 {
		return fmt.Errorf("hash length %d, expected 64", len(s))
	}
	if strings.ToLower(s) != s {
		return fmt.Errorf("hash %q is not lowercase", s)
	}
	if _, err := hex.DecodeString(s); err != nil {
		return fmt.Errorf("hash contains non-hex characters: %w", err)
	}
	return nil
}
