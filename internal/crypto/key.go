package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

// GenerateKey returns a fresh random pre-shared key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, &Error{Op: "generate key", Err: err}
	}
	return key, nil
}

// EncodeKey returns the printable (standard base64) form of key.
func EncodeKey(key []byte) string {
	return base64.StdEncoding.EncodeToString(key)
}

// DecodeKey parses the printable form produced by EncodeKey.
func DecodeKey(s string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, &Error{Op: "decode key", Err: fmt.Errorf("invalid base64: %w", err)}
	}
	if len(key) != KeySize {
		return nil, keySizeError("decode key", len(key))
	}
	return key, nil
}

// Fingerprint returns a short, non-reversible identifier for key. It lets
// operators confirm both peers hold the same key without printing it.
func Fingerprint(key []byte) string {
	sum := sha256.Sum256(key)
	return hex.EncodeToString(sum[:4])
}
