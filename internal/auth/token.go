// Package auth implements the one round-trip pre-shared key handshake run at
// the start of every tunnel stream.
//
// Both sides prove knowledge of the key by sending an HMAC-SHA256 over the
// current unix time. The key itself is reused as the session cipher key, so
// the handshake provides no forward secrecy and no key rotation.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/1ureka/whispertun/internal/crypto"
)

const (
	// TimestampSize is the size of the big-endian unix seconds prefix.
	TimestampSize = 8
	// MACSize is the HMAC-SHA256 output size.
	MACSize = sha256.Size
	// TokenSize is the full token size: Timestamp(8) | MAC(32).
	TokenSize = TimestampSize + MACSize

	// DefaultMaxAge bounds the clock skew accepted between peers.
	DefaultMaxAge = 300 * time.Second
)

// NewToken builds a token for now. A fresh token is made per handshake.
func NewToken(key []byte, now time.Time) ([]byte, error) {
	if len(key) != crypto.KeySize {
		return nil, fmt.Errorf("%w: key is %d bytes, want %d", crypto.ErrKeySize, len(key), crypto.KeySize)
	}

	token := make([]byte, TokenSize)
	binary.BigEndian.PutUint64(token[:TimestampSize], uint64(now.Unix()))

	mac := hmac.New(sha256.New, key)
	mac.Write(token[:TimestampSize])
	copy(token[TimestampSize:], mac.Sum(nil))
	return token, nil
}

// VerifyToken checks token against key at now. The length is checked before
// any MAC work; the MAC is compared in constant time; a token whose timestamp
// differs from now by more than maxAge is rejected even with a valid MAC.
func VerifyToken(token, key []byte, now time.Time, maxAge time.Duration) error {
	if len(token) != TokenSize {
		return fmt.Errorf("%w: %d bytes, want %d", ErrMalformed, len(token), TokenSize)
	}
	if len(key) != crypto.KeySize {
		return fmt.Errorf("%w: key is %d bytes, want %d", crypto.ErrKeySize, len(key), crypto.KeySize)
	}

	mac := hmac.New(sha256.New, key)
	mac.Write(token[:TimestampSize])
	if !hmac.Equal(token[TimestampSize:], mac.Sum(nil)) {
		return ErrBadMAC
	}

	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	ts := int64(binary.BigEndian.Uint64(token[:TimestampSize]))
	skew := now.Unix() - ts
	if skew < 0 {
		skew = -skew
	}
	if skew > int64(maxAge/time.Second) {
		return fmt.Errorf("%w: skew %ds exceeds %s", ErrExpired, skew, maxAge)
	}
	return nil
}
