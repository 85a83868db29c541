package crypto

import (
	"errors"
	"fmt"
)

var (
	// ErrKeySize is returned when a key is not exactly KeySize bytes.
	ErrKeySize = errors.New("invalid key size")
	// ErrShortCiphertext is returned when a message cannot even hold a nonce.
	ErrShortCiphertext = errors.New("ciphertext too short")
	// ErrOpen is returned for every authentication or decryption failure.
	ErrOpen = errors.New("message authentication failed")
)

// Error is a cryptographic failure: a bad key, a malformed message, or a
// message that failed to authenticate.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("crypto: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func keySizeError(op string, got int) error {
	return &Error{Op: op, Err: fmt.Errorf("%w: must be %d bytes, got %d", ErrKeySize, KeySize, got)}
}
