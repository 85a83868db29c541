package auth

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformed is returned for a token that is not exactly TokenSize bytes.
	ErrMalformed = errors.New("malformed token")
	// ErrBadMAC is returned when the token was not made with the shared key.
	ErrBadMAC = errors.New("token mac mismatch")
	// ErrExpired is returned when the token timestamp is outside the age window.
	ErrExpired = errors.New("token outside age window")
	// ErrNoToken is returned when the peer sent nothing before the deadline.
	ErrNoToken = errors.New("no token received")
)

// Error is a handshake failure. The stream must not be used for forwarding
// after one is returned.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("auth: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
