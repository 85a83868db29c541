package device

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned by operations on a closed channel.
	ErrClosed = errors.New("device closed")
	// ErrUnsupported is returned when the platform cannot provide a TUN device
	// or the requested host network backend.
	ErrUnsupported = errors.New("not supported on this platform")
)

// Error is a device open, configure or I/O failure.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("device: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
