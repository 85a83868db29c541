package protocol

import (
	"errors"
	"fmt"
)

var (
	// ErrFrameTooLarge is returned when a frame exceeds the configured maximum.
	ErrFrameTooLarge = errors.New("frame too large")
	// ErrTruncated is returned when the stream ends in the middle of a frame.
	ErrTruncated = errors.New("incomplete frame")
)

// Error is a framing or stream failure. It is always fatal to the flow that
// observes it.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("protocol: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
