package auth

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/1ureka/whispertun/internal/util"
)

// DefaultTimeout bounds how long either side waits for the peer's token.
const DefaultTimeout = 10 * time.Second

// Conn is the part of a stream the handshake needs.
type Conn interface {
	io.ReadWriter
	SetReadDeadline(t time.Time) error
}

// Options tunes a handshake. The zero value uses the defaults.
type Options struct {
	Timeout time.Duration
	MaxAge  time.Duration
	// Now overrides the clock, for tests.
	Now func() time.Time
	// Admit, if set, runs on the responder after the peer's token verifies
	// and before the ack is sent. An error aborts with nothing sent.
	Admit func() error
}

func (o Options) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

func (o Options) timeout() time.Duration {
	if o.Timeout > 0 {
		return o.Timeout
	}
	return DefaultTimeout
}

// Initiate runs the client side: send a token, then wait for and verify the
// server's acknowledgment. On error the caller must close conn.
func Initiate(conn Conn, key []byte, opts Options) error {
	token, err := NewToken(key, opts.now())
	if err != nil {
		return &Error{Op: "initiate", Err: err}
	}
	if _, err := conn.Write(token); err != nil {
		return &Error{Op: "initiate", Err: fmt.Errorf("send token: %w", err)}
	}

	ack, err := readToken(conn, opts.timeout())
	if err != nil {
		return &Error{Op: "initiate", Err: fmt.Errorf("read ack: %w", err)}
	}
	if err := VerifyToken(ack, key, opts.now(), opts.MaxAge); err != nil {
		return &Error{Op: "initiate", Err: fmt.Errorf("verify ack: %w", err)}
	}
	return nil
}

// Respond runs the server side: read and verify the client's token, and only
// then send an acknowledgment. A client that fails verification never
// receives anything.
func Respond(conn Conn, key []byte, opts Options) error {
	token, err := readToken(conn, opts.timeout())
	if err != nil {
		return &Error{Op: "respond", Err: fmt.Errorf("read token: %w", err)}
	}
	if err := VerifyToken(token, key, opts.now(), opts.MaxAge); err != nil {
		return &Error{Op: "respond", Err: fmt.Errorf("verify token: %w", err)}
	}
	if opts.Admit != nil {
		if err := opts.Admit(); err != nil {
			return &Error{Op: "respond", Err: fmt.Errorf("admit: %w", err)}
		}
	}

	ack, err := NewToken(key, opts.now())
	if err != nil {
		return &Error{Op: "respond", Err: err}
	}
	if _, err := conn.Write(ack); err != nil {
		return &Error{Op: "respond", Err: fmt.Errorf("send ack: %w", err)}
	}
	return nil
}

// readToken reads exactly one token and clears the deadline afterwards.
func readToken(conn Conn, timeout time.Duration) ([]byte, error) {
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, err
	}
	defer conn.SetReadDeadline(time.Time{})

	buf := make([]byte, TokenSize)
	n, err := io.ReadFull(conn, buf)
	switch {
	case err == nil:
		return buf, nil
	case n == 0 && (errors.Is(err, io.EOF) || util.IsTimeout(err)):
		return nil, ErrNoToken
	case errors.Is(err, io.ErrUnexpectedEOF):
		return nil, fmt.Errorf("%w: %d bytes, want %d", ErrMalformed, n, TokenSize)
	default:
		return nil, err
	}
}
