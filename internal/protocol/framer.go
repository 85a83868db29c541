package protocol

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/1ureka/whispertun/internal/util"
)

// Conn is the part of a stream the framer needs.
type Conn interface {
	io.ReadWriter
	SetReadDeadline(t time.Time) error
}

// Framer reads and writes length-prefixed frames on a Conn.
//
// Send and Recv may run on different goroutines, but each must only be
// called from one goroutine at a time. Recv keeps partially received frames
// across timeouts, so a timed-out Recv never desynchronizes the stream.
type Framer struct {
	conn Conn
	max  int

	// receive progress, owned by the Recv caller
	hdr   [HeaderSize]byte
	hdrN  int
	body  []byte
	bodyN int
}

// NewFramer creates a Framer enforcing maxFrame on both directions.
func NewFramer(conn Conn, maxFrame int) *Framer {
	if maxFrame <= 0 {
		maxFrame = DefaultMaxFrameSize
	}
	return &Framer{conn: conn, max: maxFrame}
}

// Max returns the payload limit.
func (f *Framer) Max() int { return f.max }

// Send writes payload as one frame in a single write, so the peer never sees
// the bytes of two frames interleaved by this layer.
func (f *Framer) Send(payload []byte) error {
	if len(payload) > f.max {
		return &Error{Op: "send", Err: fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, len(payload), f.max)}
	}
	if _, err := f.conn.Write(Encode(payload)); err != nil {
		return &Error{Op: "send", Err: err}
	}
	return nil
}

// Recv waits up to timeout for the next frame. A zero timeout blocks.
//
// It returns (nil, nil) when the timeout expires first, (nil, io.EOF) when
// the peer closed the stream cleanly between frames, and a *Error when the
// frame is oversized, the stream ends mid-frame, or the read fails.
func (f *Framer) Recv(timeout time.Duration) ([]byte, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	if err := f.conn.SetReadDeadline(deadline); err != nil {
		return nil, &Error{Op: "recv", Err: err}
	}

	for f.hdrN < HeaderSize {
		n, err := f.conn.Read(f.hdr[f.hdrN:])
		f.hdrN += n
		if err != nil && f.hdrN < HeaderSize {
			return f.readFailed(err)
		}
	}

	if f.body == nil {
		length, err := DecodeLength(f.hdr[:], f.max)
		if err != nil {
			f.reset()
			return nil, &Error{Op: "recv", Err: errors.Unwrap(err)}
		}
		f.body = make([]byte, length)
		f.bodyN = 0
	}

	for f.bodyN < len(f.body) {
		n, err := f.conn.Read(f.body[f.bodyN:])
		f.bodyN += n
		if err != nil && f.bodyN < len(f.body) {
			return f.readFailed(err)
		}
	}

	payload := f.body
	f.reset()
	return payload, nil
}

func (f *Framer) readFailed(err error) ([]byte, error) {
	if util.IsTimeout(err) {
		return nil, nil
	}
	if errors.Is(err, io.EOF) {
		if f.hdrN == 0 && f.body == nil {
			return nil, io.EOF
		}
		got, want := f.hdrN+f.bodyN, HeaderSize+len(f.body)
		f.reset()
		if want == HeaderSize {
			return nil, &Error{Op: "recv", Err: fmt.Errorf("%w: stream closed inside header (%d of %d bytes)", ErrTruncated, got, HeaderSize)}
		}
		return nil, &Error{Op: "recv", Err: fmt.Errorf("%w: stream closed after %d of %d bytes", ErrTruncated, got, want)}
	}
	return nil, &Error{Op: "recv", Err: err}
}

func (f *Framer) reset() {
	f.hdrN = 0
	f.body = nil
	f.bodyN = 0
}
