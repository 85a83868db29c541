// Package device moves whole IP packets in and out of a TUN interface.
package device

import (
	"errors"
	"io/fs"
	"os"
	"sync"
	"syscall"
	"time"
)

// ReadBufferSize bounds a single packet read.
const ReadBufferSize = 4096

// Channel is a packet-oriented handle on a virtual network device.
//
// ReadPacket is only called by one goroutine at a time, and so is
// WritePacket; the two may run concurrently with each other.
type Channel interface {
	// Name is the interface name chosen by the OS.
	Name() string
	// ReadPacket waits up to timeout for one packet. It returns (nil, nil)
	// when the timeout expires first.
	ReadPacket(timeout time.Duration) ([]byte, error)
	// WritePacket writes pkt in one call and reports whether all of it was
	// accepted. A short write is not retried.
	WritePacket(pkt []byte) (bool, error)
	// Close releases the device. It is safe to call more than once.
	Close() error
}

// FileChannel is a Channel over pollable files. A TUN device uses the same
// file for both directions.
type FileChannel struct {
	name string
	mtu  int
	r, w *os.File

	closeOnce sync.Once
	closeErr  error
}

var _ Channel = (*FileChannel)(nil)

// NewFileChannel wraps r and w. Both must support deadlines, which holds for
// files opened non-blocking such as a TUN fd or os.Pipe ends.
func NewFileChannel(name string, mtu int, r, w *os.File) *FileChannel {
	return &FileChannel{name: name, mtu: mtu, r: r, w: w}
}

func (c *FileChannel) Name() string { return c.name }

// MTU is the MTU the channel was opened for.
func (c *FileChannel) MTU() int { return c.mtu }

func (c *FileChannel) ReadPacket(timeout time.Duration) ([]byte, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	if err := c.r.SetReadDeadline(deadline); err != nil {
		return nil, c.ioError("read", err)
	}

	buf := make([]byte, ReadBufferSize)
	n, err := c.r.Read(buf)
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, syscall.EAGAIN) {
			return nil, nil
		}
		return nil, c.ioError("read", err)
	}
	return buf[:n], nil
}

func (c *FileChannel) WritePacket(pkt []byte) (bool, error) {
	n, err := c.w.Write(pkt)
	if err != nil {
		return false, c.ioError("write", err)
	}
	return n == len(pkt), nil
}

// Close closes both files once. A nil channel is a no-op so callers can
// defer Close before Open has succeeded.
func (c *FileChannel) Close() error {
	if c == nil {
		return nil
	}
	c.closeOnce.Do(func() {
		errs := []error{c.r.Close()}
		if c.w != c.r {
			errs = append(errs, c.w.Close())
		}
		if err := errors.Join(errs...); err != nil {
			c.closeErr = &Error{Op: "close", Err: err}
		}
	})
	return c.closeErr
}

func (c *FileChannel) ioError(op string, err error) error {
	if errors.Is(err, fs.ErrClosed) {
		err = ErrClosed
	}
	return &Error{Op: op, Err: err}
}
