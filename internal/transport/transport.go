// Package transport provides the ordered byte streams a tunnel runs over.
//
// Two kinds are supported. "tcp" is a plain TCP connection. "ws" carries the
// identical byte stream inside binary WebSocket messages, which lets the
// tunnel cross HTTP-only middleboxes and reverse proxies.
package transport

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"
)

// Transport kinds.
const (
	KindTCP       = "tcp"
	KindWebSocket = "ws"
)

// DefaultPath is the HTTP path the WebSocket transport upgrades on.
const DefaultPath = "/tunnel"

// Stream is a reliable, ordered, full-duplex byte stream.
type Stream interface {
	io.ReadWriteCloser
	SetReadDeadline(t time.Time) error
	LocalAddr() net.Addr
	RemoteAddr() net.Addr
}

// Listener accepts Streams.
type Listener interface {
	// Accept waits up to timeout for the next stream and returns (nil, nil)
	// when none arrived. A zero timeout blocks.
	Accept(timeout time.Duration) (Stream, error)
	Addr() net.Addr
	Close() error
}

// Options selects the transport kind and its parameters.
type Options struct {
	Kind string
	// Path is the WebSocket upgrade path. Ignored for tcp.
	Path string
	// DialTimeout bounds connection setup. Zero means no limit beyond ctx.
	DialTimeout time.Duration
}

func (o Options) kind() string {
	if o.Kind == "" {
		return KindTCP
	}
	return o.Kind
}

func (o Options) path() string {
	if o.Path == "" {
		return DefaultPath
	}
	return o.Path
}

// Dial connects to addr ("host:port").
func Dial(ctx context.Context, addr string, opts Options) (Stream, error) {
	if opts.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.DialTimeout)
		defer cancel()
	}

	switch opts.kind() {
	case KindTCP:
		return dialTCP(ctx, addr)
	case KindWebSocket:
		return dialWS(ctx, addr, opts.path())
	default:
		return nil, fmt.Errorf("unknown transport %q", opts.Kind)
	}
}

// Listen binds addr ("host:port").
func Listen(addr string, opts Options) (Listener, error) {
	switch opts.kind() {
	case KindTCP:
		ln, err := listenTCP(addr)
		if err != nil {
			return nil, err
		}
		return ln, nil
	case KindWebSocket:
		ln, err := listenWS(addr, opts.path())
		if err != nil {
			return nil, err
		}
		return ln, nil
	default:
		return nil, fmt.Errorf("unknown transport %q", opts.Kind)
	}
}
