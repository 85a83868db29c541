package transport

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/1ureka/whispertun/internal/util"
)

func dialTCP(ctx context.Context, addr string) (Stream, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return conn.(*net.TCPConn), nil
}

type tcpListener struct {
	ln *net.TCPListener
}

func listenTCP(addr string) (*tcpListener, error) {
	laddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", addr, err)
	}
	ln, err := net.ListenTCP("tcp", laddr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	return &tcpListener{ln: ln}, nil
}

func (l *tcpListener) Accept(timeout time.Duration) (Stream, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	if err := l.ln.SetDeadline(deadline); err != nil {
		return nil, err
	}
	conn, err := l.ln.AcceptTCP()
	if err != nil {
		if util.IsTimeout(err) {
			return nil, nil
		}
		return nil, err
	}
	return conn, nil
}

func (l *tcpListener) Addr() net.Addr { return l.ln.Addr() }

func (l *tcpListener) Close() error { return l.ln.Close() }
