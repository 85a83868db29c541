package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsInboxSize     = 16
	wsBacklog       = 4
	wsCloseDeadline = time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsStream adapts a WebSocket connection to a byte stream. Each Write is sent
// as one binary message; reads consume messages back to back.
//
// A gorilla connection is unusable after a read deadline expires, so a
// dedicated goroutine owns ReadMessage and deadlines are applied while
// waiting on its channel instead.
type wsStream struct {
	conn *websocket.Conn

	inbox   chan []byte
	readErr error // valid once inbox is closed
	pending []byte

	mu       sync.Mutex
	deadline time.Time

	writeMu sync.Mutex

	closed    chan struct{}
	closeOnce sync.Once
}

func newWSStream(conn *websocket.Conn) *wsStream {
	s := &wsStream{
		conn:   conn,
		inbox:  make(chan []byte, wsInboxSize),
		closed: make(chan struct{}),
	}
	go s.readLoop()
	return s
}

func (s *wsStream) readLoop() {
	defer close(s.inbox)
	for {
		mt, data, err := s.conn.ReadMessage()
		if err != nil {
			s.readErr = wsReadError(err)
			return
		}
		if mt != websocket.BinaryMessage || len(data) == 0 {
			continue
		}
		select {
		case s.inbox <- data:
		case <-s.closed:
			s.readErr = net.ErrClosed
			return
		}
	}
}

func wsReadError(err error) error {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return io.EOF
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return io.EOF
	}
	return err
}

func (s *wsStream) Read(p []byte) (int, error) {
	if len(s.pending) == 0 {
		data, err := s.next()
		if err != nil {
			return 0, err
		}
		s.pending = data
	}
	n := copy(p, s.pending)
	s.pending = s.pending[n:]
	return n, nil
}

func (s *wsStream) next() ([]byte, error) {
	s.mu.Lock()
	deadline := s.deadline
	s.mu.Unlock()

	var expired <-chan time.Time
	if !deadline.IsZero() {
		wait := time.Until(deadline)
		if wait <= 0 {
			select {
			case data, ok := <-s.inbox:
				return s.received(data, ok)
			default:
				return nil, os.ErrDeadlineExceeded
			}
		}
		timer := time.NewTimer(wait)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case data, ok := <-s.inbox:
		return s.received(data, ok)
	case <-expired:
		return nil, os.ErrDeadlineExceeded
	}
}

func (s *wsStream) received(data []byte, ok bool) ([]byte, error) {
	if !ok {
		return nil, s.readErr
	}
	return data, nil
}

func (s *wsStream) Write(p []byte) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (s *wsStream) SetReadDeadline(t time.Time) error {
	s.mu.Lock()
	s.deadline = t
	s.mu.Unlock()
	return nil
}

func (s *wsStream) LocalAddr() net.Addr  { return s.conn.LocalAddr() }
func (s *wsStream) RemoteAddr() net.Addr { return s.conn.RemoteAddr() }

// Close sends a close frame and tears the connection down once.
func (s *wsStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsCloseDeadline))
		err = s.conn.Close()
	})
	return err
}

func dialWS(ctx context.Context, addr, path string) (Stream, error) {
	url := fmt.Sprintf("ws://%s%s", addr, path)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return newWSStream(conn), nil
}

// wsListener serves WebSocket upgrades on path and hands them to Accept.
type wsListener struct {
	ln     net.Listener
	srv    *http.Server
	connCh chan *websocket.Conn
	done   chan struct{}
	once   sync.Once
}

func listenWS(addr, path string) (*wsListener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}

	l := &wsListener{
		ln:     ln,
		connCh: make(chan *websocket.Conn, wsBacklog),
		done:   make(chan struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc(path, l.handleWS)
	l.srv = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		_ = l.srv.Serve(ln)
	}()

	return l, nil
}

func (l *wsListener) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	select {
	case l.connCh <- conn:
	default:
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "backlog full"))
		conn.Close()
	}
}

func (l *wsListener) Accept(timeout time.Duration) (Stream, error) {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case conn := <-l.connCh:
		return newWSStream(conn), nil
	case <-expired:
		return nil, nil
	case <-l.done:
		return nil, net.ErrClosed
	}
}

func (l *wsListener) Addr() net.Addr { return l.ln.Addr() }

func (l *wsListener) Close() error {
	var err error
	l.once.Do(func() {
		close(l.done)
		err = l.srv.Close()
		for {
			select {
			case conn := <-l.connCh:
				conn.Close()
			default:
				return
			}
		}
	})
	return err
}
