package tunnel

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/1ureka/whispertun/internal/auth"
	"github.com/1ureka/whispertun/internal/crypto"
	"github.com/1ureka/whispertun/internal/transport"
	"github.com/1ureka/whispertun/internal/util"
)

// DefaultMaxHandshakes caps connections that have not authenticated yet.
const DefaultMaxHandshakes = 8

// ErrAtCapacity refuses an authenticated client while MaxSessions sessions
// are forwarding. The client receives no ack.
var ErrAtCapacity = errors.New("tunnel: server at capacity")

// ServerConfig holds validated server settings.
type ServerConfig struct {
	// Address is the "host:port" to bind.
	Address   string
	Transport transport.Options

	Key   []byte
	Suite crypto.Suite

	HandshakeTimeout time.Duration
	TokenMaxAge      time.Duration
	// MaxSessions caps concurrent sessions. Only authenticated clients take
	// a slot; a client beyond the cap is closed without an ack.
	MaxSessions int
	// MaxHandshakes caps connections still in the handshake. Connections
	// beyond it are closed as soon as they are accepted.
	MaxHandshakes int

	OpenDevice DeviceOpener
	Session    Options
}

// Server accepts clients and runs one session per authenticated stream.
type Server struct {
	cfg    ServerConfig
	cipher *crypto.Cipher
	sem    *semaphore.Weighted
	hs     *semaphore.Weighted
	state  stateVar

	ln     transport.Listener
	active atomic.Int32
	wg     sync.WaitGroup
}

// NewServer validates the key before anything touches the network.
func NewServer(cfg ServerConfig) (*Server, error) {
	cipher, err := crypto.NewCipher(cfg.Suite, cfg.Key)
	if err != nil {
		return nil, err
	}
	if cfg.OpenDevice == nil {
		return nil, errors.New("tunnel: server has no device opener")
	}
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = 1
	}
	if cfg.MaxHandshakes <= 0 {
		cfg.MaxHandshakes = DefaultMaxHandshakes
	}
	s := &Server{
		cfg:    cfg,
		cipher: cipher,
		sem:    semaphore.NewWeighted(int64(cfg.MaxSessions)),
		hs:     semaphore.NewWeighted(int64(cfg.MaxHandshakes)),
	}
	s.state.Store(StateIdle)
	return s, nil
}

// State returns the accept loop's lifecycle stage.
func (s *Server) State() State { return s.state.Load() }

// Active returns the number of sessions currently forwarding.
func (s *Server) Active() int { return int(s.active.Load()) }

// Listen binds the listening endpoint. Serve calls it if needed.
func (s *Server) Listen() error {
	if s.ln != nil {
		return nil
	}
	ln, err := transport.Listen(s.cfg.Address, s.cfg.Transport)
	if err != nil {
		return err
	}
	s.ln = ln
	util.LogInfo("listening on %s over %s (max %d session(s))", ln.Addr(), kindOf(s.cfg.Transport), s.cfg.MaxSessions)
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Serve accepts connections until ctx is cancelled or accepting fails, then
// stops the running sessions and waits for them. A failed handshake does not
// affect the listener.
func (s *Server) Serve(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	sessCtx, stopSessions := context.WithCancel(ctx)
	defer s.state.Store(StateStopped)
	defer s.wg.Wait()
	defer stopSessions()
	defer s.ln.Close()

	timeout := s.cfg.Session.readTimeout()
	for ctx.Err() == nil {
		s.state.Store(StateAccepting)
		stream, err := s.ln.Accept(timeout)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			return fmt.Errorf("accept: %w", err)
		}
		if stream == nil {
			continue
		}

		id := util.ConnID(stream)
		if !s.hs.TryAcquire(1) {
			util.LogWarning("[%08x] rejected %s: %d handshake(s) already pending", id, stream.RemoteAddr(), s.cfg.MaxHandshakes)
			stream.Close()
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(sessCtx, id, stream)
		}()
	}
	return nil
}

// handle authenticates stream and runs its session.
func (s *Server) handle(ctx context.Context, id uint32, stream transport.Stream) {
	util.LogInfo("[%08x] accepted %s", id, stream.RemoteAddr())

	admitted := false
	err := auth.Respond(stream, s.cfg.Key, auth.Options{
		Timeout: s.cfg.HandshakeTimeout,
		MaxAge:  s.cfg.TokenMaxAge,
		Admit: func() error {
			if !s.sem.TryAcquire(1) {
				return ErrAtCapacity
			}
			admitted = true
			return nil
		},
	})
	s.hs.Release(1)
	if admitted {
		defer s.sem.Release(1)
	}
	if errors.Is(err, ErrAtCapacity) {
		util.LogWarning("[%08x] rejected %s: %d session(s) already active", id, stream.RemoteAddr(), s.cfg.MaxSessions)
		stream.Close()
		return
	}
	if err != nil {
		util.LogWarning("[%08x] authentication failed: %v", id, err)
		stream.Close()
		return
	}
	util.LogSuccess("[%08x] authenticated %s", id, stream.RemoteAddr())

	dev, err := s.cfg.OpenDevice()
	if err != nil {
		util.LogError("[%08x] device setup failed: %v", id, err)
		stream.Close()
		return
	}

	sess := NewSession(dev, stream, s.cipher, s.cfg.Session)
	s.active.Add(1)
	err = sess.Run(ctx)
	s.active.Add(-1)

	switch {
	case err == nil, errors.Is(err, ErrPeerClosed):
		util.LogInfo("[%08x] session ended", id)
	default:
		util.LogError("[%08x] session ended: %v", id, err)
	}
}
