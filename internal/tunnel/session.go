package tunnel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/1ureka/whispertun/internal/crypto"
	"github.com/1ureka/whispertun/internal/device"
	"github.com/1ureka/whispertun/internal/protocol"
	"github.com/1ureka/whispertun/internal/transport"
	"github.com/1ureka/whispertun/internal/util"
)

// Defaults for Options.
const (
	DefaultReadTimeout = time.Second
	DefaultJoinTimeout = 5 * time.Second
)

var (
	// ErrPeerClosed is returned by Run when the peer closed the stream
	// between frames.
	ErrPeerClosed = errors.New("tunnel: peer closed the stream")
	// ErrJoinTimeout is logged when a flow did not stop within JoinTimeout.
	ErrJoinTimeout = errors.New("tunnel: forwarding flows did not stop in time")
)

// Options tunes a Session. The zero value uses the defaults.
type Options struct {
	// ReadTimeout bounds every device read and stream receive, and so bounds
	// how long a flow takes to notice a stop.
	ReadTimeout time.Duration
	// JoinTimeout bounds how long Run waits for both flows after a stop.
	JoinTimeout time.Duration
	// MaxFrameSize is the largest frame payload in either direction.
	MaxFrameSize int
	// StatsInterval is the period of the traffic report. Negative disables
	// it; zero uses util.DefaultStatsInterval.
	StatsInterval time.Duration
	// Allow drops inbound packets whose source is outside the prefix. The
	// zero prefix disables filtering.
	Allow netip.Prefix
	// Parent also receives every counter update, e.g. util.Totals.
	Parent *util.SessionStats
}

func (o Options) readTimeout() time.Duration {
	if o.ReadTimeout > 0 {
		return o.ReadTimeout
	}
	return DefaultReadTimeout
}

func (o Options) joinTimeout() time.Duration {
	if o.JoinTimeout > 0 {
		return o.JoinTimeout
	}
	return DefaultJoinTimeout
}

// Session forwards packets between one device and one authenticated stream.
//
// The device→stream flow is the only reader of the device and the only
// writer of the stream; the stream→device flow is the only reader of the
// stream and the only writer of the device. The running flag and the
// counters are the only state both flows touch.
type Session struct {
	ID uuid.UUID

	label  string
	dev    device.Channel
	stream transport.Stream
	framer *protocol.Framer
	cipher *crypto.Cipher
	stats  *util.SessionStats
	opts   Options

	running atomic.Bool
	state   stateVar

	stopCh   chan struct{}
	stopOnce sync.Once

	releaseOnce sync.Once
}

// NewSession takes ownership of dev and stream. Both are closed exactly once
// when Run returns, or by Close if Run is never called.
func NewSession(dev device.Channel, stream transport.Stream, cipher *crypto.Cipher, opts Options) *Session {
	if opts.MaxFrameSize <= 0 {
		opts.MaxFrameSize = protocol.DefaultMaxFrameSize
	}
	s := &Session{
		ID:     uuid.New(),
		label:  fmt.Sprintf("[%08x]", util.ConnID(stream)),
		dev:    dev,
		stream: stream,
		framer: protocol.NewFramer(stream, opts.MaxFrameSize),
		cipher: cipher,
		stats:  util.NewSessionStats(opts.Parent),
		opts:   opts,
		stopCh: make(chan struct{}),
	}
	s.state.Store(StateIdle)
	return s
}

// State returns the current lifecycle stage.
func (s *Session) State() State { return s.state.Load() }

// Stats returns a snapshot of the session counters.
func (s *Session) Stats() util.Snapshot { return s.stats.Snapshot() }

// Stop asks both flows to exit. They notice within one ReadTimeout. Stop
// does not wait; Run returns once the flows are joined and handles released.
func (s *Session) Stop() {
	s.running.Store(false)
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// Close stops the session and releases its handles without waiting for the
// flows. It is for sessions whose Run was never called.
func (s *Session) Close() error {
	s.Stop()
	return s.release()
}

// Run forwards packets until ctx is cancelled, Stop is called or a flow
// fails. It returns the first fatal flow error, ErrPeerClosed, or nil.
func (s *Session) Run(ctx context.Context) error {
	s.running.Store(true)
	s.state.Store(StateForwarding)
	util.LogSuccess("%s session %s forwarding on %s (max frame %d)", s.label, s.ID, s.dev.Name(), s.framer.Max())

	reportCtx, cancelReport := context.WithCancel(ctx)
	if s.opts.StatsInterval >= 0 {
		util.StartStatsReporter(reportCtx, s.label, s.stats, s.opts.StatsInterval)
	}

	var g errgroup.Group
	g.Go(func() error {
		defer s.Stop()
		return s.deviceToStream()
	})
	g.Go(func() error {
		defer s.Stop()
		return s.streamToDevice()
	})

	flowsDone := make(chan error, 1)
	go func() { flowsDone <- g.Wait() }()

	select {
	case <-ctx.Done():
		s.Stop()
	case <-s.stopCh:
	}
	s.state.Store(StateStopping)
	cancelReport()

	var err error
	select {
	case err = <-flowsDone:
	case <-time.After(s.opts.joinTimeout()):
		util.LogWarning("%s %v after %s, releasing handles anyway", s.label, ErrJoinTimeout, s.opts.joinTimeout())
	}

	if rerr := s.release(); rerr != nil {
		util.LogDebug("%s release: %v", s.label, rerr)
	}
	s.state.Store(StateStopped)

	util.LogInfo("%s session %s closed: %s", s.label, s.ID, util.FormatSummary(s.stats.Snapshot()))
	return err
}

// release closes the stream and the device exactly once.
func (s *Session) release() error {
	var err error
	s.releaseOnce.Do(func() {
		err = errors.Join(s.stream.Close(), s.dev.Close())
	})
	return err
}

// deviceToStream seals packets read from the device and sends them as
// frames. Sealing failures drop the packet; device and stream failures end
// the session.
func (s *Session) deviceToStream() error {
	timeout := s.opts.readTimeout()
	maxPacket := protocol.MaxPacketSize(s.framer.Max())

	for s.running.Load() {
		pkt, err := s.dev.ReadPacket(timeout)
		if err != nil {
			return s.fatal("device read", err)
		}
		if pkt == nil {
			continue
		}

		if len(pkt) > maxPacket {
			s.stats.AddOversized()
			util.LogWarning("%s dropped %d byte packet from %s: exceeds %d", s.label, len(pkt), s.dev.Name(), maxPacket)
			continue
		}

		sealed, err := s.cipher.Seal(pkt)
		if err != nil {
			s.stats.AddEncryptFailure()
			util.LogWarning("%s dropped outbound packet: %v", s.label, err)
			continue
		}

		if err := s.framer.Send(sealed); err != nil {
			return s.fatal("stream send", err)
		}
		s.stats.AddOut(len(pkt))
	}
	return nil
}

// streamToDevice opens received frames and writes the packets to the
// device. Frames that fail to open, packets refused by the subnet filter and
// short device writes are dropped; stream and device failures end the
// session.
func (s *Session) streamToDevice() error {
	timeout := s.opts.readTimeout()

	for s.running.Load() {
		frame, err := s.framer.Recv(timeout)
		if err != nil {
			if errors.Is(err, io.EOF) && s.running.Load() {
				util.LogInfo("%s peer closed the stream", s.label)
				return ErrPeerClosed
			}
			return s.fatal("stream receive", err)
		}
		if frame == nil {
			continue
		}

		pkt, err := s.cipher.Open(frame)
		if err != nil {
			s.stats.AddDecryptFailure()
			util.LogWarning("%s dropped inbound frame of %d bytes: %v", s.label, len(frame), err)
			continue
		}

		if !allowed(s.opts.Allow, pkt) {
			s.stats.AddFiltered()
			util.LogDebug("%s dropped inbound packet outside %s", s.label, s.opts.Allow)
			continue
		}

		ok, err := s.dev.WritePacket(pkt)
		if err != nil {
			return s.fatal("device write", err)
		}
		if !ok {
			s.stats.AddShortWrite()
			util.LogWarning("%s short write of %d byte packet to %s", s.label, len(pkt), s.dev.Name())
			continue
		}
		s.stats.AddIn(len(pkt))
	}
	return nil
}

// fatal reports a flow-ending error, or nil when the session was already
// stopping and the error is a side effect of the shutdown.
func (s *Session) fatal(op string, err error) error {
	if !s.running.Load() {
		util.LogDebug("%s %s after stop: %v", s.label, op, err)
		return nil
	}
	util.LogError("%s %s failed: %v", s.label, op, err)
	return err
}
