package tunnel

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/1ureka/whispertun/internal/auth"
	"github.com/1ureka/whispertun/internal/crypto"
	"github.com/1ureka/whispertun/internal/transport"
	"github.com/1ureka/whispertun/internal/util"
)

// ClientConfig holds validated client settings.
type ClientConfig struct {
	// Address is the server "host:port".
	Address   string
	Transport transport.Options

	Key   []byte
	Suite crypto.Suite

	HandshakeTimeout time.Duration
	TokenMaxAge      time.Duration

	OpenDevice DeviceOpener
	Session    Options
}

// Client dials a server and runs one session.
type Client struct {
	cfg    ClientConfig
	cipher *crypto.Cipher
	state  stateVar

	session atomic.Pointer[Session]
}

// NewClient validates the key before anything touches the network.
func NewClient(cfg ClientConfig) (*Client, error) {
	cipher, err := crypto.NewCipher(cfg.Suite, cfg.Key)
	if err != nil {
		return nil, err
	}
	if cfg.OpenDevice == nil {
		return nil, errors.New("tunnel: client has no device opener")
	}
	c := &Client{cfg: cfg, cipher: cipher}
	c.state.Store(StateIdle)
	return c, nil
}

// State returns the current lifecycle stage.
func (c *Client) State() State { return c.state.Load() }

// Session returns the running session, or nil.
func (c *Client) Session() *Session { return c.session.Load() }

// Run connects, authenticates, attaches the device and forwards until ctx is
// cancelled or the session ends. Every failure leaves the client Stopped
// with nothing left open.
func (c *Client) Run(ctx context.Context) error {
	defer c.state.Store(StateStopped)

	c.state.Store(StateConnecting)
	util.LogInfo("connecting to %s over %s", c.cfg.Address, kindOf(c.cfg.Transport))
	stream, err := transport.Dial(ctx, c.cfg.Address, c.cfg.Transport)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	id := util.ConnID(stream)

	c.state.Store(StateAuthenticating)
	err = auth.Initiate(stream, c.cfg.Key, auth.Options{
		Timeout: c.cfg.HandshakeTimeout,
		MaxAge:  c.cfg.TokenMaxAge,
	})
	if err != nil {
		stream.Close()
		return err
	}
	util.LogSuccess("[%08x] authenticated to %s (key %s)", id, stream.RemoteAddr(), crypto.Fingerprint(c.cfg.Key))

	dev, err := c.cfg.OpenDevice()
	if err != nil {
		stream.Close()
		return fmt.Errorf("device setup: %w", err)
	}

	sess := NewSession(dev, stream, c.cipher, c.cfg.Session)
	c.session.Store(sess)
	c.state.Store(StateForwarding)
	err = sess.Run(ctx)
	c.state.Store(StateStopping)
	return err
}

func kindOf(o transport.Options) string {
	if o.Kind == "" {
		return transport.KindTCP
	}
	return o.Kind
}
