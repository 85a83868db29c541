package tunnel

import (
	"bytes"
	"encoding/binary"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/net/ipv4"

	"github.com/1ureka/whispertun/internal/crypto"
	"github.com/1ureka/whispertun/internal/device"
)

// scriptedDevice yields the packets pushed to in and records the packets
// written to it.
type scriptedDevice struct {
	name string
	in   chan []byte
	out  chan []byte
	errs chan error

	short atomic.Bool
	// ignoreTimeout makes ReadPacket block until Close.
	ignoreTimeout bool

	closed    chan struct{}
	closeOnce sync.Once
	closes    atomic.Int32
}

var _ device.Channel = (*scriptedDevice)(nil)

func newScriptedDevice(name string) *scriptedDevice {
	return &scriptedDevice{
		name:   name,
		in:     make(chan []byte, 64),
		out:    make(chan []byte, 64),
		errs:   make(chan error, 1),
		closed: make(chan struct{}),
	}
}

func (d *scriptedDevice) Name() string { return d.name }

func (d *scriptedDevice) ReadPacket(timeout time.Duration) ([]byte, error) {
	var expired <-chan time.Time
	if !d.ignoreTimeout {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}
	select {
	case pkt := <-d.in:
		return pkt, nil
	case err := <-d.errs:
		return nil, err
	case <-expired:
		return nil, nil
	case <-d.closed:
		return nil, &device.Error{Op: "read", Err: device.ErrClosed}
	}
}

func (d *scriptedDevice) WritePacket(pkt []byte) (bool, error) {
	select {
	case <-d.closed:
		return false, &device.Error{Op: "write", Err: device.ErrClosed}
	default:
	}
	if d.short.Load() {
		return false, nil
	}
	d.out <- append([]byte(nil), pkt...)
	return true, nil
}

func (d *scriptedDevice) Close() error {
	d.closes.Add(1)
	d.closeOnce.Do(func() { close(d.closed) })
	return nil
}

// expectPackets reads n packets written to d, failing after timeout.
func (d *scriptedDevice) expectPackets(t *testing.T, n int) [][]byte {
	t.Helper()
	var got [][]byte
	for len(got) < n {
		select {
		case pkt := <-d.out:
			got = append(got, pkt)
		case <-time.After(2 * time.Second):
			t.Fatalf("got %d of %d packets", len(got), n)
		}
	}
	return got
}

// countingConn counts Close calls on a stream.
type countingConn struct {
	net.Conn
	closes atomic.Int32
}

func (c *countingConn) Close() error {
	c.closes.Add(1)
	return c.Conn.Close()
}

func pipePair() (*countingConn, *countingConn) {
	a, b := net.Pipe()
	return &countingConn{Conn: a}, &countingConn{Conn: b}
}

func testKey(b byte) []byte {
	return bytes.Repeat([]byte{b}, crypto.KeySize)
}

func testCipher(t *testing.T, key []byte) *crypto.Cipher {
	t.Helper()
	c, err := crypto.NewCipher(crypto.DefaultSuite, key)
	require.NoError(t, err)
	return c
}

func fastOptions() Options {
	return Options{
		ReadTimeout:   50 * time.Millisecond,
		JoinTimeout:   time.Second,
		StatsInterval: -1,
	}
}

// ipv4Packet builds a UDP-over-IPv4 packet from src to dst.
func ipv4Packet(t *testing.T, src, dst string, payload []byte) []byte {
	t.Helper()
	h := &ipv4.Header{
		Version:  ipv4.Version,
		Len:      ipv4.HeaderLen,
		TotalLen: ipv4.HeaderLen + len(payload),
		TTL:      64,
		Protocol: 17,
		Src:      net.ParseIP(src),
		Dst:      net.ParseIP(dst),
	}
	b, err := h.Marshal()
	require.NoError(t, err)
	return append(b, payload...)
}

// ipv6Packet builds a UDP-over-IPv6 packet from src to dst.
func ipv6Packet(src, dst string, payload []byte) []byte {
	b := make([]byte, 40, 40+len(payload))
	b[0] = 6 << 4
	binary.BigEndian.PutUint16(b[4:6], uint16(len(payload)))
	b[6] = 17
	b[7] = 64
	copy(b[8:24], net.ParseIP(src).To16())
	copy(b[24:40], net.ParseIP(dst).To16())
	return append(b, payload...)
}
