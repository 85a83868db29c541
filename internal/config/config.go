// Package config loads and validates client and server configuration files.
//
// Files are flat key/value documents in TOML, YAML or JSON, chosen by the
// file extension. The key names match the JSON files written by earlier
// releases, so those keep working unchanged.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/1ureka/whispertun/internal/crypto"
	"github.com/1ureka/whispertun/internal/device"
	"github.com/1ureka/whispertun/internal/transport"
)

const (
	DefaultPort             = 5555
	DefaultMTU              = 1400
	DefaultDeviceName       = "tun0"
	DefaultBindHost         = "0.0.0.0"
	DefaultReadTimeout      = time.Second
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultJoinTimeout      = 5 * time.Second
	DefaultStatsInterval    = 10 * time.Second
	DefaultTokenMaxAge      = 300 * time.Second
	DefaultMaxSessions      = 1

	minMTU = 68
)

// Tunnel holds the settings shared by both ends of a tunnel.
type Tunnel struct {
	// KeyBase64 is the 32-byte pre-shared key, base64 encoded.
	KeyBase64 string `toml:"key_base64" yaml:"key_base64" json:"key_base64"`
	// TunAddr is the local tunnel address with prefix, e.g. "10.8.0.2/24".
	TunAddr string `toml:"tun_addr" yaml:"tun_addr" json:"tun_addr"`
	MTU     int    `toml:"mtu" yaml:"mtu" json:"mtu"`

	DeviceName  string `toml:"device_name,omitempty" yaml:"device_name,omitempty" json:"device_name,omitempty"`
	Transport   string `toml:"transport,omitempty" yaml:"transport,omitempty" json:"transport,omitempty"`
	WSPath      string `toml:"ws_path,omitempty" yaml:"ws_path,omitempty" json:"ws_path,omitempty"`
	Cipher      string `toml:"cipher,omitempty" yaml:"cipher,omitempty" json:"cipher,omitempty"`
	HostNetwork string `toml:"host_network,omitempty" yaml:"host_network,omitempty" json:"host_network,omitempty"`

	ReadTimeout      Duration `toml:"read_timeout,omitzero" yaml:"read_timeout,omitempty" json:"read_timeout,omitempty"`
	HandshakeTimeout Duration `toml:"handshake_timeout,omitzero" yaml:"handshake_timeout,omitempty" json:"handshake_timeout,omitempty"`
	JoinTimeout      Duration `toml:"join_timeout,omitzero" yaml:"join_timeout,omitempty" json:"join_timeout,omitempty"`
	StatsInterval    Duration `toml:"stats_interval,omitzero" yaml:"stats_interval,omitempty" json:"stats_interval,omitempty"`
	TokenMaxAge      Duration `toml:"token_max_age,omitzero" yaml:"token_max_age,omitempty" json:"token_max_age,omitempty"`

	// MetricsAddress enables the Prometheus endpoint when set.
	MetricsAddress string `toml:"metrics_address,omitempty" yaml:"metrics_address,omitempty" json:"metrics_address,omitempty"`
	LogLevel       string `toml:"log_level,omitempty" yaml:"log_level,omitempty" json:"log_level,omitempty"`

	key    []byte
	prefix netip.Prefix
	suite  crypto.Suite
}

// Key returns the decoded pre-shared key.
func (t *Tunnel) Key() []byte { return t.key }

// Prefix returns the parsed tunnel address.
func (t *Tunnel) Prefix() netip.Prefix { return t.prefix }

// Suite returns the parsed cipher suite.
func (t *Tunnel) Suite() crypto.Suite { return t.suite }

// TransportOptions returns the stream transport settings.
func (t *Tunnel) TransportOptions() transport.Options {
	return transport.Options{Kind: t.Transport, Path: t.WSPath, DialTimeout: t.HandshakeTimeout.Std()}
}

func (t *Tunnel) fixupAndValidate() error {
	key, err := crypto.DecodeKey(t.KeyBase64)
	if err != nil {
		if t.KeyBase64 == "" {
			return errors.New("config: Tunnel: key_base64 is not set")
		}
		return fmt.Errorf("config: Tunnel: key_base64: %w", err)
	}
	t.key = key

	if t.TunAddr == "" {
		return errors.New("config: Tunnel: tun_addr is not set")
	}
	if t.prefix, err = parsePrefix(t.TunAddr); err != nil {
		return fmt.Errorf("config: Tunnel: tun_addr: %w", err)
	}

	if t.MTU == 0 {
		t.MTU = DefaultMTU
	}
	if t.MTU < minMTU || t.MTU > device.ReadBufferSize {
		return fmt.Errorf("config: Tunnel: mtu %d out of range [%d, %d]", t.MTU, minMTU, device.ReadBufferSize)
	}

	if t.DeviceName == "" {
		t.DeviceName = DefaultDeviceName
	}

	switch t.Transport {
	case "":
		t.Transport = transport.KindTCP
	case transport.KindTCP, transport.KindWebSocket:
	default:
		return fmt.Errorf("config: Tunnel: unknown transport %q", t.Transport)
	}
	if t.WSPath == "" {
		t.WSPath = transport.DefaultPath
	}
	if !strings.HasPrefix(t.WSPath, "/") {
		return fmt.Errorf("config: Tunnel: ws_path %q must start with /", t.WSPath)
	}

	if t.suite, err = crypto.ParseSuite(t.Cipher); err != nil {
		return fmt.Errorf("config: Tunnel: %w", err)
	}
	t.Cipher = string(t.suite)

	switch t.HostNetwork {
	case "":
		t.HostNetwork = device.BackendNetlink
	case device.BackendNetlink, device.BackendIPRoute2:
	default:
		return fmt.Errorf("config: Tunnel: unknown host_network %q", t.HostNetwork)
	}

	t.ReadTimeout.fixup(DefaultReadTimeout)
	t.HandshakeTimeout.fixup(DefaultHandshakeTimeout)
	t.JoinTimeout.fixup(DefaultJoinTimeout)
	t.StatsInterval.fixup(DefaultStatsInterval)
	t.TokenMaxAge.fixup(DefaultTokenMaxAge)
	for name, d := range map[string]Duration{
		"read_timeout":      t.ReadTimeout,
		"handshake_timeout": t.HandshakeTimeout,
		"join_timeout":      t.JoinTimeout,
		"stats_interval":    t.StatsInterval,
		"token_max_age":     t.TokenMaxAge,
	} {
		if d < 0 {
			return fmt.Errorf("config: Tunnel: %s must not be negative", name)
		}
	}
	if t.TokenMaxAge.Std() < time.Second {
		return errors.New("config: Tunnel: token_max_age must be at least 1s")
	}

	switch strings.ToLower(t.LogLevel) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("config: Tunnel: unknown log_level %q", t.LogLevel)
	}

	return nil
}

// Client configures the connecting end.
type Client struct {
	ServerHost string `toml:"server_host" yaml:"server_host" json:"server_host"`
	ServerPort int    `toml:"server_port" yaml:"server_port" json:"server_port"`

	Tunnel `yaml:",inline"`
}

// ServerAddress is the "host:port" to dial.
func (c *Client) ServerAddress() string {
	return hostPort(c.ServerHost, c.ServerPort)
}

// FixupAndValidate applies defaults to config entries and validates them.
func (c *Client) FixupAndValidate() error {
	if c.ServerHost == "" {
		return errors.New("config: Client: server_host is not set")
	}
	if c.ServerPort == 0 {
		c.ServerPort = DefaultPort
	}
	if err := validatePort("Client", "server_port", c.ServerPort); err != nil {
		return err
	}
	return c.Tunnel.fixupAndValidate()
}

// Server configures the listening end.
type Server struct {
	BindHost string `toml:"bind_host" yaml:"bind_host" json:"bind_host"`
	BindPort int    `toml:"bind_port" yaml:"bind_port" json:"bind_port"`
	// AllowSubnet restricts the source addresses of packets accepted from
	// the client. It defaults to the network of TunAddr.
	AllowSubnet string `toml:"allow_subnet,omitempty" yaml:"allow_subnet,omitempty" json:"allow_subnet,omitempty"`
	MaxSessions int    `toml:"max_sessions,omitzero" yaml:"max_sessions,omitempty" json:"max_sessions,omitempty"`

	Tunnel `yaml:",inline"`

	allow netip.Prefix
}

// ListenAddress is the "host:port" to bind.
func (s *Server) ListenAddress() string {
	return hostPort(s.BindHost, s.BindPort)
}

// Allow returns the parsed allow_subnet.
func (s *Server) Allow() netip.Prefix { return s.allow }

// FixupAndValidate applies defaults to config entries and validates them.
func (s *Server) FixupAndValidate() error {
	if s.BindHost == "" {
		s.BindHost = DefaultBindHost
	}
	if s.BindPort == 0 {
		s.BindPort = DefaultPort
	}
	if err := validatePort("Server", "bind_port", s.BindPort); err != nil {
		return err
	}
	if s.MaxSessions == 0 {
		s.MaxSessions = DefaultMaxSessions
	}
	if s.MaxSessions < 0 {
		return fmt.Errorf("config: Server: max_sessions %d must be positive", s.MaxSessions)
	}
	if err := s.Tunnel.fixupAndValidate(); err != nil {
		return err
	}
	// Each session opens its own device; the kernel expands %d to a free index.
	if s.MaxSessions > 1 && !strings.Contains(s.DeviceName, "%d") {
		return fmt.Errorf("config: Server: max_sessions %d needs a device_name pattern like \"tun%%d\"", s.MaxSessions)
	}

	if s.AllowSubnet == "" {
		s.allow = s.prefix.Masked()
		s.AllowSubnet = s.allow.String()
		return nil
	}
	allow, err := netip.ParsePrefix(s.AllowSubnet)
	if err != nil {
		return fmt.Errorf("config: Server: allow_subnet: %w", err)
	}
	s.allow = allow.Masked()
	return nil
}

// parsePrefix accepts "addr/bits", or a bare address meaning a host route.
func parsePrefix(s string) (netip.Prefix, error) {
	if strings.Contains(s, "/") {
		return netip.ParsePrefix(s)
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Prefix{}, err
	}
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

func validatePort(section, field string, port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("config: %s: %s %d out of range", section, field, port)
	}
	return nil
}

func hostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}
