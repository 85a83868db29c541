package config

import (
	"net/netip"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/1ureka/whispertun/internal/crypto"
	"github.com/1ureka/whispertun/internal/transport"
)

const testKey = "AAECAwQFBgcICQoLDA0ODxAREhMUFRYXGBkaGxwdHh8="

func TestLoadLegacyJSONServer(t *testing.T) {
	require := require.New(t)

	cfg, err := LoadServer([]byte(`{
		"bind_host": "0.0.0.0",
		"bind_port": 5555,
		"key_base64": "`+testKey+`",
		"tun_addr": "10.8.0.1/24",
		"mtu": 1400,
		"allow_subnet": "10.8.0.0/24"
	}`), FormatJSON)
	require.NoError(err)

	require.Equal("0.0.0.0:5555", cfg.ListenAddress())
	require.Len(cfg.Key(), crypto.KeySize)
	require.Equal(byte(0x1f), cfg.Key()[31])
	require.Equal(netip.MustParsePrefix("10.8.0.1/24"), cfg.Prefix())
	require.Equal(netip.MustParsePrefix("10.8.0.0/24"), cfg.Allow())
	require.Equal(1, cfg.MaxSessions)
	require.Equal(crypto.DefaultSuite, cfg.Suite())
	require.Equal(DefaultDeviceName, cfg.DeviceName)
	require.Equal(transport.KindTCP, cfg.Transport)
	require.Equal(time.Second, cfg.ReadTimeout.Std())
	require.Equal(5*time.Second, cfg.JoinTimeout.Std())
	require.Equal(300*time.Second, cfg.TokenMaxAge.Std())
}

func TestLoadTOMLClient(t *testing.T) {
	require := require.New(t)

	cfg, err := LoadClient([]byte(`
server_host = "vpn.example.net"
key_base64 = "`+testKey+`"
tun_addr = "10.8.0.2/24"
mtu = 1380
transport = "ws"
cipher = "chacha20-poly1305"
host_network = "iproute2"
read_timeout = "250ms"
stats_interval = "1m"
`), FormatTOML)
	require.NoError(err)

	require.Equal("vpn.example.net:5555", cfg.ServerAddress())
	require.Equal(1380, cfg.MTU)
	require.Equal(crypto.ChaCha20Poly1305, cfg.Suite())
	require.Equal(250*time.Millisecond, cfg.ReadTimeout.Std())
	require.Equal(time.Minute, cfg.StatsInterval.Std())
	require.Equal(10*time.Second, cfg.HandshakeTimeout.Std())

	opts := cfg.TransportOptions()
	require.Equal(transport.KindWebSocket, opts.Kind)
	require.Equal(transport.DefaultPath, opts.Path)
}

func TestLoadYAMLClient(t *testing.T) {
	require := require.New(t)

	cfg, err := LoadClient([]byte(`
server_host: "::1"
server_port: 6000
key_base64: "`+testKey+`"
tun_addr: 10.8.0.2
join_timeout: 2s
`), FormatYAML)
	require.NoError(err)
	require.Equal("[::1]:6000", cfg.ServerAddress())
	require.Equal(netip.MustParsePrefix("10.8.0.2/32"), cfg.Prefix())
	require.Equal(2*time.Second, cfg.JoinTimeout.Std())
}

func TestServerAllowSubnetDefaultsToTunnelNetwork(t *testing.T) {
	require := require.New(t)

	cfg, err := LoadServer([]byte(`key_base64 = "`+testKey+`"
tun_addr = "172.16.5.1/20"`), FormatTOML)
	require.NoError(err)
	require.Equal(netip.MustParsePrefix("172.16.0.0/20"), cfg.Allow())
	require.Equal("172.16.0.0/20", cfg.AllowSubnet)
}

func TestServerMaxSessionsNeedsDevicePattern(t *testing.T) {
	require := require.New(t)

	base := `key_base64 = "` + testKey + `"
tun_addr = "10.8.0.1/24"
max_sessions = 4
`
	_, err := LoadServer([]byte(base), FormatTOML)
	require.ErrorContains(err, "max_sessions")

	cfg, err := LoadServer([]byte(base+`device_name = "wt%d"`), FormatTOML)
	require.NoError(err)
	require.Equal(4, cfg.MaxSessions)
}

func TestValidationErrors(t *testing.T) {
	testCases := []struct {
		name string
		body string
	}{
		{"missing key", `server_host = "h"
tun_addr = "10.8.0.2/24"`},
		{"short key", `server_host = "h"
key_base64 = "AAEC"
tun_addr = "10.8.0.2/24"`},
		{"missing tun_addr", `server_host = "h"
key_base64 = "` + testKey + `"`},
		{"bad tun_addr", `server_host = "h"
key_base64 = "` + testKey + `"
tun_addr = "10.8.0/24"`},
		{"missing server_host", `key_base64 = "` + testKey + `"
tun_addr = "10.8.0.2/24"`},
		{"mtu too large", `server_host = "h"
key_base64 = "` + testKey + `"
tun_addr = "10.8.0.2/24"
mtu = 9000`},
		{"bad port", `server_host = "h"
server_port = 70000
key_base64 = "` + testKey + `"
tun_addr = "10.8.0.2/24"`},
		{"unknown transport", `server_host = "h"
key_base64 = "` + testKey + `"
tun_addr = "10.8.0.2/24"
transport = "udp"`},
		{"unknown cipher", `server_host = "h"
key_base64 = "` + testKey + `"
tun_addr = "10.8.0.2/24"
cipher = "rc4"`},
		{"unknown key", `server_host = "h"
key_base64 = "` + testKey + `"
tun_addr = "10.8.0.2/24"
colour = "blue"`},
		{"bad duration", `server_host = "h"
key_base64 = "` + testKey + `"
tun_addr = "10.8.0.2/24"
read_timeout = "soon"`},
		{"token max age too small", `server_host = "h"
key_base64 = "` + testKey + `"
tun_addr = "10.8.0.2/24"
token_max_age = "10ms"`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadClient([]byte(tc.body), FormatTOML)
			require.Error(t, err)
		})
	}
}

func TestFormatOf(t *testing.T) {
	require := require.New(t)

	for path, want := range map[string]string{
		"a.toml": FormatTOML, "b.YAML": FormatYAML, "c.yml": FormatYAML, "d.json": FormatJSON,
	} {
		got, err := FormatOf(path)
		require.NoError(err)
		require.Equal(want, got)
	}
	_, err := FormatOf("e.ini")
	require.Error(err)
}

func TestGeneratePairRoundTrip(t *testing.T) {
	for _, format := range []string{FormatTOML, FormatYAML, FormatJSON} {
		t.Run(format, func(t *testing.T) {
			require := require.New(t)
			dir := t.TempDir()

			client, server, err := GeneratePair("203.0.113.7")
			require.NoError(err)
			require.Equal(client.KeyBase64, server.KeyBase64)

			clientPath, serverPath, err := WritePair(dir, format, client, server)
			require.NoError(err)

			info, err := os.Stat(clientPath)
			require.NoError(err)
			require.Equal(os.FileMode(0o600), info.Mode().Perm())

			gotClient, err := LoadClientFile(clientPath)
			require.NoError(err)
			gotServer, err := LoadServerFile(serverPath)
			require.NoError(err)

			require.Equal("203.0.113.7:5555", gotClient.ServerAddress())
			require.Equal(gotClient.Key(), gotServer.Key())
			require.Equal(netip.MustParsePrefix("10.8.0.2/24"), gotClient.Prefix())
			require.Equal(netip.MustParsePrefix("10.8.0.1/24"), gotServer.Prefix())
			require.Equal(netip.MustParsePrefix("10.8.0.0/24"), gotServer.Allow())
		})
	}
}

func TestGeneratePairFreshKeys(t *testing.T) {
	a, _, err := GeneratePair("")
	require.NoError(t, err)
	b, _, err := GeneratePair("")
	require.NoError(t, err)
	require.NotEqual(t, a.KeyBase64, b.KeyBase64)
	require.Equal(t, DefaultServerHost, a.ServerHost)
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadServerFile(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
}
