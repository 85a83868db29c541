package config

import (
	"path/filepath"

	"github.com/1ureka/whispertun/internal/crypto"
)

// Addresses used by generated configs.
const (
	DefaultServerHost  = "192.168.100.1"
	DefaultServerAddr  = "10.8.0.1/24"
	DefaultClientAddr  = "10.8.0.2/24"
	DefaultAllowSubnet = "10.8.0.0/24"
)

// GeneratePair returns a client and server config sharing a fresh key. The
// client dials serverHost; an empty serverHost uses DefaultServerHost.
func GeneratePair(serverHost string) (*Client, *Server, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, nil, err
	}
	if serverHost == "" {
		serverHost = DefaultServerHost
	}
	encoded := crypto.EncodeKey(key)

	client := &Client{
		ServerHost: serverHost,
		ServerPort: DefaultPort,
		Tunnel: Tunnel{
			KeyBase64: encoded,
			TunAddr:   DefaultClientAddr,
			MTU:       DefaultMTU,
		},
	}
	server := &Server{
		BindHost:    DefaultBindHost,
		BindPort:    DefaultPort,
		AllowSubnet: DefaultAllowSubnet,
		Tunnel: Tunnel{
			KeyBase64: encoded,
			TunAddr:   DefaultServerAddr,
			MTU:       DefaultMTU,
		},
	}
	return client, server, nil
}

// WritePair writes client and server files named client.<format> and
// server.<format> into dir and returns their paths.
func WritePair(dir, format string, client *Client, server *Server) (clientPath, serverPath string, err error) {
	clientPath = filepath.Join(dir, "client."+format)
	serverPath = filepath.Join(dir, "server."+format)
	if err = WriteFile(clientPath, client); err != nil {
		return "", "", err
	}
	if err = WriteFile(serverPath, server); err != nil {
		return "", "", err
	}
	return clientPath, serverPath, nil
}
