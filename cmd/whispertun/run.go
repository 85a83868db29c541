package main

import (
	"context"
	"errors"
	"fmt"
	"net/netip"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/1ureka/whispertun/internal/config"
	"github.com/1ureka/whispertun/internal/crypto"
	"github.com/1ureka/whispertun/internal/device"
	"github.com/1ureka/whispertun/internal/metrics"
	"github.com/1ureka/whispertun/internal/protocol"
	"github.com/1ureka/whispertun/internal/tunnel"
	"github.com/1ureka/whispertun/internal/util"
)

func newServerCommand() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Accept a client and forward its traffic through the local TUN device",
		Example: `  # Listen with the settings in server.toml (needs CAP_NET_ADMIN)
  sudo whispertun server -c config/server.toml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadServerFile(configFile)
			if err != nil {
				return err
			}
			if err := applyConfigLogLevel(cmd, cfg.LogLevel); err != nil {
				return err
			}
			return runServer(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "", "server configuration file (.toml, .yaml or .json)")
	cmd.MarkFlagRequired("config")
	return cmd
}

func newClientCommand() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "client",
		Short: "Connect to a server and forward traffic through the local TUN device",
		Example: `  # Connect with the settings in client.toml (needs CAP_NET_ADMIN)
  sudo whispertun client -c config/client.toml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadClientFile(configFile)
			if err != nil {
				return err
			}
			if err := applyConfigLogLevel(cmd, cfg.LogLevel); err != nil {
				return err
			}
			return runClient(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "", "client configuration file (.toml, .yaml or .json)")
	cmd.MarkFlagRequired("config")
	return cmd
}

// runServer executes the server-side tunnel logic.
func runServer(ctx context.Context, cfg *config.Server) error {
	opener, err := deviceOpener(&cfg.Tunnel)
	if err != nil {
		return err
	}

	srv, err := tunnel.NewServer(tunnel.ServerConfig{
		Address:          cfg.ListenAddress(),
		Transport:        cfg.TransportOptions(),
		Key:              cfg.Key(),
		Suite:            cfg.Suite(),
		HandshakeTimeout: cfg.HandshakeTimeout.Std(),
		TokenMaxAge:      cfg.TokenMaxAge.Std(),
		MaxSessions:      cfg.MaxSessions,
		OpenDevice:       opener,
		Session:          serverSessionOptions(cfg),
	})
	if err != nil {
		return err
	}
	if err := srv.Listen(); err != nil {
		return err
	}

	printBanner("server", &cfg.Tunnel, fmt.Sprintf("listen %s, allow %s", srv.Addr(), cfg.Allow()))
	startMetrics(ctx, cfg.MetricsAddress, srv.Active)

	if err := srv.Serve(ctx); err != nil {
		return err
	}
	util.LogInfo("server stopped: %s", util.FormatSummary(util.Totals.Snapshot()))
	return nil
}

// runClient executes the client-side tunnel logic.
func runClient(ctx context.Context, cfg *config.Client) error {
	opener, err := deviceOpener(&cfg.Tunnel)
	if err != nil {
		return err
	}

	c, err := tunnel.NewClient(tunnel.ClientConfig{
		Address:          cfg.ServerAddress(),
		Transport:        cfg.TransportOptions(),
		Key:              cfg.Key(),
		Suite:            cfg.Suite(),
		HandshakeTimeout: cfg.HandshakeTimeout.Std(),
		TokenMaxAge:      cfg.TokenMaxAge.Std(),
		OpenDevice:       opener,
		Session:          clientSessionOptions(cfg),
	})
	if err != nil {
		return err
	}

	printBanner("client", &cfg.Tunnel, "server "+cfg.ServerAddress())
	startMetrics(ctx, cfg.MetricsAddress, func() int {
		if c.State() == tunnel.StateForwarding {
			return 1
		}
		return 0
	})

	err = c.Run(ctx)
	if errors.Is(err, tunnel.ErrPeerClosed) {
		util.LogWarning("server closed the tunnel")
		return nil
	}
	return err
}

func deviceOpener(t *config.Tunnel) (tunnel.DeviceOpener, error) {
	host, err := device.NewHostNetwork(t.HostNetwork)
	if err != nil {
		return nil, err
	}
	return tunnel.TUNOpener(t.DeviceName, t.MTU, t.Prefix(), host), nil
}

// serverSessionOptions filters inbound packets to allow_subnet.
func serverSessionOptions(cfg *config.Server) tunnel.Options {
	return sessionOptions(&cfg.Tunnel, cfg.Allow())
}

// clientSessionOptions delivers every packet the server sends, including
// replies from hosts routed behind it.
func clientSessionOptions(cfg *config.Client) tunnel.Options {
	return sessionOptions(&cfg.Tunnel, netip.Prefix{})
}

func sessionOptions(t *config.Tunnel, allow netip.Prefix) tunnel.Options {
	return tunnel.Options{
		ReadTimeout:   t.ReadTimeout.Std(),
		JoinTimeout:   t.JoinTimeout.Std(),
		MaxFrameSize:  protocol.MaxFrameSize(t.MTU),
		StatsInterval: t.StatsInterval.Std(),
		Allow:         allow,
		Parent:        util.Totals,
	}
}

func startMetrics(ctx context.Context, addr string, active func() int) {
	if addr == "" {
		return
	}
	go func() {
		if err := metrics.Serve(ctx, addr, metrics.NewRegistry(util.Totals, active)); err != nil {
			util.LogError("%v", err)
		}
	}()
	util.LogInfo("metrics available at http://%s/metrics", addr)
}

func printBanner(role string, t *config.Tunnel, endpoint string) {
	pterm.Info.Println(fmt.Sprintf("WhisperTunnel %s v%s", role, version))
	pterm.Println()
	util.LogInfo("%s, transport %s, cipher %s, key %s", endpoint, t.Transport, t.Suite(), crypto.Fingerprint(t.Key()))
	util.LogInfo("device %s at %s, mtu %d", t.DeviceName, t.Prefix(), t.MTU)
}
