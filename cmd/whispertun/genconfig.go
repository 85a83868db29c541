package main

import (
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/1ureka/whispertun/internal/config"
	"github.com/1ureka/whispertun/internal/crypto"
	"github.com/1ureka/whispertun/internal/util"
)

type genConfigFlags struct {
	OutDir      string
	ServerHost  string
	Format      string
	Interactive bool
}

func newGenConfigCommand() *cobra.Command {
	var flags genConfigFlags

	cmd := &cobra.Command{
		Use:   "genconfig",
		Short: "Write a matching client and server configuration with a fresh key",
		Example: `  # Write config/client.toml and config/server.toml
  whispertun genconfig -o config --server-host 203.0.113.7

  # Ask for the values instead
  whispertun genconfig -i`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if flags.Interactive {
				flags.ServerHost = askServerHost(flags.ServerHost)
				flags.Format = askFormat()
			}
			return runGenConfig(flags)
		},
	}

	cmd.Flags().StringVarP(&flags.OutDir, "output", "o", "config", "directory to write the files into")
	cmd.Flags().StringVar(&flags.ServerHost, "server-host", config.DefaultServerHost, "address the client dials")
	cmd.Flags().StringVar(&flags.Format, "format", config.FormatTOML, "file format (toml, yaml, json)")
	cmd.Flags().BoolVarP(&flags.Interactive, "interactive", "i", false, "prompt for the server host and format")
	return cmd
}

func runGenConfig(flags genConfigFlags) error {
	switch flags.Format {
	case config.FormatTOML, config.FormatYAML, config.FormatJSON:
	default:
		return fmt.Errorf("unsupported format %q", flags.Format)
	}

	client, server, err := config.GeneratePair(flags.ServerHost)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(flags.OutDir, 0o700); err != nil {
		return err
	}
	clientPath, serverPath, err := config.WritePair(flags.OutDir, flags.Format, client, server)
	if err != nil {
		return err
	}

	key, err := crypto.DecodeKey(client.KeyBase64)
	if err != nil {
		return err
	}
	util.LogSuccess("wrote %s and %s (key %s)", serverPath, clientPath, crypto.Fingerprint(key))
	util.LogInfo("copy %s to the client host; both files hold the same secret key", clientPath)
	return nil
}

func newKeygenCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Print a fresh base64 pre-shared key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := crypto.GenerateKey()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), crypto.EncodeKey(key))
			util.LogDebug("key fingerprint %s", crypto.Fingerprint(key))
			return nil
		},
	}
}

// ---------------------------------------------------------------------------
// Helper Functions
// ---------------------------------------------------------------------------

// askServerHost prompts for the address the client dials until a host name or
// IP address is entered. An empty answer keeps def.
func askServerHost(def string) string {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText(fmt.Sprintf("Server address the client dials (default %s)", def)).
			Show()

		host := strings.TrimSpace(raw)
		if host == "" {
			pterm.Println()
			return def
		}
		if validHost(host) {
			pterm.Println()
			return host
		}

		pterm.Println()
		util.LogWarning("invalid input: please enter a host name or IP address")
	}
}

// askFormat prompts for the configuration file format.
func askFormat() string {
	format, _ := pterm.DefaultInteractiveSelect.
		WithOptions([]string{config.FormatTOML, config.FormatYAML, config.FormatJSON}).
		WithDefaultText("Configuration format").
		Show()

	pterm.Println()
	return format
}

func validHost(host string) bool {
	if net.ParseIP(host) != nil {
		return true
	}
	if strings.ContainsAny(host, " /:") {
		return false
	}
	return len(host) <= 253
}
