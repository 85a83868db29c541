// Command whispertun is the WhisperTunnel CLI.
//
// The tool connects two hosts with an encrypted point-to-point tunnel: each
// side reads IP packets from a TUN interface, seals them with a pre-shared
// key and frames them over a single TCP (or WebSocket) stream.
//
// Subcommands: server, client, genconfig, keygen.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/1ureka/whispertun/internal/util"
)

var version = "dev"

// rootFlags holds the flags shared by every subcommand.
type rootFlags struct {
	LogLevel string
	Debug    bool
}

func main() {
	// Root context, cancelled on Ctrl+C or SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		util.LogError("%v", err)
		stop()
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var flags rootFlags

	cmd := &cobra.Command{
		Use:           "whispertun",
		Short:         "Point-to-point encrypted TUN tunnel",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if flags.Debug {
				util.EnableDebug()
				return nil
			}
			if cmd.Flags().Changed("log-level") {
				return util.SetLevel(flags.LogLevel)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&flags.LogLevel, "log-level", "info", "logging level (debug, info, warn, error); overrides log_level in the config file")
	cmd.PersistentFlags().BoolVar(&flags.Debug, "debug", false, "enable debug logging")

	cmd.AddCommand(
		newServerCommand(),
		newClientCommand(),
		newGenConfigCommand(),
		newKeygenCommand(),
	)
	return cmd
}

// applyConfigLogLevel uses the config file's level unless a flag already set
// one.
func applyConfigLogLevel(cmd *cobra.Command, level string) error {
	if level == "" || cmd.Flags().Changed("log-level") || cmd.Flags().Changed("debug") {
		return nil
	}
	return util.SetLevel(level)
}
