// Package cli implements the xproxy command tree.
package cli

import (
	"github.com/spf13/cobra"

	// channel adapters register themselves by name
	_ "github.com/trickstertwo/xproxy/adapter/memory"
	_ "github.com/trickstertwo/xproxy/adapter/nats"
	_ "github.com/trickstertwo/xproxy/adapter/redisstream"
	_ "github.com/trickstertwo/xproxy/adapter/websocket"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Verbose    bool
}

// NewRootCommand creates the root command for the xproxy CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "xproxy",
		Short: "Request/response over one-way message channels",
		Long: `xproxy turns one-way message channels (NATS subjects, Redis streams,
websockets) into request/response links. Every request carries a tracking
id and the reply carrying the same id settles it.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "config file (default "+defaultConfigPath()+")")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")

	cmd.AddCommand(NewSendCommand(opts))
	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewConfigCommand(opts))

	return cmd
}
