package commands

import (
	"github.com/spf13/cobra"
)

var (
	// host is the remote node to talk to.
	host string

	// port is the remote node's published port.
	port uint16

	// timeout is the per-request timeout in seconds.
	timeout int
)

// rootCmd is the base command for the CLI.
var rootCmd = &cobra.Command{
	Use:   "troupe",
	Short: "Troupe actor runtime CLI",
	Long: `Troupe CLI talks to a running trouped node over the peer
protocol. Use it to smoke-test published actors: ping round-trips a text
message through the remote echo actor, send fires one off without waiting.`,
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&host, "host", "localhost",
		"Host of the remote node",
	)
	rootCmd.PersistentFlags().Uint16Var(
		&port, "port", 9009,
		"Published port of the remote node",
	)
	rootCmd.PersistentFlags().IntVar(
		&timeout, "timeout", 10,
		"Request timeout in seconds",
	)
}
