// Package commands defines the pvectl command tree and flag bindings.
package commands

import (
	"os"

	"github.com/spf13/cobra"
)

// globals are the flags shared by every command talking to the API.
type globals struct {
	server string
	token  string
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// Root returns the root command for the pvectl CLI.
func Root() *cobra.Command {
	g := &globals{}

	cmd := &cobra.Command{
		Use:           "pvectl",
		Short:         "Control and inspect a Proxmox VE cluster monitor",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&g.server, "server", envOr("PVE_MONITOR_URL", "http://localhost:8080"), "Monitor API base URL (env PVE_MONITOR_URL)")
	cmd.PersistentFlags().StringVar(&g.token, "token", os.Getenv("PVE_MONITOR_TOKEN"), "API bearer token (env PVE_MONITOR_TOKEN)")

	// Guest commands
	for _, c := range serviceCommands(g) {
		cmd.AddCommand(c)
	}

	// Connection state
	cmd.AddCommand(Connections(g))
	cmd.AddCommand(Diagnostics(g))
	cmd.AddCommand(Options(g))

	// Local utilities
	cmd.AddCommand(Token())
	cmd.AddCommand(EncryptToken())
	cmd.AddCommand(Keygen())

	return cmd
}
