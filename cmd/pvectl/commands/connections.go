package commands

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"text/tabwriter"

	"github.com/narvanalabs/pve-monitor/internal/api/handlers"
	"github.com/narvanalabs/pve-monitor/internal/models"
	"github.com/spf13/cobra"
)

// Connections returns the command listing the loaded connections.
func Connections(g *globals) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "connections",
		Short: "List the loaded cluster connections",
		RunE: func(cmd *cobra.Command, _ []string) error {
			raw, err := newClient(g).do(cmd.Context(), http.MethodGet, "/v1/connections", nil)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), raw)
			}

			var conns []handlers.ConnectionView
			if err := json.Unmarshal(raw, &conns); err != nil {
				return fmt.Errorf("decoding connections: %w", err)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tHOST\tHEALTHY\tINTERVAL\tGUESTS\tNODES")
			for _, c := range conns {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%ds\t%d\t%d\n",
					c.ID, c.Name, c.Host, c.Healthy, c.Options.ScanInterval, c.GuestCoordinators, c.NodeCoordinators)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	return cmd
}

// Diagnostics returns the command printing the redacted diagnostics of one
// connection.
func Diagnostics(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "diagnostics <connection-id>",
		Short: "Print the redacted diagnostics document of a connection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/v1/connections/" + url.PathEscape(args[0]) + "/diagnostics"
			raw, err := newClient(g).do(cmd.Context(), http.MethodGet, path, nil)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), raw)
		},
	}
}

// Options returns the command changing the live options of a connection.
func Options(g *globals) *cobra.Command {
	var (
		scanInterval int
		ipMode       string
		ipPrefix     string
	)

	cmd := &cobra.Command{
		Use:   "options <connection-id>",
		Short: "Change the scan interval or address selection of a connection",
		Long: `Change the live options of a connection without reloading it.

Only the flags given are changed. The scan interval is in seconds (5-3600).
IP modes: prefer_192168, prefer_private, any, custom_prefix.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var req handlers.UpdateOptionsRequest
			if cmd.Flags().Changed("scan-interval") {
				req.ScanInterval = &scanInterval
			}
			if cmd.Flags().Changed("ip-mode") {
				mode := models.IPMode(ipMode)
				req.IPMode = &mode
			}
			if cmd.Flags().Changed("ip-prefix") {
				req.IPPrefix = &ipPrefix
			}
			if req == (handlers.UpdateOptionsRequest{}) {
				return fmt.Errorf("nothing to change: pass --scan-interval, --ip-mode or --ip-prefix")
			}

			path := "/v1/connections/" + url.PathEscape(args[0]) + "/options"
			raw, err := newClient(g).do(cmd.Context(), http.MethodPatch, path, req)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), raw)
		},
	}

	cmd.Flags().IntVar(&scanInterval, "scan-interval", 0, "Poll interval in seconds")
	cmd.Flags().StringVar(&ipMode, "ip-mode", "", "Guest address selection mode")
	cmd.Flags().StringVar(&ipPrefix, "ip-prefix", "", "Address prefix for custom_prefix mode")
	return cmd
}
