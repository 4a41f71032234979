package commands

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/narvanalabs/pve-monitor/internal/actions"
	"github.com/spf13/cobra"
)

var serviceShort = map[actions.Service]string{
	actions.ServiceStart:    "Start a guest",
	actions.ServiceShutdown: "Shut a guest down cleanly",
	actions.ServiceStopHard: "Stop a guest immediately",
	actions.ServiceReboot:   "Reboot a guest",
}

// serviceCommands returns one command per guest service. Command names use
// dashes, so stop_hard becomes stop-hard.
func serviceCommands(g *globals) []*cobra.Command {
	out := make([]*cobra.Command, 0, len(actions.Services()))
	for _, svc := range actions.Services() {
		out = append(out, serviceCommand(g, svc))
	}
	return out
}

func serviceCommand(g *globals, svc actions.Service) *cobra.Command {
	var (
		target  actions.Target
		vmid    int
		refresh bool
	)

	cmd := &cobra.Command{
		Use:   strings.ReplaceAll(string(svc), "_", "-"),
		Short: serviceShort[svc],
		Long: fmt.Sprintf(`%s.

Select the guest either by --device-id or by --node and --vmid. When more
than one connection could own the guest, narrow it with --connection-id or
--host.`, serviceShort[svc]),
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("vmid") {
				target.VMID = &vmid
			}
			path := "/v1/services/" + string(svc)
			if refresh {
				path += "?refresh=true"
			}
			raw, err := newClient(g).do(cmd.Context(), http.MethodPost, path, target)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), raw)
		},
	}

	cmd.Flags().StringVar(&target.DeviceID, "device-id", "", "Device id or resource identifier")
	cmd.Flags().StringVar(&target.ConnectionID, "connection-id", "", "Connection owning the guest")
	cmd.Flags().StringVar(&target.Host, "host", "", "Cluster host owning the guest")
	cmd.Flags().StringVar(&target.Node, "node", "", "Node the guest runs on")
	cmd.Flags().IntVar(&vmid, "vmid", 0, "Guest id")
	cmd.Flags().StringVar(&target.Type, "type", "", "Guest type: vm or container (default vm)")
	cmd.Flags().BoolVar(&refresh, "refresh", false, "Refresh the guest status right after the command")

	return cmd
}
