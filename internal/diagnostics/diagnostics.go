// Package diagnostics builds a shareable snapshot of one connection's state
// with credentials and addresses masked.
package diagnostics

import (
	"context"
	"fmt"
	"time"

	"github.com/narvanalabs/pve-monitor/internal/connection"
	"github.com/narvanalabs/pve-monitor/internal/coordinator"
	"github.com/narvanalabs/pve-monitor/internal/models"
)

const (
	resourcePreviewLen    = 25
	nodePreviewLen        = 15
	coordinatorPreviewLen = 3
	clusterPreviewLen     = 5
)

// MetaClient is implemented by clients able to report cluster metadata.
type MetaClient interface {
	Version(ctx context.Context) (models.Record, error)
	ClusterStatus(ctx context.Context) ([]models.Record, error)
}

// Counts summarizes the inventory.
type Counts struct {
	Nodes       int `json:"nodes"`
	VMs         int `json:"vms"`
	Containers  int `json:"containers"`
	TotalGuests int `json:"total_guests"`
}

// Build collects the diagnostics document of a connection. Cluster metadata
// failures are reported inside the document rather than returned.
func Build(ctx context.Context, conn *connection.Connection) map[string]any {
	s := conn.Settings()
	opts := s.Options

	resources, _ := conn.Inventory().Data()
	nodes, _ := conn.Nodes().Data()

	counts := CountResources(resources)
	counts.Nodes = len(nodes)

	version, cluster := meta(ctx, conn)

	var nodeCoords, guestCoords []map[string]any
	for _, info := range conn.Reconciler().Infos() {
		switch info.Kind {
		case coordinator.KindNodeStatus:
			nodeCoords = append(nodeCoords, coordinatorState(info))
		case coordinator.KindGuestStatus:
			guestCoords = append(guestCoords, coordinatorState(info))
		}
	}

	doc := map[string]any{
		"connection": map[string]any{
			"id":          s.ID,
			"name":        s.Name,
			"host":        s.Host,
			"port":        s.Port,
			"verify_ssl":  s.VerifySSL,
			"token_name":  MaskTokenName(s.TokenName),
			"token_value": RedactSecret(s.TokenValue),
			"loaded_at":   conn.LoadedAt().Format(time.RFC3339),
		},
		"runtime": map[string]any{
			"scan_interval": int(opts.ScanInterval / time.Second),
			"ip_mode":       string(opts.IPMode),
			"ip_prefix":     opts.IPPrefix,
			"healthy":       conn.Healthy(),
		},
		"proxmox": map[string]any{
			"version": version,
			"cluster": cluster,
			"counts":  counts,
		},
		"coordinators": map[string]any{
			"resources":          coordinatorState(conn.Inventory().Info()),
			"nodes":              coordinatorState(conn.Nodes().Info()),
			"node_coordinators":  nodeCoords,
			"guest_coordinators": guestCoords,
		},
		"data_preview": map[string]any{
			"resources_preview": resourcePreview(resources),
			"nodes_preview":     nodePreview(nodes),
		},
	}
	return Sanitize(doc).(map[string]any)
}

func meta(ctx context.Context, conn *connection.Connection) (any, any) {
	mc, ok := conn.Client().(MetaClient)
	if !ok {
		unsupported := map[string]any{"error": "client does not expose cluster metadata"}
		return unsupported, nil
	}

	var version any
	if v, err := mc.Version(ctx); err != nil {
		version = map[string]any{"error": fmt.Sprintf("querying /version: %v", err)}
	} else {
		version = v
	}

	status, err := mc.ClusterStatus(ctx)
	if err != nil {
		return version, map[string]any{"error": fmt.Sprintf("querying /cluster/status: %v", err)}
	}
	return version, ClusterSummary(status)
}

// CountResources counts VMs and containers in an inventory snapshot. Records
// of type node are counted too when present.
func CountResources(records []models.Record) Counts {
	var c Counts
	for _, r := range records {
		t, _ := r.String("type")
		switch t {
		case "node":
			c.Nodes++
		case "qemu":
			c.VMs++
			c.TotalGuests++
		case "lxc":
			c.Containers++
			c.TotalGuests++
		}
	}
	return c
}

// ClusterSummary extracts the cluster name and node count from the
// /cluster/status entries.
func ClusterSummary(status []models.Record) map[string]any {
	var name any
	nodes := 0
	for _, item := range status {
		t, _ := item.String("type")
		switch t {
		case "cluster":
			if n, _ := item.String("name"); n != "" {
				name = n
			}
		case "node":
			nodes++
		}
	}
	preview := status
	if len(preview) > clusterPreviewLen {
		preview = preview[:clusterPreviewLen]
	}
	return map[string]any{
		"name":        name,
		"nodes":       nodes,
		"raw_preview": preview,
	}
}

func coordinatorState(info coordinator.Info) map[string]any {
	lastErr := ""
	if info.LastError != nil {
		lastErr = info.LastError.Error()
	}

	var preview any
	dataType := "none"
	if info.HasData {
		switch d := info.Data.(type) {
		case []models.Record:
			dataType = "list"
			if len(d) > coordinatorPreviewLen {
				d = d[:coordinatorPreviewLen]
			}
			preview = d
		case models.Record:
			dataType = "record"
		default:
			dataType = fmt.Sprintf("%T", d)
		}
	}

	var lastUpdate string
	if !info.LastUpdate.IsZero() {
		lastUpdate = info.LastUpdate.UTC().Format(time.RFC3339)
	}

	return map[string]any{
		"name":                info.Name,
		"kind":                info.Kind,
		"update_interval":     info.Interval.String(),
		"state":               string(info.State),
		"last_update_success": info.LastUpdateSuccess,
		"last_update":         lastUpdate,
		"last_error":          lastErr,
		"data_type":           dataType,
		"data_preview":        preview,
	}
}

func resourcePreview(records []models.Record) []map[string]any {
	if len(records) > resourcePreviewLen {
		records = records[:resourcePreviewLen]
	}
	out := make([]map[string]any, 0, len(records))
	for _, r := range records {
		out = append(out, pick(r, "type", "node", "vmid", "name", "status"))
	}
	return out
}

func nodePreview(records []models.Record) []map[string]any {
	if len(records) > nodePreviewLen {
		records = records[:nodePreviewLen]
	}
	out := make([]map[string]any, 0, len(records))
	for _, r := range records {
		out = append(out, pick(r, "node", "status", "uptime", "cpu", "mem", "maxmem"))
	}
	return out
}

func pick(r models.Record, fields ...string) map[string]any {
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		out[f] = r[f]
	}
	return out
}
