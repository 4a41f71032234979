package diagnostics

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/narvanalabs/pve-monitor/internal/connection"
	"github.com/narvanalabs/pve-monitor/internal/models"
	"github.com/narvanalabs/pve-monitor/internal/pve"
	"github.com/narvanalabs/pve-monitor/internal/pve/pvetest"
	"github.com/narvanalabs/pve-monitor/internal/store/memdb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMasking(t *testing.T) {
	assert.Equal(t, "192.168.xxx.xxx", MaskIPv4("192.168.178.101"))
	assert.Equal(t, "pve-a", MaskIPv4("pve-a"))
	assert.Equal(t, "Proxmox 10.0.xxx.xxx:8006", MaskIPv4InText("Proxmox 10.0.3.7:8006"))
	assert.Equal(t, "no address", MaskIPv4InText("no address"))

	assert.Equal(t, "mo***ro", MaskTokenName("monitor@pve!ro"))
	assert.Equal(t, "****", MaskTokenName("abcd"))
	assert.Equal(t, "", MaskTokenName(""))

	assert.Equal(t, "abc***xyz", RedactSecret("abc-1234-5678-xyz"))
	assert.Equal(t, "***", RedactSecret("short"))
	assert.Equal(t, "", RedactSecret("  "))
}

func TestSanitizeWalksNestedValues(t *testing.T) {
	in := map[string]any{
		"ip":    "10.1.2.3",
		"list":  []any{"172.16.0.9", 42},
		"addrs": []string{"192.168.1.5"},
		"rec":   models.Record{"ip": "8.8.8.8"},
		"recs":  []models.Record{{"ip": "1.1.1.1"}},
	}
	out := Sanitize(in).(map[string]any)

	assert.Equal(t, "10.1.xxx.xxx", out["ip"])
	assert.Equal(t, []any{"172.16.xxx.xxx", 42}, out["list"])
	assert.Equal(t, []any{"192.168.xxx.xxx"}, out["addrs"])
	assert.Equal(t, map[string]any{"ip": "8.8.xxx.xxx"}, out["rec"])
	assert.Equal(t, []any{map[string]any{"ip": "1.1.xxx.xxx"}}, out["recs"])
	assert.Equal(t, "10.1.2.3", in["ip"])
}

func TestCountsAndClusterSummary(t *testing.T) {
	counts := CountResources([]models.Record{
		{"type": "qemu"}, {"type": "qemu"}, {"type": "lxc"}, {"type": "storage"},
	})
	assert.Equal(t, Counts{VMs: 2, Containers: 1, TotalGuests: 3}, counts)

	summary := ClusterSummary([]models.Record{
		{"type": "cluster", "name": "lab"},
		{"type": "node", "name": "pve1", "ip": "10.0.0.1"},
		{"type": "node", "name": "pve2", "ip": "10.0.0.2"},
	})
	assert.Equal(t, "lab", summary["name"])
	assert.Equal(t, 2, summary["nodes"])
}

func TestBuild(t *testing.T) {
	client := &pvetest.Client{
		Resources: []models.Record{
			{"node": "pve1", "type": "qemu", "vmid": 100, "name": "web", "status": "running"},
			{"node": "pve1", "type": "lxc", "vmid": 101, "name": "db", "status": "stopped"},
		},
		Nodes:       []models.Record{{"node": "pve1", "status": "online", "ip": "192.168.10.2"}},
		VersionInfo: models.Record{"version": "8.2.4", "release": "8.2"},
		Cluster: []models.Record{
			{"type": "cluster", "name": "lab"},
			{"type": "node", "name": "pve1", "ip": "192.168.10.2"},
		},
		AgentAddrs: map[models.ResourceKey][]string{
			models.GuestKey("pve1", models.KindVM, 100): {"192.168.10.50"},
		},
	}
	st, err := memdb.New()
	require.NoError(t, err)
	reg := connection.NewRegistry(connection.RegistryConfig{
		Deps:      connection.Deps{Store: st, Timeout: time.Second},
		NewClient: func(connection.Settings) (pve.Client, error) { return client, nil },
	})
	t.Cleanup(reg.Close)

	conn, err := reg.Add(context.Background(), connection.Settings{
		ID:         "lab",
		Name:       "Proxmox 192.168.10.2",
		Host:       "192.168.10.2",
		Port:       8006,
		TokenName:  "monitor@pve!ro",
		TokenValue: "0b7c1d2e-aaaa-bbbb-cccc-1234567890ab",
		Options:    models.DefaultOptions(),
	})
	require.NoError(t, err)

	doc := Build(context.Background(), conn)

	c := doc["connection"].(map[string]any)
	assert.Equal(t, "192.168.xxx.xxx", c["host"])
	assert.Equal(t, "Proxmox 192.168.xxx.xxx", c["name"])
	assert.Equal(t, "mo***ro", c["token_name"])
	assert.Equal(t, "0b7***0ab", c["token_value"])

	proxmox := doc["proxmox"].(map[string]any)
	assert.Equal(t, Counts{Nodes: 1, VMs: 1, Containers: 1, TotalGuests: 2}, proxmox["counts"])
	cluster := proxmox["cluster"].(map[string]any)
	assert.Equal(t, "lab", cluster["name"])
	assert.Equal(t, 1, cluster["nodes"])

	coords := doc["coordinators"].(map[string]any)
	resources := coords["resources"].(map[string]any)
	assert.Equal(t, "proxmox_resources", resources["name"])
	assert.Equal(t, "list", resources["data_type"])
	assert.Equal(t, true, resources["last_update_success"])
	assert.Len(t, coords["node_coordinators"], 1)
	assert.Len(t, coords["guest_coordinators"], 2)

	preview := doc["data_preview"].(map[string]any)
	assert.Len(t, preview["resources_preview"], 2)
	assert.Len(t, preview["nodes_preview"], 1)

	raw, err := json.Marshal(doc)
	require.NoError(t, err)
	assert.NotRegexp(t, ipv4Pattern, string(raw))
	assert.NotContains(t, string(raw), "1234567890ab")
}

type bareClient struct{ pve.Client }

func TestBuildWithoutMetadata(t *testing.T) {
	fake := &pvetest.Client{Nodes: []models.Record{{"node": "pve1"}}}
	st, err := memdb.New()
	require.NoError(t, err)
	reg := connection.NewRegistry(connection.RegistryConfig{
		Deps:      connection.Deps{Store: st, Timeout: time.Second},
		NewClient: func(connection.Settings) (pve.Client, error) { return bareClient{fake}, nil },
	})
	t.Cleanup(reg.Close)

	conn, err := reg.Add(context.Background(), connection.Settings{
		ID: "x", Name: "x", Host: "pve-x", TokenName: "t", Options: models.DefaultOptions(),
	})
	require.NoError(t, err)

	doc := Build(context.Background(), conn)
	proxmox := doc["proxmox"].(map[string]any)
	assert.Contains(t, proxmox["version"], "error")
	assert.Nil(t, proxmox["cluster"])
}
