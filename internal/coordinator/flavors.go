package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/narvanalabs/pve-monitor/internal/ipselect"
	"github.com/narvanalabs/pve-monitor/internal/models"
	"github.com/narvanalabs/pve-monitor/internal/pve"
)

// Coordinator kinds.
const (
	KindInventory   = "inventory"
	KindNodeList    = "node_list"
	KindNodeStatus  = "node_status"
	KindGuestStatus = "guest_status"
)

// Inventory polls every guest resource in the cluster.
type Inventory = Coordinator[[]models.Record]

// NodeList polls the cluster's compute nodes.
type NodeList = Coordinator[[]models.Record]

// NodeStatus polls the status of one compute node.
type NodeStatus = Coordinator[models.Record]

// Settings carries what every coordinator of a connection shares.
type Settings struct {
	Connection string
	Interval   time.Duration
	Timeout    time.Duration
	Logger     *slog.Logger
}

func (s Settings) config(name, kind string) Config {
	return Config{
		Name:       name,
		Kind:       kind,
		Connection: s.Connection,
		Interval:   s.Interval,
		Timeout:    s.Timeout,
		Logger:     s.Logger,
	}
}

// NewInventory creates the cluster inventory coordinator.
func NewInventory(client pve.Client, s Settings) *Inventory {
	return New(s.config("proxmox_resources", KindInventory), client.ListClusterGuestResources)
}

// NewNodeList creates the node list coordinator.
func NewNodeList(client pve.Client, s Settings) *NodeList {
	return New(s.config("proxmox_nodes", KindNodeList), client.ListNodes)
}

// NewNodeStatus creates the status coordinator for one node.
func NewNodeStatus(client pve.Client, s Settings, node string) *NodeStatus {
	return New(s.config("proxmox_node_"+node, KindNodeStatus), func(ctx context.Context) (models.Record, error) {
		return client.GetNodeStatus(ctx, node)
	})
}

// GuestStatus polls one guest's status and enriches it with the addresses
// reported by the guest agent.
type GuestStatus struct {
	*Coordinator[models.Record]

	client pve.Client
	key    models.ResourceKey
	logger *slog.Logger

	policyMu sync.RWMutex
	policy   models.AddressPolicy
}

// NewGuestStatus creates the status coordinator for one guest.
func NewGuestStatus(client pve.Client, s Settings, key models.ResourceKey, policy models.AddressPolicy) *GuestStatus {
	g := &GuestStatus{
		client: client,
		key:    key,
		policy: policy,
	}
	name := fmt.Sprintf("proxmox_guest_%s_%s_%d", key.Node, key.Kind, key.ID)
	g.Coordinator = New(s.config(name, KindGuestStatus), g.fetch)
	g.logger = g.Coordinator.logger
	return g
}

// Key returns the guest this coordinator polls.
func (g *GuestStatus) Key() models.ResourceKey {
	return g.key
}

// Policy returns the address selection policy in effect.
func (g *GuestStatus) Policy() models.AddressPolicy {
	g.policyMu.RLock()
	defer g.policyMu.RUnlock()
	return g.policy
}

// SetPolicy changes the address selection policy. It takes effect on the
// next fetch.
func (g *GuestStatus) SetPolicy(p models.AddressPolicy) {
	g.policyMu.Lock()
	g.policy = p
	g.policyMu.Unlock()
}

func (g *GuestStatus) fetch(ctx context.Context) (models.Record, error) {
	raw, err := g.client.GetGuestStatus(ctx, g.key.Node, g.key.ID, g.key.Kind)
	if err != nil {
		return nil, err
	}
	status := raw.Clone()
	if status == nil {
		status = models.Record{}
	}

	var reported []string
	if g.key.Kind.SupportsAgent() {
		reported, err = g.client.GetGuestAgentAddresses(ctx, g.key.Node, g.key.ID)
		if err != nil {
			// The agent is often not installed or not running.
			g.logger.Debug("guest agent query failed", "key", g.key.String(), "error", err)
			reported = nil
		}
	}

	addrs := ipselect.Collect(reported)
	status[models.FieldIPAddresses] = addrs

	policy := g.Policy()
	if ip, ok := ipselect.Select(addrs, policy.Mode, policy.Prefix); ok {
		status[models.FieldPreferredIP] = ip
	} else {
		delete(status, models.FieldPreferredIP)
	}
	return status, nil
}
