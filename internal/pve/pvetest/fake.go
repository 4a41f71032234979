// Package pvetest provides an in-memory pve.Client for tests.
package pvetest

import (
	"context"
	"fmt"
	"sync"

	"github.com/narvanalabs/pve-monitor/internal/models"
	"github.com/narvanalabs/pve-monitor/internal/pve"
)

// Action is one recorded GuestAction call.
type Action struct {
	Key    models.ResourceKey
	Action string
}

// Client is a scriptable fake of pve.Client. The zero value is usable.
type Client struct {
	mu sync.Mutex

	Resources    []models.Record
	Nodes        []models.Record
	NodeStatus   map[string]models.Record
	GuestStatus  map[models.ResourceKey]models.Record
	AgentAddrs   map[models.ResourceKey][]string
	VersionInfo  models.Record
	Cluster      []models.Record
	ConnErr      error
	ResourcesErr error
	NodesErr     error
	StatusErr    error
	AgentErr     error
	ActionErr    error

	// Block, when set, is received from before every list/status call
	// returns, letting tests hold a fetch in flight.
	Block chan struct{}

	Actions []Action
	calls   map[string]int
}

var _ pve.Client = (*Client)(nil)

func (c *Client) record(name string) {
	if c.calls == nil {
		c.calls = make(map[string]int)
	}
	c.calls[name]++
}

// Calls returns how many times the named method was invoked.
func (c *Client) Calls(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[name]
}

// SetResources replaces the inventory returned by ListClusterGuestResources.
func (c *Client) SetResources(records []models.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Resources = records
}

// SetGuestStatus sets the status payload of one guest.
func (c *Client) SetGuestStatus(key models.ResourceKey, status models.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.GuestStatus == nil {
		c.GuestStatus = make(map[models.ResourceKey]models.Record)
	}
	c.GuestStatus[key] = status
}

// RecordedActions returns a copy of the recorded guest actions.
func (c *Client) RecordedActions() []Action {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Action(nil), c.Actions...)
}

func (c *Client) wait(ctx context.Context) error {
	c.mu.Lock()
	block := c.Block
	c.mu.Unlock()
	if block == nil {
		return nil
	}
	select {
	case <-block:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) TestConnection(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("TestConnection")
	return c.ConnErr
}

// Version returns VersionInfo, or ConnErr when set.
func (c *Client) Version(ctx context.Context) (models.Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("Version")
	if c.ConnErr != nil {
		return nil, c.ConnErr
	}
	return c.VersionInfo.Clone(), nil
}

func (c *Client) ClusterStatus(ctx context.Context) ([]models.Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("ClusterStatus")
	if c.ConnErr != nil {
		return nil, c.ConnErr
	}
	return append([]models.Record(nil), c.Cluster...), nil
}

func (c *Client) ListClusterGuestResources(ctx context.Context) ([]models.Record, error) {
	c.mu.Lock()
	c.record("ListClusterGuestResources")
	c.mu.Unlock()
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ResourcesErr != nil {
		return nil, c.ResourcesErr
	}
	return append([]models.Record(nil), c.Resources...), nil
}

func (c *Client) ListNodes(ctx context.Context) ([]models.Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("ListNodes")
	if c.NodesErr != nil {
		return nil, c.NodesErr
	}
	return append([]models.Record(nil), c.Nodes...), nil
}

func (c *Client) GetNodeStatus(ctx context.Context, node string) (models.Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("GetNodeStatus")
	if status, ok := c.NodeStatus[node]; ok {
		return status.Clone(), nil
	}
	return models.Record{}, nil
}

func (c *Client) GuestAction(ctx context.Context, node string, id int, kind models.Kind, action string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("GuestAction")
	if c.ActionErr != nil {
		return c.ActionErr
	}
	c.Actions = append(c.Actions, Action{Key: models.GuestKey(node, kind, id), Action: action})
	return nil
}

func (c *Client) GetGuestStatus(ctx context.Context, node string, id int, kind models.Kind) (models.Record, error) {
	c.mu.Lock()
	c.record("GetGuestStatus")
	c.mu.Unlock()
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.StatusErr != nil {
		return nil, c.StatusErr
	}
	if status, ok := c.GuestStatus[models.GuestKey(node, kind, id)]; ok {
		return status.Clone(), nil
	}
	return models.Record{"status": "unknown"}, nil
}

func (c *Client) GetGuestAgentAddresses(ctx context.Context, node string, id int) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("GetGuestAgentAddresses")
	if c.AgentErr != nil {
		return nil, c.AgentErr
	}
	addrs, ok := c.AgentAddrs[models.GuestKey(node, models.KindVM, id)]
	if !ok {
		return nil, &pve.APIError{StatusCode: 500, Path: fmt.Sprintf("/nodes/%s/qemu/%d/agent/network-get-interfaces", node, id), Message: "QEMU guest agent is not running"}
	}
	return append([]string(nil), addrs...), nil
}
