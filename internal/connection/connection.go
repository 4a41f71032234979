// Package connection manages the lifecycle of cluster connections: the
// client, the inventory and node list coordinators and the reconciler that
// hangs off them.
package connection

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/narvanalabs/pve-monitor/internal/coordinator"
	"github.com/narvanalabs/pve-monitor/internal/events"
	"github.com/narvanalabs/pve-monitor/internal/metrics"
	"github.com/narvanalabs/pve-monitor/internal/models"
	"github.com/narvanalabs/pve-monitor/internal/pve"
	"github.com/narvanalabs/pve-monitor/internal/reconciler"
	"github.com/narvanalabs/pve-monitor/internal/store"
)

// Settings describes one cluster connection.
type Settings struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Host       string         `json:"host"`
	Port       int            `json:"port"`
	VerifySSL  bool           `json:"verify_ssl"`
	TokenName  string         `json:"token_name"`
	TokenValue string         `json:"token_value"`
	Options    models.Options `json:"options"`
}

// Identity returns the string that must be unique across connections:
// host, port and token name.
func (s Settings) Identity() string {
	port := s.Port
	if port == 0 {
		port = pve.DefaultPort
	}
	return strings.ToLower(net.JoinHostPort(s.Host, strconv.Itoa(port))) + ":" + s.TokenName
}

// Connection is one loaded cluster connection.
type Connection struct {
	settings  Settings
	client    pve.Client
	inventory *coordinator.Inventory
	nodes     *coordinator.NodeList
	rec       *reconciler.Reconciler
	logger    *slog.Logger

	mu      sync.RWMutex
	options models.Options
	loaded  time.Time
}

// Deps are the collaborators shared by every connection.
type Deps struct {
	Store   store.Store
	Events  events.Publisher
	Timeout time.Duration
	Logger  *slog.Logger
}

// Open builds a connection around an already tested client: it performs the
// first refresh of the inventory and node list, creates the entities and
// starts polling. A failing first refresh aborts the setup.
func Open(ctx context.Context, s Settings, client pve.Client, deps Deps) (*Connection, error) {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Events == nil {
		deps.Events = events.Discard
	}
	opts := s.Options
	if opts.ScanInterval <= 0 {
		opts = models.DefaultOptions()
	}
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid options: %w", err)
	}

	logger := deps.Logger.With("connection_id", s.ID)
	cs := coordinator.Settings{
		Connection: s.ID,
		Interval:   opts.ScanInterval,
		Timeout:    deps.Timeout,
		Logger:     logger,
	}

	c := &Connection{
		settings:  s,
		client:    client,
		inventory: coordinator.NewInventory(client, cs),
		nodes:     coordinator.NewNodeList(client, cs),
		logger:    logger,
		options:   opts,
		loaded:    time.Now().UTC(),
	}
	c.rec = reconciler.New(reconciler.Config{
		ConnectionID: s.ID,
		Client:       client,
		Store:        deps.Store,
		Events:       deps.Events,
		Options:      opts,
		Timeout:      deps.Timeout,
		Logger:       logger,
	})

	for _, first := range []interface{ Refresh(context.Context) error }{c.inventory, c.nodes} {
		if err := first.Refresh(ctx); err != nil {
			c.stop()
			return nil, fmt.Errorf("first refresh: %w", err)
		}
	}

	c.rec.Attach(context.Background(), c.inventory, c.nodes)

	go func() { _ = c.inventory.Start(context.Background()) }()
	go func() { _ = c.nodes.Start(context.Background()) }()

	logger.Info("connection loaded", "host", s.Host, "scan_interval", opts.ScanInterval)
	return c, nil
}

// ID returns the connection id.
func (c *Connection) ID() string { return c.settings.ID }

// Name returns the display name.
func (c *Connection) Name() string { return c.settings.Name }

// Host returns the cluster host.
func (c *Connection) Host() string { return c.settings.Host }

// Settings returns the connection settings with the live options.
func (c *Connection) Settings() Settings {
	s := c.settings
	s.Options = c.Options()
	return s
}

// Client returns the cluster API client.
func (c *Connection) Client() pve.Client { return c.client }

// Inventory returns the cluster inventory coordinator.
func (c *Connection) Inventory() *coordinator.Inventory { return c.inventory }

// Nodes returns the node list coordinator.
func (c *Connection) Nodes() *coordinator.NodeList { return c.nodes }

// Reconciler returns the connection's reconciler.
func (c *Connection) Reconciler() *reconciler.Reconciler { return c.rec }

// LoadedAt returns when the connection finished loading.
func (c *Connection) LoadedAt() time.Time { return c.loaded }

// Options returns the live options.
func (c *Connection) Options() models.Options {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.options
}

// Healthy reports whether the last inventory poll succeeded.
func (c *Connection) Healthy() bool {
	return c.inventory.LastUpdateSuccess()
}

// ApplyOptions validates opts and applies them to every live coordinator
// without recreating any. Each coordinator is refreshed once in the
// background.
func (c *Connection) ApplyOptions(opts models.Options) error {
	if err := opts.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	c.options = opts
	c.mu.Unlock()

	c.inventory.SetInterval(opts.ScanInterval)
	c.nodes.SetInterval(opts.ScanInterval)
	c.rec.ApplyOptions(opts)
	c.inventory.RefreshAsync()
	c.nodes.RefreshAsync()

	c.logger.Info("options applied",
		"scan_interval", opts.ScanInterval,
		"ip_mode", opts.IPMode,
		"ip_prefix", opts.IPPrefix,
	)
	return nil
}

// Coordinators describes every coordinator of the connection: inventory and
// node list first, then per-resource coordinators by name.
func (c *Connection) Coordinators() []coordinator.Info {
	out := []coordinator.Info{c.inventory.Info(), c.nodes.Info()}
	return append(out, c.rec.Infos()...)
}

func (c *Connection) stop() {
	c.rec.Close()
	c.inventory.Stop()
	c.nodes.Stop()
}

// Unload stops every coordinator, releases the client's transport and drops
// the connection's metric series.
func (c *Connection) Unload() {
	c.stop()
	if closer, ok := c.client.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			c.logger.Warn("failed to close client", "error", err)
		}
	}
	metrics.ForgetConnection(c.settings.ID)
	c.logger.Info("connection unloaded")
}
