// Package actions resolves guest lifecycle commands to a cluster connection
// and a guest, then issues them.
package actions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/narvanalabs/pve-monitor/internal/connection"
	"github.com/narvanalabs/pve-monitor/internal/metrics"
	"github.com/narvanalabs/pve-monitor/internal/models"
	"github.com/narvanalabs/pve-monitor/internal/pve"
	"github.com/narvanalabs/pve-monitor/internal/store"
)

// Service is an inbound command name.
type Service string

const (
	ServiceStart    Service = "start"
	ServiceShutdown Service = "shutdown"
	ServiceStopHard Service = "stop_hard"
	ServiceReboot   Service = "reboot"
)

// Services lists every command in registration order.
func Services() []Service {
	return []Service{ServiceStart, ServiceShutdown, ServiceStopHard, ServiceReboot}
}

// ParseService validates a command name.
func ParseService(s string) (Service, error) {
	for _, svc := range Services() {
		if string(svc) == s {
			return svc, nil
		}
	}
	return "", fmt.Errorf("unknown service %q", s)
}

// Action returns the cluster API action the command maps to.
func (s Service) Action() string {
	switch s {
	case ServiceStart:
		return pve.ActionStart
	case ServiceShutdown:
		return pve.ActionShutdown
	case ServiceStopHard:
		return pve.ActionStop
	case ServiceReboot:
		return pve.ActionReboot
	default:
		return ""
	}
}

// Target selects the guest a command applies to. Either DeviceID or Node
// plus VMID must be set.
type Target struct {
	DeviceID     string `json:"device_id,omitempty"`
	ConnectionID string `json:"connection_id,omitempty"`
	Host         string `json:"host,omitempty"`
	Node         string `json:"node,omitempty"`
	VMID         *int   `json:"vmid,omitempty"`
	// Type is vm or container (qemu and lxc are accepted). Defaults to vm.
	Type string `json:"type,omitempty"`
}

// Result describes a dispatched command.
type Result struct {
	Service      Service            `json:"service"`
	Action       string             `json:"action"`
	ConnectionID string             `json:"connection_id"`
	Key          models.ResourceKey `json:"-"`
	Identifier   string             `json:"identifier"`
	// Strategy is how the connection was chosen.
	Strategy Strategy `json:"strategy"`
}

// Dispatcher resolves and issues guest commands.
type Dispatcher struct {
	connections *connection.Registry
	devices     store.DeviceStore
	logger      *slog.Logger
	registered  atomic.Bool
}

// NewDispatcher creates a dispatcher. Commands are rejected until Register
// is called.
func NewDispatcher(connections *connection.Registry, devices store.DeviceStore, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		connections: connections,
		devices:     devices,
		logger:      logger.With("component", "actions"),
	}
}

// Register enables the command services.
func (d *Dispatcher) Register() {
	if !d.registered.Swap(true) {
		d.logger.Info("guest services registered", "services", Services())
	}
}

// Deregister disables the command services.
func (d *Dispatcher) Deregister() {
	if d.registered.Swap(false) {
		d.logger.Info("guest services deregistered")
	}
}

// Registered reports whether commands are accepted.
func (d *Dispatcher) Registered() bool {
	return d.registered.Load()
}

// Dispatch resolves the target and issues the command. It does not wait for
// the guest's coordinator to observe the change; see RequestRefresh.
func (d *Dispatcher) Dispatch(ctx context.Context, svc Service, t Target) (*Result, error) {
	res, err := d.dispatch(ctx, svc, t)
	metrics.RecordAction(string(svc), err)
	return res, err
}

func (d *Dispatcher) dispatch(ctx context.Context, svc Service, t Target) (*Result, error) {
	if !d.Registered() {
		return nil, ErrNotRegistered
	}
	action := svc.Action()
	if action == "" {
		return nil, fmt.Errorf("unknown service %q", svc)
	}

	key, device, err := d.resolveKey(ctx, t)
	if err != nil {
		return nil, err
	}
	conn, strategy, err := d.resolveConnection(t, key, device)
	if err != nil {
		return nil, err
	}

	d.logger.Debug("dispatching guest action",
		"service", svc,
		"action", action,
		"connection_id", conn.ID(),
		"key", key.String(),
		"strategy", strategy,
	)
	if err := conn.Client().GuestAction(ctx, key.Node, key.ID, key.Kind, action); err != nil {
		return nil, fmt.Errorf("%s %s on %s: %w", action, key, conn.ID(), err)
	}

	return &Result{
		Service:      svc,
		Action:       action,
		ConnectionID: conn.ID(),
		Key:          key,
		Identifier:   key.Identifier(),
		Strategy:     strategy,
	}, nil
}

// RequestRefresh asks the guest's coordinator for an immediate refresh. It
// reports whether a coordinator was found.
func (d *Dispatcher) RequestRefresh(res *Result) bool {
	conn, ok := d.connections.Get(res.ConnectionID)
	if !ok {
		return false
	}
	c, ok := conn.Reconciler().GuestCoordinator(res.Key)
	if !ok {
		return false
	}
	c.RefreshAsync()
	return true
}

func (d *Dispatcher) lookupDevice(ctx context.Context, ref string) (*models.Device, error) {
	if d.devices == nil {
		return nil, store.ErrNotFound
	}
	dev, err := d.devices.Get(ctx, ref)
	if errors.Is(err, store.ErrNotFound) {
		dev, err = d.devices.GetByIdentifier(ctx, ref)
	}
	return dev, err
}

func (d *Dispatcher) resolveKey(ctx context.Context, t Target) (models.ResourceKey, *models.Device, error) {
	if ref := strings.TrimSpace(t.DeviceID); ref != "" {
		dev, err := d.lookupDevice(ctx, ref)
		if errors.Is(err, store.ErrNotFound) {
			return models.ResourceKey{}, nil, resolveErr(StrategyDevice, ReasonNotFound, "device %s not found", ref)
		}
		if err != nil {
			return models.ResourceKey{}, nil, fmt.Errorf("looking up device %s: %w", ref, err)
		}
		key, err := models.ParseIdentifier(dev.Identifier)
		if err != nil {
			return models.ResourceKey{}, nil, resolveErr(StrategyDevice, ReasonWrongKind,
				"device %s is not a guest: %v", ref, err)
		}
		return key, dev, nil
	}

	if t.Node == "" || t.VMID == nil {
		return models.ResourceKey{}, nil, resolveErr(StrategyTarget, ReasonInvalid,
			"provide a device_id or node and vmid")
	}
	kindName := t.Type
	if kindName == "" {
		kindName = string(models.KindVM)
	}
	kind, err := models.ParseKind(kindName)
	if err != nil || !kind.IsGuest() {
		return models.ResourceKey{}, nil, resolveErr(StrategyTarget, ReasonWrongKind,
			"type must be vm or container, got %q", t.Type)
	}
	return models.GuestKey(t.Node, kind, *t.VMID), nil, nil
}

func (d *Dispatcher) resolveConnection(t Target, key models.ResourceKey, device *models.Device) (*connection.Connection, Strategy, error) {
	if t.ConnectionID != "" {
		conn, ok := d.connections.Get(t.ConnectionID)
		if !ok {
			return nil, "", resolveErr(StrategyConnectionID, ReasonNotLoaded,
				"connection %s not found or not loaded", t.ConnectionID)
		}
		return conn, StrategyConnectionID, nil
	}

	if device != nil {
		var loaded []*connection.Connection
		for _, id := range device.ConnectionIDs {
			if conn, ok := d.connections.Get(id); ok {
				loaded = append(loaded, conn)
			}
		}
		if len(loaded) == 0 {
			return nil, "", resolveErr(StrategyDevice, ReasonNotLoaded,
				"device %s is not linked to any loaded connection", device.Identifier)
		}
		if len(loaded) > 1 {
			d.logger.Warn("device belongs to several connections, using the first",
				"device", device.Identifier, "connection_id", loaded[0].ID())
		}
		return loaded[0], StrategyDevice, nil
	}

	if host := strings.TrimSpace(t.Host); host != "" {
		var matches []*connection.Connection
		for _, conn := range d.connections.List() {
			if strings.EqualFold(conn.Host(), host) {
				matches = append(matches, conn)
			}
		}
		switch len(matches) {
		case 0:
			return nil, "", resolveErr(StrategyHost, ReasonNotFound, "no connection for host %q", host)
		case 1:
			return matches[0], StrategyHost, nil
		default:
			return nil, "", resolveErr(StrategyHost, ReasonAmbiguous,
				"%d connections use host %q, provide connection_id", len(matches), host)
		}
	}

	var matches []*connection.Connection
	for _, conn := range d.connections.List() {
		records, ok := conn.Inventory().Data()
		if !ok {
			continue
		}
		for _, rec := range records {
			if k, ok := rec.Key(); ok && k == key {
				matches = append(matches, conn)
				break
			}
		}
	}
	switch len(matches) {
	case 0:
		return nil, "", resolveErr(StrategyInventory, ReasonNotFound,
			"guest %s not found on any connection, provide host or connection_id", key)
	case 1:
		return matches[0], StrategyInventory, nil
	default:
		return nil, "", resolveErr(StrategyInventory, ReasonAmbiguous,
			"guest %s exists on %d connections, provide host or connection_id", key, len(matches))
	}
}
