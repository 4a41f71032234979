package reconciler

import (
	"context"
	"errors"
	"sort"

	"github.com/narvanalabs/pve-monitor/internal/coordinator"
	"github.com/narvanalabs/pve-monitor/internal/events"
	"github.com/narvanalabs/pve-monitor/internal/models"
)

// ErrClosed is returned by passes started after Close.
var ErrClosed = errors.New("reconciler closed")

func (r *Reconciler) settings() coordinator.Settings {
	return coordinator.Settings{
		Connection: r.cfg.ConnectionID,
		Interval:   r.options.ScanInterval,
		Timeout:    r.cfg.Timeout,
		Logger:     r.cfg.Logger,
	}
}

// guestCoordinator returns the coordinator of a guest, creating it if none
// exists. A new coordinator starts ticking and fetches once in the
// background.
func (r *Reconciler) guestCoordinator(k models.ResourceKey) *coordinator.GuestStatus {
	r.coordMu.Lock()
	defer r.coordMu.Unlock()

	if c, ok := r.guests[k]; ok {
		return c
	}
	c := coordinator.NewGuestStatus(r.cfg.Client, r.settings(), k, r.options.Policy())
	c.Subscribe(r.coordinatorEvents())
	r.guests[k] = c
	launch(c.Coordinator)
	return c
}

func (r *Reconciler) nodeCoordinator(node string) *coordinator.NodeStatus {
	r.coordMu.Lock()
	defer r.coordMu.Unlock()

	if c, ok := r.nodes[node]; ok {
		return c
	}
	c := coordinator.NewNodeStatus(r.cfg.Client, r.settings(), node)
	c.Subscribe(r.coordinatorEvents())
	r.nodes[node] = c
	launch(c)
	return c
}

func launch(c *coordinator.Coordinator[models.Record]) {
	go func() {
		_ = c.Start(context.Background())
	}()
	c.RefreshAsync()
}

func (r *Reconciler) dropCoordinator(k models.ResourceKey) {
	r.coordMu.Lock()
	defer r.coordMu.Unlock()

	if k.Kind == models.KindNode {
		if c, ok := r.nodes[k.Node]; ok {
			c.Stop()
			delete(r.nodes, k.Node)
		}
		return
	}
	if c, ok := r.guests[k]; ok {
		c.Stop()
		delete(r.guests, k)
	}
}

func (r *Reconciler) coordinatorEvents() coordinator.Listener[models.Record] {
	return coordinator.ListenerFunc[models.Record](func(u coordinator.Update[models.Record]) {
		e := events.Event{
			Type:         events.TypeCoordinatorUpdated,
			ConnectionID: r.cfg.ConnectionID,
			Coordinator:  u.Coordinator,
		}
		if !u.Success() {
			e.Type = events.TypeCoordinatorFailed
			e.Error = u.Err.Error()
		}
		r.cfg.Events.Publish(e)
	})
}

// GuestCoordinator returns the live coordinator of a guest.
func (r *Reconciler) GuestCoordinator(k models.ResourceKey) (*coordinator.GuestStatus, bool) {
	r.coordMu.Lock()
	defer r.coordMu.Unlock()
	c, ok := r.guests[k]
	return c, ok
}

// NodeCoordinator returns the live status coordinator of a node.
func (r *Reconciler) NodeCoordinator(node string) (*coordinator.NodeStatus, bool) {
	r.coordMu.Lock()
	defer r.coordMu.Unlock()
	c, ok := r.nodes[node]
	return c, ok
}

// CoordinatorCount returns the number of live guest and node coordinators.
func (r *Reconciler) CoordinatorCount() (guests, nodes int) {
	r.coordMu.Lock()
	defer r.coordMu.Unlock()
	return len(r.guests), len(r.nodes)
}

// Infos describes every per-resource coordinator, ordered by name.
func (r *Reconciler) Infos() []coordinator.Info {
	r.coordMu.Lock()
	defer r.coordMu.Unlock()

	out := make([]coordinator.Info, 0, len(r.guests)+len(r.nodes))
	for _, c := range r.nodes {
		out = append(out, c.Info())
	}
	for _, c := range r.guests {
		out = append(out, c.Info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Options returns the options applied to new and live coordinators.
func (r *Reconciler) Options() models.Options {
	r.coordMu.Lock()
	defer r.coordMu.Unlock()
	return r.options
}

// ApplyOptions updates every live coordinator in place and asks each for an
// immediate refresh. Coordinators created later use the new options.
func (r *Reconciler) ApplyOptions(opts models.Options) {
	r.coordMu.Lock()
	r.options = opts
	guests := make([]*coordinator.GuestStatus, 0, len(r.guests))
	for _, c := range r.guests {
		guests = append(guests, c)
	}
	nodes := make([]*coordinator.NodeStatus, 0, len(r.nodes))
	for _, c := range r.nodes {
		nodes = append(nodes, c)
	}
	r.coordMu.Unlock()

	policy := opts.Policy()
	for _, c := range guests {
		c.SetInterval(opts.ScanInterval)
		c.SetPolicy(policy)
		c.RefreshAsync()
	}
	for _, c := range nodes {
		c.SetInterval(opts.ScanInterval)
		c.RefreshAsync()
	}
}
