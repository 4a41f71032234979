// Package reconciler keeps the tracked entity set, the per-resource
// coordinators and the device registry in sync with the cluster inventory.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/narvanalabs/pve-monitor/internal/coordinator"
	"github.com/narvanalabs/pve-monitor/internal/entity"
	"github.com/narvanalabs/pve-monitor/internal/events"
	"github.com/narvanalabs/pve-monitor/internal/metrics"
	"github.com/narvanalabs/pve-monitor/internal/models"
	"github.com/narvanalabs/pve-monitor/internal/pve"
	"github.com/narvanalabs/pve-monitor/internal/store"
)

// Config configures a Reconciler.
type Config struct {
	ConnectionID string
	Client       pve.Client
	Store        store.Store
	Events       events.Publisher
	Options      models.Options
	// Timeout bounds a single coordinator fetch.
	Timeout time.Duration
	Logger  *slog.Logger
}

// Result counts the changes one pass made on one platform.
type Result struct {
	Added   int `json:"added"`
	Updated int `json:"updated"`
	Removed int `json:"removed"`
}

// Changed reports whether entities were added or removed.
func (r Result) Changed() bool {
	return r.Added > 0 || r.Removed > 0
}

// Summary is the outcome of one pass per platform.
type Summary map[entity.Platform]Result

// Changed reports whether any platform added or removed entities.
func (s Summary) Changed() bool {
	for _, r := range s {
		if r.Changed() {
			return true
		}
	}
	return false
}

// Reconciler owns the tracked entities and per-resource coordinators of one
// connection. Passes are serialized.
type Reconciler struct {
	cfg    Config
	logger *slog.Logger

	// mu serializes passes and guards tracked and devices.
	mu      sync.Mutex
	tracked map[entity.Platform]map[models.ResourceKey][]entity.ResourceEntity
	devices map[models.ResourceKey]models.Device
	closed  bool

	// coordMu guards the coordinator maps and the live options.
	coordMu sync.Mutex
	guests  map[models.ResourceKey]*coordinator.GuestStatus
	nodes   map[string]*coordinator.NodeStatus
	options models.Options

	unsubs []func()
}

// New creates a reconciler for one connection.
func New(cfg Config) *Reconciler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Events == nil {
		cfg.Events = events.Discard
	}
	if cfg.Options.ScanInterval <= 0 {
		cfg.Options.ScanInterval = models.DefaultScanInterval
	}

	tracked := make(map[entity.Platform]map[models.ResourceKey][]entity.ResourceEntity)
	for _, p := range entity.Platforms() {
		tracked[p] = make(map[models.ResourceKey][]entity.ResourceEntity)
	}

	return &Reconciler{
		cfg:     cfg,
		logger:  cfg.Logger.With("component", "reconciler", "connection_id", cfg.ConnectionID),
		tracked: tracked,
		devices: make(map[models.ResourceKey]models.Device),
		guests:  make(map[models.ResourceKey]*coordinator.GuestStatus),
		nodes:   make(map[string]*coordinator.NodeStatus),
		options: cfg.Options,
	}
}

// Attach reconciles the current snapshots of the inventory and node list
// coordinators, then re-runs on every successful update of either.
func (r *Reconciler) Attach(ctx context.Context, inventory *coordinator.Inventory, nodes *coordinator.NodeList) {
	if data, ok := nodes.Data(); ok {
		if _, err := r.ReconcileNodes(ctx, data); err != nil {
			r.logger.Error("initial node reconciliation failed", "error", err)
		}
	}
	if data, ok := inventory.Data(); ok {
		if _, err := r.ReconcileGuests(ctx, data); err != nil {
			r.logger.Error("initial guest reconciliation failed", "error", err)
		}
	}

	unsubNodes := nodes.Subscribe(coordinator.ListenerFunc[[]models.Record](func(u coordinator.Update[[]models.Record]) {
		if !u.Success() {
			return
		}
		if _, err := r.ReconcileNodes(ctx, u.Data); err != nil {
			r.logger.Error("node reconciliation failed", "error", err)
		}
	}))
	unsubGuests := inventory.Subscribe(coordinator.ListenerFunc[[]models.Record](func(u coordinator.Update[[]models.Record]) {
		if !u.Success() {
			return
		}
		if _, err := r.ReconcileGuests(ctx, u.Data); err != nil {
			r.logger.Error("guest reconciliation failed", "error", err)
		}
	}))

	r.mu.Lock()
	r.unsubs = append(r.unsubs, unsubNodes, unsubGuests)
	r.mu.Unlock()
}

// ReconcileGuests diffs the VMs and containers in an inventory snapshot
// against the tracked set. Records without a node, a type or an id are
// skipped.
func (r *Reconciler) ReconcileGuests(ctx context.Context, records []models.Record) (Summary, error) {
	current := make(map[models.ResourceKey]models.Record, len(records))
	for _, rec := range records {
		key, ok := rec.Key()
		if !ok {
			continue
		}
		current[key] = rec
	}
	return r.reconcile(ctx, "guests", isGuest, current)
}

// ReconcileNodes diffs a node list snapshot against the tracked nodes.
func (r *Reconciler) ReconcileNodes(ctx context.Context, records []models.Record) (Summary, error) {
	current := make(map[models.ResourceKey]models.Record, len(records))
	for _, rec := range records {
		node, ok := rec.NodeName()
		if !ok {
			continue
		}
		current[models.NodeKey(node)] = rec
	}
	return r.reconcile(ctx, "nodes", isNode, current)
}

func isGuest(k models.ResourceKey) bool { return k.Kind.IsGuest() }
func isNode(k models.ResourceKey) bool  { return k.Kind == models.KindNode }

func (r *Reconciler) reconcile(ctx context.Context, scope string, match func(models.ResourceKey) bool, current map[models.ResourceKey]models.Record) (Summary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrClosed
	}

	currentKeys := mapset.NewThreadUnsafeSet[models.ResourceKey]()
	for k := range current {
		currentKeys.Add(k)
	}
	known := mapset.NewThreadUnsafeSet[models.ResourceKey]()
	for k := range r.devices {
		if match(k) {
			known.Add(k)
		}
	}

	added := sortedKeys(currentKeys.Difference(known))
	kept := sortedKeys(currentKeys.Intersect(known))
	removed := sortedKeys(known.Difference(currentKeys))

	var errs []error
	summary := make(Summary)

	for _, p := range entity.Platforms() {
		var res Result
		for _, k := range kept {
			for _, e := range r.tracked[p][k] {
				e.Update(current[k])
				r.publishEntity(events.TypeEntityUpdated, e)
			}
			if len(r.tracked[p][k]) > 0 {
				res.Updated++
			}
		}
		for _, k := range added {
			ents := r.create(p, k, current[k])
			if len(ents) == 0 {
				continue
			}
			r.tracked[p][k] = ents
			for _, e := range ents {
				if err := r.register(ctx, e); err != nil {
					errs = append(errs, err)
				}
				r.publishEntity(events.TypeEntityAdded, e)
			}
			res.Added++
		}
		for _, k := range removed {
			ents, ok := r.tracked[p][k]
			if !ok {
				continue
			}
			for _, e := range ents {
				r.cfg.Events.Publish(events.Event{
					Type:         events.TypeEntityRemoved,
					ConnectionID: r.cfg.ConnectionID,
					UniqueID:     e.UniqueID(),
				})
			}
			delete(r.tracked[p], k)
			res.Removed++
		}
		summary[p] = res
		metrics.RecordReconcile(r.cfg.ConnectionID, string(p), res.Added, res.Removed, len(r.tracked[p]))
	}

	// Device records: new keys are linked, kept keys follow renames and
	// vanished keys are purged together with their coordinator.
	for _, k := range added {
		dev := r.deviceIdentity(k)
		if err := r.upsertDevice(ctx, dev); err != nil {
			errs = append(errs, err)
		}
		r.devices[k] = dev
	}
	for _, k := range kept {
		dev := r.deviceIdentity(k)
		prev := r.devices[k]
		if dev.Name == prev.Name && dev.Model == prev.Model {
			continue
		}
		if err := r.upsertDevice(ctx, dev); err != nil {
			errs = append(errs, err)
		}
		r.devices[k] = dev
	}
	for _, k := range removed {
		r.dropCoordinator(k)
		if err := r.purge(ctx, k); err != nil {
			errs = append(errs, err)
		}
		delete(r.devices, k)
	}

	if len(added) > 0 || len(removed) > 0 {
		r.logger.Info("reconciled "+scope,
			"added", len(added),
			"removed", len(removed),
			"tracked", len(kept)+len(added),
		)
	}

	return summary, errors.Join(errs...)
}

// create builds the entities of one platform for a new key. It obtains the
// key's coordinator first, creating and starting it when needed.
func (r *Reconciler) create(p entity.Platform, k models.ResourceKey, rec models.Record) []entity.ResourceEntity {
	conn := r.cfg.ConnectionID
	if k.Kind == models.KindNode {
		if p != entity.PlatformSensor {
			return nil
		}
		return entity.NewNodeSensors(conn, k.Node, r.nodeCoordinator(k.Node))
	}

	src := r.guestCoordinator(k)
	switch p {
	case entity.PlatformSensor:
		return entity.NewGuestSensors(conn, k, rec, src)
	case entity.PlatformSwitch:
		return []entity.ResourceEntity{entity.NewPowerSwitch(conn, k, rec, src, r.cfg.Client)}
	case entity.PlatformButton:
		return entity.NewGuestButtons(conn, k, rec, src, r.cfg.Client)
	default:
		return nil
	}
}

// deviceIdentity returns the device of a tracked key as rendered by its
// first entity.
func (r *Reconciler) deviceIdentity(k models.ResourceKey) models.Device {
	for _, p := range entity.Platforms() {
		if ents := r.tracked[p][k]; len(ents) > 0 {
			dev := ents[0].DeviceIdentity()
			dev.ConnectionIDs = []string{r.cfg.ConnectionID}
			return dev
		}
	}
	return models.Device{Identifier: k.Identifier(), ConnectionIDs: []string{r.cfg.ConnectionID}}
}

func (r *Reconciler) register(ctx context.Context, e entity.ResourceEntity) error {
	if r.cfg.Store == nil {
		return nil
	}
	entry := &models.EntityEntry{
		UniqueID:         e.UniqueID(),
		ConnectionID:     r.cfg.ConnectionID,
		DeviceIdentifier: e.Key().Identifier(),
		Platform:         string(e.Platform()),
		Name:             e.Name(),
		CreatedAt:        time.Now().UTC(),
	}
	if err := r.cfg.Store.Entities().Register(ctx, entry); err != nil {
		return fmt.Errorf("registering entity %s: %w", entry.UniqueID, err)
	}
	return nil
}

func (r *Reconciler) upsertDevice(ctx context.Context, dev models.Device) error {
	if r.cfg.Store == nil {
		return nil
	}
	if err := r.cfg.Store.Devices().Upsert(ctx, &dev); err != nil {
		return fmt.Errorf("upserting device %s: %w", dev.Identifier, err)
	}
	return nil
}

// purge removes every registry row of a vanished key.
func (r *Reconciler) purge(ctx context.Context, k models.ResourceKey) error {
	if r.cfg.Store == nil {
		return nil
	}
	n, err := r.cfg.Store.Entities().RemoveByPrefix(ctx, r.cfg.ConnectionID, entity.UniqueIDPrefix(r.cfg.ConnectionID, k))
	if err != nil {
		return fmt.Errorf("purging entities of %s: %w", k, err)
	}
	deleted, err := r.cfg.Store.Devices().Detach(ctx, k.Identifier(), r.cfg.ConnectionID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("detaching device %s: %w", k, err)
	}
	r.logger.Debug("purged resource", "key", k.String(), "entities", n, "device_deleted", deleted)
	return nil
}

func (r *Reconciler) publishEntity(t events.Type, e entity.ResourceEntity) {
	view := entity.Render(e)
	r.cfg.Events.Publish(events.Event{
		Type:         t,
		ConnectionID: r.cfg.ConnectionID,
		UniqueID:     view.UniqueID,
		Entity:       &view,
	})
}

// Entities returns the tracked entities of a platform, ordered by unique id.
func (r *Reconciler) Entities(p entity.Platform) []entity.ResourceEntity {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []entity.ResourceEntity
	for _, ents := range r.tracked[p] {
		out = append(out, ents...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UniqueID() < out[j].UniqueID() })
	return out
}

// Entity looks up a tracked entity by unique id.
func (r *Reconciler) Entity(uniqueID string) (entity.ResourceEntity, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, byKey := range r.tracked {
		for _, ents := range byKey {
			for _, e := range ents {
				if e.UniqueID() == uniqueID {
					return e, true
				}
			}
		}
	}
	return nil, false
}

// Tracked returns the keys tracked on a platform, sorted by identifier.
func (r *Reconciler) Tracked(p entity.Platform) []models.ResourceKey {
	r.mu.Lock()
	defer r.mu.Unlock()

	set := mapset.NewThreadUnsafeSet[models.ResourceKey]()
	for k := range r.tracked[p] {
		set.Add(k)
	}
	return sortedKeys(set)
}

// Close unsubscribes from the inventory, stops every per-resource
// coordinator and refuses further passes. Registry rows are kept.
func (r *Reconciler) Close() {
	r.mu.Lock()
	unsubs := r.unsubs
	r.unsubs = nil
	r.closed = true
	r.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}

	r.coordMu.Lock()
	defer r.coordMu.Unlock()
	for k, c := range r.guests {
		c.Stop()
		delete(r.guests, k)
	}
	for n, c := range r.nodes {
		c.Stop()
		delete(r.nodes, n)
	}
}

func sortedKeys(set mapset.Set[models.ResourceKey]) []models.ResourceKey {
	keys := set.ToSlice()
	sort.Slice(keys, func(i, j int) bool { return keys[i].Identifier() < keys[j].Identifier() })
	return keys
}
