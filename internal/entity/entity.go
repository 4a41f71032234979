// Package entity defines the monitored entities that expose node and guest
// state: sensors, a power switch and action buttons.
package entity

import (
	"context"
	"fmt"
	"sync"

	"github.com/narvanalabs/pve-monitor/internal/models"
)

// Platform groups entities by capability.
type Platform string

const (
	PlatformSensor Platform = "sensor"
	PlatformSwitch Platform = "switch"
	PlatformButton Platform = "button"
)

// Platforms lists every platform in setup order.
func Platforms() []Platform {
	return []Platform{PlatformSensor, PlatformSwitch, PlatformButton}
}

// ResourceEntity is one monitored value or control attached to a node or
// guest. State is read on demand from the owning coordinator's cache.
type ResourceEntity interface {
	UniqueID() string
	Name() string
	Platform() Platform
	Key() models.ResourceKey
	// Update replaces the inventory record the entity renders its display
	// fields from.
	Update(record models.Record)
	DeviceIdentity() models.Device
	Attributes() map[string]any
	State() any
	Available() bool
}

// Switchable is implemented by entities that can be turned on and off.
type Switchable interface {
	TurnOn(ctx context.Context) error
	TurnOff(ctx context.Context) error
}

// Pressable is implemented by button entities.
type Pressable interface {
	Press(ctx context.Context) error
}

// Source is the coordinator cache an entity reads from.
type Source interface {
	Data() (models.Record, bool)
	LastUpdateSuccess() bool
	RefreshAsync()
}

// base carries what every entity shares.
type base struct {
	connectionID string
	key          models.ResourceKey
	suffix       string
	label        string
	platform     Platform
	source       Source

	mu       *sync.RWMutex
	resource models.Record
}

func newBase(connectionID string, key models.ResourceKey, record models.Record, source Source, platform Platform, suffix, label string) base {
	return base{
		connectionID: connectionID,
		key:          key,
		suffix:       suffix,
		label:        label,
		platform:     platform,
		source:       source,
		mu:           &sync.RWMutex{},
		resource:     record.Clone(),
	}
}

// UniqueIDPrefix returns the prefix shared by every unique id of a resource.
func UniqueIDPrefix(connectionID string, key models.ResourceKey) string {
	return fmt.Sprintf("%s_%s_", connectionID, key.Identifier())
}

func (b *base) UniqueID() string {
	return UniqueIDPrefix(b.connectionID, b.key) + b.suffix
}

func (b *base) Platform() Platform {
	return b.platform
}

func (b *base) Key() models.ResourceKey {
	return b.key
}

func (b *base) Update(record models.Record) {
	b.mu.Lock()
	b.resource = record.Clone()
	b.mu.Unlock()
}

func (b *base) record() models.Record {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.resource
}

func (b *base) displayName() string {
	if b.key.Kind == models.KindNode {
		return models.NodeDisplayName(b.key.Node)
	}
	return models.GuestDisplayName(b.key, b.record())
}

func (b *base) Name() string {
	return b.displayName() + " " + b.label
}

func (b *base) DeviceIdentity() models.Device {
	if b.key.Kind == models.KindNode {
		return models.Device{
			Identifier:   b.key.Identifier(),
			Name:         models.NodeDisplayName(b.key.Node),
			Manufacturer: models.Manufacturer,
			Model:        models.KindNode.Model(),
		}
	}
	return models.Device{
		Identifier:    b.key.Identifier(),
		Name:          b.displayName(),
		Manufacturer:  models.Manufacturer,
		Model:         b.key.Kind.Model(),
		ViaIdentifier: models.NodeKey(b.key.Node).Identifier(),
	}
}

func (b *base) Attributes() map[string]any {
	if b.key.Kind == models.KindNode {
		return map[string]any{"node": b.key.Node}
	}
	return map[string]any{
		"vmid": b.key.ID,
		"node": b.key.Node,
		"type": b.key.Kind.APIType(),
	}
}

func (b *base) Available() bool {
	return b.source.LastUpdateSuccess()
}

func (b *base) data() models.Record {
	data, ok := b.source.Data()
	if !ok {
		return models.Record{}
	}
	return data
}

// View is the serializable rendering of an entity.
type View struct {
	UniqueID   string         `json:"unique_id"`
	Name       string         `json:"name"`
	Platform   Platform       `json:"platform"`
	Identifier string         `json:"identifier"`
	State      any            `json:"state"`
	Available  bool           `json:"available"`
	Attributes map[string]any `json:"attributes"`
}

// Render captures the current state of an entity.
func Render(e ResourceEntity) View {
	return View{
		UniqueID:   e.UniqueID(),
		Name:       e.Name(),
		Platform:   e.Platform(),
		Identifier: e.Key().Identifier(),
		State:      e.State(),
		Available:  e.Available(),
		Attributes: e.Attributes(),
	}
}
