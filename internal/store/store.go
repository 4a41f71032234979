// Package store provides the device and entity registry interfaces.
package store

import (
	"context"
	"errors"

	"github.com/narvanalabs/pve-monitor/internal/models"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("resource not found")

// DeviceStore defines operations for device records.
type DeviceStore interface {
	// Upsert creates the device or updates it by identifier. Connection ids
	// are merged with the ones already recorded.
	Upsert(ctx context.Context, device *models.Device) error
	// Get retrieves a device by ID.
	Get(ctx context.Context, id string) (*models.Device, error)
	// GetByIdentifier retrieves a device by its resource identifier.
	GetByIdentifier(ctx context.Context, identifier string) (*models.Device, error)
	// List retrieves all devices.
	List(ctx context.Context) ([]*models.Device, error)
	// ListByConnection retrieves the devices linked to a connection.
	ListByConnection(ctx context.Context, connectionID string) ([]*models.Device, error)
	// Detach unlinks a connection from a device and deletes the device when
	// no connection is left. It reports whether the device was deleted.
	Detach(ctx context.Context, identifier, connectionID string) (bool, error)
}

// EntityStore defines operations for entity registrations.
type EntityStore interface {
	// Register records an entity, replacing any entry with the same unique id.
	Register(ctx context.Context, entry *models.EntityEntry) error
	// Get retrieves an entity by unique id.
	Get(ctx context.Context, uniqueID string) (*models.EntityEntry, error)
	// ListByConnection retrieves every entity of a connection.
	ListByConnection(ctx context.Context, connectionID string) ([]*models.EntityEntry, error)
	// RemoveByPrefix deletes every entity of the connection whose unique id
	// starts with prefix and returns how many were removed.
	RemoveByPrefix(ctx context.Context, connectionID, prefix string) (int, error)
}

// Store is the main interface for registry operations.
type Store interface {
	// Devices returns the DeviceStore.
	Devices() DeviceStore
	// Entities returns the EntityStore.
	Entities() EntityStore
	// Close releases the underlying resources.
	Close() error
}
