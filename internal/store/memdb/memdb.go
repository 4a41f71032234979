// Package memdb provides an in-memory implementation of the store interfaces.
package memdb

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	memdb "github.com/hashicorp/go-memdb"
	"github.com/narvanalabs/pve-monitor/internal/models"
	"github.com/narvanalabs/pve-monitor/internal/store"
)

const (
	deviceTable = "devices"
	entityTable = "entities"

	idIndex         = "id"
	identifierIndex = "identifier"
	connectionIndex = "connection"
)

func schema() *memdb.DBSchema {
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			deviceTable: {
				Name: deviceTable,
				Indexes: map[string]*memdb.IndexSchema{
					idIndex: {
						Name:    idIndex,
						Unique:  true,
						Indexer: &memdb.UUIDFieldIndex{Field: "ID"},
					},
					identifierIndex: {
						Name:    identifierIndex,
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "Identifier"},
					},
					connectionIndex: {
						Name:         connectionIndex,
						AllowMissing: true,
						Indexer:      &memdb.StringSliceFieldIndex{Field: "ConnectionIDs"},
					},
				},
			},
			entityTable: {
				Name: entityTable,
				Indexes: map[string]*memdb.IndexSchema{
					idIndex: {
						Name:    idIndex,
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "UniqueID"},
					},
					connectionIndex: {
						Name:    connectionIndex,
						Indexer: &memdb.StringFieldIndex{Field: "ConnectionID"},
					},
				},
			},
		},
	}
}

// Store implements store.Store on top of go-memdb.
type Store struct {
	db       *memdb.MemDB
	devices  *DeviceStore
	entities *EntityStore
}

var _ store.Store = (*Store)(nil)

// New creates an empty in-memory store.
func New() (*Store, error) {
	db, err := memdb.NewMemDB(schema())
	if err != nil {
		return nil, fmt.Errorf("creating memdb: %w", err)
	}
	return &Store{
		db:       db,
		devices:  &DeviceStore{db: db},
		entities: &EntityStore{db: db},
	}, nil
}

// Devices returns the DeviceStore.
func (s *Store) Devices() store.DeviceStore { return s.devices }

// Entities returns the EntityStore.
func (s *Store) Entities() store.EntityStore { return s.entities }

// Close is a no-op.
func (s *Store) Close() error { return nil }

// Ping always succeeds; the registry lives in process memory.
func (s *Store) Ping(ctx context.Context) error { return nil }

// DeviceStore implements store.DeviceStore.
type DeviceStore struct {
	db *memdb.MemDB
}

func copyDevice(d *models.Device) *models.Device {
	out := *d
	out.ConnectionIDs = append([]string(nil), d.ConnectionIDs...)
	return &out
}

// Upsert creates or updates a device by identifier.
func (s *DeviceStore) Upsert(ctx context.Context, device *models.Device) error {
	txn := s.db.Txn(true)
	defer txn.Abort()

	now := time.Now().UTC()
	raw, err := txn.First(deviceTable, identifierIndex, device.Identifier)
	if err != nil {
		return fmt.Errorf("looking up device: %w", err)
	}

	next := copyDevice(device)
	if raw != nil {
		existing := raw.(*models.Device)
		next.ID = existing.ID
		next.CreatedAt = existing.CreatedAt
		next.ConnectionIDs = mergeIDs(existing.ConnectionIDs, device.ConnectionIDs)
	} else {
		if next.ID == "" {
			next.ID = uuid.New().String()
		}
		next.CreatedAt = now
	}
	next.UpdatedAt = now

	if err := txn.Insert(deviceTable, next); err != nil {
		return fmt.Errorf("inserting device: %w", err)
	}
	txn.Commit()

	device.ID = next.ID
	device.CreatedAt = next.CreatedAt
	device.UpdatedAt = next.UpdatedAt
	device.ConnectionIDs = append([]string(nil), next.ConnectionIDs...)
	return nil
}

// Get retrieves a device by ID.
func (s *DeviceStore) Get(ctx context.Context, id string) (*models.Device, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, store.ErrNotFound
	}
	return s.first(idIndex, id)
}

// GetByIdentifier retrieves a device by identifier.
func (s *DeviceStore) GetByIdentifier(ctx context.Context, identifier string) (*models.Device, error) {
	return s.first(identifierIndex, identifier)
}

func (s *DeviceStore) first(index, arg string) (*models.Device, error) {
	txn := s.db.Txn(false)
	raw, err := txn.First(deviceTable, index, arg)
	if err != nil {
		return nil, fmt.Errorf("getting device: %w", err)
	}
	if raw == nil {
		return nil, store.ErrNotFound
	}
	return copyDevice(raw.(*models.Device)), nil
}

// List retrieves all devices ordered by identifier.
func (s *DeviceStore) List(ctx context.Context) ([]*models.Device, error) {
	return s.list(identifierIndex)
}

// ListByConnection retrieves the devices linked to a connection.
func (s *DeviceStore) ListByConnection(ctx context.Context, connectionID string) ([]*models.Device, error) {
	return s.list(connectionIndex, connectionID)
}

func (s *DeviceStore) list(index string, args ...interface{}) ([]*models.Device, error) {
	txn := s.db.Txn(false)
	it, err := txn.Get(deviceTable, index, args...)
	if err != nil {
		return nil, fmt.Errorf("listing devices: %w", err)
	}
	var out []*models.Device
	for raw := it.Next(); raw != nil; raw = it.Next() {
		out = append(out, copyDevice(raw.(*models.Device)))
	}
	return out, nil
}

// Detach unlinks a connection and deletes the device once orphaned.
func (s *DeviceStore) Detach(ctx context.Context, identifier, connectionID string) (bool, error) {
	txn := s.db.Txn(true)
	defer txn.Abort()

	raw, err := txn.First(deviceTable, identifierIndex, identifier)
	if err != nil {
		return false, fmt.Errorf("looking up device: %w", err)
	}
	if raw == nil {
		return false, store.ErrNotFound
	}
	existing := raw.(*models.Device)
	if !existing.HasConnection(connectionID) {
		return false, nil
	}

	next := copyDevice(existing)
	next.ConnectionIDs = next.ConnectionIDs[:0]
	for _, id := range existing.ConnectionIDs {
		if id != connectionID {
			next.ConnectionIDs = append(next.ConnectionIDs, id)
		}
	}

	deleted := len(next.ConnectionIDs) == 0
	if deleted {
		err = txn.Delete(deviceTable, existing)
	} else {
		next.UpdatedAt = time.Now().UTC()
		err = txn.Insert(deviceTable, next)
	}
	if err != nil {
		return false, fmt.Errorf("detaching device: %w", err)
	}
	txn.Commit()
	return deleted, nil
}

// EntityStore implements store.EntityStore.
type EntityStore struct {
	db *memdb.MemDB
}

// Register records an entity.
func (s *EntityStore) Register(ctx context.Context, entry *models.EntityEntry) error {
	txn := s.db.Txn(true)
	defer txn.Abort()

	next := *entry
	if next.CreatedAt.IsZero() {
		next.CreatedAt = time.Now().UTC()
	}
	if err := txn.Insert(entityTable, &next); err != nil {
		return fmt.Errorf("registering entity: %w", err)
	}
	txn.Commit()
	entry.CreatedAt = next.CreatedAt
	return nil
}

// Get retrieves an entity by unique id.
func (s *EntityStore) Get(ctx context.Context, uniqueID string) (*models.EntityEntry, error) {
	txn := s.db.Txn(false)
	raw, err := txn.First(entityTable, idIndex, uniqueID)
	if err != nil {
		return nil, fmt.Errorf("getting entity: %w", err)
	}
	if raw == nil {
		return nil, store.ErrNotFound
	}
	out := *raw.(*models.EntityEntry)
	return &out, nil
}

// ListByConnection retrieves every entity of a connection.
func (s *EntityStore) ListByConnection(ctx context.Context, connectionID string) ([]*models.EntityEntry, error) {
	txn := s.db.Txn(false)
	it, err := txn.Get(entityTable, connectionIndex, connectionID)
	if err != nil {
		return nil, fmt.Errorf("listing entities: %w", err)
	}
	var out []*models.EntityEntry
	for raw := it.Next(); raw != nil; raw = it.Next() {
		entry := *raw.(*models.EntityEntry)
		out = append(out, &entry)
	}
	return out, nil
}

// RemoveByPrefix deletes the connection's entities whose unique id starts
// with prefix.
func (s *EntityStore) RemoveByPrefix(ctx context.Context, connectionID, prefix string) (int, error) {
	txn := s.db.Txn(true)
	defer txn.Abort()

	it, err := txn.Get(entityTable, idIndex+"_prefix", prefix)
	if err != nil {
		return 0, fmt.Errorf("listing entities: %w", err)
	}
	var doomed []*models.EntityEntry
	for raw := it.Next(); raw != nil; raw = it.Next() {
		entry := raw.(*models.EntityEntry)
		if entry.ConnectionID == connectionID && strings.HasPrefix(entry.UniqueID, prefix) {
			doomed = append(doomed, entry)
		}
	}
	for _, entry := range doomed {
		if err := txn.Delete(entityTable, entry); err != nil {
			return 0, fmt.Errorf("removing entity %s: %w", entry.UniqueID, err)
		}
	}
	txn.Commit()
	return len(doomed), nil
}

func mergeIDs(existing, added []string) []string {
	out := append([]string(nil), existing...)
	for _, id := range added {
		found := false
		for _, e := range out {
			if e == id {
				found = true
				break
			}
		}
		if !found {
			out = append(out, id)
		}
	}
	return out
}
