package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/narvanalabs/pve-monitor/internal/models"
)

// DeviceStore implements store.DeviceStore using PostgreSQL.
type DeviceStore struct {
	db     *sql.DB
	logger *slog.Logger
}

const deviceColumns = `id, identifier, connection_ids, name, manufacturer, model,
	COALESCE(via_identifier, ''), created_at, updated_at`

// Upsert creates or updates a device by identifier, merging connection ids.
func (s *DeviceStore) Upsert(ctx context.Context, device *models.Device) error {
	query := `
		INSERT INTO devices (id, identifier, connection_ids, name, manufacturer, model, via_identifier, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, $8)
		ON CONFLICT (identifier) DO UPDATE SET
			connection_ids = ARRAY(
				SELECT DISTINCT unnest(devices.connection_ids || EXCLUDED.connection_ids)
			),
			name = EXCLUDED.name,
			manufacturer = EXCLUDED.manufacturer,
			model = EXCLUDED.model,
			via_identifier = EXCLUDED.via_identifier,
			updated_at = EXCLUDED.updated_at
		RETURNING id, connection_ids, created_at, updated_at`

	if device.ID == "" {
		device.ID = uuid.New().String()
	}
	now := time.Now().UTC()

	err := s.db.QueryRowContext(ctx, query,
		device.ID,
		device.Identifier,
		pq.Array(device.ConnectionIDs),
		device.Name,
		device.Manufacturer,
		device.Model,
		device.ViaIdentifier,
		now,
	).Scan(&device.ID, pq.Array(&device.ConnectionIDs), &device.CreatedAt, &device.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("device id %s already in use: %w", device.ID, err)
		}
		return fmt.Errorf("upserting device: %w", err)
	}

	s.logger.Debug("device upserted", "identifier", device.Identifier, "connections", device.ConnectionIDs)
	return nil
}

// Get retrieves a device by ID.
func (s *DeviceStore) Get(ctx context.Context, id string) (*models.Device, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	return s.queryOne(ctx, `SELECT `+deviceColumns+` FROM devices WHERE id = $1`, id)
}

// GetByIdentifier retrieves a device by resource identifier.
func (s *DeviceStore) GetByIdentifier(ctx context.Context, identifier string) (*models.Device, error) {
	return s.queryOne(ctx, `SELECT `+deviceColumns+` FROM devices WHERE identifier = $1`, identifier)
}

// List retrieves all devices ordered by identifier.
func (s *DeviceStore) List(ctx context.Context) ([]*models.Device, error) {
	return s.queryMany(ctx, `SELECT `+deviceColumns+` FROM devices ORDER BY identifier`)
}

// ListByConnection retrieves the devices linked to a connection.
func (s *DeviceStore) ListByConnection(ctx context.Context, connectionID string) ([]*models.Device, error) {
	return s.queryMany(ctx, `SELECT `+deviceColumns+` FROM devices WHERE $1 = ANY(connection_ids) ORDER BY identifier`, connectionID)
}

// Detach unlinks a connection and deletes the device once orphaned.
func (s *DeviceStore) Detach(ctx context.Context, identifier, connectionID string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var remaining int
	err = tx.QueryRowContext(ctx, `
		UPDATE devices
		SET connection_ids = array_remove(connection_ids, $2), updated_at = $3
		WHERE identifier = $1
		RETURNING cardinality(connection_ids)`,
		identifier, connectionID, time.Now().UTC(),
	).Scan(&remaining)
	if err != nil {
		return false, notFound(err)
	}

	deleted := remaining == 0
	if deleted {
		if _, err := tx.ExecContext(ctx, `DELETE FROM devices WHERE identifier = $1`, identifier); err != nil {
			return false, fmt.Errorf("deleting device: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("committing transaction: %w", err)
	}
	return deleted, nil
}

func (s *DeviceStore) queryOne(ctx context.Context, query string, args ...any) (*models.Device, error) {
	d, err := scanDevice(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		return nil, notFound(err)
	}
	return d, nil
}

func (s *DeviceStore) queryMany(ctx context.Context, query string, args ...any) ([]*models.Device, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var devices []*models.Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDevice(row scanner) (*models.Device, error) {
	var d models.Device
	err := row.Scan(
		&d.ID,
		&d.Identifier,
		pq.Array(&d.ConnectionIDs),
		&d.Name,
		&d.Manufacturer,
		&d.Model,
		&d.ViaIdentifier,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
