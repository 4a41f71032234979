package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/narvanalabs/pve-monitor/internal/models"
)

// EntityStore implements store.EntityStore using PostgreSQL.
type EntityStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// Register records an entity, replacing any entry with the same unique id.
func (s *EntityStore) Register(ctx context.Context, entry *models.EntityEntry) error {
	query := `
		INSERT INTO entities (unique_id, connection_id, device_identifier, platform, name, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (unique_id) DO UPDATE SET
			connection_id = EXCLUDED.connection_id,
			device_identifier = EXCLUDED.device_identifier,
			platform = EXCLUDED.platform,
			name = EXCLUDED.name
		RETURNING created_at`

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	err := s.db.QueryRowContext(ctx, query,
		entry.UniqueID,
		entry.ConnectionID,
		entry.DeviceIdentifier,
		entry.Platform,
		entry.Name,
		entry.CreatedAt,
	).Scan(&entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("registering entity: %w", err)
	}
	return nil
}

// Get retrieves an entity by unique id.
func (s *EntityStore) Get(ctx context.Context, uniqueID string) (*models.EntityEntry, error) {
	var e models.EntityEntry
	err := s.db.QueryRowContext(ctx, `
		SELECT unique_id, connection_id, device_identifier, platform, name, created_at
		FROM entities WHERE unique_id = $1`, uniqueID,
	).Scan(&e.UniqueID, &e.ConnectionID, &e.DeviceIdentifier, &e.Platform, &e.Name, &e.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &e, nil
}

// ListByConnection retrieves every entity of a connection.
func (s *EntityStore) ListByConnection(ctx context.Context, connectionID string) ([]*models.EntityEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT unique_id, connection_id, device_identifier, platform, name, created_at
		FROM entities WHERE connection_id = $1 ORDER BY unique_id`, connectionID)
	if err != nil {
		return nil, fmt.Errorf("querying entities: %w", err)
	}
	defer rows.Close()

	var entries []*models.EntityEntry
	for rows.Next() {
		var e models.EntityEntry
		if err := rows.Scan(&e.UniqueID, &e.ConnectionID, &e.DeviceIdentifier, &e.Platform, &e.Name, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning entity: %w", err)
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// RemoveByPrefix deletes the connection's entities whose unique id starts
// with prefix.
func (s *EntityStore) RemoveByPrefix(ctx context.Context, connectionID, prefix string) (int, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM entities WHERE connection_id = $1 AND unique_id LIKE $2 ESCAPE '\'`,
		connectionID, likeEscaper.Replace(prefix)+"%",
	)
	if err != nil {
		return 0, fmt.Errorf("removing entities: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting removed entities: %w", err)
	}
	if n > 0 {
		s.logger.Debug("entities removed", "connection_id", connectionID, "prefix", prefix, "count", n)
	}
	return int(n), nil
}
