package postgres

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/narvanalabs/pve-monitor/internal/models"
)

func getTestDSN() string {
	return os.Getenv("TEST_DATABASE_URL")
}

// setupTestDB creates a test database connection and applies the schema.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	dsn := getTestDSN()
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping database tests")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		t.Fatalf("failed to ping database: %v", err)
	}

	_, _ = db.Exec("DROP TABLE IF EXISTS entities CASCADE")
	_, _ = db.Exec("DROP TABLE IF EXISTS devices CASCADE")

	if err := Migrate(context.Background(), db); err != nil {
		db.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}

	t.Cleanup(func() { db.Close() })
	return db
}

// **Feature: pve-monitor, Property 4: Device connection links**
// For any set of connections a device is upserted through, the device lists
// each of them once, and detaching all of them deletes it.
func TestDeviceConnectionLinksProperty(t *testing.T) {
	db := setupTestDB(t)
	s := newStore(db, slog.Default())

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("upsert merges and detach deletes orphans", prop.ForAll(
		func(identifier string, conns []string) bool {
			ctx := context.Background()
			_, _ = db.Exec("DELETE FROM devices")

			unique := map[string]bool{}
			for _, c := range conns {
				d := &models.Device{
					Identifier:    identifier,
					ConnectionIDs: []string{c},
					Name:          identifier,
					Manufacturer:  models.Manufacturer,
					Model:         "Node",
				}
				if err := s.Devices().Upsert(ctx, d); err != nil {
					return false
				}
				unique[c] = true
			}

			got, err := s.Devices().GetByIdentifier(ctx, identifier)
			if err != nil || len(got.ConnectionIDs) != len(unique) {
				return false
			}

			deleted := false
			for c := range unique {
				deleted, err = s.Devices().Detach(ctx, identifier, c)
				if err != nil {
					return false
				}
			}
			if !deleted {
				return false
			}
			_, err = s.Devices().GetByIdentifier(ctx, identifier)
			return err == ErrNotFound
		},
		gen.Identifier(),
		gen.SliceOfN(4, gen.OneConstOf("a", "b", "c")).SuchThat(func(v []string) bool { return len(v) > 0 }),
	))

	properties.TestingRun(t)
}

func TestEntityRemoveByPrefixEscapesWildcards(t *testing.T) {
	db := setupTestDB(t)
	s := newStore(db, slog.Default())
	ctx := context.Background()

	for _, id := range []string{"c_pve1:vm:100_cpu", "c_pve1:vm:100_ram", "c_pveX:vm:100_cpu"} {
		if err := s.Entities().Register(ctx, &models.EntityEntry{UniqueID: id, ConnectionID: "c", Platform: "sensor"}); err != nil {
			t.Fatalf("register: %v", err)
		}
	}

	n, err := s.Entities().RemoveByPrefix(ctx, "c", "c_pve_:vm:100_")
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected literal underscore match to remove 0, removed %d", n)
	}

	n, err = s.Entities().RemoveByPrefix(ctx, "c", "c_pve1:vm:100_")
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 removed, got %d", n)
	}
}
