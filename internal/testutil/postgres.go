// Package testutil provides test infrastructure helpers.
package testutil

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/jojopeligroso/MyCastle/internal/dbutil"
	"github.com/jojopeligroso/MyCastle/migrations"
)

// NewTestPostgres starts a throwaway PostgreSQL container, applies the
// schema migrations, and returns a connected pool. The container is
// terminated when the test finishes. Tests are skipped when no container
// runtime is available.
func NewTestPostgres(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("mycastle"),
		tcpostgres.WithUsername("mycastle"),
		tcpostgres.WithPassword("mycastle"),
		tcpostgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Skipf("skipping: could not start postgres container: %v", err)
	}
	testcontainers.CleanupContainer(t, container)

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("reading container DSN: %v", err)
	}

	connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	db, err := dbutil.Connect(connectCtx, dbutil.PoolConfig{DSN: dsn})
	if err != nil {
		t.Fatalf("connecting to test postgres: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if _, err := dbutil.RunMigrations(db, migrations.FS, "postgres"); err != nil {
		t.Fatalf("running migrations: %v", err)
	}

	return db
}
