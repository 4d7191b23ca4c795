//go:build integration

package containers

import (
	"context"
	"database/sql"
	"io/fs"
	"log/slog"
	"strings"
	"testing"

	"github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"crowdledger/internal/ledger/store"
	"crowdledger/internal/platform/config"
	"crowdledger/internal/platform/postgres"
)

// ledgerTables are truncated between tests. ledger_meta is reset, not truncated,
// because the store expects its single row to exist.
var ledgerTables = []string{"ledger_events", "transfers", "contributions", "campaigns"}

// PostgresContainer is a migrated Postgres instance.
type PostgresContainer struct {
	Container testcontainers.Container
	URL       string
	DB        *sql.DB
}

// NewPostgresContainer starts Postgres, applies the ledger migrations and
// terminates the container when t ends.
func NewPostgresContainer(t *testing.T) *PostgresContainer {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("crowdledger"),
		tcpostgres.WithUsername("crowdledger"),
		tcpostgres.WithPassword("crowdledger"),
		tcpostgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	url, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get postgres connection string: %v", err)
	}

	db, err := postgres.Open(ctx, config.DatabaseConfig{URL: url, MaxOpenConns: 10, MaxIdleConns: 5})
	if err != nil {
		t.Fatalf("failed to open postgres: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	migrations, err := fs.Sub(store.Migrations, "migrations")
	if err != nil {
		t.Fatalf("failed to open migrations: %v", err)
	}
	if err := postgres.Migrate(ctx, db, migrations, slog.New(slog.DiscardHandler)); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	return &PostgresContainer{Container: container, URL: url, DB: db}
}

// Reset empties every ledger table and zeroes the meta row.
func (p *PostgresContainer) Reset(ctx context.Context) error {
	quoted := make([]string, len(ledgerTables))
	for i, table := range ledgerTables {
		quoted[i] = pq.QuoteIdentifier(table)
	}
	if _, err := p.DB.ExecContext(ctx, "TRUNCATE "+strings.Join(quoted, ", ")); err != nil {
		return err
	}
	_, err := p.DB.ExecContext(ctx, `
		UPDATE ledger_meta
		SET platform_owner = NULL, last_campaign_id = 0, last_event_seq = 0, fee_pool = 0, relay_cursor = 0
		WHERE id = 1`)
	return err
}
