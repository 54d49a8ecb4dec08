package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// OpenSQLite opens a sqlite-backed bun database. The DSN follows the
// mattn/go-sqlite3 format, e.g. "file:listener.db?cache=shared".
func OpenSQLite(dsn string) (*bun.DB, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("sqlstore: sqlite dsn is required")
	}
	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open sqlite db: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	return bun.NewDB(sqlDB, sqlitedialect.New()), nil
}

// OpenPostgres opens a postgres-backed bun database using lib/pq.
func OpenPostgres(dsn string) (*bun.DB, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("sqlstore: postgres dsn is required")
	}
	sqlDB, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open postgres db: %w", err)
	}
	return bun.NewDB(sqlDB, pgdialect.New()), nil
}

// EnsureSchema creates the listener tables and unique indexes when they are
// missing, matching the embedded SQL migrations. Deployments running those
// migrations through go-persistence-bun do not need it; it keeps ad-hoc
// sqlite setups one call away.
func EnsureSchema(ctx context.Context, db *bun.DB) error {
	if db == nil {
		return fmt.Errorf("sqlstore: bun db is required")
	}
	models := []any{
		(*tokenRecord)(nil),
		(*deliveryRecord)(nil),
	}
	for _, model := range models {
		if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("sqlstore: create table for %T: %w", model, err)
		}
	}

	_, err := db.NewCreateIndex().
		Model((*tokenRecord)(nil)).
		Index("listener_tokens_key").
		Column("key").
		Unique().
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("sqlstore: create token key index: %w", err)
	}

	_, err = db.NewCreateIndex().
		Model((*deliveryRecord)(nil)).
		Index("listener_webhook_deliveries_topic_delivery").
		Column("topic", "delivery_id").
		Unique().
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("sqlstore: create delivery dedup index: %w", err)
	}
	return nil
}
