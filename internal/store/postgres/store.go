// Package postgres is the PostgreSQL backend for store.Store, selected with db.driver=postgres.
package postgres

import (
	"context"
	"embed"
	"errors"
	"os"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hesham156/sys/internal/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	maxConns    = 20
	dialTimeout = 10 * time.Second
	// migrationLock is the advisory lock key held while a migration runs.
	migrationLock = 0x7072696e74
)

// Store is the PostgreSQL implementation of store.Store.
type Store struct {
	Pool *pgxpool.Pool
}

// Open connects to dsn (DATABASE_URL when empty) and migrates the schema.
func Open(dsn string) (store.Store, error) {
	if dsn == "" {
		dsn = os.Getenv("DATABASE_URL")
	}
	if dsn == "" {
		return nil, errors.New("postgres DSN or DATABASE_URL required")
	}
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	poolCfg.MaxConns = maxConns
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, err
	}
	s := &Store{Pool: pool}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	if s != nil && s.Pool != nil {
		s.Pool.Close()
	}
	return nil
}

// Migrate applies pending migrations. Each runs in its own transaction holding the
// advisory lock, and re-checks schema_migrations so concurrent starters apply it once.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.Pool.Exec(ctx, store.CreateMigrationsTable); err != nil {
		return err
	}
	all, err := store.LoadMigrations(migrationsFS, "migrations")
	if err != nil {
		return err
	}
	for _, m := range all {
		if err := pgx.BeginFunc(ctx, s.Pool, func(tx pgx.Tx) error { return applyOnce(ctx, tx, m) }); err != nil {
			return store.MigrationError(m, err)
		}
	}
	return nil
}

func applyOnce(ctx context.Context, tx pgx.Tx, m store.Migration) error {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, migrationLock); err != nil {
		return err
	}
	var applied bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)`, m.Version).Scan(&applied); err != nil {
		return err
	}
	if applied {
		return nil
	}
	if _, err := tx.Exec(ctx, m.SQL); err != nil {
		return err
	}
	_, err := tx.Exec(ctx, `INSERT INTO schema_migrations(version, applied_at) VALUES($1, $2)`, m.Version, time.Now().Unix())
	return err
}
