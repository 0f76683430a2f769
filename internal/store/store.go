package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DBFile is the default SQLite location relative to the printflow home.
const DBFile = "protected/db.sqlite"

// Every pooled connection gets the same pragmas through the DSN. Immediate write
// transactions make concurrent transitions queue on the write lock instead of failing
// a read->write upgrade with SQLITE_BUSY; WAL lets view refreshes read during a commit.
var sqlitePragmas = []string{
	"_pragma=busy_timeout(5000)",
	"_pragma=foreign_keys(1)",
	"_pragma=journal_mode(WAL)",
	"_pragma=synchronous(NORMAL)",
	"_txlock=immediate",
}

// sqliteStore is the SQLite implementation of Store.
type sqliteStore struct {
	DB *sql.DB

	stmtGetTask        *sql.Stmt
	stmtTaskHistory    *sql.Stmt
	stmtTaskComments   *sql.Stmt
	stmtCountUnread    *sql.Stmt
	stmtActiveByRole   *sql.Stmt
	stmtGetUser        *sql.Stmt
	stmtGetNotifByID   *sql.Stmt
	stmtListNotifByRcp *sql.Stmt
}

// Open opens (creating if needed) the SQLite store under home at DBFile.
func Open(home string) (Store, error) {
	if home == "" {
		return nil, errors.New("home required")
	}
	return OpenFile(filepath.Join(home, DBFile))
}

// OpenFile opens the SQLite database at path, or a full "file:" DSN, and migrates it.
func OpenFile(path string) (Store, error) {
	if path == "" {
		return nil, errors.New("sqlite path required")
	}
	dsn := path
	if !strings.HasPrefix(path, "file:") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
		dsn = "file:" + path + "?" + strings.Join(sqlitePragmas, "&")
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx := context.Background()
	s := &sqliteStore{DB: db}
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.prepare(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *sqliteStore) statements() []**sql.Stmt {
	return []**sql.Stmt{
		&s.stmtGetTask, &s.stmtTaskHistory, &s.stmtTaskComments, &s.stmtCountUnread,
		&s.stmtActiveByRole, &s.stmtGetUser, &s.stmtGetNotifByID, &s.stmtListNotifByRcp,
	}
}

// prepare compiles the per-request lookups once; order matches statements().
func (s *sqliteStore) prepare(ctx context.Context) error {
	queries := []string{
		`SELECT ` + taskColumns + ` FROM tasks WHERE task_id = ?`,
		`SELECT task_id, entry_id, action, from_status, to_status, performed_by, ts, comment FROM task_history WHERE task_id = ? ORDER BY seq ASC`,
		`SELECT task_id, comment_id, body, created_by, created_at FROM task_comments WHERE task_id = ? ORDER BY seq ASC`,
		`SELECT COUNT(*) FROM notifications WHERE recipient_id = ? AND read = 0`,
		`SELECT uid, role, display_name, email, active FROM users WHERE role = ? AND active = 1 ORDER BY uid ASC`,
		`SELECT uid, role, display_name, email, active FROM users WHERE uid = ?`,
		`SELECT ` + notificationColumns + ` FROM notifications WHERE notification_id = ?`,
		`SELECT ` + notificationColumns + ` FROM notifications WHERE recipient_id = ? ORDER BY created_at DESC, notification_id DESC LIMIT ?`,
	}
	for i, dest := range s.statements() {
		st, err := s.DB.PrepareContext(ctx, queries[i])
		if err != nil {
			return err
		}
		*dest = st
	}
	return nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	for _, st := range s.statements() {
		if *st != nil {
			_ = (*st).Close()
		}
	}
	return s.DB.Close()
}

// Migrate applies every pending embedded migration in one transaction.
func (s *sqliteStore) Migrate(ctx context.Context) error {
	all, err := LoadMigrations(migrationsFS, "migrations")
	if err != nil {
		return err
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, CreateMigrationsTable); err != nil {
		return err
	}
	applied, err := appliedVersions(ctx, tx)
	if err != nil {
		return err
	}
	for _, m := range Pending(all, applied) {
		if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
			return MigrationError(m, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations(version, applied_at) VALUES(?, ?)`, m.Version, time.Now().Unix()); err != nil {
			return MigrationError(m, err)
		}
	}
	return tx.Commit()
}

func appliedVersions(ctx context.Context, tx *sql.Tx) (map[int]bool, error) {
	rows, err := tx.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := make(map[int]bool)
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out[v] = true
	}
	return out, rows.Err()
}
