package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/process"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DB is the SQLite run ledger
type DB struct {
	conn   *sql.DB
	logger zerolog.Logger
}

// New opens (or creates) the ledger at dbPath and applies pending migrations
func New(dbPath string, logger zerolog.Logger) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to execute %s: %w", pragma, err)
		}
	}

	db := &DB{conn: conn, logger: logger.With().Str("component", "store").Logger()}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return db, nil
}

func (d *DB) Close() error {
	return d.conn.Close()
}

func (d *DB) Conn() *sql.DB {
	return d.conn
}

// Runs returns the run repository backed by this database
func (d *DB) Runs() *SQLiteRepository {
	return NewRepository(d.conn)
}

func (d *DB) migrate() error {
	migrations, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("failed to read migrations: %w", err)
	}

	for _, m := range migrations {
		if m.IsDir() {
			continue
		}

		name := m.Name()
		if d.isMigrationApplied(name) {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", name, err)
		}

		if _, err := d.conn.Exec(string(content)); err != nil {
			return fmt.Errorf("failed to execute migration %s: %w", name, err)
		}

		if _, err := d.conn.Exec("INSERT INTO _migrations (name) VALUES (?)", name); err != nil {
			return fmt.Errorf("failed to record migration %s: %w", name, err)
		}

		d.logger.Debug().Str("name", name).Msg("applied migration")
	}

	return nil
}

func (d *DB) isMigrationApplied(name string) bool {
	var exists int
	err := d.conn.QueryRow("SELECT 1 FROM sqlite_master WHERE type='table' AND name='_migrations'").Scan(&exists)
	if err != nil {
		return false
	}

	var applied int
	err = d.conn.QueryRow("SELECT 1 FROM _migrations WHERE name = ?", name).Scan(&applied)
	return err == nil && applied == 1
}

// RecoverInterrupted fails running runs whose owning process on this host is
// gone. Runs owned by live processes or by other hosts are left alone.
func (d *DB) RecoverInterrupted(ctx context.Context) (int64, error) {
	host, _ := os.Hostname()

	rows, err := d.conn.QueryContext(ctx, `SELECT id, host, pid FROM runs WHERE status = ?`, StatusRunning)
	if err != nil {
		return 0, err
	}

	var orphaned []string
	for rows.Next() {
		var (
			id, owner string
			pid       int
		)
		if err := rows.Scan(&id, &owner, &pid); err != nil {
			rows.Close()
			return 0, err
		}
		// rows written before owners were recorded have pid 0
		if pid == 0 || (owner == host && !processAlive(ctx, pid)) {
			orphaned = append(orphaned, id)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	var n int64
	for _, id := range orphaned {
		res, err := d.conn.ExecContext(ctx,
			`UPDATE runs SET status = ?, error = 'interrupted by restart', updated_at = ? WHERE id = ? AND status = ?`,
			StatusFailed, now(), id, StatusRunning)
		if err != nil {
			return n, err
		}
		affected, _ := res.RowsAffected()
		n += affected
	}

	if n > 0 {
		d.logger.Info().Int64("runs", n).Msg("marked interrupted runs as failed")
	}
	return n, nil
}

// processAlive reports whether pid is running; lookup errors count as alive
func processAlive(ctx context.Context, pid int) bool {
	if pid <= 0 {
		return false
	}
	ok, err := process.PidExistsWithContext(ctx, int32(pid))
	return err != nil || ok
}
