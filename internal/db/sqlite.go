package db

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/lucasew/audiocache/internal/eviction"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

// DB is the catalog of stored artifacts and past eviction passes.
//
// It must live outside the media volume: every regular file in the volume is
// an eviction candidate.
type DB struct {
	db  *sql.DB
	now func() time.Time
}

var _ eviction.Observer = (*DB)(nil)

// Entry maps a source URL to the artifact it was stored as.
type Entry struct {
	SourceURL string
	Name      string
	Title     string
	Size      int64
	Checksum  string
	CreatedAt time.Time
}

// Run is a recorded eviction pass.
type Run struct {
	ID          string
	RanAt       time.Time
	Scanned     int
	Deleted     int
	AlreadyGone int
	Failed      int
	FreedBytes  int64
}

// Open opens the database at path and applies pending migrations.
func Open(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection avoids SQLITE_BUSY between writers in this process.
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := migrateUp(sqlDB); err != nil {
		sqlDB.Close()
		return nil, err
	}

	return &DB{db: sqlDB, now: time.Now}, nil
}

func migrateUp(sqlDB *sql.DB) error {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(sqlDB, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.db.Close()
}

// Record inserts or replaces the catalog entry for e.SourceURL.
func (d *DB) Record(ctx context.Context, e Entry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = d.now()
	}
	_, err := d.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO artifacts (source_url, name, title, size, checksum, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		e.SourceURL, e.Name, e.Title, e.Size, e.Checksum, e.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to record %s: %w", e.SourceURL, err)
	}
	return nil
}

// Lookup retrieves the catalog entry for a source URL.
func (d *DB) Lookup(ctx context.Context, sourceURL string) (Entry, bool, error) {
	var (
		e       Entry
		created int64
	)
	err := d.db.QueryRowContext(ctx,
		`SELECT source_url, name, title, size, checksum, created_at FROM artifacts WHERE source_url = ?`, sourceURL,
	).Scan(&e.SourceURL, &e.Name, &e.Title, &e.Size, &e.Checksum, &created)
	if err != nil {
		if err == sql.ErrNoRows {
			return Entry{}, false, nil
		}
		return Entry{}, false, fmt.Errorf("failed to look up %s: %w", sourceURL, err)
	}
	e.CreatedAt = time.Unix(created, 0)
	return e, true, nil
}

// EvictionCompleted drops the catalog entries of removed artifacts and records the pass.
func (d *DB) EvictionCompleted(ctx context.Context, result *eviction.Result) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO eviction_runs (id, ran_at, scanned, deleted, already_gone, failed, freed_bytes) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		result.ID, d.now().Unix(), result.Scanned, result.Deleted, result.SkippedAlreadyGone, result.Failed, result.FreedBytes)
	if err != nil {
		return fmt.Errorf("failed to record eviction run: %w", err)
	}

	if len(result.Removed) > 0 {
		stmt, err := tx.PrepareContext(ctx, `DELETE FROM artifacts WHERE name = ?`)
		if err != nil {
			return fmt.Errorf("failed to prepare statement: %w", err)
		}
		defer stmt.Close()

		for _, a := range result.Removed {
			if _, err := stmt.ExecContext(ctx, a.Name); err != nil {
				return fmt.Errorf("failed to forget %s: %w", a.Name, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Runs returns the most recent eviction passes, newest first.
func (d *DB) Runs(ctx context.Context, limit int) ([]Run, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT id, ran_at, scanned, deleted, already_gone, failed, freed_bytes FROM eviction_runs ORDER BY ran_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list eviction runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			r     Run
			ranAt int64
		)
		if err := rows.Scan(&r.ID, &ranAt, &r.Scanned, &r.Deleted, &r.AlreadyGone, &r.Failed, &r.FreedBytes); err != nil {
			return nil, fmt.Errorf("failed to scan eviction run: %w", err)
		}
		r.RanAt = time.Unix(ranAt, 0)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
