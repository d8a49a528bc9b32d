package db

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	// DefaultDatabasePath is where the notes database lives when DATABASE_PATH is unset
	DefaultDatabasePath = "./data/notes.db"

	// MaxOpenConns is the maximum number of open connections.
	// SQLite is single-writer, so high connection counts are counterproductive.
	MaxOpenConns = 8

	// MaxIdleConns is the maximum number of idle connections
	MaxIdleConns = 2
)

// Options configures Open.
type Options struct {
	// Path is the database file. Parent directories are created on demand.
	Path string
	// Key is the 32-byte SQLCipher key. A nil key opens an unencrypted database.
	Key []byte
}

// DB wraps the sql.DB connection and provides access to typed queries.
// One DB is constructed at startup and handed to every component that needs it.
type DB struct {
	db      *sql.DB
	queries *Queries
}

// NewFromSQL wraps an existing sql.DB.
func NewFromSQL(sqlDB *sql.DB) *DB {
	return &DB{
		db:      sqlDB,
		queries: New(sqlDB),
	}
}

// Open opens (creating if needed) the notes database at opts.Path.
// It does not apply the schema; call Migrate before serving.
func Open(opts Options) (*DB, error) {
	if opts.Path == "" {
		opts.Path = DefaultDatabasePath
	}
	if opts.Key != nil && len(opts.Key) != 32 {
		return nil, fmt.Errorf("database key must be exactly 32 bytes, got %d", len(opts.Key))
	}

	if dir := filepath.Dir(opts.Path); dir != "" {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	dsn := opts.Path
	if opts.Key != nil {
		// Format: file.db?_pragma_key=x'HEX_KEY'&_pragma_cipher_page_size=4096
		dsn = fmt.Sprintf("%s?_pragma_key=x'%s'&_pragma_cipher_page_size=4096", opts.Path, hex.EncodeToString(opts.Key))
	}
	dsn = appendSQLiteParams(dsn, sqliteCommonParams())

	sqlDB, err := sql.Open(SQLiteDriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB.SetMaxOpenConns(MaxOpenConns)
	sqlDB.SetMaxIdleConns(MaxIdleConns)

	// A wrong SQLCipher key only surfaces once a page is read.
	var tables int
	if err := sqlDB.QueryRow("SELECT count(*) FROM sqlite_master").Scan(&tables); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to verify database connection: %w", err)
	}

	return NewFromSQL(sqlDB), nil
}

// DB returns the underlying sql.DB for direct access when needed
func (d *DB) DB() *sql.DB {
	return d.db
}

// Queries returns the typed queries bound to the connection pool
func (d *DB) Queries() *Queries {
	return d.queries
}

// Ping verifies the database is reachable.
func (d *DB) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// WithTx runs fn inside a transaction. fn's error rolls the transaction back;
// a nil return commits it.
func (d *DB) WithTx(ctx context.Context, fn func(q *Queries) error) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(d.queries.WithTx(tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return errors.Join(err, fmt.Errorf("rollback failed: %w", rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// MigrationReport describes what Migrate changed.
type MigrationReport struct {
	// VersionsBackfilled counts rows whose version was NULL or below 1.
	VersionsBackfilled int64
	// TimestampsConverted counts rows copied out of a DATETIME-typed notes table.
	TimestampsConverted int64
}

// Migrate applies the schema, idempotent column migrations and the one-time version backfill.
func (d *DB) Migrate(ctx context.Context) (MigrationReport, error) {
	var report MigrationReport

	if _, err := d.db.ExecContext(ctx, Schema); err != nil {
		return report, fmt.Errorf("failed to initialize schema: %w", err)
	}

	for _, stmt := range strings.Split(Migrations, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := d.db.ExecContext(ctx, stmt); err != nil {
			// SQLite ADD COLUMN errors if the column exists
			if strings.Contains(err.Error(), "duplicate column name") {
				continue
			}
			return report, fmt.Errorf("migration failed: %w", err)
		}
	}

	err := d.WithTx(ctx, func(q *Queries) error {
		converted, fixed, err := convertLegacyTimestamps(ctx, q)
		if err != nil {
			return err
		}
		report.TimestampsConverted = converted
		report.VersionsBackfilled = fixed
		return nil
	})
	if err != nil {
		return report, fmt.Errorf("timestamp migration failed: %w", err)
	}

	res, err := d.db.ExecContext(ctx, VersionBackfill)
	if err != nil {
		return report, fmt.Errorf("version backfill failed: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		report.VersionsBackfilled += n
	}
	return report, nil
}

// Close closes the connection pool.
func (d *DB) Close() error {
	if d.db != nil {
		return d.db.Close()
	}
	return nil
}

func sqliteCommonParams() string {
	// WAL + NORMAL gives good throughput while preserving safety. Immediate transactions
	// take the write lock at BEGIN so a transaction never has to upgrade a stale read snapshot.
	return fmt.Sprintf("_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=%d&_txlock=immediate", BusyTimeoutMillis)
}

func appendSQLiteParams(dsn, params string) string {
	if strings.Contains(dsn, "?") {
		return dsn + "&" + params
	}
	return dsn + "?" + params
}
