// Package testdb builds isolated, migrated databases for tests.
package testdb

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/kuitang/versioned-notes/internal/crypto"
	"github.com/kuitang/versioned-notes/internal/db"
)

// testMasterKey is a fixed, obviously-not-secret master key for test databases.
var testMasterKey = []byte(strings.Repeat("k", crypto.MasterKeySize))

var counter atomic.Int64

// NewInMemory creates a migrated, encrypted in-memory database.
// The pool holds a single connection: every in-memory connection would otherwise be its own database.
func NewInMemory(name string) (*db.DB, error) {
	if name == "" {
		name = "test"
	}
	name = fmt.Sprintf("%s-%d", name, counter.Add(1))

	key := crypto.DeriveDatabaseKey(testMasterKey, name, crypto.DefaultKeyVersion)
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_pragma_key=x'%s'&_pragma_cipher_page_size=4096", name, hex.EncodeToString(key))

	sqlDB, err := sql.Open(db.SQLiteDriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory database: %w", err)
	}

	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetMaxOpenConns(1)

	if err := applyFastSQLitePragmas(sqlDB); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to apply fast SQLite pragmas: %w", err)
	}

	database := db.NewFromSQL(sqlDB)
	if _, err := database.Migrate(context.Background()); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to initialize in-memory schema: %w", err)
	}
	return database, nil
}

// NewFile creates a migrated, encrypted database file under t.TempDir().
// Use it where real multi-connection locking matters.
func NewFile(t testing.TB) *db.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "notes.db")
	key := crypto.DeriveDatabaseKey(testMasterKey, "file", crypto.DefaultKeyVersion)

	database, err := db.Open(db.Options{Path: path, Key: key})
	if err != nil {
		t.Fatalf("failed to open file database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	if _, err := database.Migrate(context.Background()); err != nil {
		t.Fatalf("failed to migrate file database: %v", err)
	}
	return database
}

// MustInMemory is NewInMemory for callers with a Fatalf method (testing.TB or *rapid.T).
func MustInMemory(t interface {
	Fatalf(format string, args ...interface{})
}, name string) *db.DB {
	database, err := NewInMemory(name)
	if err != nil {
		t.Fatalf("failed to create in-memory database: %v", err)
	}
	return database
}

func applyFastSQLitePragmas(sqlDB *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=MEMORY",
		"PRAGMA synchronous=OFF",
		"PRAGMA temp_store=MEMORY",
		"PRAGMA secure_delete=OFF",
	}
	for _, pragma := range pragmas {
		if _, err := sqlDB.Exec(pragma); err != nil {
			return err
		}
	}
	return nil
}
