package db

import (
	"database/sql"
	"fmt"

	sqlite3 "github.com/mutecomm/go-sqlcipher/v4"
)

const (
	// SQLiteDriverName is the project-specific SQLCipher driver with per-connection setup.
	SQLiteDriverName = "sqlite3_notes"

	// BusyTimeoutMillis bounds how long a writer waits for SQLite's write lock.
	BusyTimeoutMillis = 5000
)

func init() {
	sql.Register(SQLiteDriverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			// In-memory DSNs skip the _busy_timeout query parameter path, so set it on every connection.
			if _, err := conn.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", BusyTimeoutMillis), nil); err != nil {
				return fmt.Errorf("set busy_timeout: %w", err)
			}
			return nil
		},
	})
}
