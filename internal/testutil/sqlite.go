// Package testutil holds helpers shared by package tests.
package testutil

import (
	"database/sql"
	"io"
	"path/filepath"
	"testing"

	"github.com/jengzang/mobile-supervisor-go/internal/database"
	"github.com/jengzang/mobile-supervisor-go/internal/logging"
)

// QuietLogs silences the global logger for the duration of a test binary
func QuietLogs() {
	logging.Init(logging.Config{Level: "error", Format: "console", Output: io.Discard})
}

// NewDB opens a migrated SQLite database in a per-test temp dir
func NewDB(tb testing.TB) *sql.DB {
	tb.Helper()

	conn, err := database.Open(database.Config{Path: filepath.Join(tb.TempDir(), "test.db")})
	if err != nil {
		tb.Fatalf("open test database: %v", err)
	}
	tb.Cleanup(func() { conn.Close() })

	if err := database.Migrate(conn); err != nil {
		tb.Fatalf("migrate test database: %v", err)
	}
	return conn
}
