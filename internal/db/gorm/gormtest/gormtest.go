// Package gormtest opens throwaway stores for tests in other packages.
package gormtest

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm/logger"
	_ "modernc.org/sqlite" // registers the pure-Go "sqlite" driver

	"github.com/thebtf/storyline/internal/db/gorm"
)

// DSN returns a modernc SQLite DSN for a file database at path.
func DSN(path string) string {
	return "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
}

// NewStore creates a migrated Store backed by a temporary SQLite file.
// The store is closed when the test ends.
func NewStore(t testing.TB) *gorm.Store {
	t.Helper()

	sqlDB, err := sql.Open("sqlite", DSN(filepath.Join(t.TempDir(), "storyline.db")))
	require.NoError(t, err)

	store, err := gorm.NewStoreWithDialector(sqlite.Dialector{Conn: sqlDB}, gorm.Config{
		MaxConns: 1,
		LogLevel: logger.Silent,
	})
	require.NoError(t, err)

	t.Cleanup(func() { _ = store.Close() })
	return store
}
