// Package dbtest opens a throwaway migrated database for tests.
package dbtest

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"medsconnect/internal/db"
)

// Open returns a migrated SQLite database living in t.TempDir().
func Open(t *testing.T) *gorm.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "medsconnect-test.db")
	gdb, err := db.Connect(db.DriverSQLite, path, nil)
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrateAndIndexes(gdb))

	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return gdb
}
