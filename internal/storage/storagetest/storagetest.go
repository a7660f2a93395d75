// Package storagetest opens throwaway in-memory databases for tests.
package storagetest

import (
	"path/filepath"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"speakadora-bot/internal/database"
	"speakadora-bot/internal/models"
)

// NewDB returns a migrated in-memory SQLite database. A single connection is
// kept open so every query sees the same memory database.
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, database.Migrate(db))
	return db
}

// NewFileDB returns a migrated SQLite database in a temporary file. Unlike
// NewDB it allows several connections, so a test can write outside an open
// transaction.
func NewFileDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "test.db") + "?_pragma=busy_timeout(5000)"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, database.Migrate(db))
	return db
}

// SetLevel changes a user's engagement level, which happens outside the API.
func SetLevel(t *testing.T, db *gorm.DB, telegramID string, level int) {
	t.Helper()

	res := db.Model(&models.User{}).Where("telegram_id = ?", telegramID).Update("level", level)
	require.NoError(t, res.Error)
	require.Equal(t, int64(1), res.RowsAffected)
}

// CountRows returns the number of rows in the table backing model.
func CountRows(t *testing.T, db *gorm.DB, model interface{}) int64 {
	t.Helper()

	var count int64
	require.NoError(t, db.Model(model).Count(&count).Error)
	return count
}
