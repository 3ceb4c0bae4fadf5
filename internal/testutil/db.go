package testutil

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/bluesky-social/modqueue/models"
)

// Returns a fresh, fully-migrated in-memory sqlite database, private to the calling test.
//
// The pool is limited to a single connection: every sqlite ":memory:" connection is its own database, and it also serializes concurrent writers the way a single primary would.
func TestDB(t testing.TB) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		SkipDefaultTransaction: true,
		TranslateError:         true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqldb, err := db.DB()
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqldb.Close() })

	require.NoError(t, models.AutoMigrate(db))
	return db
}
