package models

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// MockLink creates a new UserLink in the database.
func MockLink(t *testing.T, tx *gorm.DB, swarmUserID string, opts ...func(*UserLink)) *UserLink {
	t.Helper()
	require := require.New(t)

	link := &UserLink{
		SwarmUserID:      swarmUserID,
		SwarmAccessToken: "swarm-" + swarmUserID,
	}
	for _, opt := range opts {
		opt(link)
	}
	require.NoError(tx.Create(link).Error)
	return link
}

// WithMastodon completes the Mastodon side of a link.
func WithMastodon(instance, token string) func(*UserLink) {
	return func(l *UserLink) {
		l.MastodonInstanceURL = instance
		l.MastodonAccountURL = instance + "/@" + l.SwarmUserID
		l.MastodonAccessToken = token
	}
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	require := require.New(t)
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{
		TranslateError: true,
		Logger: logger.Default.LogMode(func() logger.LogLevel {
			return logger.Warn
		}()),
	})
	require.NoError(err)

	err = db.AutoMigrate(AllTables()...)
	require.NoError(err)

	// enable foreign key constraints
	err = db.Exec("PRAGMA foreign_keys = ON").Error
	require.NoError(err)

	return db
}
