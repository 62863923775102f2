package models

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestRegistrations(t *testing.T) {
	db := setupTestDB(t)

	t.Run("Find returns ErrRecordNotFound for an unknown instance", func(t *testing.T) {
		require := require.New(t)
		tx := db.Begin()
		defer tx.Rollback()

		_, err := NewRegistrations(tx).Find("https://example.com")
		require.ErrorIs(err, gorm.ErrRecordNotFound)
	})

	t.Run("Save replaces an existing registration", func(t *testing.T) {
		require := require.New(t)
		tx := db.Begin()
		defer tx.Rollback()

		regs := NewRegistrations(tx)
		require.NoError(regs.Save(&Registration{
			InstanceURL:  "https://example.com",
			ClientID:     "id1",
			ClientSecret: "secret1",
			RedirectURI:  "https://bridge.example/mastodon/callback",
			Scopes:       "read:accounts write:statuses",
		}))
		require.NoError(regs.Save(&Registration{
			InstanceURL:  "https://example.com",
			ClientID:     "id2",
			ClientSecret: "secret2",
			RedirectURI:  "https://bridge.example/mastodon/callback",
			Scopes:       "read:accounts write:statuses",
		}))

		reg, err := regs.Find("https://example.com")
		require.NoError(err)
		require.Equal("id2", reg.ClientID)
		require.Equal("secret2", reg.ClientSecret)
	})
}
