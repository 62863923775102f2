package models

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func TestCheckins(t *testing.T) {
	db := setupTestDB(t)

	t.Run("Reserve is fresh exactly once", func(t *testing.T) {
		require := require.New(t)
		tx := db.Begin()
		defer tx.Rollback()

		checkins := NewCheckins(tx)
		fresh, err := checkins.Reserve("c1", "u1", []byte(`{"id":"c1"}`))
		require.NoError(err)
		require.True(fresh)

		fresh, err = checkins.Reserve("c1", "u1", []byte(`{"id":"c1"}`))
		require.NoError(err)
		require.False(fresh)

		var queued []CheckinRequest
		require.NoError(tx.Find(&queued).Error)
		require.Len(queued, 1)
		require.Equal("c1", queued[0].CheckinID)
		require.Equal(`{"id":"c1"}`, string(queued[0].Payload))

		checkin, err := checkins.Find("c1")
		require.NoError(err)
		require.Equal(Reserved, checkin.Outcome)
		require.Nil(checkin.ProcessedAt)
	})

	t.Run("Claim succeeds once", func(t *testing.T) {
		require := require.New(t)
		tx := db.Begin()
		defer tx.Rollback()

		checkins := NewCheckins(tx)
		_, err := checkins.Reserve("c1", "u1", []byte(`{}`))
		require.NoError(err)
		var req CheckinRequest
		require.NoError(tx.Take(&req, "checkin_id = ?", "c1").Error)

		ok, err := checkins.Claim(&req)
		require.NoError(err)
		require.True(ok)
		ok, err = checkins.Claim(&req)
		require.NoError(err)
		require.False(ok)
	})

	t.Run("Finalize records the outcome once", func(t *testing.T) {
		require := require.New(t)
		tx := db.Begin()
		defer tx.Rollback()

		checkins := NewCheckins(tx)
		_, err := checkins.Reserve("c1", "u1", []byte(`{}`))
		require.NoError(err)

		require.NoError(checkins.Finalize("c1", Posted, "109", ""))
		checkin, err := checkins.Find("c1")
		require.NoError(err)
		require.Equal(Posted, checkin.Outcome)
		require.Equal("109", checkin.StatusID)
		require.NotNil(checkin.ProcessedAt)

		require.ErrorIs(checkins.Finalize("c1", FailedPermanent, "", "boom"), ErrAlreadyFinalized)
		require.ErrorIs(checkins.Finalize("c2", Posted, "", ""), ErrAlreadyFinalized)

		// a finalized checkin can never be reserved again
		fresh, err := checkins.Reserve("c1", "u1", []byte(`{}`))
		require.NoError(err)
		require.False(fresh)
	})

	t.Run("Stale returns interrupted reservations", func(t *testing.T) {
		require := require.New(t)
		tx := db.Begin()
		defer tx.Rollback()

		checkins := NewCheckins(tx)
		for _, id := range []string{"claimed", "queued", "done"} {
			_, err := checkins.Reserve(id, "u1", []byte(`{}`))
			require.NoError(err)
		}
		require.NoError(tx.Model(&Checkin{}).Where("1 = 1").Update("created_at", time.Now().Add(-time.Hour)).Error)

		var claimed CheckinRequest
		require.NoError(tx.Take(&claimed, "checkin_id = ?", "claimed").Error)
		ok, err := checkins.Claim(&claimed)
		require.NoError(err)
		require.True(ok)
		var done CheckinRequest
		require.NoError(tx.Take(&done, "checkin_id = ?", "done").Error)
		ok, err = checkins.Claim(&done)
		require.NoError(err)
		require.True(ok)
		require.NoError(checkins.Finalize("done", Posted, "1", ""))

		stale, err := checkins.Stale(time.Now().Add(-time.Minute))
		require.NoError(err)
		require.Len(stale, 1)
		require.Equal("claimed", stale[0].ID)
	})
}

func TestCheckinsConcurrentReserve(t *testing.T) {
	require := require.New(t)
	db, err := gorm.Open(sqlite.Open("file:concurrent_checkins?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(err)
	sqlDB, err := db.DB()
	require.NoError(err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(db.AutoMigrate(AllTables()...))

	checkins := NewCheckins(db)
	results := make(chan bool, 16)
	errs := make(chan error, 16)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fresh, err := checkins.Reserve("c1", "u1", []byte(`{}`))
			errs <- err
			results <- fresh
		}()
	}
	wg.Wait()
	close(results)
	close(errs)
	for err := range errs {
		require.NoError(err)
	}
	var fresh int
	for ok := range results {
		if ok {
			fresh++
		}
	}
	require.Equal(1, fresh)
}
