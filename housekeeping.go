package main

import (
	"time"

	"github.com/davecheney/swarmdon/models"
	"gorm.io/gorm"
)

type HouseKeepingCmd struct {
	StateTTL   time.Duration `help:"Age after which pending authorizations are purged." default:"10m" env:"SWARMDON_STATE_TTL"`
	StaleAfter time.Duration `help:"Age after which an unfinalized checkin is reported." default:"1h"`
	Finalize   bool          `help:"Mark stale checkins as failed rather than only reporting them."`
}

func (c *HouseKeepingCmd) Run(ctx *Context) error {
	db, err := gorm.Open(ctx.Dialector, &ctx.Config)
	if err != nil {
		return err
	}
	log := ctx.Log
	return withTransaction(db, func(tx *gorm.DB) error {
		purged, err := models.NewAuthorizations(tx).Purge(time.Now().Add(-c.StateTTL))
		if err != nil {
			return err
		}
		log.Info("purged expired authorizations", "count", purged)

		// delete queued requests whose checkin was finalized elsewhere.
		res := tx.Exec(`
			DELETE FROM checkin_requests
			WHERE checkin_id IN (
				SELECT id FROM checkins WHERE outcome <> ?
			)
		`, models.Reserved)
		if res.Error != nil {
			return res.Error
		}
		log.Info("deleted orphaned checkin requests", "count", res.RowsAffected)

		checkins := models.NewCheckins(tx)
		stale, err := checkins.Stale(time.Now().Add(-c.StaleAfter))
		if err != nil {
			return err
		}
		for _, checkin := range stale {
			log.Warn("checkin delivery was interrupted", "checkin_id", checkin.ID, "swarm_user_id", checkin.SwarmUserID, "reserved_at", checkin.CreatedAt)
			if !c.Finalize {
				continue
			}
			if err := checkins.Finalize(checkin.ID, models.FailedPermanent, "", "delivery interrupted"); err != nil {
				return err
			}
		}
		log.Info("stale checkins", "count", len(stale))
		return nil
	})
}
