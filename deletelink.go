package main

import (
	"fmt"

	"github.com/davecheney/swarmdon/models"
	"gorm.io/gorm"
)

type DeleteLinkCmd struct {
	SwarmUserID string `required:"" help:"The Swarm user ID of the link to delete."`
}

func (d *DeleteLinkCmd) Run(ctx *Context) error {
	db, err := gorm.Open(ctx.Dialector, &ctx.Config)
	if err != nil {
		return err
	}

	return withTransaction(db, func(tx *gorm.DB) error {
		if err := models.NewLinks(tx).Delete(d.SwarmUserID); err != nil {
			return fmt.Errorf("failed to delete link %s: %w", d.SwarmUserID, err)
		}
		// pending authorizations for the user can no longer complete.
		if err := tx.Where("swarm_user_id = ?", d.SwarmUserID).Delete(&models.PendingAuthorization{}).Error; err != nil {
			return err
		}
		ctx.Log.Info("deleted link", "swarm_user_id", d.SwarmUserID)
		return nil
	})
}
