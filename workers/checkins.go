package workers

import (
	"context"
	"errors"
	"time"

	"github.com/davecheney/swarmdon/bridge"
	"github.com/davecheney/swarmdon/models"
	"golang.org/x/exp/slog"
	"gorm.io/gorm"
)

// NewCheckinProcessor delivers queued checkins. It makes a pass over the
// queue when woken, or every interval. Any number of processors may run
// against the same database; a checkin is delivered by whichever claims it.
func NewCheckinProcessor(db *gorm.DB, pipeline *bridge.Pipeline, wake <-chan struct{}, interval time.Duration, log *slog.Logger) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		db := db.WithContext(ctx)
		deliver := func(ctx context.Context, req *models.CheckinRequest) error {
			state, err := pipeline.Deliver(ctx, req)
			switch {
			case errors.Is(err, context.Canceled):
				return err
			case err != nil:
				log.Warn("checkin delivery failed", "checkin_id", req.CheckinID, "state", state, "error", err)
			default:
				log.Debug("checkin delivered", "checkin_id", req.CheckinID, "state", state)
			}
			return nil
		}
		for {
			if err := process(ctx, db, models.PendingScope, deliver); err != nil && ctx.Err() == nil {
				log.Error("checkin queue", "error", err)
			}
			select {
			case <-ctx.Done():
				return nil
			case <-wake:
			case <-time.After(interval):
			}
		}
	}
}
