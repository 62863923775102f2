package bridge

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/davecheney/swarmdon/models"
	"github.com/davecheney/swarmdon/swarm"
	"golang.org/x/exp/slog"
	"gorm.io/gorm"
)

// State is the stage a checkin reached in the pipeline.
type State string

const (
	Received            State = "received"
	Verified            State = "verified"
	DedupChecked        State = "dedup-checked"
	CredentialsResolved State = "credentials-resolved"
	Published           State = "published"
	Finalized           State = "finalized"

	// Rejected pushes were not authentic or could not be decoded.
	Rejected State = "rejected"
	// Skipped checkins were already seen, private, or for an unlinked user.
	Skipped State = "skipped"
	// Failed checkins could not be posted.
	Failed State = "failed"
)

// Poster publishes a checkin and returns the ID of the status.
type Poster interface {
	Publish(ctx context.Context, link *models.UserLink, checkin *swarm.Checkin) (string, error)
}

// Pipeline accepts pushes from Swarm and delivers them to Mastodon.
// Acceptance records the checkin and queues it; delivery happens later, from
// the queue.
type Pipeline struct {
	db        *gorm.DB
	verifier  *swarm.Verifier
	publisher Poster
	log       *slog.Logger
	metrics   *Metrics
	wake      chan struct{}
}

func NewPipeline(db *gorm.DB, verifier *swarm.Verifier, publisher Poster, log *slog.Logger, metrics *Metrics) *Pipeline {
	return &Pipeline{
		db:        db,
		verifier:  verifier,
		publisher: publisher,
		log:       log,
		metrics:   metrics,
		wake:      make(chan struct{}, 1),
	}
}

// Wake receives a value when a new checkin has been queued.
func (p *Pipeline) Wake() <-chan struct{} {
	return p.wake
}

// Verifier returns the push verifier.
func (p *Pipeline) Verifier() *swarm.Verifier {
	return p.verifier
}

// Accept verifies a push and, if its checkin has not been seen before,
// reserves and queues it. Accept does not publish.
func (p *Pipeline) Accept(r *http.Request) (State, *swarm.Checkin, error) {
	checkin, err := p.verifier.Verify(r)
	if err != nil {
		p.metrics.push(Rejected)
		return Rejected, nil, err
	}
	fresh, err := models.NewCheckins(p.db).Reserve(checkin.ID, checkin.User.ID, checkin.Raw)
	if err != nil {
		return Verified, checkin, fmt.Errorf("reserve checkin %s: %w", checkin.ID, err)
	}
	if !fresh {
		p.log.Info("checkin already seen", "checkin_id", checkin.ID)
		p.metrics.push(Skipped)
		return Skipped, checkin, nil
	}
	select {
	case p.wake <- struct{}{}:
	default:
	}
	p.metrics.push(DedupChecked)
	return DedupChecked, checkin, nil
}

// Deliver claims a queued checkin and publishes it. Of several calls with the
// same request only one delivers; the others return Skipped.
func (p *Pipeline) Deliver(ctx context.Context, req *models.CheckinRequest) (State, error) {
	checkins := models.NewCheckins(p.db)
	claimed, err := checkins.Claim(req)
	if err != nil {
		return DedupChecked, fmt.Errorf("claim checkin %s: %w", req.CheckinID, err)
	}
	if !claimed {
		return Skipped, nil
	}

	log := p.log.With("checkin_id", req.CheckinID)
	checkin, err := swarm.Decode(req.Payload)
	if err != nil {
		return Failed, p.finalize(checkins, req.CheckinID, models.FailedPermanent, "", err)
	}
	if checkin.Private {
		log.Info("skipping private checkin")
		return Skipped, p.finalize(checkins, checkin.ID, models.SkippedPrivate, "", nil)
	}

	link, err := models.NewLinks(p.db).Get(checkin.User.ID)
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		log.Info("skipping checkin for unknown user", "swarm_user_id", checkin.User.ID)
		return Skipped, p.finalize(checkins, checkin.ID, models.SkippedUnlinked, "", nil)
	case err != nil:
		return Failed, p.finalize(checkins, checkin.ID, models.FailedPermanent, "", err)
	case !link.Linked():
		log.Info("skipping checkin for unlinked user", "swarm_user_id", checkin.User.ID)
		return Skipped, p.finalize(checkins, checkin.ID, models.SkippedUnlinked, "", nil)
	}

	statusID, err := p.publisher.Publish(ctx, link, checkin)
	if errors.Is(err, context.Canceled) {
		// shutting down; the reservation stays unfinalized and is reported
		// by housekeeping.
		return CredentialsResolved, err
	}
	if err != nil {
		log.Error("unable to post checkin", "swarm_user_id", checkin.User.ID, "error", err)
		if ferr := p.finalize(checkins, checkin.ID, models.FailedPermanent, "", err); ferr != nil {
			return Failed, ferr
		}
		return Failed, err
	}
	if err := p.finalize(checkins, checkin.ID, models.Posted, statusID, nil); err != nil {
		return Published, err
	}
	if err := models.NewLinks(p.db).MarkPosted(link.SwarmUserID, checkin.ID); err != nil {
		log.Warn("unable to record last checkin", "error", err)
	}
	log.Info("posted checkin", "status_id", statusID)
	return Finalized, nil
}

func (p *Pipeline) finalize(checkins *models.Checkins, checkinID string, outcome models.CheckinOutcome, statusID string, cause error) error {
	var result string
	if cause != nil {
		result = cause.Error()
	}
	if err := checkins.Finalize(checkinID, outcome, statusID, result); err != nil {
		return fmt.Errorf("finalize checkin %s as %s: %w", checkinID, outcome, err)
	}
	p.metrics.outcome(outcome)
	return nil
}
