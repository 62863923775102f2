// Package bridge turns verified Swarm checkins into Mastodon statuses.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/davecheney/swarmdon/internal/httpx"
	"github.com/davecheney/swarmdon/internal/retry"
	"github.com/davecheney/swarmdon/mastodon"
	"github.com/davecheney/swarmdon/models"
	"github.com/davecheney/swarmdon/oauth"
	"github.com/davecheney/swarmdon/swarm"
	"golang.org/x/exp/slog"
	"golang.org/x/time/rate"
)

// ErrReauthorizationRequired is returned when a link's credentials have been
// revoked and the user must authorize again.
var ErrReauthorizationRequired = oauth.ErrReauthorizationRequired

// Config controls how checkins are posted.
type Config struct {
	// Visibility of posted statuses.
	Visibility string
	// Friends maps Swarm handles to Mastodon accounts.
	Friends map[string]string
	// Attempts is the number of times a post is tried.
	Attempts int
	// Backoff and MaxBackoff bound the delay between attempts.
	Backoff    time.Duration
	MaxBackoff time.Duration
	// PostsPerMinute limits the rate of posts across all links.
	PostsPerMinute int
}

// Refresher renews a link's Swarm credentials.
type Refresher interface {
	Refresh(ctx context.Context, link *models.UserLink) (*models.UserLink, error)
}

// Publisher posts checkins to Mastodon.
type Publisher struct {
	cfg       Config
	swarm     *swarm.Client
	refresher Refresher
	// hc is used for requests to Mastodon instances.
	hc      *http.Client
	limiter *rate.Limiter
	policy  retry.Policy
	log     *slog.Logger
	metrics *Metrics
}

func NewPublisher(cfg Config, sc *swarm.Client, refresher Refresher, hc *http.Client, log *slog.Logger, metrics *Metrics) *Publisher {
	if cfg.Attempts < 1 {
		cfg.Attempts = 5
	}
	if cfg.Backoff == 0 {
		cfg.Backoff = time.Second
	}
	if cfg.MaxBackoff == 0 {
		cfg.MaxBackoff = time.Minute
	}
	if cfg.Visibility == "" {
		cfg.Visibility = mastodon.Public
	}
	limit := rate.Inf
	if cfg.PostsPerMinute > 0 {
		limit = rate.Limit(float64(cfg.PostsPerMinute) / 60)
	}
	return &Publisher{
		cfg:       cfg,
		swarm:     sc,
		refresher: refresher,
		hc:        hc,
		limiter:   rate.NewLimiter(limit, 1),
		policy: retry.Policy{
			Attempts:  cfg.Attempts,
			Base:      cfg.Backoff,
			Max:       cfg.MaxBackoff,
			Retryable: httpx.Transient,
		},
		log:     log,
		metrics: metrics,
	}
}

// Publish posts the checkin as a status on the link's Mastodon account and
// returns the ID of the status. The checkin ID is the idempotency key of the
// post, so a retried post which in fact succeeded is not duplicated.
func (p *Publisher) Publish(ctx context.Context, link *models.UserLink, checkin *swarm.Checkin) (string, error) {
	start := time.Now()
	c := *checkin
	if link.HasSwarm() && c.ShortURL == "" {
		c.ShortURL = p.shortURL(ctx, link, c.ID)
	}
	text := Compose(&c, p.cfg.Friends)

	client := mastodon.NewClient(link.MastodonInstanceURL, p.hc)
	var status *mastodon.Status
	err := p.policy.Do(ctx, func(ctx context.Context) error {
		if err := p.limiter.Wait(ctx); err != nil {
			return err
		}
		p.metrics.publishAttempt()
		var err error
		status, err = client.CreateStatus(ctx, link.MastodonAccessToken, mastodon.NewStatus{
			Status:         text,
			Visibility:     p.cfg.Visibility,
			IdempotencyKey: c.ID,
		})
		if err != nil {
			p.log.Debug("create status", "checkin_id", c.ID, "error", err)
		}
		return err
	})
	if errors.Is(err, mastodon.ErrTokenExpired) {
		return "", fmt.Errorf("%w: %v", ErrReauthorizationRequired, err)
	}
	if err != nil {
		return "", fmt.Errorf("publish checkin %s: %w", c.ID, err)
	}
	p.metrics.published(time.Since(start))
	return status.ID, nil
}

// shortURL returns the checkin's short URL, or the empty string if it could
// not be fetched. If Swarm rejects the access token the link is refreshed
// once.
func (p *Publisher) shortURL(ctx context.Context, link *models.UserLink, checkinID string) string {
	details, err := p.swarm.CheckinDetails(ctx, link.SwarmAccessToken, checkinID)
	if errors.Is(err, swarm.ErrTokenExpired) && p.refresher != nil {
		var refreshed *models.UserLink
		refreshed, err = p.refresher.Refresh(ctx, link)
		if err == nil {
			details, err = p.swarm.CheckinDetails(ctx, refreshed.SwarmAccessToken, checkinID)
		}
	}
	if err != nil {
		p.metrics.enrichFailure()
		p.log.Warn("unable to retrieve checkin details", "checkin_id", checkinID, "swarm_user_id", link.SwarmUserID, "error", err)
		return ""
	}
	return details.ShortURL
}
