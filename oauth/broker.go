// Package oauth runs the authorization flows which link a Swarm account to a
// Mastodon account.
package oauth

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
	"github.com/davecheney/swarmdon/swarm"
	"golang.org/x/exp/slog"
	"gorm.io/gorm"
)

var (
	// ErrInvalidState is returned when a callback's state token is unknown,
	// expired, reused, or belongs to the other platform.
	ErrInvalidState = models.ErrInvalidState
	// ErrUpstreamRejected is returned when the platform refuses the
	// authorization, or the user denied it.
	ErrUpstreamRejected = errors.New("authorization rejected by upstream")
	// ErrTransientUpstream is returned when the platform could not be
	// reached to exchange the code.
	ErrTransientUpstream = errors.New("upstream unavailable")
	// ErrProfileLookupFailed is returned when the token was issued but the
	// account it belongs to could not be determined.
	ErrProfileLookupFailed = errors.New("profile lookup failed")
	// ErrSwarmRequired is returned when a Mastodon authorization is begun
	// before the Swarm account is known.
	ErrSwarmRequired = errors.New("swarm authorization required first")
	// ErrInstanceNotAllowed is returned when the user asks to link an
	// instance other than the configured one.
	ErrInstanceNotAllowed = errors.New("mastodon instance not allowed")
	// ErrReauthorizationRequired is returned when a link's credentials can
	// no longer be used and the user must authorize again.
	ErrReauthorizationRequired = errors.New("reauthorization required")
)

// Config holds the application's registration with both platforms.
type Config struct {
	// BaseURL is the public URL of this service, used to build redirect URIs.
	BaseURL    string
	ClientName string
	Website    string

	Swarm *swarm.Client

	// MastodonInstance is the default instance.
	MastodonInstance string
	// MastodonClientID and MastodonClientSecret, if set, are a registration
	// made out of band on MastodonInstance.
	MastodonClientID     string
	MastodonClientSecret string
	// AllowAnyInstance permits users to link accounts on instances other
	// than MastodonInstance.
	AllowAnyInstance bool
	// MastodonHTTPClient is used for all requests to Mastodon instances.
	MastodonHTTPClient *http.Client

	// StateTTL bounds the time between Begin and Complete.
	StateTTL time.Duration
}

// MastodonRedirectURI returns the redirect URI registered with Mastodon instances.
func (c *Config) MastodonRedirectURI() string {
	return c.BaseURL + "/mastodon/callback"
}

// SwarmRedirectURI returns the redirect URI registered with Swarm.
func (c *Config) SwarmRedirectURI() string {
	return c.BaseURL + "/swarm/callback"
}

// BeginOptions carry what is known about the user when an authorization begins.
type BeginOptions struct {
	SwarmUserID string
	InstanceURL string
}

// Broker begins and completes authorizations, and refreshes Swarm tokens.
type Broker struct {
	db  *gorm.DB
	cfg Config
	log *slog.Logger

	// lookup is the retry policy for profile lookups after a code exchange.
	lookup retry.Policy
}

func NewBroker(db *gorm.DB, log *slog.Logger, cfg Config) *Broker {
	if cfg.StateTTL == 0 {
		cfg.StateTTL = 10 * time.Minute
	}
	return &Broker{
		db:  db,
		cfg: cfg,
		log: log,
		lookup: retry.Policy{
			Attempts:  3,
			Base:      250 * time.Millisecond,
			Max:       2 * time.Second,
			Retryable: httpx.Transient,
		},
	}
}

// Begin starts an authorization for the platform and returns the URL to
// redirect the user to, and the state token which will identify the callback.
func (b *Broker) Begin(ctx context.Context, platform models.Platform, opts BeginOptions) (string, string, error) {
	switch platform {
	case models.Swarm:
		pending, err := models.NewAuthorizations(b.db).Create(models.Swarm, opts.SwarmUserID, "")
		if err != nil {
			return "", "", err
		}
		return b.cfg.Swarm.AuthorizeURL(pending.StateToken), pending.StateToken, nil
	case models.Mastodon:
		return b.beginMastodon(ctx, opts)
	default:
		return "", "", fmt.Errorf("unknown platform %q", platform)
	}
}

func (b *Broker) beginMastodon(ctx context.Context, opts BeginOptions) (string, string, error) {
	if opts.SwarmUserID == "" {
		return "", "", ErrSwarmRequired
	}
	link, err := models.NewLinks(b.db).Get(opts.SwarmUserID)
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return "", "", ErrSwarmRequired
	case err != nil:
		return "", "", err
	case !link.HasSwarm():
		return "", "", ErrSwarmRequired
	}

	instance, err := b.instance(opts.InstanceURL)
	if err != nil {
		return "", "", err
	}
	reg, err := b.registration(ctx, instance)
	if err != nil {
		return "", "", err
	}
	pending, err := models.NewAuthorizations(b.db).Create(models.Mastodon, opts.SwarmUserID, instance)
	if err != nil {
		return "", "", err
	}
	client := mastodon.NewClient(instance, b.cfg.MastodonHTTPClient)
	return client.AuthorizeURL(reg.ClientID, reg.RedirectURI, pending.StateToken), pending.StateToken, nil
}

// instance returns the normalised instance URL to authorize against.
func (b *Broker) instance(requested string) (string, error) {
	def, err := mastodon.NormalizeInstance(b.cfg.MastodonInstance)
	if requested == "" {
		if err != nil {
			return "", fmt.Errorf("%w: no instance given and no default configured", ErrInstanceNotAllowed)
		}
		return def, nil
	}
	instance, err := mastodon.NormalizeInstance(requested)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInstanceNotAllowed, err)
	}
	if !b.cfg.AllowAnyInstance && instance != def {
		return "", fmt.Errorf("%w: %s", ErrInstanceNotAllowed, instance)
	}
	return instance, nil
}

// registration returns this application's registration on the instance,
// registering it if this is the first user from that instance.
func (b *Broker) registration(ctx context.Context, instance string) (*models.Registration, error) {
	regs := models.NewRegistrations(b.db)
	reg, err := regs.Find(instance)
	if err == nil {
		return reg, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	reg = &models.Registration{
		InstanceURL: instance,
		RedirectURI: b.cfg.MastodonRedirectURI(),
		Scopes:      mastodon.Scopes,
	}
	if def, _ := mastodon.NormalizeInstance(b.cfg.MastodonInstance); instance == def && b.cfg.MastodonClientID != "" {
		reg.ClientID = b.cfg.MastodonClientID
		reg.ClientSecret = b.cfg.MastodonClientSecret
	} else {
		app, err := mastodon.NewClient(instance, b.cfg.MastodonHTTPClient).RegisterApp(ctx, mastodon.AppParams{
			ClientName:  b.cfg.ClientName,
			RedirectURI: reg.RedirectURI,
			Website:     b.cfg.Website,
		})
		if err != nil {
			return nil, upstream(err)
		}
		reg.ClientID = app.ClientID
		reg.ClientSecret = app.ClientSecret
		b.log.Info("registered application", "instance", instance)
	}
	if err := regs.Save(reg); err != nil {
		return nil, err
	}
	return reg, nil
}

// CompleteOptions carry the platform's reply to an authorization.
type CompleteOptions struct {
	State string
	// Code is empty if the user declined.
	Code string
	// SwarmUserID is the session user completing the authorization, if any.
	// A Mastodon authorization completes only for the user who began it.
	SwarmUserID string
}

// Complete finishes the authorization identified by opts.State, storing the
// credentials for that platform in the user's link.
func (b *Broker) Complete(ctx context.Context, platform models.Platform, opts CompleteOptions) (*models.UserLink, error) {
	pending, err := models.NewAuthorizations(b.db).Consume(platform, opts.State, b.cfg.StateTTL)
	if err != nil {
		return nil, err
	}
	if platform == models.Mastodon && pending.SwarmUserID != opts.SwarmUserID {
		b.log.Warn("mastodon authorization completed by another session", "swarm_user_id", pending.SwarmUserID)
		return nil, fmt.Errorf("%w: authorization began in another session", ErrInvalidState)
	}
	if opts.Code == "" {
		return nil, fmt.Errorf("%w: authorization was declined", ErrUpstreamRejected)
	}
	switch platform {
	case models.Swarm:
		return b.completeSwarm(ctx, opts.Code)
	case models.Mastodon:
		return b.completeMastodon(ctx, pending, opts.Code)
	default:
		return nil, fmt.Errorf("unknown platform %q", platform)
	}
}

func (b *Broker) completeSwarm(ctx context.Context, code string) (*models.UserLink, error) {
	tok, err := b.cfg.Swarm.Exchange(ctx, code)
	if err != nil {
		return nil, upstream(err)
	}
	var user *swarm.User
	err = b.lookup.Do(ctx, func(ctx context.Context) error {
		user, err = b.cfg.Swarm.Me(ctx, tok.AccessToken)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProfileLookupFailed, err)
	}
	link, err := models.NewLinks(b.db).Upsert(&models.UserLink{
		SwarmUserID:       user.ID,
		SwarmAccessToken:  tok.AccessToken,
		SwarmRefreshToken: tok.RefreshToken,
	})
	if err != nil {
		return nil, err
	}
	b.log.Info("swarm authorized", "swarm_user_id", user.ID)
	return link, nil
}

func (b *Broker) completeMastodon(ctx context.Context, pending *models.PendingAuthorization, code string) (*models.UserLink, error) {
	reg, err := models.NewRegistrations(b.db).Find(pending.InstanceURL)
	if err != nil {
		return nil, fmt.Errorf("find registration for %s: %w", pending.InstanceURL, err)
	}
	client := mastodon.NewClient(pending.InstanceURL, b.cfg.MastodonHTTPClient)
	tok, err := client.Exchange(ctx, reg.ClientID, reg.ClientSecret, reg.RedirectURI, code)
	if err != nil {
		return nil, upstream(err)
	}
	var acct *mastodon.Account
	err = b.lookup.Do(ctx, func(ctx context.Context) error {
		acct, err = client.VerifyCredentials(ctx, tok.AccessToken)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProfileLookupFailed, err)
	}
	link, err := models.NewLinks(b.db).Upsert(&models.UserLink{
		SwarmUserID:         pending.SwarmUserID,
		MastodonInstanceURL: pending.InstanceURL,
		MastodonAccountURL:  acct.URL,
		MastodonAccessToken: tok.AccessToken,
	})
	if err != nil {
		return nil, err
	}
	b.log.Info("mastodon authorized", "swarm_user_id", pending.SwarmUserID, "account", acct.URL)
	return link, nil
}

// Refresh exchanges the link's Swarm refresh token for new credentials and
// stores them. If the link has no refresh token, or Swarm refuses it,
// ErrReauthorizationRequired is returned.
func (b *Broker) Refresh(ctx context.Context, link *models.UserLink) (*models.UserLink, error) {
	if link.SwarmRefreshToken == "" {
		return nil, fmt.Errorf("%w: no refresh token for %s", ErrReauthorizationRequired, link.SwarmUserID)
	}
	tok, err := b.cfg.Swarm.Refresh(ctx, link.SwarmRefreshToken)
	if errors.Is(err, swarm.ErrTokenExpired) {
		return nil, fmt.Errorf("%w: %v", ErrReauthorizationRequired, err)
	}
	if err != nil {
		return nil, err
	}
	return models.NewLinks(b.db).Upsert(&models.UserLink{
		SwarmUserID:       link.SwarmUserID,
		SwarmAccessToken:  tok.AccessToken,
		SwarmRefreshToken: tok.RefreshToken,
	})
}

// upstream classifies an error from a code exchange.
func upstream(err error) error {
	if httpx.Transient(err) {
		return fmt.Errorf("%w: %v", ErrTransientUpstream, err)
	}
	return fmt.Errorf("%w: %v", ErrUpstreamRejected, err)
}
