package oauth

import (
	"context"
	"net/http"
	"net/url"
	"testing"

	"github.com/davecheney/swarmdon/models"
	"github.com/stretchr/testify/require"
)

func TestBrokerSwarm(t *testing.T) {
	db := setupTestDB(t)
	up := newUpstreams(t)
	ctx := context.Background()

	t.Run("round trip populates only the swarm fields", func(t *testing.T) {
		require := require.New(t)
		tx := db.Begin()
		defer tx.Rollback()

		b := testBroker(tx, up.config())
		uri, state, err := b.Begin(ctx, models.Swarm, BeginOptions{})
		require.NoError(err)
		u, err := url.Parse(uri)
		require.NoError(err)
		require.Equal(state, u.Query().Get("state"))
		require.Equal("sid", u.Query().Get("client_id"))

		link, err := b.Complete(ctx, models.Swarm, CompleteOptions{State: state, Code: "good"})
		require.NoError(err)
		require.Equal("u1", link.SwarmUserID)
		require.Equal("swarm-tok", link.SwarmAccessToken)
		require.Equal("swarm-ref", link.SwarmRefreshToken)
		require.False(link.HasMastodon())
		require.False(link.Linked())
	})

	t.Run("state cannot be reused", func(t *testing.T) {
		require := require.New(t)
		tx := db.Begin()
		defer tx.Rollback()

		b := testBroker(tx, up.config())
		_, state, err := b.Begin(ctx, models.Swarm, BeginOptions{})
		require.NoError(err)
		_, err = b.Complete(ctx, models.Swarm, CompleteOptions{State: state, Code: "good"})
		require.NoError(err)
		_, err = b.Complete(ctx, models.Swarm, CompleteOptions{State: state, Code: "good"})
		require.ErrorIs(err, ErrInvalidState)
	})

	t.Run("unknown state", func(t *testing.T) {
		require := require.New(t)
		tx := db.Begin()
		defer tx.Rollback()

		_, err := testBroker(tx, up.config()).Complete(ctx, models.Swarm, CompleteOptions{State: "made-up", Code: "good"})
		require.ErrorIs(err, ErrInvalidState)
	})

	t.Run("state for the other platform", func(t *testing.T) {
		require := require.New(t)
		tx := db.Begin()
		defer tx.Rollback()

		b := testBroker(tx, up.config())
		_, state, err := b.Begin(ctx, models.Swarm, BeginOptions{})
		require.NoError(err)
		_, err = b.Complete(ctx, models.Mastodon, CompleteOptions{State: state, Code: "good", SwarmUserID: "u1"})
		require.ErrorIs(err, ErrInvalidState)
	})

	t.Run("declined consumes the state", func(t *testing.T) {
		require := require.New(t)
		tx := db.Begin()
		defer tx.Rollback()

		b := testBroker(tx, up.config())
		_, state, err := b.Begin(ctx, models.Swarm, BeginOptions{})
		require.NoError(err)
		_, err = b.Complete(ctx, models.Swarm, CompleteOptions{State: state})
		require.ErrorIs(err, ErrUpstreamRejected)
		_, err = b.Complete(ctx, models.Swarm, CompleteOptions{State: state, Code: "good"})
		require.ErrorIs(err, ErrInvalidState)
	})

	t.Run("rejected code", func(t *testing.T) {
		require := require.New(t)
		tx := db.Begin()
		defer tx.Rollback()

		b := testBroker(tx, up.config())
		_, state, err := b.Begin(ctx, models.Swarm, BeginOptions{})
		require.NoError(err)
		_, err = b.Complete(ctx, models.Swarm, CompleteOptions{State: state, Code: "bad"})
		require.ErrorIs(err, ErrUpstreamRejected)
		_, err = models.NewLinks(tx).Get("u1")
		require.Error(err)
	})
}

func TestBrokerSwarmUpstreamFailures(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	t.Run("token endpoint unavailable", func(t *testing.T) {
		require := require.New(t)
		tx := db.Begin()
		defer tx.Rollback()

		up := newUpstreams(t)
		up.swarmTokenStatus.Store(http.StatusServiceUnavailable)
		b := testBroker(tx, up.config())
		_, state, err := b.Begin(ctx, models.Swarm, BeginOptions{})
		require.NoError(err)
		_, err = b.Complete(ctx, models.Swarm, CompleteOptions{State: state, Code: "good"})
		require.ErrorIs(err, ErrTransientUpstream)
	})

	t.Run("profile lookup is retried then fails", func(t *testing.T) {
		require := require.New(t)
		tx := db.Begin()
		defer tx.Rollback()

		up := newUpstreams(t)
		up.meStatus.Store(http.StatusInternalServerError)
		b := testBroker(tx, up.config())
		_, state, err := b.Begin(ctx, models.Swarm, BeginOptions{})
		require.NoError(err)
		_, err = b.Complete(ctx, models.Swarm, CompleteOptions{State: state, Code: "good"})
		require.ErrorIs(err, ErrProfileLookupFailed)
		require.EqualValues(3, up.meCalls.Load())
	})

	t.Run("rejected profile token is not retried", func(t *testing.T) {
		require := require.New(t)
		tx := db.Begin()
		defer tx.Rollback()

		up := newUpstreams(t)
		up.meStatus.Store(http.StatusUnauthorized)
		b := testBroker(tx, up.config())
		_, state, err := b.Begin(ctx, models.Swarm, BeginOptions{})
		require.NoError(err)
		_, err = b.Complete(ctx, models.Swarm, CompleteOptions{State: state, Code: "good"})
		require.ErrorIs(err, ErrProfileLookupFailed)
		require.EqualValues(1, up.meCalls.Load())
	})
}

func TestBrokerMastodon(t *testing.T) {
	db := setupTestDB(t)
	up := newUpstreams(t)
	ctx := context.Background()

	t.Run("requires a swarm link", func(t *testing.T) {
		require := require.New(t)
		tx := db.Begin()
		defer tx.Rollback()

		b := testBroker(tx, up.config())
		_, _, err := b.Begin(ctx, models.Mastodon, BeginOptions{})
		require.ErrorIs(err, ErrSwarmRequired)
		_, _, err = b.Begin(ctx, models.Mastodon, BeginOptions{SwarmUserID: "nobody"})
		require.ErrorIs(err, ErrSwarmRequired)
	})

	t.Run("second platform merges into the link", func(t *testing.T) {
		require := require.New(t)
		tx := db.Begin()
		defer tx.Rollback()

		b := testBroker(tx, up.config())
		_, state, err := b.Begin(ctx, models.Swarm, BeginOptions{})
		require.NoError(err)
		_, err = b.Complete(ctx, models.Swarm, CompleteOptions{State: state, Code: "good"})
		require.NoError(err)

		uri, state, err := b.Begin(ctx, models.Mastodon, BeginOptions{SwarmUserID: "u1"})
		require.NoError(err)
		u, err := url.Parse(uri)
		require.NoError(err)
		require.Equal("/oauth/authorize", u.Path)
		require.Equal("mcid", u.Query().Get("client_id"))
		require.Equal("https://bridge.example/mastodon/callback", u.Query().Get("redirect_uri"))

		link, err := b.Complete(ctx, models.Mastodon, CompleteOptions{State: state, Code: "good", SwarmUserID: "u1"})
		require.NoError(err)
		require.True(link.Linked())
		require.Equal("swarm-tok", link.SwarmAccessToken)
		require.Equal("swarm-ref", link.SwarmRefreshToken)
		require.Equal("toot-tok", link.MastodonAccessToken)
		require.Equal("https://mastodon.example/@rice", link.MastodonAccountURL)
		require.Equal(up.config().MastodonInstance, link.MastodonInstanceURL)
	})

	t.Run("another session cannot complete the authorization", func(t *testing.T) {
		require := require.New(t)
		tx := db.Begin()
		defer tx.Rollback()

		b := testBroker(tx, up.config())
		_, err := models.NewLinks(tx).Upsert(&models.UserLink{SwarmUserID: "u2", SwarmAccessToken: "other-tok"})
		require.NoError(err)
		for _, session := range []string{"u1", ""} {
			_, state, err := b.Begin(ctx, models.Mastodon, BeginOptions{SwarmUserID: "u2"})
			require.NoError(err)
			_, err = b.Complete(ctx, models.Mastodon, CompleteOptions{State: state, Code: "good", SwarmUserID: session})
			require.ErrorIs(err, ErrInvalidState)
		}
		link, err := models.NewLinks(tx).Get("u2")
		require.NoError(err)
		require.False(link.HasMastodon())
	})

	t.Run("applications are registered once per instance", func(t *testing.T) {
		require := require.New(t)
		tx := db.Begin()
		defer tx.Rollback()

		before := up.registrations.Load()
		_, err := models.NewLinks(tx).Upsert(&models.UserLink{SwarmUserID: "u1", SwarmAccessToken: "swarm-tok"})
		require.NoError(err)
		b := testBroker(tx, up.config())
		for i := 0; i < 3; i++ {
			_, _, err := b.Begin(ctx, models.Mastodon, BeginOptions{SwarmUserID: "u1"})
			require.NoError(err)
		}
		require.Equal(before+1, up.registrations.Load())
	})

	t.Run("configured credentials skip registration", func(t *testing.T) {
		require := require.New(t)
		tx := db.Begin()
		defer tx.Rollback()

		before := up.registrations.Load()
		_, err := models.NewLinks(tx).Upsert(&models.UserLink{SwarmUserID: "u1", SwarmAccessToken: "swarm-tok"})
		require.NoError(err)
		cfg := up.config()
		cfg.MastodonClientID = "mcid"
		cfg.MastodonClientSecret = "mcsecret"
		_, _, err = testBroker(tx, cfg).Begin(ctx, models.Mastodon, BeginOptions{SwarmUserID: "u1"})
		require.NoError(err)
		require.Equal(before, up.registrations.Load())
	})

	t.Run("other instances are refused unless allowed", func(t *testing.T) {
		require := require.New(t)
		tx := db.Begin()
		defer tx.Rollback()

		_, err := models.NewLinks(tx).Upsert(&models.UserLink{SwarmUserID: "u1", SwarmAccessToken: "swarm-tok"})
		require.NoError(err)
		b := testBroker(tx, up.config())
		_, _, err = b.Begin(ctx, models.Mastodon, BeginOptions{SwarmUserID: "u1", InstanceURL: "elsewhere.example"})
		require.ErrorIs(err, ErrInstanceNotAllowed)
		_, _, err = b.Begin(ctx, models.Mastodon, BeginOptions{SwarmUserID: "u1", InstanceURL: "http://elsewhere.example"})
		require.ErrorIs(err, ErrInstanceNotAllowed)
	})
}

func TestBrokerRefresh(t *testing.T) {
	db := setupTestDB(t)
	up := newUpstreams(t)
	ctx := context.Background()

	t.Run("no refresh token", func(t *testing.T) {
		require := require.New(t)
		tx := db.Begin()
		defer tx.Rollback()

		_, err := testBroker(tx, up.config()).Refresh(ctx, &models.UserLink{SwarmUserID: "u1", SwarmAccessToken: "old"})
		require.ErrorIs(err, ErrReauthorizationRequired)
	})

	t.Run("stores the new tokens", func(t *testing.T) {
		require := require.New(t)
		tx := db.Begin()
		defer tx.Rollback()

		link, err := models.NewLinks(tx).Upsert(&models.UserLink{
			SwarmUserID:         "u1",
			SwarmAccessToken:    "old",
			SwarmRefreshToken:   "swarm-ref",
			MastodonAccessToken: "toot-tok",
		})
		require.NoError(err)
		link, err = testBroker(tx, up.config()).Refresh(ctx, link)
		require.NoError(err)
		require.Equal("swarm-tok-2", link.SwarmAccessToken)
		require.Equal("swarm-ref-2", link.SwarmRefreshToken)
		require.Equal("toot-tok", link.MastodonAccessToken)
	})

	t.Run("refused refresh token", func(t *testing.T) {
		require := require.New(t)
		tx := db.Begin()
		defer tx.Rollback()

		_, err := testBroker(tx, up.config()).Refresh(ctx, &models.UserLink{SwarmUserID: "u1", SwarmRefreshToken: "revoked"})
		require.ErrorIs(err, ErrReauthorizationRequired)
	})
}
