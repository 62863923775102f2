package oauth

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/davecheney/swarmdon/models"
	"github.com/davecheney/swarmdon/swarm"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

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

	err = db.AutoMigrate(models.AllTables()...)
	require.NoError(err)

	// enable foreign key constraints
	err = db.Exec("PRAGMA foreign_keys = ON").Error
	require.NoError(err)

	return db
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// upstreams are fake Swarm and Mastodon servers.
type upstreams struct {
	swarm    *httptest.Server
	mastodon *httptest.Server

	// swarmTokenStatus, if set, is returned by the Swarm token endpoint.
	swarmTokenStatus atomic.Int32
	// meStatus, if set, is returned by the Swarm profile endpoint.
	meStatus atomic.Int32

	registrations atomic.Int32
	meCalls       atomic.Int32
}

func newUpstreams(t *testing.T) *upstreams {
	u := new(upstreams)

	sm := http.NewServeMux()
	sm.HandleFunc("/oauth2/access_token", func(w http.ResponseWriter, r *http.Request) {
		if code := u.swarmTokenStatus.Load(); code != 0 {
			w.WriteHeader(int(code))
			return
		}
		r.ParseForm()
		switch {
		case r.PostForm.Get("grant_type") == "refresh_token" && r.PostForm.Get("refresh_token") == "swarm-ref":
			w.Write([]byte(`{"access_token":"swarm-tok-2","refresh_token":"swarm-ref-2"}`))
		case r.PostForm.Get("code") == "good":
			w.Write([]byte(`{"access_token":"swarm-tok","refresh_token":"swarm-ref"}`))
		default:
			http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
		}
	})
	sm.HandleFunc("/v2/users/self", func(w http.ResponseWriter, r *http.Request) {
		u.meCalls.Add(1)
		if code := u.meStatus.Load(); code != 0 {
			w.WriteHeader(int(code))
			return
		}
		w.Write([]byte(`{"meta":{"code":200},"response":{"user":{"id":"u1","firstName":"Rice","handle":"rice"}}}`))
	})
	u.swarm = httptest.NewServer(sm)
	t.Cleanup(u.swarm.Close)

	mm := http.NewServeMux()
	mm.HandleFunc("/api/v1/apps", func(w http.ResponseWriter, r *http.Request) {
		u.registrations.Add(1)
		w.Write([]byte(`{"id":"1","name":"Swarmdon","client_id":"mcid","client_secret":"mcsecret"}`))
	})
	mm.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		if r.PostForm.Get("code") != "good" || r.PostForm.Get("client_id") != "mcid" {
			http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
			return
		}
		w.Write([]byte(`{"access_token":"toot-tok","token_type":"Bearer"}`))
	})
	mm.HandleFunc("/api/v1/accounts/verify_credentials", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer toot-tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"id":"109","username":"rice","acct":"rice","url":"https://mastodon.example/@rice"}`))
	})
	u.mastodon = httptest.NewTLSServer(mm)
	t.Cleanup(u.mastodon.Close)

	return u
}

func (u *upstreams) config() Config {
	sc := swarm.NewClient("sid", "ssecret", "https://bridge.example/swarm/callback")
	sc.TokenURL = u.swarm.URL + "/oauth2/access_token"
	sc.APIURL = u.swarm.URL + "/v2"
	sc.HTTPClient = u.swarm.Client()
	return Config{
		BaseURL:            "https://bridge.example",
		ClientName:         "Swarmdon",
		Swarm:              sc,
		MastodonInstance:   u.mastodon.URL,
		MastodonHTTPClient: u.mastodon.Client(),
		StateTTL:           10 * time.Minute,
	}
}

func testBroker(db *gorm.DB, cfg Config) *Broker {
	b := NewBroker(db, discardLogger(), cfg)
	b.lookup.Base = time.Millisecond
	b.lookup.Max = time.Millisecond
	return b
}
