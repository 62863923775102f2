package bridge

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/davecheney/swarmdon/models"
	"github.com/davecheney/swarmdon/swarm"
	"github.com/prometheus/client_golang/prometheus"
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

const pushSecret = "s3cret"

func checkinJSON(id, userID string, private bool) string {
	p := "false"
	if private {
		p = "true"
	}
	return `{"id":"` + id + `","createdAt":1700966000,"private":` + p + `,"user":{"id":"` + userID + `","firstName":"Rice"},"venue":{"id":"v1","name":"A Place","location":{"city":"New York","state":"NY"}}}`
}

func pushRequest(secret, checkin string) *http.Request {
	form := url.Values{"secret": {secret}, "checkin": {checkin}}
	r := httptest.NewRequest("POST", "/swarm/push", strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return r
}

// fakePoster records the checkins it is asked to publish.
type fakePoster struct {
	calls atomic.Int32
	err   error
}

func (f *fakePoster) Publish(ctx context.Context, link *models.UserLink, checkin *swarm.Checkin) (string, error) {
	f.calls.Add(1)
	if f.err != nil {
		return "", f.err
	}
	return "status-" + checkin.ID, nil
}

func testPipeline(db *gorm.DB, poster Poster) *Pipeline {
	return NewPipeline(db, swarm.NewVerifier(pushSecret), poster, discardLogger(), NewMetrics(prometheus.NewRegistry()))
}

func linkUser(t *testing.T, db *gorm.DB, swarmUserID string) {
	_, err := models.NewLinks(db).Upsert(&models.UserLink{
		SwarmUserID:         swarmUserID,
		SwarmAccessToken:    "swarm-tok",
		MastodonInstanceURL: "https://mastodon.example",
		MastodonAccessToken: "toot-tok",
	})
	require.NoError(t, err)
}

// deliverAll delivers every queued checkin and returns the resulting states.
func deliverAll(t *testing.T, db *gorm.DB, p *Pipeline) []State {
	var reqs []models.CheckinRequest
	require.NoError(t, db.Scopes(models.PendingScope).Find(&reqs).Error)
	var states []State
	for i := range reqs {
		state, _ := p.Deliver(context.Background(), &reqs[i])
		states = append(states, state)
	}
	return states
}
