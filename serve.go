package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/davecheney/swarmdon/bridge"
	"github.com/davecheney/swarmdon/internal/group"
	"github.com/davecheney/swarmdon/internal/httpx"
	"github.com/davecheney/swarmdon/mastodon"
	"github.com/davecheney/swarmdon/models"
	"github.com/davecheney/swarmdon/oauth"
	"github.com/davecheney/swarmdon/swarm"
	"github.com/davecheney/swarmdon/workers"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/exp/slog"
	"gorm.io/gorm"
)

type ServeCmd struct {
	Addr       string `help:"address to listen" default:"127.0.0.1:8000" env:"SWARMDON_ADDR"`
	BaseURL    string `required:"" help:"public base URL of this service, eg. https://swarmdon.example.com" env:"SWARMDON_BASE_URL"`
	ClientName string `help:"application name registered with Mastodon instances" default:"Swarmdon" env:"SWARMDON_CLIENT_NAME"`
	Website    string `help:"website advertised when registering with Mastodon instances" env:"SWARMDON_WEBSITE"`

	SwarmClientID     string `required:"" help:"Swarm OAuth client ID" env:"SWARMDON_SWARM_CLIENT_ID"`
	SwarmClientSecret string `required:"" help:"Swarm OAuth client secret" env:"SWARMDON_SWARM_CLIENT_SECRET"`
	SwarmPushSecret   string `required:"" help:"shared secret sent with each Swarm push" env:"SWARMDON_SWARM_PUSH_SECRET"`

	MastodonInstance     string `help:"default Mastodon instance" default:"https://mastodon.social" env:"SWARMDON_MASTODON_INSTANCE"`
	MastodonClientID     string `help:"client ID registered with the default instance" env:"SWARMDON_MASTODON_CLIENT_ID"`
	MastodonClientSecret string `help:"client secret registered with the default instance" env:"SWARMDON_MASTODON_CLIENT_SECRET"`
	AllowAnyInstance     bool   `help:"allow users to link accounts on any Mastodon instance" env:"SWARMDON_ALLOW_ANY_INSTANCE"`

	Visibility      string            `help:"visibility of posted statuses" default:"public" enum:"public,unlisted,private,direct" env:"SWARMDON_VISIBILITY"`
	Friend          map[string]string `help:"map a Swarm handle to a Mastodon account, eg. dave=@dave@mastodon.social"`
	FriendsMap      string            `help:"file of swarm_handle=mastodon_acct lines" type:"path" env:"SWARMDON_FRIENDS_MAP"`
	SessionSecret   string            `help:"key used to sign session cookies, random if not set" env:"SWARMDON_SESSION_SECRET"`
	StateTTL        time.Duration     `help:"lifetime of an authorization state token" default:"10m" env:"SWARMDON_STATE_TTL"`
	PublishAttempts int               `help:"attempts made to post a status" default:"5" env:"SWARMDON_PUBLISH_ATTEMPTS"`
	PostsPerMinute  int               `help:"maximum statuses posted per minute, 0 for no limit" default:"30" env:"SWARMDON_POSTS_PER_MINUTE"`
	Workers         int               `help:"number of checkin delivery workers" default:"2" env:"SWARMDON_WORKERS"`
	PollInterval    time.Duration     `help:"interval between scans for queued checkins" default:"30s" env:"SWARMDON_POLL_INTERVAL"`
}

func (s *ServeCmd) Run(ctx *Context) error {
	log := ctx.Log
	if !mastodon.ValidVisibility(s.Visibility) {
		return fmt.Errorf("invalid visibility %q", s.Visibility)
	}
	baseURL := strings.TrimSuffix(s.BaseURL, "/")

	db, err := gorm.Open(ctx.Dialector, &ctx.Config)
	if err != nil {
		return err
	}
	if err := configureDB(db); err != nil {
		return err
	}

	key, err := s.sessionKey(log)
	if err != nil {
		return err
	}
	friends, err := s.friends()
	if err != nil {
		return err
	}

	sc := swarm.NewClient(s.SwarmClientID, s.SwarmClientSecret, baseURL+"/swarm/callback")
	hc := httpx.SafeClient(10 * time.Second)
	broker := oauth.NewBroker(db, log, oauth.Config{
		BaseURL:              baseURL,
		ClientName:           s.ClientName,
		Website:              s.Website,
		Swarm:                sc,
		MastodonInstance:     s.MastodonInstance,
		MastodonClientID:     s.MastodonClientID,
		MastodonClientSecret: s.MastodonClientSecret,
		AllowAnyInstance:     s.AllowAnyInstance,
		MastodonHTTPClient:   hc,
		StateTTL:             s.StateTTL,
	})

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := bridge.NewMetrics(reg)

	publisher := bridge.NewPublisher(bridge.Config{
		Visibility:     s.Visibility,
		Friends:        friends,
		Attempts:       s.PublishAttempts,
		PostsPerMinute: s.PostsPerMinute,
	}, sc, broker, hc, log, metrics)
	pipeline := bridge.NewPipeline(db, swarm.NewVerifier(s.SwarmPushSecret), publisher, log, metrics)

	sessions := oauth.NewSessions(key)
	authEnv := func(r *http.Request) *oauth.Env {
		return &oauth.Env{
			Env: &models.Env{
				DB:     db.WithContext(r.Context()),
				Logger: log,
			},
			Broker:   broker,
			Sessions: sessions,
		}
	}
	pushEnv := func(r *http.Request) *bridge.Env {
		return &bridge.Env{Pipeline: pipeline}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/", httpx.HandlerFunc(authEnv, oauth.Home))
	r.Post("/unlink", httpx.HandlerFunc(authEnv, oauth.Unlink))
	r.Route("/swarm", func(r chi.Router) {
		r.Get("/", httpx.HandlerFunc(authEnv, oauth.SwarmBegin))
		r.Get("/callback", httpx.HandlerFunc(authEnv, oauth.SwarmCallback))
		r.Get("/push", httpx.HandlerFunc(pushEnv, bridge.PushChallenge))
		r.Post("/push", httpx.HandlerFunc(pushEnv, bridge.PushCreate))
	})
	r.Route("/mastodon", func(r chi.Router) {
		r.Post("/", httpx.HandlerFunc(authEnv, oauth.MastodonBegin))
		r.Get("/callback", httpx.HandlerFunc(authEnv, oauth.MastodonCallback))
	})
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	r.Get("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		io.WriteString(w, "User-agent: *\nDisallow: /")
	})

	walkFunc := func(method string, route string, handler http.Handler, middlewares ...func(http.Handler) http.Handler) error {
		route = strings.Replace(route, "/*/", "/", -1)
		log.Debug("route", "method", method, "route", route)
		return nil
	}
	if err := chi.Walk(r, walkFunc); err != nil {
		log.Warn("walk routes", "error", err)
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g := group.New(sigCtx, log)
	svr := &http.Server{
		Addr:         s.Addr,
		Handler:      r,
		WriteTimeout: 15 * time.Second,
		ReadTimeout:  15 * time.Second,
	}
	g.Add("http.Server", func(ctx context.Context) error {
		errC := make(chan error, 1)
		go func() {
			log.Info("listening", "addr", s.Addr, "base_url", baseURL)
			errC <- svr.ListenAndServe()
		}()
		select {
		case err := <-errC:
			return err
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if err := svr.Shutdown(shutdownCtx); err != nil {
				return err
			}
			if err := <-errC; !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		}
	})
	for i := 0; i < max(s.Workers, 1); i++ {
		g.Add(fmt.Sprintf("workers.CheckinProcessor[%d]", i), workers.NewCheckinProcessor(db, pipeline, pipeline.Wake(), s.PollInterval, log))
	}
	return g.Wait()
}

// sessionKey returns the configured session secret, or a random key which
// invalidates sessions on restart.
func (s *ServeCmd) sessionKey(log *slog.Logger) ([]byte, error) {
	if s.SessionSecret != "" {
		return []byte(s.SessionSecret), nil
	}
	log.Warn("no session secret configured, sessions will not survive a restart")
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	return key, nil
}

// friends merges the --friend flags with the contents of --friends-map.
func (s *ServeCmd) friends() (map[string]string, error) {
	friends := make(map[string]string)
	if s.FriendsMap != "" {
		f, err := os.Open(s.FriendsMap)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		m, err := parseFriends(f)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", s.FriendsMap, err)
		}
		for k, v := range m {
			friends[k] = v
		}
	}
	for k, v := range s.Friend {
		friends[k] = v
	}
	return friends, nil
}

// parseFriends reads swarm_handle=mastodon_acct lines. Blank lines and
// lines starting with # are ignored.
func parseFriends(r io.Reader) (map[string]string, error) {
	friends := make(map[string]string)
	sc := bufio.NewScanner(r)
	for n := 1; sc.Scan(); n++ {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		handle, acct, ok := strings.Cut(line, "=")
		handle, acct = strings.TrimSpace(handle), strings.TrimSpace(acct)
		if !ok || handle == "" || acct == "" {
			return nil, fmt.Errorf("line %d: expected handle=acct", n)
		}
		friends[handle] = acct
	}
	return friends, sc.Err()
}
