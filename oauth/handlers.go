package oauth

import (
	"errors"
	"fmt"
	"html/template"
	"net/http"

	"github.com/davecheney/swarmdon/internal/httpx"
	"github.com/davecheney/swarmdon/models"
	"gorm.io/gorm"
)

// Env is the environment for the authorization handlers.
type Env struct {
	*models.Env
	Broker   *Broker
	Sessions *Sessions
}

type callbackParams struct {
	State string `schema:"state" validate:"required"`
	Code  string `schema:"code" validate:"required_without=Error"`
	// Error is set when the user declined the authorization.
	Error string `schema:"error"`
}

// SwarmBegin redirects the user to Swarm to authorize this application.
func SwarmBegin(env *Env, w http.ResponseWriter, r *http.Request) error {
	swarmUserID, _ := env.Sessions.Get(r)
	uri, state, err := env.Broker.Begin(r.Context(), models.Swarm, BeginOptions{
		SwarmUserID: swarmUserID,
	})
	if err != nil {
		return status(err)
	}
	if err := env.Sessions.BindState(w, models.Swarm, state); err != nil {
		return err
	}
	return httpx.Redirect(w, uri)
}

// SwarmCallback completes the Swarm authorization and starts a session for
// the Swarm user.
func SwarmCallback(env *Env, w http.ResponseWriter, r *http.Request) error {
	var params callbackParams
	if err := httpx.Params(r, &params); err != nil {
		return err
	}
	if err := env.Sessions.CheckState(r, models.Swarm, params.State); err != nil {
		return status(err)
	}
	env.Sessions.ClearState(w, models.Swarm)
	link, err := env.Broker.Complete(r.Context(), models.Swarm, CompleteOptions{
		State: params.State,
		Code:  params.Code,
	})
	if err != nil {
		return status(err)
	}
	if err := env.Sessions.Set(w, link.SwarmUserID); err != nil {
		return err
	}
	return httpx.Redirect(w, "/")
}

// MastodonBegin redirects the user to their Mastodon instance to authorize
// this application. The Swarm account must be linked first.
func MastodonBegin(env *Env, w http.ResponseWriter, r *http.Request) error {
	var params struct {
		Instance string `schema:"instance" validate:"omitempty,max=255"`
	}
	if err := httpx.Params(r, &params); err != nil {
		return err
	}
	swarmUserID, _ := env.Sessions.Get(r)
	uri, state, err := env.Broker.Begin(r.Context(), models.Mastodon, BeginOptions{
		SwarmUserID: swarmUserID,
		InstanceURL: params.Instance,
	})
	if errors.Is(err, ErrSwarmRequired) {
		return httpx.Redirect(w, "/swarm")
	}
	if err != nil {
		return status(err)
	}
	if err := env.Sessions.BindState(w, models.Mastodon, state); err != nil {
		return err
	}
	return httpx.Redirect(w, uri)
}

// MastodonCallback completes the Mastodon authorization for the session user
// who began it.
func MastodonCallback(env *Env, w http.ResponseWriter, r *http.Request) error {
	var params callbackParams
	if err := httpx.Params(r, &params); err != nil {
		return err
	}
	if err := env.Sessions.CheckState(r, models.Mastodon, params.State); err != nil {
		return status(err)
	}
	env.Sessions.ClearState(w, models.Mastodon)
	swarmUserID, _ := env.Sessions.Get(r)
	_, err := env.Broker.Complete(r.Context(), models.Mastodon, CompleteOptions{
		State:       params.State,
		Code:        params.Code,
		SwarmUserID: swarmUserID,
	})
	if err != nil {
		return status(err)
	}
	return httpx.Redirect(w, "/")
}

// Unlink deletes the session user's link and ends the session.
func Unlink(env *Env, w http.ResponseWriter, r *http.Request) error {
	swarmUserID, err := env.Sessions.Get(r)
	if err != nil {
		return httpx.Error(http.StatusUnauthorized, err)
	}
	if err := env.Links().Delete(swarmUserID); err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	env.Log().Info("unlinked", "swarm_user_id", swarmUserID)
	env.Sessions.Clear(w)
	return httpx.Redirect(w, "/")
}

var home = template.Must(template.New("home").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Name}}</title>
</head>
<body>
<h1>{{.Name}}</h1>
<p>Post your Swarm checkins to Mastodon.</p>
{{if not .Link}}
<p><a href="/swarm">Connect your Swarm account</a></p>
{{else}}
<p>Swarm account connected.</p>
{{if .Link.HasMastodon}}
<p>Posting to <a href="{{.Link.MastodonAccountURL}}">{{.Link.MastodonAccountURL}}</a>.</p>
{{end}}
<form method="POST" action="/mastodon">
{{if .AnyInstance}}<p><label>Instance</label> <input type="text" name="instance" value="{{.Instance}}"></p>{{end}}
<p><input type="submit" value="{{if .Link.HasMastodon}}Reconnect{{else}}Connect{{end}} your Mastodon account"></p>
</form>
<form method="POST" action="/unlink">
<p><input type="submit" value="Unlink"></p>
</form>
{{end}}
</body>
</html>
`))

// Home shows the session user's link.
func Home(env *Env, w http.ResponseWriter, r *http.Request) error {
	data := struct {
		Name        string
		Link        *models.UserLink
		AnyInstance bool
		Instance    string
	}{
		Name:        env.Broker.cfg.ClientName,
		AnyInstance: env.Broker.cfg.AllowAnyInstance,
		Instance:    env.Broker.cfg.MastodonInstance,
	}
	if swarmUserID, err := env.Sessions.Get(r); err == nil {
		link, err := env.Links().Get(swarmUserID)
		switch {
		case err == nil:
			data.Link = link
		case errors.Is(err, gorm.ErrRecordNotFound):
			// the link was deleted out from under the session.
			env.Sessions.Clear(w)
		default:
			return err
		}
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	return home.Execute(w, data)
}

// status maps Broker errors to HTTP statuses.
func status(err error) error {
	switch {
	case errors.Is(err, ErrInvalidState), errors.Is(err, ErrInstanceNotAllowed):
		return httpx.Error(http.StatusBadRequest, err)
	case errors.Is(err, ErrUpstreamRejected):
		return httpx.Error(http.StatusForbidden, err)
	case errors.Is(err, ErrTransientUpstream), errors.Is(err, ErrProfileLookupFailed):
		return httpx.Error(http.StatusBadGateway, err)
	case errors.Is(err, ErrSwarmRequired):
		return httpx.Error(http.StatusConflict, err)
	default:
		return fmt.Errorf("authorization: %w", err)
	}
}
