package bridge

import (
	"errors"
	"io"
	"net/http"

	"github.com/davecheney/swarmdon/internal/httpx"
	"github.com/davecheney/swarmdon/internal/to"
	"github.com/davecheney/swarmdon/swarm"
)

// Env is the environment for the push handlers.
type Env struct {
	Pipeline *Pipeline
}

// PushCreate accepts a checkin pushed by Swarm. Every push which is
// authentic and well formed is acknowledged, whether or not it is new.
func PushCreate(env *Env, w http.ResponseWriter, r *http.Request) error {
	state, _, err := env.Pipeline.Accept(r)
	switch {
	case errors.Is(err, swarm.ErrUnauthorized):
		return httpx.Error(http.StatusUnauthorized, err)
	case errors.Is(err, swarm.ErrMalformedPayload):
		return httpx.Error(http.StatusBadRequest, err)
	case err != nil:
		return err
	}
	return to.JSON(w, map[string]any{
		"state": state,
	})
}

// PushChallenge answers Swarm's verification of the push URL.
func PushChallenge(env *Env, w http.ResponseWriter, r *http.Request) error {
	challenge, err := env.Pipeline.Verifier().Challenge(r)
	if err != nil {
		return httpx.Error(http.StatusUnauthorized, err)
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, err = io.WriteString(w, challenge)
	return err
}
