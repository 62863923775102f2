package oauth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/davecheney/swarmdon/models"
	"github.com/golang-jwt/jwt/v5"
)

const (
	// SessionCookie is the name of the cookie holding the session token.
	SessionCookie = "swarmdon_session"
	sessionTTL    = 7 * 24 * time.Hour

	// StateCookie prefixes the per platform cookie binding an authorization
	// in progress to the browser which began it.
	StateCookie = "swarmdon_state_"
	stateTTL    = 15 * time.Minute
)

// ErrNoSession is returned by Sessions.Get when the request carries no valid session.
var ErrNoSession = errors.New("no session")

// Sessions remembers which Swarm user a browser belongs to, and which
// authorizations it began, in signed cookies. There is no server side session
// state.
type Sessions struct {
	key []byte
}

func NewSessions(key []byte) *Sessions {
	return &Sessions{key: key}
}

// Set issues a session for the Swarm user.
func (s *Sessions) Set(w http.ResponseWriter, swarmUserID string) error {
	return s.set(w, SessionCookie, "/", jwt.RegisteredClaims{
		Subject:  swarmUserID,
		Audience: jwt.ClaimStrings{SessionCookie},
	}, sessionTTL)
}

// Get returns the Swarm user ID of the request's session.
func (s *Sessions) Get(r *http.Request) (string, error) {
	claims, err := s.get(r, SessionCookie)
	if err != nil || claims.Subject == "" {
		return "", ErrNoSession
	}
	return claims.Subject, nil
}

// Clear removes the session cookie.
func (s *Sessions) Clear(w http.ResponseWriter) {
	expire(w, SessionCookie, "/")
}

// BindState records in the browser that it began the authorization
// identified by state. The cookie is only sent to the platform's callback.
func (s *Sessions) BindState(w http.ResponseWriter, platform models.Platform, state string) error {
	name := StateCookie + string(platform)
	return s.set(w, name, "/"+string(platform), jwt.RegisteredClaims{
		ID:       state,
		Audience: jwt.ClaimStrings{name},
	}, stateTTL)
}

// CheckState returns ErrInvalidState unless the browser began the
// authorization identified by state.
func (s *Sessions) CheckState(r *http.Request, platform models.Platform, state string) error {
	claims, err := s.get(r, StateCookie+string(platform))
	if err != nil {
		return fmt.Errorf("%w: authorization was not started by this browser", ErrInvalidState)
	}
	if subtle.ConstantTimeCompare([]byte(claims.ID), []byte(state)) != 1 {
		return fmt.Errorf("%w: authorization was started by another request", ErrInvalidState)
	}
	return nil
}

// ClearState removes the platform's state cookie.
func (s *Sessions) ClearState(w http.ResponseWriter, platform models.Platform) {
	expire(w, StateCookie+string(platform), "/"+string(platform))
}

func (s *Sessions) set(w http.ResponseWriter, name, path string, claims jwt.RegisteredClaims, ttl time.Duration) error {
	now := time.Now()
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    signed,
		Path:     path,
		Expires:  now.Add(ttl),
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

func (s *Sessions) get(r *http.Request, name string) (*jwt.RegisteredClaims, error) {
	cookie, err := r.Cookie(name)
	if err != nil {
		return nil, err
	}
	key := func(*jwt.Token) (any, error) { return s.key, nil }
	var claims jwt.RegisteredClaims
	_, err = jwt.ParseWithClaims(cookie.Value, &claims, key,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		// each cookie only accepts tokens issued for it.
		jwt.WithAudience(name),
	)
	if err != nil {
		return nil, err
	}
	return &claims, nil
}

func expire(w http.ResponseWriter, name, path string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     path,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	})
}
