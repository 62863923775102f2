package swarm

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/davecheney/swarmdon/internal/httpx"
	"github.com/go-json-experiment/json"
)

var (
	// ErrUnauthorized is returned when a push does not carry the push secret.
	ErrUnauthorized = errors.New("swarm: push secret mismatch")
	// ErrMalformedPayload is returned when an authenticated push cannot be decoded.
	ErrMalformedPayload = errors.New("swarm: malformed push payload")
)

// MaxPushSize is the largest push body Verify will read.
const MaxPushSize = 1 << 20

// Verifier authenticates checkins pushed by Swarm.
type Verifier struct {
	secret []byte
}

// NewVerifier returns a Verifier for the application's push secret.
// A Verifier with an empty secret rejects every push.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

func (v *Verifier) match(secret string) bool {
	if len(v.secret) == 0 {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(secret), v.secret) == 1
}

// Verify reads the push envelope from r, checks its secret, and decodes the
// checkin. Nothing about the request other than the secret is looked at until
// the secret matches, so unauthenticated requests only see ErrUnauthorized.
func (v *Verifier) Verify(r *http.Request) (*Checkin, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, MaxPushSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	oversized := len(body) > MaxPushSize
	if oversized {
		body = body[:MaxPushSize]
	}
	// ParseQuery returns the pairs it could parse alongside the first error.
	form, perr := url.ParseQuery(string(body))
	if !v.match(form.Get("secret")) {
		return nil, ErrUnauthorized
	}

	switch typ := httpx.MediaType(r); typ {
	case "application/x-www-form-urlencoded", "application/octet-stream":
		// octet-stream means no Content-Type was sent.
	default:
		return nil, fmt.Errorf("%w: unsupported media type %q", ErrMalformedPayload, typ)
	}
	if oversized {
		return nil, fmt.Errorf("%w: body exceeds %d bytes", ErrMalformedPayload, MaxPushSize)
	}
	if perr != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, perr)
	}

	raw := []byte(form.Get("checkin"))
	var checkin Checkin
	if err := json.Unmarshal(raw, &checkin); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if checkin.ID == "" {
		return nil, fmt.Errorf("%w: checkin has no id", ErrMalformedPayload)
	}
	if checkin.User.ID == "" {
		return nil, fmt.Errorf("%w: checkin has no user", ErrMalformedPayload)
	}
	checkin.Raw = raw
	return &checkin, nil
}

// Challenge answers a verification request for the push endpoint by echoing
// its challenge parameter, provided the request carries the push secret.
func (v *Verifier) Challenge(r *http.Request) (string, error) {
	q := r.URL.Query()
	if !v.match(q.Get("secret")) {
		return "", ErrUnauthorized
	}
	return q.Get("challenge"), nil
}

// Decode decodes a checkin previously accepted by Verify.
func Decode(raw []byte) (*Checkin, error) {
	var checkin Checkin
	if err := json.Unmarshal(raw, &checkin); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	checkin.Raw = raw
	return &checkin, nil
}
