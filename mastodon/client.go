// Package mastodon is a client for the subset of the Mastodon API used to
// register an application, authorize a user, and post statuses.
package mastodon

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/carlmjohnson/requests"
	"github.com/davecheney/swarmdon/internal/httpx"
	"github.com/go-json-experiment/json"
)

// ErrTokenExpired is returned when the instance rejects the access token.
var ErrTokenExpired = errors.New("mastodon: access token expired or revoked")

// Scopes are the scopes requested when registering and authorizing.
const Scopes = "read:accounts write:statuses"

// Visibility values accepted by CreateStatus.
const (
	Public   = "public"
	Unlisted = "unlisted"
	Private  = "private"
	Direct   = "direct"
)

// ValidVisibility reports whether v is a status visibility.
func ValidVisibility(v string) bool {
	switch v {
	case Public, Unlisted, Private, Direct:
		return true
	default:
		return false
	}
}

// NormalizeInstance turns user input such as "Mastodon.Social" or
// "https://mastodon.social/about" into a base URL, https://mastodon.social.
func NormalizeInstance(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errors.New("instance is required")
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid instance %q: %w", raw, err)
	}
	if u.Scheme != "https" {
		return "", fmt.Errorf("invalid instance %q: scheme must be https", raw)
	}
	if u.User != nil || u.Hostname() == "" {
		return "", fmt.Errorf("invalid instance %q", raw)
	}
	host := strings.ToLower(u.Hostname())
	if port := u.Port(); port != "" && port != "443" {
		host += ":" + port
	}
	return "https://" + host, nil
}

// Client talks to a single Mastodon instance.
type Client struct {
	// Instance is the base URL of the instance, eg. https://mastodon.social.
	Instance   string
	HTTPClient *http.Client
}

// NewClient returns a Client for the instance using hc, or a client with a
// 10 second timeout if hc is nil.
func NewClient(instance string, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		Instance:   strings.TrimSuffix(instance, "/"),
		HTTPClient: hc,
	}
}

// AppParams describe an application registration.
type AppParams struct {
	ClientName  string
	RedirectURI string
	Website     string
}

// RegisterApp registers an application with the instance.
func (c *Client) RegisterApp(ctx context.Context, params AppParams) (*Application, error) {
	form := url.Values{
		"client_name":   {params.ClientName},
		"redirect_uris": {params.RedirectURI},
		"scopes":        {Scopes},
	}
	if params.Website != "" {
		form.Set("website", params.Website)
	}
	app, err := do[Application](ctx, c.request("/api/v1/apps").
		Method(http.MethodPost).
		BodyForm(form))
	if err != nil {
		return nil, fmt.Errorf("mastodon: register app: %w", err)
	}
	if app.ClientID == "" || app.ClientSecret == "" {
		return nil, errors.New("mastodon: register app: response has no client credentials")
	}
	return app, nil
}

// AuthorizeURL returns the URL to send the user to in order to authorize app.
func (c *Client) AuthorizeURL(clientID, redirectURI, state string) string {
	q := url.Values{
		"client_id":     {clientID},
		"response_type": {"code"},
		"redirect_uri":  {redirectURI},
		"scope":         {Scopes},
		"state":         {state},
	}
	return c.Instance + "/oauth/authorize?" + q.Encode()
}

// Exchange trades an authorization code for a Token.
func (c *Client) Exchange(ctx context.Context, clientID, clientSecret, redirectURI, code string) (*Token, error) {
	tok, err := do[Token](ctx, c.request("/oauth/token").
		Method(http.MethodPost).
		BodyForm(url.Values{
			"grant_type":    {"authorization_code"},
			"client_id":     {clientID},
			"client_secret": {clientSecret},
			"redirect_uri":  {redirectURI},
			"scope":         {Scopes},
			"code":          {code},
		}))
	if err != nil {
		return nil, err
	}
	if tok.AccessToken == "" {
		return nil, errors.New("mastodon: token response has no access_token")
	}
	return tok, nil
}

// VerifyCredentials returns the account which owns the access token.
func (c *Client) VerifyCredentials(ctx context.Context, accessToken string) (*Account, error) {
	acct, err := do[Account](ctx, c.request("/api/v1/accounts/verify_credentials").
		Bearer(accessToken))
	if httpx.HasStatus(err, http.StatusUnauthorized) {
		return nil, fmt.Errorf("%w: %w", ErrTokenExpired, err)
	}
	return acct, err
}

// NewStatus is a status to post.
type NewStatus struct {
	Status     string
	Visibility string
	// IdempotencyKey makes retries of the same post return the original
	// status rather than posting it twice.
	IdempotencyKey string
}

// CreateStatus posts a status on behalf of the owner of the access token.
func (c *Client) CreateStatus(ctx context.Context, accessToken string, status NewStatus) (*Status, error) {
	form := url.Values{
		"status": {status.Status},
	}
	if status.Visibility != "" {
		form.Set("visibility", status.Visibility)
	}
	rb := c.request("/api/v1/statuses").
		Method(http.MethodPost).
		Bearer(accessToken).
		BodyForm(form)
	if status.IdempotencyKey != "" {
		rb = rb.Header("Idempotency-Key", status.IdempotencyKey)
	}
	st, err := do[Status](ctx, rb)
	if httpx.HasStatus(err, http.StatusUnauthorized) {
		return nil, fmt.Errorf("%w: %w", ErrTokenExpired, err)
	}
	return st, err
}

func (c *Client) request(path string) *requests.Builder {
	return requests.URL(c.Instance+path).
		Client(c.HTTPClient).
		Accept("application/json").
		AddValidator(httpx.CheckStatus)
}

func do[T any](ctx context.Context, rb *requests.Builder) (*T, error) {
	var buf bytes.Buffer
	if err := rb.ToBytesBuffer(&buf).Fetch(ctx); err != nil {
		return nil, err
	}
	var v T
	if err := json.Unmarshal(buf.Bytes(), &v); err != nil {
		return nil, fmt.Errorf("mastodon: decode response: %w", err)
	}
	return &v, nil
}
