package swarm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/carlmjohnson/requests"
	"github.com/davecheney/swarmdon/internal/httpx"
	"github.com/go-json-experiment/json"
)

// ErrTokenExpired is returned when Swarm rejects the access token.
var ErrTokenExpired = errors.New("swarm: access token expired or revoked")

const (
	DefaultAuthURL  = "https://foursquare.com/oauth2/authenticate"
	DefaultTokenURL = "https://foursquare.com/oauth2/access_token"
	DefaultAPIURL   = "https://api.foursquare.com/v2"

	// apiVersion pins the shape of API responses.
	apiVersion = "20220722"
)

// Client is a Swarm API client for one registered application.
type Client struct {
	ClientID     string
	ClientSecret string
	// RedirectURI is where Swarm sends the user after authorization.
	RedirectURI string

	AuthURL  string
	TokenURL string
	APIURL   string

	HTTPClient *http.Client
}

// NewClient returns a Client for the production Swarm endpoints.
func NewClient(clientID, clientSecret, redirectURI string) *Client {
	return &Client{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURI:  redirectURI,
		AuthURL:      DefaultAuthURL,
		TokenURL:     DefaultTokenURL,
		APIURL:       DefaultAPIURL,
		HTTPClient:   &http.Client{Timeout: 10 * time.Second},
	}
}

// AuthorizeURL returns the URL to send the user to in order to authorize
// this application. state is echoed back to the redirect URI.
func (c *Client) AuthorizeURL(state string) string {
	q := url.Values{
		"client_id":     {c.ClientID},
		"response_type": {"code"},
		"redirect_uri":  {c.RedirectURI},
		"state":         {state},
	}
	return c.AuthURL + "?" + q.Encode()
}

// Token is an OAuth token issued by Swarm.
type Token struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// Exchange trades an authorization code for a Token.
func (c *Client) Exchange(ctx context.Context, code string) (*Token, error) {
	return c.token(ctx, url.Values{
		"grant_type":   {"authorization_code"},
		"redirect_uri": {c.RedirectURI},
		"code":         {code},
	})
}

// Refresh trades a refresh token for a new Token.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*Token, error) {
	tok, err := c.token(ctx, url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
	})
	if httpx.HasStatus(err, http.StatusBadRequest, http.StatusUnauthorized) {
		return nil, fmt.Errorf("%w: %w", ErrTokenExpired, err)
	}
	return tok, err
}

func (c *Client) token(ctx context.Context, form url.Values) (*Token, error) {
	form.Set("client_id", c.ClientID)
	form.Set("client_secret", c.ClientSecret)
	var buf bytes.Buffer
	err := requests.URL(c.TokenURL).
		Client(c.HTTPClient).
		Method(http.MethodPost).
		BodyForm(form).
		Accept("application/json").
		AddValidator(httpx.CheckStatus).
		ToBytesBuffer(&buf).
		Fetch(ctx)
	if err != nil {
		return nil, err
	}
	var tok Token
	if err := json.Unmarshal(buf.Bytes(), &tok); err != nil {
		return nil, fmt.Errorf("swarm: decode token: %w", err)
	}
	if tok.AccessToken == "" {
		return nil, errors.New("swarm: token response has no access_token")
	}
	return &tok, nil
}

// Me returns the user who owns the access token.
func (c *Client) Me(ctx context.Context, accessToken string) (*User, error) {
	resp, err := get[struct {
		User *User `json:"user"`
	}](ctx, c, accessToken, "/users/self")
	if err != nil {
		return nil, err
	}
	if resp.User == nil || resp.User.ID == "" {
		return nil, errors.New("swarm: response does not contain a user")
	}
	return resp.User, nil
}

// CheckinDetails fetches the full checkin, including its short URL.
func (c *Client) CheckinDetails(ctx context.Context, accessToken, checkinID string) (*Checkin, error) {
	resp, err := get[struct {
		Checkin *Checkin `json:"checkin"`
	}](ctx, c, accessToken, "/checkins/"+url.PathEscape(checkinID))
	if err != nil {
		return nil, err
	}
	if resp.Checkin == nil {
		return nil, errors.New("swarm: response does not contain a checkin")
	}
	return resp.Checkin, nil
}

type meta struct {
	Code        int    `json:"code"`
	ErrorType   string `json:"errorType"`
	ErrorDetail string `json:"errorDetail"`
}

type envelope[T any] struct {
	Meta     meta `json:"meta"`
	Response T    `json:"response"`
}

// get calls an API method and returns the response member of the envelope.
func get[T any](ctx context.Context, c *Client, accessToken, method string) (*T, error) {
	var buf bytes.Buffer
	err := requests.URL(c.APIURL+method).
		Client(c.HTTPClient).
		Param("v", apiVersion).
		Param("oauth_token", accessToken).
		AddValidator(httpx.CheckStatus).
		ToBytesBuffer(&buf).
		Fetch(ctx)
	if httpx.HasStatus(err, http.StatusUnauthorized) {
		return nil, fmt.Errorf("%w: %w", ErrTokenExpired, err)
	}
	if err != nil {
		return nil, err
	}
	var env envelope[T]
	if err := json.Unmarshal(buf.Bytes(), &env); err != nil {
		return nil, fmt.Errorf("swarm: decode %s: %w", method, err)
	}
	if env.Meta.ErrorType == "invalid_auth" {
		// reported with a 200; classify it as the 401 it is.
		return nil, fmt.Errorf("%w: %w", ErrTokenExpired, &httpx.ResponseError{
			Code: http.StatusUnauthorized,
			Body: env.Meta.ErrorDetail,
		})
	}
	if env.Meta.Code != 0 && env.Meta.Code != http.StatusOK {
		return nil, fmt.Errorf("swarm: %s: %d %s: %s", method, env.Meta.Code, env.Meta.ErrorType, env.Meta.ErrorDetail)
	}
	return &env.Response, nil
}
