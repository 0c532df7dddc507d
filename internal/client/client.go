// Package client is a Go client for the relief portal API. The caller owns
// the Session value; the client keeps only the refresh cookie in its jar.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/example/reliefportal/internal/apperr"
	"github.com/example/reliefportal/internal/models"
)

// Session is the client side view of a login.
type Session struct {
	User        *models.User
	AccessToken string
}

// Refresher obtains a new access token, usually by presenting the refresh
// cookie to /auth/refresh.
type Refresher func(ctx context.Context) (string, error)

// APIError is a non-2xx response decoded from the envelope.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api: %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("api: %d: %s", e.Status, e.Message)
}

// IsCode reports whether err is an APIError carrying code.
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// Client talks to the API rooted at baseURL (for example http://host/api).
type Client struct {
	baseURL string
	http    *http.Client
	refresh Refresher
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client. It should carry a cookie jar for
// the default refresher to work.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithRefresher replaces the refresh interceptor.
func WithRefresher(r Refresher) Option {
	return func(c *Client) { c.refresh = r }
}

// New constructs a Client with a cookie jar and a 15 second timeout.
func New(baseURL string, opts ...Option) *Client {
	jar, _ := cookiejar.New(nil)
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Jar: jar, Timeout: 15 * time.Second},
	}
	c.refresh = c.Refresh
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Code    string          `json:"code"`
	Data    json.RawMessage `json:"data"`
}

type sessionPayload struct {
	User        *models.User `json:"user"`
	AccessToken string       `json:"accessToken"`
}

// Login authenticates and returns a new Session. The refresh cookie lands in
// the jar.
func (c *Client) Login(ctx context.Context, identifier, password string) (*Session, error) {
	var out sessionPayload
	body := map[string]string{"identifier": identifier, "password": password}
	if err := c.send(ctx, http.MethodPost, "/auth/login", "", body, &out); err != nil {
		return nil, err
	}
	return &Session{User: out.User, AccessToken: out.AccessToken}, nil
}

// Refresh rotates the refresh cookie and returns a new access token.
func (c *Client) Refresh(ctx context.Context) (string, error) {
	var out sessionPayload
	if err := c.send(ctx, http.MethodPost, "/auth/refresh", "", nil, &out); err != nil {
		return "", err
	}
	return out.AccessToken, nil
}

// Me loads the authenticated user.
func (c *Client) Me(ctx context.Context, sess *Session) (*models.User, error) {
	var out struct {
		User *models.User `json:"user"`
	}
	if err := c.Do(ctx, sess, http.MethodGet, "/auth/me", nil, &out); err != nil {
		return nil, err
	}
	sess.User = out.User
	return out.User, nil
}

// Logout ends the session on the server and forgets the access token.
func (c *Client) Logout(ctx context.Context, sess *Session) error {
	if err := c.Do(ctx, sess, http.MethodPost, "/auth/logout", nil, nil); err != nil {
		return err
	}
	sess.AccessToken = ""
	return nil
}

// Do performs an authenticated call. When the server answers TOKEN_EXPIRED
// the refresher runs and the call is retried exactly once with the new token,
// which is written back to sess.
func (c *Client) Do(ctx context.Context, sess *Session, method, path string, body, out interface{}) error {
	err := c.send(ctx, method, path, sess.AccessToken, body, out)
	if !IsCode(err, apperr.CodeTokenExpired) || c.refresh == nil {
		return err
	}

	token, rerr := c.refresh(ctx)
	if rerr != nil {
		return errors.Wrap(rerr, "refresh session")
	}
	sess.AccessToken = token
	return c.send(ctx, method, path, sess.AccessToken, body, out)
}

func (c *Client) send(ctx context.Context, method, path, bearer string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "encode request")
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&env); err != nil && err != io.EOF {
		return errors.Wrapf(err, "decode %s %s", method, path)
	}

	if resp.StatusCode >= http.StatusBadRequest || !env.Success {
		msg := env.Message
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return &APIError{Status: resp.StatusCode, Code: env.Code, Message: msg}
	}

	if out != nil && len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return errors.Wrap(err, "decode data")
		}
	}
	return nil
}
