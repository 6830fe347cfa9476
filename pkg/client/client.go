// Package client is a small API client for the parcelview service that
// implements the token-rotation contract: every protected call carries the
// access token, a refreshable 401 triggers exactly one refresh and one
// retry, and concurrent callers sharing the client coalesce into a single
// in-flight refresh. Rotation is single-use on the server, so a duplicate
// concurrent refresh would strand one caller with a dead token — the
// coalescing here is correctness, not an optimization.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Refresh-worthy 401 messages, mirrored from the server's auth middleware.
// Any other 401 means the token itself is unusable and a refresh loop would
// never converge.
const (
	msgSessionDead  = "Session is no longer active"
	msgTokenExpired = "token expired"
)

// ErrSessionExpired is returned when a refresh attempt fails; the caller
// must re-login.
var ErrSessionExpired = errors.New("session expired; login required")

// ErrUnauthorized is returned for non-refreshable 401s.
var ErrUnauthorized = errors.New("unauthorized")

// APIError carries a non-2xx response the client did not translate into a
// sentinel error.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
}

type refreshCall struct {
	done chan struct{}
	err  error
}

// Client talks to one parcelview deployment on behalf of one session. It is
// safe for concurrent use. All rotation state is instance-scoped; two
// Clients never share a refresh token.
type Client struct {
	base string
	http *http.Client

	mu      sync.Mutex
	access  string
	refresh string
	pending *refreshCall
}

// New builds a client for the given base URL, e.g. "https://api.example.com".
func New(base string) *Client {
	return &Client{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: 30 * time.Second},
	}
}

// SetTokens seeds the client with an existing token pair.
func (c *Client) SetTokens(access, refresh string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.access, c.refresh = access, refresh
}

type loginResponse struct {
	AccessToken  string          `json:"accessToken"`
	RefreshToken string          `json:"refreshToken"`
	User         json.RawMessage `json:"user"`
}

// Login authenticates and stores the returned token pair.
func (c *Client) Login(ctx context.Context, username, password string) error {
	var resp loginResponse
	status, err := c.postJSON(ctx, "/v1/auth/login", map[string]string{
		"username": username,
		"password": password,
	}, "", &resp)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return &APIError{Status: status, Message: "login failed"}
	}
	c.SetTokens(resp.AccessToken, resp.RefreshToken)
	return nil
}

// Do performs an authenticated JSON request. On a refresh-worthy 401 it
// refreshes (coalesced with any concurrent refresh) and retries the
// original call exactly once with the new access token.
func (c *Client) Do(ctx context.Context, method, path string, body, out any) error {
	c.mu.Lock()
	used := c.access
	c.mu.Unlock()

	status, msg, err := c.roundTrip(ctx, method, path, body, used, out)
	if err != nil {
		return err
	}
	if status != http.StatusUnauthorized {
		return statusToErr(status, msg)
	}
	if msg != msgSessionDead && msg != msgTokenExpired {
		return ErrUnauthorized
	}

	if err := c.refreshOnce(ctx, used); err != nil {
		return err
	}

	c.mu.Lock()
	fresh := c.access
	c.mu.Unlock()

	status, msg, err = c.roundTrip(ctx, method, path, body, fresh, out)
	if err != nil {
		return err
	}
	if status == http.StatusUnauthorized {
		// One refresh, one retry. Anything after that is a re-login.
		return ErrSessionExpired
	}
	return statusToErr(status, msg)
}

// refreshOnce coalesces concurrent refreshes: the first caller performs the
// rotation while later callers wait for its outcome. If the access token
// already changed since the caller's failed request, someone else finished
// a refresh in the meantime and no new rotation is needed.
func (c *Client) refreshOnce(ctx context.Context, usedAccess string) error {
	c.mu.Lock()
	if c.access != usedAccess && c.pending == nil {
		c.mu.Unlock()
		return nil
	}
	if p := c.pending; p != nil {
		c.mu.Unlock()
		select {
		case <-p.done:
			return p.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	p := &refreshCall{done: make(chan struct{})}
	c.pending = p
	token := c.refresh
	c.mu.Unlock()

	err := c.doRefresh(ctx, token)

	c.mu.Lock()
	c.pending = nil
	c.mu.Unlock()
	p.err = err
	close(p.done)
	return err
}

type refreshResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

func (c *Client) doRefresh(ctx context.Context, refreshToken string) error {
	var resp refreshResponse
	status, err := c.postJSON(ctx, "/v1/auth/refresh", map[string]string{
		"refreshToken": refreshToken,
	}, "", &resp)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return ErrSessionExpired
	}
	c.SetTokens(resp.AccessToken, resp.RefreshToken)
	return nil
}

// roundTrip sends one request and decodes either the success payload into
// out or the error message out of the failure body.
func (c *Client) roundTrip(ctx context.Context, method, path string, body any, access string, out any) (int, string, error) {
	var rdr io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return 0, "", err
		}
		rdr = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rdr)
	if err != nil {
		return 0, "", err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if access != "" {
		req.Header.Set("Authorization", "Bearer "+access)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out != nil && resp.StatusCode != http.StatusNoContent {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return resp.StatusCode, "", err
			}
		}
		return resp.StatusCode, "", nil
	}

	var errBody struct {
		Error string `json:"error"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&errBody)
	return resp.StatusCode, errBody.Error, nil
}

func (c *Client) postJSON(ctx context.Context, path string, body any, bearer string, out any) (int, error) {
	status, _, err := c.roundTrip(ctx, http.MethodPost, path, body, bearer, out)
	return status, err
}

func statusToErr(status int, msg string) error {
	if status >= 200 && status < 300 {
		return nil
	}
	return &APIError{Status: status, Message: msg}
}
