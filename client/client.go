// Package client provides the authenticated HTTP client for the cooperative
// portal API. One Client is bound to one session namespace; every outbound
// request carries the namespace's bearer token and a CSRF header on mutating
// verbs, and authorization failures are recovered through a single coalesced
// refresh-and-retry. The admin, member and generic clients are the same type
// parameterized by namespace - there is exactly one implementation of the
// refresh protocol.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"

	"github.com/forte001/gracecoop-go/session"
)

const (
	headerAuthorization = "Authorization"
	headerCSRF          = "X-CSRFToken"
	headerContentType   = "Content-Type"

	csrfCookieName  = "csrftoken"
	contentTypeJSON = "application/json"

	defaultTimeout = 30 * time.Second
)

// ExpiredHandler is invoked after a terminal auth failure, once the
// namespace's tokens have been cleared. The web client performs a hard
// navigation to loginRoute here; embedders decide what "navigate" means.
type ExpiredHandler func(namespace session.Namespace, loginRoute string)

// Client is an HTTP client bound to one role namespace.
type Client struct {
	httpClient *http.Client
	baseURL    string
	cookieURL  *url.URL
	sessions   *session.Manager
	onExpired  ExpiredHandler
	refreshes  singleflight.Group
}

type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client. The caller owns the
// cookie jar configuration in that case.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithOnSessionExpired registers the handler called when the session is torn
// down after a refresh failure.
func WithOnSessionExpired(handler ExpiredHandler) Option {
	return func(c *Client) {
		c.onExpired = handler
	}
}

func New(baseURL string, sessions *session.Manager, options ...Option) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("[client.New] baseURL is required")
	}
	if sessions == nil {
		return nil, errors.New("[client.New] session manager is required")
	}

	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, errors.Wrap(err, "[client.New] parse baseURL")
	}

	c := &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		cookieURL: parsed,
		sessions:  sessions,
	}

	for _, opt := range options {
		opt(c)
	}

	if c.httpClient == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, errors.Wrap(err, "[client.New] cookie jar")
		}
		c.httpClient = &http.Client{
			Timeout: defaultTimeout,
			Jar:     jar,
		}
	}

	return c, nil
}

// Namespace returns the session namespace this client issues requests for.
func (c *Client) Namespace() session.Namespace {
	return c.sessions.Namespace()
}

// Sessions exposes the bound session manager, for callers that need the
// advisory expiry helper or explicit teardown.
func (c *Client) Sessions() *session.Manager {
	return c.sessions
}

// Do issues an authenticated request. A 401 or 400 response triggers at most
// one token refresh followed by one retry of the original request; an auth
// failure on the retried request is terminal and surfaced to the caller.
func (c *Client) Do(ctx context.Context, method, path string, body any, out any) error {
	return c.doAuthenticated(ctx, method, path, body, out, false)
}

func (c *Client) Get(ctx context.Context, path string, out any) error {
	return c.Do(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) Post(ctx context.Context, path string, body any, out any) error {
	return c.Do(ctx, http.MethodPost, path, body, out)
}

func (c *Client) Put(ctx context.Context, path string, body any, out any) error {
	return c.Do(ctx, http.MethodPut, path, body, out)
}

func (c *Client) Patch(ctx context.Context, path string, body any, out any) error {
	return c.Do(ctx, http.MethodPatch, path, body, out)
}

func (c *Client) Delete(ctx context.Context, path string, out any) error {
	return c.Do(ctx, http.MethodDelete, path, nil, out)
}

// DoPublic issues a request with no bearer token and no refresh protocol.
// Used for the pre-auth login call, which is the only endpoint reachable
// without a session.
func (c *Client) DoPublic(ctx context.Context, method, path string, body any, out any) error {
	status, respBody, err := c.send(ctx, method, path, body, "")
	if err != nil {
		return err
	}
	if status >= http.StatusBadRequest {
		return decodeAPIError(status, respBody)
	}
	return unmarshalInto(respBody, out)
}

// DoWithBearer issues a request with an explicit bearer credential and no
// refresh protocol. The 2FA login flow uses this to present its temp token,
// which stands in for the not-yet-existing session.
func (c *Client) DoWithBearer(ctx context.Context, bearer, method, path string, body any, out any) error {
	status, respBody, err := c.send(ctx, method, path, body, bearer)
	if err != nil {
		return err
	}
	if status >= http.StatusBadRequest {
		return decodeAPIError(status, respBody)
	}
	return unmarshalInto(respBody, out)
}

// Logout tears the session down and invokes the expired handler, mirroring an
// explicit user logout.
func (c *Client) Logout() error {
	if err := c.sessions.Teardown(); err != nil {
		return errors.Wrap(err, "[Client.Logout] teardown")
	}
	namespace := c.sessions.Namespace()
	if c.onExpired != nil {
		c.onExpired(namespace, namespace.LoginRoute())
	}
	return nil
}

func (c *Client) doAuthenticated(ctx context.Context, method, path string, body any, out any, retried bool) error {
	token, err := c.sessions.AccessToken()
	if err != nil {
		return errors.Wrap(err, "[Client.Do] read access token")
	}

	status, respBody, err := c.send(ctx, method, path, body, token)
	if err != nil {
		return err
	}

	if isAuthFailure(status) {
		if retried {
			// Second consecutive auth failure: terminal, never a second refresh.
			return decodeAPIError(status, respBody)
		}
		if _, err := c.refreshAccessToken(ctx); err != nil {
			return err
		}
		return c.doAuthenticated(ctx, method, path, body, out, true)
	}

	if status >= http.StatusBadRequest {
		return decodeAPIError(status, respBody)
	}
	return unmarshalInto(respBody, out)
}

// send performs one HTTP round trip and returns the status and raw body.
func (c *Client) send(ctx context.Context, method, path string, body any, bearer string) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, nil, errors.Wrap(err, "[Client.send] marshal request body")
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.requestURL(path), reader)
	if err != nil {
		return 0, nil, errors.Wrap(err, "[Client.send] build request")
	}

	if body != nil {
		req.Header.Set(headerContentType, contentTypeJSON)
	}
	if strings.TrimSpace(bearer) != "" {
		req.Header.Set(headerAuthorization, "Bearer "+bearer)
	}
	if isMutating(method) {
		if csrf := c.csrfToken(); csrf != "" {
			req.Header.Set(headerCSRF, csrf)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, errors.Wrapf(err, "[Client.send] %s %s", method, path)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, errors.Wrap(err, "[Client.send] read response body")
	}

	return resp.StatusCode, respBody, nil
}

func (c *Client) requestURL(path string) string {
	return c.baseURL + "/" + strings.TrimLeft(path, "/")
}

// csrfToken reads the same-site csrftoken cookie from the jar.
func (c *Client) csrfToken() string {
	if c.httpClient.Jar == nil {
		return ""
	}
	for _, cookie := range c.httpClient.Jar.Cookies(c.cookieURL) {
		if cookie.Name == csrfCookieName {
			return cookie.Value
		}
	}
	return ""
}

func isMutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

// isAuthFailure matches the backend's two authorization failure statuses. The
// portal backend answers 400 for some expired-token cases, so both are
// treated as refreshable.
func isAuthFailure(status int) bool {
	return status == http.StatusUnauthorized || status == http.StatusBadRequest
}

func unmarshalInto(body []byte, out any) error {
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return errors.Wrap(err, "[Client] decode response body")
	}
	return nil
}
