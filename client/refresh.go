package client

import (
	"context"
	"net/http"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// RefreshPath is the token refresh endpoint, shared by all namespaces.
const RefreshPath = "/token/refresh/"

// ErrSessionExpired marks a terminal auth failure: the refresh token was
// missing, rejected, or the refresh call itself failed. The session has been
// cleared by the time this error is returned.
var ErrSessionExpired = errors.New("session expired")

type refreshRequest struct {
	Refresh string `json:"refresh"`
}

type refreshResponse struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh,omitempty"`
}

// refreshAccessToken exchanges the stored refresh token for a new access
// token, updating the session before returning so every request issued after
// this point carries the new token.
//
// Concurrent callers are coalesced: when N in-flight requests fail with 401 at
// once, exactly one refresh call reaches the backend and the rest wait for its
// result. The backend invalidates a refresh token on first use, so independent
// refreshes would trip its reuse detection and kill the session.
func (c *Client) refreshAccessToken(ctx context.Context) (string, error) {
	token, err, _ := c.refreshes.Do(string(c.sessions.Namespace()), func() (any, error) {
		return c.doRefresh(ctx)
	})
	if err != nil {
		return "", err
	}
	return token.(string), nil
}

func (c *Client) doRefresh(ctx context.Context) (string, error) {
	refresh, err := c.sessions.RefreshToken()
	if err != nil {
		return "", errors.Wrap(err, "[Client.doRefresh] read refresh token")
	}
	if strings.TrimSpace(refresh) == "" {
		return "", c.expireSession(errors.New("no refresh token stored"))
	}

	status, respBody, err := c.send(ctx, http.MethodPost, RefreshPath, refreshRequest{Refresh: refresh}, "")
	if err != nil {
		// Network failure, not a rejection: keep the session so the caller
		// can retry once connectivity returns.
		return "", errors.Wrap(err, "[Client.doRefresh] refresh call")
	}
	if status != http.StatusOK {
		return "", c.expireSession(decodeAPIError(status, respBody))
	}

	var tokens refreshResponse
	if err := unmarshalInto(respBody, &tokens); err != nil {
		return "", errors.Wrap(err, "[Client.doRefresh] decode refresh response")
	}
	if strings.TrimSpace(tokens.Access) == "" {
		return "", c.expireSession(errors.New("refresh response missing access token"))
	}

	// Store before returning: waiters retry with the new pair, and a rotated
	// refresh token must never be lost.
	if err := c.sessions.Rotate(tokens.Access, tokens.Refresh); err != nil {
		return "", errors.Wrap(err, "[Client.doRefresh] rotate session tokens")
	}

	log.Debug().
		Str("namespace", string(c.sessions.Namespace())).
		Bool("refresh_rotated", tokens.Refresh != "").
		Msg("access token refreshed")

	return tokens.Access, nil
}

// expireSession is the fail-closed path: clear the namespace's tokens, notify
// the embedder, and surface ErrSessionExpired. A broken session must not
// silently continue partially authenticated.
func (c *Client) expireSession(cause error) error {
	namespace := c.sessions.Namespace()

	if err := c.sessions.Teardown(); err != nil {
		log.Warn().Err(err).
			Str("namespace", string(namespace)).
			Msg("failed to clear tokens for expired session")
	}

	if c.onExpired != nil {
		c.onExpired(namespace, namespace.LoginRoute())
	}

	log.Info().
		Str("namespace", string(namespace)).
		Str("login_route", namespace.LoginRoute()).
		Msg("session expired, tokens cleared")

	return errors.Wrap(ErrSessionExpired, cause.Error())
}
