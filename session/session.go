// Package session manages the per-role token state for the cooperative portal
// API. Each role namespace (admin, member, generic) owns an independent pair of
// access/refresh tokens; a Manager binds one namespace to a Store and is the
// only component that reads or writes tokens. Everything above it (the HTTP
// client, the 2FA flow, the payment orchestrator) goes through a Manager.
package session

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

// Namespace identifies which role's session a token belongs to. The portal
// keeps admin and member sessions fully independent so that an admin browsing
// the member area does not clobber their admin tokens.
type Namespace string

const (
	NamespaceAdmin   Namespace = "admin"
	NamespaceMember  Namespace = "member"
	NamespaceGeneric Namespace = "generic"
)

// Kind distinguishes the two stored credentials.
type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
)

// LoginRoute returns the route a broken session of this namespace is sent to.
func (n Namespace) LoginRoute() string {
	switch n {
	case NamespaceAdmin:
		return "/admin/login"
	default:
		return "/login"
	}
}

// DashboardRoute returns the post-login landing route for the namespace.
func (n Namespace) DashboardRoute() string {
	switch n {
	case NamespaceAdmin:
		return "/admin/dashboard"
	default:
		return "/dashboard"
	}
}

func (n Namespace) Valid() bool {
	switch n {
	case NamespaceAdmin, NamespaceMember, NamespaceGeneric:
		return true
	}
	return false
}

// StorageKey is the persisted key for a namespace/kind pair: "admin_token",
// "admin_refresh", "member_token" and so on. Kept compatible with the keys the
// web client writes so both can share a persisted store.
func StorageKey(n Namespace, k Kind) string {
	if k == KindRefresh {
		return string(n) + "_refresh"
	}
	return string(n) + "_token"
}

// Session is the token pair for one namespace. A session is considered
// authenticated iff AccessToken is non-empty; whether the token is still
// accepted is a network-observed property, not a local one.
type Session struct {
	AccessToken  string
	RefreshToken string
	Role         Namespace
}

func (s Session) Authenticated() bool {
	return strings.TrimSpace(s.AccessToken) != ""
}

// Store is synchronous key/value persistence for tokens. Implementations must
// be cheap enough to consult before every outgoing request. A missing value is
// returned as "", nil - absence is not an error.
type Store interface {
	Get(namespace Namespace, kind Kind) (string, error)
	Set(namespace Namespace, kind Kind, value string) error
	Clear(namespace Namespace) error
}

// Manager binds one namespace to a Store and owns its session lifecycle:
// Init on login/2FA success, token replacement on refresh, Teardown on
// refresh failure or logout.
type Manager struct {
	store     Store
	namespace Namespace
	nowFunc   func() time.Time
}

type ManagerOption func(*Manager)

// WithNowFunc sets the now time function (primarily for testing).
func WithNowFunc(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.nowFunc = now
	}
}

func NewManager(store Store, namespace Namespace, options ...ManagerOption) (*Manager, error) {
	if store == nil {
		return nil, errors.New("[NewManager] store is required")
	}
	if !namespace.Valid() {
		return nil, errors.Errorf("[NewManager] invalid namespace %q", namespace)
	}

	m := &Manager{
		store:     store,
		namespace: namespace,
		nowFunc:   time.Now,
	}

	for _, opt := range options {
		opt(m)
	}
	return m, nil
}

func (m *Manager) Namespace() Namespace {
	return m.namespace
}

// Init writes a freshly issued token pair, replacing whatever was stored.
func (m *Manager) Init(accessToken, refreshToken string) error {
	if err := m.store.Set(m.namespace, KindAccess, accessToken); err != nil {
		return errors.Wrap(err, "[Manager.Init] store access token")
	}
	if err := m.store.Set(m.namespace, KindRefresh, refreshToken); err != nil {
		return errors.Wrap(err, "[Manager.Init] store refresh token")
	}
	return nil
}

func (m *Manager) AccessToken() (string, error) {
	return m.store.Get(m.namespace, KindAccess)
}

func (m *Manager) RefreshToken() (string, error) {
	return m.store.Get(m.namespace, KindRefresh)
}

// SetAccessToken replaces only the access token. Used when a refresh response
// carries a new access token without rotating the refresh token.
func (m *Manager) SetAccessToken(token string) error {
	return m.store.Set(m.namespace, KindAccess, token)
}

// Rotate replaces the access token and, when the server rotated it, the
// refresh token as well. Both writes land before Rotate returns so requests
// issued afterwards pick up the new pair.
func (m *Manager) Rotate(accessToken, refreshToken string) error {
	if err := m.store.Set(m.namespace, KindAccess, accessToken); err != nil {
		return errors.Wrap(err, "[Manager.Rotate] store access token")
	}
	if refreshToken == "" {
		return nil
	}
	if err := m.store.Set(m.namespace, KindRefresh, refreshToken); err != nil {
		return errors.Wrap(err, "[Manager.Rotate] store refresh token")
	}
	return nil
}

// Teardown clears the namespace's tokens. Fail-closed: callers invoke this on
// refresh failure or logout and must not continue using the session afterwards.
func (m *Manager) Teardown() error {
	return m.store.Clear(m.namespace)
}

// Authenticated reports whether an access token is present. Presence only -
// validity is determined by attempting a request and observing the response.
func (m *Manager) Authenticated() bool {
	token, err := m.AccessToken()
	if err != nil {
		return false
	}
	return strings.TrimSpace(token) != ""
}

// ExpiresWithin decodes the stored access token without verifying its
// signature and reports whether its exp claim falls inside d. This is an
// advisory helper for gating route entry only; it must never be used to skip
// or block a request, since the server remains the authority on validity.
func (m *Manager) ExpiresWithin(d time.Duration) (bool, error) {
	raw, err := m.AccessToken()
	if err != nil {
		return false, errors.Wrap(err, "[Manager.ExpiresWithin] read access token")
	}
	if strings.TrimSpace(raw) == "" {
		return true, nil
	}

	token, _, err := jwt.NewParser().ParseUnverified(raw, jwt.MapClaims{})
	if err != nil {
		return true, errors.Wrap(err, "[Manager.ExpiresWithin] parse token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return true, errors.New("[Manager.ExpiresWithin] error extracting claims")
	}

	exp, ok := claims["exp"].(float64)
	if !ok {
		return true, errors.New("[Manager.ExpiresWithin] token missing exp claim")
	}

	return time.Unix(int64(exp), 0).Before(m.nowFunc().Add(d)), nil
}
