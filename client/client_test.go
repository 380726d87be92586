package client_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/forte001/gracecoop-go/client"
	"github.com/forte001/gracecoop-go/session"
	"github.com/forte001/gracecoop-go/session/memstore"
)

const (
	staleAccessToken = "access-token-stale"
	freshAccessToken = "access-token-fresh"
	firstRefresh     = "refresh-token-1"
	rotatedRefresh   = "refresh-token-2"
)

// testFixture wires a Client against a fake portal backend. The refresh
// endpoint accepts firstRefresh exactly once and rotates it, mimicking the
// backend's refresh-token reuse detection.
type testFixture struct {
	mux          *http.ServeMux
	server       *httptest.Server
	store        *memstore.Store
	sessions     *session.Manager
	cli          *client.Client
	refreshCalls atomic.Int32
	refreshDelay time.Duration

	mu            sync.Mutex
	expiredCalls  []string
	validRefresh  string
	currentAccess string
}

type fixtureOption func(*testFixture)

func withRefreshDelay(d time.Duration) fixtureOption {
	return func(f *testFixture) {
		f.refreshDelay = d
	}
}

func setupTestFixture(t *testing.T, options ...fixtureOption) *testFixture {
	t.Helper()

	f := &testFixture{
		mux:          http.NewServeMux(),
		store:        memstore.New(),
		validRefresh: firstRefresh,
		// The server-side current token differs from what the client has
		// stored, so the first authenticated request observes a 401.
		currentAccess: "access-token-issued-elsewhere",
	}
	for _, opt := range options {
		opt(f)
	}

	var err error
	f.sessions, err = session.NewManager(f.store, session.NamespaceMember)
	require.NoError(t, err)
	require.NoError(t, f.sessions.Init(staleAccessToken, firstRefresh))

	f.mux.HandleFunc("POST "+client.RefreshPath, f.handleRefresh)

	f.server = httptest.NewServer(f.mux)
	t.Cleanup(f.server.Close)

	f.cli, err = client.New(f.server.URL, f.sessions,
		client.WithOnSessionExpired(func(_ session.Namespace, loginRoute string) {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.expiredCalls = append(f.expiredCalls, loginRoute)
		}))
	require.NoError(t, err)

	return f
}

func (f *testFixture) handleRefresh(w http.ResponseWriter, r *http.Request) {
	f.refreshCalls.Add(1)
	if f.refreshDelay > 0 {
		time.Sleep(f.refreshDelay)
	}

	var body struct {
		Refresh string `json:"refresh"`
	}
	if err := decodeJSON(r, &body); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if body.Refresh != f.validRefresh {
		w.WriteHeader(http.StatusUnauthorized)
		writeJSON(w, map[string]string{"detail": "refresh token reuse detected"})
		return
	}

	// Rotate: the presented token is now burned.
	f.validRefresh = rotatedRefresh
	f.currentAccess = freshAccessToken
	writeJSON(w, map[string]string{"access": freshAccessToken, "refresh": rotatedRefresh})
}

// handleProtected accepts only the currently issued access token.
func (f *testFixture) handleProtected(hits *atomic.Int32, lastAuth *atomicString) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		if lastAuth != nil {
			lastAuth.Store(r.Header.Get("Authorization"))
		}

		f.mu.Lock()
		valid := "Bearer " + f.currentAccess
		f.mu.Unlock()

		if r.Header.Get("Authorization") != valid {
			w.WriteHeader(http.StatusUnauthorized)
			writeJSON(w, map[string]string{"detail": "token not valid"})
			return
		}
		writeJSON(w, map[string]string{"status": "ok"})
	}
}

type atomicString struct {
	mu sync.Mutex
	v  string
}

func (s *atomicString) Store(v string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.v = v
}

func (s *atomicString) Load() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.v
}

// TestGet_RefreshAndRetryOnce covers the happy recovery path: a 401 triggers
// exactly one refresh and one retry, the retry carries the new access token,
// and no error reaches the caller.
func TestGet_RefreshAndRetryOnce(t *testing.T) {
	f := setupTestFixture(t)

	var hits atomic.Int32
	var lastAuth atomicString
	f.mux.HandleFunc("GET /member/profile/", f.handleProtected(&hits, &lastAuth))

	var out struct {
		Status string `json:"status"`
	}
	err := f.cli.Get(context.Background(), "/member/profile/", &out)

	require.NoError(t, err)
	require.Equal(t, "ok", out.Status)
	require.Equal(t, int32(1), f.refreshCalls.Load(), "exactly one refresh call")
	require.Equal(t, int32(2), hits.Load(), "original request plus one retry")
	require.Equal(t, "Bearer "+freshAccessToken, lastAuth.Load(), "retry must carry the new token")
}

// TestGet_SecondAuthFailureIsTerminal: when the retried request still fails
// with 401, the failure is surfaced without a second refresh.
func TestGet_SecondAuthFailureIsTerminal(t *testing.T) {
	f := setupTestFixture(t)

	f.mux.HandleFunc("GET /member/loans/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		writeJSON(w, map[string]string{"detail": "account disabled"})
	})

	err := f.cli.Get(context.Background(), "/member/loans/", nil)

	require.Error(t, err)
	var apiErr *client.APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	require.Equal(t, "account disabled", apiErr.Message)
	require.Equal(t, int32(1), f.refreshCalls.Load(), "a second consecutive 401 must not trigger a second refresh")
}

// TestGet_BadRequestAlsoRefreshes: the backend reports some expired-token
// conditions as 400, which must go through the same recovery.
func TestGet_BadRequestAlsoRefreshes(t *testing.T) {
	f := setupTestFixture(t)

	var hits atomic.Int32
	f.mux.HandleFunc("GET /member/payments/", func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusBadRequest)
			writeJSON(w, map[string]string{"error": "token expired"})
			return
		}
		writeJSON(w, map[string]string{"status": "ok"})
	})

	err := f.cli.Get(context.Background(), "/member/payments/", nil)

	require.NoError(t, err)
	require.Equal(t, int32(1), f.refreshCalls.Load())
}

// TestGet_ConcurrentFailuresShareOneRefresh: N requests failing at once must
// coalesce into a single refresh call. The fixture's refresh endpoint burns
// the presented refresh token on first use, so a second concurrent refresh
// would be rejected as reuse and the test would fail with a session expiry.
func TestGet_ConcurrentFailuresShareOneRefresh(t *testing.T) {
	f := setupTestFixture(t, withRefreshDelay(100*time.Millisecond))

	f.mux.HandleFunc("GET /member/feed/", f.handleProtected(nil, nil))

	const concurrent = 8
	errs := make(chan error, concurrent)
	var wg sync.WaitGroup
	for i := 0; i < concurrent; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- f.cli.Get(context.Background(), "/member/feed/", nil)
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	require.Equal(t, int32(1), f.refreshCalls.Load(), "concurrent auth failures must share one in-flight refresh")
}

// TestGet_RefreshRejectionFailsClosed: a rejected refresh clears the session,
// notifies the embedder with the login route, and surfaces ErrSessionExpired.
func TestGet_RefreshRejectionFailsClosed(t *testing.T) {
	f := setupTestFixture(t)
	require.NoError(t, f.sessions.Init(staleAccessToken, "burned-refresh-token"))

	f.mux.HandleFunc("GET /member/profile/", f.handleProtected(nil, nil))

	err := f.cli.Get(context.Background(), "/member/profile/", nil)

	require.ErrorIs(t, err, client.ErrSessionExpired)
	require.Equal(t, int32(1), f.refreshCalls.Load())
	require.False(t, f.sessions.Authenticated(), "tokens must be cleared")

	f.mu.Lock()
	defer f.mu.Unlock()
	require.Equal(t, []string{"/login"}, f.expiredCalls)
}

func TestGet_MissingRefreshTokenFailsClosed(t *testing.T) {
	f := setupTestFixture(t)
	require.NoError(t, f.sessions.Init(staleAccessToken, ""))

	f.mux.HandleFunc("GET /member/profile/", f.handleProtected(nil, nil))

	err := f.cli.Get(context.Background(), "/member/profile/", nil)

	require.ErrorIs(t, err, client.ErrSessionExpired)
	require.Equal(t, int32(0), f.refreshCalls.Load(), "no refresh attempt without a refresh token")
	require.False(t, f.sessions.Authenticated())
}

// TestRefresh_RotatedTokenIsPersisted: when the refresh response carries a new
// refresh token it must be stored before anything retries, or the next refresh
// would present a burned token.
func TestRefresh_RotatedTokenIsPersisted(t *testing.T) {
	f := setupTestFixture(t)

	var hits atomic.Int32
	f.mux.HandleFunc("GET /member/profile/", func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeJSON(w, map[string]string{"status": "ok"})
	})

	require.NoError(t, f.cli.Get(context.Background(), "/member/profile/", nil))

	refresh, err := f.sessions.RefreshToken()
	require.NoError(t, err)
	require.Equal(t, rotatedRefresh, refresh)

	access, err := f.sessions.AccessToken()
	require.NoError(t, err)
	require.Equal(t, freshAccessToken, access)
}

func TestPost_AttachesCSRFHeaderFromCookie(t *testing.T) {
	f := setupTestFixture(t)
	f.mu.Lock()
	f.currentAccess = staleAccessToken // keep the stored token valid for this test
	f.mu.Unlock()

	f.mux.HandleFunc("GET /bootstrap/", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "csrftoken", Value: "csrf-123", Path: "/"})
		writeJSON(w, map[string]string{"status": "ok"})
	})

	var csrfHeader, getCSRFHeader atomicString
	f.mux.HandleFunc("POST /member/contribution/", func(w http.ResponseWriter, r *http.Request) {
		csrfHeader.Store(r.Header.Get("X-CSRFToken"))
		writeJSON(w, map[string]string{"status": "ok"})
	})
	f.mux.HandleFunc("GET /member/contribution/", func(w http.ResponseWriter, r *http.Request) {
		getCSRFHeader.Store(r.Header.Get("X-CSRFToken"))
		writeJSON(w, map[string]string{"status": "ok"})
	})

	ctx := context.Background()
	require.NoError(t, f.cli.Get(ctx, "/bootstrap/", nil)) // picks up the cookie
	require.NoError(t, f.cli.Post(ctx, "/member/contribution/", map[string]int{"amount": 1}, nil))
	require.NoError(t, f.cli.Get(ctx, "/member/contribution/", nil))

	require.Equal(t, "csrf-123", csrfHeader.Load(), "mutating verbs carry the CSRF cookie value")
	require.Empty(t, getCSRFHeader.Load(), "GET must not carry a CSRF header")
}

func TestDoPublic_NoBearerNoRefresh(t *testing.T) {
	f := setupTestFixture(t)

	var auth atomicString
	f.mux.HandleFunc("POST /member/login/", func(w http.ResponseWriter, r *http.Request) {
		auth.Store(r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusUnauthorized)
		writeJSON(w, map[string]string{"error": "invalid credentials"})
	})

	err := f.cli.DoPublic(context.Background(), http.MethodPost, "/member/login/", map[string]string{}, nil)

	require.Error(t, err)
	require.Empty(t, auth.Load(), "public requests carry no bearer token")
	require.Equal(t, int32(0), f.refreshCalls.Load(), "public requests never trigger the refresh protocol")
	require.True(t, f.sessions.Authenticated(), "a failed public call must not tear down the session")
}

func TestDoWithBearer_SendsExplicitCredential(t *testing.T) {
	f := setupTestFixture(t)

	var auth atomicString
	f.mux.HandleFunc("POST /member/2fa/verify/", func(w http.ResponseWriter, r *http.Request) {
		auth.Store(r.Header.Get("Authorization"))
		writeJSON(w, map[string]string{"status": "ok"})
	})

	err := f.cli.DoWithBearer(context.Background(), "temp-token-9", http.MethodPost, "/member/2fa/verify/", map[string]string{"otp": "123456"}, nil)

	require.NoError(t, err)
	require.Equal(t, "Bearer temp-token-9", auth.Load())
}

func TestAPIError_FieldFallbacks(t *testing.T) {
	f := setupTestFixture(t)

	payloads := map[string]struct {
		body     string
		expected string
	}{
		"/err/error/":   {`{"error":"from error field"}`, "from error field"},
		"/err/detail/":  {`{"detail":"from detail field"}`, "from detail field"},
		"/err/message/": {`{"message":"from message field"}`, "from message field"},
		"/err/none/":    {`{"code":17}`, "something went wrong, please try again"},
		"/err/garbage/": {`<html>bad gateway</html>`, "something went wrong, please try again"},
	}

	for path, tc := range payloads {
		body := tc.body
		f.mux.HandleFunc("GET "+path, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(body))
		})

		err := f.cli.Get(context.Background(), path, nil)
		var apiErr *client.APIError
		require.ErrorAs(t, err, &apiErr, path)
		require.Equal(t, tc.expected, apiErr.Message, path)
	}
}

func TestLogout_ClearsSessionAndNotifies(t *testing.T) {
	f := setupTestFixture(t)

	require.NoError(t, f.cli.Logout())

	require.False(t, f.sessions.Authenticated())
	f.mu.Lock()
	defer f.mu.Unlock()
	require.Equal(t, []string{"/login"}, f.expiredCalls)
}
