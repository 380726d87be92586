package twofactor

import (
	"context"
	"net/http"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/forte001/gracecoop-go/client"
)

const (
	routeSetup  = "/2fa/setup"
	routeVerify = "/2fa/verify"
)

// Service drives the login and verification flow for one namespace. All
// network I/O goes through the bound client; tokens land in the client's
// session manager and never pass through callers.
type Service struct {
	client     *client.Client
	challenges Repo
}

func NewService(cli *client.Client, challenges Repo) (*Service, error) {
	if cli == nil {
		return nil, errors.New("[twofactor.NewService] client is required")
	}
	if challenges == nil {
		return nil, errors.New("[twofactor.NewService] challenge repo is required")
	}
	return &Service{
		client:     cli,
		challenges: challenges,
	}, nil
}

// Credentials are what the login form collects. LoginID is the member number
// or admin login id depending on namespace.
type Credentials struct {
	LoginID  string
	Password string
}

// LoginResult tells the caller where the flow goes next. Authenticated means
// tokens are stored and Route is the dashboard; otherwise a challenge is
// pending and Route is the verify or setup page.
type LoginResult struct {
	Authenticated bool
	Route         string
}

type loginRequest struct {
	LoginID  string `json:"login_id"`
	Password string `json:"password"`
}

type loginResponse struct {
	Access        string `json:"access"`
	Refresh       string `json:"refresh"`
	Require2FA    bool   `json:"require_2fa"`
	UserID        string `json:"user_id"`
	TempToken     string `json:"temp_token"`
	SetupComplete bool   `json:"is_2fa_setup_complete"`
}

type verifyRequest struct {
	OTP    string `json:"otp"`
	UserID string `json:"user_id,omitempty"`
}

type verifyResponse struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

// Login posts credentials. Depending on the account's 2FA configuration the
// response either carries tokens directly or opens a pending challenge.
func (s *Service) Login(ctx context.Context, creds Credentials) (*LoginResult, error) {
	namespace := s.client.Namespace()

	var resp loginResponse
	err := s.client.DoPublic(ctx, http.MethodPost, s.loginPath(), loginRequest{
		LoginID:  creds.LoginID,
		Password: creds.Password,
	}, &resp)
	if err != nil {
		return nil, errors.Wrap(err, "[Service.Login] login call")
	}

	// Direct session: no 2FA on the account.
	if strings.TrimSpace(resp.Access) != "" {
		if err := s.challenges.Clear(); err != nil {
			return nil, errors.Wrap(err, "[Service.Login] clear stale challenge")
		}
		if err := s.client.Sessions().Init(resp.Access, resp.Refresh); err != nil {
			return nil, errors.Wrap(err, "[Service.Login] store session tokens")
		}
		return &LoginResult{
			Authenticated: true,
			Route:         namespace.DashboardRoute(),
		}, nil
	}

	if !resp.Require2FA {
		return nil, errors.New("[Service.Login] login response carried neither tokens nor a challenge")
	}

	flow, route := FlowLogin, routeVerify
	if !resp.SetupComplete {
		flow, route = FlowSetup, routeSetup
	}

	if err := s.challenges.Put(Challenge{
		UserID:    resp.UserID,
		TempToken: resp.TempToken,
		Awaiting:  true,
		Flow:      flow,
	}); err != nil {
		return nil, errors.Wrap(err, "[Service.Login] store challenge")
	}

	log.Debug().
		Str("namespace", string(namespace)).
		Str("flow", string(flow)).
		Msg("two-factor challenge pending")

	return &LoginResult{
		Authenticated: false,
		Route:         route,
	}, nil
}

// ActiveChallenge validates that a complete pending challenge exists. Called
// by the verify page on entry: an incomplete challenge means the user
// navigated here directly (bookmark, back button) and must be sent back to
// login. Whatever partial state was present is cleared.
func (s *Service) ActiveChallenge() (Challenge, error) {
	challenge, err := s.challenges.Get()
	if err != nil {
		return Challenge{}, errors.Wrap(err, "[Service.ActiveChallenge] read challenge")
	}
	if !challenge.Complete() {
		_ = s.challenges.Clear()
		return Challenge{}, ErrNoChallenge
	}
	return challenge, nil
}

// Verify posts the one-time code for the pending challenge. On success the
// challenge is consumed (single use) and the returned tokens become the
// namespace's session. On rejection the challenge stays in place and the
// caller gets the generic ErrCodeRejected.
func (s *Service) Verify(ctx context.Context, otp string) (*LoginResult, error) {
	challenge, err := s.ActiveChallenge()
	if err != nil {
		return nil, err
	}

	body := verifyRequest{OTP: otp, UserID: challenge.UserID}

	var resp verifyResponse
	switch challenge.Flow {
	case FlowSetup:
		err = s.client.DoPublic(ctx, http.MethodPost, s.setupVerifyPath(), body, &resp)
	default:
		// Login flow: the session does not exist yet, so the temp token
		// stands in as the bearer credential.
		err = s.client.DoWithBearer(ctx, challenge.TempToken, http.MethodPost, s.verifyPath(), body, &resp)
	}
	if err != nil {
		log.Debug().
			Str("namespace", string(s.client.Namespace())).
			Str("flow", string(challenge.Flow)).
			Err(err).
			Msg("two-factor verification rejected")
		return nil, ErrCodeRejected
	}

	if strings.TrimSpace(resp.Access) == "" {
		return nil, errors.New("[Service.Verify] verify response missing tokens")
	}

	// Consume before storing tokens: the challenge must never survive a
	// successful verification.
	if err := s.challenges.Clear(); err != nil {
		return nil, errors.Wrap(err, "[Service.Verify] consume challenge")
	}
	if err := s.client.Sessions().Init(resp.Access, resp.Refresh); err != nil {
		return nil, errors.Wrap(err, "[Service.Verify] store session tokens")
	}

	return &LoginResult{
		Authenticated: true,
		Route:         s.client.Namespace().DashboardRoute(),
	}, nil
}

func (s *Service) loginPath() string {
	return "/" + string(s.client.Namespace()) + "/login/"
}

func (s *Service) verifyPath() string {
	return "/" + string(s.client.Namespace()) + "/2fa/verify/"
}

func (s *Service) setupVerifyPath() string {
	return "/" + string(s.client.Namespace()) + "/2fa/setup-verify/"
}
