// Package twofactor implements the challenge state machine between a
// credential login and an established session. A login either yields tokens
// directly or a pending challenge; the challenge is held in tab-lifetime
// storage and consumed exactly once by a successful verification.
package twofactor

import (
	"strings"

	"github.com/pkg/errors"
)

var (
	// ErrNoChallenge is returned when verification is attempted without a
	// complete pending challenge - the direct-navigation guard. Callers
	// redirect to the login route.
	ErrNoChallenge = errors.New("no pending two-factor challenge")

	// ErrCodeRejected is the generic verification failure. Wrong code and
	// expired challenge are deliberately indistinguishable to the user.
	ErrCodeRejected = errors.New("invalid verification code")
)

// Flow distinguishes first-time 2FA enrollment from routine login
// verification. Both flows share the same code-entry step but post to
// different endpoints.
type Flow string

const (
	FlowLogin Flow = "login"
	FlowSetup Flow = "setup"
)

// Challenge is the ephemeral state between a require_2fa login response and a
// successful verification. Never persisted beyond the tab session.
type Challenge struct {
	UserID    string
	TempToken string
	Awaiting  bool
	Flow      Flow
}

// Complete reports whether all three parts of the challenge are present. A
// partial challenge (stale key left behind, hand-edited storage) is treated
// the same as no challenge.
func (c Challenge) Complete() bool {
	return strings.TrimSpace(c.UserID) != "" &&
		strings.TrimSpace(c.TempToken) != "" &&
		c.Awaiting
}
