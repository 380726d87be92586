// Package payment coordinates the three-party payment handshake between the
// portal backend, the hosted gateway widget, and this client. The client never
// holds gateway credentials: the backend issues a reference and a public key,
// the gateway collects the charge, and the backend verifies it out-of-band.
// The transaction is modelled as an explicit state machine journaled by
// reference, so a crash between the gateway callback and verification can
// resume instead of silently losing the charge.
package payment

import (
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// Purpose is what a payment is for. The backend exposes a separate
// initiate/verify endpoint pair per purpose.
type Purpose string

const (
	PurposeEntry         Purpose = "entry"
	PurposeLevy          Purpose = "levy"
	PurposeContribution  Purpose = "contribution"
	PurposeLoanRepayment Purpose = "loan_repayment"
	PurposeLoanPayoff    Purpose = "loan_payoff"
)

func (p Purpose) Valid() bool {
	switch p {
	case PurposeEntry, PurposeLevy, PurposeContribution, PurposeLoanRepayment, PurposeLoanPayoff:
		return true
	}
	return false
}

// endpointSegment maps the purpose onto the backend's URL segment. A loan
// payoff goes through the loan repayment endpoints, distinguished by the
// payoff flag in the request body.
func (p Purpose) endpointSegment() string {
	if p == PurposeLoanPayoff {
		return string(PurposeLoanRepayment)
	}
	return string(p)
}

// InitiatePath is the purpose-specific initiation endpoint.
func (p Purpose) InitiatePath() string {
	return "/" + p.endpointSegment() + "/pay/initiate/"
}

// VerifyPath is the purpose-specific verification endpoint. Entry payments
// address the transaction in the URL path; every other purpose addresses it
// in the request body. The asymmetry is the backend's, preserved as-is.
func (p Purpose) VerifyPath(reference string) string {
	if p == PurposeEntry {
		return "/entry/pay/verify/" + reference + "/"
	}
	return "/" + p.endpointSegment() + "/pay/verify/"
}

// Status is the transaction's position in the handshake. Advancement is
// monotonic with one exception: an unverified transaction may re-enter
// verifying when a recheck is attempted.
type Status string

const (
	StatusInitiated   Status = "initiated"
	StatusGatewayOpen Status = "gateway_open"
	StatusVerifying   Status = "verifying"
	StatusVerified    Status = "verified"
	StatusUnverified  Status = "unverified"
	StatusStale       Status = "stale"
)

// ErrInvalidTransition guards the monotonic status order.
var ErrInvalidTransition = errors.New("invalid transaction state transition")

var allowedTransitions = map[Status][]Status{
	StatusInitiated:   {StatusGatewayOpen, StatusUnverified},
	StatusGatewayOpen: {StatusVerifying, StatusUnverified},
	StatusVerifying:   {StatusVerified, StatusUnverified},
	StatusUnverified:  {StatusVerifying, StatusStale},
	// verified and stale are terminal
}

// StaleAfter is the age beyond which an unverified transaction can no longer
// be rechecked from the client and needs administrative resolution.
const StaleAfter = 30 * 24 * time.Hour

// Transaction is one journaled payment attempt. Reference is the backend's
// idempotency key; every step after initiation addresses the transaction by
// it alone.
type Transaction struct {
	ID            string          `json:"id"`
	Reference     string          `json:"reference"`
	Purpose       Purpose         `json:"purpose"`
	Amount        decimal.Decimal `json:"amount"`
	Email         string          `json:"email"`
	PublicKey     string          `json:"public_key"`
	Status        Status          `json:"status"`
	CreatedAt     time.Time       `json:"created_at"`
	LoanReference string          `json:"loan_reference,omitempty"`
	Payoff        bool            `json:"payoff"`
	CustomAmount  bool            `json:"custom_amount"`
	Message       string          `json:"message,omitempty"`
}

// Advance moves the transaction to the next status, enforcing the monotonic
// order.
func (t *Transaction) Advance(to Status) error {
	for _, next := range allowedTransitions[t.Status] {
		if next == to {
			t.Status = to
			return nil
		}
	}
	return errors.Wrapf(ErrInvalidTransition, "%s -> %s", t.Status, to)
}

// AmountMinor converts the amount to the gateway's minor units (kobo).
func (t *Transaction) AmountMinor() int64 {
	return t.Amount.Mul(decimal.NewFromInt(100)).IntPart()
}

// StaleAt is when the transaction ages out of client-side reconciliation.
func (t *Transaction) StaleAt() time.Time {
	return t.CreatedAt.Add(StaleAfter)
}

// IsStale reports whether an unresolved transaction has aged out.
func (t *Transaction) IsStale(now time.Time) bool {
	return t.Status != StatusVerified && now.After(t.StaleAt())
}

// CanRecheck reports whether a recheck may still be offered for this
// transaction.
func (t *Transaction) CanRecheck(now time.Time) bool {
	if t.Status == StatusVerified || t.Status == StatusStale {
		return false
	}
	return !t.IsStale(now)
}
