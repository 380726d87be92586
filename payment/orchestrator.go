package payment

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/forte001/gracecoop-go/client"
	"github.com/forte001/gracecoop-go/internal/utils"
)

// ErrGatewayAbandoned is returned when the widget was dismissed without
// completing the charge. The transaction is journaled unverified; nothing was
// necessarily charged, but the backend is the authority on that.
var ErrGatewayAbandoned = errors.New("payment abandoned at gateway")

// Orchestrator drives a payment from initiation through the gateway to
// backend verification. It holds no gateway credentials and trusts only the
// backend-issued reference.
type Orchestrator struct {
	client  *client.Client
	gateway Gateway
	journal Journal
	nowFunc func() time.Time
}

type OrchestratorOption func(*Orchestrator)

// WithNowFunc sets the now time function (primarily for testing).
func WithNowFunc(now func() time.Time) OrchestratorOption {
	return func(o *Orchestrator) {
		o.nowFunc = now
	}
}

func NewOrchestrator(cli *client.Client, gateway Gateway, journal Journal, options ...OrchestratorOption) (*Orchestrator, error) {
	if cli == nil {
		return nil, errors.New("[payment.NewOrchestrator] client is required")
	}
	if gateway == nil {
		return nil, errors.New("[payment.NewOrchestrator] gateway is required")
	}
	if journal == nil {
		return nil, errors.New("[payment.NewOrchestrator] journal is required")
	}

	o := &Orchestrator{
		client:  cli,
		gateway: gateway,
		journal: journal,
		nowFunc: time.Now,
	}
	for _, opt := range options {
		opt(o)
	}
	return o, nil
}

// Intent is what the user asked to pay. Amount is only set for purposes where
// the user supplies it (levy, contribution); a zero amount means the backend
// computes it.
type Intent struct {
	Purpose       Purpose
	Amount        decimal.Decimal
	LoanReference string
}

type initiateRequest struct {
	CustomAmount  *decimal.Decimal `json:"custom_amount,omitempty"`
	LoanReference string           `json:"loan_reference,omitempty"`
	Payoff        bool             `json:"payoff"`
}

type initiateResponse struct {
	Reference string          `json:"reference"`
	Amount    decimal.Decimal `json:"amount"`
	Email     string          `json:"email"`
	PublicKey string          `json:"public_key"`
}

type verifyRequest struct {
	Reference     string           `json:"reference"`
	CustomAmount  *decimal.Decimal `json:"custom_amount,omitempty"`
	LoanReference string           `json:"loan_reference,omitempty"`
	Payoff        bool             `json:"payoff"`
}

type verifyResponse struct {
	Message string `json:"message"`
}

// Outcome is the terminal result of a payment attempt.
type Outcome struct {
	Transaction *Transaction
	Message     string
}

// Initiate asks the backend to open a transaction. The returned reference is
// the idempotency anchor for everything that follows; the transaction is
// journaled before Initiate returns.
func (o *Orchestrator) Initiate(ctx context.Context, intent Intent) (*Transaction, error) {
	if !intent.Purpose.Valid() {
		return nil, errors.Errorf("[Orchestrator.Initiate] unknown purpose %q", intent.Purpose)
	}

	req := initiateRequest{
		LoanReference: intent.LoanReference,
		Payoff:        intent.Purpose == PurposeLoanPayoff,
	}
	if !intent.Amount.IsZero() {
		req.CustomAmount = utils.Ptr(intent.Amount)
	}

	var resp initiateResponse
	if err := o.client.Post(ctx, intent.Purpose.InitiatePath(), req, &resp); err != nil {
		return nil, errors.Wrap(err, "[Orchestrator.Initiate] initiate call")
	}
	if strings.TrimSpace(resp.Reference) == "" {
		return nil, errors.New("[Orchestrator.Initiate] initiate response missing reference")
	}

	tx := &Transaction{
		ID:            uuid.New().String(),
		Reference:     resp.Reference,
		Purpose:       intent.Purpose,
		Amount:        resp.Amount,
		Email:         resp.Email,
		PublicKey:     resp.PublicKey,
		Status:        StatusInitiated,
		CreatedAt:     o.nowFunc(),
		LoanReference: intent.LoanReference,
		Payoff:        intent.Purpose == PurposeLoanPayoff,
		CustomAmount:  req.CustomAmount != nil,
	}

	if err := o.journal.Upsert(tx); err != nil {
		return nil, errors.Wrap(err, "[Orchestrator.Initiate] journal transaction")
	}

	log.Debug().
		Str("reference", tx.Reference).
		Str("purpose", string(tx.Purpose)).
		Str("amount", tx.Amount.String()).
		Msg("payment initiated")

	return tx, nil
}

// Pay runs the full handshake: initiate, open the gateway widget, then verify
// with the backend. Every status change is journaled before the next step so
// a crash at any point leaves a resumable record.
func (o *Orchestrator) Pay(ctx context.Context, intent Intent) (*Outcome, error) {
	tx, err := o.Initiate(ctx, intent)
	if err != nil {
		return nil, err
	}

	if err := o.advance(tx, StatusGatewayOpen); err != nil {
		return nil, err
	}

	result, err := o.gateway.Open(ctx, Checkout{
		PublicKey:   tx.PublicKey,
		Email:       tx.Email,
		AmountMinor: tx.AmountMinor(),
		Reference:   tx.Reference,
	})
	if err != nil {
		_ = o.advance(tx, StatusUnverified)
		return nil, errors.Wrap(err, "[Orchestrator.Pay] gateway")
	}
	if !result.Completed {
		_ = o.advance(tx, StatusUnverified)
		return nil, errors.Wrapf(ErrGatewayAbandoned, "reference %s", tx.Reference)
	}
	if result.Reference != "" && result.Reference != tx.Reference {
		_ = o.advance(tx, StatusUnverified)
		return nil, errors.Errorf("[Orchestrator.Pay] gateway returned reference %q, expected %q", result.Reference, tx.Reference)
	}

	// Journal verifying before the verify call: if the process dies here the
	// charge has already happened and Resume must pick this up.
	if err := o.advance(tx, StatusVerifying); err != nil {
		return nil, err
	}

	message, err := o.Verify(ctx, tx)
	if err != nil {
		return nil, err
	}
	return &Outcome{Transaction: tx, Message: message}, nil
}

// Verify asks the backend to confirm the charge with the gateway. On success
// the transaction is terminal verified; on failure it is journaled unverified
// and left to the reconciler.
func (o *Orchestrator) Verify(ctx context.Context, tx *Transaction) (string, error) {
	if tx.Status == StatusVerified {
		return tx.Message, nil
	}
	if tx.Status != StatusVerifying {
		if err := o.advance(tx, StatusVerifying); err != nil {
			return "", err
		}
	}

	var resp verifyResponse
	var err error
	if tx.Purpose == PurposeEntry {
		// Entry payments address the transaction in the URL path with an
		// empty body; all other purposes put the reference in the body.
		err = o.client.Post(ctx, tx.Purpose.VerifyPath(tx.Reference), nil, &resp)
	} else {
		req := verifyRequest{
			Reference:     tx.Reference,
			LoanReference: tx.LoanReference,
			Payoff:        tx.Payoff,
		}
		if tx.CustomAmount {
			req.CustomAmount = utils.Ptr(tx.Amount)
		}
		err = o.client.Post(ctx, tx.Purpose.VerifyPath(tx.Reference), req, &resp)
	}
	if err != nil {
		_ = o.advance(tx, StatusUnverified)
		return "", errors.Wrapf(err, "[Orchestrator.Verify] reference %s", tx.Reference)
	}

	tx.Message = resp.Message
	if err := o.advance(tx, StatusVerified); err != nil {
		return "", err
	}

	log.Info().
		Str("reference", tx.Reference).
		Str("purpose", string(tx.Purpose)).
		Msg("payment verified")

	return resp.Message, nil
}

// Resume picks up journaled transactions stuck at verifying - the crash
// window between a successful gateway charge and its verification - and
// re-runs verification for each. A failure marks that transaction unverified
// and is logged; it does not abort the rest of the sweep.
func (o *Orchestrator) Resume(ctx context.Context) ([]*Outcome, error) {
	pending, err := o.journal.Pending()
	if err != nil {
		return nil, errors.Wrap(err, "[Orchestrator.Resume] read journal")
	}

	outcomes := make([]*Outcome, 0)
	for _, tx := range pending {
		if tx.Status != StatusVerifying {
			continue
		}
		message, err := o.Verify(ctx, tx)
		if err != nil {
			log.Warn().
				Str("reference", tx.Reference).
				Err(err).
				Msg("resumed verification failed")
			continue
		}
		outcomes = append(outcomes, &Outcome{Transaction: tx, Message: message})
	}
	return outcomes, nil
}

// advance moves the status and journals the change as one step.
func (o *Orchestrator) advance(tx *Transaction, to Status) error {
	if err := tx.Advance(to); err != nil {
		return errors.Wrapf(err, "[Orchestrator] reference %s", tx.Reference)
	}
	if err := o.journal.Upsert(tx); err != nil {
		return errors.Wrapf(err, "[Orchestrator] journal %s at %s", tx.Reference, to)
	}
	return nil
}
