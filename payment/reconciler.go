package payment

import (
	"context"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/forte001/gracecoop-go/client"
)

// RecheckPath is the out-of-band reconciliation endpoint, shared by all
// purposes: the backend re-queries the gateway by reference.
const RecheckPath = "/payment/recheck/"

// ErrStaleTransaction is returned when a recheck is requested for a payment
// older than StaleAfter. Past that age the client refuses the call; the
// payment needs administrative resolution.
var ErrStaleTransaction = errors.New("transaction too old to recheck")

// Record is a payment row as the backend lists it - the reconciler operates
// on server-side records, not on the local journal, because only the server
// knows the payment id and the authoritative verified flag.
type Record struct {
	ID        string    `json:"id"`
	Reference string    `json:"reference"`
	Verified  bool      `json:"verified"`
	CreatedAt time.Time `json:"created_at"`
}

// CanRecheck reports whether the recheck action should be offered for this
// record: not yet verified and inside the staleness window.
func (r Record) CanRecheck(now time.Time) bool {
	return !r.Verified && now.Sub(r.CreatedAt) <= StaleAfter
}

type recheckRequest struct {
	PaymentID string `json:"payment_id"`
}

// RecheckResult is the backend's answer. A repeated recheck of an already
// verified payment comes back Verified true and is success, not an error.
type RecheckResult struct {
	Verified bool   `json:"payment_verified"`
	Message  string `json:"message"`
}

// Reconciler is the pull-based recovery path for transactions the primary
// handshake left unverified. Rechecks are idempotent and user- or
// sweep-triggered; there is no push channel from the backend.
type Reconciler struct {
	client  *client.Client
	journal Journal
	nowFunc func() time.Time
}

type ReconcilerOption func(*Reconciler)

// WithReconcilerNowFunc sets the now time function (primarily for testing).
func WithReconcilerNowFunc(now func() time.Time) ReconcilerOption {
	return func(r *Reconciler) {
		r.nowFunc = now
	}
}

// NewReconciler builds a reconciler. journal may be nil when no local journal
// is kept; it is only used to mirror a confirmed verification locally.
func NewReconciler(cli *client.Client, journal Journal, options ...ReconcilerOption) (*Reconciler, error) {
	if cli == nil {
		return nil, errors.New("[payment.NewReconciler] client is required")
	}

	r := &Reconciler{
		client:  cli,
		journal: journal,
		nowFunc: time.Now,
	}
	for _, opt := range options {
		opt(r)
	}
	return r, nil
}

// Recheck asks the backend to re-query the gateway for one payment. Stale
// records are refused locally; everything else is forwarded, including
// already-verified ones, whose "already verified" answer counts as success.
func (r *Reconciler) Recheck(ctx context.Context, record Record) (*RecheckResult, error) {
	if !record.Verified && r.nowFunc().Sub(record.CreatedAt) > StaleAfter {
		return nil, errors.Wrapf(ErrStaleTransaction, "payment %s", record.ID)
	}

	var result RecheckResult
	if err := r.client.Do(ctx, http.MethodPost, RecheckPath, recheckRequest{PaymentID: record.ID}, &result); err != nil {
		return nil, errors.Wrapf(err, "[Reconciler.Recheck] payment %s", record.ID)
	}

	if result.Verified {
		r.markJournalVerified(record.Reference, result.Message)
	}

	log.Debug().
		Str("payment_id", record.ID).
		Bool("verified", result.Verified).
		Msg("payment recheck completed")

	return &result, nil
}

// SweepOutcome is one record's result from a Sweep.
type SweepOutcome struct {
	Record Record
	Result *RecheckResult
	Err    error
}

// Sweep rechecks every eligible record in the list. Records already verified
// or past the staleness window are skipped, not errored. Intended for a
// scheduled pass over the backend's unverified payment list.
func (r *Reconciler) Sweep(ctx context.Context, records []Record) []SweepOutcome {
	now := r.nowFunc()

	outcomes := make([]SweepOutcome, 0)
	for _, record := range records {
		if !record.CanRecheck(now) {
			continue
		}
		result, err := r.Recheck(ctx, record)
		outcomes = append(outcomes, SweepOutcome{
			Record: record,
			Result: result,
			Err:    err,
		})
	}
	return outcomes
}

// markJournalVerified mirrors a server-confirmed verification into the local
// journal, when one is kept and still holds the reference.
func (r *Reconciler) markJournalVerified(reference, message string) {
	if r.journal == nil || reference == "" {
		return
	}

	tx, err := r.journal.Get(reference)
	if err != nil {
		return
	}
	if tx.Status == StatusVerified {
		return
	}

	if tx.Status != StatusVerifying {
		if err := tx.Advance(StatusVerifying); err != nil {
			return
		}
	}
	if err := tx.Advance(StatusVerified); err != nil {
		return
	}
	tx.Message = message
	if err := r.journal.Upsert(tx); err != nil {
		log.Warn().Str("reference", reference).Err(err).Msg("failed to journal recheck result")
	}
}
