package payment

import (
	"github.com/pkg/errors"
)

// ErrNotJournaled is returned when no transaction is stored under a reference.
var ErrNotJournaled = errors.New("transaction not journaled")

// Journal persists transactions by reference across the gateway handshake.
// Its whole purpose is crash recovery: a transaction journaled at verifying
// can be resumed after a restart instead of leaving a successful charge
// unverified.
type Journal interface {
	Upsert(tx *Transaction) error
	Get(reference string) (*Transaction, error)
	// Pending returns journaled transactions that have not reached a terminal
	// status (verified or stale).
	Pending() ([]*Transaction, error)
	Delete(reference string) error
}
