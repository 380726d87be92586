// Package filejournal persists payment transactions to a JSON file, keyed by
// reference. It is the reload-survival analogue of the web client's local
// storage journal: a process that dies between the gateway callback and
// verification finds the transaction again on the next start.
package filejournal

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/forte001/gracecoop-go/payment"
)

const fileMode = 0o600

var _ payment.Journal = (*Journal)(nil)

type Journal struct {
	mu   sync.Mutex
	path string
	txs  map[string]payment.Transaction
}

// New loads (or creates) the journal file at path.
func New(path string) (*Journal, error) {
	j := &Journal{
		path: path,
		txs:  make(map[string]payment.Transaction),
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return j, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "[filejournal.New] read journal file")
	}
	if len(data) == 0 {
		return j, nil
	}
	if err := json.Unmarshal(data, &j.txs); err != nil {
		return nil, errors.Wrap(err, "[filejournal.New] parse journal file")
	}
	return j, nil
}

func (j *Journal) Upsert(tx *payment.Transaction) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.txs[tx.Reference] = *tx
	return j.flush()
}

func (j *Journal) Get(reference string) (*payment.Transaction, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	tx, ok := j.txs[reference]
	if !ok {
		return nil, payment.ErrNotJournaled
	}
	return &tx, nil
}

func (j *Journal) Pending() ([]*payment.Transaction, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	pending := make([]*payment.Transaction, 0)
	for _, tx := range j.txs {
		if tx.Status == payment.StatusVerified || tx.Status == payment.StatusStale {
			continue
		}
		copied := tx
		pending = append(pending, &copied)
	}
	sort.Slice(pending, func(i, k int) bool {
		return pending[i].CreatedAt.Before(pending[k].CreatedAt)
	})
	return pending, nil
}

func (j *Journal) Delete(reference string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	delete(j.txs, reference)
	return j.flush()
}

// flush writes the full map out. Caller holds the lock. Write-then-rename so
// a crash mid-write never corrupts the journal.
func (j *Journal) flush() error {
	data, err := json.MarshalIndent(j.txs, "", "  ")
	if err != nil {
		return errors.Wrap(err, "[filejournal.flush] marshal journal")
	}

	tmp := j.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(j.path), 0o700); err != nil {
		return errors.Wrap(err, "[filejournal.flush] create data folder")
	}
	if err := os.WriteFile(tmp, data, fileMode); err != nil {
		return errors.Wrap(err, "[filejournal.flush] write journal file")
	}
	if err := os.Rename(tmp, j.path); err != nil {
		return errors.Wrap(err, "[filejournal.flush] replace journal file")
	}
	return nil
}
