package payment

import (
	"sort"
	"sync"
)

var _ Journal = (*InMemoryJournal)(nil)

type InMemoryJournal struct {
	mu  sync.RWMutex
	txs map[string]Transaction
}

func NewInMemoryJournal() *InMemoryJournal {
	return &InMemoryJournal{
		txs: make(map[string]Transaction),
	}
}

func (j *InMemoryJournal) Upsert(tx *Transaction) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.txs[tx.Reference] = *tx
	return nil
}

func (j *InMemoryJournal) Get(reference string) (*Transaction, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	tx, ok := j.txs[reference]
	if !ok {
		return nil, ErrNotJournaled
	}
	return &tx, nil
}

func (j *InMemoryJournal) Pending() ([]*Transaction, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	pending := make([]*Transaction, 0)
	for _, tx := range j.txs {
		if tx.Status == StatusVerified || tx.Status == StatusStale {
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

func (j *InMemoryJournal) Delete(reference string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	delete(j.txs, reference)
	return nil
}
