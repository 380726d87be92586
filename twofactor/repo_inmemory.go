package twofactor

import (
	"sync"
)

var _ Repo = (*InMemoryRepo)(nil)

// InMemoryRepo is the tab-session analogue: the challenge lives only as long
// as the process.
type InMemoryRepo struct {
	mu        sync.RWMutex
	challenge Challenge
	present   bool
}

func NewInMemoryRepo() *InMemoryRepo {
	return &InMemoryRepo{}
}

func (r *InMemoryRepo) Put(challenge Challenge) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.challenge = challenge
	r.present = true
	return nil
}

func (r *InMemoryRepo) Get() (Challenge, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.present {
		return Challenge{}, nil
	}
	return r.challenge, nil
}

func (r *InMemoryRepo) Clear() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.challenge = Challenge{}
	r.present = false
	return nil
}
