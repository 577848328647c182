package conversation

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hackgods/sms-booking-engine/internal/keylock"
)

var ErrStateNotFound = errors.New("conversation state not found")

// Store keeps one State per phone number. Callers serialize turns for a phone
// with WithLock and do Load/Save/Clear inside it.
type Store interface {
	WithLock(ctx context.Context, phone string, fn func(ctx context.Context) error) error
	Load(ctx context.Context, phone string) (State, error)
	Save(ctx context.Context, st State) error
	Clear(ctx context.Context, phone string) error
}

// MemoryStore is a process-local Store. Expired entries are dropped by Sweep.
type MemoryStore struct {
	locks *keylock.Map
	ttl   time.Duration

	mu     sync.RWMutex
	states map[string]State
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		locks:  keylock.New(),
		ttl:    ttl,
		states: make(map[string]State),
	}
}

func (s *MemoryStore) WithLock(ctx context.Context, phone string, fn func(ctx context.Context) error) error {
	return s.locks.WithLock(ctx, "conv:"+phone, fn)
}

func (s *MemoryStore) Load(_ context.Context, phone string) (State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.states[phone]
	if !ok {
		return State{}, ErrStateNotFound
	}
	return st.Clone(), nil
}

func (s *MemoryStore) Save(_ context.Context, st State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[st.Phone] = st.Clone()
	return nil
}

func (s *MemoryStore) Clear(_ context.Context, phone string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, phone)
	return nil
}

// Sweep deletes states idle for longer than the store's ttl and returns how
// many were removed.
func (s *MemoryStore) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for phone, st := range s.states {
		if st.Expired(now, s.ttl) {
			delete(s.states, phone)
			n++
		}
	}
	return n
}

func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.states)
}

// RunSweeper calls Sweep every interval until ctx is done.
func (s *MemoryStore) RunSweeper(ctx context.Context, interval time.Duration, onSwept func(n int)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := s.Sweep(now); n > 0 && onSwept != nil {
				onSwept(n)
			}
		}
	}
}
