package policy

import (
	"sync"
	"time"
)

// Rate limit defaults: a sliding window per (vault, origin) that hard-locks
// once the attempt ceiling is exceeded. Every verification call counts,
// correct or not.
const (
	DefaultWindow      = time.Minute
	DefaultMaxAttempts = 60
	DefaultLockout     = time.Minute
)

// Attempt is the stored throttling state for one (vault, origin) pair.
type Attempt struct {
	Count           int       `json:"count"`
	WindowStartedAt time.Time `json:"windowStartedAt"`
	LockedUntil     time.Time `json:"lockedUntil,omitempty"`
}

// AttemptStore is the injected persistence for rate-limit state. The memory
// implementation is the default; server deployments can swap in the bbolt
// one to keep throttling across restarts. Losing state on restart is an
// accepted trade: attempts are also bounded cryptographically.
type AttemptStore interface {
	Get(key string) (*Attempt, error)
	Put(key string, a *Attempt) error
	Delete(key string) error
}

// Limiter enforces the sliding-window rate limit over an AttemptStore.
type Limiter struct {
	mu          sync.Mutex
	store       AttemptStore
	now         func() time.Time
	window      time.Duration
	lockout     time.Duration
	maxAttempts int
}

// NewLimiter builds a Limiter with the given store and clock. A nil clock
// means time.Now.
func NewLimiter(store AttemptStore, now func() time.Time) *Limiter {
	if now == nil {
		now = time.Now
	}
	return &Limiter{
		store:       store,
		now:         now,
		window:      DefaultWindow,
		lockout:     DefaultLockout,
		maxAttempts: DefaultMaxAttempts,
	}
}

// Attempt records one verification call for the pair and reports whether it
// must be blocked, and for how long. The count is independent of answer
// correctness.
func (l *Limiter) Attempt(vaultID, origin string) (blocked bool, retryAfter time.Duration, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := vaultID + "|" + origin
	now := l.now()

	rec, err := l.store.Get(key)
	if err != nil {
		return false, 0, err
	}

	if rec != nil && now.Before(rec.LockedUntil) {
		return true, rec.LockedUntil.Sub(now), nil
	}

	if rec == nil || now.Sub(rec.WindowStartedAt) >= l.window || !rec.LockedUntil.IsZero() {
		// First attempt, an elapsed window, or an expired lock: start over.
		rec = &Attempt{Count: 1, WindowStartedAt: now}
	} else {
		rec.Count++
	}

	if rec.Count > l.maxAttempts {
		rec.LockedUntil = now.Add(l.lockout)
		if err := l.store.Put(key, rec); err != nil {
			return false, 0, err
		}
		return true, l.lockout, nil
	}

	if err := l.store.Put(key, rec); err != nil {
		return false, 0, err
	}
	return false, 0, nil
}

// MemoryStore is the in-process AttemptStore.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]*Attempt
}

var _ AttemptStore = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]*Attempt)}
}

func (s *MemoryStore) Get(key string) (*Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.data[key]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (s *MemoryStore) Put(key string, a *Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	s.data[key] = &cp
	return nil
}

func (s *MemoryStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

// Sweep drops records whose window and lock have both elapsed. Call
// periodically from a background goroutine.
func (s *MemoryStore) Sweep(now time.Time, window time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, rec := range s.data {
		if now.Sub(rec.WindowStartedAt) >= window && !now.Before(rec.LockedUntil) {
			delete(s.data, key)
		}
	}
}
