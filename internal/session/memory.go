package session

import (
	"context"
	"sync"
	"time"

	"github.com/punchamoorthee/ussdops/internal/domain"
)

type memoryEntry struct {
	session *domain.Session
	expires time.Time
}

// MemoryStore is a process-local Store. Expired entries are invisible to Get
// immediately and are reclaimed by a background sweep.
type MemoryStore struct {
	mu    sync.Mutex
	items map[string]memoryEntry
	ttl   time.Duration
	now   func() time.Time

	stop chan struct{}
	once sync.Once
}

// NewMemoryStore creates a store whose entries live for ttl after their last
// write. sweep controls how often expired entries are reclaimed.
func NewMemoryStore(ttl, sweep time.Duration) *MemoryStore {
	s := &MemoryStore{
		items: make(map[string]memoryEntry),
		ttl:   ttl,
		now:   time.Now,
		stop:  make(chan struct{}),
	}
	if sweep > 0 {
		go s.sweepLoop(sweep)
	}
	return s
}

func (s *MemoryStore) Create(ctx context.Context, sess *domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if e, ok := s.items[sess.ID]; ok && now.Before(e.expires) {
		return ErrExists
	}
	sess.Version = 1
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}
	sess.UpdatedAt = now
	s.items[sess.ID] = memoryEntry{session: sess.Clone(), expires: now.Add(s.ttl)}
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	if !s.now().Before(e.expires) {
		delete(s.items, id)
		sessionsEvicted.Inc()
		return nil, ErrNotFound
	}
	return e.session.Clone(), nil
}

func (s *MemoryStore) Update(ctx context.Context, sess *domain.Session, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	e, ok := s.items[sess.ID]
	if !ok || !now.Before(e.expires) {
		return ErrNotFound
	}
	if e.session.Version != sess.Version {
		sessionConflicts.Inc()
		return ErrConflict
	}
	if ttl <= 0 {
		ttl = s.ttl
	}

	sess.Version++
	sess.UpdatedAt = now
	s.items[sess.ID] = memoryEntry{session: sess.Clone(), expires: now.Add(ttl)}
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.items, id)
	return nil
}

// Len returns the number of entries, including expired ones not yet swept.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

func (s *MemoryStore) Close() error {
	s.once.Do(func() { close(s.stop) })
	return nil
}

func (s *MemoryStore) sweepLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *MemoryStore) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for id, e := range s.items {
		if !now.Before(e.expires) {
			delete(s.items, id)
			sessionsEvicted.Inc()
		}
	}
}
