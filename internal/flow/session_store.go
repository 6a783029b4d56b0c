package flow

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/soyeahso/flowbot/internal/domain"
)

// SessionStore persists sessions.
type SessionStore interface {
	// Get returns a copy of the session, or domain.ErrSessionNotFound.
	Get(ctx context.Context, id string) (*domain.Session, error)

	// Save atomically replaces the stored session with s.
	Save(ctx context.Context, s *domain.Session) error

	// List returns one page of sessions, most recently active first.
	// Pages start at 1.
	List(ctx context.Context, page, limit int) (domain.SessionPage, error)
}

// MemorySessionStore is an in-memory SessionStore implementation.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*domain.Session
}

// NewMemorySessionStore creates an in-memory session store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]*domain.Session)}
}

func (s *MemorySessionStore) Get(_ context.Context, id string) (*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return sess.Clone(), nil
}

func (s *MemorySessionStore) Save(_ context.Context, sess *domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.SessionID] = sess.Clone()
	return nil
}

func (s *MemorySessionStore) List(_ context.Context, page, limit int) (domain.SessionPage, error) {
	page, limit = NormalizePage(page, limit)

	s.mu.RLock()
	all := make([]*domain.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		all = append(all, sess)
	}
	s.mu.RUnlock()

	slices.SortFunc(all, func(a, b *domain.Session) int {
		if c := b.LastActivity.Compare(a.LastActivity); c != 0 {
			return c
		}
		return cmp.Compare(a.SessionID, b.SessionID)
	})

	start := min((page-1)*limit, len(all))
	end := min(start+limit, len(all))
	out := make([]*domain.Session, 0, end-start)
	for _, sess := range all[start:end] {
		out = append(out, sess.Clone())
	}
	return domain.NewSessionPage(out, page, limit, len(all)), nil
}

// DefaultPageLimit is used when a caller asks for a non-positive page size.
const DefaultPageLimit = 10

// MaxPageLimit caps page sizes.
const MaxPageLimit = 100

// NormalizePage clamps pagination arguments to sane values.
func NormalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = DefaultPageLimit
	}
	return page, min(limit, MaxPageLimit)
}
