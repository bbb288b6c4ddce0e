package access

import (
	"context"
	"sync"
	"time"
)

var (
	_ Store      = (*MemoryStore)(nil)
	_ TokenStore = (*MemoryStore)(nil)
)

// MemoryStore is an in-process Store and TokenStore for tests and
// single-node tooling. All operations, token redemption included, run
// under one mutex, which gives them the same atomicity the SQL and Redis
// backends provide.
type MemoryStore struct {
	mu         sync.Mutex
	principals map[string]*Principal
	byUsername map[string]string
	attempts   []*AccessAttempt
	sessions   map[string]*Session
	tokens     map[string]*RecoveryToken
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		principals: make(map[string]*Principal),
		byUsername: make(map[string]string),
		sessions:   make(map[string]*Session),
		tokens:     make(map[string]*RecoveryToken),
	}
}

func (s *MemoryStore) Principals(context.Context) PrincipalStore { return (*memPrincipals)(s) }
func (s *MemoryStore) Attempts(context.Context) AttemptStore     { return (*memAttempts)(s) }
func (s *MemoryStore) Sessions(context.Context) SessionStore     { return (*memSessions)(s) }

// Issue stores the token.
func (s *MemoryStore) Issue(_ context.Context, t *RecoveryToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.Value == "" {
		return ErrInvalidInput
	}
	cp := *t
	s.tokens[t.Value] = &cp
	return nil
}

// Redeem checks and consumes the token in one critical section.
func (s *MemoryStore) Redeem(_ context.Context, value string, now time.Time) (*RecoveryToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[value]
	if !ok || t.Used || !now.Before(t.ExpiresAt) {
		return nil, ErrInvalidOrExpiredToken
	}
	t.Used = true
	t.UsedAt = now
	cp := *t
	return &cp, nil
}

// Principals ---------------------------------------------------------------

type memPrincipals MemoryStore

func (s *memPrincipals) Create(_ context.Context, p *Principal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == "" || p.Username == "" {
		return ErrInvalidInput
	}
	if _, ok := s.byUsername[p.Username]; ok {
		return ErrInvalidInput
	}
	cp := clonePrincipal(p)
	s.principals[p.ID] = cp
	s.byUsername[p.Username] = p.ID
	return nil
}

func (s *memPrincipals) Find(_ context.Context, id string) (*Principal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.principals[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clonePrincipal(p), nil
}

func (s *memPrincipals) FindByUsername(_ context.Context, username string) (*Principal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byUsername[username]
	if !ok {
		return nil, ErrNotFound
	}
	return clonePrincipal(s.principals[id]), nil
}

func (s *memPrincipals) Update(_ context.Context, p *Principal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.principals[p.ID]; !ok {
		return ErrNotFound
	}
	s.principals[p.ID] = clonePrincipal(p)
	return nil
}

func clonePrincipal(p *Principal) *Principal {
	cp := *p
	cp.History = append(cp.History[:0:0], p.History...)
	return &cp
}

// Attempts -----------------------------------------------------------------

type memAttempts MemoryStore

func (s *memAttempts) Record(_ context.Context, a *AccessAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	s.attempts = append(s.attempts, &cp)
	return nil
}

func (s *memAttempts) CountFailures(_ context.Context, principalID string, kind AttemptKind, since time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, a := range s.attempts {
		if a.PrincipalID == principalID && a.Kind == kind &&
			a.Outcome == OutcomeFailure && !a.OccurredAt.Before(since) {
			n++
		}
	}
	return n, nil
}

// Attempts returns a snapshot for test assertions.
func (s *MemoryStore) AttemptLog() []*AccessAttempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*AccessAttempt, len(s.attempts))
	copy(out, s.attempts)
	return out
}

// Sessions -----------------------------------------------------------------

type memSessions MemoryStore

func (s *memSessions) Create(_ context.Context, sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess.ID == "" {
		return ErrInvalidInput
	}
	cp := *sess
	s.sessions[sess.ID] = &cp
	return nil
}

func (s *memSessions) Find(_ context.Context, id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *sess
	return &cp, nil
}

func (s *memSessions) Update(_ context.Context, sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sess.ID]; !ok {
		return ErrNotFound
	}
	cp := *sess
	s.sessions[sess.ID] = &cp
	return nil
}

func (s *memSessions) ListActive(_ context.Context, principalID string) ([]*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Session
	for _, sess := range s.sessions {
		if sess.PrincipalID == principalID && sess.RevokedAt.IsZero() {
			cp := *sess
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memSessions) DeleteDeadBefore(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, sess := range s.sessions {
		dead := !sess.RevokedAt.IsZero() && sess.RevokedAt.Before(cutoff) ||
			sess.RevokedAt.IsZero() && sess.LastActivityAt.Before(cutoff)
		if dead {
			delete(s.sessions, id)
			n++
		}
	}
	return n, nil
}
