package rbac

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore implements Store in process memory. Intended for tests and
// single-node tooling; the uniqueness rule is enforced under one mutex,
// mirroring the unique partial index the Postgres store relies on.
type MemoryStore struct {
	mu          sync.Mutex
	roles       map[string]*Role
	assignments map[string]*Assignment
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		roles:       make(map[string]*Role),
		assignments: make(map[string]*Assignment),
	}
}

func (s *MemoryStore) Roles(context.Context) RoleStore             { return (*memoryRoleStore)(s) }
func (s *MemoryStore) Assignments(context.Context) AssignmentStore { return (*memoryAssignmentStore)(s) }

type memoryRoleStore MemoryStore

func (s *memoryRoleStore) Create(_ context.Context, role *Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[role.Code]; ok {
		return fmt.Errorf("%w: role %s", ErrInvalidInput, role.Code)
	}
	cp := *role
	s.roles[role.Code] = &cp
	return nil
}

func (s *memoryRoleStore) Find(_ context.Context, code string) (*Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	role, ok := s.roles[code]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *role
	return &cp, nil
}

func (s *memoryRoleStore) List(_ context.Context) ([]*Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Role, 0, len(s.roles))
	for _, role := range s.roles {
		cp := *role
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (s *memoryRoleStore) Update(_ context.Context, role *Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[role.Code]; !ok {
		return ErrNotFound
	}
	cp := *role
	s.roles[role.Code] = &cp
	return nil
}

func (s *memoryRoleStore) Delete(_ context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[code]; !ok {
		return ErrNotFound
	}
	delete(s.roles, code)
	return nil
}

func (s *memoryRoleStore) Ensure(_ context.Context, roles []Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, role := range roles {
		if _, ok := s.roles[role.Code]; ok {
			continue
		}
		cp := role
		s.roles[role.Code] = &cp
	}
	return nil
}

type memoryAssignmentStore MemoryStore

func (s *memoryAssignmentStore) Create(_ context.Context, a *Assignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.assignments {
		if existing.PrincipalID == a.PrincipalID && existing.RoleCode == a.RoleCode && !existing.State.Terminal() {
			return ErrDuplicateAssignment
		}
	}
	cp := *a
	s.assignments[a.ID] = &cp
	return nil
}

func (s *memoryAssignmentStore) Find(_ context.Context, id string) (*Assignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.assignments[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *memoryAssignmentStore) ListByPrincipal(_ context.Context, principalID string) ([]*Assignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Assignment
	for _, a := range s.assignments {
		if a.PrincipalID == principalID {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memoryAssignmentStore) ListByRole(_ context.Context, roleCode string) ([]*Assignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Assignment
	for _, a := range s.assignments {
		if a.RoleCode == roleCode {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memoryAssignmentStore) Update(_ context.Context, a *Assignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.assignments[a.ID]; !ok {
		return ErrNotFound
	}
	cp := *a
	s.assignments[a.ID] = &cp
	return nil
}

func (s *memoryAssignmentStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.assignments[id]; !ok {
		return ErrNotFound
	}
	delete(s.assignments, id)
	return nil
}

func (s *memoryAssignmentStore) ExpireDue(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, a := range s.assignments {
		if a.State == StateActive && a.Expired(now) {
			a.State = StateExpired
			n++
		}
	}
	return n, nil
}

func (s *memoryAssignmentStore) CountNonTerminalByRole(_ context.Context, roleCode string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, a := range s.assignments {
		if a.RoleCode == roleCode && !a.State.Terminal() {
			n++
		}
	}
	return n, nil
}
