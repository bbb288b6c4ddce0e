package rbac

import (
	"context"
	"time"
)

// Store describes persistence operations required by the role subsystem.
type Store interface {
	Roles(ctx context.Context) RoleStore
	Assignments(ctx context.Context) AssignmentStore
}

// RoleStore manages durable role records. The Graph is the authority on
// hierarchy integrity; the store only persists what the Graph accepted.
type RoleStore interface {
	Create(ctx context.Context, role *Role) error
	Find(ctx context.Context, code string) (*Role, error)
	List(ctx context.Context) ([]*Role, error)
	Update(ctx context.Context, role *Role) error
	Delete(ctx context.Context, code string) error
	Ensure(ctx context.Context, roles []Role) error
}

// AssignmentStore manages assignment records. Create must enforce the
// at-most-one active-or-pending rule per (principal, role) atomically,
// returning ErrDuplicateAssignment on conflict.
type AssignmentStore interface {
	Create(ctx context.Context, a *Assignment) error
	Find(ctx context.Context, id string) (*Assignment, error)
	ListByPrincipal(ctx context.Context, principalID string) ([]*Assignment, error)
	ListByRole(ctx context.Context, roleCode string) ([]*Assignment, error)
	Update(ctx context.Context, a *Assignment) error
	Delete(ctx context.Context, id string) error

	// ExpireDue atomically transitions every active assignment whose
	// expiry is at or before now into expired and returns how many rows
	// changed. Re-running over already-expired rows is a no-op.
	ExpireDue(ctx context.Context, now time.Time) (int, error)

	// CountNonTerminalByRole counts assignments still active or pending
	// for the role.
	CountNonTerminalByRole(ctx context.Context, roleCode string) (int, error)
}
