package rbac

import "time"

// Role is a named bundle of permissions positioned in the hierarchy.
// Code is the immutable machine-readable identity; Level is derived from
// the parent graph and never set by callers (lower number = higher
// authority).
type Role struct {
	Code             string
	Name             string
	Description      string
	Level            int
	SystemManaged    bool
	RequiresApproval bool
	Permissions      []string
	Parents          []string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// AssignmentState is the lifecycle state of a role assignment.
type AssignmentState string

const (
	StatePendingApproval AssignmentState = "pending_approval"
	StateActive          AssignmentState = "active"
	StateInactive        AssignmentState = "inactive"
	StateExpired         AssignmentState = "expired"
)

// Terminal reports whether no further transition is possible from the state.
func (s AssignmentState) Terminal() bool {
	return s == StateInactive || s == StateExpired
}

// Assignment binds one principal to one role. At most one assignment in
// state active or pending_approval may exist per (principal, role) pair.
type Assignment struct {
	ID          string
	PrincipalID string
	RoleCode    string
	State       AssignmentState
	Temporary   bool
	ExpiresAt   time.Time
	AssignedBy  string
	ApprovedBy  string
	Reason      string
	CreatedAt   time.Time

	// Stamped on revocation.
	DeactivatedAt     time.Time
	DeactivationCause string
}

// Expired reports whether the assignment's expiry has passed at now. An
// assignment without an expiry never expires.
func (a Assignment) Expired(now time.Time) bool {
	return !a.ExpiresAt.IsZero() && !now.Before(a.ExpiresAt)
}
