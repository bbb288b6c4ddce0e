package rbac

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"agrocoop.org/internal/audit"
	"agrocoop.org/internal/ids"
	"agrocoop.org/internal/obs"
)

// Manager orchestrates role-assignment lifecycles. The Graph answers
// authorization questions; the store holds durable state; every state
// transition is emitted to the audit recorder.
type Manager struct {
	store    Store
	graph    *Graph
	recorder audit.Recorder
	now      func() time.Time
}

// ManagerOption configures Manager behavior.
type ManagerOption func(*Manager)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ManagerOption {
	return func(m *Manager) {
		if fn != nil {
			m.now = fn
		}
	}
}

// WithRecorder sets the audit recorder. Defaults to audit.Discard.
func WithRecorder(r audit.Recorder) ManagerOption {
	return func(m *Manager) {
		if r != nil {
			m.recorder = r
		}
	}
}

// NewManager constructs a Manager over the given store and graph.
func NewManager(store Store, graph *Graph, opts ...ManagerOption) (*Manager, error) {
	if store == nil {
		return nil, errors.New("rbac: store is required")
	}
	if graph == nil {
		return nil, errors.New("rbac: graph is required")
	}
	m := &Manager{
		store:    store,
		graph:    graph,
		recorder: audit.Discard,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Graph exposes the hierarchy for read-side permission checks.
func (m *Manager) Graph() *Graph { return m.graph }

// EnsureBuiltins installs the system-managed roles and loads the full role
// set into the graph.
func (m *Manager) EnsureBuiltins(ctx context.Context) error {
	if err := m.store.Roles(ctx).Ensure(ctx, BuiltinRoles); err != nil {
		return err
	}
	return m.ReloadGraph(ctx)
}

// ReloadGraph rebuilds the in-memory hierarchy from the store.
func (m *Manager) ReloadGraph(ctx context.Context) error {
	stored, err := m.store.Roles(ctx).List(ctx)
	if err != nil {
		return err
	}
	roles := make([]Role, 0, len(stored))
	for _, r := range stored {
		roles = append(roles, *r)
	}
	return m.graph.Load(roles)
}

// CreateRole persists a new role and inserts it into the graph. Parent
// edges run through the graph's cycle check before anything is stored.
func (m *Manager) CreateRole(ctx context.Context, role Role, actor string) (Role, error) {
	role.Code = strings.TrimSpace(role.Code)
	if role.Code == "" {
		return Role{}, fmt.Errorf("%w: role code is required", ErrInvalidInput)
	}
	if role.Name == "" {
		role.Name = role.Code
	}
	if err := m.graph.AddRole(role); err != nil {
		return Role{}, err
	}
	created, err := m.graph.Role(role.Code)
	if err != nil {
		return Role{}, err
	}
	now := m.now().UTC()
	created.CreatedAt = now
	created.UpdatedAt = now
	if err := m.store.Roles(ctx).Create(ctx, &created); err != nil {
		_ = m.graph.RemoveRole(role.Code)
		return Role{}, err
	}
	m.record(ctx, actor, audit.ActionRoleCreated, role.Code, map[string]any{
		"level":   created.Level,
		"parents": created.Parents,
	})
	return created, nil
}

// SetRoleParent adds an inheritance edge. Fails with ErrImmutableRole for
// system-managed children, with ErrCycleDetected if the edge would loop.
func (m *Manager) SetRoleParent(ctx context.Context, roleCode, parentCode, actor string) error {
	role, err := m.graph.Role(roleCode)
	if err != nil {
		return err
	}
	if role.SystemManaged {
		return fmt.Errorf("%w: %s", ErrImmutableRole, roleCode)
	}
	if err := m.graph.AddEdge(roleCode, parentCode); err != nil {
		return err
	}
	if err := m.persistRole(ctx, roleCode); err != nil {
		return err
	}
	m.record(ctx, actor, audit.ActionRoleUpdated, roleCode, map[string]any{
		"parent_added": parentCode,
	})
	return nil
}

// SetRolePermissions replaces a role's directly-granted permissions.
func (m *Manager) SetRolePermissions(ctx context.Context, roleCode string, perms []string, actor string) error {
	role, err := m.graph.Role(roleCode)
	if err != nil {
		return err
	}
	if role.SystemManaged {
		return fmt.Errorf("%w: %s", ErrImmutableRole, roleCode)
	}
	if err := m.graph.SetPermissions(roleCode, perms); err != nil {
		return err
	}
	if err := m.persistRole(ctx, roleCode); err != nil {
		return err
	}
	m.record(ctx, actor, audit.ActionRoleUpdated, roleCode, map[string]any{
		"permissions": perms,
	})
	return nil
}

// DeleteRole removes a role. System-managed roles are never deletable;
// other roles only once every bound assignment reached a terminal state.
func (m *Manager) DeleteRole(ctx context.Context, roleCode, actor string) error {
	role, err := m.graph.Role(roleCode)
	if err != nil {
		return err
	}
	if role.SystemManaged {
		return fmt.Errorf("%w: %s", ErrImmutableRole, roleCode)
	}
	open, err := m.store.Assignments(ctx).CountNonTerminalByRole(ctx, roleCode)
	if err != nil {
		return err
	}
	if open > 0 {
		return fmt.Errorf("%w: %s has %d open assignments", ErrRoleHasAssignments, roleCode, open)
	}
	if err := m.store.Roles(ctx).Delete(ctx, roleCode); err != nil {
		return err
	}
	if err := m.graph.RemoveRole(roleCode); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	m.record(ctx, actor, audit.ActionRoleDeleted, roleCode, nil)
	return nil
}

// AssignInput carries everything needed to bind a principal to a role.
type AssignInput struct {
	PrincipalID   string
	RoleCode      string
	AssignerID    string
	AssignerRoles []string
	Reason        string
	Temporary     bool
	ExpiresAt     time.Time
}

// Assign creates an assignment. The assigner must be authorized by the
// hierarchy (CanAssign); system-managed roles additionally require the
// blanket override permission. The store enforces the one-open-assignment
// rule atomically. The new assignment starts pending when the role
// requires approval, active otherwise.
func (m *Manager) Assign(ctx context.Context, input AssignInput) (*Assignment, error) {
	input.PrincipalID = strings.TrimSpace(input.PrincipalID)
	input.RoleCode = strings.TrimSpace(input.RoleCode)
	if input.PrincipalID == "" || input.RoleCode == "" {
		return nil, fmt.Errorf("%w: principal and role are required", ErrInvalidInput)
	}
	role, err := m.graph.Role(input.RoleCode)
	if err != nil {
		return nil, err
	}

	allowed, err := m.graph.CanAssign(input.AssignerRoles, input.RoleCode)
	if err != nil {
		return nil, err
	}
	if !allowed {
		m.record(ctx, input.AssignerID, audit.ActionAccessDenied, input.RoleCode, map[string]any{
			"operation": "assign",
			"principal": input.PrincipalID,
		})
		return nil, fmt.Errorf("%w: cannot assign %s", ErrPermissionDenied, input.RoleCode)
	}
	if role.SystemManaged {
		elevated, err := m.graph.HasPermission(input.AssignerRoles, PermRoleAssignAny)
		if err != nil {
			return nil, err
		}
		if !elevated {
			return nil, fmt.Errorf("%w: assigning %s requires elevated rights", ErrImmutableRole, input.RoleCode)
		}
	}
	if !input.ExpiresAt.IsZero() && !input.ExpiresAt.After(m.now()) {
		return nil, fmt.Errorf("%w: expiry must be in the future", ErrInvalidInput)
	}

	state := StateActive
	if role.RequiresApproval {
		state = StatePendingApproval
	}
	assignment := &Assignment{
		ID:          ids.New(),
		PrincipalID: input.PrincipalID,
		RoleCode:    input.RoleCode,
		State:       state,
		Temporary:   input.Temporary,
		ExpiresAt:   input.ExpiresAt,
		AssignedBy:  input.AssignerID,
		Reason:      input.Reason,
		CreatedAt:   m.now().UTC(),
	}
	if err := m.store.Assignments(ctx).Create(ctx, assignment); err != nil {
		return nil, err
	}
	obs.CountAssignmentTransition(string(state))
	m.record(ctx, input.AssignerID, audit.ActionRoleAssigned, input.PrincipalID, map[string]any{
		"role":      input.RoleCode,
		"state":     string(state),
		"temporary": input.Temporary,
		"reason":    input.Reason,
	})
	return assignment, nil
}

// Approve transitions a pending assignment to active. The approver must
// hold the approval capability.
func (m *Manager) Approve(ctx context.Context, assignmentID, approverID string, approverRoles []string) (*Assignment, error) {
	assignment, err := m.store.Assignments(ctx).Find(ctx, assignmentID)
	if err != nil {
		return nil, err
	}
	if assignment.State != StatePendingApproval {
		return nil, fmt.Errorf("%w: assignment %s is %s", ErrNotPending, assignmentID, assignment.State)
	}
	allowed, err := m.graph.HasPermission(approverRoles, PermRoleApprove)
	if err != nil {
		return nil, err
	}
	if !allowed {
		m.record(ctx, approverID, audit.ActionAccessDenied, assignment.PrincipalID, map[string]any{
			"operation":  "approve",
			"assignment": assignmentID,
		})
		return nil, fmt.Errorf("%w: approval capability required", ErrPermissionDenied)
	}
	assignment.State = StateActive
	assignment.ApprovedBy = approverID
	if err := m.store.Assignments(ctx).Update(ctx, assignment); err != nil {
		return nil, err
	}
	obs.CountAssignmentTransition(string(StateActive))
	m.record(ctx, approverID, audit.ActionAssignmentApproved, assignment.PrincipalID, map[string]any{
		"role":       assignment.RoleCode,
		"assignment": assignment.ID,
	})
	return assignment, nil
}

// Reject removes a pending assignment without ever activating it.
func (m *Manager) Reject(ctx context.Context, assignmentID, approverID string, approverRoles []string, reason string) error {
	assignment, err := m.store.Assignments(ctx).Find(ctx, assignmentID)
	if err != nil {
		return err
	}
	if assignment.State != StatePendingApproval {
		return fmt.Errorf("%w: assignment %s is %s", ErrNotPending, assignmentID, assignment.State)
	}
	allowed, err := m.graph.HasPermission(approverRoles, PermRoleApprove)
	if err != nil {
		return err
	}
	if !allowed {
		return fmt.Errorf("%w: approval capability required", ErrPermissionDenied)
	}
	if err := m.store.Assignments(ctx).Delete(ctx, assignmentID); err != nil {
		return err
	}
	m.record(ctx, approverID, audit.ActionAssignmentRejected, assignment.PrincipalID, map[string]any{
		"role":       assignment.RoleCode,
		"assignment": assignment.ID,
		"reason":     reason,
	})
	return nil
}

// Revoke deactivates an active assignment, stamping the time and reason.
func (m *Manager) Revoke(ctx context.Context, assignmentID, revokerID, reason string) (*Assignment, error) {
	assignment, err := m.store.Assignments(ctx).Find(ctx, assignmentID)
	if err != nil {
		return nil, err
	}
	if assignment.State != StateActive {
		return nil, fmt.Errorf("%w: assignment %s is %s", ErrNotActive, assignmentID, assignment.State)
	}
	assignment.State = StateInactive
	assignment.DeactivatedAt = m.now().UTC()
	assignment.DeactivationCause = reason
	if err := m.store.Assignments(ctx).Update(ctx, assignment); err != nil {
		return nil, err
	}
	obs.CountAssignmentTransition(string(StateInactive))
	m.record(ctx, revokerID, audit.ActionAssignmentRevoked, assignment.PrincipalID, map[string]any{
		"role":       assignment.RoleCode,
		"assignment": assignment.ID,
		"reason":     reason,
	})
	return assignment, nil
}

// SweepExpired transitions every active assignment past its expiry into
// expired. Invoked periodically by an external scheduler; idempotent.
func (m *Manager) SweepExpired(ctx context.Context) (int, error) {
	n, err := m.store.Assignments(ctx).ExpireDue(ctx, m.now().UTC())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		obs.CountSweptExpired(n)
		m.record(ctx, "system", audit.ActionAssignmentExpired, "", map[string]any{
			"expired": n,
		})
	}
	return n, nil
}

// ActiveRoles returns the codes of the principal's currently active
// assignments, treating stale expiries as already expired.
func (m *Manager) ActiveRoles(ctx context.Context, principalID string) ([]string, error) {
	assignments, err := m.store.Assignments(ctx).ListByPrincipal(ctx, principalID)
	if err != nil {
		return nil, err
	}
	now := m.now()
	var codes []string
	for _, a := range assignments {
		if a.State == StateActive && !a.Expired(now) {
			codes = append(codes, a.RoleCode)
		}
	}
	return codes, nil
}

// RoleMembers returns the principals currently holding the role: the
// active, unexpired assignments, for administrative listings and
// pre-deletion review.
func (m *Manager) RoleMembers(ctx context.Context, roleCode string) ([]*Assignment, error) {
	if _, err := m.graph.Role(roleCode); err != nil {
		return nil, err
	}
	assignments, err := m.store.Assignments(ctx).ListByRole(ctx, roleCode)
	if err != nil {
		return nil, err
	}
	now := m.now()
	var members []*Assignment
	for _, a := range assignments {
		if a.State == StateActive && !a.Expired(now) {
			members = append(members, a)
		}
	}
	return members, nil
}

// EffectivePermissions resolves the union of permissions over the
// principal's active roles.
func (m *Manager) EffectivePermissions(ctx context.Context, principalID string) ([]string, error) {
	codes, err := m.ActiveRoles(ctx, principalID)
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{})
	for _, code := range codes {
		perms, err := m.graph.EffectivePermissions(code)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		for _, p := range perms {
			set[p] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	return out, nil
}

func (m *Manager) persistRole(ctx context.Context, code string) error {
	role, err := m.graph.Role(code)
	if err != nil {
		return err
	}
	role.UpdatedAt = m.now().UTC()
	return m.store.Roles(ctx).Update(ctx, &role)
}

func (m *Manager) record(ctx context.Context, actor, action, target string, detail map[string]any) {
	event := audit.Event{
		OccurredAt: m.now().UTC(),
		Actor:      actor,
		Action:     action,
		Target:     target,
		Detail:     detail,
	}
	if err := m.recorder.Record(ctx, event); err != nil {
		obs.LogEvent(map[string]any{
			"level":  "error",
			"msg":    "audit record failed",
			"action": action,
			"error":  err.Error(),
		})
	}
}
