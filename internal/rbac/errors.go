package rbac

import "errors"

var (
	ErrNotFound            = errors.New("rbac: not found")
	ErrInvalidInput        = errors.New("rbac: invalid input")
	ErrCycleDetected       = errors.New("rbac: role hierarchy cycle detected")
	ErrCorruptHierarchy    = errors.New("rbac: role hierarchy is corrupt")
	ErrPermissionDenied    = errors.New("rbac: permission denied")
	ErrDuplicateAssignment = errors.New("rbac: duplicate active or pending assignment")
	ErrImmutableRole       = errors.New("rbac: role is system managed")
	ErrNotPending          = errors.New("rbac: assignment is not pending approval")
	ErrNotActive           = errors.New("rbac: assignment is not active")
	ErrRoleHasAssignments  = errors.New("rbac: role still has non-terminal assignments")
)
