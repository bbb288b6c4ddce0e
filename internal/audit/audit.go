package audit

import (
	"context"
	"time"
)

// Security-relevant actions recorded in the trail. The vocabulary covers
// every state transition the engine performs; storage of the trail itself
// is behind the Recorder interface.
const (
	ActionLogin              = "LOGIN"
	ActionLoginFailed        = "LOGIN_FAILED"
	ActionLogout             = "LOGOUT"
	ActionSessionExpired     = "SESSION_EXPIRED"
	ActionSessionRevoked     = "SESSION_REVOKED"
	ActionAccountLocked      = "ACCOUNT_LOCKED"
	ActionAccountUnlocked    = "ACCOUNT_UNLOCKED"
	ActionPasswordChanged    = "PASSWORD_CHANGED"
	ActionPasswordReset      = "PASSWORD_RESET"
	ActionAccessDenied       = "ACCESS_DENIED"
	ActionTokenIssued        = "TOKEN_ISSUED"
	ActionTokenRedeemed      = "TOKEN_REDEEMED"
	ActionTokenRejected      = "TOKEN_REJECTED"
	ActionRoleCreated        = "ROLE_CREATED"
	ActionRoleUpdated        = "ROLE_UPDATED"
	ActionRoleDeleted        = "ROLE_DELETED"
	ActionRoleAssigned       = "ROLE_ASSIGNED"
	ActionAssignmentApproved = "ASSIGNMENT_APPROVED"
	ActionAssignmentRejected = "ASSIGNMENT_REJECTED"
	ActionAssignmentRevoked  = "ASSIGNMENT_REVOKED"
	ActionAssignmentExpired  = "ASSIGNMENT_EXPIRED"
)

// Event is one structured entry in the security trail.
type Event struct {
	ID         string
	OccurredAt time.Time
	Actor      string
	Action     string
	Target     string
	Detail     map[string]any
}

// Recorder accepts events for durable storage. Implementations must treat
// events as append-only; the engine never rewrites history.
type Recorder interface {
	Record(ctx context.Context, event Event) error
}

// RecorderFunc adapts a function to the Recorder interface.
type RecorderFunc func(ctx context.Context, event Event) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// Discard is a Recorder that drops every event. Useful as a default in
// tests that do not assert on the trail.
var Discard = RecorderFunc(func(context.Context, Event) error { return nil })
