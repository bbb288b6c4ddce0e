package access

import (
	"context"
	"time"
)

// Store bundles the persistent collaborators behind the guard. Recovery
// tokens live in their own TokenStore so a volatile backend (Redis) can be
// swapped in without touching the durable stores.
type Store interface {
	Principals(ctx context.Context) PrincipalStore
	Attempts(ctx context.Context) AttemptStore
	Sessions(ctx context.Context) SessionStore
}

// PrincipalStore resolves account identity and credential material.
type PrincipalStore interface {
	Create(ctx context.Context, p *Principal) error
	Find(ctx context.Context, id string) (*Principal, error)
	FindByUsername(ctx context.Context, username string) (*Principal, error)
	Update(ctx context.Context, p *Principal) error
}

// AttemptStore appends immutable attempt records and answers the lockout
// window query.
type AttemptStore interface {
	Record(ctx context.Context, a *AccessAttempt) error

	// CountFailures counts failure attempts of the given kind for the
	// principal with OccurredAt >= since.
	CountFailures(ctx context.Context, principalID string, kind AttemptKind, since time.Time) (int, error)
}

// SessionStore holds session records.
type SessionStore interface {
	Create(ctx context.Context, s *Session) error
	Find(ctx context.Context, id string) (*Session, error)
	Update(ctx context.Context, s *Session) error

	// ListActive returns the principal's non-revoked sessions.
	ListActive(ctx context.Context, principalID string) ([]*Session, error)

	// DeleteDeadBefore removes revoked or idle-since-before-cutoff rows
	// and returns how many were deleted.
	DeleteDeadBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// TokenStore issues and atomically redeems recovery tokens. Redeem must
// perform the unused-and-unexpired check and the used mark as one atomic
// operation; a second redemption of the same value must fail.
type TokenStore interface {
	Issue(ctx context.Context, t *RecoveryToken) error
	Redeem(ctx context.Context, value string, now time.Time) (*RecoveryToken, error)
}
