// Package access gates credential-bearing operations. It decides whether a
// login or password change may proceed, records every attempt, manages
// sessions and recovery tokens, and emits an audit event on each transition.
//
// Lockout is derived state: a principal is locked out while the trailing
// window holds at least the policy's threshold of failed login attempts.
// It self-expires as the window slides; no unlock step is required. An
// administrative lock is a stored account status and is separate.
package access

import (
	"time"

	"agrocoop.org/internal/credential"
)

// AccountStatus is the stored lifecycle state of a principal.
type AccountStatus string

const (
	StatusActive   AccountStatus = "active"
	StatusInactive AccountStatus = "inactive"
	StatusLocked   AccountStatus = "locked"
)

// Principal is an account identity with its credential material.
type Principal struct {
	ID       string
	Username string
	Email    string
	Status   AccountStatus

	SecretHash      string
	SecretChangedAt time.Time

	// History holds previous hashes, newest first, for reuse rejection.
	History []credential.HistoryEntry

	// PolicyID binds the principal to a credential policy; empty means
	// the default policy applies.
	PolicyID string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// AttemptKind classifies what the credential was presented for.
type AttemptKind string

const (
	AttemptLogin          AttemptKind = "login"
	AttemptPasswordChange AttemptKind = "password_change"
	AttemptPasswordReset  AttemptKind = "password_reset"

	// AttemptLockout marks the moment the failure window reached the
	// policy threshold. Lockout itself stays derived from login
	// failures; these records never feed the window count.
	AttemptLockout AttemptKind = "account_lockout"
)

// AttemptOutcome is the result of a single attempt.
type AttemptOutcome string

const (
	OutcomeSuccess AttemptOutcome = "success"
	OutcomeFailure AttemptOutcome = "failure"
)

// AccessAttempt is one immutable record of a credential-bearing operation.
// PrincipalID is empty when the presented username did not resolve.
type AccessAttempt struct {
	ID          string
	PrincipalID string
	Kind        AttemptKind
	Outcome     AttemptOutcome
	Origin      string
	Detail      map[string]string
	OccurredAt  time.Time
}

// Session is a stored authenticated session. Expiry is evaluated lazily on
// each activity check against the policy's inactivity window.
type Session struct {
	ID             string
	PrincipalID    string
	CreatedAt      time.Time
	LastActivityAt time.Time
	RevokedAt      time.Time
	RevokeCause    string
}

// Revoked reports whether the session has been terminated.
func (s *Session) Revoked() bool { return !s.RevokedAt.IsZero() }

// IdleExpired reports whether the session's inactivity window has elapsed.
func (s *Session) IdleExpired(policy credential.Policy, now time.Time) bool {
	if policy.SessionTimeout <= 0 {
		return false
	}
	return now.Sub(s.LastActivityAt) > policy.SessionTimeout
}

// TokenPurpose scopes what a recovery token may be redeemed for.
type TokenPurpose string

const (
	PurposePasswordReset     TokenPurpose = "password_reset"
	PurposeEmailVerification TokenPurpose = "email_verification"
	PurposeActivation        TokenPurpose = "account_activation"
)

// RecoveryToken is a single-use, time-bounded token bound to a principal.
// Redemption is atomic: concurrent redeems of the same value yield exactly
// one success.
type RecoveryToken struct {
	Value       string
	PrincipalID string
	Purpose     TokenPurpose
	IssuedAt    time.Time
	ExpiresAt   time.Time
	Used        bool
	UsedAt      time.Time
}
