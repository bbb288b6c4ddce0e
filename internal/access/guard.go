package access

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"agrocoop.org/internal/audit"
	"agrocoop.org/internal/credential"
	"agrocoop.org/internal/ids"
	"agrocoop.org/internal/obs"
)

// Guard gates credential-bearing operations against a principal store, an
// attempt ledger, a session registry and a recovery-token store. Failures
// visible to an unauthenticated caller are uniform: unknown user, wrong
// secret, disabled account and active lockout all surface
// ErrInvalidCredentials. The true reason goes to the audit trail and the
// attempt detail. ErrAccountLocked is returned only by the administrative
// CheckLockout path.
type Guard struct {
	store    Store
	tokens   TokenStore
	recorder audit.Recorder
	now      func() time.Time

	signingKey []byte

	// Per-origin burst limiter, ahead of the store-derived lockout.
	limiterMu sync.Mutex
	limiters  map[string]*rate.Limiter
	limit     rate.Limit
	burst     int
}

// GuardOption configures Guard behavior.
type GuardOption func(*Guard)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) GuardOption {
	return func(g *Guard) {
		if fn != nil {
			g.now = fn
		}
	}
}

// WithRecorder sets the audit recorder. Defaults to audit.Discard.
func WithRecorder(r audit.Recorder) GuardOption {
	return func(g *Guard) {
		if r != nil {
			g.recorder = r
		}
	}
}

// WithSigningKey sets the HMAC key for session access tokens. Without a
// key, Authenticate returns sessions but no signed token.
func WithSigningKey(key []byte) GuardOption {
	return func(g *Guard) { g.signingKey = key }
}

// WithLoginRate tunes the per-origin limiter. A zero limit disables it.
func WithLoginRate(limit rate.Limit, burst int) GuardOption {
	return func(g *Guard) {
		g.limit = limit
		g.burst = burst
	}
}

// NewGuard constructs a Guard over the given stores.
func NewGuard(store Store, tokens TokenStore, opts ...GuardOption) (*Guard, error) {
	if store == nil {
		return nil, errors.New("access: store is required")
	}
	if tokens == nil {
		return nil, errors.New("access: token store is required")
	}
	g := &Guard{
		store:    store,
		tokens:   tokens,
		recorder: audit.Discard,
		now:      time.Now,
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Every(time.Second),
		burst:    10,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// RecordAttempt appends one immutable attempt record. A store failure is
// returned to the caller, which must then deny the guarded operation
// rather than proceed unrecorded.
func (g *Guard) RecordAttempt(ctx context.Context, principalID string, kind AttemptKind, outcome AttemptOutcome, origin string, detail map[string]string) error {
	attempt := &AccessAttempt{
		ID:          ids.New(),
		PrincipalID: principalID,
		Kind:        kind,
		Outcome:     outcome,
		Origin:      origin,
		Detail:      detail,
		OccurredAt:  g.now().UTC(),
	}
	if err := g.store.Attempts(ctx).Record(ctx, attempt); err != nil {
		return fmt.Errorf("record attempt: %w", err)
	}
	return nil
}

// CheckLockout reports whether the principal is inside a lockout window:
// at least policy.MaxFailedAttempts failed logins within the trailing
// policy.LockoutDuration. The state is derived from the attempt ledger and
// self-expires as the window slides. Administrative callers receive
// ErrAccountLocked alongside true for error-shaped handling.
func (g *Guard) CheckLockout(ctx context.Context, principalID string, policy credential.Policy) (bool, error) {
	if policy.MaxFailedAttempts <= 0 || policy.LockoutDuration <= 0 {
		return false, nil
	}
	since := g.now().Add(-policy.LockoutDuration)
	n, err := g.store.Attempts(ctx).CountFailures(ctx, principalID, AttemptLogin, since)
	if err != nil {
		return false, fmt.Errorf("count failures: %w", err)
	}
	if n >= policy.MaxFailedAttempts {
		return true, ErrAccountLocked
	}
	return false, nil
}

// AuthInput carries one login request.
type AuthInput struct {
	Username string
	Secret   string

	// Origin identifies where the request arrived from (an address, a
	// device id). Used for throttling and kept on the attempt record.
	Origin string
}

// Login is the result of a successful authentication.
type Login struct {
	Principal *Principal
	Session   *Session

	// AccessToken is a signed session token, empty when the guard has no
	// signing key.
	AccessToken string

	// RotationDue is set when the secret has outlived the policy's
	// maximum age. The login still succeeds; the caller is expected to
	// force a password change before anything else.
	RotationDue bool
}

// Authenticate resolves the username, applies throttling and lockout,
// verifies the secret and opens a session. Every path records an attempt;
// an attempt ledger failure denies the login.
func (g *Guard) Authenticate(ctx context.Context, in AuthInput, policy credential.Policy) (*Login, error) {
	if in.Username == "" || in.Secret == "" {
		return nil, fmt.Errorf("%w: username and secret are required", ErrInvalidInput)
	}

	if !g.allowOrigin(in.Origin) {
		if err := g.failLogin(ctx, "", in, "throttled"); err != nil {
			return nil, err
		}
		return nil, ErrInvalidCredentials
	}

	p, err := g.store.Principals(ctx).FindByUsername(ctx, in.Username)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			if err := g.failLogin(ctx, "", in, "unknown_user"); err != nil {
				return nil, err
			}
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("find principal: %w", err)
	}

	locked, err := g.CheckLockout(ctx, p.ID, policy)
	if err != nil && !errors.Is(err, ErrAccountLocked) {
		return nil, err
	}
	if locked {
		if err := g.failLogin(ctx, p.ID, in, "locked"); err != nil {
			return nil, err
		}
		return nil, ErrInvalidCredentials
	}

	switch p.Status {
	case StatusActive:
	case StatusLocked:
		if err := g.failLogin(ctx, p.ID, in, "administratively_locked"); err != nil {
			return nil, err
		}
		return nil, ErrInvalidCredentials
	default:
		if err := g.failLogin(ctx, p.ID, in, "disabled"); err != nil {
			return nil, err
		}
		return nil, ErrInvalidCredentials
	}

	if credential.Verify(p.SecretHash, in.Secret) != nil {
		if err := g.failLogin(ctx, p.ID, in, "bad_secret"); err != nil {
			return nil, err
		}
		g.noteThresholdCrossed(ctx, p, in.Origin, policy)
		return nil, ErrInvalidCredentials
	}

	if err := g.RecordAttempt(ctx, p.ID, AttemptLogin, OutcomeSuccess, in.Origin, nil); err != nil {
		return nil, err
	}

	now := g.now().UTC()
	session := &Session{
		ID:             ids.New(),
		PrincipalID:    p.ID,
		CreatedAt:      now,
		LastActivityAt: now,
	}
	if err := g.store.Sessions(ctx).Create(ctx, session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	login := &Login{
		Principal:   p,
		Session:     session,
		RotationDue: credential.RotationDue(p.SecretChangedAt, policy, now),
	}
	if len(g.signingKey) > 0 {
		token, err := g.mintSessionToken(p, session, policy, now)
		if err != nil {
			return nil, err
		}
		login.AccessToken = token
	}

	obs.CountLoginAttempt("success")
	g.record(ctx, p.ID, audit.ActionLogin, p.ID, map[string]any{
		"session_id": session.ID,
		"origin":     in.Origin,
	})
	return login, nil
}

// failLogin records a failed attempt with its true reason and emits the
// matching audit event. The reason never reaches the caller.
func (g *Guard) failLogin(ctx context.Context, principalID string, in AuthInput, reason string) error {
	detail := map[string]string{"reason": reason}
	if err := g.RecordAttempt(ctx, principalID, AttemptLogin, OutcomeFailure, in.Origin, detail); err != nil {
		return err
	}
	obs.CountLoginAttempt("failure")
	target := principalID
	if target == "" {
		target = in.Username
	}
	g.record(ctx, principalID, audit.ActionLoginFailed, target, map[string]any{
		"reason": reason,
		"origin": in.Origin,
	})
	return nil
}

// noteThresholdCrossed emits the lockout signal once the failure that was
// just recorded reaches the policy threshold: a lockout attempt record,
// the audit event and the counter.
func (g *Guard) noteThresholdCrossed(ctx context.Context, p *Principal, origin string, policy credential.Policy) {
	if policy.MaxFailedAttempts <= 0 || policy.LockoutDuration <= 0 {
		return
	}
	since := g.now().Add(-policy.LockoutDuration)
	n, err := g.store.Attempts(ctx).CountFailures(ctx, p.ID, AttemptLogin, since)
	if err != nil || n != policy.MaxFailedAttempts {
		return
	}
	if err := g.RecordAttempt(ctx, p.ID, AttemptLockout, OutcomeFailure, origin, map[string]string{
		"failures": strconv.Itoa(n),
		"window":   policy.LockoutDuration.String(),
	}); err != nil {
		obs.LogEvent(map[string]any{
			"level": "error",
			"msg":   "lockout attempt record failed",
			"error": err.Error(),
		})
	}
	obs.CountLockout()
	g.record(ctx, p.ID, audit.ActionAccountLocked, p.ID, map[string]any{
		"failures": n,
		"window":   policy.LockoutDuration.String(),
		"until":    g.now().Add(policy.LockoutDuration).UTC().Format(time.RFC3339),
	})
}

func (g *Guard) allowOrigin(origin string) bool {
	if g.limit <= 0 {
		return true
	}
	g.limiterMu.Lock()
	defer g.limiterMu.Unlock()
	lim, ok := g.limiters[origin]
	if !ok {
		lim = rate.NewLimiter(g.limit, g.burst)
		g.limiters[origin] = lim
	}
	return lim.AllowN(g.now(), 1)
}

// LockAccount sets the stored administrative lock. Unlike the derived
// window lockout it persists until UnlockAccount.
func (g *Guard) LockAccount(ctx context.Context, principalID, actor string) error {
	p, err := g.store.Principals(ctx).Find(ctx, principalID)
	if err != nil {
		return err
	}
	if p.Status == StatusLocked {
		return nil
	}
	p.Status = StatusLocked
	p.UpdatedAt = g.now().UTC()
	if err := g.store.Principals(ctx).Update(ctx, p); err != nil {
		return err
	}
	g.record(ctx, actor, audit.ActionAccountLocked, p.ID, map[string]any{"administrative": true})
	return nil
}

// UnlockAccount clears the stored administrative lock.
func (g *Guard) UnlockAccount(ctx context.Context, principalID, actor string) error {
	p, err := g.store.Principals(ctx).Find(ctx, principalID)
	if err != nil {
		return err
	}
	if p.Status != StatusLocked {
		return nil
	}
	p.Status = StatusActive
	p.UpdatedAt = g.now().UTC()
	if err := g.store.Principals(ctx).Update(ctx, p); err != nil {
		return err
	}
	g.record(ctx, actor, audit.ActionAccountUnlocked, p.ID, nil)
	return nil
}

func (g *Guard) record(ctx context.Context, actor, action, target string, detail map[string]any) {
	event := audit.Event{
		OccurredAt: g.now().UTC(),
		Actor:      actor,
		Action:     action,
		Target:     target,
		Detail:     detail,
	}
	if err := g.recorder.Record(ctx, event); err != nil {
		obs.LogEvent(map[string]any{
			"level":  "error",
			"msg":    "audit record failed",
			"action": action,
			"error":  err.Error(),
		})
	}
}
