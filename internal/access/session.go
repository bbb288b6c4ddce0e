package access

import (
	"context"
	"fmt"
	"time"

	"agrocoop.org/internal/audit"
	"agrocoop.org/internal/credential"
	"agrocoop.org/internal/obs"
)

// Touch checks the session against the policy's inactivity window and
// advances its last-activity timestamp. Expiry is evaluated here, lazily,
// not by a background timer: a session whose window elapsed is revoked on
// the spot with an audit event, and ErrSessionExpired is returned.
func (g *Guard) Touch(ctx context.Context, sessionID string, policy credential.Policy) (*Session, error) {
	s, err := g.store.Sessions(ctx).Find(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if s.Revoked() {
		return nil, ErrSessionExpired
	}
	now := g.now().UTC()
	if s.IdleExpired(policy, now) {
		s.RevokedAt = now
		s.RevokeCause = "timeout"
		if err := g.store.Sessions(ctx).Update(ctx, s); err != nil {
			return nil, fmt.Errorf("revoke session: %w", err)
		}
		obs.CountSessionTimeout()
		g.record(ctx, s.PrincipalID, audit.ActionSessionExpired, s.ID, map[string]any{
			"idle_since": s.LastActivityAt.Format(time.RFC3339),
		})
		return nil, ErrSessionExpired
	}
	s.LastActivityAt = now
	if err := g.store.Sessions(ctx).Update(ctx, s); err != nil {
		return nil, fmt.Errorf("touch session: %w", err)
	}
	return s, nil
}

// Logout revokes one session. Logging out an already-revoked session is a
// no-op.
func (g *Guard) Logout(ctx context.Context, sessionID string) error {
	s, err := g.store.Sessions(ctx).Find(ctx, sessionID)
	if err != nil {
		return err
	}
	if s.Revoked() {
		return nil
	}
	s.RevokedAt = g.now().UTC()
	s.RevokeCause = "logout"
	if err := g.store.Sessions(ctx).Update(ctx, s); err != nil {
		return err
	}
	g.record(ctx, s.PrincipalID, audit.ActionLogout, s.ID, nil)
	return nil
}

// RevokeAll terminates every open session of the principal and returns how
// many were revoked.
func (g *Guard) RevokeAll(ctx context.Context, principalID, cause string) (int, error) {
	open, err := g.store.Sessions(ctx).ListActive(ctx, principalID)
	if err != nil {
		return 0, err
	}
	now := g.now().UTC()
	for _, s := range open {
		s.RevokedAt = now
		s.RevokeCause = cause
		if err := g.store.Sessions(ctx).Update(ctx, s); err != nil {
			return 0, err
		}
	}
	if len(open) > 0 {
		g.record(ctx, principalID, audit.ActionSessionRevoked, principalID, map[string]any{
			"count": len(open),
			"cause": cause,
		})
	}
	return len(open), nil
}

// ReapSessions deletes session rows that have been revoked or idle longer
// than the retention period. Run periodically by the sweeper.
func (g *Guard) ReapSessions(ctx context.Context, retention time.Duration) (int, error) {
	cutoff := g.now().Add(-retention)
	return g.store.Sessions(ctx).DeleteDeadBefore(ctx, cutoff)
}
