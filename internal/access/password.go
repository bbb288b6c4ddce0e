package access

import (
	"context"
	"errors"
	"fmt"

	"agrocoop.org/internal/audit"
	"agrocoop.org/internal/credential"
)

// ChangePasswordInput carries one authenticated password change.
type ChangePasswordInput struct {
	PrincipalID string
	Current     string
	New         string
	Origin      string
}

// ChangePassword verifies the current secret, evaluates the new one
// against the policy (including rotation min-age and history reuse),
// re-hashes and rotates the history. A wrong current secret surfaces
// ErrInvalidCredentials; policy failures surface the full violation list.
func (g *Guard) ChangePassword(ctx context.Context, in ChangePasswordInput, policy credential.Policy) error {
	if in.PrincipalID == "" || in.New == "" {
		return fmt.Errorf("%w: principal and new secret are required", ErrInvalidInput)
	}
	p, err := g.store.Principals(ctx).Find(ctx, in.PrincipalID)
	if err != nil {
		return err
	}

	locked, err := g.CheckLockout(ctx, p.ID, policy)
	if err != nil && !errors.Is(err, ErrAccountLocked) {
		return err
	}
	if locked {
		if err := g.RecordAttempt(ctx, p.ID, AttemptPasswordChange, OutcomeFailure, in.Origin, map[string]string{"reason": "locked"}); err != nil {
			return err
		}
		return ErrInvalidCredentials
	}

	if credential.Verify(p.SecretHash, in.Current) != nil {
		if err := g.RecordAttempt(ctx, p.ID, AttemptPasswordChange, OutcomeFailure, in.Origin, map[string]string{"reason": "bad_secret"}); err != nil {
			return err
		}
		return ErrInvalidCredentials
	}

	violations := credential.Validate(in.New, policy)
	if !credential.CanRotate(p.SecretChangedAt, policy, g.now()) {
		violations = append(violations, credential.Violation{
			Rule:    credential.RuleRotationMinAge,
			Message: "changed too recently",
		})
	}
	if credential.IsReused(in.New, p.History, policy) {
		violations = append(violations, credential.Violation{
			Rule:    credential.RuleHistoryReuse,
			Message: "matches a recently used password",
		})
	}
	if len(violations) > 0 {
		return &credential.ViolationError{Violations: violations}
	}

	if err := g.rotateSecret(ctx, p, in.New); err != nil {
		return err
	}
	if err := g.RecordAttempt(ctx, p.ID, AttemptPasswordChange, OutcomeSuccess, in.Origin, nil); err != nil {
		return err
	}
	g.record(ctx, p.ID, audit.ActionPasswordChanged, p.ID, nil)
	return nil
}

// ResetPasswordInput carries a token-driven password reset.
type ResetPasswordInput struct {
	Token  string
	New    string
	Origin string
}

// ResetPassword redeems a password-reset token and installs the new
// secret. Reset bypasses the rotation min-age but still enforces the
// policy rules and history reuse, and revokes the principal's open
// sessions.
func (g *Guard) ResetPassword(ctx context.Context, in ResetPasswordInput, policy credential.Policy) error {
	if in.Token == "" || in.New == "" {
		return fmt.Errorf("%w: token and new secret are required", ErrInvalidInput)
	}
	tok, err := g.Redeem(ctx, in.Token)
	if err != nil {
		return err
	}
	if tok.Purpose != PurposePasswordReset {
		g.record(ctx, tok.PrincipalID, audit.ActionTokenRejected, tok.PrincipalID, map[string]any{
			"reason":  "wrong_purpose",
			"purpose": string(tok.Purpose),
		})
		return ErrInvalidOrExpiredToken
	}
	p, err := g.store.Principals(ctx).Find(ctx, tok.PrincipalID)
	if err != nil {
		return err
	}

	violations := credential.Validate(in.New, policy)
	if credential.IsReused(in.New, p.History, policy) {
		violations = append(violations, credential.Violation{
			Rule:    credential.RuleHistoryReuse,
			Message: "matches a recently used password",
		})
	}
	if len(violations) > 0 {
		return &credential.ViolationError{Violations: violations}
	}

	if err := g.rotateSecret(ctx, p, in.New); err != nil {
		return err
	}
	if _, err := g.RevokeAll(ctx, p.ID, "password_reset"); err != nil {
		return err
	}
	if err := g.RecordAttempt(ctx, p.ID, AttemptPasswordReset, OutcomeSuccess, in.Origin, nil); err != nil {
		return err
	}
	g.record(ctx, p.ID, audit.ActionPasswordReset, p.ID, nil)
	return nil
}

// rotateSecret hashes the new secret, pushes the old hash onto the history
// and truncates it to the default depth ceiling.
func (g *Guard) rotateSecret(ctx context.Context, p *Principal, newSecret string) error {
	hash, err := credential.Hash(newSecret)
	if err != nil {
		return err
	}
	now := g.now().UTC()
	if p.SecretHash != "" {
		p.History = append([]credential.HistoryEntry{{
			Hash:      p.SecretHash,
			CreatedAt: p.SecretChangedAt,
		}}, p.History...)
	}
	const historyCeiling = 24
	if len(p.History) > historyCeiling {
		p.History = p.History[:historyCeiling]
	}
	p.SecretHash = hash
	p.SecretChangedAt = now
	p.UpdatedAt = now
	if err := g.store.Principals(ctx).Update(ctx, p); err != nil {
		return fmt.Errorf("update principal: %w", err)
	}
	return nil
}
