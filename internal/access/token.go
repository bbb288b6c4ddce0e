package access

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"agrocoop.org/internal/audit"
	"agrocoop.org/internal/credential"
	"agrocoop.org/internal/obs"
)

// IssueToken mints a single-use recovery token for the principal. Delivery
// (email, SMS) is the caller's concern; the guard only stores and audits
// the issuance.
func (g *Guard) IssueToken(ctx context.Context, principalID string, purpose TokenPurpose, ttl time.Duration) (*RecoveryToken, error) {
	if ttl <= 0 {
		return nil, fmt.Errorf("%w: ttl must be positive", ErrInvalidInput)
	}
	p, err := g.store.Principals(ctx).Find(ctx, principalID)
	if err != nil {
		return nil, err
	}
	value, err := newTokenValue()
	if err != nil {
		return nil, err
	}
	now := g.now().UTC()
	tok := &RecoveryToken{
		Value:       value,
		PrincipalID: p.ID,
		Purpose:     purpose,
		IssuedAt:    now,
		ExpiresAt:   now.Add(ttl),
	}
	if err := g.tokens.Issue(ctx, tok); err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}
	g.record(ctx, p.ID, audit.ActionTokenIssued, p.ID, map[string]any{
		"purpose":    string(purpose),
		"expires_at": tok.ExpiresAt.Format(time.RFC3339),
	})
	return tok, nil
}

// Redeem atomically consumes a recovery token. The unused-and-unexpired
// check and the used mark happen in one store operation, so two concurrent
// redemptions of the same value cannot both succeed.
func (g *Guard) Redeem(ctx context.Context, value string) (*RecoveryToken, error) {
	tok, err := g.tokens.Redeem(ctx, value, g.now().UTC())
	if err != nil {
		obs.CountTokenRedemption("rejected")
		g.record(ctx, "", audit.ActionTokenRejected, "", nil)
		return nil, ErrInvalidOrExpiredToken
	}
	obs.CountTokenRedemption("success")
	g.record(ctx, tok.PrincipalID, audit.ActionTokenRedeemed, tok.PrincipalID, map[string]any{
		"purpose": string(tok.Purpose),
	})
	return tok, nil
}

func newTokenValue() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// SessionClaims is the payload of a signed session access token.
type SessionClaims struct {
	jwt.RegisteredClaims
	SessionID string `json:"sid"`
}

func (g *Guard) mintSessionToken(p *Principal, s *Session, policy credential.Policy, now time.Time) (string, error) {
	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.ID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(policy.SessionTimeout)),
		},
		SessionID: s.ID,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(g.signingKey)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return signed, nil
}

// VerifyAccessToken validates a signed session token against the guard's
// key and the injected clock. The caller still needs Touch to apply the
// inactivity window; the token's own expiry only bounds its total life.
func (g *Guard) VerifyAccessToken(tokenString string) (*SessionClaims, error) {
	claims := &SessionClaims{}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(g.now),
	)
	if _, err := parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return g.signingKey, nil
	}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionExpired, err)
	}
	return claims, nil
}
