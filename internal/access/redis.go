package access

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var _ TokenStore = (*RedisTokenStore)(nil)

// RedisTokenStore keeps recovery tokens in Redis with the TTL delegated to
// key expiry. Redemption uses GETDEL, which fetches and removes the key in
// one round trip, so concurrent redeems of the same value yield exactly
// one winner. A redeemed token leaves no tombstone: a second redeem sees a
// missing key, indistinguishable from an expired one.
type RedisTokenStore struct {
	client redis.Cmdable
	prefix string
}

// NewRedisTokenStore wraps a connected client. Keys are namespaced under
// the given prefix.
func NewRedisTokenStore(client redis.Cmdable, prefix string) *RedisTokenStore {
	if prefix == "" {
		prefix = "recovery"
	}
	return &RedisTokenStore{client: client, prefix: prefix}
}

func (s *RedisTokenStore) key(value string) string {
	return s.prefix + ":" + value
}

type redisToken struct {
	PrincipalID string    `json:"principal_id"`
	Purpose     string    `json:"purpose"`
	IssuedAt    time.Time `json:"issued_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func (s *RedisTokenStore) Issue(ctx context.Context, t *RecoveryToken) error {
	ttl := t.ExpiresAt.Sub(t.IssuedAt)
	if ttl <= 0 {
		return fmt.Errorf("%w: token already expired", ErrInvalidInput)
	}
	payload, err := json.Marshal(redisToken{
		PrincipalID: t.PrincipalID,
		Purpose:     string(t.Purpose),
		IssuedAt:    t.IssuedAt,
		ExpiresAt:   t.ExpiresAt,
	})
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key(t.Value), payload, ttl).Err()
}

func (s *RedisTokenStore) Redeem(ctx context.Context, value string, now time.Time) (*RecoveryToken, error) {
	payload, err := s.client.GetDel(ctx, s.key(value)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrInvalidOrExpiredToken
		}
		return nil, fmt.Errorf("redeem token: %w", err)
	}
	var stored redisToken
	if err := json.Unmarshal(payload, &stored); err != nil {
		return nil, fmt.Errorf("redeem token: %w", err)
	}
	if !now.Before(stored.ExpiresAt) {
		return nil, ErrInvalidOrExpiredToken
	}
	return &RecoveryToken{
		Value:       value,
		PrincipalID: stored.PrincipalID,
		Purpose:     TokenPurpose(stored.Purpose),
		IssuedAt:    stored.IssuedAt,
		ExpiresAt:   stored.ExpiresAt,
		Used:        true,
		UsedAt:      now,
	}, nil
}
