package credential

import (
	"errors"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// MaxSecretBytes is the longest secret bcrypt accepts. Validate enforces
// it regardless of the policy's own MaxLength, so any candidate it clears
// can be hashed.
const MaxSecretBytes = 72

// HistoryEntry is the salted hash of a previously-used password, kept only
// for reuse rejection. Entries are ordered newest first.
type HistoryEntry struct {
	Hash      string
	CreatedAt time.Time
}

// Hash derives a salted one-way hash of the plaintext secret.
func Hash(secret string) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("credential: secret is empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Verify compares a plaintext secret with a stored hash.
func Verify(hash, secret string) error {
	if hash == "" {
		return errors.New("credential: hash is empty")
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret))
}

// IsReused reports whether the candidate matches any of the most recent
// policy.HistoryDepth entries. History is expected newest first; entries
// beyond the depth are ignored.
func IsReused(candidate string, history []HistoryEntry, policy Policy) bool {
	if policy.HistoryDepth <= 0 {
		return false
	}
	depth := policy.HistoryDepth
	if depth > len(history) {
		depth = len(history)
	}
	for _, entry := range history[:depth] {
		if bcrypt.CompareHashAndPassword([]byte(entry.Hash), []byte(candidate)) == nil {
			return true
		}
	}
	return false
}
