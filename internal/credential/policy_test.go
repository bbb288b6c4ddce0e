package credential

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPolicy() Policy {
	return Policy{
		MinLength:         8,
		MaxLength:         64,
		RequireUpper:      true,
		RequireLower:      true,
		RequireDigit:      true,
		MinAge:            24 * time.Hour,
		HistoryDepth:      3,
		MaxFailedAttempts: 3,
		LockoutDuration:   5 * time.Minute,
	}
}

func TestValidateAccepts(t *testing.T) {
	violations := Validate("Abc12345!", testPolicy())
	assert.Empty(t, violations)
}

func TestValidateReturnsAllViolations(t *testing.T) {
	violations := Validate("abc", testPolicy())
	require.NotEmpty(t, violations)

	rules := make(map[Rule]bool, len(violations))
	for _, v := range violations {
		rules[v.Rule] = true
	}
	assert.True(t, rules[RuleMinLength], "expected min-length violation")
	assert.True(t, rules[RuleUpperRequired], "expected uppercase violation")
	assert.True(t, rules[RuleDigitRequired], "expected digit violation")
	assert.False(t, rules[RuleLowerRequired], "lowercase is satisfied")
}

func TestValidateMaxLength(t *testing.T) {
	policy := testPolicy()
	policy.MaxLength = 10
	long := "Abc12345!Abc12345!"
	violations := Validate(long, policy)
	require.Len(t, violations, 1)
	assert.Equal(t, RuleMaxLength, violations[0].Rule)
}

func TestValidateHashCeiling(t *testing.T) {
	// A candidate that clears Validate must also be hashable, so the
	// bcrypt input limit applies even when the policy sets no MaxLength.
	policy := testPolicy()
	policy.MaxLength = 0
	long := strings.Repeat("Aa1!", 25) // 100 bytes

	violations := Validate(long, policy)
	require.Len(t, violations, 1)
	assert.Equal(t, RuleMaxLength, violations[0].Rule)

	_, err := Hash(long)
	assert.Error(t, err, "bcrypt rejects what Validate flags")

	exact := strings.Repeat("Aa1!", 18) // 72 bytes
	assert.Empty(t, Validate(exact, policy))
	hash, err := Hash(exact)
	require.NoError(t, err)
	require.NoError(t, Verify(hash, exact))
}

func TestDefaultPolicyWithinHashCeiling(t *testing.T) {
	assert.LessOrEqual(t, DefaultPolicy().MaxLength, MaxSecretBytes)
}

func TestValidateSymbolToggle(t *testing.T) {
	policy := testPolicy()
	policy.RequireSymbol = true
	violations := Validate("Abc12345", policy)
	require.Len(t, violations, 1)
	assert.Equal(t, RuleSymbolRequired, violations[0].Rule)
	assert.Empty(t, Validate("Abc12345!", policy))
}

func TestStrengthMonotonic(t *testing.T) {
	policy := testPolicy()
	varied := Strength("Aa1!Aa1!Aa1!", policy)
	flat := Strength("aaaaaaaa", policy)
	assert.GreaterOrEqual(t, varied, flat)

	// Deterministic for equal input.
	assert.Equal(t, varied, Strength("Aa1!Aa1!Aa1!", policy))

	// Adding a satisfied class never decreases the score.
	assert.GreaterOrEqual(t, Strength("aaaaaaa1", policy), Strength("aaaaaaaa", policy))
}

func TestStrengthBounds(t *testing.T) {
	policy := testPolicy()
	assert.Equal(t, 0, Strength("", policy))
	long := "Aa1!Aa1!Aa1!Aa1!Aa1!Aa1!Aa1!Aa1!"
	score := Strength(long, policy)
	assert.LessOrEqual(t, score, 100)
	assert.GreaterOrEqual(t, score, 90)
}

func TestCanRotate(t *testing.T) {
	policy := testPolicy()
	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

	assert.False(t, CanRotate(now.Add(-time.Hour), policy, now))
	assert.True(t, CanRotate(now.Add(-25*time.Hour), policy, now))
	assert.True(t, CanRotate(time.Time{}, policy, now), "never changed")

	policy.MinAge = 0
	assert.True(t, CanRotate(now.Add(-time.Minute), policy, now))
}

func TestRotationDue(t *testing.T) {
	policy := testPolicy()
	policy.MaxAge = 30 * 24 * time.Hour
	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

	assert.False(t, RotationDue(now.Add(-10*24*time.Hour), policy, now))
	assert.True(t, RotationDue(now.Add(-31*24*time.Hour), policy, now))
	assert.False(t, RotationDue(time.Time{}, policy, now))
}

func TestIsReused(t *testing.T) {
	policy := testPolicy()

	oldHash, err := Hash("OldSecret1")
	require.NoError(t, err)
	olderHash, err := Hash("OlderSecret2")
	require.NoError(t, err)

	history := []HistoryEntry{
		{Hash: oldHash, CreatedAt: time.Now().Add(-time.Hour)},
		{Hash: olderHash, CreatedAt: time.Now().Add(-2 * time.Hour)},
	}

	assert.True(t, IsReused("OldSecret1", history, policy))
	assert.True(t, IsReused("OlderSecret2", history, policy))
	assert.False(t, IsReused("FreshSecret3", history, policy))

	// Depth window: with depth 1 only the newest entry counts.
	policy.HistoryDepth = 1
	assert.False(t, IsReused("OlderSecret2", history, policy))
	assert.True(t, IsReused("OldSecret1", history, policy))

	policy.HistoryDepth = 0
	assert.False(t, IsReused("OldSecret1", history, policy))
}

func TestHashAndVerify(t *testing.T) {
	hash, err := Hash("Abc12345!")
	require.NoError(t, err)
	assert.NoError(t, Verify(hash, "Abc12345!"))
	assert.Error(t, Verify(hash, "wrong"))

	_, err = Hash("")
	assert.Error(t, err)
	assert.Error(t, Verify("", "x"))
}
