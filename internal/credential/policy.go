// Package credential evaluates candidate passwords against configurable
// policies. Every function here is pure: no clock reads, no storage, no
// side effects. Stateful concerns (attempt history, lockout, sessions)
// live in the access package.
package credential

import (
	"fmt"
	"time"
	"unicode"
)

// Policy is the configuration record governing credential rules for a set
// of principals. Exactly one policy is marked default; a principal either
// references a policy directly or falls back to the default.
type Policy struct {
	ID   string
	Name string

	// Length bounds. MaxLength zero leaves only the MaxSecretBytes
	// hash ceiling.
	MinLength int
	MaxLength int

	// Character classes, each independently togglable.
	RequireUpper  bool
	RequireLower  bool
	RequireDigit  bool
	RequireSymbol bool

	// MinAge is how long a principal must wait between changes.
	// MaxAge forces rotation; zero disables it.
	MinAge time.Duration
	MaxAge time.Duration

	// HistoryDepth is how many previous hashes may not be reused.
	HistoryDepth int

	// Lockout tuning.
	MaxFailedAttempts int
	LockoutDuration   time.Duration

	// SessionTimeout is the inactivity window after which a session is
	// terminated on its next activity check.
	SessionTimeout time.Duration

	IsDefault bool
}

// DefaultPolicy returns the baseline policy applied when a principal has no
// explicit binding.
func DefaultPolicy() Policy {
	return Policy{
		Name:              "default",
		MinLength:         8,
		MaxLength:         MaxSecretBytes,
		RequireUpper:      true,
		RequireLower:      true,
		RequireDigit:      true,
		RequireSymbol:     false,
		MinAge:            24 * time.Hour,
		MaxAge:            90 * 24 * time.Hour,
		HistoryDepth:      5,
		MaxFailedAttempts: 3,
		LockoutDuration:   5 * time.Minute,
		SessionTimeout:    30 * time.Minute,
		IsDefault:         true,
	}
}

// Rule identifies a single policy requirement.
type Rule string

const (
	RuleMinLength      Rule = "min_length"
	RuleMaxLength      Rule = "max_length"
	RuleUpperRequired  Rule = "upper_required"
	RuleLowerRequired  Rule = "lower_required"
	RuleDigitRequired  Rule = "digit_required"
	RuleSymbolRequired Rule = "symbol_required"
	RuleRotationMinAge Rule = "rotation_min_age"
	RuleHistoryReuse   Rule = "history_reuse"
)

// Violation describes one unmet rule.
type Violation struct {
	Rule    Rule
	Message string
}

// ViolationError carries the complete list of unmet rules so callers can
// present full feedback rather than the first failure.
type ViolationError struct {
	Violations []Violation
}

// Error implements the error interface.
func (e *ViolationError) Error() string {
	return fmt.Sprintf("credential: policy violated (%d rules)", len(e.Violations))
}

type classSet struct {
	upper, lower, digit, symbol bool
}

func classify(candidate string) classSet {
	var c classSet
	for _, r := range candidate {
		switch {
		case unicode.IsUpper(r):
			c.upper = true
		case unicode.IsLower(r):
			c.lower = true
		case unicode.IsDigit(r):
			c.digit = true
		default:
			c.symbol = true
		}
	}
	return c
}

func (c classSet) count() int {
	n := 0
	for _, present := range []bool{c.upper, c.lower, c.digit, c.symbol} {
		if present {
			n++
		}
	}
	return n
}

// Validate checks the candidate against every enabled rule and returns all
// violations, never just the first. An empty result means the candidate is
// acceptable.
func Validate(candidate string, policy Policy) []Violation {
	var violations []Violation
	length := len([]rune(candidate))

	if length < policy.MinLength {
		violations = append(violations, Violation{
			Rule:    RuleMinLength,
			Message: fmt.Sprintf("must be at least %d characters", policy.MinLength),
		})
	}
	if policy.MaxLength > 0 && length > policy.MaxLength {
		violations = append(violations, Violation{
			Rule:    RuleMaxLength,
			Message: fmt.Sprintf("must be at most %d characters", policy.MaxLength),
		})
	} else if len(candidate) > MaxSecretBytes {
		violations = append(violations, Violation{
			Rule:    RuleMaxLength,
			Message: fmt.Sprintf("must be at most %d bytes", MaxSecretBytes),
		})
	}

	classes := classify(candidate)
	if policy.RequireUpper && !classes.upper {
		violations = append(violations, Violation{
			Rule:    RuleUpperRequired,
			Message: "must contain an uppercase letter",
		})
	}
	if policy.RequireLower && !classes.lower {
		violations = append(violations, Violation{
			Rule:    RuleLowerRequired,
			Message: "must contain a lowercase letter",
		})
	}
	if policy.RequireDigit && !classes.digit {
		violations = append(violations, Violation{
			Rule:    RuleDigitRequired,
			Message: "must contain a digit",
		})
	}
	if policy.RequireSymbol && !classes.symbol {
		violations = append(violations, Violation{
			Rule:    RuleSymbolRequired,
			Message: "must contain a symbol",
		})
	}
	return violations
}

// Strength scores the candidate from 0 to 100. The score is an additive
// heuristic, not a cryptographic measure: base points for reaching the
// minimum length, a bonus for exceeding it, fixed increments per character
// class, and a variety bonus for the number of distinct classes. Adding a
// satisfied class never lowers the score.
func Strength(candidate string, policy Policy) int {
	length := len([]rune(candidate))
	minLength := policy.MinLength
	if minLength <= 0 {
		minLength = 1
	}

	score := 0
	if length >= minLength {
		score += 20
		extra := (length - minLength) * 2
		if extra > 20 {
			extra = 20
		}
		score += extra
	}

	classes := classify(candidate)
	if classes.upper {
		score += 10
	}
	if classes.lower {
		score += 10
	}
	if classes.digit {
		score += 10
	}
	if classes.symbol {
		score += 10
	}
	score += classes.count() * 5

	if score > 100 {
		score = 100
	}
	return score
}

// CanRotate reports whether the principal may change their password at now,
// given the time of the previous change. A zero lastChange means the
// credential was never changed and rotation is always allowed.
func CanRotate(lastChange time.Time, policy Policy, now time.Time) bool {
	if lastChange.IsZero() || policy.MinAge <= 0 {
		return true
	}
	return now.Sub(lastChange) >= policy.MinAge
}

// RotationDue reports whether the credential has outlived the policy's
// maximum age and must be replaced.
func RotationDue(lastChange time.Time, policy Policy, now time.Time) bool {
	if policy.MaxAge <= 0 || lastChange.IsZero() {
		return false
	}
	return now.Sub(lastChange) > policy.MaxAge
}
