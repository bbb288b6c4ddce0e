package obs

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Security-engine metrics.
var (
	loginAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "security_login_attempts_total",
			Help: "Login attempts observed by the access guard.",
		},
		[]string{"outcome"},
	)

	lockoutsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "security_lockouts_total",
		Help: "Login attempts rejected because the account was locked out.",
	})

	assignmentTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "security_assignment_transitions_total",
			Help: "Role assignment state transitions.",
		},
		[]string{"to"},
	)

	sweepExpiredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "security_sweep_expired_total",
		Help: "Assignments transitioned to expired by the sweeper.",
	})

	tokenRedemptionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "security_token_redemptions_total",
			Help: "Recovery token redemption attempts.",
		},
		[]string{"outcome"},
	)

	sessionTimeoutsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "security_session_timeouts_total",
		Help: "Sessions terminated by the lazy inactivity check.",
	})
)

var initOnce sync.Once

// Init registers the engine metrics with the default registry.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			loginAttemptsTotal,
			lockoutsTotal,
			assignmentTransitionsTotal,
			sweepExpiredTotal,
			tokenRedemptionsTotal,
			sessionTimeoutsTotal,
		)
	})
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// CountLoginAttempt records a login attempt outcome ("success" or "failure").
func CountLoginAttempt(outcome string) {
	loginAttemptsTotal.WithLabelValues(outcome).Inc()
}

// CountLockout records a login rejected by lockout.
func CountLockout() { lockoutsTotal.Inc() }

// CountAssignmentTransition records a transition into the given state.
func CountAssignmentTransition(to string) {
	assignmentTransitionsTotal.WithLabelValues(to).Inc()
}

// CountSweptExpired records assignments expired by a sweep pass.
func CountSweptExpired(n int) {
	if n > 0 {
		sweepExpiredTotal.Add(float64(n))
	}
}

// CountTokenRedemption records a redemption outcome ("success" or "rejected").
func CountTokenRedemption(outcome string) {
	tokenRedemptionsTotal.WithLabelValues(outcome).Inc()
}

// CountSessionTimeout records a session expired by inactivity.
func CountSessionTimeout() { sessionTimeoutsTotal.Inc() }
