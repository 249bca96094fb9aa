// Package metrics exposes prometheus counters for authentication outcomes.
//
// A nil *Collector is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Outcome label values.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeRetry   = "retry"
)

// Collector holds the auth counters.
type Collector struct {
	logins          *prometheus.CounterVec
	refreshes       *prometheus.CounterVec
	refreshRequests prometheus.Counter
	verifyAttempts  *prometheus.CounterVec
	logouts         *prometheus.CounterVec
	permChecks      *prometheus.CounterVec
}

// NewCollector creates the counters and registers them with reg.
// A nil reg leaves them unregistered (useful in tests).
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coven",
			Subsystem: "auth",
			Name:      "login_total",
			Help:      "Login attempts by outcome and error code.",
		}, []string{"outcome", "code"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coven",
			Subsystem: "auth",
			Name:      "refresh_total",
			Help:      "Completed token refreshes by outcome.",
		}, []string{"outcome"}),
		refreshRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "coven",
			Subsystem: "auth",
			Name:      "refresh_requests_total",
			Help:      "Outbound refresh-token HTTP requests.",
		}),
		verifyAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coven",
			Subsystem: "auth",
			Name:      "verify_attempts_total",
			Help:      "Individual verify requests by outcome.",
		}, []string{"outcome"}),
		logouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coven",
			Subsystem: "auth",
			Name:      "logout_total",
			Help:      "Logouts by reason.",
		}, []string{"reason"}),
		permChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coven",
			Subsystem: "permission",
			Name:      "checks_total",
			Help:      "Feature access checks by result and whether the cache answered.",
		}, []string{"result", "source"}),
	}

	if reg != nil {
		for _, col := range []prometheus.Collector{
			c.logins, c.refreshes, c.refreshRequests, c.verifyAttempts, c.logouts, c.permChecks,
		} {
			if err := reg.Register(col); err != nil {
				return nil, err
			}
		}
	}
	return c, nil
}

// Login records a login attempt. code is empty on success.
func (c *Collector) Login(success bool, code string) {
	if c == nil {
		return
	}
	c.logins.WithLabelValues(outcome(success), code).Inc()
}

// Refresh records a completed refresh.
func (c *Collector) Refresh(success bool) {
	if c == nil {
		return
	}
	c.refreshes.WithLabelValues(outcome(success)).Inc()
}

// RefreshRequest records an outbound refresh call.
func (c *Collector) RefreshRequest() {
	if c == nil {
		return
	}
	c.refreshRequests.Inc()
}

// VerifyAttempt records a single verify request.
func (c *Collector) VerifyAttempt(o string) {
	if c == nil {
		return
	}
	c.verifyAttempts.WithLabelValues(o).Inc()
}

// Logout records a logout with its reason ("user", "expired", "revalidation").
func (c *Collector) Logout(reason string) {
	if c == nil {
		return
	}
	c.logouts.WithLabelValues(reason).Inc()
}

// PermissionCheck records a canAccess decision.
func (c *Collector) PermissionCheck(allowed, cached bool) {
	if c == nil {
		return
	}
	result := "denied"
	if allowed {
		result = "allowed"
	}
	source := "computed"
	if cached {
		source = "cache"
	}
	c.permChecks.WithLabelValues(result, source).Inc()
}

func outcome(success bool) string {
	if success {
		return OutcomeSuccess
	}
	return OutcomeFailure
}
