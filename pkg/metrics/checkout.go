package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// CheckoutMetrics records widget activity for merchants embedding the SDK.
type CheckoutMetrics struct {
	transitions  *prometheus.CounterVec
	authAttempts *prometheus.CounterVec
	couponOps    *prometheus.CounterVec
	pollAttempts prometheus.Counter
	stepDuration *prometheus.HistogramVec
}

// NewCheckoutMetrics registers the checkout metrics on the provided
// registerer. A nil registerer yields a no-op recorder.
func NewCheckoutMetrics(reg prometheus.Registerer) *CheckoutMetrics {
	if reg == nil {
		return &CheckoutMetrics{}
	}
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_step_transitions",
		Help: "Checkout wizard step transitions by origin and destination.",
	}, []string{"from", "to"})
	authAttempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_auth_attempts",
		Help: "Customer authentication attempts by kind and outcome.",
	}, []string{"kind", "outcome"})
	couponOps := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_coupon_operations",
		Help: "Coupon apply/remove operations by outcome.",
	}, []string{"op", "outcome"})
	pollAttempts := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "checkout_pending_poll_attempts",
		Help: "Order status polls while a payment is pending.",
	})
	stepDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "checkout_step_duration_seconds",
		Help:    "Time spent on each checkout step before advancing.",
		Buckets: prometheus.DefBuckets,
	}, []string{"step"})
	reg.MustRegister(transitions, authAttempts, couponOps, pollAttempts, stepDuration)
	return &CheckoutMetrics{
		transitions:  transitions,
		authAttempts: authAttempts,
		couponOps:    couponOps,
		pollAttempts: pollAttempts,
		stepDuration: stepDuration,
	}
}

// ObserveTransition records a wizard step change.
func (c *CheckoutMetrics) ObserveTransition(from, to string) {
	if c == nil || c.transitions == nil {
		return
	}
	c.transitions.WithLabelValues(normalizeLabel(from), normalizeLabel(to)).Inc()
}

// ObserveAuthAttempt records one authentication request outcome.
func (c *CheckoutMetrics) ObserveAuthAttempt(kind, outcome string) {
	if c == nil || c.authAttempts == nil {
		return
	}
	c.authAttempts.WithLabelValues(normalizeLabel(kind), normalizeLabel(outcome)).Inc()
}

// ObserveCouponOp records a coupon apply or remove outcome.
func (c *CheckoutMetrics) ObserveCouponOp(op, outcome string) {
	if c == nil || c.couponOps == nil {
		return
	}
	c.couponOps.WithLabelValues(normalizeLabel(op), normalizeLabel(outcome)).Inc()
}

// IncPollAttempt records one pending-order status poll.
func (c *CheckoutMetrics) IncPollAttempt() {
	if c == nil || c.pollAttempts == nil {
		return
	}
	c.pollAttempts.Inc()
}

// ObserveStepDuration records how long the customer spent on a step.
func (c *CheckoutMetrics) ObserveStepDuration(step string, duration time.Duration) {
	if c == nil || c.stepDuration == nil {
		return
	}
	c.stepDuration.WithLabelValues(normalizeLabel(step)).Observe(duration.Seconds())
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
