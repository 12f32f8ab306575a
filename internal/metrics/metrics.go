package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "cookie_auth"

// Outcome labels.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeError   = "error"
)

type Metrics struct {
	AuthOperations *prometheus.CounterVec
	AuthFailures   *prometheus.CounterVec
	Throttled      *prometheus.CounterVec
	EmailTasks     *prometheus.CounterVec
	SessionsSwept  prometheus.Counter
}

// New registers all collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		AuthOperations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_operations_total",
			Help:      "Login, refresh and logout attempts by outcome.",
		}, []string{"operation", "outcome"}),
		AuthFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_failures_total",
			Help:      "Rejected authentications by internal failure code.",
		}, []string{"code"}),
		Throttled: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "throttled_requests_total",
			Help:      "Requests rejected by the throttle gate.",
		}, []string{"scope"}),
		EmailTasks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "email_tasks_total",
			Help:      "Email tasks by stage (queued, delivered, failed).",
		}, []string{"stage"}),
		SessionsSwept: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_swept_total",
			Help:      "Expired refresh sessions removed by the sweeper.",
		}),
	}
}

func (m *Metrics) ObserveOperation(operation string, err error) {
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeError
	}
	m.AuthOperations.WithLabelValues(operation, outcome).Inc()
}

func (m *Metrics) ObserveAuthFailure(operation, code string) {
	m.AuthOperations.WithLabelValues(operation, OutcomeFailure).Inc()
	m.AuthFailures.WithLabelValues(code).Inc()
}
