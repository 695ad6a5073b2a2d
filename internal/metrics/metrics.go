// Package metrics defines the Prometheus collectors for the orders service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "storefront_orders"

// Metrics groups the service's collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	OrdersCreated   *prometheus.CounterVec
	Transitions     *prometheus.CounterVec
	OperationErrors *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		OrdersCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_created_total",
			Help:      "Orders created from carts, by initial status.",
		}, []string{"initial_status"}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_transitions_total",
			Help:      "Order lifecycle transitions, by operation and statuses.",
		}, []string{"operation", "from", "to"}),
		OperationErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operation_errors_total",
			Help:      "Failed order and cart operations, by error kind.",
		}, []string{"operation", "kind"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}

	for _, c := range []prometheus.Collector{m.OrdersCreated, m.Transitions, m.OperationErrors, m.RequestDuration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// ObserveCreated counts a newly created order.
func (m *Metrics) ObserveCreated(initialStatus string) {
	if m == nil {
		return
	}
	m.OrdersCreated.WithLabelValues(initialStatus).Inc()
}

// ObserveTransition counts a status change made by operation.
func (m *Metrics) ObserveTransition(operation, from, to string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(operation, from, to).Inc()
}

// ObserveError counts a failed operation.
func (m *Metrics) ObserveError(operation, kind string) {
	if m == nil {
		return
	}
	m.OperationErrors.WithLabelValues(operation, kind).Inc()
}

// ObserveRequest records the latency of one HTTP request.
func (m *Metrics) ObserveRequest(method, route, status string, seconds float64) {
	if m == nil {
		return
	}
	m.RequestDuration.WithLabelValues(method, route, status).Observe(seconds)
}
