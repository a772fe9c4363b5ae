// Package metrics holds the Prometheus instruments of the gatekeeper
// server. A nil *Metrics is valid and records nothing.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "gatekeeper"

type Metrics struct {
	admissionDecisions *prometheus.CounterVec
	admissionStoreErrs *prometheus.CounterVec
	tokenOperations    *prometheus.CounterVec
	httpRequests       *prometheus.CounterVec
	httpDuration       *prometheus.HistogramVec
	grpcRequests       *prometheus.CounterVec
}

// New registers the instruments with reg, or with the default registerer
// when reg is nil.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		admissionDecisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "admission",
				Name:      "decisions_total",
				Help:      "Admission decisions by endpoint class and result",
			},
			[]string{"class", "result"},
		),
		admissionStoreErrs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "admission",
				Name:      "store_errors_total",
				Help:      "Counter store failures by endpoint class and the policy applied",
			},
			[]string{"class", "policy"},
		),
		tokenOperations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "tokens",
				Name:      "operations_total",
				Help:      "Token authority operations by result",
			},
			[]string{"operation", "result"},
		),
		httpRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "HTTP requests by method, route and status code",
			},
			[]string{"method", "route", "code"},
		),
		httpDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request latency",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		grpcRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "grpc",
				Name:      "requests_total",
				Help:      "gRPC requests by full method and status code",
			},
			[]string{"method", "code"},
		),
	}
}

func (m *Metrics) AdmissionDecision(class string, allowed bool) {
	if m == nil {
		return
	}
	result := "allowed"
	if !allowed {
		result = "rejected"
	}
	m.admissionDecisions.WithLabelValues(class, result).Inc()
}

func (m *Metrics) AdmissionStoreError(class string, failOpen bool) {
	if m == nil {
		return
	}
	policy := "fail_closed"
	if failOpen {
		policy = "fail_open"
	}
	m.admissionStoreErrs.WithLabelValues(class, policy).Inc()
}

// TokenOperation records op ("issue", "verify", "rotate", ...) with result
// "ok" or the error kind.
func (m *Metrics) TokenOperation(op, result string) {
	if m == nil {
		return
	}
	m.tokenOperations.WithLabelValues(op, result).Inc()
}

func (m *Metrics) HTTPRequest(method, route string, code int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

func (m *Metrics) GRPCRequest(method, code string) {
	if m == nil {
		return
	}
	m.grpcRequests.WithLabelValues(method, code).Inc()
}
