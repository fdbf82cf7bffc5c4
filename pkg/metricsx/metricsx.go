// Package metricsx registers the gateway's Prometheus collectors. Metrics
// are deliberately low-cardinality: labels carry grant types, tool names,
// and outcomes, never client or subject identifiers.
package metricsx

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the gateway's collectors.
type Metrics struct {
	registry *prometheus.Registry

	TokensIssued    *prometheus.CounterVec
	TokenFailures   *prometheus.CounterVec
	FamiliesRevoked prometheus.Counter
	ToolInvocations *prometheus.CounterVec
	ApprovalsTotal  *prometheus.CounterVec
	ApprovalLatency prometheus.Histogram
}

// New builds a Metrics with its own registry, including the standard Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,
		TokensIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_tokens_issued_total",
			Help: "Access tokens issued, by grant type.",
		}, []string{"grant_type"}),
		TokenFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_token_failures_total",
			Help: "Token endpoint failures, by OAuth error code.",
		}, []string{"error"}),
		FamiliesRevoked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_token_families_revoked_total",
			Help: "Refresh token families revoked after reuse detection.",
		}),
		ToolInvocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_tool_invocations_total",
			Help: "Tool invocations, by tool and outcome.",
		}, []string{"tool", "outcome"}),
		ApprovalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_approvals_total",
			Help: "Approval requests resolved, by final status.",
		}, []string{"status"}),
		ApprovalLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "gateway_approval_resolution_seconds",
			Help:    "Time from parking a tool call to its resolution.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		}),
	}

	reg.MustRegister(
		m.TokensIssued,
		m.TokenFailures,
		m.FamiliesRevoked,
		m.ToolInvocations,
		m.ApprovalsTotal,
		m.ApprovalLatency,
	)
	return m
}

// Handler returns the /metrics HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
