// Package metrics holds the Prometheus collectors for idp-relay.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ProviderRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "idprelay_provider_requests_total",
		Help: "Requests sent to the identity provider, by operation and status class",
	}, []string{"provider", "op", "status"})

	ProviderDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "idprelay_provider_request_duration_seconds",
		Help:    "Time spent waiting on identity provider responses",
		Buckets: prometheus.ExponentialBuckets(0.025, 2.0, 10), // 25ms to ~12.8s
	}, []string{"provider", "op"})

	ServiceTokenLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "idprelay_service_token_lookups_total",
		Help: "Service token cache lookups by result (hit, fetch, error)",
	}, []string{"result"})

	Logins = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "idprelay_logins_total",
		Help: "Token exchange attempts by grant and outcome",
	}, []string{"grant", "outcome"})

	ManageActions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "idprelay_manage_actions_total",
		Help: "Management actions handled, by action and response status",
	}, []string{"action", "status"})
)

// StatusClass collapses an HTTP status into "2xx", "4xx", ... so label
// cardinality stays bounded. Zero means the request never got a response.
func StatusClass(status int) string {
	switch {
	case status == 0:
		return "error"
	case status < 200:
		return "1xx"
	case status < 300:
		return "2xx"
	case status < 400:
		return "3xx"
	case status < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
