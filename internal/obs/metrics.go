package obs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ProxyRequests counts completed proxy requests by terminal outcome
// ("success", "client_error", "upstream_exhausted").
var ProxyRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "proxygate",
	Name:      "proxy_requests_total",
	Help:      "Total proxy requests handled, by outcome.",
}, []string{"outcome"})

// UpstreamAttempts counts each candidate account/provider attempt made
// during failover, by provider and result class.
var UpstreamAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "proxygate",
	Name:      "upstream_attempts_total",
	Help:      "Total upstream candidate attempts, by provider and result.",
}, []string{"provider", "result"})

// RouteSelections counts route resolutions by the strategy that picked them.
var RouteSelections = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "proxygate",
	Name:      "route_selections_total",
	Help:      "Total route resolutions, by strategy.",
}, []string{"strategy"})

// GuardrailReplacements counts anonymization replacements made, by guardrail ID.
var GuardrailReplacements = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "proxygate",
	Name:      "guardrail_replacements_total",
	Help:      "Total guardrail replacements performed, by guardrail ID.",
}, []string{"guardrail"})
