package orchestrator

import "github.com/prometheus/client_golang/prometheus"

var (
	toolInvocationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "docchat_tool_invocations_total",
		Help: "Tool selections made by the routing strategies.",
	}, []string{"tool"})
	refusalsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "docchat_safety_refusals_total",
		Help: "Turns replaced by a safety refusal, by gate side.",
	}, []string{"side"})
	turnTokens = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "docchat_turn_tokens",
		Help:    "Token usage per answered turn.",
		Buckets: prometheus.ExponentialBuckets(64, 2, 10),
	}, []string{"kind"})
)

func init() {
	prometheus.MustRegister(toolInvocationsTotal, refusalsTotal, turnTokens)
}
