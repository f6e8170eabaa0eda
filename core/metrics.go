package core

import "github.com/prometheus/client_golang/prometheus"

const prometheusNamespace = "chainwatch"

var ErrorsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: prometheusNamespace,
	Name:      "errors_total",
	Help:      "Chainwatch Errors Counter",
}, []string{"address", "from", "error"})

var RecomputeCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: prometheusNamespace,
	Name:      "recomputes_total",
	Help:      "Number of recomputes triggered by watched context changes",
}, []string{"selector", "status"})

var MutationCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: prometheusNamespace,
	Name:      "mutations_total",
	Help:      "Number of settled mutations",
}, []string{"kind", "status"})

var WriteCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: prometheusNamespace,
	Name:      "writes_total",
	Help:      "Number of contract write transactions sent",
}, []string{"address", "function", "mode"})

var ActiveSubscriptionsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
	Namespace: prometheusNamespace,
	Name:      "active_subscriptions",
	Help:      "Number of active watched context subscriptions",
})

var LastSyncedBlockGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: prometheusNamespace,
	Name:      "last_synced_block",
	Help:      "Last block the connector synced the watched context at",
}, []string{"chain"})

// Collectors returns every metric of the package, for registration.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		ErrorsCounter,
		RecomputeCounter,
		MutationCounter,
		WriteCounter,
		ActiveSubscriptionsGauge,
		LastSyncedBlockGauge,
	}
}
