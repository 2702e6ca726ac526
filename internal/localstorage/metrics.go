package localstorage

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the strategy's Prometheus collectors.
type Metrics struct {
	// StrategyDecisions counts strategy gate results by entry point.
	StrategyDecisions *prometheus.CounterVec

	// HostsFiltered counts hosts removed from candidate sets by reason.
	HostsFiltered *prometheus.CounterVec

	// BlacklistedStorages counts (host, storage) pairs that failed a capacity check.
	BlacklistedStorages prometheus.Counter

	// NoAvailableHost counts requests that ended with no eligible host.
	NoAvailableHost *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg. A nil
// registerer leaves them unregistered, which is what tests want.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		StrategyDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "placement_local_storage_strategy_decisions_total",
				Help: "Total number of local storage strategy gate decisions by gate and result",
			},
			[]string{"gate", "result"},
		),
		HostsFiltered: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "placement_local_storage_hosts_filtered_total",
				Help: "Total number of candidate hosts removed by the local storage strategy",
			},
			[]string{"reason"},
		),
		BlacklistedStorages: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "placement_local_storage_blacklisted_storages_total",
				Help: "Total number of host/storage pairs that failed a local capacity check",
			},
		),
		NoAvailableHost: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "placement_local_storage_no_available_host_total",
				Help: "Total number of requests left without an eligible host",
			},
			[]string{"operation"},
		),
	}

	if reg != nil {
		reg.MustRegister(m.StrategyDecisions, m.HostsFiltered, m.BlacklistedStorages, m.NoAvailableHost)
	}
	return m
}

func (m *Metrics) decision(gate string, name string) {
	result := name
	if result == "" {
		result = "none"
	}
	m.StrategyDecisions.WithLabelValues(gate, result).Inc()
}
