// Package observability registers the prometheus collectors the daemon
// exports on /metrics: registry sync progress, health refresh results,
// and decision counters.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles every collector so the daemon can update them from
// its loops without package-level globals.
type Metrics struct {
	RegistryVersion  prometheus.Gauge
	RegistrySyncs    *prometheus.CounterVec
	HealthStatuses   *prometheus.GaugeVec
	HealRuns         *prometheus.CounterVec
	MembershipSwaps  prometheus.Counter
	RolloutStages    prometheus.Gauge
	RewardsRuns      *prometheus.CounterVec
	APIRequestsTotal *prometheus.CounterVec
}

// New registers the collectors on the given registerer (use
// prometheus.DefaultRegisterer in the daemon).
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RegistryVersion: factory.NewGauge(prometheus.GaugeOpts{
			Name: "fleetd_registry_version",
			Help: "Latest projected registry version.",
		}),
		RegistrySyncs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fleetd_registry_syncs_total",
			Help: "Registry sync attempts by result.",
		}, []string{"result"}),
		HealthStatuses: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fleetd_node_health",
			Help: "Node count per health status at the last refresh.",
		}, []string{"status"}),
		HealRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fleetd_heal_runs_total",
			Help: "Heal/optimize runs by result.",
		}, []string{"result"}),
		MembershipSwaps: factory.NewCounter(prometheus.CounterOpts{
			Name: "fleetd_membership_changes_total",
			Help: "Candidate membership changes emitted.",
		}),
		RolloutStages: factory.NewGauge(prometheus.GaugeOpts{
			Name: "fleetd_rollout_stages",
			Help: "Stage count of the current rollout plan.",
		}),
		RewardsRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fleetd_rewards_runs_total",
			Help: "Rewards computations by result.",
		}, []string{"result"}),
		APIRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fleetd_api_requests_total",
			Help: "API requests by route and status class.",
		}, []string{"route", "class"}),
	}
}

// ObserveHealth resets and repopulates the per-status node gauges.
func (m *Metrics) ObserveHealth(counts map[string]int) {
	m.HealthStatuses.Reset()
	for status, count := range counts {
		m.HealthStatuses.WithLabelValues(status).Set(float64(count))
	}
}
