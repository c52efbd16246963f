// Package metrics defines the coordinator's Prometheus collectors, exposed
// on /metrics alongside the default process and Go runtime collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ChecksReceived counts every check result folded into the aggregator.
	ChecksReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "storm_checks_received_total",
		Help: "Total check results received from agents.",
	})

	// IncidentsOpened counts UP→DOWN transitions across all agent records.
	IncidentsOpened = promauto.NewCounter(prometheus.CounterOpts{
		Name: "storm_incidents_opened_total",
		Help: "Total downtime incidents opened.",
	})

	// AlertsSent counts webhook deliveries attempted by the alert sink.
	AlertsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "storm_alerts_sent_total",
		Help: "Total alert webhook deliveries attempted.",
	})

	// AgentsOnline tracks the registry's current online agent count.
	AgentsOnline = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "storm_agents_online",
		Help: "Agents currently marked online.",
	})

	// TargetsConfigured tracks the size of the active target set.
	TargetsConfigured = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "storm_targets",
		Help: "Targets in the active configuration.",
	})

	startTime = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "storm_process_start_time_seconds",
		Help: "Unix time the coordinator process started.",
	})
)

func init() {
	startTime.Set(float64(time.Now().Unix()))
}
