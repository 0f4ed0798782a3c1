// Package analytics exposes usage counters over Prometheus.
package analytics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mtarail/railboard/system"
)

// Metrics implements the resolver's lookup hook and serves /metrics.
type Metrics struct {
	registry       *prometheus.Registry
	stationLookups *prometheus.CounterVec
}

func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	stationLookups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "railboard",
		Name:      "station_lookups_total",
		Help:      "Departure lookups per station.",
	}, []string{"system", "station"})
	registry.MustRegister(stationLookups)

	return &Metrics{
		registry:       registry,
		stationLookups: stationLookups,
	}
}

// TrackStationLookup counts one departures request. The station name is part
// of the hook's contract but is kept out of the label set; the key already
// identifies the station.
func (m *Metrics) TrackStationLookup(sys system.System, stationKey, _ string) {
	m.stationLookups.WithLabelValues(string(sys), stationKey).Inc()
}

// Handler serves the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
