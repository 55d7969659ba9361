// Package metrics holds the Prometheus collectors of the proctoring service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	EventsScored = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "proctor", Subsystem: "events", Name: "scored_total", Help: "Exam events classified, by type and priority."},
		[]string{"event_type", "priority"},
	)
	EventsFlagged = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "proctor", Subsystem: "events", Name: "flagged_total", Help: "Exam events flagged as suspicious, by type."},
		[]string{"event_type"},
	)
	VivaOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "proctor", Subsystem: "viva", Name: "outcomes_total", Help: "Surprise viva attempts, by outcome."},
		[]string{"outcome"},
	)
	LiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{Namespace: "proctor", Subsystem: "live", Name: "connections", Help: "Open exam session WebSocket connections."},
	)
	VideoBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "proctor", Subsystem: "video", Name: "bytes_total", Help: "Decoded video bytes stored, by sink."},
		[]string{"sink"},
	)
)

func init() {
	_ = prometheus.Register(EventsScored)
	_ = prometheus.Register(EventsFlagged)
	_ = prometheus.Register(VivaOutcomes)
	_ = prometheus.Register(LiveConnections)
	_ = prometheus.Register(VideoBytes)
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
