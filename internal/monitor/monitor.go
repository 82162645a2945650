package monitor

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics tracks room and event activity. A nil *Metrics is valid and records nothing.
type Metrics struct {
	ActiveRooms      prometheus.Gauge
	ConnectedPlayers prometheus.Gauge
	InboundEvents    *prometheus.CounterVec
	Rejections       *prometheus.CounterVec
	Broadcasts       *prometheus.CounterVec
	EventLatency     prometheus.Histogram
}

func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ActiveRooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_rooms",
			Help:      "Number of live room actors",
		}),
		ConnectedPlayers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connected_players",
			Help:      "Number of players currently connected to a room",
		}),
		InboundEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inbound_events_total",
			Help:      "Room events processed, by kind",
		}, []string{"kind"}),
		Rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejections_total",
			Help:      "Inbound events rejected, by code",
		}, []string{"code"}),
		Broadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_events_total",
			Help:      "Outbound room events emitted, by type",
		}, []string{"type"}),
		EventLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "event_latency_seconds",
			Help:      "Time from enqueue to completion of a room event",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.ActiveRooms,
			m.ConnectedPlayers,
			m.InboundEvents,
			m.Rejections,
			m.Broadcasts,
			m.EventLatency,
		)
	}
	return m
}

// Handler exposes the registry in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func (m *Metrics) RoomOpened() {
	if m == nil {
		return
	}
	m.ActiveRooms.Inc()
}

func (m *Metrics) RoomClosed() {
	if m == nil {
		return
	}
	m.ActiveRooms.Dec()
}

func (m *Metrics) AddConnected(delta int) {
	if m == nil || delta == 0 {
		return
	}
	m.ConnectedPlayers.Add(float64(delta))
}

func (m *Metrics) ObserveEvent(kind string, code string, latency time.Duration) {
	if m == nil {
		return
	}
	m.InboundEvents.WithLabelValues(kind).Inc()
	if code != "" {
		m.Rejections.WithLabelValues(code).Inc()
	}
	m.EventLatency.Observe(latency.Seconds())
}

func (m *Metrics) Broadcast(eventType string) {
	if m == nil {
		return
	}
	m.Broadcasts.WithLabelValues(eventType).Inc()
}
