// Package metrics exposes Prometheus counters and gauges for connection
// and room health (component N). Ambient observability, registered
// regardless of the protocol's own Non-goals around a plugin/middleware
// system.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	FramesIn = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "shroomlink",
		Subsystem: "conn",
		Name:      "frames_in_total",
		Help:      "Inbound frames decoded across all connections.",
	})
	FramesOut = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "shroomlink",
		Subsystem: "conn",
		Name:      "frames_out_total",
		Help:      "Outbound frames written across all connections.",
	})
	MissedFrames = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "shroomlink",
		Subsystem: "conn",
		Name:      "missed_frames_total",
		Help:      "External-bridge frames dropped due to OutOfCapacity.",
	})
	PingTimeouts = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "shroomlink",
		Subsystem: "conn",
		Name:      "ping_timeouts_total",
		Help:      "Connections dropped for failing to Pong in time.",
	})
	Migrations = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "shroomlink",
		Subsystem: "conn",
		Name:      "migrations_total",
		Help:      "Connections that exited their event loop via Migrate.",
	})
	ActiveConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "shroomlink",
		Subsystem: "conn",
		Name:      "active",
		Help:      "Currently running connection event loops.",
	})
	RoomMembers = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "shroomlink",
		Subsystem: "room",
		Name:      "members",
		Help:      "Current member count per room.",
	}, []string{"room"})
)

// MustRegister registers every metric in this package with reg. Call once
// at process startup with prometheus.DefaultRegisterer or a test registry.
func MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(
		FramesIn,
		FramesOut,
		MissedFrames,
		PingTimeouts,
		Migrations,
		ActiveConnections,
		RoomMembers,
	)
}
