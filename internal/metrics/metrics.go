// Package metrics exposes Prometheus collectors for the chat server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ConnectionsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chat_connections_open",
		Help: "Open control-channel connections.",
	})

	UsersOnline = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chat_users_online",
		Help: "Authenticated users currently bound to a connection.",
	})

	FramesRead = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_frames_read_total",
		Help: "Control-channel frames read from clients.",
	})

	EventsDelivered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_events_delivered_total",
		Help: "Event frames delivered to live connections, by command.",
	}, []string{"command"})

	OfflineEnqueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_offline_enqueued_total",
		Help: "Event frames parked in the offline queue.",
	})

	OfflineDrained = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_offline_drained_total",
		Help: "Queued frames replayed to reconnecting users.",
	})

	CallsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chat_voice_calls_active",
		Help: "Voice calls currently ringing or connected.",
	})

	FileBridgeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chat_file_bridge_sessions",
		Help: "File transfer sessions waiting on or using the data channel.",
	})

	FileBridgeBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_file_bridge_bytes_total",
		Help: "Bytes spliced across the data channel.",
	})
)
