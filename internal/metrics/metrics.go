// Package metrics implements Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CapturePacketsTotal counts packets read by a capture plugin
	CapturePacketsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resmeter_capture_packets_total",
			Help: "Total number of packets captured",
		},
		[]string{"capturer"},
	)

	// CaptureDropsTotal counts packets dropped before reaching the engine
	CaptureDropsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resmeter_capture_drops_total",
			Help: "Total number of packets dropped during capture",
		},
		[]string{"stage"},
	)

	// SegmentsTotal counts TCP segments by how reconstruction treated them
	SegmentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resmeter_reassembly_segments_total",
			Help: "Total number of TCP segments offered to stream reconstruction",
		},
		[]string{"result"}, // ignored | identified | cached | stale
	)

	// ServerLocksTotal counts server connection identifications by strategy
	ServerLocksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resmeter_server_locks_total",
			Help: "Total number of times a game server connection was identified",
		},
		[]string{"identifier"},
	)

	// ReassemblyResetsTotal counts lock drops
	ReassemblyResetsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resmeter_reassembly_resets_total",
			Help: "Total number of stream reconstruction resets",
		},
		[]string{"reason"}, // idle | framing
	)

	// ReassemblyCachedSegments tracks out-of-order segments awaiting the cursor
	ReassemblyCachedSegments = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "resmeter_reassembly_cached_segments",
			Help: "Number of out-of-order segments held in the reconstruction cache",
		},
	)

	// FramesTotal counts decoded frames by message type
	FramesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resmeter_frames_total",
			Help: "Total number of frames decoded",
		},
		[]string{"type"},
	)

	// DecodeErrorsTotal counts dropped frames by error kind
	DecodeErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resmeter_decode_errors_total",
			Help: "Total number of frames dropped because of decode errors",
		},
		[]string{"kind"},
	)

	// NotifyTotal counts notify messages by method
	NotifyTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resmeter_notify_total",
			Help: "Total number of notify messages by method",
		},
		[]string{"method"},
	)

	// CombatEventsTotal counts routed combat events
	CombatEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resmeter_combat_events_total",
			Help: "Total number of combat events by routing outcome",
		},
		[]string{"route"}, // damage | healing | taken | discarded
	)

	// CycleLatencySeconds measures one segment cycle in the engine
	CycleLatencySeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "resmeter_engine_cycle_seconds",
			Help:    "Latency of one identify/reassemble/decode/aggregate cycle",
			Buckets: prometheus.ExponentialBuckets(0.000001, 2, 20), // 1µs to ~1s
		},
	)

	// PlayersTracked tracks registry size
	PlayersTracked = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "resmeter_players_tracked",
			Help: "Number of players in the statistics registry",
		},
	)

	// WebsocketClients tracks connected presentation clients
	WebsocketClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "resmeter_websocket_clients",
			Help: "Number of connected WebSocket clients",
		},
	)

	// ReportsTotal counts reporter deliveries
	ReportsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resmeter_reports_total",
			Help: "Total number of snapshot reports by reporter and result",
		},
		[]string{"reporter", "result"}, // ok | error
	)

	// ProfileStoreErrorsTotal counts failed profile cache writes
	ProfileStoreErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resmeter_profile_store_errors_total",
			Help: "Total number of failed profile store operations",
		},
		[]string{"op"}, // load | save | flush
	)
)
