// Package telemetry holds the process-wide Prometheus metrics. Values
// are registered on the default registry and served by the control API's
// /metrics endpoint.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Outbound queue.
	OpsEnqueued = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chatsync",
		Subsystem: "queue",
		Name:      "ops_enqueued_total",
		Help:      "Operations accepted into the outbound sync queue.",
	})
	OpsDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chatsync",
		Subsystem: "queue",
		Name:      "ops_delivered_total",
		Help:      "Operations successfully delivered to the remote database.",
	})
	OpsRetried = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chatsync",
		Subsystem: "queue",
		Name:      "ops_retried_total",
		Help:      "Operations re-enqueued after a failed delivery attempt.",
	})
	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "chatsync",
		Subsystem: "queue",
		Name:      "depth",
		Help:      "Operations currently waiting for delivery.",
	})

	// Remote feed.
	FeedReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chatsync",
		Subsystem: "feed",
		Name:      "reconnects_total",
		Help:      "Realtime feed reconnection attempts.",
	})
	FeedEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatsync",
		Subsystem: "feed",
		Name:      "events_total",
		Help:      "Realtime change events received, by table.",
	}, []string{"table"})

	// Collaboration session.
	peerCount = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "chatsync",
		Subsystem: "collab",
		Name:      "peers",
		Help:      "Peers currently connected to the collaboration session.",
	})
	SessionReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chatsync",
		Subsystem: "collab",
		Name:      "reconnects_total",
		Help:      "Collaboration transport reconnections, forced or otherwise.",
	})
	SnapshotsPushed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chatsync",
		Subsystem: "collab",
		Name:      "snapshots_pushed_total",
		Help:      "Bootstrap snapshots pushed by this node as session leader.",
	})

	// Initial reconciliation.
	InitialSyncs = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chatsync",
		Subsystem: "sync",
		Name:      "initial_syncs_total",
		Help:      "Completed initial reconciliations with the remote database.",
	})
)

// SetQueueDepth records the current outbound queue depth.
func SetQueueDepth(n int) { queueDepth.Set(float64(n)) }

// SetPeerCount records the current collaboration peer count.
func SetPeerCount(n int) { peerCount.Set(float64(n)) }
