// Package metrics exposes Prometheus metrics for the fixcore engine:
// the indexer's progress and lag, the replay index's write/wrap activity,
// session-context persistence health, and replayer/archive activity.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// -------------------------------------------------------------------------
// Prometheus Metric Constants
// -------------------------------------------------------------------------

const (
	namespace = "fixcore"
	subsystem = "core"
)

// Label names.
const (
	labelSessionID = "session_id"
	labelStreamID  = "stream_id"
	labelKind      = "kind"
	labelDirection = "direction"
)

// -------------------------------------------------------------------------
// Collector — Prometheus fixcore metrics
// -------------------------------------------------------------------------

// Collector holds all fixcore Prometheus metrics.
//
// Metrics are grouped by the component that produces them:
//   - Sessions: session-context store health (persisted sessions, CRC
//     failures, out-of-space events).
//   - Indexer: messages indexed and how far behind the log the indexer is.
//   - ReplayIndex: ring writes and wrap events.
//   - Replayer: resend requests served and messages republished.
//   - Archive: offline scans performed.
type Collector struct {
	// ActiveSessions tracks the number of currently authenticated FIX
	// sessions in the session-context store.
	ActiveSessions prometheus.Gauge

	// PersistedSessions counts the sessions successfully persisted to the
	// sector-checksummed contexts file.
	PersistedSessions prometheus.Counter

	// SectorCRCFailures counts sector checksum mismatches detected during
	// recovery, labeled by the file kind ("contexts" or "replay_index").
	SectorCRCFailures *prometheus.CounterVec

	// ContextsOutOfSpace counts logon attempts that could not be persisted
	// because the contexts file was exhausted (spec §4.1 OUT_OF_SPACE).
	ContextsOutOfSpace prometheus.Counter

	// IndexedMessages counts FIX messages dispatched into a replay index,
	// labeled by session and stream id.
	IndexedMessages *prometheus.CounterVec

	// IndexerLagMessages gauges how many messages the indexer's catch-up
	// replay still has to drain for a given session/stream.
	IndexerLagMessages *prometheus.GaugeVec

	// RingWraps counts replay-index ring wrap events (oldest record
	// overwritten), labeled by session and stream id.
	RingWraps *prometheus.CounterVec

	// ResendRequests counts ResendRequest messages served, labeled by
	// session id.
	ResendRequests *prometheus.CounterVec

	// ReplayedMessages counts individual messages republished by the
	// replayer, labeled by session id.
	ReplayedMessages *prometheus.CounterVec

	// PublicationBackpressureRetries counts tryClaim back-pressure retries
	// encountered while republishing replayed messages.
	PublicationBackpressureRetries prometheus.Counter

	// ArchiveScans counts offline archive scans performed, labeled by
	// direction ("sent"/"received").
	ArchiveScans *prometheus.CounterVec
}

// NewCollector creates a Collector with all fixcore metrics registered
// against reg. If reg is nil, prometheus.DefaultRegisterer is used.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.ActiveSessions,
		c.PersistedSessions,
		c.SectorCRCFailures,
		c.ContextsOutOfSpace,
		c.IndexedMessages,
		c.IndexerLagMessages,
		c.RingWraps,
		c.ResendRequests,
		c.ReplayedMessages,
		c.PublicationBackpressureRetries,
		c.ArchiveScans,
	)

	return c
}

func newMetrics() *Collector {
	sessionStreamLabels := []string{labelSessionID, labelStreamID}

	return &Collector{
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "active_sessions",
			Help:      "Number of currently authenticated FIX sessions.",
		}),

		PersistedSessions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "persisted_sessions_total",
			Help:      "Total session contexts successfully persisted to the contexts file.",
		}),

		SectorCRCFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "sector_crc_failures_total",
			Help:      "Total sector checksum mismatches detected during recovery.",
		}, []string{labelKind}),

		ContextsOutOfSpace: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "contexts_out_of_space_total",
			Help:      "Total logon attempts that could not be persisted due to file exhaustion.",
		}),

		IndexedMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "indexed_messages_total",
			Help:      "Total FIX messages dispatched into a replay index.",
		}, sessionStreamLabels),

		IndexerLagMessages: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "indexer_lag_messages",
			Help:      "Messages remaining in the indexer's catch-up replay for a session/stream.",
		}, sessionStreamLabels),

		RingWraps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "replay_index_ring_wraps_total",
			Help:      "Total replay-index ring wrap events (oldest record overwritten).",
		}, sessionStreamLabels),

		ResendRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "resend_requests_total",
			Help:      "Total ResendRequest messages served.",
		}, []string{labelSessionID}),

		ReplayedMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "replayed_messages_total",
			Help:      "Total messages republished by the replayer.",
		}, []string{labelSessionID}),

		PublicationBackpressureRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "publication_backpressure_retries_total",
			Help:      "Total tryClaim back-pressure retries while republishing replayed messages.",
		}),

		ArchiveScans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "archive_scans_total",
			Help:      "Total offline archive scans performed.",
		}, []string{labelDirection}),
	}
}

// -------------------------------------------------------------------------
// Session Lifecycle
// -------------------------------------------------------------------------

// RegisterSession increments the active-sessions gauge. The session
// context store does not call it.
func (c *Collector) RegisterSession() {
	c.ActiveSessions.Inc()
}

// UnregisterSession decrements the active-sessions gauge. The session
// context store does not call it.
func (c *Collector) UnregisterSession() {
	c.ActiveSessions.Dec()
}

// -------------------------------------------------------------------------
// Session-Context Persistence
// -------------------------------------------------------------------------

// IncSectorCRCFailures increments the sector-CRC-failure counter for the
// given file kind.
func (c *Collector) IncSectorCRCFailures(kind string) {
	c.SectorCRCFailures.WithLabelValues(kind).Inc()
}

// IncContextsOutOfSpace increments the contexts-file-exhaustion counter.
func (c *Collector) IncContextsOutOfSpace() {
	c.ContextsOutOfSpace.Inc()
}

// -------------------------------------------------------------------------
// Indexer
// -------------------------------------------------------------------------

// IncIndexedMessages increments the indexed-messages counter for a
// session/stream pair.
func (c *Collector) IncIndexedMessages(sessionID, streamID string) {
	c.IndexedMessages.WithLabelValues(sessionID, streamID).Inc()
}

// SetIndexerLag sets the remaining catch-up backlog for a session/stream.
func (c *Collector) SetIndexerLag(sessionID, streamID string, remaining float64) {
	c.IndexerLagMessages.WithLabelValues(sessionID, streamID).Set(remaining)
}

// -------------------------------------------------------------------------
// Replay Index
// -------------------------------------------------------------------------

// IncRingWraps increments the ring-wrap counter for a session/stream.
func (c *Collector) IncRingWraps(sessionID, streamID string) {
	c.RingWraps.WithLabelValues(sessionID, streamID).Inc()
}

// -------------------------------------------------------------------------
// Replayer
// -------------------------------------------------------------------------

// IncResendRequests increments the resend-request counter for a session.
func (c *Collector) IncResendRequests(sessionID string) {
	c.ResendRequests.WithLabelValues(sessionID).Inc()
}

// IncReplayedMessages increments the replayed-message counter for a session.
func (c *Collector) IncReplayedMessages(sessionID string) {
	c.ReplayedMessages.WithLabelValues(sessionID).Inc()
}

// IncPublicationBackpressureRetries increments the back-pressure retry
// counter.
func (c *Collector) IncPublicationBackpressureRetries() {
	c.PublicationBackpressureRetries.Inc()
}

// -------------------------------------------------------------------------
// Archive
// -------------------------------------------------------------------------

// IncArchiveScans increments the archive-scan counter for a direction.
func (c *Collector) IncArchiveScans(direction string) {
	c.ArchiveScans.WithLabelValues(direction).Inc()
}
