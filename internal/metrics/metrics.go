package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	sessionsStarted   prometheus.Counter
	sessionsEnded     prometheus.Counter
	intervalsOpened   prometheus.Counter
	intervalsClosed   prometheus.Counter
	duplicateJoins    prometheus.Counter
	participation     *prometheus.CounterVec
	bulkItemFailures  *prometheus.CounterVec
	eventsPublished   *prometheus.CounterVec
	publishFailures   prometheus.Counter
	framesDropped     prometheus.Counter
	activeConnections prometheus.Gauge
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		sessionsStarted: f.NewCounter(prometheus.CounterOpts{
			Name: "liveattend_sessions_started_total",
			Help: "Sessions moved into the active state.",
		}),
		sessionsEnded: f.NewCounter(prometheus.CounterOpts{
			Name: "liveattend_sessions_ended_total",
			Help: "Sessions moved into the ended state.",
		}),
		intervalsOpened: f.NewCounter(prometheus.CounterOpts{
			Name: "liveattend_intervals_opened_total",
			Help: "Presence intervals opened by join signals.",
		}),
		intervalsClosed: f.NewCounter(prometheus.CounterOpts{
			Name: "liveattend_intervals_closed_total",
			Help: "Presence intervals closed by leave signals or session end.",
		}),
		duplicateJoins: f.NewCounter(prometheus.CounterOpts{
			Name: "liveattend_duplicate_joins_total",
			Help: "Join signals ignored because the participant already had an open interval.",
		}),
		participation: f.NewCounterVec(prometheus.CounterOpts{
			Name: "liveattend_participation_logs_total",
			Help: "Participation log entries appended, by interaction type.",
		}, []string{"type"}),
		bulkItemFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "liveattend_bulk_item_failures_total",
			Help: "Bulk participation items rejected, by error kind.",
		}, []string{"kind"}),
		eventsPublished: f.NewCounterVec(prometheus.CounterOpts{
			Name: "liveattend_events_published_total",
			Help: "Broadcast events published, by event name.",
		}, []string{"event"}),
		publishFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "liveattend_event_publish_failures_total",
			Help: "Broadcast events that could not be handed to the bus.",
		}),
		framesDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "liveattend_frames_dropped_total",
			Help: "Frames dropped because a subscriber's send buffer was full.",
		}),
		activeConnections: f.NewGauge(prometheus.GaugeOpts{
			Name: "liveattend_hub_connections",
			Help: "Live dashboard connections held by this instance.",
		}),
	}
}

func (m *Metrics) SessionStarted() {
	if m != nil {
		m.sessionsStarted.Inc()
	}
}

func (m *Metrics) SessionEnded() {
	if m != nil {
		m.sessionsEnded.Inc()
	}
}

func (m *Metrics) IntervalOpened() {
	if m != nil {
		m.intervalsOpened.Inc()
	}
}

func (m *Metrics) IntervalsClosed(n int) {
	if m != nil && n > 0 {
		m.intervalsClosed.Add(float64(n))
	}
}

func (m *Metrics) DuplicateJoin() {
	if m != nil {
		m.duplicateJoins.Inc()
	}
}

func (m *Metrics) ParticipationAppended(interactionType string) {
	if m != nil {
		m.participation.WithLabelValues(interactionType).Inc()
	}
}

func (m *Metrics) BulkItemFailed(kind string) {
	if m != nil {
		m.bulkItemFailures.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) EventPublished(name string) {
	if m != nil {
		m.eventsPublished.WithLabelValues(name).Inc()
	}
}

func (m *Metrics) PublishFailed() {
	if m != nil {
		m.publishFailures.Inc()
	}
}

func (m *Metrics) FrameDropped() {
	if m != nil {
		m.framesDropped.Inc()
	}
}

func (m *Metrics) ConnectionOpened() {
	if m != nil {
		m.activeConnections.Inc()
	}
}

func (m *Metrics) ConnectionClosed() {
	if m != nil {
		m.activeConnections.Dec()
	}
}
