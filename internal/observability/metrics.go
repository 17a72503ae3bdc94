package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the tutoring backend.
type Metrics struct {
	ActiveSessions     prometheus.Gauge
	SessionEvents      *prometheus.CounterVec
	StrokeEvents       *prometheus.CounterVec
	EventsDelivered    *prometheus.CounterVec
	EventSubscribers   prometheus.Gauge
	TranscriptionCalls *prometheus.CounterVec
	ReasoningActions   *prometheus.CounterVec
	ReasoningLevels    *prometheus.CounterVec
	ProviderErrors     *prometheus.CounterVec
	TTSHandlesIssued   prometheus.Counter
	TTSHandlesConsumed *prometheus.CounterVec
	TTSHandlesExpired  prometheus.Counter
	StageLatency       *prometheus.HistogramVec
	stageWindow        *turnStageWindow
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of active tutoring sessions.",
		}),
		SessionEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session lifecycle events by type (connect, disconnect).",
		}, []string{"event"}),
		StrokeEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stroke_events_total",
			Help:      "Incoming stroke batch events by kind (draw, erase).",
		}, []string{"kind"}),
		EventsDelivered: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_delivered_total",
			Help:      "SSE events delivered to subscribers by event type.",
		}, []string{"type"}),
		EventSubscribers: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "event_subscribers",
			Help:      "Number of currently connected SSE subscribers.",
		}),
		TranscriptionCalls: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcription_calls_total",
			Help:      "HRR recognize calls by outcome (ok, superseded, error).",
		}, []string{"outcome"}),
		ReasoningActions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reasoning_actions_total",
			Help:      "Reasoning decisions by chosen action (speak, silent).",
		}, []string{"action"}),
		ReasoningLevels: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reasoning_levels_total",
			Help:      "Reasoning decisions by feedback level.",
		}, []string{"level"}),
		ProviderErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_errors_total",
			Help:      "Adapter errors by provider and classified kind.",
		}, []string{"provider", "kind"}),
		TTSHandlesIssued: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tts_handles_issued_total",
			Help:      "TTS stream handles issued.",
		}),
		TTSHandlesConsumed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tts_handles_consumed_total",
			Help:      "TTS stream handles consumed by kind (fixed, streamed).",
		}, []string{"kind"}),
		TTSHandlesExpired: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tts_handles_expired_total",
			Help:      "TTS stream handles swept unclaimed after TTL.",
		}),
		StageLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_latency_ms",
			Help:      "Pipeline stage latency in milliseconds.",
			Buckets:   []float64{20, 50, 100, 150, 250, 400, 700, 1200, 2000, 4000, 7000, 10000},
		}, []string{"stage"}),
		stageWindow: newTurnStageWindow(256),
	}
}

func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	ms := float64(d.Milliseconds())
	m.StageLatency.WithLabelValues(stage).Observe(ms)
	m.stageWindow.Observe(stage, ms)
}

func (m *Metrics) ObserveSessionEvent(event string) {
	if m == nil || m.SessionEvents == nil {
		return
	}
	m.SessionEvents.WithLabelValues(event).Inc()
}

func (m *Metrics) ObserveStrokeEvent(kind string) {
	if m == nil || m.StrokeEvents == nil {
		return
	}
	m.StrokeEvents.WithLabelValues(kind).Inc()
}

func (m *Metrics) ObserveEventDelivered(eventType string) {
	if m == nil || m.EventsDelivered == nil {
		return
	}
	m.EventsDelivered.WithLabelValues(eventType).Inc()
}

func (m *Metrics) ObserveTranscriptionCall(outcome string) {
	if m == nil || m.TranscriptionCalls == nil {
		return
	}
	m.TranscriptionCalls.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveReasoningAction(action, level string) {
	if m == nil {
		return
	}
	if m.ReasoningActions != nil {
		m.ReasoningActions.WithLabelValues(action).Inc()
	}
	if m.ReasoningLevels != nil && level != "" {
		m.ReasoningLevels.WithLabelValues(level).Inc()
	}
}

func (m *Metrics) ObserveProviderError(provider string, kind string) {
	if m == nil || m.ProviderErrors == nil {
		return
	}
	m.ProviderErrors.WithLabelValues(provider, kind).Inc()
}

func (m *Metrics) ObserveTTSHandleIssued() {
	if m == nil || m.TTSHandlesIssued == nil {
		return
	}
	m.TTSHandlesIssued.Inc()
}

func (m *Metrics) ObserveTTSHandleConsumed(kind string) {
	if m == nil || m.TTSHandlesConsumed == nil {
		return
	}
	m.TTSHandlesConsumed.WithLabelValues(kind).Inc()
}

func (m *Metrics) ObserveTTSHandleExpired() {
	if m == nil || m.TTSHandlesExpired == nil {
		return
	}
	m.TTSHandlesExpired.Inc()
}

func (m *Metrics) SnapshotStages() TurnStageSnapshot {
	if m.stageWindow == nil {
		return TurnStageSnapshot{}
	}
	return m.stageWindow.Snapshot()
}

func (m *Metrics) ResetStages() {
	if m == nil || m.stageWindow == nil {
		return
	}
	m.stageWindow.Reset()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
