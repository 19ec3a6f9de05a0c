package monitoring

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	queueLength = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "queue_length",
			Help: "Current queue length per creator",
		},
		[]string{"creator_id"},
	)

	queueOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_operations_total",
			Help: "Total queue operations",
		},
		[]string{"operation", "status"},
	)

	sessionTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "session_transitions_total",
			Help: "Total session status transitions",
		},
		[]string{"transition", "status"},
	)

	teardownAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "teardown_attempts_total",
			Help: "Realtime subscription teardown attempts by outcome",
		},
		[]string{"outcome"},
	)

	settlementOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_operations_total",
			Help: "Rating and tip submissions",
		},
		[]string{"kind", "status"},
	)

	smsKeywords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sms_keywords_total",
			Help: "Inbound SMS keywords",
		},
		[]string{"keyword"},
	)

	frontChanges = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "queue_front_changes_total",
			Help: "Removals that took the front entry of a queue",
		},
	)

	legacyResolutions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "legacy_topic_resolutions_total",
			Help: "Resolutions that still returned a legacy secondary topic",
		},
	)

	sessionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "session_duration_seconds",
			Help:    "Duration of ended sessions",
			Buckets: prometheus.ExponentialBuckets(30, 2, 10),
		},
	)
)

// QueueSource is the read side of the store the collector polls.
type QueueSource interface {
	Creators(ctx context.Context) ([]string, error)
	QueueLength(ctx context.Context, creatorID string) (int64, error)
}

type Monitor struct {
	source   QueueSource
	interval time.Duration
	tracked  map[string]struct{}
}

func NewMonitor(source QueueSource) *Monitor {
	return &Monitor{
		source:   source,
		interval: 30 * time.Second,
		tracked:  make(map[string]struct{}),
	}
}

// Run collects gauges until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.collectQueueMetrics(ctx)
		}
	}
}

func (m *Monitor) collectQueueMetrics(ctx context.Context) {
	creators, err := m.source.Creators(ctx)
	if err != nil {
		slog.WarnContext(ctx, "metrics: list creators", "error", err)
		return
	}

	seen := make(map[string]struct{}, len(creators))
	for _, creatorID := range creators {
		length, err := m.source.QueueLength(ctx, creatorID)
		if err != nil {
			continue
		}
		queueLength.WithLabelValues(creatorID).Set(float64(length))
		seen[creatorID] = struct{}{}
	}

	// Queues that emptied since the last pass drop out of the creators set.
	for creatorID := range m.tracked {
		if _, ok := seen[creatorID]; !ok {
			queueLength.DeleteLabelValues(creatorID)
		}
	}
	m.tracked = seen
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func (m *Monitor) TrackQueueOperation(operation string, err error) {
	queueOperations.WithLabelValues(operation, statusLabel(err)).Inc()
}

func (m *Monitor) TrackSessionTransition(transition string, err error) {
	sessionTransitions.WithLabelValues(transition, statusLabel(err)).Inc()
}

func (m *Monitor) TrackTeardown(allowed bool) {
	outcome := "blocked"
	if allowed {
		outcome = "allowed"
	}
	teardownAttempts.WithLabelValues(outcome).Inc()
}

func (m *Monitor) TrackSettlement(kind string, err error) {
	settlementOperations.WithLabelValues(kind, statusLabel(err)).Inc()
}

func (m *Monitor) TrackSMSKeyword(keyword string) {
	smsKeywords.WithLabelValues(keyword).Inc()
}

func (m *Monitor) TrackFrontChange() {
	frontChanges.Inc()
}

func (m *Monitor) TrackLegacyTopic() {
	legacyResolutions.Inc()
}

func (m *Monitor) ObserveSessionDuration(seconds int64) {
	sessionDuration.Observe(float64(seconds))
}
