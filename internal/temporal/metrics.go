package temporal

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/rpattn/tickstore/internal/domain"
)

var (
	// saveTotal counts saves by entity type and result
	saveTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tickstore_save_total",
		Help: "Total temporal saves by entity type and result",
	}, []string{"entity_type", "result"})

	// saveDuration tracks the latency of the whole save transaction
	saveDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tickstore_save_duration_seconds",
		Help:    "Temporal save duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
	}, []string{"entity_type"})

	// ticksRecorded counts clock ticks committed
	ticksRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tickstore_ticks_recorded_total",
		Help: "Total clock ticks committed by entity type",
	}, []string{"entity_type"})

	// intervalsOpened counts history intervals committed
	intervalsOpened = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tickstore_intervals_opened_total",
		Help: "Total field history intervals opened by entity type and field",
	}, []string{"entity_type", "field"})

	// timelineDuration tracks timeline reconstruction latency
	timelineDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tickstore_timeline_duration_seconds",
		Help:    "Timeline reconstruction duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
	}, []string{"entity_type"})

	// timelineTicks tracks the number of ticks per reconstructed timeline
	timelineTicks = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tickstore_timeline_ticks",
		Help:    "Number of ticks per reconstructed timeline",
		Buckets: []float64{1, 5, 10, 50, 100, 500, 1000},
	})
)

func saveResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrConcurrentModification):
		return "conflict"
	case errors.Is(err, domain.ErrMissingActivity), errors.Is(err, domain.ErrUnexpectedActivity):
		return "rejected"
	default:
		return "error"
	}
}
