package workers

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// BatchMetrics contains the Prometheus metrics of batch analysis runs. A nil
// *BatchMetrics records nothing.
type BatchMetrics struct {
	ImagesProcessed   *prometheus.CounterVec
	DetectionDuration prometheus.Histogram
	GroupsInFlight    prometheus.Gauge
	RunDuration       prometheus.Histogram
}

// NewBatchMetrics creates the batch metrics and registers them on registerer.
func NewBatchMetrics(registerer prometheus.Registerer) (*BatchMetrics, error) {
	m := &BatchMetrics{
		ImagesProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "facetagger_batch_images_total",
				Help: "Images handled by batch runs, partitioned by outcome.",
			},
			[]string{"outcome"},
		),
		DetectionDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "facetagger_detection_duration_seconds",
				Help:    "Time taken to run face detection on one image",
				Buckets: prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~2.5s
			},
		),
		GroupsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "facetagger_batch_groups_in_flight",
				Help: "Number of image groups currently being analysed.",
			},
		),
		RunDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "facetagger_batch_run_duration_seconds",
				Help:    "Time taken by a complete batch run",
				Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms to ~7min
			},
		),
	}

	for _, c := range []prometheus.Collector{m.ImagesProcessed, m.DetectionDuration, m.GroupsInFlight, m.RunDuration} {
		if err := registerer.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register batch metrics: %w", err)
		}
	}
	return m, nil
}

func (m *BatchMetrics) recordOutcome(outcome Outcome) {
	if m == nil {
		return
	}
	m.ImagesProcessed.WithLabelValues(string(outcome)).Inc()
}

func (m *BatchMetrics) observeDetection(d time.Duration) {
	if m == nil {
		return
	}
	m.DetectionDuration.Observe(d.Seconds())
}

func (m *BatchMetrics) groupStarted() {
	if m == nil {
		return
	}
	m.GroupsInFlight.Inc()
}

func (m *BatchMetrics) groupFinished() {
	if m == nil {
		return
	}
	m.GroupsInFlight.Dec()
}

func (m *BatchMetrics) observeRun(d time.Duration) {
	if m == nil {
		return
	}
	m.RunDuration.Observe(d.Seconds())
}
