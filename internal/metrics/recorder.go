// Package metrics records saga and notification outcomes in prometheus.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"datec-go/internal/datec"
)

const namespace = "datec"

// Recorder implements datec.Metrics over its own registry.
type Recorder struct {
	registry *prometheus.Registry

	steps         *prometheus.CounterVec   // step outcomes by saga and step
	sagaDuration  *prometheus.HistogramVec // saga wall time by final status
	bestEffort    *prometheus.CounterVec   // failed tolerated and background steps
	notifications *prometheus.CounterVec   // deliveries by kind and result
}

var _ datec.Metrics = (*Recorder)(nil)

// NewRecorder creates a Recorder with all collectors registered.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),

		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "saga",
			Name:      "steps_total",
			Help:      "Saga step executions by outcome",
		}, []string{"saga", "step", "outcome"}),

		sagaDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "saga",
			Name:      "duration_seconds",
			Help:      "Saga duration until the caller got its result",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}, []string{"saga", "status"}),

		bestEffort: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "best_effort_failures_total",
			Help:      "Failed best-effort saga steps",
		}, []string{"saga", "step"}),

		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notification deliveries by kind and result",
		}, []string{"kind", "result"}),
	}
	r.registry.MustRegister(r.steps, r.sagaDuration, r.bestEffort, r.notifications)
	return r
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

func (r *Recorder) StepFinished(saga, step, outcome string) {
	r.steps.WithLabelValues(saga, step, outcome).Inc()
}

func (r *Recorder) SagaFinished(saga, status string, d time.Duration) {
	r.sagaDuration.WithLabelValues(saga, status).Observe(d.Seconds())
}

func (r *Recorder) BestEffortFailed(saga, step string) {
	r.bestEffort.WithLabelValues(saga, step).Inc()
}

func (r *Recorder) NotificationDelivered(kind string, ok bool) {
	result := "ok"
	if !ok {
		result = "failed"
	}
	r.notifications.WithLabelValues(kind, result).Inc()
}

// WriteTextfile writes the registry in the node-exporter textfile format.
// An empty path is a no-op.
func (r *Recorder) WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("writing metrics textfile: %w", err)
	}
	return nil
}
