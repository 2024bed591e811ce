package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sitepub"

var publishBuckets = []float64{1, 5, 10, 30, 60, 120, 300, 600}

// Recorder holds the publish pipeline metrics on its own registry.
type Recorder struct {
	registry *prometheus.Registry

	stageOutcomes   *prometheus.CounterVec
	stageDuration   *prometheus.HistogramVec
	publishTotal    *prometheus.CounterVec
	publishDuration prometheus.Histogram
	commitConflicts prometheus.Counter
	droppedEvents   prometheus.Counter
}

func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		stageOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "stage_outcomes_total",
			Help:      "Count of finished pipeline stages by outcome",
		}, []string{"stage", "status"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Duration of pipeline stages",
			Buckets:   publishBuckets,
		}, []string{"stage"}),
		publishTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "publishes_total",
			Help:      "Count of publishes by result",
		}, []string{"result", "dry_run"}),
		publishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "publish_duration_seconds",
			Help:      "End to end duration of publishes",
			Buckets:   publishBuckets,
		}),
		commitConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "commit",
			Name:      "conflicts_total",
			Help:      "Count of commits rejected because the branch moved",
		}),
		droppedEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "dropped_total",
			Help:      "Count of pipeline events dropped on a full buffer",
		}),
	}

	r.registry.MustRegister(
		r.stageOutcomes,
		r.stageDuration,
		r.publishTotal,
		r.publishDuration,
		r.commitConflicts,
		r.droppedEvents,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// StageFinished records the final status of a stage and how long it ran.
func (r *Recorder) StageFinished(stage, status string, elapsed time.Duration) {
	r.stageOutcomes.WithLabelValues(stage, status).Inc()
	r.stageDuration.WithLabelValues(stage).Observe(elapsed.Seconds())
}

func (r *Recorder) PublishFinished(success, dryRun bool, elapsed time.Duration) {
	result := "failure"
	if success {
		result = "success"
	}
	dry := "false"
	if dryRun {
		dry = "true"
	}
	r.publishTotal.WithLabelValues(result, dry).Inc()
	r.publishDuration.Observe(elapsed.Seconds())
}

func (r *Recorder) CommitConflict() {
	r.commitConflicts.Inc()
}

func (r *Recorder) EventDropped() {
	r.droppedEvents.Inc()
}

// Handler exposes the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Registry is exposed for tests and for registering extra collectors.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// StageOutcomes is exposed for tests.
func (r *Recorder) StageOutcomes() *prometheus.CounterVec {
	return r.stageOutcomes
}

// DroppedEvents is exposed for tests.
func (r *Recorder) DroppedEvents() prometheus.Counter {
	return r.droppedEvents
}
