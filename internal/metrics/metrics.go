// Package metrics records run metrics and exports them for scraping or pushing.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/push"
)

const namespace = "evalprep"

// Recorder owns a private registry so repeated runs in one process do not
// collide on registration.
type Recorder struct {
	reg *prometheus.Registry

	stepDuration *prometheus.HistogramVec
	stepsTotal   *prometheus.CounterVec
	evalExitCode prometheus.Gauge
	uploadsTotal *prometheus.CounterVec

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// New builds a Recorder with all collectors registered.
func New() *Recorder {
	r := &Recorder{
		reg: prometheus.NewRegistry(),
		stepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "step_duration_seconds",
				Help:      "Wall time of pipeline steps in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.1, 4, 10),
			},
			[]string{"step", "status"},
		),
		stepsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "steps_total",
				Help:      "Pipeline steps by outcome",
			},
			[]string{"step", "status"},
		),
		evalExitCode: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "eval_exit_code",
				Help:      "Exit code of the last evaluation run (-1 before it finishes)",
			},
		),
		uploadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "upload_total",
				Help:      "Hub uploads by outcome",
			},
			[]string{"status"},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of status server HTTP requests",
			},
			[]string{"path", "method", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Duration of status server HTTP requests in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"path", "method", "status"},
		),
	}
	r.evalExitCode.Set(-1)
	r.reg.MustRegister(
		r.stepDuration, r.stepsTotal, r.evalExitCode, r.uploadsTotal,
		r.HTTPRequestsTotal, r.HTTPRequestDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Registry exposes the underlying registry as a Gatherer.
func (r *Recorder) Registry() *prometheus.Registry { return r.reg }

// ObserveStep records one finished step.
func (r *Recorder) ObserveStep(step, status string, d time.Duration) {
	r.stepDuration.WithLabelValues(step, status).Observe(d.Seconds())
	r.stepsTotal.WithLabelValues(step, status).Inc()
}

// SetEvalExitCode records the harness exit code.
func (r *Recorder) SetEvalExitCode(code int) { r.evalExitCode.Set(float64(code)) }

// ObserveUpload counts one finished upload.
func (r *Recorder) ObserveUpload(status string) { r.uploadsTotal.WithLabelValues(status).Inc() }

// WriteTextfile writes all metrics in the node-exporter textfile format.
func (r *Recorder) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.reg); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}

// Push sends all metrics to a Pushgateway under job.
func (r *Recorder) Push(ctx context.Context, url, job string) error {
	if job == "" {
		job = namespace
	}
	if err := push.New(url, job).Gatherer(r.reg).PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}
