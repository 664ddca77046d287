// Package telemetry records per-run training metrics in a private Prometheus
// registry and exports them in the text exposition format, suitable for the
// node_exporter textfile collector.
package telemetry

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/common/expfmt"

	"github.com/rulwatch/rulwatch/trainer/internal/evaluate"
)

const namespace = "rulwatch"

// Recorder holds the gauges and counters of one trainer process.
type Recorder struct {
	reg *prometheus.Registry

	rows          *prometheus.GaugeVec
	engines       *prometheus.GaugeVec
	stageDuration *prometheus.GaugeVec
	classMetric   *prometheus.GaugeVec
	accuracy      *prometheus.GaugeVec
	gatesFired    *prometheus.GaugeVec
	runs          *prometheus.CounterVec
	lastRun       prometheus.Gauge
}

// NewRecorder returns a Recorder backed by a fresh registry.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Recorder{
		reg: reg,
		rows: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rows",
			Help:      "Rows per split and stage (loaded, labeled, kept).",
		}, []string{"split", "stage"}),
		engines: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "engines",
			Help:      "Distinct engine ids per split.",
		}, []string{"split"}),
		stageDuration: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Wall time of the last run's pipeline stages.",
		}, []string{"stage"}),
		classMetric: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "class_metric",
			Help:      "Per-class precision, recall and f1 of the last evaluation.",
		}, []string{"variant", "class", "metric"}),
		accuracy: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "accuracy",
			Help:      "Test accuracy of the last evaluation.",
		}, []string{"variant"}),
		gatesFired: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "gates_fired",
			Help:      "Quality gates that fired in the last run, by severity.",
		}, []string{"severity"}),
		runs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Training runs by outcome.",
		}, []string{"outcome"}),
		lastRun: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last run finished.",
		}),
	}
}

// Rows sets the row count of split at stage.
func (r *Recorder) Rows(split, stage string, n int) {
	r.rows.WithLabelValues(split, stage).Set(float64(n))
}

// Engines sets the number of engines seen in split.
func (r *Recorder) Engines(split string, n int) {
	r.engines.WithLabelValues(split).Set(float64(n))
}

// Stage records how long a pipeline stage took.
func (r *Recorder) Stage(stage string, d time.Duration) {
	r.stageDuration.WithLabelValues(stage).Set(d.Seconds())
}

// Evaluation records a classification report under variant ("raw", "pca").
func (r *Recorder) Evaluation(variant string, rep evaluate.Report) {
	for _, m := range rep.Classes {
		r.classMetric.WithLabelValues(variant, m.Name, "precision").Set(m.Precision)
		r.classMetric.WithLabelValues(variant, m.Name, "recall").Set(m.Recall)
		r.classMetric.WithLabelValues(variant, m.Name, "f1").Set(m.F1)
	}
	r.accuracy.WithLabelValues(variant).Set(rep.Accuracy)
}

// Gates records how many gates fired per severity.
func (r *Recorder) Gates(fired []evaluate.Violation) {
	r.gatesFired.Reset()
	for _, v := range fired {
		r.gatesFired.WithLabelValues(v.Severity).Inc()
	}
}

// Finish counts a finished run and stamps its completion time.
func (r *Recorder) Finish(outcome string, at time.Time) {
	r.runs.WithLabelValues(outcome).Inc()
	r.lastRun.Set(float64(at.Unix()))
}

// Gatherer exposes the registry, e.g. for tests.
func (r *Recorder) Gatherer() prometheus.Gatherer { return r.reg }

// WriteTextfile writes every metric to path in the text exposition format.
// The file is written beside path and renamed into place so collectors
// never read a partial file.
func (r *Recorder) WriteTextfile(path string) error {
	mfs, err := r.reg.Gather()
	if err != nil {
		return fmt.Errorf("telemetry: gather: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("telemetry: create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	enc := expfmt.NewEncoder(tmp, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range mfs {
		if err := enc.Encode(mf); err != nil {
			tmp.Close()
			return fmt.Errorf("telemetry: encode %s: %w", mf.GetName(), err)
		}
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("telemetry: close temp file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("telemetry: chmod: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("telemetry: rename: %w", err)
	}
	return nil
}
