package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/xerrors"

	"github.com/aquasecurity/vuln-reconcile/pkg/reconcile"
	"github.com/aquasecurity/vuln-reconcile/pkg/types"
)

const namespace = "vuln_reconcile"

// Recorder collects run metrics on its own registry. A nil *Recorder is a no-op.
type Recorder struct {
	registry *prometheus.Registry

	artifactsTotal *prometheus.CounterVec
	scansTotal     *prometheus.CounterVec
	findingsTotal  *prometheus.CounterVec
	scanDuration   *prometheus.HistogramVec
}

func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		artifactsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "artifacts_total",
				Help:      "Artifacts processed, by outcome",
			},
			[]string{"result"},
		),
		scansTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "scans_total",
				Help:      "Scanner invocations, by scanner and outcome",
			},
			[]string{"scanner", "result"},
		),
		findingsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "findings_total",
				Help:      "Reconciled findings, by category",
			},
			[]string{"category"},
		),
		scanDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "scan_duration_seconds",
				Help:      "Duration of scanner invocations",
				Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"scanner"},
		),
	}
	r.registry.MustRegister(r.artifactsTotal, r.scansTotal, r.findingsTotal, r.scanDuration)
	return r
}

func (r *Recorder) ArtifactDone(err error) {
	if r == nil {
		return
	}
	r.artifactsTotal.WithLabelValues(outcome(err)).Inc()
}

func (r *Recorder) ObserveScan(kind types.ScannerKind, d time.Duration, err error) {
	if r == nil {
		return
	}
	r.scansTotal.WithLabelValues(string(kind), outcome(err)).Inc()
	r.scanDuration.WithLabelValues(string(kind)).Observe(d.Seconds())
}

func (r *Recorder) Reconciled(result reconcile.Result) {
	if r == nil {
		return
	}
	r.findingsTotal.WithLabelValues("matching").Add(float64(result.Matching.Len()))
	r.findingsTotal.WithLabelValues("mismatched").Add(float64(result.Mismatched.Len()))
	r.findingsTotal.WithLabelValues("unique_to_a").Add(float64(result.UniqueToA.Len()))
	r.findingsTotal.WithLabelValues("unique_to_b").Add(float64(result.UniqueToB.Len()))
}

func (r *Recorder) Gatherer() prometheus.Gatherer {
	return r.registry
}

// WriteTextfile writes the metrics in the text exposition format, for the
// node_exporter textfile collector.
func (r *Recorder) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return xerrors.Errorf("failed to write metrics to %s: %w", path, err)
	}
	return nil
}

func outcome(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}
