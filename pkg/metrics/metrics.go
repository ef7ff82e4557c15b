package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for one processing run.
type Metrics struct {
	Registry *prometheus.Registry

	// Sample outcomes by result ("success", "failure") and failing stage
	SampleOutcome *prometheus.CounterVec

	// Per-sample processing latency
	SampleLatency prometheus.Histogram

	// Series crawled by modality
	SeriesCrawled *prometheus.CounterVec

	// Dangling reference edges dropped while building the graph
	DanglingEdges prometheus.Counter

	// Files and bytes written
	FilesWritten prometheus.Counter
	BytesWritten prometheus.Counter
}

// New creates a Metrics instance registered on its own registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		Registry: reg,

		SampleOutcome: f.NewCounterVec(prometheus.CounterOpts{
			Name: "medimagetools_samples_total",
			Help: "Processed samples by result and failing stage",
		}, []string{"result", "stage"}),

		SampleLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "medimagetools_sample_duration_seconds",
			Help:    "Duration of loading, rasterizing and writing one sample",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),

		SeriesCrawled: f.NewCounterVec(prometheus.CounterOpts{
			Name: "medimagetools_series_crawled_total",
			Help: "Series found by the crawler by modality",
		}, []string{"modality"}),

		DanglingEdges: f.NewCounter(prometheus.CounterOpts{
			Name: "medimagetools_dangling_references_total",
			Help: "References to series absent from the crawl",
		}),

		FilesWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "medimagetools_files_written_total",
			Help: "Output files written",
		}),

		BytesWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "medimagetools_bytes_written_total",
			Help: "Bytes of output written",
		}),
	}
}

// ObserveSample records the outcome of one sample. stage is empty on success.
func (m *Metrics) ObserveSample(success bool, stage string, d time.Duration) {
	if m == nil {
		return
	}
	result := "success"
	if !success {
		result = "failure"
	}
	m.SampleOutcome.WithLabelValues(result, stage).Inc()
	m.SampleLatency.Observe(d.Seconds())
}

// IncrementSeries records one crawled series.
func (m *Metrics) IncrementSeries(modality string) {
	if m != nil {
		m.SeriesCrawled.WithLabelValues(modality).Inc()
	}
}

// AddDanglingEdges records dropped graph edges.
func (m *Metrics) AddDanglingEdges(n int) {
	if m != nil {
		m.DanglingEdges.Add(float64(n))
	}
}

// ObserveWrite records one written file.
func (m *Metrics) ObserveWrite(bytes int64) {
	if m != nil {
		m.FilesWritten.Inc()
		m.BytesWritten.Add(float64(bytes))
	}
}

// WriteTextfile dumps the registry in the Prometheus text format, for the
// node exporter textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.Registry)
}
