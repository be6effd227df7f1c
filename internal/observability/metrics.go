package observability

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const metricsNamespace = "ingest"

// Metrics holds the ingest Prometheus metrics. Gauges mirror the coordinator's
// aggregate totals; counters are incremented by the sink and the fetcher.
type Metrics struct {
	LinesProcessed prometheus.Gauge
	LinesMatched   prometheus.Gauge
	LinesErrored   prometheus.Gauge
	BytesProcessed prometheus.Gauge
	BytesTotal     prometheus.Gauge
	FilesDone      prometheus.Gauge
	FilesFailed    prometheus.Gauge
	Throughput     prometheus.Gauge // bytes per second, smoothed
	ETASeconds     prometheus.Gauge

	SinkBatches   *prometheus.CounterVec // label: result
	SinkRecords   *prometheus.CounterVec // label: kind
	FetchRequests *prometheus.CounterVec // label: status
}

// NewMetrics registers the ingest metrics on reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	gauge := func(name, help string) prometheus.Gauge {
		return f.NewGauge(prometheus.GaugeOpts{Namespace: metricsNamespace, Name: name, Help: help})
	}

	return &Metrics{
		LinesProcessed: gauge("lines_processed", "Lines read across all files in this run"),
		LinesMatched:   gauge("lines_matched", "Lines matching the filter"),
		LinesErrored:   gauge("lines_errored", "Lines that could not be parsed"),
		BytesProcessed: gauge("bytes_processed", "Compressed bytes consumed"),
		BytesTotal:     gauge("bytes_total", "Compressed bytes across all files"),
		FilesDone:      gauge("files_done", "Files that are complete or failed"),
		FilesFailed:    gauge("files_failed", "Files that failed in this run"),
		Throughput:     gauge("throughput_bytes_per_second", "Smoothed compressed throughput"),
		ETASeconds:     gauge("eta_seconds", "Estimated seconds remaining, -1 when unknown"),

		SinkBatches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "sink_batches_total",
			Help:      "Batches written to the record sink",
		}, []string{"result"}),
		SinkRecords: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "sink_records_total",
			Help:      "Records written to the record sink",
		}, []string{"kind"}),
		FetchRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "fetch_requests_total",
			Help:      "Thread fetch requests by outcome",
		}, []string{"status"}),
	}
}

// ServeMetrics exposes gatherer on addr until ctx is cancelled
func ServeMetrics(ctx context.Context, addr string, gatherer prometheus.Gatherer) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	go func() {
		log.Info().Str("addr", addr).Msg("Serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("addr", addr).Msg("Metrics server failed")
		}
	}()
}

// ObserveSinkBatch counts one sink write. Safe on a nil receiver.
func (m *Metrics) ObserveSinkBatch(err error, submissions, comments int) {
	if m == nil {
		return
	}
	if err != nil {
		m.SinkBatches.WithLabelValues("error").Inc()
		return
	}
	m.SinkBatches.WithLabelValues("ok").Inc()
	m.SinkRecords.WithLabelValues("submission").Add(float64(submissions))
	m.SinkRecords.WithLabelValues("comment").Add(float64(comments))
}

// ObserveFetch counts one thread fetch attempt by outcome. Safe on a nil receiver.
func (m *Metrics) ObserveFetch(status string) {
	if m == nil {
		return
	}
	m.FetchRequests.WithLabelValues(status).Inc()
}
