package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// LinesProcessed counts every line read from an uploaded file
	LinesProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crawlytics_lines_processed_total",
		Help: "Total number of log lines processed",
	})

	// CrawlerMatches counts lines accepted as crawler traffic
	CrawlerMatches = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crawlytics_crawler_matches_total",
		Help: "Total number of lines classified as crawler traffic",
	})

	// JobsTotal counts finished jobs by final status
	JobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crawlytics_jobs_total",
		Help: "Total number of ingestion jobs by final status",
	}, []string{"status"})

	RowsInserted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crawlytics_rows_inserted_total",
		Help: "Total number of access log rows written to storage",
	})

	RowErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crawlytics_row_errors_total",
		Help: "Total number of access log rows that could not be written",
	})

	// BatchFallbacks counts batches that fell back to row-by-row inserts
	BatchFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crawlytics_batch_fallbacks_total",
		Help: "Total number of batches retried one row at a time",
	})

	JobDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "crawlytics_job_duration_seconds",
		Help:    "End-to-end duration of ingestion jobs",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
	})

	PatternReloads = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crawlytics_pattern_reloads_total",
		Help: "Total number of crawler pattern updates applied",
	})
)

// Handler exposes the default registry
func Handler() http.Handler {
	return promhttp.Handler()
}

func newServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// StartServer serves /metrics on addr until ctx is done or the listener fails
func StartServer(ctx context.Context, addr string) error {
	srv := newServer(addr)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
