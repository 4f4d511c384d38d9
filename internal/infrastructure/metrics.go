package infrastructure

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"mandelbrot-dist/internal/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// PrometheusSink exports per-run measurements.
type PrometheusSink struct {
	rowsReceived prometheus.Counter
	runsTotal    *prometheus.CounterVec
	runDuration  *prometheus.HistogramVec
	workerRows   *prometheus.GaugeVec
	gridArea     prometheus.Gauge
}

// NewPrometheusSink registers all run metrics with the provided registry.
func NewPrometheusSink(registry prometheus.Registerer) *PrometheusSink {
	s := &PrometheusSink{
		rowsReceived: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "mandelbrot_rows_received_total",
				Help: "Total number of rows received by the coordinator",
			},
		),
		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mandelbrot_runs_total",
				Help: "Total number of completed runs",
			},
			[]string{"strategy", "workers"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mandelbrot_run_duration_seconds",
				Help:    "Wall-clock time from first assignment to last row",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
			},
			[]string{"strategy", "workers"},
		),
		workerRows: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "mandelbrot_worker_rows",
				Help: "Rows computed by each worker in the last run",
			},
			[]string{"strategy", "worker"},
		),
		gridArea: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "mandelbrot_grid_area_pixels",
				Help: "Pixel count of the last completed run",
			},
		),
	}

	registry.MustRegister(s.rowsReceived)
	registry.MustRegister(s.runsTotal)
	registry.MustRegister(s.runDuration)
	registry.MustRegister(s.workerRows)
	registry.MustRegister(s.gridArea)
	return s
}

func (s *PrometheusSink) OnRow(domain.RowResult) error {
	s.rowsReceived.Inc()
	return nil
}

func (s *PrometheusSink) OnComplete(stats domain.RunStats) error {
	labels := prometheus.Labels{
		"strategy": stats.Strategy.String(),
		"workers":  strconv.Itoa(stats.Workers),
	}
	s.runsTotal.With(labels).Inc()
	s.runDuration.With(labels).Observe(stats.ElapsedSeconds())
	s.gridArea.Set(float64(stats.GridArea))

	for i, rows := range stats.RowsPerWorker {
		s.workerRows.With(prometheus.Labels{
			"strategy": stats.Strategy.String(),
			"worker":   strconv.Itoa(i + 1),
		}).Set(float64(rows))
	}
	return nil
}

// ServeMetrics serves the gatherer on addr until ctx is cancelled.
func ServeMetrics(ctx context.Context, logger *zap.Logger, addr string, gatherer prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Serving metrics", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
