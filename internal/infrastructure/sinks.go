package infrastructure

import (
	"encoding/csv"
	"os"
	"strconv"

	"mandelbrot-dist/internal/domain"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

var (
	_ domain.Sink = (*CSVMetricsWriter)(nil)
	_ domain.Sink = (*LogSink)(nil)
	_ domain.Sink = (*ImageFileWriter)(nil)
	_ domain.Sink = (*PrometheusSink)(nil)
	_ domain.Sink = MultiSink(nil)
)

// CSVMetricsWriter appends one line per completed run:
// strategy,workers,area,elapsed_seconds.
type CSVMetricsWriter struct {
	logger   *zap.Logger
	filename string
}

func NewCSVMetricsWriter(logger *zap.Logger, filename string) *CSVMetricsWriter {
	return &CSVMetricsWriter{logger: logger, filename: filename}
}

func (w *CSVMetricsWriter) OnRow(domain.RowResult) error { return nil }

func (w *CSVMetricsWriter) OnComplete(stats domain.RunStats) error {
	file, err := os.OpenFile(w.filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	writer.Write([]string{
		stats.Strategy.String(),
		strconv.Itoa(stats.Workers),
		strconv.Itoa(stats.GridArea),
		strconv.FormatFloat(stats.ElapsedSeconds(), 'g', 6, 64),
	})
	writer.Flush()
	if err := writer.Error(); err != nil {
		return err
	}
	if err := file.Close(); err != nil {
		return err
	}

	w.logger.Debug("Appended run metrics", zap.String("file", w.filename))
	return nil
}

// LogSink reports rows and runs through the logger.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) OnRow(res domain.RowResult) error {
	if ce := s.logger.Check(zap.DebugLevel, "Row"); ce != nil {
		in := 0
		for _, b := range res.Bits {
			if b {
				in++
			}
		}
		ce.Write(zap.Int("row", res.Row), zap.Int("in_set", in))
	}
	return nil
}

func (s *LogSink) OnComplete(stats domain.RunStats) error {
	s.logger.Info("Run result",
		zap.Stringer("run", stats.RunID),
		zap.String("strategy", stats.Strategy.String()),
		zap.Int("workers", stats.Workers),
		zap.Int("area", stats.GridArea),
		zap.Float64("elapsed", stats.ElapsedSeconds()),
		zap.Ints("rows_per_worker", stats.RowsPerWorker))
	return nil
}

// MultiSink forwards every event to all sinks. A failing sink does not stop
// the others; the errors are combined.
type MultiSink []domain.Sink

func (m MultiSink) OnRow(res domain.RowResult) error {
	var err error
	for _, s := range m {
		err = multierr.Append(err, s.OnRow(res))
	}
	return err
}

func (m MultiSink) OnComplete(stats domain.RunStats) error {
	var err error
	for _, s := range m {
		err = multierr.Append(err, s.OnComplete(stats))
	}
	return err
}
