package app

import (
	"context"
	"fmt"
	"time"

	"mandelbrot-dist/internal/domain"
	"mandelbrot-dist/internal/strategy"
	"mandelbrot-dist/internal/wire"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Coordinator drives the controlling side of a run: it broadcasts the problem,
// runs the strategy's coordinator protocol and streams every row to the sink.
type Coordinator struct {
	logger    *zap.Logger
	messenger *wire.Messenger
	sink      domain.Sink
}

func NewCoordinator(logger *zap.Logger, messenger *wire.Messenger, sink domain.Sink) *Coordinator {
	return &Coordinator{
		logger:    logger,
		messenger: messenger,
		sink:      sink,
	}
}

// Run renders p once. It blocks until the last expected row arrives; a worker
// that never answers blocks it for as long as ctx allows.
func (c *Coordinator) Run(ctx context.Context, p domain.Problem) (domain.RunStats, error) {
	if err := p.Validate(); err != nil {
		return domain.RunStats{}, err
	}
	workers := c.messenger.Workers()
	if workers < 1 {
		return domain.RunStats{}, fmt.Errorf("%w: %d", domain.ErrInsufficientWorkers, workers)
	}
	proto, err := strategy.For(c.logger, p.Strategy)
	if err != nil {
		return domain.RunStats{}, err
	}

	runID := uuid.New()
	logger := c.logger.With(zap.Stringer("run", runID))
	logger.Info("Starting run",
		zap.Stringer("strategy", p.Strategy),
		zap.Int("workers", workers),
		zap.Int("width", p.Width),
		zap.Int("height", p.Height),
		zap.Int("iterations", p.IterationLimit))

	broadcast := wire.ProblemBroadcast{RunID: runID, Problem: p, Compress: c.messenger.Codec().Compress()}
	if err := c.messenger.Broadcast(ctx, broadcast); err != nil {
		return domain.RunStats{}, err
	}

	tracker := newRowTracker(p, workers)
	start := time.Now()
	err = proto.Coordinate(ctx, c.messenger, p, func(source int, res domain.RowResult) error {
		if err := tracker.accept(source, res); err != nil {
			return err
		}
		logger.Debug("Row received", zap.Int("row", res.Row), zap.Int("worker", source))
		return c.sink.OnRow(res)
	})
	elapsed := time.Since(start)
	if err != nil {
		logger.Error("Run aborted", zap.Int("rows", tracker.received), zap.Error(err))
		return domain.RunStats{}, err
	}

	stats := domain.RunStats{
		RunID:         runID,
		Strategy:      p.Strategy,
		Workers:       workers,
		GridArea:      p.Area(),
		Elapsed:       elapsed,
		RowsPerWorker: tracker.perWorker,
	}
	balance := Balance(stats.RowsPerWorker)
	logger.Info("Run completed",
		zap.Duration("elapsed", elapsed),
		zap.Int("min_rows", balance.Min),
		zap.Int("max_rows", balance.Max),
		zap.Float64("imbalance", balance.Imbalance))

	if err := c.sink.OnComplete(stats); err != nil {
		return stats, err
	}
	return stats, nil
}

// rowTracker checks that every row arrives exactly once without keeping the
// rows themselves.
type rowTracker struct {
	height, width int
	seen          []bool
	received      int
	perWorker     []int
}

func newRowTracker(p domain.Problem, workers int) *rowTracker {
	return &rowTracker{
		height:    p.Height,
		width:     p.Width,
		seen:      make([]bool, p.Height),
		perWorker: make([]int, workers),
	}
}

func (t *rowTracker) accept(source int, res domain.RowResult) error {
	if source < 1 || source > len(t.perWorker) {
		return fmt.Errorf("%w: row from rank %d", domain.ErrProtocol, source)
	}
	if res.Row < 0 || res.Row >= t.height {
		return fmt.Errorf("%w: row %d from rank %d, height %d", domain.ErrRowOutOfRange, res.Row, source, t.height)
	}
	if len(res.Bits) != t.width {
		return fmt.Errorf("%w: row %d has %d columns, want %d", domain.ErrProtocol, res.Row, len(res.Bits), t.width)
	}
	if t.seen[res.Row] {
		return fmt.Errorf("%w: row %d from rank %d", domain.ErrDuplicateRow, res.Row, source)
	}
	t.seen[res.Row] = true
	t.received++
	t.perWorker[source-1]++
	return nil
}
