package app

import (
	"context"
	"fmt"

	"mandelbrot-dist/internal/domain"
	"mandelbrot-dist/internal/transport"
	"mandelbrot-dist/internal/wire"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// LocalRunner runs the coordinator and all workers inside one process, each as
// a goroutine on an in-memory network.
type LocalRunner struct {
	logger   *zap.Logger
	workers  int
	compute  domain.RowComputer
	sink     domain.Sink
	compress bool
}

func NewLocalRunner(logger *zap.Logger, workers int, compute domain.RowComputer, sink domain.Sink, compress bool) *LocalRunner {
	return &LocalRunner{
		logger:   logger,
		workers:  workers,
		compute:  compute,
		sink:     sink,
		compress: compress,
	}
}

// Run renders p once. The first failing participant cancels the others.
func (r *LocalRunner) Run(ctx context.Context, p domain.Problem) (domain.RunStats, error) {
	if r.workers < 1 {
		return domain.RunStats{}, fmt.Errorf("%w: %d", domain.ErrInsufficientWorkers, r.workers)
	}
	codec, err := wire.NewCodec(r.compress)
	if err != nil {
		return domain.RunStats{}, err
	}
	defer codec.Close()

	// One slot per worker is enough for every strategy to make progress
	// without a receiver waiting.
	network := transport.NewLocalNetwork(r.workers, r.workers)
	defer network.Close()

	g, gctx := errgroup.WithContext(ctx)
	for rank := 1; rank <= r.workers; rank++ {
		ep, err := network.Endpoint(rank)
		if err != nil {
			return domain.RunStats{}, err
		}
		r.logger.Debug("Starting worker", zap.Int("id", rank))
		w := NewWorker(r.logger, wire.NewMessenger(ep, codec), r.compute)
		g.Go(func() error {
			return w.Run(gctx)
		})
	}

	ep, err := network.Endpoint(transport.CoordinatorRank)
	if err != nil {
		return domain.RunStats{}, err
	}
	coordinator := NewCoordinator(r.logger, wire.NewMessenger(ep, codec), r.sink)
	var stats domain.RunStats
	g.Go(func() error {
		var err error
		stats, err = coordinator.Run(gctx, p)
		return err
	})

	if err := g.Wait(); err != nil {
		return domain.RunStats{}, err
	}
	return stats, nil
}

// RunRepeated renders p n times in a row and returns every run's stats.
func (r *LocalRunner) RunRepeated(ctx context.Context, p domain.Problem, n int) ([]domain.RunStats, error) {
	runs := make([]domain.RunStats, 0, n)
	for i := range n {
		stats, err := r.Run(ctx, p)
		if err != nil {
			return runs, fmt.Errorf("run %d of %d: %w", i+1, n, err)
		}
		runs = append(runs, stats)
	}
	if n > 1 {
		s := Summarize(runs)
		r.logger.Info("Repeated runs completed",
			zap.Stringer("strategy", p.Strategy),
			zap.Int("runs", s.Runs),
			zap.Float64("mean_seconds", s.Mean),
			zap.Float64("stddev_seconds", s.StdDev),
			zap.Float64("min_seconds", s.Min),
			zap.Float64("max_seconds", s.Max))
	}
	return runs, nil
}
