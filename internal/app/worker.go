package app

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"mandelbrot-dist/internal/domain"
	"mandelbrot-dist/internal/strategy"
	"mandelbrot-dist/internal/wire"

	"go.uber.org/zap"
)

// Worker is one computing participant. It learns the problem from the
// coordinator's broadcast and then follows the strategy named in it.
type Worker struct {
	logger    *zap.Logger
	messenger *wire.Messenger
	compute   domain.RowComputer
}

func NewWorker(logger *zap.Logger, messenger *wire.Messenger, compute domain.RowComputer) *Worker {
	return &Worker{
		logger:    logger,
		messenger: messenger,
		compute:   compute,
	}
}

// Run serves exactly one run and returns once the strategy's work is done.
func (w *Worker) Run(ctx context.Context) error {
	src, msg, err := w.messenger.Recv(ctx)
	if err != nil {
		return err
	}
	broadcast, ok := msg.(wire.ProblemBroadcast)
	if !ok {
		return fmt.Errorf("%w: worker %d expected %s, got %s from rank %d",
			domain.ErrProtocol, w.messenger.Rank(), wire.TagProblem, msg.Tag(), src)
	}

	p := broadcast.Problem
	proto, err := strategy.For(w.logger, p.Strategy)
	if err != nil {
		return err
	}
	logger := w.logger.With(
		zap.Stringer("run", broadcast.RunID),
		zap.Int("worker", w.messenger.Rank()))
	logger.Debug("Problem received",
		zap.Stringer("strategy", p.Strategy),
		zap.Bool("compress", broadcast.Compress))

	// Rows go back in whatever encoding the coordinator announced.
	m := w.messenger.WithCodec(w.messenger.Codec().WithCompression(broadcast.Compress))

	var rows atomic.Int64
	counted := domain.RowComputerFunc(func(row int, p domain.Problem) domain.RowResult {
		rows.Add(1)
		return w.compute.ComputeRow(row, p)
	})

	start := time.Now()
	if err := proto.Work(ctx, m, p, counted); err != nil {
		logger.Error("Work failed", zap.Int64("rows", rows.Load()), zap.Error(err))
		return err
	}
	logger.Info("Work finished",
		zap.Int64("rows", rows.Load()),
		zap.Duration("elapsed", time.Since(start)))
	return nil
}
