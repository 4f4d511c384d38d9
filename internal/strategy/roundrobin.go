package strategy

import (
	"context"

	"mandelbrot-dist/internal/domain"
	"mandelbrot-dist/internal/wire"

	"go.uber.org/zap"
)

// RoundRobinRows returns the rows owned by the worker with the given 0-based
// index: index, index+workers, index+2*workers, ... below height.
func RoundRobinRows(index, height, workers int) []int {
	if index >= height {
		return nil
	}
	rows := make([]int, 0, (height-index+workers-1)/workers)
	for row := index; row < height; row += workers {
		rows = append(rows, row)
	}
	return rows
}

// RoundRobin interleaves rows between workers. Ownership is derived locally,
// so no assignment message is ever sent.
type RoundRobin struct {
	logger *zap.Logger
}

func NewRoundRobin(logger *zap.Logger) *RoundRobin {
	return &RoundRobin{logger: logger}
}

func (r *RoundRobin) Strategy() domain.Strategy { return domain.StrategyStaticRoundRobin }

func (r *RoundRobin) Coordinate(ctx context.Context, m *wire.Messenger, p domain.Problem, collect Collector) error {
	return collectCount(ctx, m, p.Height, collect)
}

func (r *RoundRobin) Work(ctx context.Context, m *wire.Messenger, p domain.Problem, compute domain.RowComputer) error {
	rows := RoundRobinRows(m.Rank()-1, p.Height, m.Workers())
	r.logger.Debug("Processing interleaved rows",
		zap.Int("worker", m.Rank()),
		zap.Int("rows", len(rows)))
	for _, row := range rows {
		if err := computeAndSend(ctx, m, p, compute, row); err != nil {
			return err
		}
	}
	return nil
}
