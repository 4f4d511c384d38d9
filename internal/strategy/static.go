package strategy

import (
	"context"
	"fmt"

	"mandelbrot-dist/internal/domain"
	"mandelbrot-dist/internal/wire"

	"go.uber.org/zap"
)

// StaticBlocks splits height rows into exactly workers contiguous blocks. The
// first height%workers blocks get one extra row, so sizes differ by at most one.
// When height < workers the trailing blocks are empty.
func StaticBlocks(height, workers int) []domain.RowAssignment {
	blocks := make([]domain.RowAssignment, workers)
	base, extra := height/workers, height%workers
	start := 0
	for i := range blocks {
		count := base
		if i < extra {
			count++
		}
		blocks[i] = domain.RowAssignment{StartRow: start, RowCount: count}
		start += count
	}
	return blocks
}

// Static sends every worker one contiguous block up front.
type Static struct {
	logger *zap.Logger
}

func NewStatic(logger *zap.Logger) *Static {
	return &Static{logger: logger}
}

func (s *Static) Strategy() domain.Strategy { return domain.StrategyStatic }

func (s *Static) Coordinate(ctx context.Context, m *wire.Messenger, p domain.Problem, collect Collector) error {
	for i, block := range StaticBlocks(p.Height, m.Workers()) {
		rank := i + 1
		s.logger.Debug("Assigning block",
			zap.Int("worker", rank),
			zap.Int("start", block.StartRow),
			zap.Int("rows", block.RowCount))
		if err := m.Send(ctx, rank, wire.StaticAssignment{Assignment: block}); err != nil {
			return err
		}
	}
	return collectCount(ctx, m, p.Height, collect)
}

func (s *Static) Work(ctx context.Context, m *wire.Messenger, p domain.Problem, compute domain.RowComputer) error {
	src, msg, err := m.Recv(ctx)
	if err != nil {
		return err
	}
	assign, ok := msg.(wire.StaticAssignment)
	if !ok {
		return fmt.Errorf("%w: worker %d expected %s, got %s from rank %d",
			domain.ErrProtocol, m.Rank(), wire.TagStaticAssignment, msg.Tag(), src)
	}
	block := assign.Assignment
	if block.End() > p.Height {
		return fmt.Errorf("%w: block %+v exceeds height %d", domain.ErrRowOutOfRange, block, p.Height)
	}

	s.logger.Debug("Processing block",
		zap.Int("worker", m.Rank()),
		zap.Int("start", block.StartRow),
		zap.Int("rows", block.RowCount))
	for row := block.StartRow; row < block.End(); row++ {
		if err := computeAndSend(ctx, m, p, compute, row); err != nil {
			return err
		}
	}
	return nil
}
