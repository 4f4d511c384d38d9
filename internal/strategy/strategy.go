// Package strategy implements the three row distribution protocols. Each
// protocol has a coordinator side, which hands out rows and collects results,
// and a worker side, which computes the rows it owns.
package strategy

import (
	"context"
	"fmt"

	"mandelbrot-dist/internal/domain"
	"mandelbrot-dist/internal/transport"
	"mandelbrot-dist/internal/wire"

	"go.uber.org/zap"
)

// Collector is handed every row the coordinator receives, in arrival order,
// together with the rank that sent it. A non-nil error aborts the run.
type Collector func(source int, res domain.RowResult) error

// Protocol drives one strategy from either side of the exchange.
type Protocol interface {
	Strategy() domain.Strategy
	// Coordinate runs the coordinator side until every row of p has been collected.
	Coordinate(ctx context.Context, m *wire.Messenger, p domain.Problem, collect Collector) error
	// Work runs the worker side for the rank behind m until its rows are exhausted
	// or it is told to stop.
	Work(ctx context.Context, m *wire.Messenger, p domain.Problem, compute domain.RowComputer) error
}

// For returns the protocol implementing s.
func For(logger *zap.Logger, s domain.Strategy) (Protocol, error) {
	switch s {
	case domain.StrategyStatic:
		return NewStatic(logger), nil
	case domain.StrategyStaticRoundRobin:
		return NewRoundRobin(logger), nil
	case domain.StrategyDynamic:
		return NewDynamic(logger), nil
	}
	return nil, fmt.Errorf("%w: %d", domain.ErrInvalidStrategy, int(s))
}

// recvRow waits for the next RowDone from any worker.
func recvRow(ctx context.Context, m *wire.Messenger) (int, domain.RowResult, error) {
	src, msg, err := m.Recv(ctx)
	if err != nil {
		return 0, domain.RowResult{}, err
	}
	done, ok := msg.(wire.RowDone)
	if !ok {
		return src, domain.RowResult{}, fmt.Errorf("%w: coordinator got %s from rank %d", domain.ErrProtocol, msg.Tag(), src)
	}
	return src, done.Result, nil
}

// collectCount receives exactly n rows from any source. Nothing ties a row to
// the worker expected to send it.
func collectCount(ctx context.Context, m *wire.Messenger, n int, collect Collector) error {
	for range n {
		src, res, err := recvRow(ctx, m)
		if err != nil {
			return err
		}
		if err := collect(src, res); err != nil {
			return err
		}
	}
	return nil
}

// computeAndSend computes one row and returns it to the coordinator before
// anything else happens on this worker.
func computeAndSend(ctx context.Context, m *wire.Messenger, p domain.Problem, compute domain.RowComputer, row int) error {
	res := compute.ComputeRow(row, p)
	return m.Send(ctx, transport.CoordinatorRank, wire.RowDone{Result: res})
}
