package strategy

import (
	"context"
	"fmt"

	"mandelbrot-dist/internal/domain"
	"mandelbrot-dist/internal/wire"

	"go.uber.org/zap"
)

const idle = -1

// Dispatcher is the coordinator-side state of the dynamic strategy: a cursor
// over unassigned rows and, per worker, the row it currently holds. Rows are
// handed out in index order and never reused. Workers are indexed from 0
// (rank - 1). Not safe for concurrent use; the coordinator loop is its only caller.
type Dispatcher struct {
	height  int
	next    int
	holding []int
	active  int
}

func NewDispatcher(height, workers int) *Dispatcher {
	holding := make([]int, workers)
	for i := range holding {
		holding[i] = idle
	}
	return &Dispatcher{height: height, holding: holding}
}

// Start returns the first message for every worker: rows 0..P-1, or a stop for
// workers that find no row left when height < P.
func (d *Dispatcher) Start() []wire.Message {
	msgs := make([]wire.Message, len(d.holding))
	for w := range msgs {
		msgs[w] = d.assign(w)
	}
	return msgs
}

// Complete records that worker returned row and returns its next message.
func (d *Dispatcher) Complete(worker, row int) (wire.Message, error) {
	if worker < 0 || worker >= len(d.holding) {
		return nil, fmt.Errorf("%w: unknown worker %d", domain.ErrProtocol, worker)
	}
	held := d.holding[worker]
	if held == idle {
		return nil, fmt.Errorf("%w: worker %d returned row %d while inactive", domain.ErrProtocol, worker, row)
	}
	if held != row {
		return nil, fmt.Errorf("%w: worker %d returned row %d, assigned %d", domain.ErrProtocol, worker, row, held)
	}
	d.holding[worker] = idle
	d.active--
	return d.assign(worker), nil
}

func (d *Dispatcher) assign(worker int) wire.Message {
	if d.next >= d.height {
		return wire.DynamicStop{}
	}
	row := d.next
	d.next++
	d.holding[worker] = row
	d.active++
	return wire.DynamicWork{Row: row}
}

// Active is the number of workers holding unfinished work.
func (d *Dispatcher) Active() int { return d.active }

// Next is the cursor: the lowest row not yet assigned.
func (d *Dispatcher) Next() int { return d.next }

// Done reports whether every row was assigned and returned.
func (d *Dispatcher) Done() bool { return d.next >= d.height && d.active == 0 }

// Dynamic hands out one row at a time; a worker gets its next row only after
// returning the previous one, so faster workers absorb more rows.
type Dynamic struct {
	logger *zap.Logger
}

func NewDynamic(logger *zap.Logger) *Dynamic {
	return &Dynamic{logger: logger}
}

func (d *Dynamic) Strategy() domain.Strategy { return domain.StrategyDynamic }

func (d *Dynamic) Coordinate(ctx context.Context, m *wire.Messenger, p domain.Problem, collect Collector) error {
	disp := NewDispatcher(p.Height, m.Workers())
	for w, msg := range disp.Start() {
		if err := m.Send(ctx, w+1, msg); err != nil {
			return err
		}
	}

	for disp.Active() > 0 {
		src, res, err := recvRow(ctx, m)
		if err != nil {
			return err
		}
		next, err := disp.Complete(src-1, res.Row)
		if err != nil {
			return err
		}
		if err := m.Send(ctx, src, next); err != nil {
			return err
		}
		if _, stop := next.(wire.DynamicStop); stop {
			d.logger.Debug("Worker stopped", zap.Int("worker", src), zap.Int("active", disp.Active()))
		}
		if err := collect(src, res); err != nil {
			return err
		}
	}
	return nil
}

func (d *Dynamic) Work(ctx context.Context, m *wire.Messenger, p domain.Problem, compute domain.RowComputer) error {
	rows := 0
	for {
		src, msg, err := m.Recv(ctx)
		if err != nil {
			return err
		}
		switch msg := msg.(type) {
		case wire.DynamicWork:
			if msg.Row >= p.Height {
				return fmt.Errorf("%w: row %d, height %d", domain.ErrRowOutOfRange, msg.Row, p.Height)
			}
			if err := computeAndSend(ctx, m, p, compute, msg.Row); err != nil {
				return err
			}
			rows++
		case wire.DynamicStop:
			d.logger.Debug("Stop received", zap.Int("worker", m.Rank()), zap.Int("rows", rows))
			return nil
		default:
			return fmt.Errorf("%w: worker %d got %s from rank %d", domain.ErrProtocol, m.Rank(), msg.Tag(), src)
		}
	}
}
