package transport

import (
	"bytes"
	"context"
	"fmt"
	"sync"
)

// LocalNetwork connects participants living in one process through channels.
// Each rank owns one inbox; a buffered inbox lets a send complete before the
// receiver is ready, the way an eager message-passing send does.
type LocalNetwork struct {
	endpoints []*localEndpoint
}

// NewLocalNetwork creates a network of one coordinator and the given number of workers.
func NewLocalNetwork(workers, buffer int) *LocalNetwork {
	n := &LocalNetwork{endpoints: make([]*localEndpoint, workers+1)}
	for rank := range n.endpoints {
		n.endpoints[rank] = &localEndpoint{
			net:    n,
			rank:   rank,
			inbox:  make(chan Frame, buffer),
			closed: make(chan struct{}),
		}
	}
	return n
}

// Endpoint returns the endpoint of a rank.
func (n *LocalNetwork) Endpoint(rank int) (Endpoint, error) {
	if rank < 0 || rank >= len(n.endpoints) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownRank, rank)
	}
	return n.endpoints[rank], nil
}

func (n *LocalNetwork) Size() int {
	return len(n.endpoints)
}

// Close closes every endpoint, unblocking pending operations.
func (n *LocalNetwork) Close() error {
	for _, ep := range n.endpoints {
		ep.Close()
	}
	return nil
}

type localEndpoint struct {
	net    *LocalNetwork
	rank   int
	inbox  chan Frame
	closed chan struct{}
	once   sync.Once
}

func (e *localEndpoint) Rank() int { return e.rank }
func (e *localEndpoint) Size() int { return len(e.net.endpoints) }

func (e *localEndpoint) Send(ctx context.Context, dest int, tag uint8, payload []byte) error {
	if dest < 0 || dest >= len(e.net.endpoints) {
		return fmt.Errorf("%w: %d", ErrUnknownRank, dest)
	}
	select {
	case <-e.closed:
		return ErrClosed
	default:
	}

	to := e.net.endpoints[dest]
	frame := Frame{Source: e.rank, Tag: tag, Payload: bytes.Clone(payload)}
	select {
	case to.inbox <- frame:
		return nil
	case <-to.closed:
		return fmt.Errorf("send to rank %d: %w", dest, ErrClosed)
	case <-e.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *localEndpoint) Recv(ctx context.Context) (Frame, error) {
	select {
	case frame := <-e.inbox:
		return frame, nil
	case <-e.closed:
		return Frame{}, ErrClosed
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
}

func (e *localEndpoint) Close() error {
	e.once.Do(func() { close(e.closed) })
	return nil
}
