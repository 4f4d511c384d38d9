// Package transport moves tagged frames between the coordinator (rank 0) and the
// workers (ranks 1..P). Every Send and Recv blocks; frames between a pair of
// ranks are delivered in the order they were sent.
package transport

import (
	"context"
	"errors"
)

// CoordinatorRank is the rank of the controlling participant.
const CoordinatorRank = 0

var (
	ErrClosed      = errors.New("transport closed")
	ErrUnknownRank = errors.New("unknown rank")
)

// Frame is one message on the wire. Source is filled in by the receiving side.
type Frame struct {
	Source  int
	Tag     uint8
	Payload []byte
}

// Endpoint is one participant's view of the network.
type Endpoint interface {
	// Rank of this participant, 0 for the coordinator.
	Rank() int
	// Size is the number of participants including the coordinator.
	Size() int
	// Send blocks until the frame is handed to the network.
	Send(ctx context.Context, dest int, tag uint8, payload []byte) error
	// Recv blocks until a frame from any source arrives.
	Recv(ctx context.Context) (Frame, error)
	Close() error
}

// Workers returns the number of worker ranks behind an endpoint.
func Workers(ep Endpoint) int {
	return ep.Size() - 1
}

// Broadcast sends the same frame to every worker in rank order.
func Broadcast(ctx context.Context, ep Endpoint, tag uint8, payload []byte) error {
	for rank := 1; rank < ep.Size(); rank++ {
		if err := ep.Send(ctx, rank, tag, payload); err != nil {
			return err
		}
	}
	return nil
}
