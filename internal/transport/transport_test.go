package transport

import (
	"context"
	"net"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func endpoint(t *testing.T, n *LocalNetwork, rank int) Endpoint {
	t.Helper()
	ep, err := n.Endpoint(rank)
	require.NoError(t, err)
	return ep
}

func TestLocalNetworkPointToPoint(t *testing.T) {
	ctx := context.Background()
	n := NewLocalNetwork(2, 4)
	defer n.Close()

	coord := endpoint(t, n, 0)
	w1 := endpoint(t, n, 1)
	assert.Equal(t, 3, coord.Size())
	assert.Equal(t, 2, Workers(coord))
	assert.Equal(t, 1, w1.Rank())

	payload := []byte{1, 2, 3}
	require.NoError(t, coord.Send(ctx, 1, 7, payload))
	payload[0] = 9 // the network owns a copy

	frame, err := w1.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, Frame{Source: 0, Tag: 7, Payload: []byte{1, 2, 3}}, frame)
}

func TestLocalNetworkPreservesPairOrder(t *testing.T) {
	ctx := context.Background()
	n := NewLocalNetwork(1, 0)
	defer n.Close()

	coord := endpoint(t, n, 0)
	w1 := endpoint(t, n, 1)

	go func() {
		for i := range 50 {
			_ = w1.Send(ctx, 0, uint8(i), nil)
		}
	}()
	for i := range 50 {
		frame, err := coord.Recv(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint8(i), frame.Tag)
		assert.Equal(t, 1, frame.Source)
	}
}

func TestLocalNetworkBroadcast(t *testing.T) {
	ctx := context.Background()
	n := NewLocalNetwork(3, 1)
	defer n.Close()

	require.NoError(t, Broadcast(ctx, endpoint(t, n, 0), 1, []byte("p")))
	for rank := 1; rank <= 3; rank++ {
		frame, err := endpoint(t, n, rank).Recv(ctx)
		require.NoError(t, err)
		assert.Equal(t, []byte("p"), frame.Payload)
	}
}

func TestLocalNetworkErrors(t *testing.T) {
	n := NewLocalNetwork(1, 0)
	coord := endpoint(t, n, 0)

	_, err := n.Endpoint(5)
	assert.ErrorIs(t, err, ErrUnknownRank)
	assert.ErrorIs(t, coord.Send(context.Background(), 3, 1, nil), ErrUnknownRank)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = coord.Recv(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// unbuffered send to a rank that never receives blocks until the peer closes
	done := make(chan error, 1)
	go func() { done <- coord.Send(context.Background(), 1, 1, nil) }()
	require.NoError(t, endpoint(t, n, 1).Close())
	assert.ErrorIs(t, <-done, ErrClosed)

	require.NoError(t, n.Close())
	_, err = coord.Recv(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestFrameRoundTrip(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() { _ = writeFrame(client, 5, []byte("row")) }()
	tag, payload, err := readFrame(server)
	require.NoError(t, err)
	assert.Equal(t, uint8(5), tag)
	assert.Equal(t, []byte("row"), payload)
}

func TestTCPNetwork(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	logger := zap.NewNop()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	const workers = 2
	var coord *TCPEndpoint
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		coord, err = Accept(gctx, logger, ln, workers)
		return err
	})

	eps := make([]*TCPEndpoint, workers)
	for i := range eps {
		ep, err := Dial(ctx, logger, ln.Addr().String(), 10*time.Millisecond)
		require.NoError(t, err)
		eps[i] = ep
	}
	require.NoError(t, g.Wait())
	defer coord.Close()

	ranks := []int{eps[0].Rank(), eps[1].Rank()}
	sort.Ints(ranks)
	assert.Equal(t, []int{1, 2}, ranks)
	assert.Equal(t, 3, eps[0].Size())

	require.NoError(t, Broadcast(ctx, coord, 1, []byte("problem")))
	for _, ep := range eps {
		frame, err := ep.Recv(ctx)
		require.NoError(t, err)
		assert.Equal(t, CoordinatorRank, frame.Source)
		assert.Equal(t, []byte("problem"), frame.Payload)

		require.NoError(t, ep.Send(ctx, CoordinatorRank, 5, []byte{byte(ep.Rank())}))
	}

	seen := map[int]bool{}
	for range workers {
		frame, err := coord.Recv(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint8(5), frame.Tag)
		assert.Equal(t, []byte{byte(frame.Source)}, frame.Payload)
		seen[frame.Source] = true
	}
	assert.Len(t, seen, workers)

	// workers hanging up is only fatal once nobody is left
	for _, ep := range eps {
		require.NoError(t, ep.Close())
	}
	_, err = coord.Recv(ctx)
	assert.ErrorIs(t, err, ErrClosed)
}
