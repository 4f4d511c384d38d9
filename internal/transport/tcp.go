package transport

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
)

// helloTag is reserved for the handshake; the coordinator sends it once on
// every accepted connection with the worker's rank and the world size.
const helloTag uint8 = 0

// MaxFrameSize bounds the payload a peer may announce.
const MaxFrameSize = 64 << 20

const frameHeaderSize = 5 // tag byte + uint32 length

var ErrFrameTooLarge = errors.New("frame too large")

func writeFrame(w io.Writer, tag uint8, payload []byte) error {
	buf := make([]byte, frameHeaderSize+len(payload))
	buf[0] = tag
	binary.LittleEndian.PutUint32(buf[1:], uint32(len(payload)))
	copy(buf[frameHeaderSize:], payload)
	_, err := w.Write(buf)
	return err
}

func readFrame(r io.Reader) (uint8, []byte, error) {
	var header [frameHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return 0, nil, err
	}
	size := binary.LittleEndian.Uint32(header[1:])
	if size > MaxFrameSize {
		return 0, nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, size)
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, err
	}
	return header[0], payload, nil
}

type tcpPeer struct {
	rank int
	conn net.Conn
	mu   sync.Mutex // serialises writes
}

// TCPEndpoint is an Endpoint over one TCP connection per coordinator-worker pair.
type TCPEndpoint struct {
	logger *zap.Logger
	rank   int
	size   int
	peers  map[int]*tcpPeer

	inbox  chan Frame
	closed chan struct{}
	once   sync.Once

	failMu  sync.Mutex
	failed  chan struct{}
	failErr error
	open    int
}

func newTCPEndpoint(logger *zap.Logger, rank, size int, peers []*tcpPeer) *TCPEndpoint {
	e := &TCPEndpoint{
		logger: logger,
		rank:   rank,
		size:   size,
		peers:  make(map[int]*tcpPeer, len(peers)),
		inbox:  make(chan Frame, 2*len(peers)),
		closed: make(chan struct{}),
		failed: make(chan struct{}),
		open:   len(peers),
	}
	for _, p := range peers {
		e.peers[p.rank] = p
	}
	for _, p := range peers {
		go e.readLoop(p)
	}
	return e
}

// Listen accepts exactly workers connections on addr and returns the coordinator
// endpoint. Ranks are handed out in accept order.
func Listen(ctx context.Context, logger *zap.Logger, addr string, workers int) (*TCPEndpoint, error) {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	defer ln.Close()
	return Accept(ctx, logger, ln, workers)
}

// Accept is Listen over an existing listener. The listener is left open.
func Accept(ctx context.Context, logger *zap.Logger, ln net.Listener, workers int) (*TCPEndpoint, error) {
	stop := context.AfterFunc(ctx, func() {
		if tl, ok := ln.(*net.TCPListener); ok {
			tl.SetDeadline(time.Now())
		}
	})
	defer stop()

	size := workers + 1
	peers := make([]*tcpPeer, 0, workers)
	closeAll := func() {
		for _, p := range peers {
			p.conn.Close()
		}
	}

	logger.Info("Waiting for workers", zap.String("addr", ln.Addr().String()), zap.Int("workers", workers))
	for rank := 1; rank <= workers; rank++ {
		conn, err := ln.Accept()
		if err != nil {
			closeAll()
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, err
		}
		hello := make([]byte, 8)
		binary.LittleEndian.PutUint32(hello[0:], uint32(rank))
		binary.LittleEndian.PutUint32(hello[4:], uint32(size))
		if err := writeFrame(conn, helloTag, hello); err != nil {
			conn.Close()
			closeAll()
			return nil, fmt.Errorf("hello to rank %d: %w", rank, err)
		}
		logger.Info("Worker joined", zap.Int("rank", rank), zap.String("remote", conn.RemoteAddr().String()))
		peers = append(peers, &tcpPeer{rank: rank, conn: conn})
	}
	return newTCPEndpoint(logger, CoordinatorRank, size, peers), nil
}

// Dial connects a worker to the coordinator, retrying until ctx is done, and
// waits for the rank assignment.
func Dial(ctx context.Context, logger *zap.Logger, addr string, retry time.Duration) (*TCPEndpoint, error) {
	var d net.Dialer
	var conn net.Conn
	for {
		var err error
		conn, err = d.DialContext(ctx, "tcp", addr)
		if err == nil {
			break
		}
		logger.Debug("Coordinator not reachable yet", zap.String("addr", addr), zap.Error(err))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retry):
		}
	}

	stop := context.AfterFunc(ctx, func() { conn.SetReadDeadline(time.Now()) })
	tag, payload, err := readFrame(conn)
	stop()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("read hello: %w", err)
	}
	if tag != helloTag || len(payload) != 8 {
		conn.Close()
		return nil, fmt.Errorf("unexpected handshake frame (tag %d, %d bytes)", tag, len(payload))
	}
	conn.SetReadDeadline(time.Time{})

	rank := int(binary.LittleEndian.Uint32(payload[0:]))
	size := int(binary.LittleEndian.Uint32(payload[4:]))
	logger.Info("Registered with coordinator", zap.String("addr", addr), zap.Int("rank", rank), zap.Int("size", size))

	return newTCPEndpoint(logger, rank, size, []*tcpPeer{{rank: CoordinatorRank, conn: conn}}), nil
}

func (e *TCPEndpoint) Rank() int { return e.rank }
func (e *TCPEndpoint) Size() int { return e.size }

func (e *TCPEndpoint) Send(ctx context.Context, dest int, tag uint8, payload []byte) error {
	p, ok := e.peers[dest]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownRank, dest)
	}
	select {
	case <-e.closed:
		return ErrClosed
	default:
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { p.conn.SetWriteDeadline(time.Now()) })
	err := writeFrame(p.conn, tag, payload)
	if !stop() {
		p.conn.SetWriteDeadline(time.Time{})
		if err != nil {
			return ctx.Err()
		}
	}
	if err != nil {
		return fmt.Errorf("send to rank %d: %w", dest, err)
	}
	return nil
}

func (e *TCPEndpoint) Recv(ctx context.Context) (Frame, error) {
	select {
	case frame := <-e.inbox:
		return frame, nil
	default:
	}

	select {
	case frame := <-e.inbox:
		return frame, nil
	case <-e.failed:
		// readers queue every frame before reporting failure
		select {
		case frame := <-e.inbox:
			return frame, nil
		default:
		}
		return Frame{}, e.failErr
	case <-e.closed:
		return Frame{}, ErrClosed
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
}

func (e *TCPEndpoint) Close() error {
	e.once.Do(func() {
		close(e.closed)
		for _, p := range e.peers {
			p.conn.Close()
		}
	})
	return nil
}

// readLoop queues frames from one peer. A peer hanging up cleanly is only an
// error once no peer is left; any other read error fails the endpoint.
func (e *TCPEndpoint) readLoop(p *tcpPeer) {
	r := bufio.NewReader(p.conn)
	for {
		tag, payload, err := readFrame(r)
		if err != nil {
			select {
			case <-e.closed:
				return
			default:
			}
			if errors.Is(err, io.EOF) {
				e.logger.Debug("Peer hung up", zap.Int("rank", p.rank))
				e.peerGone(nil)
			} else {
				e.logger.Error("Read failed", zap.Int("rank", p.rank), zap.Error(err))
				e.peerGone(fmt.Errorf("recv from rank %d: %w", p.rank, err))
			}
			return
		}
		select {
		case e.inbox <- Frame{Source: p.rank, Tag: tag, Payload: payload}:
		case <-e.closed:
			return
		}
	}
}

func (e *TCPEndpoint) peerGone(err error) {
	e.failMu.Lock()
	defer e.failMu.Unlock()

	e.open--
	if err == nil && e.open > 0 {
		return
	}
	if err == nil {
		err = fmt.Errorf("all peers disconnected: %w", ErrClosed)
	}
	select {
	case <-e.failed:
	default:
		e.failErr = err
		close(e.failed)
	}
}
