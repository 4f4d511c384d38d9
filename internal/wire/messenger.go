package wire

import (
	"context"
	"fmt"

	"mandelbrot-dist/internal/transport"
)

// Messenger sends and receives typed messages over a transport endpoint.
type Messenger struct {
	ep    transport.Endpoint
	codec *Codec
}

func NewMessenger(ep transport.Endpoint, codec *Codec) *Messenger {
	return &Messenger{ep: ep, codec: codec}
}

func (m *Messenger) Rank() int    { return m.ep.Rank() }
func (m *Messenger) Workers() int { return transport.Workers(m.ep) }

// WithCodec returns a messenger on the same endpoint using another codec.
func (m *Messenger) WithCodec(codec *Codec) *Messenger {
	return &Messenger{ep: m.ep, codec: codec}
}

func (m *Messenger) Codec() *Codec {
	return m.codec
}

func (m *Messenger) Send(ctx context.Context, dest int, msg Message) error {
	payload, err := m.codec.Encode(msg)
	if err != nil {
		return err
	}
	if err := m.ep.Send(ctx, dest, uint8(msg.Tag()), payload); err != nil {
		return fmt.Errorf("send %s to rank %d: %w", msg.Tag(), dest, err)
	}
	return nil
}

// Broadcast sends msg to every worker, encoding it once.
func (m *Messenger) Broadcast(ctx context.Context, msg Message) error {
	payload, err := m.codec.Encode(msg)
	if err != nil {
		return err
	}
	if err := transport.Broadcast(ctx, m.ep, uint8(msg.Tag()), payload); err != nil {
		return fmt.Errorf("broadcast %s: %w", msg.Tag(), err)
	}
	return nil
}

// Recv returns the next message from any source together with the sender's rank.
func (m *Messenger) Recv(ctx context.Context) (int, Message, error) {
	frame, err := m.ep.Recv(ctx)
	if err != nil {
		return 0, nil, fmt.Errorf("recv: %w", err)
	}
	msg, err := m.codec.Decode(Tag(frame.Tag), frame.Payload)
	if err != nil {
		return frame.Source, nil, fmt.Errorf("decode frame from rank %d: %w", frame.Source, err)
	}
	return frame.Source, msg, nil
}
