package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"mandelbrot-dist/internal/domain"

	"github.com/klauspost/compress/zstd"
)

var (
	ErrUnknownTag = errors.New("unknown message tag")
	ErrMalformed  = errors.New("malformed message")
)

// RowDone payloads start with one of these.
const (
	rowEncodingRaw  byte = 0
	rowEncodingZstd byte = 1
)

const (
	problemSize    = 16 + 3*4 + 4*8 + 2
	assignmentSize = 2 * 4
	rowIndexSize   = 4
	rowHeaderSize  = 2 * 4
)

// Codec turns messages into frame payloads and back. Decoding understands both
// raw and compressed rows; compression of outgoing rows is a per-codec switch.
// A Codec is safe for concurrent use.
type Codec struct {
	compress bool
	enc      *zstd.Encoder
	dec      *zstd.Decoder
}

func NewCodec(compress bool) (*Codec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	return &Codec{compress: compress, enc: enc, dec: dec}, nil
}

// WithCompression returns a codec sharing the same coders with the switch set.
func (c *Codec) WithCompression(on bool) *Codec {
	cp := *c
	cp.compress = on
	return &cp
}

func (c *Codec) Compress() bool {
	return c.compress
}

func (c *Codec) Close() {
	c.enc.Close()
	c.dec.Close()
}

func (c *Codec) Encode(m Message) ([]byte, error) {
	switch m := m.(type) {
	case ProblemBroadcast:
		return encodeProblem(m), nil
	case StaticAssignment:
		if m.Assignment.StartRow < 0 || m.Assignment.RowCount < 0 {
			return nil, fmt.Errorf("%w: negative assignment %+v", ErrMalformed, m.Assignment)
		}
		buf := make([]byte, 0, assignmentSize)
		buf = binary.LittleEndian.AppendUint32(buf, uint32(m.Assignment.StartRow))
		buf = binary.LittleEndian.AppendUint32(buf, uint32(m.Assignment.RowCount))
		return buf, nil
	case DynamicWork:
		if m.Row < 0 {
			return nil, fmt.Errorf("%w: negative row %d", ErrMalformed, m.Row)
		}
		return binary.LittleEndian.AppendUint32(nil, uint32(m.Row)), nil
	case DynamicStop:
		return nil, nil
	case RowDone:
		return c.encodeRow(m.Result)
	}
	return nil, fmt.Errorf("%w: %T", ErrUnknownTag, m)
}

func (c *Codec) Decode(tag Tag, payload []byte) (Message, error) {
	switch tag {
	case TagProblem:
		return decodeProblem(payload)
	case TagStaticAssignment:
		if len(payload) != assignmentSize {
			return nil, fmt.Errorf("%w: %s of %d bytes", ErrMalformed, tag, len(payload))
		}
		return StaticAssignment{Assignment: domain.RowAssignment{
			StartRow: int(binary.LittleEndian.Uint32(payload[0:])),
			RowCount: int(binary.LittleEndian.Uint32(payload[4:])),
		}}, nil
	case TagDynamicWork:
		if len(payload) != rowIndexSize {
			return nil, fmt.Errorf("%w: %s of %d bytes", ErrMalformed, tag, len(payload))
		}
		return DynamicWork{Row: int(binary.LittleEndian.Uint32(payload))}, nil
	case TagDynamicStop:
		if len(payload) != 0 {
			return nil, fmt.Errorf("%w: %s with payload", ErrMalformed, tag)
		}
		return DynamicStop{}, nil
	case TagRowDone:
		res, err := c.decodeRow(payload)
		if err != nil {
			return nil, err
		}
		return RowDone{Result: res}, nil
	}
	return nil, fmt.Errorf("%w: %d", ErrUnknownTag, uint8(tag))
}

func encodeProblem(m ProblemBroadcast) []byte {
	p := m.Problem
	buf := make([]byte, 0, problemSize)
	buf = append(buf, m.RunID[:]...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(p.Width))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(p.Height))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(p.IterationLimit))
	for _, v := range []float64{p.Bounds.RealMin, p.Bounds.RealMax, p.Bounds.ImagMin, p.Bounds.ImagMax} {
		buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(v))
	}
	buf = append(buf, byte(p.Strategy))
	if m.Compress {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	return buf
}

func decodeProblem(payload []byte) (ProblemBroadcast, error) {
	if len(payload) != problemSize {
		return ProblemBroadcast{}, fmt.Errorf("%w: %s of %d bytes", ErrMalformed, TagProblem, len(payload))
	}
	var m ProblemBroadcast
	copy(m.RunID[:], payload[:16])
	rest := payload[16:]
	u32 := func() int {
		v := binary.LittleEndian.Uint32(rest)
		rest = rest[4:]
		return int(v)
	}
	f64 := func() float64 {
		v := math.Float64frombits(binary.LittleEndian.Uint64(rest))
		rest = rest[8:]
		return v
	}
	m.Problem.Width = u32()
	m.Problem.Height = u32()
	m.Problem.IterationLimit = u32()
	m.Problem.Bounds = domain.Bounds{RealMin: f64(), RealMax: f64(), ImagMin: f64(), ImagMax: f64()}
	m.Problem.Strategy = domain.Strategy(rest[0])
	m.Compress = rest[1] == 1
	if err := m.Problem.Validate(); err != nil {
		return ProblemBroadcast{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return m, nil
}

func (c *Codec) encodeRow(res domain.RowResult) ([]byte, error) {
	if res.Row < 0 {
		return nil, fmt.Errorf("%w: negative row %d", ErrMalformed, res.Row)
	}
	body := make([]byte, 0, rowHeaderSize+(len(res.Bits)+7)/8)
	body = binary.LittleEndian.AppendUint32(body, uint32(res.Row))
	body = binary.LittleEndian.AppendUint32(body, uint32(len(res.Bits)))
	body = append(body, PackBits(res.Bits)...)

	if !c.compress {
		return append([]byte{rowEncodingRaw}, body...), nil
	}
	return c.enc.EncodeAll(body, []byte{rowEncodingZstd}), nil
}

func (c *Codec) decodeRow(payload []byte) (domain.RowResult, error) {
	if len(payload) == 0 {
		return domain.RowResult{}, fmt.Errorf("%w: empty %s", ErrMalformed, TagRowDone)
	}
	body := payload[1:]
	switch payload[0] {
	case rowEncodingRaw:
	case rowEncodingZstd:
		var err error
		body, err = c.dec.DecodeAll(body, nil)
		if err != nil {
			return domain.RowResult{}, fmt.Errorf("%w: %w", ErrMalformed, err)
		}
	default:
		return domain.RowResult{}, fmt.Errorf("%w: row encoding %d", ErrMalformed, payload[0])
	}

	if len(body) < rowHeaderSize {
		return domain.RowResult{}, fmt.Errorf("%w: short %s", ErrMalformed, TagRowDone)
	}
	row := int(binary.LittleEndian.Uint32(body[0:]))
	width := int(binary.LittleEndian.Uint32(body[4:]))
	packed := body[rowHeaderSize:]
	if len(packed) != (width+7)/8 {
		return domain.RowResult{}, fmt.Errorf("%w: %d bytes for %d columns", ErrMalformed, len(packed), width)
	}
	return domain.RowResult{Row: row, Bits: UnpackBits(packed, width)}, nil
}
