// Package wire implements the stream framing used between the broadcaster
// and the network frame source.
//
// Every message is two length-prefixed records (4 bytes big-endian length
// each):
//
//	[len][msgpack Header][len][payload]
//
// The header is msgpack so fields can be added without breaking older
// readers. The payload is raw pixel data, read directly into a caller
// supplied buffer so receivers can pool frame memory.
package wire

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

const (
	// MaxHeader bounds a header record.
	MaxHeader = 64 << 10
	// MaxPayload bounds a payload record (8K BGRA is ~127 MiB; 64 MiB covers
	// 4K BGRA and 8K UYVY).
	MaxPayload = 64 << 20
)

// Message kinds.
const (
	KindHello = "hello"
	KindFrame = "frame"
)

var (
	ErrTooLarge   = errors.New("wire: record too large")
	ErrBadMessage = errors.New("wire: malformed message")
)

// Header describes one message. For KindFrame the geometry fields describe
// the payload; for KindHello only Source is meaningful.
type Header struct {
	Kind             string `msgpack:"kind"`
	Source           string `msgpack:"source"`
	Seq              uint64 `msgpack:"seq"`
	Width            int32  `msgpack:"width"`
	Height           int32  `msgpack:"height"`
	Stride           int32  `msgpack:"stride"`
	Encoding         string `msgpack:"encoding"`
	Orientation      string `msgpack:"orientation,omitempty"`
	PresentationTime int64  `msgpack:"pts_us"`
	DataLen          uint32 `msgpack:"data_len"`
}

// Encode returns the complete wire form of one message. h.DataLen is set from
// len(payload).
func Encode(h Header, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayload {
		return nil, fmt.Errorf("%w: payload %d bytes", ErrTooLarge, len(payload))
	}
	h.DataLen = uint32(len(payload))
	hdr, err := msgpack.Marshal(&h)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal msgpack header: %w", err)
	}

	out := make([]byte, 0, 8+len(hdr)+len(payload))
	out = binary.BigEndian.AppendUint32(out, uint32(len(hdr)))
	out = append(out, hdr...)
	out = binary.BigEndian.AppendUint32(out, uint32(len(payload)))
	out = append(out, payload...)
	return out, nil
}

// Write encodes one message to w.
func Write(w io.Writer, h Header, payload []byte) error {
	b, err := Encode(h, payload)
	if err != nil {
		return err
	}
	if _, err := w.Write(b); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

// Reader decodes messages from a stream. Not safe for concurrent use.
type Reader struct {
	r      *bufio.Reader
	prefix [4]byte
	hdr    []byte
}

// NewReader wraps r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReaderSize(r, 64<<10)}
}

// Next reads one message. alloc is called with the payload length and must
// return a slice of at least that length; the payload is read into its
// prefix. A nil alloc allocates.
//
// io.EOF is returned only on a clean end of stream between messages.
func (r *Reader) Next(alloc func(n int) []byte) (Header, []byte, error) {
	var h Header

	n, err := r.readPrefix(MaxHeader)
	if err != nil {
		return h, nil, err
	}
	if cap(r.hdr) < n {
		r.hdr = make([]byte, n)
	}
	r.hdr = r.hdr[:n]
	if _, err := io.ReadFull(r.r, r.hdr); err != nil {
		return h, nil, unexpected(err)
	}
	if err := msgpack.Unmarshal(r.hdr, &h); err != nil {
		return h, nil, fmt.Errorf("%w: header: %v", ErrBadMessage, err)
	}

	n, err = r.readPrefix(MaxPayload)
	if err != nil {
		return h, nil, unexpected(err)
	}
	if uint32(n) != h.DataLen {
		return h, nil, fmt.Errorf("%w: payload %d bytes, header says %d", ErrBadMessage, n, h.DataLen)
	}

	var buf []byte
	if alloc != nil {
		buf = alloc(n)
	}
	if len(buf) < n {
		buf = make([]byte, n)
	}
	buf = buf[:n]
	if _, err := io.ReadFull(r.r, buf); err != nil {
		return h, nil, unexpected(err)
	}
	return h, buf, nil
}

func (r *Reader) readPrefix(limit int) (int, error) {
	if _, err := io.ReadFull(r.r, r.prefix[:]); err != nil {
		return 0, err
	}
	n := int(binary.BigEndian.Uint32(r.prefix[:]))
	if n > limit {
		return 0, fmt.Errorf("%w: %d > %d", ErrTooLarge, n, limit)
	}
	return n, nil
}

func unexpected(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}
