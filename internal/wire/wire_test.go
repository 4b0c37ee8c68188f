package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReader_Stream(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, Header{Kind: KindHello, Source: "bars"}, nil))
	payload := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	require.NoError(t, Write(&buf, Header{
		Kind: KindFrame, Seq: 3, Width: 2, Height: 1, Stride: 8,
		Encoding: "BGRA", PresentationTime: 1234,
	}, payload))

	r := NewReader(&buf)

	h, data, err := r.Next(nil)
	require.NoError(t, err)
	assert.Equal(t, KindHello, h.Kind)
	assert.Equal(t, "bars", h.Source)
	assert.Empty(t, data)

	pool := make([]byte, 64)
	h, data, err = r.Next(func(n int) []byte { return pool[:n] })
	require.NoError(t, err)
	assert.Equal(t, uint64(3), h.Seq)
	assert.Equal(t, int64(1234), h.PresentationTime)
	assert.Equal(t, uint32(8), h.DataLen)
	assert.Equal(t, payload, data)
	assert.Same(t, &pool[0], &data[0], "payload read into the supplied buffer")

	_, _, err = r.Next(nil)
	assert.Equal(t, io.EOF, err)
}

func TestReader_Truncated(t *testing.T) {
	b, err := Encode(Header{Kind: KindFrame}, []byte{1, 2, 3, 4})
	require.NoError(t, err)

	r := NewReader(bytes.NewReader(b[:len(b)-2]))
	_, _, err = r.Next(nil)
	assert.True(t, errors.Is(err, io.ErrUnexpectedEOF))
}

func TestReader_Oversized(t *testing.T) {
	var b []byte
	b = binary.BigEndian.AppendUint32(b, MaxHeader+1)
	_, _, err := NewReader(bytes.NewReader(b)).Next(nil)
	assert.True(t, errors.Is(err, ErrTooLarge))
}

func TestReader_LengthMismatch(t *testing.T) {
	b, err := Encode(Header{Kind: KindFrame}, []byte{1, 2, 3, 4})
	require.NoError(t, err)
	// Corrupt the payload prefix: 4 -> 3, and drop one byte.
	hdrLen := binary.BigEndian.Uint32(b[:4])
	binary.BigEndian.PutUint32(b[4+hdrLen:], 3)
	_, _, err = NewReader(bytes.NewReader(b[:len(b)-1])).Next(nil)
	assert.True(t, errors.Is(err, ErrBadMessage))
}

func TestReader_GarbageHeader(t *testing.T) {
	var b []byte
	b = binary.BigEndian.AppendUint32(b, 2)
	b = append(b, 0xc1, 0xc1) // never-used msgpack code
	_, _, err := NewReader(bytes.NewReader(b)).Next(nil)
	assert.True(t, errors.Is(err, ErrBadMessage))
}
