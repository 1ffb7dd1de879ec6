package net

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/heatgun/hg/internal/net/packet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRoundTripByteByByte(t *testing.T) {
	for _, size := range []int{0, 1, 127, 128, 300, DefaultMaxPacketSize} {
		payload := bytes.Repeat([]byte{0xAB}, size)
		frame := EncodeFrame(payload)

		dec := NewFrameDecoder(DefaultMaxPacketSize)
		var got []byte
		for i, b := range frame {
			dec.Feed([]byte{b})
			pkt, err := dec.Next()
			if i < len(frame)-1 {
				require.ErrorIs(t, err, ErrNeedMore, "size %d byte %d", size, i)
				continue
			}
			require.NoError(t, err)
			got = pkt
		}
		assert.Equal(t, payload, got, "size %d", size)
		assert.Zero(t, dec.Buffered())
	}
}

func TestFrameDecoderBackToBack(t *testing.T) {
	dec := NewFrameDecoder(0)
	dec.Feed(append(EncodeFrame([]byte("one")), EncodeFrame([]byte("two"))...))

	a, err := dec.Next()
	require.NoError(t, err)
	b, err := dec.Next()
	require.NoError(t, err)
	_, err = dec.Next()
	assert.ErrorIs(t, err, ErrNeedMore)
	assert.Equal(t, "one", string(a))
	assert.Equal(t, "two", string(b))
}

func TestFrameDecoderRejects(t *testing.T) {
	dec := NewFrameDecoder(16)
	// Only the prefix has arrived; the size alone is enough to reject.
	dec.Feed(EncodeFrame(make([]byte, 17))[:1])
	_, err := dec.Next()
	var fe *FramingError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, uint64(17), fe.Len)
	assert.Equal(t, 16, fe.Max)

	dec = NewFrameDecoder(16)
	dec.Feed(bytes.Repeat([]byte{0xFF}, 11))
	_, err = dec.Next()
	require.ErrorAs(t, err, &fe)
	assert.Contains(t, fe.Error(), "malformed")
}

func TestCheckFrame(t *testing.T) {
	assert.NoError(t, CheckFrame(EncodeFrame(make([]byte, 16)), 16))

	var fe *FramingError
	require.ErrorAs(t, CheckFrame(EncodeFrame(make([]byte, 17)), 16), &fe)
	assert.Equal(t, uint64(17), fe.Len)
	require.ErrorAs(t, CheckFrame(nil, 16), &fe)
	assert.Contains(t, fe.Error(), "malformed")
}

func TestMultipartRoundTrip(t *testing.T) {
	enc := NewFrameEncoder()
	enc.EndPart()
	enc.RawPart(bytes.Repeat([]byte{42}, 100))
	enc.EndPart()
	enc.RawPart(bytes.Repeat([]byte{42}, 10))
	enc.RawPart(bytes.Repeat([]byte{7}, 300))

	dec := NewFrameDecoder(DefaultMaxPacketSize)
	dec.Feed(enc.Finish())
	payload, err := dec.Next()
	require.NoError(t, err)

	parts, err := NewMultipart(payload).Parts()
	require.NoError(t, err)
	lens := make([]int, len(parts))
	for i, p := range parts {
		lens[i] = len(p)
	}
	assert.Equal(t, []int{300, 10, 0, 100, 0}, lens)
	assert.Equal(t, byte(7), parts[0][0])
}

func TestMultipartTypedParts(t *testing.T) {
	enc := NewFrameEncoder()
	enc.Part(packet.EncoderFunc(func(w *packet.Writer) {
		w.WriteS("alice")
		w.WriteF32(1.5)
	}))
	enc.Part(packet.EncoderFunc(func(w *packet.Writer) {
		w.WriteUvarint(1)
		w.WriteUvarint(99)
	}))
	frame := enc.Finish()

	payload, err := NewFrameReader(bytes.NewReader(frame), 0).ReadFrame()
	require.NoError(t, err)

	mp := NewMultipart(payload)
	head, err := mp.Next()
	require.NoError(t, err)
	r := packet.NewReader(head)
	assert.Equal(t, uint64(1), r.ReadUvarint())
	assert.Equal(t, uint64(99), r.ReadUvarint())
	require.NoError(t, r.Finish())

	body, err := mp.Next()
	require.NoError(t, err)
	r = packet.NewReader(body)
	assert.Equal(t, "alice", r.ReadS())
	assert.Equal(t, float32(1.5), r.ReadF32())
	require.NoError(t, r.Finish())

	_, err = mp.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestMultipartMalformed(t *testing.T) {
	_, err := NewMultipart([]byte{5}).Next()
	assert.ErrorIs(t, err, ErrBadPart)

	_, err = NewMultipart([]byte{0x80}).Next()
	assert.ErrorIs(t, err, ErrBadPart)
}

func TestFrameReaderStream(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, EncodeFrame([]byte("a"))))
	require.NoError(t, WriteFrame(&buf, EncodeFrame([]byte("bc"))))

	fr := NewFrameReader(&buf, 0)
	p, err := fr.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, "a", string(p))
	p, err = fr.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, "bc", string(p))
	_, err = fr.ReadFrame()
	assert.ErrorIs(t, err, io.EOF)

	truncated := EncodeFrame([]byte("hello"))
	fr = NewFrameReader(bytes.NewReader(truncated[:3]), 0)
	_, err = fr.ReadFrame()
	assert.True(t, errors.Is(err, io.ErrUnexpectedEOF))
}

func TestPacketReaderErrors(t *testing.T) {
	w := packet.NewWriter()
	w.WriteS("héllo")
	w.WriteVarint(-5)
	w.WriteBool(true)
	w.WriteF64(2.25)

	r := packet.NewReader(w.Bytes())
	assert.Equal(t, "héllo", r.ReadS())
	assert.Equal(t, int64(-5), r.ReadVarint())
	assert.True(t, r.ReadBool())
	assert.Equal(t, 2.25, r.ReadF64())
	require.NoError(t, r.Finish())

	r = packet.NewReader([]byte{10, 'a'})
	assert.Equal(t, "", r.ReadS())
	assert.ErrorIs(t, r.Err(), packet.ErrShort)
	assert.Zero(t, r.ReadUvarint(), "errors are sticky")

	r = packet.NewReader([]byte{0})
	r.ReadNonZero()
	assert.Error(t, r.Err())
}
