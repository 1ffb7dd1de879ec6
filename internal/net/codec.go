package net

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/heatgun/hg/internal/net/packet"
)

// DefaultMaxPacketSize bounds a single frame's payload.
const DefaultMaxPacketSize = 1024

// ErrNeedMore is returned by FrameDecoder.Next when the buffered bytes do not
// yet hold a complete frame.
var ErrNeedMore = errors.New("net: need more bytes")

// FramingError reports a stream that cannot be split into frames.
type FramingError struct {
	Len uint64 // announced payload length, when the prefix parsed
	Max int
	Msg string
}

func (e *FramingError) Error() string {
	if e.Msg != "" {
		return "net: framing error: " + e.Msg
	}
	return fmt.Sprintf("net: packet is too large (%d > %d)", e.Len, e.Max)
}

// FrameEncoder builds one frame. Wire format:
// [varint(len(payload))][payload]. The payload itself is a run of parts,
// each followed by its length as a reversed varint (see EndPart).
//
// The length prefix is written into headroom reserved up front so the payload
// never has to be moved.
type FrameEncoder struct {
	w         *packet.Writer
	partStart int
}

func NewFrameEncoder() *FrameEncoder {
	return &FrameEncoder{
		w:         packet.NewWriterReserved(binary.MaxVarintLen64),
		partStart: binary.MaxVarintLen64,
	}
}

// Writer returns the body writer. Bytes written land in the current part.
func (e *FrameEncoder) Writer() *packet.Writer {
	return e.w
}

// EndPart closes the current part by appending its length, byte-reversed.
func (e *FrameEncoder) EndPart() {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], uint64(e.w.Len()-e.partStart))
	for i := n - 1; i >= 0; i-- {
		e.w.WriteC(tmp[i])
	}
	e.partStart = e.w.Len()
}

// Part encodes body as one complete part.
func (e *FrameEncoder) Part(body packet.Encoder) {
	body.Encode(e.w)
	e.EndPart()
}

// RawPart appends b as one complete part.
func (e *FrameEncoder) RawPart(b []byte) {
	e.w.WriteBytes(b)
	e.EndPart()
}

// PayloadLen is the number of payload bytes written so far.
func (e *FrameEncoder) PayloadLen() int {
	return e.w.Len() - binary.MaxVarintLen64
}

// Finish writes the length prefix and returns the frame. The encoder must not
// be used afterwards.
func (e *FrameEncoder) Finish() []byte {
	var hdr [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(hdr[:], uint64(e.PayloadLen()))
	buf := e.w.Bytes()
	start := binary.MaxVarintLen64 - n
	copy(buf[start:], hdr[:n])
	return buf[start:]
}

// CheckFrame validates an encoded frame against the receiving side's limit,
// so oversize frames can be refused before they reach the wire.
func CheckFrame(frame []byte, maxPacketSize int) error {
	size, n := binary.Uvarint(frame)
	if n <= 0 {
		return &FramingError{Max: maxPacketSize, Msg: "malformed length prefix"}
	}
	if size > uint64(maxPacketSize) {
		return &FramingError{Len: size, Max: maxPacketSize}
	}
	return nil
}

// EncodeFrame frames a raw payload.
func EncodeFrame(payload []byte) []byte {
	e := NewFrameEncoder()
	e.w.WriteBytes(payload)
	return e.Finish()
}

// EncodeParts frames a multipart payload with the given parts in order.
func EncodeParts(parts ...[]byte) []byte {
	e := NewFrameEncoder()
	for _, p := range parts {
		e.RawPart(p)
	}
	return e.Finish()
}

// FrameDecoder splits a byte stream into frame payloads.
type FrameDecoder struct {
	MaxPacketSize int
	buf           []byte
}

func NewFrameDecoder(maxPacketSize int) *FrameDecoder {
	if maxPacketSize <= 0 {
		maxPacketSize = DefaultMaxPacketSize
	}
	return &FrameDecoder{MaxPacketSize: maxPacketSize}
}

// Feed appends stream bytes.
func (d *FrameDecoder) Feed(b []byte) {
	d.buf = append(d.buf, b...)
}

// Buffered returns the number of bytes not yet consumed by Next.
func (d *FrameDecoder) Buffered() int {
	return len(d.buf)
}

// Next returns the next complete payload, ErrNeedMore, or a *FramingError.
// An oversize length is rejected as soon as the prefix is readable.
func (d *FrameDecoder) Next() ([]byte, error) {
	size, n := binary.Uvarint(d.buf)
	switch {
	case n == 0:
		return nil, ErrNeedMore
	case n < 0:
		return nil, &FramingError{Max: d.MaxPacketSize, Msg: "malformed length prefix"}
	}
	if size > uint64(d.MaxPacketSize) {
		return nil, &FramingError{Len: size, Max: d.MaxPacketSize}
	}
	end := n + int(size)
	if len(d.buf) < end {
		return nil, ErrNeedMore
	}
	out := make([]byte, size)
	copy(out, d.buf[n:end])
	d.buf = append(d.buf[:0], d.buf[end:]...)
	return out, nil
}

// FrameReader reads whole frames from a stream.
type FrameReader struct {
	r   io.Reader
	dec *FrameDecoder
	buf []byte
	err error
}

func NewFrameReader(r io.Reader, maxPacketSize int) *FrameReader {
	return &FrameReader{
		r:   r,
		dec: NewFrameDecoder(maxPacketSize),
		buf: make([]byte, 4096),
	}
}

// ReadFrame blocks until one payload is available. A stream that ends in the
// middle of a frame yields io.ErrUnexpectedEOF.
func (fr *FrameReader) ReadFrame() ([]byte, error) {
	for {
		pkt, err := fr.dec.Next()
		if !errors.Is(err, ErrNeedMore) {
			return pkt, err
		}
		if fr.err != nil {
			if errors.Is(fr.err, io.EOF) && fr.dec.Buffered() > 0 {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, fr.err
		}
		n, err := fr.r.Read(fr.buf)
		fr.dec.Feed(fr.buf[:n])
		fr.err = err
	}
}

// WriteFrame writes an already-framed buffer in full.
func WriteFrame(w io.Writer, frame []byte) error {
	for len(frame) > 0 {
		n, err := w.Write(frame)
		if err != nil {
			return fmt.Errorf("write frame (%d bytes left): %w", len(frame), err)
		}
		frame = frame[n:]
	}
	return nil
}
