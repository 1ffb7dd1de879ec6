package packet

import (
	"encoding/binary"
	"math"
)

// Encoder is implemented by every typed packet body.
type Encoder interface {
	Encode(w *Writer)
}

// Decoder is implemented by every typed packet body that can be read back.
type Decoder interface {
	Decode(r *Reader) error
}

// EncoderFunc adapts a plain function to Encoder.
type EncoderFunc func(w *Writer)

func (f EncoderFunc) Encode(w *Writer) { f(w) }

// Writer builds a packet body. Multi-byte fixed-width writes are little-endian.
type Writer struct {
	buf []byte
}

func NewWriter() *Writer {
	return &Writer{buf: make([]byte, 0, 64)}
}

// NewWriterReserved starts a writer whose first n bytes are zeroed headroom.
func NewWriterReserved(n int) *Writer {
	return &Writer{buf: make([]byte, n, n+64)}
}

// WriteUvarint writes a LEB128 unsigned varint.
func (w *Writer) WriteUvarint(v uint64) {
	w.buf = binary.AppendUvarint(w.buf, v)
}

// WriteVarint writes a zig-zag signed varint.
func (w *Writer) WriteVarint(v int64) {
	w.buf = binary.AppendVarint(w.buf, v)
}

// WriteC writes 1 byte.
func (w *Writer) WriteC(v byte) {
	w.buf = append(w.buf, v)
}

func (w *Writer) WriteBool(v bool) {
	if v {
		w.WriteC(1)
	} else {
		w.WriteC(0)
	}
}

// WriteF32 writes 4 bytes little-endian.
func (w *Writer) WriteF32(v float32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, math.Float32bits(v))
}

// WriteF64 writes 8 bytes little-endian.
func (w *Writer) WriteF64(v float64) {
	w.buf = binary.LittleEndian.AppendUint64(w.buf, math.Float64bits(v))
}

// WriteS writes a varint byte length followed by the UTF-8 bytes.
func (w *Writer) WriteS(s string) {
	w.WriteUvarint(uint64(len(s)))
	w.buf = append(w.buf, s...)
}

// WriteBytes writes raw bytes.
func (w *Writer) WriteBytes(b []byte) {
	w.buf = append(w.buf, b...)
}

// Bytes returns the written content, headroom included.
func (w *Writer) Bytes() []byte {
	return w.buf
}

// Len returns the current length, headroom included.
func (w *Writer) Len() int {
	return len(w.buf)
}

// Reset truncates the writer to n bytes.
func (w *Writer) Reset(n int) {
	w.buf = w.buf[:n]
}

// Encode is a shorthand for writing one Encoder into a fresh buffer.
func Encode(e Encoder) []byte {
	w := NewWriter()
	e.Encode(w)
	return w.Bytes()
}
