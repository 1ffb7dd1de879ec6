package packet

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"unicode/utf8"
)

// ErrShort is returned when a field runs past the end of the body.
var ErrShort = errors.New("packet: unexpected end of body")

// Reader reads packet fields from one decoded part.
// The first decode failure is sticky: every later read returns the zero value
// and Err reports the original failure.
type Reader struct {
	data []byte
	off  int
	err  error
}

func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

func (r *Reader) fail(err error) {
	if r.err == nil {
		r.err = err
	}
	r.off = len(r.data)
}

// Err returns the first decode failure, if any.
func (r *Reader) Err() error {
	return r.err
}

// ReadUvarint reads a LEB128 unsigned varint.
func (r *Reader) ReadUvarint() uint64 {
	if r.err != nil {
		return 0
	}
	v, n := binary.Uvarint(r.data[r.off:])
	switch {
	case n == 0:
		r.fail(ErrShort)
		return 0
	case n < 0:
		r.fail(fmt.Errorf("packet: varint overflows 64 bits at offset %d", r.off))
		return 0
	}
	r.off += n
	return v
}

// ReadVarint reads a zig-zag signed varint.
func (r *Reader) ReadVarint() int64 {
	if r.err != nil {
		return 0
	}
	v, n := binary.Varint(r.data[r.off:])
	switch {
	case n == 0:
		r.fail(ErrShort)
		return 0
	case n < 0:
		r.fail(fmt.Errorf("packet: varint overflows 64 bits at offset %d", r.off))
		return 0
	}
	r.off += n
	return v
}

// ReadNonZero reads an unsigned varint that must not be zero (node ids).
func (r *Reader) ReadNonZero() uint64 {
	v := r.ReadUvarint()
	if v == 0 && r.err == nil {
		r.fail(errors.New("packet: zero where a nonzero id was expected"))
	}
	return v
}

// ReadC reads 1 unsigned byte.
func (r *Reader) ReadC() byte {
	if r.err != nil {
		return 0
	}
	if r.off >= len(r.data) {
		r.fail(ErrShort)
		return 0
	}
	v := r.data[r.off]
	r.off++
	return v
}

// ReadBool reads one byte; anything other than 0 or 1 is an error.
func (r *Reader) ReadBool() bool {
	switch b := r.ReadC(); b {
	case 0:
		return false
	case 1:
		return true
	default:
		r.fail(fmt.Errorf("packet: invalid bool byte %#x", b))
		return false
	}
}

// ReadF32 reads 4 bytes as a little-endian IEEE 754 float.
func (r *Reader) ReadF32() float32 {
	if r.err != nil {
		return 0
	}
	if r.off+4 > len(r.data) {
		r.fail(ErrShort)
		return 0
	}
	v := math.Float32frombits(binary.LittleEndian.Uint32(r.data[r.off:]))
	r.off += 4
	return v
}

// ReadF64 reads 8 bytes as a little-endian IEEE 754 float.
func (r *Reader) ReadF64() float64 {
	if r.err != nil {
		return 0
	}
	if r.off+8 > len(r.data) {
		r.fail(ErrShort)
		return 0
	}
	v := math.Float64frombits(binary.LittleEndian.Uint64(r.data[r.off:]))
	r.off += 8
	return v
}

// ReadS reads a varint length followed by that many UTF-8 bytes.
func (r *Reader) ReadS() string {
	raw := r.ReadBytes(int(min(r.ReadUvarint(), uint64(len(r.data)+1))))
	if r.err != nil {
		return ""
	}
	if !utf8.Valid(raw) {
		r.fail(errors.New("packet: string is not valid UTF-8"))
		return ""
	}
	return string(raw)
}

// ReadBytes reads n raw bytes.
func (r *Reader) ReadBytes(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.off+n > len(r.data) {
		r.fail(ErrShort)
		return nil
	}
	b := make([]byte, n)
	copy(b, r.data[r.off:r.off+n])
	r.off += n
	return b
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.data) - r.off
}

// Finish reports the sticky error, or an error if unread bytes remain.
func (r *Reader) Finish() error {
	if r.err != nil {
		return r.err
	}
	if n := r.Remaining(); n > 0 {
		return fmt.Errorf("packet: %d trailing bytes", n)
	}
	return nil
}
