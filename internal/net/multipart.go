package net

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// ErrBadPart is wrapped by every multipart decode failure.
var ErrBadPart = errors.New("net: malformed multipart payload")

// Multipart walks a payload's parts from the tail back to the head.
type Multipart struct {
	rest []byte
}

func NewMultipart(payload []byte) *Multipart {
	return &Multipart{rest: payload}
}

// Remaining returns the bytes not yet split off.
func (m *Multipart) Remaining() []byte {
	return m.rest
}

// Next pops the last part. io.EOF means the payload is used up.
func (m *Multipart) Next() ([]byte, error) {
	if len(m.rest) == 0 {
		return nil, io.EOF
	}

	var tmp [binary.MaxVarintLen64]byte
	tail := m.rest[max(0, len(m.rest)-binary.MaxVarintLen64):]
	for i := range tail {
		tmp[i] = tail[len(tail)-1-i]
	}

	size, n := binary.Uvarint(tmp[:len(tail)])
	if n <= 0 {
		return nil, fmt.Errorf("%w: invalid part length suffix", ErrBadPart)
	}
	m.rest = m.rest[:len(m.rest)-n]

	if size > uint64(len(m.rest)) {
		return nil, fmt.Errorf("%w: part has length %d but %d bytes remain", ErrBadPart, size, len(m.rest))
	}
	cut := len(m.rest) - int(size)
	part := m.rest[cut:]
	m.rest = m.rest[:cut]
	return part, nil
}

// Parts decodes every part, returning them in tail-first order.
func (m *Multipart) Parts() ([][]byte, error) {
	var out [][]byte
	for {
		p, err := m.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, p)
	}
}
