package rpc

import (
	"errors"
	"fmt"
	"io"

	hgnet "github.com/heatgun/hg/internal/net"
	"github.com/heatgun/hg/internal/net/packet"
)

// NodeID names a replicated node on the wire. Zero is never allocated.
type NodeID uint64

// Client-bound header tags.
const (
	cbSendMessage uint64 = iota
	cbCreateNode
	cbDeleteNode
)

// Server-bound header tags.
const (
	sbSendMessage uint64 = iota
)

// ProtocolError reports a packet that does not follow the replication
// protocol. On the client it is fatal; the server drops the packet.
type ProtocolError struct {
	Msg string
	Err error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return "rpc: protocol error: " + e.Msg + ": " + e.Err.Error()
	}
	return "rpc: protocol error: " + e.Msg
}

func (e *ProtocolError) Unwrap() error { return e.Err }

func protocolErr(err error, format string, args ...any) error {
	return &ProtocolError{Msg: fmt.Sprintf(format, args...), Err: err}
}

// cbHeader is the tail part of every client-bound packet.
type cbHeader struct {
	tag  uint64
	id   NodeID
	kind string // CreateNode only
}

func (h cbHeader) Encode(w *packet.Writer) {
	w.WriteUvarint(h.tag)
	w.WriteUvarint(uint64(h.id))
	if h.tag == cbCreateNode {
		w.WriteS(h.kind)
	}
}

func decodeCBHeader(b []byte) (cbHeader, error) {
	r := packet.NewReader(b)
	h := cbHeader{tag: r.ReadUvarint()}
	if r.Err() == nil && h.tag > cbDeleteNode {
		return h, protocolErr(nil, "unknown header tag %d", h.tag)
	}
	h.id = NodeID(r.ReadNonZero())
	if h.tag == cbCreateNode {
		h.kind = r.ReadS()
	}
	if err := r.Finish(); err != nil {
		return h, protocolErr(err, "bad header")
	}
	return h, nil
}

type sbHeader struct {
	id NodeID
}

func (h sbHeader) Encode(w *packet.Writer) {
	w.WriteUvarint(sbSendMessage)
	w.WriteUvarint(uint64(h.id))
}

func decodeSBHeader(b []byte) (sbHeader, error) {
	r := packet.NewReader(b)
	if tag := r.ReadUvarint(); r.Err() == nil && tag != sbSendMessage {
		return sbHeader{}, protocolErr(nil, "unknown header tag %d", tag)
	}
	h := sbHeader{id: NodeID(r.ReadNonZero())}
	if err := r.Finish(); err != nil {
		return h, protocolErr(err, "bad header")
	}
	return h, nil
}

// frame builds a packet whose head part is body (which may be nil) and whose
// tail part is hdr.
func frame(body, hdr packet.Encoder) []byte {
	enc := hgnet.NewFrameEncoder()
	if body != nil {
		enc.Part(body)
	} else {
		enc.EndPart()
	}
	enc.Part(hdr)
	return enc.Finish()
}

// split pops the header part and returns it with the body part. A packet
// with only a header yields an empty body.
func split(payload []byte) (head, body []byte, err error) {
	mp := hgnet.NewMultipart(payload)
	head, err = mp.Next()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil, protocolErr(nil, "empty packet")
		}
		return nil, nil, protocolErr(err, "bad multipart")
	}
	body, err = mp.Next()
	if errors.Is(err, io.EOF) {
		return head, nil, nil
	}
	if err != nil {
		return nil, nil, protocolErr(err, "bad multipart")
	}
	return head, body, nil
}
