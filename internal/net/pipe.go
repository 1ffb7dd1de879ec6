package net

import (
	"context"
	"net"
	"sync"
)

// pipeState is shared by both ends of an in-memory pipe so that a close on
// one side is observed with its code on the other.
type pipeState struct {
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
	ends   [2]net.Conn

	code   CloseCode
	reason []byte
	closer int
}

type pipeConn struct {
	side  int
	state *pipeState
}

// Pipe returns two connected in-memory Conns. Writes block until the other
// end reads them.
func Pipe() (Conn, Conn) {
	a, b := net.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	st := &pipeState{ctx: ctx, cancel: cancel, ends: [2]net.Conn{a, b}}
	return &pipeConn{side: 0, state: st}, &pipeConn{side: 1, state: st}
}

func (p *pipeConn) Read(b []byte) (int, error) {
	n, err := p.state.ends[p.side].Read(b)
	if err != nil {
		if cause := p.CloseCause(); cause != nil {
			return n, cause
		}
	}
	return n, err
}

func (p *pipeConn) Write(b []byte) (int, error) {
	n, err := p.state.ends[p.side].Write(b)
	if err != nil {
		if cause := p.CloseCause(); cause != nil {
			return n, cause
		}
	}
	return n, err
}

func (p *pipeConn) Close(code CloseCode, reason []byte) error {
	st := p.state
	st.once.Do(func() {
		st.code = code
		st.reason = append([]byte(nil), reason...)
		st.closer = p.side
		st.cancel()
		st.ends[0].Close()
		st.ends[1].Close()
	})
	return nil
}

func (p *pipeConn) Context() context.Context {
	return p.state.ctx
}

func (p *pipeConn) CloseCause() error {
	st := p.state
	if st.ctx.Err() == nil {
		return nil
	}
	return &CloseError{Code: st.code, Reason: st.reason, Remote: st.closer != p.side}
}

func (p *pipeConn) RemoteAddr() net.Addr {
	return p.state.ends[p.side].RemoteAddr()
}

type pipeAddr struct{}

func (pipeAddr) Network() string { return "pipe" }
func (pipeAddr) String() string  { return "pipe" }

// PipeListener hands out in-memory connections created by Dial.
type PipeListener struct {
	conns  chan Conn
	ctx    context.Context
	cancel context.CancelFunc
}

func NewPipeListener() *PipeListener {
	ctx, cancel := context.WithCancel(context.Background())
	return &PipeListener{conns: make(chan Conn), ctx: ctx, cancel: cancel}
}

func (l *PipeListener) Accept(ctx context.Context) (Conn, error) {
	select {
	case c := <-l.conns:
		return c, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.ctx.Done():
		return nil, net.ErrClosed
	}
}

// Dial is a Dialer connecting to this listener.
func (l *PipeListener) Dial(ctx context.Context) (Conn, error) {
	client, server := Pipe()
	select {
	case l.conns <- server:
		return client, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.ctx.Done():
		return nil, net.ErrClosed
	}
}

func (l *PipeListener) Close() error {
	l.cancel()
	return nil
}

func (l *PipeListener) Addr() net.Addr {
	return pipeAddr{}
}
