package net

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/quic-go/quic-go"
)

// QUICProtocol is the ALPN token both sides must offer.
const QUICProtocol = "hg-quic"

// quicPreamble is written by the dialer on the data stream so the server side
// can accept it; QUIC streams are invisible to the peer until they carry bytes.
const quicPreamble byte = 'h'

// DefaultQUICConfig keeps idle connections alive long enough for a paused
// client.
func DefaultQUICConfig() *quic.Config {
	return &quic.Config{
		KeepAlivePeriod: 5 * time.Second,
		MaxIdleTimeout:  30 * time.Second,
	}
}

// quicConn carries the stream protocol over one bidirectional QUIC stream.
// Close codes map onto the connection's application error code.
type quicConn struct {
	conn  quic.Connection
	ready chan struct{}

	stream quic.Stream
	err    error

	once  sync.Once
	mu    sync.Mutex
	local *CloseError
}

func newQUICConn(conn quic.Connection) *quicConn {
	return &quicConn{conn: conn, ready: make(chan struct{})}
}

// acceptStream resolves the data stream on the server side.
func (c *quicConn) acceptStream() {
	defer close(c.ready)

	stream, err := c.conn.AcceptStream(c.conn.Context())
	if err != nil {
		c.err = c.mapErr(err)
		return
	}
	var pre [1]byte
	if _, err := stream.Read(pre[:]); err != nil {
		c.err = c.mapErr(err)
		return
	}
	if pre[0] != quicPreamble {
		c.err = fmt.Errorf("quic: unexpected stream preamble %#x", pre[0])
		return
	}
	c.stream = stream
}

func (c *quicConn) await() (quic.Stream, error) {
	select {
	case <-c.ready:
		return c.stream, c.err
	default:
	}
	select {
	case <-c.ready:
		return c.stream, c.err
	case <-c.conn.Context().Done():
		return nil, c.CloseCause()
	}
}

func (c *quicConn) Read(b []byte) (int, error) {
	s, err := c.await()
	if err != nil {
		return 0, err
	}
	n, err := s.Read(b)
	if err != nil {
		return n, c.mapErr(err)
	}
	return n, nil
}

func (c *quicConn) Write(b []byte) (int, error) {
	s, err := c.await()
	if err != nil {
		return 0, err
	}
	n, err := s.Write(b)
	if err != nil {
		return n, c.mapErr(err)
	}
	return n, nil
}

// Close sends CONNECTION_CLOSE right away. Stream data the peer has not yet
// received is lost; the reason travels in the close frame itself.
func (c *quicConn) Close(code CloseCode, reason []byte) error {
	var err error
	c.once.Do(func() {
		c.mu.Lock()
		c.local = &CloseError{Code: code, Reason: append([]byte(nil), reason...)}
		c.mu.Unlock()
		err = c.conn.CloseWithError(quic.ApplicationErrorCode(code), string(reason))
	})
	return err
}

func (c *quicConn) Context() context.Context {
	return c.conn.Context()
}

func (c *quicConn) CloseCause() error {
	ctx := c.conn.Context()
	if ctx.Err() == nil {
		return nil
	}
	if cause := c.mapErr(context.Cause(ctx)); cause != nil {
		var ce *CloseError
		if errors.As(cause, &ce) {
			return ce
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.local != nil {
		return c.local
	}
	return context.Cause(ctx)
}

func (c *quicConn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

func (c *quicConn) mapErr(err error) error {
	var ae *quic.ApplicationError
	if errors.As(err, &ae) {
		return &CloseError{
			Code:   CloseCode(ae.ErrorCode),
			Reason: []byte(ae.ErrorMessage),
			Remote: ae.Remote,
		}
	}
	return err
}

// QUICListener accepts QUIC connections.
type QUICListener struct {
	ln *quic.Listener
}

func ListenQUIC(addr string, tlsConf *tls.Config, conf *quic.Config) (*QUICListener, error) {
	if tlsConf == nil {
		return nil, errors.New("quic listen: a TLS config is required")
	}
	tlsConf = tlsConf.Clone()
	tlsConf.NextProtos = []string{QUICProtocol}
	if conf == nil {
		conf = DefaultQUICConfig()
	}
	ln, err := quic.ListenAddr(addr, tlsConf, conf)
	if err != nil {
		return nil, fmt.Errorf("quic listen %s: %w", addr, err)
	}
	return &QUICListener{ln: ln}, nil
}

func (l *QUICListener) Accept(ctx context.Context) (Conn, error) {
	conn, err := l.ln.Accept(ctx)
	if err != nil {
		return nil, err
	}
	c := newQUICConn(conn)
	go c.acceptStream()
	return c, nil
}

func (l *QUICListener) Close() error {
	return l.ln.Close()
}

func (l *QUICListener) Addr() net.Addr {
	return l.ln.Addr()
}

// DialQUIC returns a Dialer that opens the data stream eagerly.
func DialQUIC(addr string, tlsConf *tls.Config, conf *quic.Config) Dialer {
	return func(ctx context.Context) (Conn, error) {
		tc := &tls.Config{}
		if tlsConf != nil {
			tc = tlsConf.Clone()
		}
		tc.NextProtos = []string{QUICProtocol}
		qc := conf
		if qc == nil {
			qc = DefaultQUICConfig()
		}
		conn, err := quic.DialAddr(ctx, addr, tc, qc)
		if err != nil {
			return nil, fmt.Errorf("quic dial %s: %w", addr, err)
		}
		stream, err := conn.OpenStreamSync(ctx)
		if err != nil {
			_ = conn.CloseWithError(quic.ApplicationErrorCode(CloseCrash), "")
			return nil, fmt.Errorf("quic open stream: %w", err)
		}
		if _, err := stream.Write([]byte{quicPreamble}); err != nil {
			_ = conn.CloseWithError(quic.ApplicationErrorCode(CloseCrash), "")
			return nil, fmt.Errorf("quic preamble: %w", err)
		}
		c := newQUICConn(conn)
		c.stream = stream
		close(c.ready)
		return c, nil
	}
}
