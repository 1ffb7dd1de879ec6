package net

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// wsCloseBase offsets CloseCode into the private-use WebSocket close range.
const wsCloseBase = 4000

// wsConn carries the stream protocol as a sequence of binary messages. Each
// Write becomes one message; Read concatenates message payloads.
type wsConn struct {
	ws     *websocket.Conn
	ctx    context.Context
	cancel context.CancelCauseFunc
	once   sync.Once
	r      io.Reader // current message, rx goroutine only
}

func newWSConn(ws *websocket.Conn) *wsConn {
	ctx, cancel := context.WithCancelCause(context.Background())
	return &wsConn{ws: ws, ctx: ctx, cancel: cancel}
}

func (c *wsConn) Read(b []byte) (int, error) {
	for {
		if c.r == nil {
			mt, r, err := c.ws.NextReader()
			if err != nil {
				return 0, c.fail(err)
			}
			if mt != websocket.BinaryMessage {
				continue
			}
			c.r = r
		}
		n, err := c.r.Read(b)
		if errors.Is(err, io.EOF) {
			c.r = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		if err != nil {
			return n, c.fail(err)
		}
		return n, nil
	}
}

func (c *wsConn) Write(b []byte) (int, error) {
	if err := c.ws.WriteMessage(websocket.BinaryMessage, b); err != nil {
		return 0, c.fail(err)
	}
	return len(b), nil
}

func (c *wsConn) Close(code CloseCode, reason []byte) error {
	var err error
	c.once.Do(func() {
		if len(reason) > 120 {
			reason = reason[:120]
		}
		msg := websocket.FormatCloseMessage(wsCloseBase+int(code), string(reason))
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		c.cancel(&CloseError{Code: code, Reason: append([]byte(nil), reason...)})
		err = c.ws.Close()
	})
	return err
}

// fail records the first terminal error and returns the classified cause.
func (c *wsConn) fail(err error) error {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		code := CloseApplication
		if ce.Code >= wsCloseBase {
			code = CloseCode(ce.Code - wsCloseBase)
		} else if ce.Code != websocket.CloseNormalClosure && ce.Code != websocket.CloseGoingAway {
			code = CloseCrash
		}
		err = &CloseError{Code: code, Reason: []byte(ce.Text), Remote: true}
	}
	c.cancel(err)
	return context.Cause(c.ctx)
}

func (c *wsConn) Context() context.Context {
	return c.ctx
}

func (c *wsConn) CloseCause() error {
	if c.ctx.Err() == nil {
		return nil
	}
	return context.Cause(c.ctx)
}

func (c *wsConn) RemoteAddr() net.Addr {
	return c.ws.RemoteAddr()
}

// WSListener is an http.Handler that upgrades requests into Conns.
type WSListener struct {
	upgrader websocket.Upgrader
	conns    chan Conn
	ctx      context.Context
	cancel   context.CancelFunc
	log      *zap.Logger

	srv  *http.Server
	addr net.Addr
}

func NewWSListener(log *zap.Logger) *WSListener {
	ctx, cancel := context.WithCancel(context.Background())
	return &WSListener{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		conns:  make(chan Conn),
		ctx:    ctx,
		cancel: cancel,
		log:    log.Named("websocket"),
	}
}

// ListenWebSocket serves a WSListener on addr at path.
func ListenWebSocket(addr, path string, log *zap.Logger) (*WSListener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("websocket listen %s: %w", addr, err)
	}
	l := NewWSListener(log)
	mux := http.NewServeMux()
	mux.Handle(path, l)
	l.srv = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	l.addr = ln.Addr()
	go func() {
		if err := l.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.log.Error("HTTP 服務中止", zap.Error(err))
		}
	}()
	return l, nil
}

func (l *WSListener) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.log.Debug("升級失敗", zap.String("remote", r.RemoteAddr), zap.Error(err))
		return
	}
	c := newWSConn(ws)
	select {
	case l.conns <- c:
	case <-l.ctx.Done():
		_ = c.Close(CloseApplication, []byte("server closing"))
	}
}

func (l *WSListener) Accept(ctx context.Context) (Conn, error) {
	select {
	case c := <-l.conns:
		return c, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.ctx.Done():
		return nil, net.ErrClosed
	}
}

func (l *WSListener) Close() error {
	l.cancel()
	if l.srv != nil {
		return l.srv.Close()
	}
	return nil
}

func (l *WSListener) Addr() net.Addr {
	if l.addr == nil {
		return pipeAddr{}
	}
	return l.addr
}

// DialWebSocket returns a Dialer for a ws:// or wss:// URL.
func DialWebSocket(url string) Dialer {
	return func(ctx context.Context) (Conn, error) {
		ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
		if err != nil {
			return nil, fmt.Errorf("websocket dial %s: %w", url, err)
		}
		return newWSConn(ws), nil
	}
}
