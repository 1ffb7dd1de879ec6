package net

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
)

// CloseCode is the application-level reason a connection was closed.
type CloseCode uint32

const (
	CloseApplication CloseCode = 0 // graceful: kick, goodbye, shutdown
	CloseCrash       CloseCode = 1 // anomaly: framing error, worker failure
)

func (c CloseCode) String() string {
	switch c {
	case CloseApplication:
		return "Application"
	case CloseCrash:
		return "Crash"
	default:
		return fmt.Sprintf("Unknown(%d)", uint32(c))
	}
}

// CloseError describes a connection that was closed with a code.
// Remote is true when the other side initiated the close.
type CloseError struct {
	Code   CloseCode
	Reason []byte
	Remote bool
}

func (e *CloseError) Error() string {
	side := "locally"
	if e.Remote {
		side = "by peer"
	}
	if len(e.Reason) == 0 {
		return fmt.Sprintf("connection closed %s (%s)", side, e.Code)
	}
	return fmt.Sprintf("connection closed %s (%s): %q", side, e.Code, e.Reason)
}

// IsGraceful reports whether a disconnect cause is an orderly close.
func IsGraceful(cause error) bool {
	if cause == nil {
		return true
	}
	var ce *CloseError
	return errors.As(cause, &ce) && ce.Code == CloseApplication
}

// Conn is a reliable, in-order, bidirectional byte stream.
//
// Read returns a *CloseError with Remote set once the peer closes with a code.
// Close is idempotent: the first call decides the code seen by the peer.
type Conn interface {
	io.Reader
	io.Writer
	Close(code CloseCode, reason []byte) error
	// Context is cancelled when the connection terminates for any reason.
	Context() context.Context
	// CloseCause reports why the connection ended, or nil while it is open.
	CloseCause() error
	RemoteAddr() net.Addr
}

// Listener accepts server-side connections.
type Listener interface {
	Accept(ctx context.Context) (Conn, error)
	Close() error
	Addr() net.Addr
}

// Dialer opens one client-side connection.
type Dialer func(ctx context.Context) (Conn, error)
