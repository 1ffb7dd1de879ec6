package net

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrWorkerPanic is the disconnect cause when a transport goroutine panics.
	ErrWorkerPanic = errors.New("net: transport worker panicked")
	// ErrPeerDisconnected is reported for sends to a peer that is gone.
	ErrPeerDisconnected = errors.New("net: peer disconnected")

	errKicked = errors.New("net: disconnected locally")
)

type txKind uint8

const (
	txReliable txKind = iota
	txDisconnect
)

type txAction struct {
	kind   txKind
	data   []byte
	permit *Permit
}

// link drives one Conn: an rx goroutine decoding frames under per-link
// back-pressure and a tx goroutine draining queued send actions. Sends and
// kicks only touch the tx queue, so they may be issued before the Conn exists.
type link struct {
	conn      Conn
	connID    string
	log       *zap.Logger
	maxPacket int
	rx        *AsyncBackPressure
	tx        *eventQueue[txAction]
	deliver   func(pkt []byte, permit *Permit)
	done      atomic.Bool
}

func newLink(log *zap.Logger, maxPacket, rxCapacity int, deliver func([]byte, *Permit)) *link {
	return &link{
		log:       log,
		maxPacket: maxPacket,
		rx:        NewAsyncBackPressure(rxCapacity),
		tx:        newEventQueue[txAction](),
		deliver:   deliver,
	}
}

func (l *link) attach(conn Conn) {
	l.conn = conn
	l.connID = uuid.NewString()
	l.log = l.log.With(zap.String("conn", l.connID), zap.String("remote", AddrString(conn.RemoteAddr())))
}

func (l *link) send(frame []byte, permit *Permit) bool {
	if err := CheckFrame(frame, l.maxPacket); err != nil {
		l.log.Error("送出封包超過上限，已丟棄", zap.Int("bytes", len(frame)), zap.Error(err))
		permit.Release()
		return false
	}
	if !l.tx.Enqueue(txAction{kind: txReliable, data: frame, permit: permit}) {
		permit.Release()
		return false
	}
	return true
}

func (l *link) kick(goodbye []byte) bool {
	return l.tx.Enqueue(txAction{kind: txDisconnect, data: goodbye})
}

func (l *link) alive() bool {
	return !l.done.Load()
}

// run blocks until the connection ends and returns the classified cause:
// nil for a local graceful close, the peer's *CloseError for a remote close,
// otherwise the failure that brought the link down.
func (l *link) run(ctx context.Context) error {
	defer l.shutdown()

	g, gctx := errgroup.WithContext(ctx)
	stop := context.AfterFunc(gctx, func() { _ = l.conn.Close(l.fallbackCode(ctx), nil) })
	defer stop()

	g.Go(func() error { return recoverWorker(l.log, "rx", func() error { return l.readLoop(gctx) }) })
	g.Go(func() error { return recoverWorker(l.log, "tx", func() error { return l.writeLoop(gctx) }) })
	err := g.Wait()
	_ = l.conn.Close(l.fallbackCode(ctx), nil)

	return l.classify(ctx, err)
}

// shutdown refuses further sends and returns the credit of everything queued.
func (l *link) shutdown() {
	l.done.Store(true)
	l.tx.Close()
	for _, act := range l.tx.Drain() {
		act.permit.Release()
	}
}

func (l *link) fallbackCode(ctx context.Context) CloseCode {
	if ctx.Err() != nil {
		return CloseApplication
	}
	return CloseCrash
}

func (l *link) classify(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, ErrWorkerPanic):
		return err
	case errors.Is(err, errKicked):
		return nil
	}
	var ce *CloseError
	if errors.As(l.conn.CloseCause(), &ce) {
		if ce.Remote {
			return ce
		}
		if ce.Code == CloseApplication {
			return nil
		}
	}
	if errors.As(err, &ce) && ce.Remote {
		return ce
	}
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (l *link) readLoop(ctx context.Context) error {
	fr := NewFrameReader(l.conn, l.maxPacket)
	for {
		if err := l.rx.Wait(ctx); err != nil {
			return err
		}
		pkt, err := fr.ReadFrame()
		if err != nil {
			var fe *FramingError
			if errors.As(err, &fe) {
				l.log.Warn("封包分框錯誤", zap.Error(err))
			}
			return err
		}
		permit, err := l.rx.Start(len(pkt))
		if err != nil {
			return err
		}
		l.deliver(pkt, permit)
	}
}

func (l *link) writeLoop(ctx context.Context) error {
	for {
		for {
			act, ok := l.tx.TryDequeue()
			if !ok {
				break
			}
			switch act.kind {
			case txReliable:
				err := WriteFrame(l.conn, act.data)
				act.permit.Release()
				if err != nil {
					return err
				}
			case txDisconnect:
				_ = l.conn.Close(CloseApplication, act.data)
				return errKicked
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.conn.Context().Done():
			if cause := l.conn.CloseCause(); cause != nil {
				return cause
			}
			return ErrPeerDisconnected
		case <-l.tx.Wait():
		}
	}
}

// recoverWorker runs fn, converting a panic into an ErrWorkerPanic error so a
// single bad connection cannot take the process down.
func recoverWorker(log *zap.Logger, name string, fn func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error("傳輸工作 panic 已恢復",
				zap.String("worker", name),
				zap.Any("panic", rec),
			)
			err = fmt.Errorf("%w: %s: %v", ErrWorkerPanic, name, rec)
		}
	}()
	return fn()
}
