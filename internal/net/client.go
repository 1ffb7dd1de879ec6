package net

import (
	"context"
	"fmt"
	"iter"
	"sync"

	"go.uber.org/zap"
)

// ClientEvent is one of Connected, Disconnected, Data.
type ClientEvent interface{ isClientEvent() }

type Connected struct{}

// Disconnected is emitted exactly once. A nil Cause means this side closed
// gracefully; a *CloseError with Remote set carries the server's goodbye.
type Disconnected struct {
	Cause error
}

type Data struct {
	Packet []byte
	Permit *Permit
}

func (Connected) isClientEvent()    {}
func (Disconnected) isClientEvent() {}
func (Data) isClientEvent()         {}

type ClientConfig struct {
	MaxPacketSize int
	RxCapacity    int
}

func DefaultClientConfig() ClientConfig {
	return ClientConfig{MaxPacketSize: DefaultMaxPacketSize, RxCapacity: 1024}
}

// ClientTransport owns one outgoing connection. Sends issued before the dial
// completes are queued and written once connected.
type ClientTransport struct {
	log    *zap.Logger
	link   *link
	events *eventQueue[ClientEvent]

	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once

	closing bool // game loop only
}

// DialClient starts connecting in the background.
func DialClient(dial Dialer, cfg ClientConfig, log *zap.Logger) *ClientTransport {
	d := DefaultClientConfig()
	if cfg.MaxPacketSize <= 0 {
		cfg.MaxPacketSize = d.MaxPacketSize
	}
	if cfg.RxCapacity <= 0 {
		cfg.RxCapacity = d.RxCapacity
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &ClientTransport{
		log:    log.Named("transport"),
		events: newEventQueue[ClientEvent](),
		cancel: cancel,
	}
	t.link = newLink(t.log, cfg.MaxPacketSize, cfg.RxCapacity, func(pkt []byte, rx *Permit) {
		if !t.events.Enqueue(Data{Packet: pkt, Permit: rx}) {
			rx.Release()
		}
	})

	t.wg.Add(1)
	go t.run(ctx, dial)
	return t
}

func (t *ClientTransport) run(ctx context.Context, dial Dialer) {
	defer t.wg.Done()

	conn, err := dial(ctx)
	if err != nil {
		t.link.shutdown()
		t.log.Warn("連線失敗", zap.Error(err))
		t.events.Enqueue(Disconnected{Cause: fmt.Errorf("dial: %w", err)})
		return
	}
	t.link.attach(conn)
	t.link.log.Info("已連線")
	t.events.Enqueue(Connected{})

	cause := t.link.run(ctx)
	if IsGraceful(cause) {
		t.link.log.Info("連線關閉", zap.Error(cause))
	} else {
		t.link.log.Warn("連線異常關閉", zap.Error(cause))
	}
	t.events.Enqueue(Disconnected{Cause: cause})
}

// Process yields queued events without blocking. After Disconnect, inbound
// data is dropped.
func (t *ClientTransport) Process() iter.Seq[ClientEvent] {
	return func(yield func(ClientEvent) bool) {
		for {
			ev, ok := t.events.TryDequeue()
			if !ok {
				return
			}
			if d, isData := ev.(Data); isData && t.closing {
				d.Permit.Release()
				continue
			}
			if !yield(ev) {
				return
			}
		}
	}
}

// Alive reports whether the connection may still carry sends.
func (t *ClientTransport) Alive() bool {
	return !t.closing && t.link.alive()
}

// Send queues one frame; after Disconnect it is absorbed.
func (t *ClientTransport) Send(frame []byte, permit *Permit) {
	if t.closing {
		permit.Release()
		return
	}
	t.link.send(frame, permit)
}

// Disconnect queues a graceful close carrying goodbye. Delivery of frames
// queued before it follows the carrier, as for ServerTransport.PeerKick.
func (t *ClientTransport) Disconnect(goodbye []byte) {
	if t.closing {
		t.log.Warn("重複斷開連線")
		return
	}
	t.closing = true
	t.link.kick(goodbye)
}

// Close tears the connection down and waits for the workers.
func (t *ClientTransport) Close() {
	t.once.Do(func() {
		t.cancel()
		t.wg.Wait()
		t.events.Close()
	})
}
