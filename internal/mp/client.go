package mp

import (
	hgnet "github.com/heatgun/hg/internal/net"
	"github.com/heatgun/hg/internal/net/packet"
	"github.com/heatgun/hg/internal/rpc"
	"go.uber.org/zap"
)

// Client binds a client transport to an rpc client. It sends hello as soon
// as the connection is up.
type Client struct {
	tr    *hgnet.ClientTransport
	rpc   *rpc.Client
	hello Hello
	log   *zap.Logger

	connected bool
	done      bool
	cause     error
}

func NewClient(tr *hgnet.ClientTransport, rpcClient *rpc.Client, hello Hello, log *zap.Logger) *Client {
	return &Client{tr: tr, rpc: rpcClient, hello: hello, log: log.Named("mp")}
}

// Connected reports whether the hello has been sent and the connection is up.
func (c *Client) Connected() bool { return c.connected && !c.done }

// Done reports whether the connection has ended, and why.
func (c *Client) Done() (bool, error) { return c.done, c.cause }

// Process sends queued rpc messages, then drains transport events. Call it
// once per tick from the game loop.
func (c *Client) Process() {
	for _, frame := range c.rpc.DrainOutgoing() {
		c.tr.Send(frame, hgnet.NopPermit())
	}

	for ev := range c.tr.Process() {
		switch e := ev.(type) {
		case hgnet.Connected:
			c.connected = true
			c.tr.Send(hgnet.EncodeFrame(packet.Encode(c.hello)), hgnet.NopPermit())
			c.log.Info("送出登入", zap.String("username", c.hello.Username))

		case hgnet.Disconnected:
			c.done = true
			c.cause = e.Cause
			if hgnet.IsGraceful(e.Cause) {
				c.log.Info("與伺服器斷線", zap.Error(e.Cause))
			} else {
				c.log.Warn("與伺服器異常斷線", zap.Error(e.Cause))
			}

		case hgnet.Data:
			if err := c.rpc.RecvPacket(e.Packet); err != nil {
				c.log.Error("伺服器封包錯誤", zap.Error(err))
				c.tr.Disconnect(ProtocolErrorGoodbye)
			}
			e.Permit.Release()
		}
	}
}
