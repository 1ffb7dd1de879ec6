package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"math"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/heatgun/hg/internal/component"
	"github.com/heatgun/hg/internal/config"
	"github.com/heatgun/hg/internal/core/ecs"
	coresys "github.com/heatgun/hg/internal/core/system"
	"github.com/heatgun/hg/internal/mp"
	hgnet "github.com/heatgun/hg/internal/net"
	"github.com/heatgun/hg/internal/rpc"
	"github.com/heatgun/hg/internal/system"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type options struct {
	configPath string
	address    string
	username   string
	carrier    string
	nudge      float64
	report     time.Duration
}

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:           "hgclient",
		Short:         "Connect to a heat-gun server and mirror its actors",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), opts)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&opts.configPath, "config", "c", "", "config file (default $"+config.EnvPath+")")
	f.StringVar(&opts.address, "address", "", "override [client] address")
	f.StringVarP(&opts.username, "username", "u", "", "override [client] username")
	f.StringVar(&opts.carrier, "carrier", "", "override [server] carrier (quic or websocket)")
	f.Float64Var(&opts.nudge, "nudge", 0, "push the first actor around at this speed each report")
	f.DurationVar(&opts.report, "report", time.Second, "interval between mirror reports")
	return cmd
}

func run(ctx context.Context, opts *options) error {
	cfg, err := config.LoadOrDefault(config.Resolve(opts.configPath))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if opts.address != "" {
		cfg.Client.Address = opts.address
	}
	if opts.username != "" {
		cfg.Client.Username = opts.username
	}
	if opts.carrier != "" {
		cfg.Server.Carrier = opts.carrier
	}

	log, err := cfg.Logging.NewLogger()
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	tr := hgnet.DialClient(dialer(cfg), hgnet.ClientConfig{
		MaxPacketSize: cfg.Network.MaxPacketSize,
		RxCapacity:    cfg.Network.PeerRxCapacity,
	}, log)
	defer tr.Close()

	world := ecs.NewWorld()
	rc := rpc.NewClient(world, log)
	rc.RegisterKind(system.NewActorClientKind())
	cli := mp.NewClient(tr, rc, mp.Hello{Username: cfg.Client.Username, Style: cfg.Client.Style}, log)

	loop := coresys.NewRunLoop(cfg.Server.TickDT)
	rep := &reporter{world: world, rpc: rc, log: log, every: opts.report, nudge: opts.nudge}

	runner := coresys.NewRunner()
	runner.Register(system.NewClientInputSystem(cli))
	runner.Register(coresys.Func{P: coresys.PhaseUpdate, Fn: rep.update})
	runner.Register(coresys.Func{P: coresys.PhaseCleanup, Fn: func(time.Duration) {
		if done, _ := cli.Done(); done {
			loop.RequestExit()
		}
	}})
	runner.Register(system.NewCleanupSystem(world))

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("連線中", zap.String("address", cfg.Client.Address), zap.String("carrier", cfg.Server.Carrier))
	err = loop.Run(ctx, runner)
	if errors.Is(err, context.Canceled) {
		tr.Disconnect(nil)
		return nil
	}
	if err != nil {
		return err
	}
	_, cause := cli.Done()
	if cause != nil && !hgnet.IsGraceful(cause) {
		return cause
	}
	return nil
}

func dialer(cfg *config.Config) hgnet.Dialer {
	var dial hgnet.Dialer
	switch cfg.Server.Carrier {
	case "websocket":
		dial = hgnet.DialWebSocket("ws://" + cfg.Client.Address + cfg.Server.WSPath)
	default:
		qc := hgnet.DefaultQUICConfig()
		qc.KeepAlivePeriod = cfg.Network.KeepAlive
		qc.MaxIdleTimeout = cfg.Network.IdleTimeout
		qc.HandshakeIdleTimeout = cfg.Network.DialTimeout
		dial = hgnet.DialQUIC(cfg.Client.Address, &tls.Config{InsecureSkipVerify: cfg.Client.Insecure}, qc)
	}
	timeout := cfg.Network.DialTimeout
	if timeout <= 0 {
		return dial
	}
	return func(ctx context.Context) (hgnet.Conn, error) {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return dial(ctx)
	}
}

// reporter logs the mirrored actors periodically and optionally nudges one
// of them so the round trip is visible.
type reporter struct {
	world *ecs.World
	rpc   *rpc.Client
	log   *zap.Logger
	every time.Duration
	nudge float64

	acc   time.Duration
	turns int
}

func (r *reporter) update(dt time.Duration) {
	r.acc += dt
	if r.every <= 0 || r.acc < r.every {
		return
	}
	r.acc = 0

	var mirrors []*component.Mirror
	for _, m := range ecs.Query1[component.Mirror](r.world) {
		mirrors = append(mirrors, m)
	}
	sort.Slice(mirrors, func(i, j int) bool { return mirrors[i].Node < mirrors[j].Node })
	for _, m := range mirrors {
		r.log.Debug("角色位置", zap.String("角色", m.Name), zap.Stringer("pos", m.Pos))
	}
	r.log.Info("同步狀態", zap.Int("節點", r.rpc.Len()))

	if r.nudge <= 0 || len(mirrors) == 0 {
		return
	}
	n, ok := r.rpc.Node(rpc.NodeID(mirrors[0].Node))
	if !ok {
		return
	}
	angle := float64(r.turns) * math.Pi / 2
	r.turns++
	n.Send(system.NudgeMsg{
		VX: float32(r.nudge * math.Cos(angle)),
		VY: float32(r.nudge * math.Sin(angle)),
	})
}
