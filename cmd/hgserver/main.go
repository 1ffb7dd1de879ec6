package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/heatgun/hg/internal/collide"
	"github.com/heatgun/hg/internal/config"
	"github.com/heatgun/hg/internal/core/ecs"
	"github.com/heatgun/hg/internal/core/event"
	coresys "github.com/heatgun/hg/internal/core/system"
	"github.com/heatgun/hg/internal/data"
	"github.com/heatgun/hg/internal/mp"
	hgnet "github.com/heatgun/hg/internal/net"
	"github.com/heatgun/hg/internal/rpc"
	"github.com/heatgun/hg/internal/scripting"
	"github.com/heatgun/hg/internal/system"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type options struct {
	configPath string
	listen     string
	carrier    string
	level      string
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
		Use:           "hgserver",
		Short:         "Run the heat-gun world server",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), opts)
		},
	}
	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "config file (default $"+config.EnvPath+")")
	cmd.Flags().StringVar(&opts.listen, "listen", "", "override [server] listen")
	cmd.Flags().StringVar(&opts.carrier, "carrier", "", "override [server] carrier (quic or websocket)")
	cmd.Flags().StringVar(&opts.level, "level", "", "override [world] level")
	return cmd
}

func loadConfig(opts *options) (*config.Config, error) {
	cfg, err := config.LoadOrDefault(config.Resolve(opts.configPath))
	if err != nil {
		return nil, err
	}
	if opts.listen != "" {
		cfg.Server.Listen = opts.listen
	}
	if opts.carrier != "" {
		cfg.Server.Carrier = opts.carrier
	}
	if opts.level != "" {
		cfg.World.Level = opts.level
	}
	return cfg, nil
}

// ── Main server logic ─────────────────────────────────────────────

func run(ctx context.Context, opts *options) error {
	// 1. Load config
	cfg, err := loadConfig(opts)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// 2. Init logger
	log, err := cfg.Logging.NewLogger()
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	printBanner(cfg.Server.Name, cfg.Server.Carrier)

	// 3. Load the level and mover scripts
	printSection("世界載入")

	scripts, err := scripting.NewEngine(cfg.World.Scripts, log)
	if err != nil {
		return fmt.Errorf("scripts: %w", err)
	}
	defer scripts.Close()
	printStat("移動腳本", len(scripts.Names()))

	lvl, err := data.LoadLevel(cfg.World.Level)
	switch {
	case errors.Is(err, os.ErrNotExist):
		log.Warn("找不到關卡檔，使用預設競技場", zap.String("path", cfg.World.Level))
		lvl = data.Arena(cfg.World.Actors, scripts.Names())
	case err != nil:
		return fmt.Errorf("level: %w", err)
	}

	world := ecs.NewWorld()
	colliders := collide.NewBus(cfg.Physics.SafetyThreshold)
	printStat("碰撞體", len(lvl.Build(colliders)))

	// 4. Replication graph and actors
	rpcSrv := rpc.NewServer(world, log)
	group := rpcSrv.NewGroup()
	actorKind := system.NewActorServerKind(world)

	// Physics registers the body removal hook, so it must exist before any
	// actor is spawned.
	physics := system.NewPhysicsSystem(world, colliders, cfg.Physics.MaxSubSteps)

	for _, sp := range lvl.Spawns {
		if sp.Script != "" && !scripts.Has(sp.Script) {
			log.Warn("角色腳本不存在", zap.String("角色", sp.Name), zap.String("腳本", sp.Script))
		}
		if _, err := system.SpawnActor(world, colliders, rpcSrv, actorKind, group, sp); err != nil {
			return err
		}
	}
	printStat("角色", group.Len())
	fmt.Println()

	// 5. Transport
	printSection("網路")
	ln, err := listen(cfg, log)
	if err != nil {
		return err
	}
	tr := hgnet.NewServerTransport(ln, hgnet.ServerConfig{
		MaxPacketSize:      cfg.Network.MaxPacketSize,
		ListenBackPressure: cfg.Network.ListenBackPressure,
		PeerRxCapacity:     cfg.Network.PeerRxCapacity,
	}, log)
	defer tr.Close()
	printOK(fmt.Sprintf("%s 監聽成功", cfg.Server.Carrier))
	fmt.Println()

	bus := event.NewBus()
	mpSrv := mp.NewServer(world, tr, rpcSrv, bus, log)

	// 6. Create systems and register with runner
	runner := coresys.NewRunner()
	runner.Register(system.NewInputSystem(mpSrv))
	runner.Register(system.NewSessionSystem(bus, rpcSrv, group, log))
	runner.Register(system.NewMoverSystem(world, scripts, log))
	runner.Register(physics)
	runner.Register(system.NewReplicateSystem(world, rpcSrv))
	runner.Register(system.NewCleanupSystem(world))

	loop := coresys.NewRunLoop(cfg.Server.TickDT)
	loop.MaxCatchUp = cfg.Server.MaxCatch
	mpSrv.OnShutdown(func(cause error) {
		if cause != nil {
			log.Error("傳輸層異常關閉", zap.Error(cause))
		}
		loop.RequestExit()
	})

	// 7. Start game loop
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	printSection("伺服器就緒")
	printReady(fmt.Sprintf("監聽位址 %s", hgnet.AddrString(tr.Addr())))
	printReady(fmt.Sprintf("遊戲迴圈啟動 (tick: %s)", cfg.Server.TickDT))
	fmt.Println()

	err = loop.Run(ctx, runner)
	if errors.Is(err, context.Canceled) {
		log.Info("收到關閉信號")
		err = nil
	}
	log.Info("伺服器已停止", zap.Uint64("ticks", runner.Ticks()), zap.Int("在線", mpSrv.SessionCount()))
	return err
}

func listen(cfg *config.Config, log *zap.Logger) (hgnet.Listener, error) {
	switch cfg.Server.Carrier {
	case "websocket":
		ln, err := hgnet.ListenWebSocket(cfg.Server.Listen, cfg.Server.WSPath, log)
		if err != nil {
			return nil, err
		}
		return ln, nil
	default:
		tlsConf, err := serverTLS(cfg.Server)
		if err != nil {
			return nil, err
		}
		qc := hgnet.DefaultQUICConfig()
		qc.KeepAlivePeriod = cfg.Network.KeepAlive
		qc.MaxIdleTimeout = cfg.Network.IdleTimeout
		ln, err := hgnet.ListenQUIC(cfg.Server.Listen, tlsConf, qc)
		if err != nil {
			return nil, err
		}
		return ln, nil
	}
}

func serverTLS(cfg config.ServerConfig) (*tls.Config, error) {
	if cfg.CertFile != "" {
		return hgnet.LoadTLS(cfg.CertFile, cfg.KeyFile)
	}
	printOK("使用自簽開發憑證")
	return hgnet.SelfSignedTLS("localhost", "127.0.0.1")
}
