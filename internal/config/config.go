package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// EnvPath names the environment variable consulted when no --config flag is
// given.
const EnvPath = "HG_CONFIG"

type Config struct {
	Server  ServerConfig  `toml:"server"`
	Client  ClientConfig  `toml:"client"`
	Network NetworkConfig `toml:"network"`
	Physics PhysicsConfig `toml:"physics"`
	World   WorldConfig   `toml:"world"`
	Logging LoggingConfig `toml:"logging"`
}

type ServerConfig struct {
	Name      string        `toml:"name"`
	Listen    string        `toml:"listen"`
	Carrier   string        `toml:"carrier"` // "quic" or "websocket"
	WSPath    string        `toml:"ws_path"`
	TickDT    time.Duration `toml:"tick_dt"`
	MaxCatch  int           `toml:"max_catch_up"` // ticks run per frame at most
	CertFile  string        `toml:"cert_file"`    // empty: self-signed dev cert
	KeyFile   string        `toml:"key_file"`
	StartTime int64         // set at boot, not from config
}

type ClientConfig struct {
	Address  string `toml:"address"`
	Username string `toml:"username"`
	Style    uint8  `toml:"style"`
	Insecure bool   `toml:"insecure"` // skip certificate verification (dev cert)
}

type NetworkConfig struct {
	MaxPacketSize      int           `toml:"max_packet_size"`
	ListenBackPressure int           `toml:"listen_back_pressure"`
	PeerRxCapacity     int           `toml:"peer_rx_capacity"`
	DialTimeout        time.Duration `toml:"dial_timeout"`
	KeepAlive          time.Duration `toml:"keep_alive"`
	IdleTimeout        time.Duration `toml:"idle_timeout"`
}

type PhysicsConfig struct {
	MaxSubSteps     int     `toml:"max_sub_steps"`
	SafetyThreshold float64 `toml:"safety_threshold"`
}

type WorldConfig struct {
	Level   string `toml:"level"`   // YAML level file
	Scripts string `toml:"scripts"` // directory of Lua mover scripts
	Actors  int    `toml:"actors"`  // scripted movers spawned at boot
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // "json" or "console"
}

// Load reads path over the defaults. Keys missing from the file keep their
// default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg := defaults()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	cfg.Server.StartTime = time.Now().Unix()
	return cfg, nil
}

// Resolve picks the config path: the flag value, then $HG_CONFIG. An empty
// result means the defaults are used.
func Resolve(flag string) string {
	if flag != "" {
		return flag
	}
	return os.Getenv(EnvPath)
}

// LoadOrDefault loads path, or returns the defaults when path is empty.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		cfg := defaults()
		cfg.Server.StartTime = time.Now().Unix()
		return cfg, nil
	}
	return Load(path)
}

func (c *Config) validate() error {
	switch c.Server.Carrier {
	case "quic", "websocket":
	default:
		return fmt.Errorf("unknown carrier %q", c.Server.Carrier)
	}
	if c.Server.TickDT <= 0 {
		return fmt.Errorf("tick_dt must be positive, got %s", c.Server.TickDT)
	}
	if c.Network.MaxPacketSize <= 0 {
		return fmt.Errorf("max_packet_size must be positive, got %d", c.Network.MaxPacketSize)
	}
	if c.Physics.MaxSubSteps <= 0 {
		return fmt.Errorf("max_sub_steps must be positive, got %d", c.Physics.MaxSubSteps)
	}
	return nil
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Name:     "heat-gun",
			Listen:   "0.0.0.0:8080",
			Carrier:  "quic",
			WSPath:   "/ws",
			TickDT:   time.Second / 60,
			MaxCatch: 5,
		},
		Client: ClientConfig{
			Address:  "127.0.0.1:8080",
			Username: "player_mc_playerface",
			Insecure: true,
		},
		Network: NetworkConfig{
			MaxPacketSize:      1024,
			ListenBackPressure: 64,
			PeerRxCapacity:     1024,
			DialTimeout:        5 * time.Second,
			KeepAlive:          5 * time.Second,
			IdleTimeout:        30 * time.Second,
		},
		Physics: PhysicsConfig{
			MaxSubSteps:     10,
			SafetyThreshold: 1e-3,
		},
		World: WorldConfig{
			Level:   "data/level.yaml",
			Scripts: "scripts",
			Actors:  4,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}
