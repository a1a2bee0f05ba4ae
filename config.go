package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/20af02/netrelay/crypto"
	"github.com/20af02/netrelay/p2p"
	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const (
	defaultEnvDir       = "./.env" // Directory to store .env files
	defaultTickInterval = 100 * time.Millisecond

	envNodeID = "NETRELAY_NODE_ID"
	envEncKey = "NETRELAY_ENC_KEY"
	envDBFile = "NETRELAY_DB_FILE"
)

// NodeConfig is the per-node identity kept in <envDir>/node_<name>.env.
type NodeConfig struct {
	Name   string
	ID     string
	EncKey []byte
	DBFile string
}

// ChaosConfig mirrors p2p.ChaosConfig in the topology file.
type ChaosConfig struct {
	Loss float64 `yaml:"loss" toml:"loss"`
	Dup  float64 `yaml:"dup" toml:"dup"`
	Hold float64 `yaml:"hold" toml:"hold"`
	Down bool    `yaml:"down" toml:"down"`
	Seed int64   `yaml:"seed" toml:"seed"`
}

// RelayConfig describes one relay stack: a backend, optionally wrapped in
// chaos, encryption and metrics layers (innermost first).
type RelayConfig struct {
	Name        string       `yaml:"name" toml:"name"`
	Backend     string       `yaml:"backend" toml:"backend"` // echo | mem | tcp
	Addr        string       `yaml:"addr" toml:"addr"`
	Codec       string       `yaml:"codec" toml:"codec"`
	TickPayload string       `yaml:"tick_payload" toml:"tick_payload"`
	Chaos       *ChaosConfig `yaml:"chaos" toml:"chaos"`
	Encrypt     bool         `yaml:"encrypt" toml:"encrypt"`
	Metrics     bool         `yaml:"metrics" toml:"metrics"`
}

// Topology is the main config file, YAML or TOML by extension.
type Topology struct {
	Node         string        `yaml:"node" toml:"node"`
	TickInterval string        `yaml:"tick_interval" toml:"tick_interval"`
	LogLevel     string        `yaml:"log_level" toml:"log_level"`
	MetricsAddr  string        `yaml:"metrics_addr" toml:"metrics_addr"`
	Relays       []RelayConfig `yaml:"relays" toml:"relays"`
}

// loadTopology reads and validates the topology file at filePath.
func loadTopology(filePath string) (*Topology, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var topo Topology
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".toml":
		err = toml.Unmarshal(data, &topo)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &topo)
	default:
		return nil, fmt.Errorf("unsupported config format: %s", filePath)
	}
	if err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}
	if err := topo.validate(); err != nil {
		return nil, err
	}
	return &topo, nil
}

func (t *Topology) validate() error {
	if t.Node == "" {
		t.Node = "node"
	}
	if t.LogLevel == "" {
		t.LogLevel = "info"
	}
	if _, err := t.Interval(); err != nil {
		return err
	}
	seen := make(map[string]bool)
	for _, rc := range t.Relays {
		if rc.Name == "" {
			return errors.New("relay without name")
		}
		if seen[rc.Name] {
			return fmt.Errorf("duplicate relay name: %s", rc.Name)
		}
		seen[rc.Name] = true
		switch rc.Backend {
		case "echo":
		case "mem", "tcp":
			if rc.Addr == "" {
				return fmt.Errorf("relay %s: %s backend needs addr", rc.Name, rc.Backend)
			}
		default:
			return fmt.Errorf("relay %s: unknown backend %q", rc.Name, rc.Backend)
		}
		if _, err := p2p.CodecByName(rc.Codec); err != nil {
			return fmt.Errorf("relay %s: %w", rc.Name, err)
		}
	}
	return nil
}

// Interval returns the parsed tick interval.
func (t *Topology) Interval() (time.Duration, error) {
	if t.TickInterval == "" {
		return defaultTickInterval, nil
	}
	d, err := time.ParseDuration(t.TickInterval)
	if err != nil {
		return 0, fmt.Errorf("tick_interval: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("tick_interval must be positive: %s", t.TickInterval)
	}
	return d, nil
}

// FactoryEnv holds what a relay factory may need besides its RelayConfig.
type FactoryEnv struct {
	Switch  *p2p.Switch
	EncKey  []byte
	Metrics *p2p.Metrics
	Logger  *zap.Logger
}

// buildFactory assembles the worker stack described by rc.
func buildFactory(rc RelayConfig, env FactoryEnv) (p2p.ReceiverFactory, error) {
	codec, err := p2p.CodecByName(rc.Codec)
	if err != nil {
		return nil, err
	}
	if env.Logger == nil {
		env.Logger = zap.NewNop()
	}

	var f p2p.ReceiverFactory
	switch rc.Backend {
	case "echo":
		f = p2p.EchoFactory(rc.TickPayload)
	case "mem":
		if env.Switch == nil {
			return nil, errors.New("mem backend needs a switch")
		}
		f = p2p.MemFactory(env.Switch, rc.Addr)
	case "tcp":
		f = p2p.TCPFactory(p2p.TCPTransportOpts{
			ListenAddr: rc.Addr,
			Codec:      codec,
			Logger:     env.Logger.With(zap.String("relay", rc.Name)),
		})
	default:
		return nil, fmt.Errorf("unknown backend %q", rc.Backend)
	}

	if rc.Chaos != nil {
		f = p2p.ChaosFactory(f, p2p.ChaosConfig{
			Loss: rc.Chaos.Loss,
			Dup:  rc.Chaos.Dup,
			Hold: rc.Chaos.Hold,
			Up:   !rc.Chaos.Down,
			Seed: rc.Chaos.Seed,
		})
	}
	if rc.Encrypt {
		if len(env.EncKey) == 0 {
			return nil, fmt.Errorf("relay %s: encryption needs a key", rc.Name)
		}
		f = p2p.EncryptLayer(f, env.EncKey)
	}
	if rc.Metrics && env.Metrics != nil {
		f = p2p.Instrument(rc.Name, f, env.Metrics)
	}
	return f, nil
}

func envFile(envDir, name string) string {
	return filepath.Join(envDir, fmt.Sprintf("node_%s.env", name))
}

// loadConfig loads the node configuration from the .env file in the specified directory.
func loadConfig(envDir, name string) (*NodeConfig, error) {
	env, err := godotenv.Read(envFile(envDir, name))
	if err != nil {
		return nil, fmt.Errorf("error loading .env file: %w", err)
	}

	id := env[envNodeID]
	if id == "" {
		return nil, fmt.Errorf("%s not set", envNodeID)
	}

	encKeyStr := env[envEncKey]
	if encKeyStr == "" {
		return nil, fmt.Errorf("%s not set", envEncKey)
	}
	encKey, err := hex.DecodeString(encKeyStr)
	if err != nil {
		return nil, fmt.Errorf("error decoding encryption key: %w", err)
	}

	dbFile := env[envDBFile]
	if dbFile == "" {
		return nil, fmt.Errorf("%s not set", envDBFile)
	}

	return &NodeConfig{Name: name, ID: id, EncKey: encKey, DBFile: dbFile}, nil
}

// saveConfig saves the node configuration to a .env file in the specified directory.
func (c *NodeConfig) saveConfig(envDir string) error {
	return godotenv.Write(map[string]string{
		envNodeID: c.ID,
		envEncKey: hex.EncodeToString(c.EncKey),
		envDBFile: c.DBFile,
	}, envFile(envDir, c.Name))
}

// loadOrCreateConfig returns the saved identity of node name, creating
// and saving a fresh one on first run.
func loadOrCreateConfig(envDir, name string) (*NodeConfig, bool, error) {
	if cfg, err := loadConfig(envDir, name); err == nil {
		return cfg, false, nil
	}

	if err := os.MkdirAll(filepath.Join(envDir, "db"), 0o755); err != nil {
		return nil, false, fmt.Errorf("error creating %s: %w", envDir, err)
	}
	cfg := &NodeConfig{
		Name:   name,
		ID:     crypto.GenerateID(),
		EncKey: crypto.NewEncryptionKey(),
		DBFile: filepath.Join(envDir, "db", fmt.Sprintf("node_%s.db", name)),
	}
	if err := cfg.saveConfig(envDir); err != nil {
		return nil, false, fmt.Errorf("save config: %w", err)
	}
	return cfg, true, nil
}
