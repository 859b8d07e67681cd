package config

import (
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTPAddr string `yaml:"http_addr"`
	GRPCAddr string `yaml:"grpc_addr"` // "" disables the gRPC listener

	// Storage
	Env    string `yaml:"env"`     // "dev" | "prod"
	Store  string `yaml:"store"`   // "memory" | "sqlite"
	DBPath string `yaml:"db_path"` // e.g. "./data/spendperm.db"

	// Signing domain
	ChainID       uint64 `yaml:"chain_id"`
	EngineAddress string `yaml:"engine_address"`

	// Overseer administration
	OwnerAddress    string `yaml:"owner_address"`
	OverseerAddress string `yaml:"overseer_address"` // bootstrap value, applied once

	// Expired usage retention
	CycleRetentionDays int `yaml:"cycle_retention_days"` // 0 = keep forever
	PruneIntervalHours int `yaml:"prune_interval_hours"` // how often the pruner runs (default 6)

	// Execution
	Dispatcher string            `yaml:"dispatcher"` // "record" | "memory"
	DevFunds   map[string]string `yaml:"dev_funds"`  // address -> native amount, memory dispatcher in dev only
}

// Defaults returns the configuration used when nothing is set.
func Defaults() Config {
	return Config{
		HTTPAddr:           ":8080",
		GRPCAddr:           ":9090",
		Env:                "dev",
		Store:              "sqlite",
		DBPath:             "./data/spendperm.db",
		ChainID:            1,
		EngineAddress:      "0x000000000000000000000000000000000000E0E0",
		CycleRetentionDays: 30,
		PruneIntervalHours: 6,
		Dispatcher:         "record",
	}
}

// FromEnv reads SPENDPERM_* variables over the defaults.
func FromEnv() Config {
	cfg := Defaults()
	applyEnv(&cfg)
	return cfg
}

// Load reads the YAML file at path (if any) over the defaults, then applies
// the environment on top. An empty path falls back to SPENDPERM_CONFIG.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path == "" {
		path = strings.TrimSpace(os.Getenv("SPENDPERM_CONFIG"))
	}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(&cfg)
	cfg.normalize()
	return cfg, nil
}

// Engine returns the engine address, or the zero address if unset.
func (c Config) Engine() common.Address { return address(c.EngineAddress) }

// Owner returns the owner address, or the zero address if unset.
func (c Config) Owner() common.Address { return address(c.OwnerAddress) }

// Overseer returns the bootstrap overseer, or the zero address if unset.
func (c Config) Overseer() common.Address { return address(c.OverseerAddress) }

// DevFunding returns the native balances to credit at startup. It is empty
// outside dev. Entries with a bad address or amount are skipped.
func (c Config) DevFunding() map[common.Address]*big.Int {
	out := make(map[common.Address]*big.Int)
	if c.Env != "dev" {
		return out
	}
	for addr, amount := range c.DevFunds {
		addr = strings.TrimSpace(addr)
		if !common.IsHexAddress(addr) {
			continue
		}
		v, ok := new(big.Int).SetString(strings.TrimSpace(amount), 0)
		if !ok || v.Sign() <= 0 {
			continue
		}
		out[common.HexToAddress(addr)] = v
	}
	return out
}

func applyEnv(cfg *Config) {
	cfg.HTTPAddr = getenvDefault("SPENDPERM_HTTP_ADDR", cfg.HTTPAddr)
	if v, ok := os.LookupEnv("SPENDPERM_GRPC_ADDR"); ok {
		cfg.GRPCAddr = strings.TrimSpace(v)
	}

	cfg.Env = strings.ToLower(getenvDefault("SPENDPERM_ENV", cfg.Env))
	cfg.Store = strings.ToLower(getenvDefault("SPENDPERM_STORE", cfg.Store))
	cfg.DBPath = getenvDefault("SPENDPERM_DB_PATH", cfg.DBPath)

	cfg.ChainID = getenvUint("SPENDPERM_CHAIN_ID", cfg.ChainID)
	cfg.EngineAddress = getenvAddress("SPENDPERM_ENGINE_ADDRESS", cfg.EngineAddress)
	cfg.OwnerAddress = getenvAddress("SPENDPERM_OWNER_ADDRESS", cfg.OwnerAddress)
	cfg.OverseerAddress = getenvAddress("SPENDPERM_OVERSEER_ADDRESS", cfg.OverseerAddress)

	cfg.CycleRetentionDays = getenvInt("SPENDPERM_CYCLE_RETENTION_DAYS", cfg.CycleRetentionDays)
	cfg.PruneIntervalHours = getenvInt("SPENDPERM_PRUNE_INTERVAL_HOURS", cfg.PruneIntervalHours)

	cfg.Dispatcher = strings.ToLower(getenvDefault("SPENDPERM_DISPATCHER", cfg.Dispatcher))
	if v := strings.TrimSpace(os.Getenv("SPENDPERM_DEV_FUNDS")); v != "" {
		// "0xaddr=amount,0xaddr=amount"
		cfg.DevFunds = make(map[string]string)
		for _, pair := range strings.Split(v, ",") {
			addr, amount, ok := strings.Cut(pair, "=")
			if ok {
				cfg.DevFunds[strings.TrimSpace(addr)] = strings.TrimSpace(amount)
			}
		}
	}

	cfg.normalize()
}

// normalize applies the fail-soft rules to values from any source.
func (c *Config) normalize() {
	def := Defaults()
	if c.Env != "dev" && c.Env != "prod" {
		// fail-soft: treat unknown as dev
		c.Env = "dev"
	}
	if c.Store != "memory" && c.Store != "sqlite" {
		c.Store = def.Store
	}
	if c.ChainID == 0 {
		c.ChainID = def.ChainID
	}
	if c.EngineAddress != "" && !common.IsHexAddress(c.EngineAddress) {
		c.EngineAddress = def.EngineAddress
	}
	if c.OwnerAddress != "" && !common.IsHexAddress(c.OwnerAddress) {
		c.OwnerAddress = ""
	}
	if c.OverseerAddress != "" && !common.IsHexAddress(c.OverseerAddress) {
		c.OverseerAddress = ""
	}
	if c.CycleRetentionDays < 0 {
		c.CycleRetentionDays = def.CycleRetentionDays
	}
	if c.PruneIntervalHours <= 0 {
		c.PruneIntervalHours = def.PruneIntervalHours
	}
	if c.Dispatcher != "record" && c.Dispatcher != "memory" {
		c.Dispatcher = def.Dispatcher
	}
}

func address(s string) common.Address {
	if !common.IsHexAddress(s) {
		return common.Address{}
	}
	return common.HexToAddress(s)
}

func getenvDefault(key, def string) string {
	v := os.Getenv(key)
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func getenvUint(key string, def uint64) uint64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil || n == 0 {
		return def
	}
	return n
}

func getenvAddress(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" || !common.IsHexAddress(v) {
		return def
	}
	return v
}
