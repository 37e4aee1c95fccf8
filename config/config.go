// Package config carries the process-wide configuration both binaries read
// once at startup. Values come from the environment; flags in the mains can
// override addresses for local runs.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/wyrmhole/backend/internal/validation"
)

// Store backends.
const (
	StoreRedis = "redis"
	StoreBolt  = "bolt"
	StoreMem   = "mem"
)

// Config holds service configuration.
type Config struct {
	APIAddress     string
	ChannelAddress string
	OpsAddress     string

	StoreBackend     string
	DatabaseHost     string
	DatabasePassword string
	BoltPath         string

	JWTKey string

	MaxChunkSize  int
	DriverTick    time.Duration
	OutboundDepth int

	CallRateLimit bool
	DialRate      float64
	DialBurst     int
	EnablePprof   bool
}

// DefaultConfig returns default configuration.
func DefaultConfig() *Config {
	return &Config{
		APIAddress:     ":7878",
		ChannelAddress: ":7879",
		OpsAddress:     ":9090",

		StoreBackend: StoreRedis,
		DatabaseHost: "database:6379",
		BoltPath:     "wyrmhole.db",

		MaxChunkSize:  70000,
		DriverTick:    100 * time.Millisecond,
		OutboundDepth: 1024,

		DialRate:  10,
		DialBurst: 20,
	}
}

// FromEnv loads configuration from the environment on top of the defaults.
func FromEnv() (*Config, error) {
	cfg := DefaultConfig()

	if v := os.Getenv("API_ADDR"); v != "" {
		cfg.APIAddress = v
	}
	if v := os.Getenv("CHANNEL_ADDR"); v != "" {
		cfg.ChannelAddress = v
	}
	if v := os.Getenv("OPS_ADDR"); v != "" {
		cfg.OpsAddress = v
	}
	if v := os.Getenv("STORE_BACKEND"); v != "" {
		cfg.StoreBackend = v
	}
	if v := os.Getenv("DATABASE_HOST"); v != "" {
		cfg.DatabaseHost = v
	}
	if v := os.Getenv("BOLT_PATH"); v != "" {
		cfg.BoltPath = v
	}
	cfg.DatabasePassword = os.Getenv("DATABASE_PASSWORD")
	cfg.JWTKey = os.Getenv("JWT_KEY")

	if v := os.Getenv("MAX_CHUNK_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("config: MAX_CHUNK_SIZE: %v", err)
		}
		cfg.MaxChunkSize = n
	}
	if v := os.Getenv("CALL_RATE_LIMIT"); v != "" {
		on, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("config: CALL_RATE_LIMIT: %v", err)
		}
		cfg.CallRateLimit = on
	}
	if v := os.Getenv("ENABLE_PPROF"); v != "" {
		on, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("config: ENABLE_PPROF: %v", err)
		}
		cfg.EnablePprof = on
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the loaded configuration. The JWT secret is checked by the
// token authority, not here, so tools that never mint tokens can run
// without one.
func (c *Config) Validate() error {
	for _, addr := range []string{c.APIAddress, c.ChannelAddress, c.OpsAddress} {
		if err := validation.ValidateAddr(addr); err != nil {
			return fmt.Errorf("config: %v", err)
		}
	}
	switch c.StoreBackend {
	case StoreRedis, StoreBolt, StoreMem:
	default:
		return fmt.Errorf("config: unknown store backend %q", c.StoreBackend)
	}
	if c.StoreBackend == StoreBolt {
		p, err := validation.ValidateStorePath(c.BoltPath)
		if err != nil {
			return fmt.Errorf("config: %v", err)
		}
		c.BoltPath = p
	}
	if err := validation.ValidateRangeInt(c.MaxChunkSize, 1, 1<<20); err != nil {
		return fmt.Errorf("config: max chunk size: %v", err)
	}
	return nil
}
