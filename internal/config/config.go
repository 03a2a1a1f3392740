package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	"github.com/subpay/backend/internal/core"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Owner    OwnerConfig    `yaml:"owner"`
	Redis    RedisConfig    `yaml:"redis"`
	Postgres PostgresConfig `yaml:"postgres"`
	Ethereum EthereumConfig `yaml:"ethereum"`
	PubSub   PubSubConfig   `yaml:"pubsub"`
}

type ServerConfig struct {
	Port int    `yaml:"port"`
	Env  string `yaml:"env"`
}

type OwnerConfig struct {
	// Principal with administrative control over policies and the global
	// whitelist.
	Principal string `yaml:"principal"`
	// Spender is the engine's own identity on the external ledger, the
	// one agents grant allowances to.
	Spender string `yaml:"spender"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

type EthereumConfig struct {
	RPCURL string `yaml:"rpc_url"`
}

type PubSubConfig struct {
	ProjectID string `yaml:"project_id"`
	TopicID   string `yaml:"topic_id"`
}

// Default returns the dev configuration used when no file is present.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Port: 8080, Env: "dev"},
		Owner:  OwnerConfig{Principal: "owner-local", Spender: "subpay-engine"},
	}
}

// Load reads a yaml config file and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
	}

	// Env overrides for containerized deployments.
	if v := os.Getenv("SUBPAY_OWNER"); v != "" {
		cfg.Owner.Principal = v
	}
	if v := os.Getenv("SUBPAY_SPENDER"); v != "" {
		cfg.Owner.Spender = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Postgres.DSN = v
	}
	if v := os.Getenv("ETH_RPC_URL"); v != "" {
		cfg.Ethereum.RPCURL = v
	}

	if cfg.Owner.Principal == "" {
		return nil, fmt.Errorf("owner.principal must be configured")
	}
	return cfg, nil
}

// OwnerPrincipal returns the configured owner as a core principal.
func (c *Config) OwnerPrincipal() core.Principal {
	return core.Principal(c.Owner.Principal)
}

// SpenderPrincipal returns the engine's ledger identity.
func (c *Config) SpenderPrincipal() core.Principal {
	return core.Principal(c.Owner.Spender)
}
