package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"pricepath/internal/database"
	"pricepath/pkg/types"
)

// Config holds application configuration. Values come from an optional
// YAML file and may be overridden by environment variables.
type Config struct {
	Environment string `yaml:"environment"`

	RPCURL         string `yaml:"rpc_url"`
	FactoryAddress string `yaml:"factory_address"`
	RouterAddress  string `yaml:"router_address"`

	AnchorToken     string            `yaml:"anchor_token"`
	ReferencePrices map[string]string `yaml:"reference_prices"`

	PairsTTL    time.Duration `yaml:"pairs_ttl"`
	ReservesTTL time.Duration `yaml:"reserves_ttl"`
	PriceTTL    time.Duration `yaml:"price_ttl"`

	APIPort      int           `yaml:"api_port"`
	SwapDeadline time.Duration `yaml:"swap_deadline"`

	Database database.Config `yaml:"database"`
}

// Load reads the YAML file at path when it exists, applies environment
// overrides, and fills defaults. A missing file is not an error so a
// pure-environment deployment still works.
func Load(path string) (Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("error parsing config file %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("error reading config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	if cfg.RPCURL == "" {
		return Config{}, fmt.Errorf("rpc_url is required (set RPC_URL or the config file)")
	}
	if cfg.FactoryAddress == "" {
		return Config{}, fmt.Errorf("factory_address is required")
	}
	if !types.TokenID(cfg.AnchorToken).Valid() {
		return Config{}, fmt.Errorf("anchor_token %q is not a valid token identifier", cfg.AnchorToken)
	}

	return cfg, nil
}

func (c *Config) applyEnv() {
	setString(&c.Environment, "ENVIRONMENT")
	setString(&c.RPCURL, "RPC_URL")
	setString(&c.FactoryAddress, "FACTORY_ADDRESS")
	setString(&c.RouterAddress, "ROUTER_ADDRESS")
	setString(&c.AnchorToken, "ANCHOR_TOKEN")
	setInt(&c.APIPort, "API_PORT")

	setString(&c.Database.Host, "DB_HOST")
	setInt(&c.Database.Port, "DB_PORT")
	setString(&c.Database.User, "DB_USER")
	setString(&c.Database.Password, "DB_PASSWORD")
	setString(&c.Database.DBName, "DB_NAME")
	setString(&c.Database.SSLMode, "DB_SSL_MODE")
}

func (c *Config) applyDefaults() {
	if c.Environment == "" {
		c.Environment = "development"
	}
	if c.PairsTTL == 0 {
		c.PairsTTL = 10 * time.Minute
	}
	if c.ReservesTTL == 0 {
		c.ReservesTTL = 30 * time.Second
	}
	if c.PriceTTL == 0 {
		c.PriceTTL = 30 * time.Second
	}
	if c.APIPort == 0 {
		c.APIPort = 8080
	}
	if c.SwapDeadline == 0 {
		c.SwapDeadline = 20 * time.Minute
	}
	if c.Database.Port == 0 {
		c.Database.Port = 5432
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
