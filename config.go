package notary

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/asaskevich/govalidator"
	"gopkg.in/yaml.v3"
)

type NatsConfig struct {
	URL    string `yaml:"url"`
	Prefix string `yaml:"prefix"`
}

type UnitConfig struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Decimals int32  `yaml:"decimals"`
}

type BasketConfig struct {
	UnitConfig      `yaml:",inline"`
	MinimumTransfer int64       `yaml:"minimum_transfer"`
	Subs            []BasketSub `yaml:"subs"`
}

type Config struct {
	NotaryID   string `yaml:"notary_id"`
	DBPath     string `yaml:"db_path"`
	Port       int    `yaml:"port"`
	ServerSeed string `yaml:"server_seed"`
	Issuer     string `yaml:"issuer"`
	Secret     string `yaml:"secret"`

	Nats NatsConfig `yaml:"nats"`

	CronTick        time.Duration `yaml:"cron_tick"`
	ProcessInterval time.Duration `yaml:"process_interval"`
	FailureLimit    int           `yaml:"failure_limit"`
	VoucherLifetime time.Duration `yaml:"voucher_lifetime"`
	GCInterval      time.Duration `yaml:"gc_interval"`

	Units   []UnitConfig   `yaml:"units"`
	Baskets []BasketConfig `yaml:"baskets"`
}

func LoadConfig(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config failed: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("decode config failed: %w", err)
	}

	return &cfg, nil
}

func DefaultConfig() Config {
	return Config{
		DBPath:          "notary.db",
		Port:            8080,
		Issuer:          "notary",
		Nats:            NatsConfig{Prefix: "notary.ledger"},
		CronTick:        250 * time.Millisecond,
		ProcessInterval: planProcessInterval,
		GCInterval:      time.Minute,
	}
}

func (c *Config) Validate() error {
	if c.NotaryID == "" {
		return errors.New("notary_id required")
	}

	if len(c.ServerSeed) != 64 || !govalidator.IsHexadecimal(c.ServerSeed) {
		return errors.New("server_seed must be 32 bytes of hex")
	}

	if c.Secret == "" {
		return errors.New("secret required")
	}

	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}

	if c.CronTick <= 0 || c.ProcessInterval <= 0 {
		return errors.New("cron_tick and process_interval must be positive")
	}

	if c.FailureLimit < 0 {
		return errors.New("failure_limit must not be negative")
	}

	return nil
}
