// Package config loads the service configuration from TOML.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the root service configuration.
type Config struct {
	ListenAddress string `toml:"ListenAddress"`
	Environment   string `toml:"Environment"`

	Database  Database  `toml:"database"`
	Bank      Bank      `toml:"bank"`
	Processor Processor `toml:"processor"`
	Rules     Rules     `toml:"rules"`
	Recon     Recon     `toml:"recon"`
	Telemetry Telemetry `toml:"telemetry"`
}

// Database selects the backing store.
type Database struct {
	Driver string `toml:"Driver"`
	DSN    string `toml:"DSN"`
}

// Bank selects and configures the CBS adapter.
type Bank struct {
	// Adapter is "fineract" or "mock".
	Adapter  string   `toml:"Adapter"`
	Fineract Fineract `toml:"fineract"`
}

// Fineract carries the CBS connection and chart-of-accounts settings.
type Fineract struct {
	BaseURL            string   `toml:"BaseURL"`
	Username           string   `toml:"Username"`
	Password           string   `toml:"Password"`
	Tenant             string   `toml:"Tenant"`
	SavingsGLAccountID int64    `toml:"SavingsGLAccountID"`
	HoldsGLAccountID   int64    `toml:"HoldsGLAccountID"`
	OfficeID           int64    `toml:"OfficeID"`
	Timeout            duration `toml:"Timeout"`
}

// Processor names the card processor this deployment serves. The name selects
// the webhook route (/webhooks/processor/{name}/...) and tags every
// transaction mapping the adapter stores.
type Processor struct {
	Active string `toml:"Active"`
}

// Rules configures the authorization policy chain. Zero values disable the
// corresponding rule.
type Rules struct {
	TransactionLimit     string   `toml:"TransactionLimit"`
	DailyLimit           string   `toml:"DailyLimit"`
	VelocityMaxPerMinute int      `toml:"VelocityMaxPerMinute"`
	BlockedMCCs          []string `toml:"BlockedMCCs"`
}

// Recon configures the orphaned-hold reconciliation loop.
type Recon struct {
	Enabled  bool     `toml:"Enabled"`
	Interval duration `toml:"Interval"`
}

// Telemetry configures the OTLP trace exporter.
type Telemetry struct {
	Enabled  bool   `toml:"Enabled"`
	Endpoint string `toml:"Endpoint"`
	Insecure bool   `toml:"Insecure"`
}

type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// Load reads and validates the configuration at path.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		ListenAddress: ":8080",
		Environment:   "dev",
		Database:      Database{Driver: "sqlite", DSN: "file:cardcore.db"},
		Bank:          Bank{Adapter: "mock"},
		Processor:     Processor{Active: "default"},
		Recon:         Recon{Enabled: true, Interval: duration{5 * time.Minute}},
	}
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ListenAddress) == "" {
		return fmt.Errorf("ListenAddress is required")
	}
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("database.Driver must be postgres or sqlite, got %q", c.Database.Driver)
	}
	if strings.TrimSpace(c.Database.DSN) == "" {
		return fmt.Errorf("database.DSN is required")
	}
	switch c.Bank.Adapter {
	case "mock":
	case "fineract":
		f := c.Bank.Fineract
		if strings.TrimSpace(f.BaseURL) == "" {
			return fmt.Errorf("bank.fineract.BaseURL is required for the fineract adapter")
		}
		if f.Username == "" || f.Password == "" {
			return fmt.Errorf("bank.fineract credentials are required")
		}
		if f.SavingsGLAccountID == 0 || f.HoldsGLAccountID == 0 {
			return fmt.Errorf("bank.fineract GL account ids are required")
		}
	default:
		return fmt.Errorf("bank.Adapter must be fineract or mock, got %q", c.Bank.Adapter)
	}
	if strings.TrimSpace(c.Processor.Active) == "" {
		return fmt.Errorf("processor.Active is required")
	}
	if c.Recon.Enabled && c.Recon.Interval.Duration <= 0 {
		return fmt.Errorf("recon.Interval must be positive when recon is enabled")
	}
	if c.Telemetry.Enabled && strings.TrimSpace(c.Telemetry.Endpoint) == "" {
		return fmt.Errorf("telemetry.Endpoint is required when telemetry is enabled")
	}
	return nil
}
