// Package config loads daemon settings from the environment and the optional
// YAML seed file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/cloudx-io/openprocure/demand"
	"github.com/cloudx-io/openprocure/engine"
	"github.com/cloudx-io/openprocure/logging"
)

// EnvPrefix is prepended to every variable name.
const EnvPrefix = "OPENPROCURE_"

// Config is the daemon configuration.
type Config struct {
	HTTPAddr   string `env:"HTTP_ADDR" envDefault:":8080"`
	MaxWorkers int    `env:"MAX_WORKERS" envDefault:"64"`
	DBPath     string `env:"DB_PATH" envDefault:"openprocure.db"`
	SeedFile   string `env:"SEED_FILE"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`
	LogFile   string `env:"LOG_FILE"`

	AntiSnipeWindow    time.Duration `env:"ANTI_SNIPE_WINDOW" envDefault:"2m"`
	AntiSnipeExtension time.Duration `env:"ANTI_SNIPE_EXTENSION" envDefault:"2m"`
	MaxExtensions      int           `env:"MAX_EXTENSIONS" envDefault:"5"`

	// MaxAggregationWindow of 0 lets lots aggregate until they reach target.
	MaxAggregationWindow time.Duration `env:"MAX_AGGREGATION_WINDOW" envDefault:"0s"`
	StrictContributions  bool          `env:"STRICT_CONTRIBUTIONS" envDefault:"false"`

	AutoBidInterval    time.Duration `env:"AUTOBID_INTERVAL" envDefault:"5s"`
	AutoBidConcurrency int           `env:"AUTOBID_CONCURRENCY" envDefault:"4"`

	ReceiptKeyFile string `env:"RECEIPT_KEY_FILE"`
}

// Load reads dotenvPath (when it exists) into the process environment and then
// parses the prefixed variables. Variables already set win over the file.
func Load(dotenvPath string) (Config, error) {
	if dotenvPath != "" {
		if err := godotenv.Load(dotenvPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", dotenvPath, err)
		}
	}

	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the components cannot run with.
func (c Config) Validate() error {
	switch {
	case c.HTTPAddr == "":
		return fmt.Errorf("config: %sHTTP_ADDR is empty", EnvPrefix)
	case c.MaxWorkers <= 0:
		return fmt.Errorf("config: %sMAX_WORKERS must be positive", EnvPrefix)
	case c.AntiSnipeWindow < 0 || c.AntiSnipeExtension < 0 || c.MaxExtensions < 0:
		return fmt.Errorf("config: anti-snipe settings must not be negative")
	case c.MaxAggregationWindow < 0:
		return fmt.Errorf("config: %sMAX_AGGREGATION_WINDOW must not be negative", EnvPrefix)
	case c.AutoBidInterval <= 0:
		return fmt.Errorf("config: %sAUTOBID_INTERVAL must be positive", EnvPrefix)
	case c.AutoBidConcurrency <= 0:
		return fmt.Errorf("config: %sAUTOBID_CONCURRENCY must be positive", EnvPrefix)
	}
	return nil
}

func (c Config) Logging() logging.Config {
	return logging.Config{
		Level:  c.LogLevel,
		Format: c.LogFormat,
		File:   c.LogFile,
	}
}

func (c Config) Engine() engine.Config {
	return engine.Config{
		AntiSnipeWindow:    c.AntiSnipeWindow,
		AntiSnipeExtension: c.AntiSnipeExtension,
		MaxExtensions:      c.MaxExtensions,
	}
}

func (c Config) Demand() demand.Config {
	return demand.Config{
		MaxAggregationWindow: c.MaxAggregationWindow,
		StrictContributions:  c.StrictContributions,
	}
}
