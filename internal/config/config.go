// Package config loads fatstore CLI configuration.
//
// Configuration is loaded from a single YAML file specified by:
//   - the --config flag passed to the command, or
//   - the FATSTORE_CONFIG environment variable
//
// Without either, Default() is used. Flags given on the command line
// override values from the file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/absfs/fatstore"
)

// EnvVar names the environment variable holding the config file path.
const EnvVar = "FATSTORE_CONFIG"

// Config is the CLI configuration.
type Config struct {
	// Image is the path of the data file; metadata lives at Image+".meta".
	Image string `yaml:"image"`

	// BlockSize is the block size used by format. Default: 4096.
	BlockSize int `yaml:"block_size"`

	// BlockCount is the number of blocks used by format. Default: 1024.
	BlockCount uint32 `yaml:"block_count"`

	// Log configures logging.
	Log LogConfig `yaml:"log"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is one of debug, info, warn, error. Default: warn.
	Level string `yaml:"level"`

	// Format is text or json. Default: text.
	Format string `yaml:"format"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Image:      "fatstore.img",
		BlockSize:  int(fatstore.BlockSize4K),
		BlockCount: 1024,
		Log: LogConfig{
			Level:  "warn",
			Format: "text",
		},
	}
}

// Load reads path over the defaults. An empty path falls back to
// FATSTORE_CONFIG, and to the defaults alone when that is unset too.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv(EnvVar)
	}
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks field values.
func (c *Config) Validate() error {
	var errs []error
	if c.Image == "" {
		errs = append(errs, errors.New("image is required"))
	}
	if !fatstore.BlockSize(c.BlockSize).Valid() {
		errs = append(errs, fmt.Errorf("block_size %d is not a power of two up to 65536", c.BlockSize))
	}
	if c.BlockCount == 0 || c.BlockCount >= fatstore.MaxBlocks {
		errs = append(errs, fmt.Errorf("block_count %d out of range", c.BlockCount))
	}
	if _, err := c.Log.level(); err != nil {
		errs = append(errs, err)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q must be text or json", c.Log.Format))
	}
	return errors.Join(errs...)
}

func (l LogConfig) level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(l.Level))); err != nil {
		return 0, fmt.Errorf("log.level %q: %w", l.Level, err)
	}
	return level, nil
}

// Logger builds the configured logger.
func (c *Config) Logger() *fatstore.Logger {
	level, err := c.Log.level()
	if err != nil {
		level = slog.LevelWarn
	}
	if c.Log.Format == "json" {
		return fatstore.NewJSONLogger(level)
	}
	return fatstore.NewTextLogger(level)
}
