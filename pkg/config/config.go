// Package config loads the CLI-facing runtime settings. The core library
// takes everything explicitly; only the command shells read this file.
package config

import (
	"os"

	defs "lomount/definitions"

	"github.com/gookit/ini/v2"
	"github.com/pkg/errors"
)

// Config holds the settings the command shells honor.
type Config struct {
	// LogLevel is the minimum logrus level (debug, info, warn, error).
	LogLevel string
	// LogFormat is "text" or "json".
	LogFormat string
	// Debug enables verbose logging with caller reporting.
	Debug bool
	// DefaultOptions are fstab-style option tokens prepended to every
	// mount issued by the CLI, comma separated.
	DefaultOptions string
}

// Default returns the built-in settings used when no config file exists.
func Default() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// Load reads the INI config file, honoring the LOMOUNT_CONF_FILE override.
// A missing file is not an error; defaults apply.
func Load() (*Config, error) {
	path := os.Getenv(defs.LomountConfEnv)
	if path == "" {
		path = defs.DefaultLomountConf
	}
	return loadFile(path)
}

func loadFile(path string) (*Config, error) {
	cfg := Default()
	in := ini.New()
	if err := in.LoadExists(path); err != nil {
		return nil, errors.Wrapf(err, "load config %s", path)
	}
	cfg.LogLevel = in.String("log.level", cfg.LogLevel)
	cfg.LogFormat = in.String("log.format", cfg.LogFormat)
	cfg.Debug = in.Bool("log.debug", cfg.Debug)
	cfg.DefaultOptions = in.String("mount.default_options", cfg.DefaultOptions)
	return cfg, nil
}
