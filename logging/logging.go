// Package logging builds the module's logrus loggers from
// configuration. Sessions only see the telemetry.Logger interface;
// this package exists so binaries construct consistent loggers.
package logging

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/sirupsen/logrus"
)

// Config selects log level and output format.
type Config struct {
	Level  string `env:"WORLDSYNC_LOG_LEVEL" envDefault:"info"`
	Format string `env:"WORLDSYNC_LOG_FORMAT" envDefault:"text"`
}

// New builds a logger from cfg. Level accepts everything
// logrus.ParseLevel does; Format is "text" or "json". Empty fields
// fall back to info/text.
func New(cfg Config) (*logrus.Logger, error) {
	logger := logrus.New()

	level := cfg.Level
	if level == "" {
		level = "info"
	}
	parsed, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", cfg.Level, err)
	}
	logger.SetLevel(parsed)

	switch strings.ToLower(cfg.Format) {
	case "", "text":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}
	return logger, nil
}

// FromEnv builds a logger from the WORLDSYNC_LOG_* environment.
func FromEnv() (*logrus.Logger, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return New(cfg)
}
