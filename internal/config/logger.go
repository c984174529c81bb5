package config

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
)

// LogConfig 描述日志级别与格式。
type LogConfig struct {
	Level  string
	Format string
}

func loadLogConfig() LogConfig {
	return LogConfig{
		Level:  strings.ToLower(getEnvOrDefault("LOG_LEVEL", "info")),
		Format: strings.ToLower(getEnvOrDefault("LOG_FORMAT", "console")),
	}
}

// NewLogger builds a zap logger; "json" selects the production encoder.
func (c LogConfig) NewLogger() (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(c.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL value %q: %w", c.Level, err)
	}

	var cfg zap.Config
	switch c.Format {
	case "json":
		cfg = zap.NewProductionConfig()
	case "", "console":
		cfg = zap.NewDevelopmentConfig()
		cfg.DisableStacktrace = true
	default:
		return nil, fmt.Errorf("invalid LOG_FORMAT value %q: want console or json", c.Format)
	}
	cfg.Level = level
	cfg.OutputPaths = []string{"stderr"}

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	hostname, _ := os.Hostname()
	return logger.With(zap.String("host", hostname)), nil
}
