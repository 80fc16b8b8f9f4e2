package main

import (
	"log/slog"
	"os"
	"strings"

	"github.com/10yihang/clusterrouter/internal/config"
)

// initConfig loads path and applies command line overrides.
func initConfig(path, seeds, logLevel, metricsAddr string) (config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, err
	}

	if seeds != "" {
		cfg.Seeds = strings.Split(seeds, ",")
	}
	if logLevel != "" {
		cfg.Logger.Level = logLevel
	}
	if metricsAddr != "" {
		cfg.Metrics.Addr = metricsAddr
	}
	return cfg, cfg.Validate()
}

// initLogger installs the default slog logger, JSON or text. Logs go to
// stderr so command output stays clean on stdout.
func initLogger(cfg *config.Config) *slog.Logger {
	level, _ := cfg.Logger.SlogLevel()
	opts := &slog.HandlerOptions{Level: level, AddSource: level <= slog.LevelDebug}

	var handler slog.Handler
	if cfg.Logger.JSON {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	slog.Debug("logger initialized", "level", level.String(), "json", cfg.Logger.JSON)
	return logger
}
