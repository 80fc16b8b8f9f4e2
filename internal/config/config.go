// Package config holds the cluster client configuration loaded from YAML.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/goccy/go-yaml"

	"github.com/10yihang/clusterrouter/internal/cluster"
	"github.com/10yihang/clusterrouter/internal/cluster/router"
)

type Config struct {
	// Seeds are host:port addresses asked for the slot layout.
	Seeds     []string        `yaml:"seeds"`
	Routing   RoutingConfig   `yaml:"routing"`
	Refresh   RefreshConfig   `yaml:"refresh"`
	Transport TransportConfig `yaml:"transport"`
	StateFile string          `yaml:"state_file"`
	Logger    LoggerConfig    `yaml:"logger"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

type RoutingConfig struct {
	MaxRedirects int    `yaml:"max_redirects"`
	ReadPolicy   string `yaml:"read_policy"`
	Fallback     string `yaml:"fallback"`
}

type RefreshConfig struct {
	// Interval of periodic refreshes; 0 disables them.
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
	Debounce time.Duration `yaml:"debounce"`
}

type TransportConfig struct {
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	PoolSize     int           `yaml:"pool_size"`
}

type LoggerConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

type MetricsConfig struct {
	// Addr of the metrics HTTP server; empty disables it.
	Addr string `yaml:"addr"`
}

// Default returns a config for a local cluster on the usual ports.
func Default() Config {
	return Config{
		Seeds: []string{"127.0.0.1:7000"},
		Routing: RoutingConfig{
			MaxRedirects: 5,
			ReadPolicy:   "master",
			Fallback:     "master",
		},
		Refresh: RefreshConfig{
			Interval: 30 * time.Second,
			Timeout:  5 * time.Second,
			Debounce: 50 * time.Millisecond,
		},
		Transport: TransportConfig{
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
			PoolSize:     8,
		},
		Logger: LoggerConfig{
			Level: "info",
		},
	}
}

// Load reads path over Default. A missing file yields Default.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Info("config file not found, using default config", "path", path)
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	var errs []error

	if len(c.Seeds) == 0 && c.StateFile == "" {
		errs = append(errs, errors.New("seeds: at least one seed or a state_file is required"))
	}
	if _, err := c.SeedNodes(); err != nil {
		errs = append(errs, err)
	}
	if c.Routing.MaxRedirects < 1 {
		errs = append(errs, fmt.Errorf("routing.max_redirects: must be at least 1, got %d", c.Routing.MaxRedirects))
	}
	if _, err := router.ParseReadPolicy(c.Routing.ReadPolicy); err != nil {
		errs = append(errs, fmt.Errorf("routing.read_policy: %w", err))
	}
	if _, err := router.ParseFallbackPolicy(c.Routing.Fallback); err != nil {
		errs = append(errs, fmt.Errorf("routing.fallback: %w", err))
	}

	for name, d := range map[string]time.Duration{
		"refresh.interval":        c.Refresh.Interval,
		"refresh.timeout":         c.Refresh.Timeout,
		"refresh.debounce":        c.Refresh.Debounce,
		"transport.dial_timeout":  c.Transport.DialTimeout,
		"transport.read_timeout":  c.Transport.ReadTimeout,
		"transport.write_timeout": c.Transport.WriteTimeout,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%s: must not be negative", name))
		}
	}
	if c.Transport.PoolSize < 1 {
		errs = append(errs, fmt.Errorf("transport.pool_size: must be at least 1, got %d", c.Transport.PoolSize))
	}
	if _, err := c.Logger.SlogLevel(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// SeedNodes parses Seeds.
func (c Config) SeedNodes() ([]cluster.Node, error) {
	nodes := make([]cluster.Node, 0, len(c.Seeds))
	for _, s := range c.Seeds {
		n, err := cluster.ParseNode(s)
		if err != nil {
			return nil, fmt.Errorf("seeds: %w", err)
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

func (l LoggerConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if l.Level == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(strings.ToUpper(l.Level))); err != nil {
		return slog.LevelInfo, fmt.Errorf("logger.level: %w", err)
	}
	return level, nil
}
