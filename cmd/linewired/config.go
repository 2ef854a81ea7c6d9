package main

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// Config is the daemon configuration, read from a TOML file with the
// credential optionally overridden by LINEWIRED_TOKEN.
type Config struct {
	Listen           Listen `toml:"listen"`
	NATS             NATS   `toml:"nats"`
	Token            string `toml:"token"`
	HeartbeatSeconds int    `toml:"heartbeat_seconds"`
	LogLevel         string `toml:"log_level"`
}

// Listen holds one entry per transport; zero values disable a listener.
type Listen struct {
	TCPPort    int    `toml:"tcp_port"`
	WSPort     int    `toml:"ws_port"`
	UnixSocket string `toml:"unix_socket"`
}

type NATS struct {
	URL     string `toml:"url"`
	Subject string `toml:"subject"`
}

func defaultConfig() Config {
	return Config{
		Listen: Listen{
			TCPPort: 7601,
		},
		LogLevel: "info",
	}
}

func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if token := os.Getenv("LINEWIRED_TOKEN"); token != "" {
		cfg.Token = token
	}

	if cfg.Listen.TCPPort == 0 && cfg.Listen.WSPort == 0 && cfg.Listen.UnixSocket == "" && cfg.NATS.URL == "" {
		return cfg, fmt.Errorf("no listeners configured")
	}

	return cfg, nil
}
