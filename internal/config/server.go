package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// ServerConfig holds process settings for the memory server.
// Variables are read with the NUKA_MEMORY_ prefix, e.g. NUKA_MEMORY_PORT.
type ServerConfig struct {
	Port       int    `envconfig:"PORT" default:"3210"`
	ConfigPath string `envconfig:"CONFIG_PATH" default:"configs/memory.json"`
	LogLevel   string `envconfig:"LOG_LEVEL" default:"info"`
}

// LoadServer reads ServerConfig from the environment.
func LoadServer() (*ServerConfig, error) {
	var cfg ServerConfig
	if err := envconfig.Process("NUKA_MEMORY", &cfg); err != nil {
		return nil, fmt.Errorf("load server config: %w", err)
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid NUKA_MEMORY_PORT %d", cfg.Port)
	}
	return &cfg, nil
}
