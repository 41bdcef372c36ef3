package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

type Server struct {
	Port         string `yaml:"port"`
	DatabaseURL  string `yaml:"database_url"`
	NatsURL      string `yaml:"nats_url"`
	PushRows     int    `yaml:"push_rows"`
	SerialRows   int    `yaml:"serial_rows"`
	PollInterval int    `yaml:"poll_interval_ms"`
}

// PathFromEnv returns the configured yaml file path, empty when unset.
func PathFromEnv() string {
	return os.Getenv("EDA_CONFIG_PATH")
}

// Load reads an optional yaml file and then applies environment
// overrides. A missing file is not an error; a malformed one is.
func Load(path string) (Server, error) {
	cfg := Server{
		Port:         "8080",
		PushRows:     10000,
		SerialRows:   1000,
		PollInterval: 5000,
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return Server{}, fmt.Errorf("read config: %w", err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Server{}, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.Port = getenv("PORT", cfg.Port)
	cfg.DatabaseURL = getenv("DATABASE_URL", cfg.DatabaseURL)
	cfg.NatsURL = getenv("NATS_URL", cfg.NatsURL)
	cfg.PushRows = getenvInt("CACHE_PUSH_ROWS", cfg.PushRows)
	cfg.SerialRows = getenvInt("CACHE_SERIAL_ROWS", cfg.SerialRows)
	cfg.PollInterval = getenvInt("HTTP_POLL_INTERVAL_MS", cfg.PollInterval)

	if cfg.PushRows <= 0 || cfg.SerialRows <= 0 {
		return Server{}, fmt.Errorf("cache limits must be positive")
	}
	if cfg.PollInterval <= 0 {
		return Server{}, fmt.Errorf("poll interval must be positive")
	}
	return cfg, nil
}

func getenv(key, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func getenvInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	if parsed, err := strconv.Atoi(val); err == nil {
		return parsed
	}
	return fallback
}
