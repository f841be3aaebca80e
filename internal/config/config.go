// Package config loads configuration from file and environment.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds settings for the daemon and the client CLI.
type Config struct {
	Server ServerConfig
	Client ClientConfig
	Log    LogConfig
}

// ServerConfig configures the reference backend.
type ServerConfig struct {
	Addr      string
	DBPath    string `mapstructure:"db_path"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

// ClientConfig configures the sync client.
type ClientConfig struct {
	ServerURL     string `mapstructure:"server_url"`
	SnapshotLimit int    `mapstructure:"snapshot_limit"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string
}

// Load reads configuration from an optional auradesk.yaml plus AURADESK_*
// environment variables, with development defaults.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetConfigName("auradesk")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("auradesk")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("server.addr", ":8787")
	v.SetDefault("server.db_path", "auradesk.db")
	v.SetDefault("server.jwt_secret", "dev-secret-change-me")
	v.SetDefault("client.server_url", "http://127.0.0.1:8787")
	v.SetDefault("client.snapshot_limit", 100)
	v.SetDefault("log.level", "info")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// No config file; env vars and defaults apply.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}
