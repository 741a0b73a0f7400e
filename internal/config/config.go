// Package config loads Vanta's runtime configuration from flags,
// environment variables, and a config file, in that order of override, following the
// allisson-secrets/go-env style env-driven Config struct adapted onto viper.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds everything the vault and its HTTP surface need to start.
type Config struct {
	VaultRoot   string `mapstructure:"vault_root"`
	BindAddr    string `mapstructure:"bind_addr"`
	MaxUploadMB int    `mapstructure:"max_upload_mb"`
	WorkerPool  int    `mapstructure:"worker_pool"`
	LogLevel    string `mapstructure:"log_level"`

	Argon2MemoryKiB uint32 `mapstructure:"argon2_memory_kib"`
	Argon2Iters     uint32 `mapstructure:"argon2_iterations"`
	Argon2Parallel  uint8  `mapstructure:"argon2_parallelism"`

	UnlockRateLimitBurst int `mapstructure:"unlock_rate_limit_burst"`
}

// MaxUploadBytes returns the configured upload cap in bytes.
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) * 1024 * 1024
}

// Load reads configuration from (in increasing priority) defaults, an
// optional vanta.yaml/vanta.json file on the current path, VANTA_-prefixed
// environment variables, and command-line flags.
func Load(args []string) (*Config, error) {
	v := viper.New()

	v.SetDefault("vault_root", "./vault")
	v.SetDefault("bind_addr", "0.0.0.0:3000")
	v.SetDefault("max_upload_mb", 50)
	v.SetDefault("worker_pool", 4)
	v.SetDefault("log_level", "info")
	v.SetDefault("argon2_memory_kib", uint32(64*1024))
	v.SetDefault("argon2_iterations", uint32(3))
	v.SetDefault("argon2_parallelism", uint8(4))
	v.SetDefault("unlock_rate_limit_burst", 5)

	v.SetConfigName("vanta")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("vanta")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	flags := pflag.NewFlagSet("vanta", pflag.ContinueOnError)
	flags.String("vault-root", "", "vault root directory")
	flags.String("bind-addr", "", "HTTP bind address")
	flags.Int("max-upload-mb", 0, "max upload size in MiB")
	if err := flags.Parse(args); err != nil {
		return nil, fmt.Errorf("parsing flags: %w", err)
	}
	if flags.Changed("vault-root") {
		s, _ := flags.GetString("vault-root")
		v.Set("vault_root", s)
	}
	if flags.Changed("bind-addr") {
		s, _ := flags.GetString("bind-addr")
		v.Set("bind_addr", s)
	}
	if flags.Changed("max-upload-mb") {
		n, _ := flags.GetInt("max-upload-mb")
		v.Set("max_upload_mb", n)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return &cfg, nil
}
