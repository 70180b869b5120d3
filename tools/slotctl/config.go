package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	BaseURL string        `mapstructure:"base_url"`
	UserID  string        `mapstructure:"user_id"`
	Role    string        `mapstructure:"role"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// loadConfig merges flags over SLOTCTL_* environment variables over defaults.
func loadConfig(flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SLOTCTL")
	v.AutomaticEnv()

	v.SetDefault("base_url", "http://localhost:8083")
	v.SetDefault("role", "ADMIN")
	v.SetDefault("user_id", "slotctl")
	v.SetDefault("timeout", 10*time.Second)

	for key, flag := range map[string]string{
		"base_url": "base-url",
		"user_id":  "user-id",
		"role":     "role",
		"timeout":  "timeout",
	} {
		if f := flags.Lookup(flag); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return Config{}, fmt.Errorf("bind %s: %w", flag, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	cfg.Role = strings.ToUpper(strings.TrimSpace(cfg.Role))
	if cfg.BaseURL == "" {
		return Config{}, fmt.Errorf("base url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return cfg, nil
}
