// Package config resolves the account service runtime configuration.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the resolved runtime configuration. Database and logger
// settings are read by their own packages.
type Config struct {
	HTTPAddr string
	BasePath string
	Issuer   string

	RedisURL string
	FlowTTL  time.Duration

	SessionCookie  string
	SessionTTL     time.Duration
	SecureCookies  bool
	SigningKeyFile string

	BcryptCost int
}

type configFile struct {
	HTTP struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"http"`
	Issuer string `yaml:"issuer"`
	Redis  struct {
		URL string `yaml:"url"`
	} `yaml:"redis"`
	Session struct {
		Cookie         string `yaml:"cookie"`
		TTLMinutes     int    `yaml:"ttl_minutes"`
		Secure         *bool  `yaml:"secure"`
		SigningKeyFile string `yaml:"signing_key_file"`
	} `yaml:"session"`
	ResetCrossSigning struct {
		FlowTTLMinutes int `yaml:"flow_ttl_minutes"`
	} `yaml:"reset_cross_signing"`
	BcryptCost int `yaml:"bcrypt_cost"`
}

// Load resolves configuration in priority order: defaults -> file -> env.
// A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Config{
		HTTPAddr:      "0.0.0.0:8431",
		Issuer:        "http://localhost:8431",
		FlowTTL:       30 * time.Minute,
		SessionCookie: "account_session",
		SessionTTL:    12 * time.Hour,
		SecureCookies: true,
		BcryptCost:    12,
	}

	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := applyFile(&cfg, raw); err != nil {
				return Config{}, err
			}
		case errors.Is(err, fs.ErrNotExist):
		default:
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg.HTTPAddr = envOrDefault("HTTP_ADDR", cfg.HTTPAddr)
	cfg.BasePath = strings.TrimRight(envOrDefault("HTTP_BASE_PATH", cfg.BasePath), "/")
	cfg.Issuer = envOrDefault("ISSUER", cfg.Issuer)
	cfg.RedisURL = envOrDefault("REDIS_URL", cfg.RedisURL)
	cfg.FlowTTL = time.Duration(envInt("RESET_FLOW_TTL_MINUTES", int(cfg.FlowTTL.Minutes()))) * time.Minute
	cfg.SessionCookie = envOrDefault("SESSION_COOKIE", cfg.SessionCookie)
	cfg.SessionTTL = time.Duration(envInt("SESSION_TTL_MINUTES", int(cfg.SessionTTL.Minutes()))) * time.Minute
	cfg.SecureCookies = envBool("SESSION_SECURE_COOKIES", cfg.SecureCookies)
	cfg.SigningKeyFile = envOrDefault("SESSION_SIGNING_KEY_FILE", cfg.SigningKeyFile)
	cfg.BcryptCost = envInt("BCRYPT_COST", cfg.BcryptCost)

	if cfg.FlowTTL <= 0 {
		return Config{}, fmt.Errorf("reset flow ttl must be positive")
	}
	if cfg.SessionTTL <= 0 {
		return Config{}, fmt.Errorf("session ttl must be positive")
	}
	return cfg, nil
}

func applyFile(cfg *Config, raw []byte) error {
	var f configFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	if f.HTTP.Addr != "" {
		cfg.HTTPAddr = f.HTTP.Addr
	}
	if f.HTTP.BasePath != "" {
		cfg.BasePath = f.HTTP.BasePath
	}
	if f.Issuer != "" {
		cfg.Issuer = f.Issuer
	}
	if f.Redis.URL != "" {
		cfg.RedisURL = f.Redis.URL
	}
	if f.Session.Cookie != "" {
		cfg.SessionCookie = f.Session.Cookie
	}
	if f.Session.TTLMinutes > 0 {
		cfg.SessionTTL = time.Duration(f.Session.TTLMinutes) * time.Minute
	}
	if f.Session.Secure != nil {
		cfg.SecureCookies = *f.Session.Secure
	}
	if f.Session.SigningKeyFile != "" {
		cfg.SigningKeyFile = f.Session.SigningKeyFile
	}
	if f.ResetCrossSigning.FlowTTLMinutes > 0 {
		cfg.FlowTTL = time.Duration(f.ResetCrossSigning.FlowTTLMinutes) * time.Minute
	}
	if f.BcryptCost > 0 {
		cfg.BcryptCost = f.BcryptCost
	}
	return nil
}

func envOrDefault(name, fallback string) string {
	if value := os.Getenv(name); value != "" {
		return value
	}
	return fallback
}

func envInt(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func envBool(name string, fallback bool) bool {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return v
}
