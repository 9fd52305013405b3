// Package config loads application configuration from a YAML file with
// environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variable names recognized by the loader.
const (
	EnvConfigPath   = "CONFIG_PATH"
	EnvRulesPath    = "RULES_PATH"
	EnvDBConnection = "DB_CONNECTION"
	EnvListenAddr   = "LISTEN_ADDR"
	EnvJWTSecret    = "JWT_SECRET"
	EnvJWTExpiry    = "JWT_EXPIRY"
)

// defaultJWTExpiry is used when the config omits or invalidates JWT expiry.
const defaultJWTExpiry = 24 * time.Hour

// JWTConfig holds operator API token settings.
type JWTConfig struct {
	Secret string        `yaml:"secret"`
	Expiry time.Duration `yaml:"expiry"`
}

// AuditConfig controls the asynchronous decision recorder.
type AuditConfig struct {
	Enabled bool `yaml:"enabled"`
	Buffer  int  `yaml:"buffer"`
}

// AppConfig holds resolved application configuration values.
type AppConfig struct {
	ConfigPath    string        `yaml:"-"`
	Listen        string        `yaml:"listen"`
	RulesPath     string        `yaml:"rules-path"`
	DatabaseDSN   string        `yaml:"database-dsn"`
	SweepInterval time.Duration `yaml:"sweep-interval"`
	JWT           JWTConfig     `yaml:"jwt"`
	Audit         AuditConfig   `yaml:"audit"`
}

// ResolveConfigPath normalizes the config path and applies defaults.
func ResolveConfigPath(p string) string {
	trimmed := strings.TrimSpace(p)
	if trimmed == "" {
		trimmed = "./config.yaml"
	}
	if abs, err := filepath.Abs(trimmed); err == nil {
		return abs
	}
	return trimmed
}

// Load reads the config file and applies environment overrides. A missing
// file is not an error; the defaults plus environment are used instead.
func Load(configPath string) (AppConfig, error) {
	cfg := AppConfig{
		ConfigPath:    ResolveConfigPath(configPath),
		Listen:        ":8318",
		SweepInterval: time.Minute,
		JWT:           JWTConfig{Expiry: defaultJWTExpiry},
		Audit:         AuditConfig{Enabled: true},
	}

	data, errRead := os.ReadFile(cfg.ConfigPath)
	if errRead == nil {
		if errUnmarshal := yaml.Unmarshal(data, &cfg); errUnmarshal != nil {
			return AppConfig{}, fmt.Errorf("parse config file: %w", errUnmarshal)
		}
	} else if !os.IsNotExist(errRead) {
		return AppConfig{}, fmt.Errorf("read config file: %w", errRead)
	}

	if listen := strings.TrimSpace(os.Getenv(EnvListenAddr)); listen != "" {
		cfg.Listen = listen
	}
	if rules := strings.TrimSpace(os.Getenv(EnvRulesPath)); rules != "" {
		cfg.RulesPath = rules
	}
	if dsn := strings.TrimSpace(os.Getenv(EnvDBConnection)); dsn != "" {
		cfg.DatabaseDSN = dsn
	}
	if secret := strings.TrimSpace(os.Getenv(EnvJWTSecret)); secret != "" {
		cfg.JWT.Secret = secret
	}
	if expiryRaw := strings.TrimSpace(os.Getenv(EnvJWTExpiry)); expiryRaw != "" {
		if expiry, errParse := time.ParseDuration(expiryRaw); errParse == nil && expiry > 0 {
			cfg.JWT.Expiry = expiry
		}
	}

	if cfg.JWT.Expiry <= 0 {
		cfg.JWT.Expiry = defaultJWTExpiry
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	if strings.TrimSpace(cfg.Listen) == "" {
		cfg.Listen = ":8318"
	}
	if cfg.RulesPath != "" {
		cfg.RulesPath = ResolveConfigPath(cfg.RulesPath)
	}
	return cfg, nil
}
