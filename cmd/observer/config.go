package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/arkiv/chain-observer/internal/harvest"
	"github.com/arkiv/chain-observer/internal/snapshot"
	"github.com/arkiv/chain-observer/internal/taostats"
)

var errMissingAPIKey = errors.New("TAOSTATS_API_KEY is not set")

// config holds the observer settings. Sources apply in order: defaults,
// YAML file, environment, flags.
type config struct {
	APIKey            string  `yaml:"api_key"`
	BaseURL           string  `yaml:"base_url"`
	DatabaseURL       string  `yaml:"database_url"`
	SQLitePath        string  `yaml:"sqlite_path"`
	CooldownSec       int     `yaml:"rate_limit_cooldown_sec"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	MinValidatorStake int64   `yaml:"min_validator_stake"`
	IntervalSec       int     `yaml:"harvest_interval_sec"`
	Port              string  `yaml:"port"`
	SentryDSN         string  `yaml:"sentry_dsn"`
	LogLevel          string  `yaml:"log_level"`
	Strict            bool    `yaml:"strict"`
}

func defaultConfig() config {
	return config{
		BaseURL:           taostats.DefaultBaseURL,
		SQLitePath:        snapshot.DefaultSQLitePath,
		CooldownSec:       int(taostats.DefaultCooldown / time.Second),
		MinValidatorStake: harvest.DefaultMinStake,
		Port:              "8080",
		LogLevel:          "info",
	}
}

// loadConfig layers the YAML file at path (if any) and then the environment
// over the defaults.
func loadConfig(path string, getenv func(string) string) (config, error) {
	cfg := defaultConfig()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(getenv); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *config) applyEnv(getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	str("TAOSTATS_API_KEY", &c.APIKey)
	str("TAOSTATS_BASE_URL", &c.BaseURL)
	str("DATABASE_URL", &c.DatabaseURL)
	str("SQLITE_PATH", &c.SQLitePath)
	str("SENTRY_DSN", &c.SentryDSN)
	str("LOG_LEVEL", &c.LogLevel)
	if p := strings.TrimPrefix(getenv("PORT"), ":"); p != "" { // allow PORT=8080 or PORT=:8080
		c.Port = p
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"RATE_LIMIT_COOLDOWN_SEC", &c.CooldownSec},
		{"HARVEST_INTERVAL_SEC", &c.IntervalSec},
	}
	for _, e := range ints {
		if s := getenv(e.key); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n < 0 {
				return fmt.Errorf("%s: want a non-negative integer, got %q", e.key, s)
			}
			*e.dst = n
		}
	}
	if s := getenv("MIN_VALIDATOR_STAKE"); s != "" {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return fmt.Errorf("MIN_VALIDATOR_STAKE: %w", err)
		}
		c.MinValidatorStake = n
	}
	if s := getenv("REQUESTS_PER_SECOND"); s != "" {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || f < 0 {
			return fmt.Errorf("REQUESTS_PER_SECOND: want a non-negative number, got %q", s)
		}
		c.RequestsPerSecond = f
	}
	return nil
}

func (c config) cooldown() time.Duration { return time.Duration(c.CooldownSec) * time.Second }

func (c config) interval() time.Duration { return time.Duration(c.IntervalSec) * time.Second }

func (c config) addr() string { return ":" + c.Port }

func (c config) logLevel() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return l
}

func (c config) clientConfig() (taostats.Config, error) {
	if c.APIKey == "" {
		return taostats.Config{}, errMissingAPIKey
	}
	return taostats.Config{
		BaseURL:           c.BaseURL,
		APIKey:            c.APIKey,
		Cooldown:          c.cooldown(),
		RequestsPerSecond: c.RequestsPerSecond,
	}, nil
}
