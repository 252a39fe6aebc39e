// Package common provides shared utilities for fundterm
package common

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/bobmcallan/fundterm/internal/interfaces"
	"github.com/bobmcallan/fundterm/internal/models"
)

// Config holds all configuration for fundterm
type Config struct {
	Environment string          `toml:"environment"`
	Server      ServerConfig    `toml:"server"`
	Storage     StorageConfig   `toml:"storage"`
	Providers   ProvidersConfig `toml:"providers"`
	News        NewsConfig      `toml:"news"`
	Gemini      GeminiConfig    `toml:"gemini"`
	Sync        SyncConfig      `toml:"sync"`
	Logging     LoggingConfig   `toml:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// StorageConfig holds SurrealDB connection configuration
type StorageConfig struct {
	Address   string `toml:"address"`
	Namespace string `toml:"namespace"`
	Database  string `toml:"database"`
	Username  string `toml:"username"`
	Password  string `toml:"password"`
}

// ProvidersConfig holds upstream market-data provider configuration.
// Primary names the provider tried first; the other is the fallback.
type ProvidersConfig struct {
	Primary   string          `toml:"primary"`
	Eastmoney EastmoneyConfig `toml:"eastmoney"`
	Tushare   TushareConfig   `toml:"tushare"`
	Retries   int             `toml:"retries"`      // attempts per provider call
	CallSpace string          `toml:"call_spacing"` // min inter-call spacing per provider
	Timeout   string          `toml:"timeout"`      // per-call hard timeout
}

// PrimarySource parses the configured primary provider, defaulting to eastmoney.
func (c *ProvidersConfig) PrimarySource() models.Source {
	s := models.Source(strings.ToLower(strings.TrimSpace(c.Primary)))
	if !models.ValidSource(s) {
		return models.SourceEastmoney
	}
	return s
}

// GetRetries returns the per-call attempt count, defaulting to 3.
func (c *ProvidersConfig) GetRetries() int {
	if c.Retries <= 0 {
		return 3
	}
	return c.Retries
}

// GetCallSpacing parses the inter-call spacing, defaulting to 500ms.
func (c *ProvidersConfig) GetCallSpacing() time.Duration {
	d, err := time.ParseDuration(c.CallSpace)
	if err != nil || d <= 0 {
		return 500 * time.Millisecond
	}
	return d
}

// GetTimeout parses the per-call timeout, defaulting to 30s.
func (c *ProvidersConfig) GetTimeout() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// EastmoneyConfig holds Eastmoney endpoint configuration
type EastmoneyConfig struct {
	FundBaseURL     string `toml:"fund_base_url"`     // f10 fund APIs
	QuoteBaseURL    string `toml:"quote_base_url"`    // historical kline APIs
	SnapshotBaseURL string `toml:"snapshot_base_url"` // realtime quote/name APIs
	SearchBaseURL   string `toml:"search_base_url"`   // fund code search listing
}

// TushareConfig holds Tushare Pro API configuration. Tokens are tried in
// order; the first is the primary credential.
type TushareConfig struct {
	BaseURL string   `toml:"base_url"`
	Tokens  []string `toml:"tokens"`
}

// NewsConfig holds RSS aggregation configuration. Feed URLs may contain a
// {code} placeholder substituted with the fund code at fetch time.
type NewsConfig struct {
	FeedURLs []string `toml:"feed_urls"`
	Days     int      `toml:"days"` // retention window for fetch filtering
}

// GetDays returns the fetch window in days, defaulting to 3.
func (c *NewsConfig) GetDays() int {
	if c.Days <= 0 {
		return 3
	}
	return c.Days
}

// GeminiConfig holds the decision-advice LLM configuration. An empty APIKey
// disables the advice endpoint.
type GeminiConfig struct {
	APIKey string `toml:"api_key"`
	Model  string `toml:"model"`
}

// SyncConfig holds the periodic holdings-sync configuration.
type SyncConfig struct {
	Interval string `toml:"interval"` // empty or "0" disables the scheduler
	Workers  int    `toml:"workers"`  // bounded fan-out for provider fetches
}

// GetInterval parses the sync interval; zero disables the scheduler.
func (c *SyncConfig) GetInterval() time.Duration {
	d, err := time.ParseDuration(c.Interval)
	if err != nil || d < 0 {
		return 0
	}
	return d
}

// GetWorkers returns the sync fan-out limit, defaulting to 4.
func (c *SyncConfig) GetWorkers() int {
	if c.Workers <= 0 {
		return 4
	}
	return c.Workers
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// NewDefaultConfig returns a Config with sensible defaults
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Storage: StorageConfig{
			Address:   "ws://localhost:8000",
			Namespace: "fundterm",
			Database:  "fundterm",
			Username:  "root",
			Password:  "root",
		},
		Providers: ProvidersConfig{
			Primary: string(models.SourceEastmoney),
			Eastmoney: EastmoneyConfig{
				FundBaseURL:     "https://api.fund.eastmoney.com",
				QuoteBaseURL:    "https://push2his.eastmoney.com",
				SnapshotBaseURL: "https://push2.eastmoney.com",
				SearchBaseURL:   "https://fund.eastmoney.com",
			},
			Tushare: TushareConfig{
				BaseURL: "https://api.tushare.pro",
			},
			Retries:   3,
			CallSpace: "500ms",
			Timeout:   "30s",
		},
		News: NewsConfig{
			Days: 3,
		},
		Gemini: GeminiConfig{
			Model: "gemini-2.0-flash",
		},
		Sync: SyncConfig{
			Interval: "1h",
			Workers:  4,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// LoadConfig loads configuration from files with environment overrides.
// Later files override earlier ones; missing files are skipped.
func LoadConfig(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for _, path := range paths {
		if path == "" {
			continue
		}

		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("FUNDTERM_ENV"); env != "" {
		config.Environment = env
	}

	if host := os.Getenv("FUNDTERM_HOST"); host != "" {
		config.Server.Host = host
	}

	if port := os.Getenv("FUNDTERM_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}

	if level := os.Getenv("FUNDTERM_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}

	if addr := os.Getenv("FUNDTERM_DB_ADDRESS"); addr != "" {
		config.Storage.Address = addr
	}
	if user := os.Getenv("FUNDTERM_DB_USERNAME"); user != "" {
		config.Storage.Username = user
	}
	if pass := os.Getenv("FUNDTERM_DB_PASSWORD"); pass != "" {
		config.Storage.Password = pass
	}

	if primary := os.Getenv("FUNDTERM_PRIMARY_PROVIDER"); primary != "" {
		config.Providers.Primary = primary
	}

	if tokens := os.Getenv("FUNDTERM_TUSHARE_TOKENS"); tokens != "" {
		var parsed []string
		for _, t := range strings.Split(tokens, ",") {
			if t = strings.TrimSpace(t); t != "" {
				parsed = append(parsed, t)
			}
		}
		config.Providers.Tushare.Tokens = parsed
	}

	if feeds := os.Getenv("FUNDTERM_NEWS_FEEDS"); feeds != "" {
		var parsed []string
		for _, u := range strings.Split(feeds, ",") {
			if u = strings.TrimSpace(u); u != "" {
				parsed = append(parsed, u)
			}
		}
		config.News.FeedURLs = parsed
	}

	if key := os.Getenv("FUNDTERM_GEMINI_API_KEY"); key != "" {
		config.Gemini.APIKey = key
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" && config.Gemini.APIKey == "" {
		config.Gemini.APIKey = key
	}
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}

// System KV keys for runtime-mutable settings.
const (
	KVKeyTushareTokens   = "tushare_tokens"
	KVKeyPrimaryProvider = "primary_provider"
)

// ResolveTushareTokens resolves the Tushare credential list: runtime system
// KV (comma-separated) takes priority over the config file.
func ResolveTushareTokens(ctx context.Context, kv interfaces.SystemKVStore, configTokens []string) []string {
	if kv != nil {
		if val, err := kv.Get(ctx, KVKeyTushareTokens); err == nil && val != "" {
			var tokens []string
			for _, t := range strings.Split(val, ",") {
				if t = strings.TrimSpace(t); t != "" {
					tokens = append(tokens, t)
				}
			}
			if len(tokens) > 0 {
				return tokens
			}
		}
	}
	return configTokens
}

// ResolvePrimaryProvider resolves the primary provider: runtime system KV
// takes priority over the config file.
func ResolvePrimaryProvider(ctx context.Context, kv interfaces.SystemKVStore, configPrimary models.Source) models.Source {
	if kv != nil {
		if val, err := kv.Get(ctx, KVKeyPrimaryProvider); err == nil {
			if s := models.Source(strings.ToLower(strings.TrimSpace(val))); models.ValidSource(s) {
				return s
			}
		}
	}
	return configPrimary
}

// MaskToken obscures all but the last four characters of a credential.
func MaskToken(s string) string {
	if s == "" {
		return ""
	}
	if len(s) < 4 {
		return "****"
	}
	return strings.Repeat("*", len(s)-4) + s[len(s)-4:]
}
