// Package config defines the top-level configuration for the oracle daemon
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by ORACLE_* environment variables.
type Config struct {
	Chain     ChainConfig      `toml:"chain"`
	Wallet    WalletConfig     `toml:"wallet"`
	Providers []ProviderConfig `toml:"providers"`
	Consensus ConsensusConfig  `toml:"consensus"`
	Submitter SubmitterConfig  `toml:"submitter"`
	Relay     RelayConfig      `toml:"relay"`
	Dispute   DisputeConfig    `toml:"dispute"`
	Watcher   WatcherConfig    `toml:"watcher"`
	Postgres  PostgresConfig   `toml:"postgres"`
	Redis     RedisConfig      `toml:"redis"`
	S3        S3Config         `toml:"s3"`
	Server    ServerConfig     `toml:"server"`
	Notify    NotifyConfig     `toml:"notify"`
	Mode      string           `toml:"mode"`
	LogLevel  string           `toml:"log_level"`
}

// ChainConfig holds the RPC endpoint and the market contract address.
type ChainConfig struct {
	RPCURL         string   `toml:"rpc_url"`
	ChainID        int64    `toml:"chain_id"`
	MarketContract string   `toml:"market_contract"`
	ReceiptTimeout duration `toml:"receipt_timeout"`
	ReceiptPoll    duration `toml:"receipt_poll"`
	GasLimit       uint64   `toml:"gas_limit"`
}

// WalletConfig holds the resolver key used for direct submission.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// ProviderConfig describes one AI provider and its model-fallback chain.
// Models are tried in order, cheapest first.
type ProviderConfig struct {
	ID          string   `toml:"id"`
	Kind        string   `toml:"kind"`
	Enabled     bool     `toml:"enabled"`
	APIKey      string   `toml:"api_key"`
	BaseURL     string   `toml:"base_url"`
	Models      []string `toml:"models"`
	MaxAttempts int      `toml:"max_attempts"`
	Backoff     duration `toml:"backoff"`
	Timeout     duration `toml:"timeout"`
	// RateLimit is the number of calls allowed per minute; 0 disables it.
	RateLimit int `toml:"rate_limit"`
}

// ConsensusConfig holds the policy parameters of a consensus round.
type ConsensusConfig struct {
	AgreementThreshold float64  `toml:"agreement_threshold"`
	MinQuorum          int      `toml:"min_quorum"`
	ProviderTimeout    duration `toml:"provider_timeout"`
	RoundTimeout       duration `toml:"round_timeout"`
	TieBreak           string   `toml:"tie_break"`
}

// SubmitterConfig holds resolution submission parameters.
type SubmitterConfig struct {
	Strategy    string   `toml:"strategy"`
	MaxAttempts int      `toml:"max_attempts"`
	BaseBackoff duration `toml:"base_backoff"`
	MaxBackoff  duration `toml:"max_backoff"`
	LockTTL     duration `toml:"lock_ttl"`
}

// RelayConfig holds the gas-abstraction relay API parameters.
type RelayConfig struct {
	BaseURL      string   `toml:"base_url"`
	APIKey       string   `toml:"api_key"`
	PollInterval duration `toml:"poll_interval"`
	PollTimeout  duration `toml:"poll_timeout"`
}

// DisputeConfig holds dispute arbitration parameters.
type DisputeConfig struct {
	SlashPercent float64 `toml:"slash_percent"`
}

// WatcherConfig holds the resolution watcher cadence.
type WatcherConfig struct {
	Enabled       bool     `toml:"enabled"`
	Interval      duration `toml:"interval"`
	MaxConcurrent int      `toml:"max_concurrent"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters used for the
// consensus round archive.
type S3Config struct {
	Enabled              bool     `toml:"enabled"`
	Endpoint             string   `toml:"endpoint"`
	Region               string   `toml:"region"`
	Bucket               string   `toml:"bucket"`
	AccessKey            string   `toml:"access_key"`
	SecretKey            string   `toml:"secret_key"`
	UseSSL               bool     `toml:"use_ssl"`
	ForcePathStyle       bool     `toml:"force_path_style"`
	ArchiveRetentionDays int      `toml:"archive_retention_days"`
	ArchiveInterval      duration `toml:"archive_interval"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// SharedSecret authenticates the scheduler trigger and the resolve
	// endpoint, either directly or as the HMAC key.
	SharedSecret string `toml:"shared_secret"`
	// RateLimit is requests per minute per client on /api/resolve.
	RateLimit int `toml:"rate_limit"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Chain: ChainConfig{
			RPCURL:         "https://bsc-testnet-rpc.publicnode.com",
			ChainID:        97,
			ReceiptTimeout: duration{2 * time.Minute},
			ReceiptPoll:    duration{3 * time.Second},
			GasLimit:       300_000,
		},
		Providers: []ProviderConfig{
			{
				ID: "gemini", Kind: "gemini", Enabled: true,
				Models:      []string{"gemini-2.0-flash", "gemini-2.5-pro"},
				MaxAttempts: 2, Backoff: duration{time.Second}, Timeout: duration{20 * time.Second},
			},
			{
				ID: "openai", Kind: "openai", Enabled: true,
				BaseURL:     "https://api.openai.com/v1",
				Models:      []string{"gpt-4o-mini", "gpt-4o"},
				MaxAttempts: 2, Backoff: duration{time.Second}, Timeout: duration{20 * time.Second},
			},
			{
				ID: "anthropic", Kind: "anthropic", Enabled: true,
				BaseURL:     "https://api.anthropic.com/v1",
				Models:      []string{"claude-3-5-haiku-latest", "claude-sonnet-4-5"},
				MaxAttempts: 2, Backoff: duration{time.Second}, Timeout: duration{20 * time.Second},
			},
			{
				ID: "xai", Kind: "openai", Enabled: false,
				BaseURL:     "https://api.x.ai/v1",
				Models:      []string{"grok-3-mini", "grok-3"},
				MaxAttempts: 2, Backoff: duration{time.Second}, Timeout: duration{20 * time.Second},
			},
		},
		Consensus: ConsensusConfig{
			AgreementThreshold: 0.8,
			MinQuorum:          3,
			ProviderTimeout:    duration{45 * time.Second},
			RoundTimeout:       duration{90 * time.Second},
			TieBreak:           "invalid",
		},
		Submitter: SubmitterConfig{
			Strategy:    "direct",
			MaxAttempts: 3,
			BaseBackoff: duration{2 * time.Second},
			MaxBackoff:  duration{30 * time.Second},
			LockTTL:     duration{5 * time.Minute},
		},
		Relay: RelayConfig{
			BaseURL:      "https://api.gelato.digital",
			PollInterval: duration{3 * time.Second},
			PollTimeout:  duration{90 * time.Second},
		},
		Dispute: DisputeConfig{
			SlashPercent: 20,
		},
		Watcher: WatcherConfig{
			Enabled:       true,
			Interval:      duration{5 * time.Minute},
			MaxConcurrent: 4,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "oracle",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Enabled:              false,
			Endpoint:             "http://localhost:9000",
			Region:               "us-east-1",
			Bucket:               "oracle-rounds",
			ForcePathStyle:       true,
			ArchiveRetentionDays: 90,
			ArchiveInterval:      duration{24 * time.Hour},
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000"},
			RateLimit:   30,
		},
		Notify: NotifyConfig{
			Events: []string{"submission_failed", "resolution_no_quorum", "dispute_tie", "dispute_finalized"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"watcher": true,
	"server":  true,
	"full":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validProviderKinds = map[string]bool{
	"gemini":    true,
	"openai":    true,
	"anthropic": true,
}

// EnabledProviders returns the providers with Enabled set, in config order.
func (c *Config) EnabledProviders() []ProviderConfig {
	out := make([]ProviderConfig, 0, len(c.Providers))
	for _, p := range c.Providers {
		if p.Enabled {
			out = append(out, p)
		}
	}
	return out
}

// ServesHTTP reports whether the configured mode runs the API server. Server
// mode always does; full mode only with server.enabled.
func (c *Config) ServesHTTP() bool {
	switch strings.ToLower(c.Mode) {
	case "server":
		return true
	case "full":
		return c.Server.Enabled
	default:
		return false
	}
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: watcher, server, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Chain
	if c.Chain.RPCURL == "" {
		errs = append(errs, "chain: rpc_url must not be empty")
	}
	if c.Chain.ChainID <= 0 {
		errs = append(errs, "chain: chain_id must be positive")
	}
	if !common.IsHexAddress(c.Chain.MarketContract) {
		errs = append(errs, fmt.Sprintf("chain: market_contract %q is not a 0x address", c.Chain.MarketContract))
	}

	// Providers
	seen := make(map[string]bool, len(c.Providers))
	for i, p := range c.Providers {
		label := fmt.Sprintf("providers[%d]", i)
		if p.ID == "" {
			errs = append(errs, label+": id must not be empty")
		} else if seen[p.ID] {
			errs = append(errs, fmt.Sprintf("%s: duplicate id %q", label, p.ID))
		}
		seen[p.ID] = true
		if !p.Enabled {
			continue
		}
		if !validProviderKinds[p.Kind] {
			errs = append(errs, fmt.Sprintf("%s: unknown kind %q (valid: gemini, openai, anthropic)", label, p.Kind))
		}
		if p.APIKey == "" {
			errs = append(errs, fmt.Sprintf("%s: api_key is required when %q is enabled", label, p.ID))
		}
		if len(p.Models) == 0 {
			errs = append(errs, label+": models must list at least one model")
		}
		if p.MaxAttempts < 1 {
			errs = append(errs, label+": max_attempts must be >= 1")
		}
	}

	// Consensus
	if c.Consensus.AgreementThreshold <= 0 || c.Consensus.AgreementThreshold > 1 {
		errs = append(errs, fmt.Sprintf("consensus: agreement_threshold must be in (0, 1], got %v", c.Consensus.AgreementThreshold))
	}
	if c.Consensus.MinQuorum < 1 {
		errs = append(errs, "consensus: min_quorum must be >= 1")
	}
	if n := len(c.EnabledProviders()); n < c.Consensus.MinQuorum {
		errs = append(errs, fmt.Sprintf("consensus: %d enabled providers cannot reach min_quorum %d", n, c.Consensus.MinQuorum))
	}
	if c.Consensus.ProviderTimeout.Duration <= 0 || c.Consensus.RoundTimeout.Duration <= 0 {
		errs = append(errs, "consensus: provider_timeout and round_timeout must be > 0")
	}
	if c.Consensus.RoundTimeout.Duration < c.Consensus.ProviderTimeout.Duration {
		errs = append(errs, "consensus: round_timeout must not be shorter than provider_timeout")
	}
	if c.Consensus.TieBreak != "invalid" {
		errs = append(errs, fmt.Sprintf("consensus: unsupported tie_break %q (valid: invalid)", c.Consensus.TieBreak))
	}

	// Submitter and wallet
	switch c.Submitter.Strategy {
	case "direct":
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			errs = append(errs, "wallet: either private_key or encrypted_key_path must be set for the direct strategy")
		}
	case "relay":
		if c.Relay.BaseURL == "" || c.Relay.APIKey == "" {
			errs = append(errs, "relay: base_url and api_key are required for the relay strategy")
		}
	default:
		errs = append(errs, fmt.Sprintf("submitter: unknown strategy %q (valid: direct, relay)", c.Submitter.Strategy))
	}
	if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
		errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
	}
	if c.Submitter.MaxAttempts < 1 {
		errs = append(errs, "submitter: max_attempts must be >= 1")
	}
	if c.Submitter.MaxBackoff.Duration < c.Submitter.BaseBackoff.Duration {
		errs = append(errs, "submitter: max_backoff must not be shorter than base_backoff")
	}

	// Dispute
	if c.Dispute.SlashPercent < 0 || c.Dispute.SlashPercent > 100 {
		errs = append(errs, fmt.Sprintf("dispute: slash_percent must be 0-100, got %v", c.Dispute.SlashPercent))
	}

	// Watcher
	if c.Watcher.Enabled {
		if c.Watcher.Interval.Duration <= 0 {
			errs = append(errs, "watcher: interval must be > 0")
		}
		if c.Watcher.MaxConcurrent < 1 {
			errs = append(errs, "watcher: max_concurrent must be >= 1")
		}
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must be between 0 and pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
	}

	// Server
	if c.ServesHTTP() {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.SharedSecret == "" {
			errs = append(errs, "server: shared_secret must be set when the API server runs")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
