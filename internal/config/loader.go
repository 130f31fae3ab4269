package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies ORACLE_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	defaultProviders := cfg.Providers
	cfg.Providers = nil

	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	if !md.IsDefined("providers") {
		cfg.Providers = defaultProviders
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)
	fillProviderDefaults(cfg.Providers)

	return &cfg, nil
}

// fillProviderDefaults backfills retry settings for [[providers]] entries
// that omit them; a providers array in the file replaces the default list
// wholesale.
func fillProviderDefaults(providers []ProviderConfig) {
	for i := range providers {
		p := &providers[i]
		if p.Kind == "" {
			p.Kind = p.ID
		}
		if p.MaxAttempts == 0 {
			p.MaxAttempts = 2
		}
		if p.Backoff.Duration == 0 {
			p.Backoff.Duration = time.Second
		}
		if p.Timeout.Duration == 0 {
			p.Timeout.Duration = 20 * time.Second
		}
	}
}

// applyEnvOverrides reads well-known ORACLE_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Chain ──
	setStr(&cfg.Chain.RPCURL, "ORACLE_CHAIN_RPC_URL")
	setInt64(&cfg.Chain.ChainID, "ORACLE_CHAIN_ID")
	setStr(&cfg.Chain.MarketContract, "ORACLE_CHAIN_MARKET_CONTRACT")
	setDuration(&cfg.Chain.ReceiptTimeout, "ORACLE_CHAIN_RECEIPT_TIMEOUT")

	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "ORACLE_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "ORACLE_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "ORACLE_WALLET_KEY_PASSWORD")

	// ── Providers ── keyed by upper-cased id, e.g. ORACLE_PROVIDER_GEMINI_API_KEY
	for i := range cfg.Providers {
		p := &cfg.Providers[i]
		prefix := "ORACLE_PROVIDER_" + envKey(p.ID) + "_"
		setStr(&p.APIKey, prefix+"API_KEY")
		setStr(&p.BaseURL, prefix+"BASE_URL")
		setBool(&p.Enabled, prefix+"ENABLED")
		setStringSlice(&p.Models, prefix+"MODELS")
	}

	// ── Consensus ──
	setFloat64(&cfg.Consensus.AgreementThreshold, "ORACLE_CONSENSUS_AGREEMENT_THRESHOLD")
	setInt(&cfg.Consensus.MinQuorum, "ORACLE_CONSENSUS_MIN_QUORUM")
	setDuration(&cfg.Consensus.ProviderTimeout, "ORACLE_CONSENSUS_PROVIDER_TIMEOUT")
	setDuration(&cfg.Consensus.RoundTimeout, "ORACLE_CONSENSUS_ROUND_TIMEOUT")

	// ── Submitter ──
	setStr(&cfg.Submitter.Strategy, "ORACLE_SUBMITTER_STRATEGY")
	setInt(&cfg.Submitter.MaxAttempts, "ORACLE_SUBMITTER_MAX_ATTEMPTS")

	// ── Relay ──
	setStr(&cfg.Relay.BaseURL, "ORACLE_RELAY_BASE_URL")
	setStr(&cfg.Relay.APIKey, "ORACLE_RELAY_API_KEY")

	// ── Dispute ──
	setFloat64(&cfg.Dispute.SlashPercent, "ORACLE_DISPUTE_SLASH_PERCENT")

	// ── Watcher ──
	setBool(&cfg.Watcher.Enabled, "ORACLE_WATCHER_ENABLED")
	setDuration(&cfg.Watcher.Interval, "ORACLE_WATCHER_INTERVAL")
	setInt(&cfg.Watcher.MaxConcurrent, "ORACLE_WATCHER_MAX_CONCURRENT")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "ORACLE_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "ORACLE_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "ORACLE_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "ORACLE_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "ORACLE_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "ORACLE_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "ORACLE_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "ORACLE_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "ORACLE_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "ORACLE_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "ORACLE_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "ORACLE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "ORACLE_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "ORACLE_REDIS_POOL_SIZE")
	setBool(&cfg.Redis.TLSEnabled, "ORACLE_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "ORACLE_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "ORACLE_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "ORACLE_S3_REGION")
	setStr(&cfg.S3.Bucket, "ORACLE_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "ORACLE_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "ORACLE_S3_SECRET_KEY")
	setBool(&cfg.S3.ForcePathStyle, "ORACLE_S3_FORCE_PATH_STYLE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "ORACLE_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "ORACLE_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "ORACLE_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.SharedSecret, "ORACLE_SERVER_SHARED_SECRET")
	setInt(&cfg.Server.RateLimit, "ORACLE_SERVER_RATE_LIMIT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "ORACLE_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "ORACLE_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "ORACLE_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "ORACLE_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "ORACLE_MODE")
	setStr(&cfg.LogLevel, "ORACLE_LOG_LEVEL")
}

func envKey(id string) string {
	return strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(id))
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
