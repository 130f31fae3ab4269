package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	cfg := Defaults()
	cfg.Chain.MarketContract = "0x5FbDB2315678afecb367f032d93F642f64180aa3"
	cfg.Wallet.PrivateKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	cfg.Server.SharedSecret = "s3cret"
	for i := range cfg.Providers {
		cfg.Providers[i].APIKey = "key-" + cfg.Providers[i].ID
	}
	return cfg
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "oracle.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultsValidateWithSecrets(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 0.8, cfg.Consensus.AgreementThreshold)
	assert.Equal(t, 3, cfg.Consensus.MinQuorum)
	assert.Equal(t, 20.0, cfg.Dispute.SlashPercent)
	assert.Equal(t, 5*time.Minute, cfg.Watcher.Interval.Duration)
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "trade"
	cfg.Consensus.AgreementThreshold = 1.5

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, `unknown mode "trade"`)
	assert.Contains(t, msg, "market_contract")
	assert.Contains(t, msg, "agreement_threshold")
	assert.Contains(t, msg, "api_key is required")
}

func TestValidateQuorumNeedsEnoughProviders(t *testing.T) {
	cfg := validConfig()
	cfg.Providers[0].Enabled = false

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 enabled providers cannot reach min_quorum 3")
}

func TestValidateRelayStrategy(t *testing.T) {
	cfg := validConfig()
	cfg.Wallet.PrivateKey = ""
	cfg.Submitter.Strategy = "relay"
	require.ErrorContains(t, cfg.Validate(), "relay: base_url and api_key")

	cfg.Relay.APIKey = "relay-key"
	require.NoError(t, cfg.Validate())
}

func TestValidateSharedSecretWhenServing(t *testing.T) {
	tests := []struct {
		name    string
		mode    string
		enabled bool
		wantErr bool
	}{
		{"server mode ignores server.enabled", "server", false, true},
		{"server mode", "server", true, true},
		{"full mode with server", "full", true, true},
		{"full mode without server", "full", false, false},
		{"watcher mode", "watcher", true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.Mode = tt.mode
			cfg.Server.Enabled = tt.enabled
			cfg.Server.SharedSecret = ""

			err := cfg.Validate()
			if tt.wantErr {
				assert.ErrorContains(t, err, "shared_secret")
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoadMergesFileAndEnv(t *testing.T) {
	path := writeConfig(t, `
mode = "watcher"

[chain]
market_contract = "0x5FbDB2315678afecb367f032d93F642f64180aa3"

[consensus]
agreement_threshold = 0.75
round_timeout = "2m"

[[providers]]
id = "gemini"
enabled = true
models = ["gemini-2.0-flash"]

[[providers]]
id = "openai"
enabled = true
models = ["gpt-4o-mini"]
max_attempts = 4
`)
	t.Setenv("ORACLE_PROVIDER_GEMINI_API_KEY", "g-key")
	t.Setenv("ORACLE_WATCHER_INTERVAL", "90s")
	t.Setenv("ORACLE_CONSENSUS_MIN_QUORUM", "2")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "watcher", cfg.Mode)
	assert.Equal(t, 0.75, cfg.Consensus.AgreementThreshold)
	assert.Equal(t, 2*time.Minute, cfg.Consensus.RoundTimeout.Duration)
	assert.Equal(t, 45*time.Second, cfg.Consensus.ProviderTimeout.Duration, "unset keys keep defaults")
	assert.Equal(t, 2, cfg.Consensus.MinQuorum)
	assert.Equal(t, 90*time.Second, cfg.Watcher.Interval.Duration)

	require.Len(t, cfg.Providers, 2)
	assert.Equal(t, "g-key", cfg.Providers[0].APIKey)
	assert.Equal(t, "gemini", cfg.Providers[0].Kind)
	assert.Equal(t, 2, cfg.Providers[0].MaxAttempts)
	assert.Equal(t, 4, cfg.Providers[1].MaxAttempts)
	assert.Equal(t, 20*time.Second, cfg.Providers[1].Timeout.Duration)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
}

func TestRedactedConfigDoesNotLeakOrAlias(t *testing.T) {
	cfg := validConfig()
	cfg.Postgres.Password = "pg"

	red := RedactedConfig(&cfg)
	assert.Equal(t, redacted, red.Wallet.PrivateKey)
	assert.Equal(t, redacted, red.Server.SharedSecret)
	assert.Equal(t, redacted, red.Postgres.Password)
	assert.Equal(t, "", red.Relay.APIKey, "empty secrets stay empty")
	for _, p := range red.Providers {
		assert.Equal(t, redacted, p.APIKey)
	}

	assert.Equal(t, "key-gemini", cfg.Providers[0].APIKey, "original untouched")
	red.Providers[0].Models[0] = "mutated"
	assert.NotEqual(t, "mutated", cfg.Providers[0].Models[0])
}
