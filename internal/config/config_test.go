package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

const minimalConfig = `
accounts = ["mm-1"]

[pair]
base_asset = "TOKEN"
quote_asset = "USDC"

[[sources]]
name = "a"
kind = "quote"
url = "https://a.example"

[[sources]]
name = "b"
kind = "index"
url = "https://b.example"

[venue]
base_url = "https://venue.example"

[chain]
base_url = "https://chain.example"
`

func TestLoad_MergesOverDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig+`
[oracle]
cache_ttl = "7s"

[breaker]
loss_pct = 3.5
`))
	require.NoError(t, err)

	// Explicit values win.
	assert.Equal(t, 7*time.Second, cfg.Oracle.CacheTTL.Duration)
	assert.Equal(t, 3.5, cfg.Breaker.LossPct)

	// Untouched values keep their defaults.
	assert.Equal(t, 2, cfg.Oracle.MinSources)
	assert.Equal(t, 5*time.Minute, cfg.Breaker.CooldownPeriod.Duration)
	assert.Equal(t, 9, cfg.Pair.BaseDecimals)

	require.NoError(t, cfg.Validate())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("DEXMAKER_VENUE_API_KEY", "from-env")
	t.Setenv("DEXMAKER_BREAKER_LOSS_PCT", "7.5")
	t.Setenv("DEXMAKER_ACCOUNTS", "x-1, x-2")

	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Venue.APIKey)
	assert.Equal(t, 7.5, cfg.Breaker.LossPct)
	assert.Equal(t, []string{"x-1", "x-2"}, cfg.Accounts)
}

func TestValidate_RejectsMissingEssentials(t *testing.T) {
	cfg := Defaults()
	err := cfg.Validate()
	require.Error(t, err)

	msg := err.Error()
	assert.Contains(t, msg, "accounts")
	assert.Contains(t, msg, "sources")
}

func TestValidate_RejectsBadSourceKind(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig+`
[[sources]]
name = "c"
kind = "carrier-pigeon"
url = "https://c.example"
`))
	require.NoError(t, err)

	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "carrier-pigeon")
}

func TestValidate_RejectsBadRatios(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig+`
[quoting]
target_ratio = 1.5
`))
	require.NoError(t, err)
	assert.Error(t, cfg.Validate())
}

func TestDuration_UnmarshalText(t *testing.T) {
	var d duration
	require.NoError(t, d.UnmarshalText([]byte("90s")))
	assert.Equal(t, 90*time.Second, d.Duration)

	assert.Error(t, d.UnmarshalText([]byte("soon")))
}
