package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("WATCHED_IDENTITIES", "Wallet1")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://api.devnet.solana.com", cfg.Solana.RPCURL)
	assert.Equal(t, "memory", cfg.Store.Backend)
	assert.Equal(t, 30*time.Second, cfg.Reconcile.Interval)
	assert.Equal(t, 100, cfg.Reconcile.FetchLimit)
	assert.Equal(t, []string{"Wallet1"}, cfg.Identities)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("WATCHED_IDENTITIES", "Wallet1, Wallet2,Wallet1")
	t.Setenv("SOLANA_RPC_URL", "https://rpc.example.com")
	t.Setenv("STORE_BACKEND", "redis")
	t.Setenv("RECONCILE_INTERVAL_SEC", "5")
	t.Setenv("RPC_RATE_LIMIT_RPS", "2.5")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://rpc.example.com", cfg.Solana.RPCURL)
	assert.Equal(t, "redis", cfg.Store.Backend)
	assert.Equal(t, 5*time.Second, cfg.Reconcile.Interval)
	assert.Equal(t, 2.5, cfg.Solana.RateLimitRPS)
	assert.Equal(t, []string{"Wallet1", "Wallet2"}, cfg.Identities, "identities deduplicate in order")
}

func TestLoadIdentitiesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identities.yaml")
	require.NoError(t, os.WriteFile(path, []byte("identities:\n  - Wallet2\n  - Wallet3\n"), 0o644))

	t.Setenv("WATCHED_IDENTITIES", "Wallet1,Wallet2")
	t.Setenv("IDENTITIES_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"Wallet1", "Wallet2", "Wallet3"}, cfg.Identities)
}

func TestLoadRejectsBadBackend(t *testing.T) {
	t.Setenv("WATCHED_IDENTITIES", "Wallet1")
	t.Setenv("STORE_BACKEND", "dynamo")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "STORE_BACKEND")
}

func TestLoadRequiresIdentities(t *testing.T) {
	t.Setenv("WATCHED_IDENTITIES", "")
	t.Setenv("IDENTITIES_FILE", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "identity")
}
