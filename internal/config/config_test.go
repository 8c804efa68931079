package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromEnv_Defaults(t *testing.T) {
	t.Setenv("APP_ENV", "dev")
	t.Setenv("LEDGER_NETWORK", "")
	t.Setenv("NARRATIVE_BACKEND", "")

	c, err := LoadFromEnv()
	require.NoError(t, err)

	assert.True(t, c.Dev())
	assert.Equal(t, ":8080", c.HTTP.Addr)
	assert.Equal(t, 10*time.Second, c.HTTP.ShutdownTimeout)
	assert.Equal(t, 3, c.Game.MaxViolations)
	assert.Equal(t, 2, c.Game.PublishAttempts)
	assert.Equal(t, "poseidon-bn254", c.Game.Algorithm)
	assert.Equal(t, "memory", c.Ledger.Network)
	assert.Equal(t, 12, c.Ledger.PollAttempts)
	assert.Equal(t, 500*time.Millisecond, c.Ledger.RetryBase)
	assert.Equal(t, "scripted", c.Narrative.Backend)
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	t.Setenv("APP_ENV", "dev")
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("GAME_COMMITMENT_ALGORITHM", "keccak256")
	t.Setenv("LEDGER_NETWORK", "rpc")
	t.Setenv("LEDGER_RPC_URL", "http://ledger:8545")
	t.Setenv("LEDGER_POLL_INTERVAL", "250ms")
	t.Setenv("NARRATIVE_BACKEND", "ollama")

	c, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, ":9090", c.HTTP.Addr)
	assert.Equal(t, "keccak256", c.Game.Algorithm)
	assert.Equal(t, "http://ledger:8545", c.Ledger.RPCURL)
	assert.Equal(t, 250*time.Millisecond, c.Ledger.PollInterval)
	assert.Equal(t, "ollama", c.Narrative.Backend)
}

func TestLoadFromEnv_BadDuration(t *testing.T) {
	t.Setenv("LEDGER_POLL_INTERVAL", "soon")
	_, err := LoadFromEnv()
	assert.Error(t, err)
}

func validDev(t *testing.T) Config {
	t.Helper()
	t.Setenv("APP_ENV", "dev")
	t.Setenv("LEDGER_NETWORK", "")
	t.Setenv("NARRATIVE_BACKEND", "")
	c, err := LoadFromEnv()
	require.NoError(t, err)
	return c
}

func TestValidate(t *testing.T) {
	base := validDev(t)

	cases := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid dev", mutate: func(c *Config) {}},
		{name: "empty addr", mutate: func(c *Config) { c.HTTP.Addr = "" }, wantErr: "HTTP_ADDR"},
		{name: "default secret in prod", mutate: func(c *Config) {
			c.Env = "prod"
			c.Postgres.URL = "postgres://x"
			c.Redis.Addr = "redis:6379"
			c.Ledger.Network = "rpc"
			c.Ledger.RPCURL = "http://ledger"
		}, wantErr: "JWT_SECRET"},
		{name: "memory ledger in prod", mutate: func(c *Config) {
			c.Env = "prod"
			c.Auth.Secret = "s3cret"
			c.Postgres.URL = "postgres://x"
			c.Redis.Addr = "redis:6379"
		}, wantErr: "in-process ledger"},
		{name: "prod without keys", mutate: func(c *Config) {
			c.Env = "prod"
			c.Auth.Secret = "s3cret"
			c.Postgres.URL = "postgres://x"
			c.Redis.Addr = "redis:6379"
			c.Ledger.Network = "rpc"
			c.Ledger.RPCURL = "http://ledger"
		}, wantErr: "ledger keys"},
		{name: "prod without stores", mutate: func(c *Config) {
			c.Env = "prod"
			c.Auth.Secret = "s3cret"
		}, wantErr: "DATABASE_URL"},
		{name: "bad log format", mutate: func(c *Config) { c.Log.Format = "xml" }, wantErr: "LOG_FORMAT"},
		{name: "bad log level", mutate: func(c *Config) { c.Log.Level = "loud" }, wantErr: "LOG_LEVEL"},
		{name: "migrations without db", mutate: func(c *Config) { c.Postgres.RunMigrations = true }, wantErr: "RUN_MIGRATIONS"},
		{name: "unknown algorithm", mutate: func(c *Config) { c.Game.Algorithm = "md5" }, wantErr: "GAME_COMMITMENT_ALGORITHM"},
		{name: "zero violations", mutate: func(c *Config) { c.Game.MaxViolations = 0 }, wantErr: "GAME_MAX_VIOLATIONS"},
		{name: "rpc without url", mutate: func(c *Config) { c.Ledger.Network = "rpc" }, wantErr: "LEDGER_RPC_URL"},
		{name: "unknown ledger", mutate: func(c *Config) { c.Ledger.Network = "carrier-pigeon" }, wantErr: "LEDGER_NETWORK"},
		{name: "zero poll interval", mutate: func(c *Config) { c.Ledger.PollInterval = 0 }, wantErr: "intervals"},
		{name: "openai without key", mutate: func(c *Config) { c.Narrative.Backend = "openai" }, wantErr: "OPENAI_API_KEY"},
		{name: "unknown backend", mutate: func(c *Config) { c.Narrative.Backend = "oracle" }, wantErr: "NARRATIVE_BACKEND"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := base
			tc.mutate(&c)
			err := c.Validate()
			if tc.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}
