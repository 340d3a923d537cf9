package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vuittont60/scope/internal/domain"
	"github.com/vuittont60/scope/internal/solana"
)

const programID = "HFn8GnPADiny6XqUoWE8uRPPxb29ikn4yTuPa9MF2fWJ"

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_DefaultsAndEnv(t *testing.T) {
	t.Setenv("SCOPE_RPC", "http://node:8899")
	path := writeFile(t, "crank.yaml", `
rpc:
  endpoint: ${SCOPE_RPC}
program:
  program_id: `+programID+`
  keypair: admin.json
crank:
  interval: 2s
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://node:8899", cfg.RPC.Endpoint)
	assert.Equal(t, 2*time.Second, cfg.Crank.Interval.ToDuration())
	assert.Equal(t, 30*time.Second, cfg.RPC.Timeout.ToDuration())
	assert.Equal(t, domain.MaxRefreshListLen, cfg.Crank.ChunkSize)
	assert.Equal(t, "default", cfg.Program.Feed)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Empty(t, cfg.History.Database, "an unset database defers to the DSN path")
	require.NoError(t, Validate(cfg))

	pk, err := cfg.ProgramID()
	require.NoError(t, err)
	assert.Equal(t, programID, pk.String())
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeFile(t, "bad.yaml", "crank:\n  interval: soon\n"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := &Config{
			RPC:     RPCConfig{Endpoint: "http://localhost:8899"},
			Program: ProgramConfig{ProgramID: programID, Keypair: "admin.json"},
		}
		applyDefaults(cfg)
		return cfg
	}
	require.NoError(t, Validate(valid()))

	tests := []struct {
		name   string
		mutate func(*Config)
		want   error
	}{
		{"no endpoint", func(c *Config) { c.RPC.Endpoint = "" }, ErrEndpointRequired},
		{"no program", func(c *Config) { c.Program.ProgramID = "" }, ErrProgramIDRequired},
		{"bad program", func(c *Config) { c.Program.ProgramID = "0OIl" }, ErrInvalidProgramID},
		{"no keypair", func(c *Config) { c.Program.Keypair = "" }, ErrKeypairRequired},
		{"chunk too large", func(c *Config) { c.Crank.ChunkSize = domain.MaxRefreshListLen + 1 }, ErrInvalidChunkSize},
		{"negative interval", func(c *Config) { c.Crank.Interval = Duration(-time.Second) }, ErrInvalidInterval},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, ErrInvalidLogLevel},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }, ErrInvalidLogFormat},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := Validate(cfg)
			assert.True(t, errors.Is(err, tt.want), "got %v, want %v", err, tt.want)
		})
	}
}

func TestTokenList_RoundTrip(t *testing.T) {
	path := writeFile(t, "tokens.yaml", `
tokens:
  0:
    token_pair: SOL/USD
    oracle_mapping: `+programID+`
    oracle_type: pyth
  7:
    token_pair: STSOL/SOL
    oracle_mapping: 11111111111111111111111111111111
    oracle_type: spl_stake
`)

	list, err := LoadTokenList(path)
	require.NoError(t, err)
	require.Len(t, list.Tokens, 2)
	assert.Equal(t, solana.MustPubkey(programID), list.Tokens[0].OracleMapping)
	assert.Equal(t, domain.OracleTypeSplStake, list.Tokens[7].OracleType)
	assert.Equal(t, []uint16{0, 7}, list.Indices())

	out := filepath.Join(t.TempDir(), "saved.yaml")
	require.NoError(t, SaveTokenList(out, list))
	again, err := LoadTokenList(out)
	require.NoError(t, err)
	assert.Equal(t, list, again)
}

func TestTokenList_JSONAndValidation(t *testing.T) {
	list, err := LoadTokenList(writeFile(t, "tokens.json",
		`{"tokens": {"3": {"token_pair": "ETH/USD", "oracle_mapping": "`+programID+`", "oracle_type": "switchboard_v2"}}}`))
	require.NoError(t, err)
	assert.Equal(t, domain.OracleTypeSwitchboardV2, list.Tokens[3].OracleType)

	_, err = LoadTokenList(writeFile(t, "range.yaml", "tokens:\n  256:\n    oracle_type: pyth\n"))
	assert.ErrorIs(t, err, domain.ErrOutOfRange)

	_, err = LoadTokenList(writeFile(t, "type.yaml", "tokens:\n  1:\n    oracle_type: chainlink\n"))
	assert.Error(t, err)

	empty, err := LoadTokenList(writeFile(t, "empty.yaml", "{}\n"))
	require.NoError(t, err)
	assert.Empty(t, empty.Tokens)
}
