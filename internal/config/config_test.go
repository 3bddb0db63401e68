package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	path := writeFile(t, `
chain:
  rpc_url: http://localhost:7546
  factory: "0x00000000000000000000000000000000000f0001"
indexer:
  retention: 48h
  chunk_size: 1000
  workers: 4
  schedule: "0 */5 * * * *"
nats:
  url: nats://a:4222, nats://b:4222 ,
redis:
  addr: localhost:6379
database:
  name: sqlite
  host: /tmp/snapshots.db
logging:
  format: json
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "http://localhost:7546", cfg.Chain.RPCURL)
	assert.Equal(t, common.HexToAddress("0xf0001"), cfg.FactoryAddress())
	assert.Equal(t, 48*time.Hour, cfg.Indexer.Retention)
	assert.Equal(t, "0 */5 * * * *", cfg.Indexer.Schedule)
	assert.Equal(t, []string{"nats://a:4222", "nats://b:4222"}, cfg.NATSURLs())
	assert.True(t, cfg.Database.SQLite())
	assert.Equal(t, "bondingcurve:run-lock", cfg.Redis.LockKey())

	// Keys absent from the file keep their defaults.
	def := Default()
	assert.Equal(t, def.Indexer.VolumeWindow, cfg.Indexer.VolumeWindow)
	assert.Equal(t, def.Prices.CoinID, cfg.Prices.CoinID)
	assert.Equal(t, def.HTTP.Addr, cfg.HTTP.Addr)

	ic := cfg.IndexerConfig()
	assert.Equal(t, 48*time.Hour, ic.Retention)
	assert.Equal(t, uint64(1000), ic.ChunkSize)
	assert.Equal(t, 4, ic.Workers)
	assert.Equal(t, uint8(18), ic.NativeDecimals)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = Load(writeFile(t, "indexer: [not, a, map]"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "no rpc", mutate: func(c *Config) { c.Chain.RPCURL = "" }, wantErr: "chain.rpc_url"},
		{name: "bad factory", mutate: func(c *Config) { c.Chain.Factory = "0x123" }, wantErr: "chain.factory"},
		{name: "negative workers", mutate: func(c *Config) { c.Indexer.Workers = -1 }, wantErr: "indexer.workers"},
		{name: "negative duration", mutate: func(c *Config) { c.Indexer.RunTimeout = -time.Second }, wantErr: "durations"},
		{name: "no database", mutate: func(c *Config) { c.Database.Name = "" }, wantErr: "database.name"},
		{name: "bad level", mutate: func(c *Config) { c.Logging.Level = "loud" }, wantErr: "logging.level"},
		{name: "bad format", mutate: func(c *Config) { c.Logging.Format = "xml" }, wantErr: "logging.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	LoggingConfig{Level: "warn", Format: "json"}.NewLogger(&buf, false).Info("hidden")
	assert.Empty(t, buf.String())

	LoggingConfig{Level: "warn", Format: "json"}.NewLogger(&buf, true).Debug("shown", "k", "v")
	assert.Contains(t, buf.String(), `"msg":"shown"`)
	assert.Contains(t, buf.String(), `"k":"v"`)

	buf.Reset()
	LoggingConfig{Level: "info", Format: "text"}.NewLogger(&buf, false).Info("plain")
	assert.Contains(t, buf.String(), "msg=plain")
}
