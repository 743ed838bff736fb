package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"mediagate/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("MEDIAGATE_CONFIG_DIR", t.TempDir())

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { os.Chdir(wd) })
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.ListenAddress)
	assert.Equal(t, 2, cfg.HomeDatacenter)
	assert.Equal(t, int64(1024*1024), cfg.ChunkSize)
	assert.Equal(t, 30*time.Minute, cfg.Cache.TTL)
	assert.Equal(t, 4096, cfg.Cache.Size)
	assert.Equal(t, 10*time.Second, cfg.DialTimeout)
	assert.True(t, cfg.MetricsEnabled)
	assert.Equal(t, 604800, cfg.CacheControlMaxAge)
	assert.Equal(t, "1.2", cfg.TLS.MinTLSVersion)
	assert.Equal(t, "mem://", cfg.Emulator.Bucket)
	assert.Empty(t, cfg.Datacenters)

	// No datacenter address for the home datacenter
	assert.Error(t, cfg.Validate())
}

func TestLoadFile(t *testing.T) {
	isolate(t)

	path := filepath.Join(t.TempDir(), "mediagate.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen_address: ":9000"
home_datacenter: 4
api_token: secret
chunk_size: 512KiB
datacenters:
  "2": "dc2.internal:7000"
  "4": "dc4.internal:7000"
cache:
  ttl: 5m
  size: 100
  redis_addr: "localhost:6379"
tls:
  enabled: false
`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ":9000", cfg.ListenAddress)
	assert.Equal(t, 4, cfg.HomeDatacenter)
	assert.Equal(t, "secret", cfg.APIToken)
	assert.Equal(t, int64(512*1024), cfg.ChunkSize)
	assert.Equal(t, 5*time.Minute, cfg.Cache.TTL)
	assert.Equal(t, 100, cfg.Cache.Size)
	assert.Equal(t, "localhost:6379", cfg.Cache.RedisAddr)
	assert.Equal(t, map[types.DatacenterID]string{
		2: "dc2.internal:7000",
		4: "dc4.internal:7000",
	}, cfg.Datacenters)
	assert.Equal(t, []types.DatacenterID{2, 4}, cfg.DatacenterIDs())
}

func TestLoadEnvironment(t *testing.T) {
	isolate(t)
	t.Setenv("MEDIAGATE_DATACENTERS", "2=localhost:7002, 4=localhost:7004")
	t.Setenv("MEDIAGATE_CHUNK_SIZE", "64KiB")
	t.Setenv("MEDIAGATE_CACHE_TTL", "90s")
	t.Setenv("MEDIAGATE_API_TOKEN", "from-env")

	cfg, err := Load("")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "localhost:7004", cfg.Datacenters[4])
	assert.Equal(t, int64(64*1024), cfg.ChunkSize)
	assert.Equal(t, 90*time.Second, cfg.Cache.TTL)
	assert.Equal(t, "from-env", cfg.APIToken)
}

func TestLoadDotEnv(t *testing.T) {
	isolate(t)
	require.NoError(t, os.WriteFile(".env", []byte("MEDIAGATE_LISTEN_ADDRESS=:7777\n"), 0644))
	t.Cleanup(func() { os.Unsetenv("MEDIAGATE_LISTEN_ADDRESS") })

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":7777", cfg.ListenAddress)
}

func TestLoadErrors(t *testing.T) {
	isolate(t)

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	t.Setenv("MEDIAGATE_CHUNK_SIZE", "lots")
	_, err = Load("")
	assert.Error(t, err)

	t.Setenv("MEDIAGATE_CHUNK_SIZE", "1MiB")
	t.Setenv("MEDIAGATE_DATACENTERS", "two=localhost:7002")
	_, err = Load("")
	assert.Error(t, err)

	t.Setenv("MEDIAGATE_DATACENTERS", "2")
	_, err = Load("")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			ListenAddress:  ":8080",
			HomeDatacenter: 2,
			Datacenters:    map[types.DatacenterID]string{2: "localhost:7002"},
			ChunkSize:      1024 * 1024,
			Cache:          CacheConfig{TTL: time.Minute, Size: 10},
		}
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no listen address", func(c *Config) { c.ListenAddress = "" }},
		{"no home datacenter", func(c *Config) { c.HomeDatacenter = 0 }},
		{"home not configured", func(c *Config) { c.HomeDatacenter = 4 }},
		{"chunk not power of two", func(c *Config) { c.ChunkSize = 100000 }},
		{"chunk too large", func(c *Config) { c.ChunkSize = 2 * 1024 * 1024 }},
		{"zero cache size", func(c *Config) { c.Cache.Size = 0 }},
		{"zero cache ttl", func(c *Config) { c.Cache.TTL = 0 }},
		{"negative max age", func(c *Config) { c.CacheControlMaxAge = -1 }},
		{"tls without ca", func(c *Config) { c.TLS.Enabled = true }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestStringMasksSecrets(t *testing.T) {
	cfg := &Config{
		APIToken: "super-secret-token",
		Cache:    CacheConfig{RedisPassword: "hunter2"},
		Emulator: EmulatorConfig{ClusterKey: "cluster-key-value"},
	}

	out := cfg.String()
	assert.NotContains(t, out, "super-secret-token")
	assert.NotContains(t, out, "hunter2")
	assert.NotContains(t, out, "cluster-key-value")
	assert.Contains(t, out, "APIToken: ********")
}
