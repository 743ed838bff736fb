package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"mediagate/pkg/auth"
	"mediagate/pkg/storage"
	"mediagate/pkg/types"
	"mediagate/pkg/utils"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envPrefix = "MEDIAGATE"

// Config is the gateway configuration
type Config struct {
	ListenAddress      string        `mapstructure:"listen_address"`
	PublicURL          string        `mapstructure:"public_url"`
	HomeDatacenter     int           `mapstructure:"home_datacenter"`
	APIToken           string        `mapstructure:"api_token"`
	DialTimeout        time.Duration `mapstructure:"dial_timeout"`
	MetricsEnabled     bool          `mapstructure:"metrics_enabled"`
	CacheControlMaxAge int           `mapstructure:"cache_control_max_age"`

	Cache    CacheConfig     `mapstructure:"cache"`
	TLS      auth.AuthConfig `mapstructure:"tls"`
	Emulator EmulatorConfig  `mapstructure:"emulator"`

	// Filled from keys that need more than a plain decode
	Datacenters map[types.DatacenterID]string `mapstructure:"-"`
	ChunkSize   int64                         `mapstructure:"-"`
}

type CacheConfig struct {
	TTL           time.Duration `mapstructure:"ttl"`
	Size          int           `mapstructure:"size"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisDB       int           `mapstructure:"redis_db"`
	RedisPassword string        `mapstructure:"redis_password"`
}

// EmulatorConfig configures `mediagate datacenter` and `mediagate seed`
type EmulatorConfig struct {
	Bucket       string        `mapstructure:"bucket"`
	ClusterKey   string        `mapstructure:"cluster_key"`
	ReferenceTTL time.Duration `mapstructure:"reference_ttl"`
	FloodEvery   int64         `mapstructure:"flood_every"`
	FloodWait    time.Duration `mapstructure:"flood_wait"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen_address", ":8080")
	v.SetDefault("public_url", "")
	v.SetDefault("home_datacenter", 2)
	v.SetDefault("datacenters", "")
	v.SetDefault("api_token", "")
	v.SetDefault("chunk_size", "1MiB")
	v.SetDefault("dial_timeout", 10*time.Second)
	v.SetDefault("metrics_enabled", true)
	v.SetDefault("cache_control_max_age", 604800)

	v.SetDefault("cache.ttl", 30*time.Minute)
	v.SetDefault("cache.size", 4096)
	v.SetDefault("cache.redis_addr", "")
	v.SetDefault("cache.redis_db", 0)
	v.SetDefault("cache.redis_password", "")

	defaults := auth.DefaultAuthConfig()
	v.SetDefault("tls.enabled", defaults.Enabled)
	v.SetDefault("tls.ca_cert", "")
	v.SetDefault("tls.cert", "")
	v.SetDefault("tls.key", "")
	v.SetDefault("tls.client_ca", "")
	v.SetDefault("tls.require_client_auth", false)
	v.SetDefault("tls.server_name", "")
	v.SetDefault("tls.min_tls_version", defaults.MinTLSVersion)

	v.SetDefault("emulator.bucket", "mem://")
	v.SetDefault("emulator.cluster_key", "")
	v.SetDefault("emulator.reference_ttl", time.Hour)
	v.SetDefault("emulator.flood_every", 0)
	v.SetDefault("emulator.flood_wait", time.Second)
}

// GetConfigDir returns the directory searched for config.yaml when no
// explicit file is given
func GetConfigDir() string {
	if dir := os.Getenv("MEDIAGATE_CONFIG_DIR"); dir != "" {
		return dir
	}
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "mediagate")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".mediagate"
	}
	return filepath.Join(home, ".mediagate")
}

// Load reads the configuration from path (optional), a .env file in the
// working directory and MEDIAGATE_* environment variables, in increasing
// order of precedence.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			return nil, fmt.Errorf("failed to load .env: %w", err)
		}
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(GetConfigDir())
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	chunkSize, err := utils.ParseDataSize(v.GetString("chunk_size"))
	if err != nil {
		return nil, fmt.Errorf("invalid chunk_size: %w", err)
	}
	cfg.ChunkSize = chunkSize

	cfg.Datacenters, err = parseDatacenters(v.Get("datacenters"))
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}

// parseDatacenters accepts a map from a config file or a
// "2=host:port,4=host:port" string from the environment
func parseDatacenters(raw interface{}) (map[types.DatacenterID]string, error) {
	out := make(map[types.DatacenterID]string)

	add := func(key, addr string) error {
		id, err := strconv.Atoi(strings.TrimSpace(key))
		if err != nil || id <= 0 {
			return fmt.Errorf("invalid datacenter id %q", key)
		}
		addr = strings.TrimSpace(addr)
		if addr == "" {
			return fmt.Errorf("datacenter %d has no address", id)
		}
		out[types.DatacenterID(id)] = addr
		return nil
	}

	switch val := raw.(type) {
	case nil:
	case string:
		if strings.TrimSpace(val) == "" {
			break
		}
		for _, pair := range strings.Split(val, ",") {
			key, addr, ok := strings.Cut(pair, "=")
			if !ok {
				return nil, fmt.Errorf("invalid datacenter entry %q (expected id=address)", pair)
			}
			if err := add(key, addr); err != nil {
				return nil, err
			}
		}
	case map[string]interface{}:
		for key, addr := range val {
			if err := add(key, fmt.Sprint(addr)); err != nil {
				return nil, err
			}
		}
	case map[string]string:
		for key, addr := range val {
			if err := add(key, addr); err != nil {
				return nil, err
			}
		}
	default:
		return nil, fmt.Errorf("datacenters must be a map or a list of id=address, got %T", raw)
	}

	return out, nil
}

// Validate checks the settings the gateway cannot start without
func (c *Config) Validate() error {
	if c.ListenAddress == "" {
		return errors.New("listen_address is required")
	}
	if c.HomeDatacenter <= 0 {
		return fmt.Errorf("invalid home_datacenter %d", c.HomeDatacenter)
	}
	if _, ok := c.Datacenters[types.DatacenterID(c.HomeDatacenter)]; !ok {
		return fmt.Errorf("no address configured for home datacenter %d", c.HomeDatacenter)
	}
	if err := storage.ValidateChunkSize(c.ChunkSize); err != nil {
		return fmt.Errorf("invalid chunk_size: %w", err)
	}
	if c.Cache.Size <= 0 {
		return fmt.Errorf("cache.size must be positive, got %d", c.Cache.Size)
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be positive, got %s", c.Cache.TTL)
	}
	if c.CacheControlMaxAge < 0 {
		return errors.New("cache_control_max_age cannot be negative")
	}
	if err := c.TLS.Validate(); err != nil {
		return fmt.Errorf("invalid tls config: %w", err)
	}
	return nil
}

// DatacenterIDs returns the configured datacenters in ascending order
func (c *Config) DatacenterIDs() []types.DatacenterID {
	ids := make([]types.DatacenterID, 0, len(c.Datacenters))
	for id := range c.Datacenters {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func mask(secret string) string {
	if secret == "" {
		return "(empty)"
	}
	return "********"
}

// String renders the configuration with secrets masked
func (c *Config) String() string {
	var sb strings.Builder
	sb.WriteString("\n")
	sb.WriteString(fmt.Sprintf("  ListenAddress: %s\n", c.ListenAddress))
	sb.WriteString(fmt.Sprintf("  PublicURL: %s\n", c.PublicURL))
	sb.WriteString(fmt.Sprintf("  HomeDatacenter: %d\n", c.HomeDatacenter))
	for _, id := range c.DatacenterIDs() {
		sb.WriteString(fmt.Sprintf("  Datacenter %s: %s\n", id, c.Datacenters[id]))
	}
	sb.WriteString(fmt.Sprintf("  APIToken: %s\n", mask(c.APIToken)))
	sb.WriteString(fmt.Sprintf("  ChunkSize: %s\n", utils.FormatDataSize(c.ChunkSize)))
	sb.WriteString(fmt.Sprintf("  DialTimeout: %s\n", c.DialTimeout))
	sb.WriteString(fmt.Sprintf("  MetricsEnabled: %v\n", c.MetricsEnabled))
	sb.WriteString(fmt.Sprintf("  CacheControlMaxAge: %d\n", c.CacheControlMaxAge))

	sb.WriteString(fmt.Sprintf("  Cache.TTL: %s\n", c.Cache.TTL))
	sb.WriteString(fmt.Sprintf("  Cache.Size: %d\n", c.Cache.Size))
	sb.WriteString(fmt.Sprintf("  Cache.RedisAddr: %s\n", c.Cache.RedisAddr))
	sb.WriteString(fmt.Sprintf("  Cache.RedisDB: %d\n", c.Cache.RedisDB))
	sb.WriteString(fmt.Sprintf("  Cache.RedisPassword: %s\n", mask(c.Cache.RedisPassword)))

	sb.WriteString(fmt.Sprintf("  TLS.Enabled: %v\n", c.TLS.Enabled))
	if c.TLS.Enabled {
		sb.WriteString(fmt.Sprintf("  TLS.CACert: %s\n", c.TLS.CAPath))
		sb.WriteString(fmt.Sprintf("  TLS.Cert: %s\n", c.TLS.CertPath))
		sb.WriteString(fmt.Sprintf("  TLS.ServerName: %s\n", c.TLS.ServerName))
	}

	sb.WriteString(fmt.Sprintf("  Emulator.Bucket: %s\n", c.Emulator.Bucket))
	sb.WriteString(fmt.Sprintf("  Emulator.ClusterKey: %s\n", mask(c.Emulator.ClusterKey)))
	sb.WriteString(fmt.Sprintf("  Emulator.ReferenceTTL: %s\n", c.Emulator.ReferenceTTL))

	return sb.String()
}
